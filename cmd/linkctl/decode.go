package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danmuck/prolink/internal/protocol"
)

type decodedPacket struct {
	Port   string        `json:"port"`
	Kind   string        `json:"kind"`
	Device uint8         `json:"device"`
	Length int           `json:"length"`
	Body   protocol.Body `json:"body"`
}

func newDecodeCmd() *cobra.Command {
	var port uint16
	cmd := &cobra.Command{
		Use:   "decode <hex bytes>...",
		Short: "Decode one captured packet and print it as JSON",
		Long: `Decode one captured packet. Hex may be split across arguments and may
contain spaces, colons or a 0x prefix.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := parseHex(strings.Join(args, ""))
			if err != nil {
				return err
			}
			pkt, err := protocol.Decode(raw, protocol.Port(port))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(decodedPacket{
				Port:   pkt.Port.String(),
				Kind:   pkt.Kind.String(),
				Device: pkt.Device(),
				Length: len(pkt.Raw),
				Body:   pkt.Body,
			})
		},
	}
	cmd.Flags().Uint16VarP(&port, "port", "p", uint16(protocol.PortBeat), "port the packet arrived on")
	return cmd
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "", "0x", "", "0X", "").Replace(s)
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return raw, nil
}
