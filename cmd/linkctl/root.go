package main

import (
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "linkctl",
		Short: "linkctl - DJ Link protocol engine",
		Long: `linkctl joins a DJ Link network as a virtual device, tracks the
devices it sees and takes part in tempo master arbitration.

Use "linkctl [command] --help" for more information about a command.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newDecodeCmd())
	return root
}
