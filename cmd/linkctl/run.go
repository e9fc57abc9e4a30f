package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/prolink/internal/admin"
	"github.com/danmuck/prolink/internal/config"
	"github.com/danmuck/prolink/internal/directory"
	"github.com/danmuck/prolink/internal/dispatch"
	"github.com/danmuck/prolink/internal/logging"
	"github.com/danmuck/prolink/internal/observability"
	"github.com/danmuck/prolink/internal/participant"
	"github.com/danmuck/prolink/internal/protocol"
)

type runOptions struct {
	configPath string
	iface      string
	adminAddr  string
	watch      bool
	takeOver   bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join the network and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interface") {
				cfg.Interface = opts.iface
			}
			if cmd.Flags().Changed("admin") {
				cfg.Admin.Addr = opts.adminAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "config file (defaults apply when empty)")
	cmd.Flags().StringVarP(&opts.iface, "interface", "i", "", "network interface to join")
	cmd.Flags().StringVar(&opts.adminAddr, "admin", "", "admin HTTP listen address")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "log every received packet")
	cmd.Flags().BoolVar(&opts.takeOver, "take-over", false, "request tempo master once joined")
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(ctx context.Context, cfg config.Config, opts runOptions) error {
	observability.InitLogger("linkctl")
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		logging.SetLevel(lvl)
	}
	logger := log.Logger
	observability.RegisterMetrics()

	dir := directory.New(cfg.DeviceTimeout)
	disp := dispatch.New(logging.Component("dispatch"))
	if opts.watch {
		for _, port := range protocol.Ports {
			disp.Subscribe(port, dispatch.Wildcard, watchPacket(logger))
		}
	}

	p, err := participant.New(cfg.Participant, dir, disp)
	if err != nil {
		return err
	}
	if err := p.Start(ctx, cfg.Interface); err != nil {
		return fmt.Errorf("start participant: %w", err)
	}
	defer p.Stop()
	logger.Info().Uint8("number", p.DeviceNumber()).Msg("joined network")

	if opts.takeOver {
		if err := p.TakeOver(); err != nil {
			logger.Warn().Err(err).Msg("take over rejected")
		}
	}

	adminErr := make(chan error, 1)
	if cfg.Admin.Addr != "" {
		srv := admin.New(p, cfg.Admin.CorsOrigins, logging.Component("admin"))
		go func() { adminErr <- srv.Serve(ctx, cfg.Admin.Addr) }()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case <-p.Done():
	case err := <-adminErr:
		if err != nil {
			p.Stop()
			return fmt.Errorf("admin: %w", err)
		}
		<-ctx.Done()
	}
	p.Stop()
	return p.Err()
}

func watchPacket(logger zerolog.Logger) dispatch.Handler {
	return func(pkt *protocol.Packet) {
		logger.Info().
			Stringer("port", pkt.Port).
			Stringer("kind", pkt.Kind).
			Uint8("device", pkt.Device()).
			Interface("body", pkt.Body).
			Msg("packet")
	}
}
