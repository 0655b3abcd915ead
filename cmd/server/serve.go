package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"receiv3/internal/platform/config"
	"receiv3/internal/platform/httpserver"
	"receiv3/internal/platform/logger"
)

func newServeCmd() *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Serve the invoice registry, funding pool engine, role and asset endpoints. Configuration is read from the environment.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return httpserver.Serve(gctx, httpserver.New(cfg.Addr, a.handler), grace)
			})
			if a.relay != nil {
				g.Go(func() error { return a.relay.Run(gctx) })
			}

			log.InfoContext(ctx, "receiv3 listening",
				"addr", cfg.Addr,
				"store", string(cfg.Store),
				"ledger", string(cfg.Ledger),
				"outbox_relay", a.relay != nil,
			)
			if err := g.Wait(); err != nil {
				return err
			}
			log.Info("receiv3 stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "shutdown-grace", 10*time.Second, "time allowed for in-flight requests on shutdown")
	return cmd
}
