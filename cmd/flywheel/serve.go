package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/config"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/logging"
	"github.com/joyshmitz/flywheel-gateway-sub010/pkg/embedded"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reservation API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(configPath))
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			logger := logging.New(logging.Options{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Writer: cmd.ErrOrStderr(),
			})

			srv, err := embedded.New(embedded.FromConfig(cfg, logger))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger.Info("flywheel starting", "addr", srv.Addr(), "keys_file", cfg.Auth.KeysFile)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default $FLYWHEEL_CONFIG or ./flywheel.yaml)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the config file")
	return cmd
}
