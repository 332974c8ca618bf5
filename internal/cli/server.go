package cli

import (
	"context"

	"github.com/agentsh/shellgate/internal/logging"
	"github.com/agentsh/shellgate/internal/server"
	"github.com/spf13/cobra"
)

func newServerCmd(version string) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the shellgate server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := loadLocalConfig(configPath)
			if err != nil {
				return err
			}
			logger, closeLog, err := logging.Setup(cfg.Logging)
			if err != nil {
				return err
			}
			defer closeLog()

			s, err := server.New(cfg, version)
			if err != nil {
				return err
			}
			defer s.Close()

			logger.Info("shellgate server starting", "version", version, "addr", s.Addr(), "shell", cfg.Shell.Path, "gateway_path", cfg.Server.HTTP.GatewayPath)
			return s.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to server config YAML (default: $SHELLGATE_CONFIG, ./config.yml, ./config.yaml, or /etc/shellgate/config.yaml)")
	return cmd
}
