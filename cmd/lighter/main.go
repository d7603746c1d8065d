package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quaydock/lighter/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "lighter",
	Short:   "Storage relay gateway for S3, WebDAV and local backends",
	Long: `Lighter is a storage relay gateway. It exposes a uniform REST API over
a set of configured storage backends (S3-compatible, WebDAV, local
filesystem) and relays multipart upload parts for clients whose direct
path to the backend is blocked.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFiles, _ := cmd.Flags().GetStringSlice("config")

		cfg, err := config.Load(configFiles, cmd.Flags())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		setupLogging(cfg.Log)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSlice("config", nil, "config file path (default: ./config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "HTTP server port (env: LIGHTER_SERVER_PORT)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error (env: LIGHTER_LOG_LEVEL)")
	rootCmd.PersistentFlags().String("resume-driver", "", "resume store driver: memory, sqlite, postgres (env: LIGHTER_RESUME_DRIVER)")
	rootCmd.PersistentFlags().String("resume-dsn", "", "resume store DSN (env: LIGHTER_RESUME_DSN)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
