package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter config file",
	Long: `Write a commented starter config file. The default path is
./config.yaml; pass a path argument to write elsewhere. Refuses to
overwrite an existing file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

const starterConfig = `server:
  port: 8647

log:
  env: dev
  level: info

# API key auth for the gateway. Disabled means the API is public.
auth:
  enabled: false
  keys:
    inline: []
    # file: /etc/lighter/keys.json

cors:
  enabled: false
  allowed_origins: []

# Where resume records for interrupted uploads live.
resume:
  driver: memory
  # driver: sqlite
  # dsn: lighter-resume.db

transfer:
  chunk_size: 16777216
  direct_workers: 5
  proxy_workers: 3

# Storage backends exposed by the gateway, keyed by id.
storages:
  local:
    kind: fs
    endpoint: ./data
  # media:
  #   kind: s3
  #   endpoint: http://localhost:9000
  #   region: us-east-1
  #   access_id: minioadmin
  #   secret: minioadmin
  #   bucket: media
  # nas:
  #   kind: webdav
  #   endpoint: https://nas.local/dav
  #   access_id: alice
  #   secret: hunter2
  #   base_path: team
`

func runInit(cmd *cobra.Command, args []string) error {
	path := "config.yaml"
	if len(args) == 1 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if err := os.WriteFile(path, []byte(starterConfig), 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	fmt.Printf("Wrote starter config to %s\n", path)
	return nil
}
