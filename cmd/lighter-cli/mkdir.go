package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <remote-path>",
	Short: "Create a folder",
	Long: `Create a folder on the backend.

Examples:
  lighter-cli mkdir photos/2026
  lighter-cli mkdir projects/lighter/docs`,
	Args: cobra.ExactArgs(1),
	RunE: runMkdir,
}

func runMkdir(_ *cobra.Command, args []string) error {
	path := args[0]

	_, client, err := getClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.CreateFolder(ctx, path); err != nil {
		_ = getFormatter().FormatError(os.Stderr, err)
		return &exitError{code: 1}
	}

	if !quiet {
		fmt.Printf("Created folder: %s\n", path)
	}
	return nil
}
