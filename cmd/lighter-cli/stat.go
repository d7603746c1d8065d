package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat <remote-key>",
	Short: "Show object metadata",
	Long: `Show metadata for a single object.

Examples:
  lighter-cli stat videos/movie.mp4
  lighter-cli stat --json notes/todo.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runStat,
}

func runStat(_ *cobra.Command, args []string) error {
	key := args[0]

	_, client, err := getClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	info, err := client.Head(ctx, key)
	if err != nil {
		_ = getFormatter().FormatError(os.Stderr, err)
		return &exitError{code: 1}
	}
	if info == nil {
		fmt.Fprintf(os.Stderr, "Not found: %s\n", key)
		return &exitError{code: 1}
	}

	return getFormatter().FormatStat(os.Stdout, info)
}
