package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quaydock/lighter"
)

var mvRename bool

var mvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "Move or rename an object or folder",
	Long: `Move an object or folder into a destination directory, or rename it
in place with --rename.

Backends without server-side move fall back to copy-then-delete; a move
that fails partway leaves already-moved entries at the destination and
reports the rest.

Examples:
  lighter-cli mv report.pdf archive/
  lighter-cli mv photos/2025/ backup/
  lighter-cli mv --rename photos/2025/ 2025-archive`,
	Args: cobra.ExactArgs(2),
	RunE: runMv,
}

func init() {
	mvCmd.Flags().BoolVar(&mvRename, "rename", false, "treat destination as a new name instead of a directory")
}

func runMv(_ *cobra.Command, args []string) error {
	src, dest := args[0], args[1]

	_, client, err := getClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	folder := lighter.NewFolder(client)

	var res lighter.BulkResult
	var verb string
	if mvRename {
		verb = "Renamed"
		res, err = folder.Rename(ctx, src, dest)
	} else {
		verb = "Moved"
		res, err = folder.Move(ctx, src, strings.TrimSuffix(dest, "/"))
	}
	if err != nil {
		_ = getFormatter().FormatError(os.Stderr, err)
		return &exitError{code: 1}
	}

	if err := getFormatter().FormatBulk(os.Stdout, verb, res); err != nil {
		return err
	}
	if res.Failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}
