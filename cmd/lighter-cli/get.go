package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <remote-key> [local-path]",
	Short: "Download an object",
	Long: `Download an object from the backend.

With no local path the file lands in the current directory under its
base name. Use "-" to stream to stdout.

Examples:
  lighter-cli get videos/movie.mp4
  lighter-cli get videos/movie.mp4 /tmp/movie.mp4
  lighter-cli get notes/todo.txt -`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runGet,
}

func runGet(_ *cobra.Command, args []string) error {
	remoteKey := args[0]
	localPath := ""
	if len(args) > 1 {
		localPath = args[1]
	}
	if localPath == "" {
		localPath = filepath.Base(remoteKey)
	}

	_, client, err := getClient()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	info, body, err := client.Get(ctx, remoteKey)
	if err != nil {
		_ = getFormatter().FormatError(os.Stderr, err)
		return &exitError{code: 1}
	}
	defer func() { _ = body.Close() }()

	var out io.Writer
	if localPath == "-" {
		out = os.Stdout
	} else {
		file, err := os.Create(filepath.Clean(localPath))
		if err != nil {
			return fmt.Errorf("create local file: %w", err)
		}
		defer func() { _ = file.Close() }()
		out = file
	}

	written, err := io.Copy(out, body)
	if err != nil {
		return fmt.Errorf("download %s: %w", remoteKey, err)
	}

	if !quiet && localPath != "-" {
		fmt.Printf("Downloaded: %s -> %s (%d bytes", remoteKey, localPath, written)
		if info.ETag != "" {
			fmt.Printf(", etag %s", info.ETag)
		}
		fmt.Println(")")
	}

	return nil
}
