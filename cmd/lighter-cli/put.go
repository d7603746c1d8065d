package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/cli"
	"github.com/quaydock/lighter/resume"
	"github.com/quaydock/lighter/transfer"
)

var (
	putContentType string
	putChunkSize   int64
	putYes         bool
	putFresh       bool
)

var putCmd = &cobra.Command{
	Use:   "put <local-path> <remote-key>",
	Short: "Upload a file",
	Long: `Upload a local file to the backend.

Files larger than one chunk upload as a resumable multipart transfer:
an interrupted upload leaves a session record behind, and the next put
of the same file continues from the last finished part after a
confirmation prompt.

Examples:
  lighter-cli put ./movie.mp4 videos/movie.mp4
  lighter-cli put --chunk-size 33554432 backup.tar archives/backup.tar
  lighter-cli put --fresh broken.iso images/broken.iso`,
	Args: cobra.ExactArgs(2),
	RunE: runPut,
}

func init() {
	putCmd.Flags().StringVarP(&putContentType, "content-type", "t", "", "override content-type")
	putCmd.Flags().Int64Var(&putChunkSize, "chunk-size", 0, "multipart chunk size in bytes")
	putCmd.Flags().BoolVarP(&putYes, "yes", "y", false, "resume interrupted uploads without asking")
	putCmd.Flags().BoolVar(&putFresh, "fresh", false, "discard any interrupted upload and start over")
}

func runPut(_ *cobra.Command, args []string) error {
	localPath := args[0]
	remoteKey := args[1]

	profile, client, err := getClient()
	if err != nil {
		return err
	}

	file, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", localPath)
	}

	contentType := putContentType
	if contentType == "" {
		contentType = cli.DetectContentType(localPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openResumeStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	opts := []transfer.Option{
		transfer.WithConfirm(confirmResume),
	}
	if putChunkSize > 0 {
		opts = append(opts, transfer.WithChunkSize(putChunkSize))
	}
	if !jsonOutput && !quiet {
		opts = append(opts, transfer.WithProgress(printProgress))
	}

	uploader, err := transfer.New(profile.Name, client, store, opts...)
	if err != nil {
		return fmt.Errorf("create uploader: %w", err)
	}

	if putFresh {
		if err := uploader.Abort(ctx, remoteKey, info.Size()); err != nil {
			return fmt.Errorf("discard previous upload: %w", err)
		}
	}

	result, err := uploader.Upload(ctx, transfer.Request{
		Key:         remoteKey,
		FileName:    filepath.Base(localPath),
		ContentType: contentType,
		Content:     file,
		Size:        info.Size(),
	})
	if !jsonOutput && !quiet {
		fmt.Println() // end the progress line
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Upload interrupted; run the same put again to resume.")
			return &exitError{code: 130}
		}
		_ = getFormatter().FormatError(os.Stderr, err)
		return &exitError{code: 1}
	}

	return getFormatter().FormatUpload(os.Stdout, result)
}

// openResumeStore opens the per-user SQLite resume store.
func openResumeStore(ctx context.Context) (lighter.SessionStore, error) {
	dir, err := cli.DataDir()
	if err != nil {
		return nil, err
	}
	store, err := resume.Open(ctx, resume.Config{
		Driver: resume.DriverSQLite,
		DSN:    filepath.Join(dir, "resume.db"),
	})
	if err != nil {
		return nil, fmt.Errorf("open resume store: %w", err)
	}
	return store, nil
}

// confirmResume asks before continuing an interrupted upload.
func confirmResume(rec lighter.SessionRecord) bool {
	if putYes {
		return true
	}
	done := len(rec.Session.CompletedParts)
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("Found an interrupted upload of %s (%d part(s) done). Resume it", rec.FileName, done),
		IsConfirm: true,
	}
	_, err := prompt.Run()
	return err == nil
}

// printProgress renders a single-line progress bar.
func printProgress(p transfer.Progress) {
	if p.TotalBytes <= 0 {
		return
	}
	const width = 30
	frac := float64(p.BytesDone) / float64(p.TotalBytes)
	if frac > 1 {
		frac = 1
	}
	filled := int(frac * width)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", width-filled)
	fmt.Printf("\r[%s] %5.1f%%  %s  %s/s", bar, frac*100, p.Strategy, formatRate(p.Speed))
}

func formatRate(bytesPerSec float64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
	)
	switch {
	case bytesPerSec >= mb:
		return fmt.Sprintf("%.1f MB", bytesPerSec/mb)
	case bytesPerSec >= kb:
		return fmt.Sprintf("%.1f KB", bytesPerSec/kb)
	default:
		return fmt.Sprintf("%.0f B", bytesPerSec)
	}
}
