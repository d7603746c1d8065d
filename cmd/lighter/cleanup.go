package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/config"
	"github.com/quaydock/lighter/resume"
	"github.com/quaydock/lighter/storage"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune stale resume records",
	Long: `Remove resume records that have not been touched recently.

Interrupted uploads leave a session record in the resume store so the next
attempt can continue where it stopped. Records abandoned for longer than
--older-than are considered dead: this command aborts their backend
multipart uploads best-effort (freeing the parts the backend still holds)
and then deletes the records.

Run this periodically, with --older-than matching the shortest part expiry
among your backends.`,
	RunE: runCleanup,
}

var cleanupAge time.Duration

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupAge, "older-than", 24*time.Hour, "delete records not updated within this duration")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	store, err := resume.Open(ctx, cfg.Resume)
	if err != nil {
		return fmt.Errorf("open resume store: %w", err)
	}
	defer func() { _ = store.Close() }()

	slog.Info("starting cleanup", "driver", cfg.Resume.Driver, "older_than", cleanupAge)

	stale, err := store.ListOlderThan(ctx, cleanupAge)
	if err != nil {
		return fmt.Errorf("list stale records: %w", err)
	}
	abortStaleSessions(ctx, cfg, stale)

	removed, err := store.DeleteOlderThan(ctx, cleanupAge)
	if err != nil {
		return fmt.Errorf("delete stale records: %w", err)
	}

	slog.Info("cleanup complete", "records_removed", removed)
	return nil
}

// abortStaleSessions tells each backend to drop the parts it still holds for
// stale sessions. Failures are logged and skipped: the backend will expire
// the upload on its own eventually, the record delete must happen anyway.
func abortStaleSessions(ctx context.Context, cfg *config.Config, stale []lighter.SessionRecord) {
	clients := make(map[string]lighter.StorageClient)
	for _, record := range stale {
		client, ok := clients[record.Key.StorageID]
		if !ok {
			storageCfg, configured := cfg.Storages[record.Key.StorageID]
			if !configured {
				slog.Warn("skipping abort for unknown storage", "storage", record.Key.StorageID, "path", record.Key.Path)
				continue
			}
			var err error
			client, err = storage.Open(storageCfg)
			if err != nil {
				slog.Warn("skipping abort, storage unavailable", "storage", record.Key.StorageID, "err", err)
				continue
			}
			clients[record.Key.StorageID] = client
		}

		err := client.AbortMultipart(ctx, record.Key.Path, record.Session.UploadID)
		if err != nil {
			slog.Warn("abort failed", "storage", record.Key.StorageID, "path", record.Key.Path, "err", err)
			continue
		}
		slog.Info("aborted stale upload", "storage", record.Key.StorageID, "path", record.Key.Path)
	}
}
