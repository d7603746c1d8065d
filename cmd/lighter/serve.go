package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quaydock/lighter/config"
	"github.com/quaydock/lighter/keystore"
	"github.com/quaydock/lighter/metrics"
	"github.com/quaydock/lighter/relay"
	"github.com/quaydock/lighter/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	Long:  `Start the Lighter gateway HTTP server.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	if len(cfg.Storages) == 0 {
		return fmt.Errorf("no storages configured")
	}

	registry := relay.NewRegistry()
	for id, storageCfg := range cfg.Storages {
		client, err := storage.Open(storageCfg)
		if err != nil {
			return fmt.Errorf("open storage %q: %w", id, err)
		}
		if err := registry.Add(id, client); err != nil {
			return fmt.Errorf("register storage %q: %w", id, err)
		}
		slog.Info("registered storage", "id", id, "kind", storageCfg.Kind)
	}

	var keys keystore.Store
	if cfg.Auth.Enabled {
		keys, err = keystore.New(cfg.Auth.Keys)
		if err != nil {
			return fmt.Errorf("load api keys: %w", err)
		}
	} else {
		slog.Warn("api key auth disabled, gateway is public")
	}

	m := metrics.New()
	tm := metrics.NewTransferMetrics(m.Registry())

	handlerConfig := relay.HandlerConfig{
		Keys:            keys,
		CORS:            cfg.CORS,
		Metrics:         m,
		TransferMetrics: tm,
		ChunkSize:       cfg.Transfer.ChunkSize,
		DirectWorkers:   cfg.Transfer.DirectWorkers,
		ProxyWorkers:    cfg.Transfer.ProxyWorkers,
	}

	handler := relay.NewHandler(&handlerConfig, registry)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "err", err)
		}
		cancel()
	}()

	slog.Info("starting server", "addr", addr, "storages", len(cfg.Storages))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
