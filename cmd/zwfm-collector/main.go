// Package main runs the collector service that receives chunked audio
// streams from reporters and persists them as raw PCM recordings, with
// optional archival to S3-compatible storage.
//
// Usage:
//
//	zwfm-collector [-test-s3]
//
// Configuration comes from environment variables; a .env file in the
// working directory is loaded automatically.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/collector"
	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

func main() {
	testS3 := flag.Bool("test-s3", false, "Test S3 connectivity and exit")
	flag.Parse()

	cfg, err := collector.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if *testS3 {
		if err := collector.TestS3Connection(cfg); err != nil {
			slog.Error("S3 connection test failed", "error", err)
			os.Exit(1)
		}
		slog.Info("S3 connection test succeeded", "bucket", cfg.S3Bucket)
		return
	}

	storage, err := collector.NewStorage(cfg.RecordingsDir)
	if err != nil {
		slog.Error("failed to prepare recordings directory", "error", err)
		os.Exit(1)
	}

	uploader := collector.NewUploader(cfg, storage)
	if uploader != nil {
		uploader.Start()
	}

	cleaner := collector.NewCleaner(cfg, storage)
	if cleaner != nil {
		cleaner.Start()
	}

	srv := collector.NewServer(cfg, storage, uploader)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("collector listening",
			"port", cfg.Port,
			"recordings_dir", cfg.RecordingsDir,
			"storage_mode", cfg.StorageMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if cleaner != nil {
		cleaner.Stop()
	}
	if uploader != nil {
		uploader.Stop()
	}

	slog.Info("shutdown complete")
}
