// Package main runs the reporter: it captures audio from the configured
// input, streams it to the collector as a chunked upload, and serves the
// web interface for monitoring and control.
//
// Usage:
//
//	reporter [-config path/to/config.json]
//
// If -config is not specified, the reporter looks for config.json in the
// same directory as the binary.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"github.com/oszuidwest/zwfm-reporter/internal/audio"
	"github.com/oszuidwest/zwfm-reporter/internal/config"
	"github.com/oszuidwest/zwfm-reporter/internal/control"
	"github.com/oszuidwest/zwfm-reporter/internal/eventlog"
	"github.com/oszuidwest/zwfm-reporter/internal/notify"
	"github.com/oszuidwest/zwfm-reporter/internal/pipeline"
	"github.com/oszuidwest/zwfm-reporter/internal/server"
	"github.com/oszuidwest/zwfm-reporter/internal/streaming"
	"github.com/oszuidwest/zwfm-reporter/internal/types"
	"github.com/oszuidwest/zwfm-reporter/internal/util"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			os.Exit(1)
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", *configPath)

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ffmpegPath := util.ResolveFFmpegPath(cfg.GetFFmpegPath())
	if ffmpegPath == "" {
		slog.Warn("FFmpeg not found, device capture unavailable",
			"configured_path", cfg.GetFFmpegPath())
	} else {
		slog.Info("FFmpeg found", "path", ffmpegPath)
	}

	// Event log lives next to the config file, one file per instance.
	events, err := eventlog.NewLogger(eventlog.DefaultLogPath(cfg.Snapshot().WebPort))
	if err != nil {
		slog.Error("failed to open event log", "error", err)
		os.Exit(1)
	}

	notifier := notify.NewNotifier(cfg)

	// Capture reads the silence thresholds through a snapshot closure, so
	// settings changes apply without a session restart.
	source := audio.NewSource(cfg.AudioInput(), ffmpegPath)
	capture := audio.NewCapture(source, func() audio.SilenceConfig {
		snap := cfg.Snapshot()
		return audio.SilenceConfig{
			Threshold:  snap.SilenceThreshold,
			DurationMs: snap.SilenceDurationMs,
			RecoveryMs: snap.SilenceRecoveryMs,
		}
	}, func(ev audio.SilenceEvent) {
		notifier.HandleSilence(ev)
		logSilence(events, cfg, ev)
	})
	upload := streaming.NewUpload()

	bus := control.NewBus(control.DefaultBusCapacity)

	pipe := pipeline.New(func(ev pipeline.Event) {
		bus.Publish(control.StageEvent(ev))
	})
	if err := pipe.Register(control.TagCapture, capture); err != nil {
		slog.Error("failed to register capture stage", "error", err)
		os.Exit(1)
	}
	if err := pipe.Register(control.TagUpload, upload); err != nil {
		slog.Error("failed to register upload stage", "error", err)
		os.Exit(1)
	}
	if err := pipe.Link(control.TagCapture, control.TagUpload); err != nil {
		slog.Error("failed to link pipeline", "error", err)
		os.Exit(1)
	}

	var gain audio.Gain
	if runtime.GOOS == "linux" {
		gain = &audio.AmixerGain{}
	}

	ctrl := control.New(control.Options{
		Config:   cfg,
		Bus:      bus,
		Pipeline: pipe,
		Capture:  capture,
		Upload:   upload,
		Gain:     gain,
		Hooks:    control.MultiHooks{notifier, &eventHooks{events: events}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("control loop exited", "error", err)
		}
	}()

	commands := server.NewCommandHandler(cfg, ctrl, notifier, events)
	srv := NewServer(cfg, ctrl, commands)
	httpServer := srv.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, util.ShutdownSignals()...)
	<-sigChan

	slog.Info("shutting down")

	srv.version.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Unwind the control loop; it resets the pipeline before returning,
	// closing out any active session. The shutdown event is the graceful
	// path, cancellation the fallback when the bus is saturated.
	bus.Shutdown()
	cancel()
	select {
	case <-loopDone:
	case <-time.After(10 * time.Second):
		slog.Warn("control loop did not stop in time")
	}

	if err := events.Close(); err != nil {
		slog.Error("error closing event log", "error", err)
	}

	slog.Info("shutdown complete")
}

// logSilence records silence transitions in the event log. Only the two
// edges are logged, not every metering update.
func logSilence(events *eventlog.Logger, cfg *config.Config, ev audio.SilenceEvent) {
	snap := cfg.Snapshot()
	switch {
	case ev.JustEntered:
		logEvent(events.LogSilence(eventlog.SilenceStart, ev.CurrentLevel, snap.SilenceThreshold, 0))
	case ev.JustRecovered:
		logEvent(events.LogSilence(eventlog.SilenceEnd, ev.CurrentLevel, snap.SilenceThreshold, ev.TotalDurationMs))
	}
}

func logEvent(err error) {
	if err != nil {
		slog.Warn("event log write failed", "error", err)
	}
}

// eventHooks mirrors control loop transitions into the persistent event log.
type eventHooks struct {
	events *eventlog.Logger
}

func (h *eventHooks) SessionStarted(rec types.SessionRecord, endpoint string) {
	logEvent(h.events.LogSession(eventlog.SessionStart, rec.ID, endpoint, 0, rec.Result))
}

func (h *eventHooks) SessionEnded(rec types.SessionRecord) {
	logEvent(h.events.LogSession(eventlog.SessionStop, rec.ID, "", rec.Bytes, rec.Result))
}

func (h *eventHooks) StreamError(status pipeline.ErrorStatus) {
	logEvent(h.events.LogStream(eventlog.StreamError, string(status), false))
}

func (h *eventHooks) RecoveryPerformed(dirty bool) {
	logEvent(h.events.LogStream(eventlog.Recovery, "", dirty))
}

func (h *eventHooks) VolumeChanged(level int) {
	logEvent(h.events.LogVolume(level))
}
