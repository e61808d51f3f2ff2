package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/framecap/internal/capture"
	"github.com/udisondev/framecap/internal/config"
	"github.com/udisondev/framecap/internal/db"
	"github.com/udisondev/framecap/internal/ingest"
	"github.com/udisondev/framecap/internal/policy"
)

const ConfigPath = "config/capturesvc.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load config
	cfgPath := ConfigPath
	if p := os.Getenv("FRAMECAP_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadCaptureService(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Configure slog
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	slog.Info("framecap capture service starting",
		"version", cfg.GameVersion,
		"bind", cfg.Ingest.BindAddress,
		"port", cfg.Ingest.Port,
		"defer_zone_ipc", cfg.Capture.DeferZoneIPC)

	// Policies: database first (learned at runtime), YAML file as fallback
	filePolicies, err := policy.LoadFile(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("loading policies: %w", err)
	}

	var (
		provider policy.Provider = filePolicies
		sink     capture.Sink    = capture.NewLogSink()
	)

	if cfg.Database.Enabled {
		database, err := db.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer database.Close()
		slog.Info("database connected")

		if err := db.RunMigrations(ctx, cfg.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")

		provider = policy.Chain{Primary: database.Policies(), Fallback: filePolicies}
		sink = database.Captures()
	}

	pol, err := provider.Policy(ctx, cfg.GameVersion)
	if err != nil {
		return fmt.Errorf("resolving policy for %q: %w", cfg.GameVersion, err)
	}
	slog.Info("policy loaded",
		"version", pol.Version,
		"init_zone", fmt.Sprintf("0x%04X", pol.Opcodes.InitZone),
		"unknown_initializer", fmt.Sprintf("0x%04X", pol.Opcodes.UnknownInitializer),
		"obfuscated", len(pol.Opcodes.Obfuscated))

	sessions := capture.NewSessionManager(pol.Version, sink, cfg.Capture.WriterQueueSize)

	pipeline, err := capture.NewPipeline(capture.Options{
		Policy:       pol,
		DeferZoneIPC: cfg.Capture.DeferZoneIPC,
		ArenaSize:    cfg.Capture.BufferSize,
		Handler:      sessions,
		Diagnostics:  capture.NewNotifier(64),
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	server := ingest.NewServer(cfg.Ingest, pipeline)

	if err := serve(ctx, server, sessions, pipeline); err != nil {
		return err
	}

	stats := pipeline.Stats()
	slog.Info("capture service stopped",
		"frames_parsed", stats.FramesParsed,
		"frames_emitted", stats.FramesEmitted,
		"frames_dropped", stats.FramesDropped,
		"registered", stats.Registered,
		"resolved", stats.Resolved,
		"writer_dropped", sessions.Dropped())
	return nil
}

type runner interface {
	Run(ctx context.Context) error
}

// serve runs the ingest server until ctx is cancelled. The capture writer
// outlives it: it is stopped only after every host connection has finished
// dispatching and the pipeline is disabled, so late events still reach the sink.
func serve(ctx context.Context, server runner, writer runner, pipeline *capture.Pipeline) error {
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWriter()

	var w errgroup.Group
	w.Go(func() error {
		slog.Info("starting capture writer")
		if err := writer.Run(writerCtx); err != nil {
			return fmt.Errorf("capture writer: %w", err)
		}
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting ingest server")
		if err := server.Run(gctx); err != nil {
			return fmt.Errorf("ingest server: %w", err)
		}
		return nil
	})
	serverErr := g.Wait()

	pipeline.Disable()
	stopWriter()
	writerErr := w.Wait()

	if serverErr != nil {
		return fmt.Errorf("server error: %w", serverErr)
	}
	return writerErr
}
