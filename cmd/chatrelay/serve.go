package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/airtai/fastagency-sub000/pkg/bus"
	"github.com/airtai/fastagency-sub000/pkg/ipc"
	"github.com/airtai/fastagency-sub000/pkg/relay"
	"github.com/airtai/fastagency-sub000/pkg/storage"
	"github.com/airtai/fastagency-sub000/pkg/subjects"
)

func runServeCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config.yaml")
	listen := fs.String("listen", "", "address for the HTTP/WebSocket gateway (overrides server.listen)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if err := cfg.ValidateServe(); err != nil {
		return withExitCode(err, 2)
	}

	logger := newLogger(cfg, "gateway")
	stopTracing := startTracing(cfg, logger)
	defer stopTracing()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	if store.Dialect() == storage.DialectSQLite {
		version, err := store.GetSchemaVersion()
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		logger.Info("storage ready", "driver", cfg.Storage.Driver, "schema_version", version)
	}

	if cfg.NATS.EnsureStream {
		if err := provisionStream(ctx, cfg.NATS); err != nil {
			return err
		}
		logger.Info("stream ready", "stream", cfg.NATS.Stream)
	}

	auth, err := ipc.NewAuthenticator(cfg.Server.JWTSecret)
	if err != nil {
		return withExitCode(err, 2)
	}

	hub := ipc.NewHub()
	rel := relay.New(cfg.Relay, bus.NewNATSDialer(cfg.NATS), store, hub, newLogger(cfg, "relay"))
	server := ipc.NewServer(ipc.Config{
		BindAddress:     cfg.Server.Listen,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, hub, rel, store, store.DB(), auth, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := shutdownContext(cfg)
		defer cancel()
		return rel.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func provisionStream(ctx context.Context, cfg bus.Config) error {
	nc, err := bus.Connect(cfg, "chatrelay-provision")
	if err != nil {
		return err
	}
	defer nc.Close()
	return bus.EnsureStream(ctx, nc, cfg.Stream, subjects.ClientStreamSubjects())
}
