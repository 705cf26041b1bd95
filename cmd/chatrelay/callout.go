package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/airtai/fastagency-sub000/pkg/bus"
	"github.com/airtai/fastagency-sub000/pkg/callout"
	"github.com/airtai/fastagency-sub000/pkg/credentials"
	"github.com/airtai/fastagency-sub000/pkg/storage"
)

func runCalloutCommand(args []string) error {
	fs := flag.NewFlagSet("callout", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateCallout(); err != nil {
		return withExitCode(err, 2)
	}

	issuer, err := callout.LoadIssuer(cfg.Callout.IssuerSeed)
	if err != nil {
		return withExitCode(err, 2)
	}
	xkey, err := callout.LoadXKey(cfg.Callout.XKeySeed)
	if err != nil {
		return withExitCode(err, 2)
	}

	logger := newLogger(cfg, "callout")
	stopTracing := startTracing(cfg, logger)
	defer stopTracing()

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	svc, err := callout.NewService(callout.Config{
		Account: cfg.Callout.Account,
		Stream:  cfg.NATS.Stream,
		UserTTL: cfg.Callout.UserTTL,
		Queue:   cfg.Callout.Queue,
	}, issuer, xkey, credentials.NewStore(store), logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	nc, err := bus.Connect(cfg.NATS, "chatrelay-callout")
	if err != nil {
		return err
	}
	defer nc.Close()

	return svc.Run(ctx, nc)
}
