package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/airtai/fastagency-sub000/pkg/callout"
	"github.com/airtai/fastagency-sub000/pkg/credentials"
	"github.com/airtai/fastagency-sub000/pkg/storage"
)

func runTokenCommand(args []string) error {
	if len(args) > 0 && args[0] == "list" {
		return runTokenListCommand(args[1:])
	}

	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config.yaml")
	deployment := fs.String("deployment", "", "deployment id the token authorizes")
	userID := fs.Int64("user-id", 0, "owning user id")
	name := fs.String("name", "", "label for the token")
	ttl := fs.Duration("ttl", 365*24*time.Hour, "token lifetime")
	thread := fs.String("thread", "", "also print a ready-to-use connect credential for this chat thread")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}
	if strings.TrimSpace(*deployment) == "" || *userID <= 0 {
		return withExitCode(errors.New("--deployment and --user-id are required"), 2)
	}
	if *ttl <= 0 {
		return withExitCode(errors.New("--ttl must be positive"), 2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	secret, err := credentials.GenerateSecret()
	if err != nil {
		return err
	}
	token, err := store.CreateAccessToken(context.Background(), *deployment, *userID, *name, secret, *ttl)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "token id:   %s\n", token.ID)
	fmt.Fprintf(stdout, "deployment: %s\n", token.DeploymentID)
	fmt.Fprintf(stdout, "expires:    %s\n", token.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(stdout, "secret:     %s\n", secret)
	fmt.Fprintln(stdout, "The secret is not stored and cannot be shown again.")

	if *thread != "" {
		cred, err := callout.Credential{DeploymentID: *deployment, Secret: secret, ThreadID: *thread}.Encode()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "auth_token: %s\n", cred)
	}
	return nil
}

func runTokenListCommand(args []string) error {
	fs := flag.NewFlagSet("token list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config.yaml")
	deployment := fs.String("deployment", "", "deployment id whose tokens to list")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}
	if strings.TrimSpace(*deployment) == "" {
		return withExitCode(errors.New("--deployment is required"), 2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	tokens, err := store.ListAccessTokens(context.Background(), *deployment)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		fmt.Fprintf(stdout, "no tokens for deployment %s\n", *deployment)
		return nil
	}

	now := time.Now()
	for _, tok := range tokens {
		state := "active"
		if !tok.ExpiresAt.After(now) {
			state = "expired"
		}
		fmt.Fprintf(stdout, "%s  user=%d  expires=%s  %s  %s\n",
			tok.ID, tok.UserID, tok.ExpiresAt.Format(time.RFC3339), state, tok.Name)
	}
	return nil
}
