package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/airtai/fastagency-sub000/pkg/config"
	"github.com/airtai/fastagency-sub000/pkg/observability"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	os.Exit(dispatchSubcommand(os.Args[1:]))
}

func dispatchSubcommand(args []string) int {
	if len(args) == 0 {
		printHelp()
		return 2
	}
	switch args[0] {
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "chatrelay %s (%s)\n", version, commit)
		return 0
	case "--help", "-h", "help":
		printHelp()
		return 0
	case "serve":
		return runCommand(runServeCommand, args[1:])
	case "callout":
		return runCommand(runCalloutCommand, args[1:])
	case "keys":
		return runCommand(runKeysCommand, args[1:])
	case "token":
		return runCommand(runTokenCommand, args[1:])
	default:
		if strings.HasPrefix(args[0], "-") {
			fmt.Fprintf(stderr, "Error: unknown flag: %s\n", args[0])
		} else {
			fmt.Fprintf(stderr, "Error: unknown command: %s\n", args[0])
		}
		fmt.Fprintln(stderr, "Run 'chatrelay --help' for usage.")
		return 1
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

func printHelp() {
	fmt.Fprint(stdout, `chatrelay relays browser chat turns to agent deployments over NATS.

Usage:
  chatrelay serve   [--config path] [--listen addr]    run the gateway and relay
  chatrelay callout [--config path]                    run the NATS auth callout
  chatrelay keys    [--xkey=false]                     generate callout signing keys
  chatrelay token   --deployment id --user-id n        provision a deployment access token
  chatrelay token list --deployment id                 list a deployment's access tokens
  chatrelay version

Configuration is read from ~/.chatrelay/config.yaml and ./.chatrelay/config.yaml
unless --config is given. CHATRELAY_* and NATS_URL environment variables win.
`)
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if strings.TrimSpace(path) != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, withExitCode(err, 2)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, component string) *observability.Logger {
	return observability.NewLogger(component, observability.ParseLevel(cfg.Logging.Level))
}

// startTracing installs the stdout exporter when tracing is enabled. The
// returned func is always safe to call.
func startTracing(cfg *config.Config, logger *observability.Logger) func() {
	if !cfg.Tracing.Enabled {
		return func() {}
	}
	tp, err := observability.NewTracerProvider(cfg.Tracing.ServiceName, version)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		return func() {}
	}
	return func() {
		ctx, cancel := shutdownContext(cfg)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}
}
