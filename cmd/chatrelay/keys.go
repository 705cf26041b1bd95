package main

import (
	"flag"
	"fmt"

	"github.com/airtai/fastagency-sub000/pkg/callout"
)

func runKeysCommand(args []string) error {
	fs := flag.NewFlagSet("keys", flag.ContinueOnError)
	fs.SetOutput(stderr)
	withXKey := fs.Bool("xkey", true, "also generate a curve key for encrypted callout traffic")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, 2)
	}

	keys, err := callout.GenerateKeys(*withXKey)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "# account public key (auth_callout.issuer in the server config): %s\n", keys.IssuerPublic)
	if keys.XKeyPublic != "" {
		fmt.Fprintf(stdout, "# curve public key (auth_callout.xkey in the server config): %s\n", keys.XKeyPublic)
	}
	fmt.Fprintln(stdout, "callout:")
	fmt.Fprintf(stdout, "  issuer_seed: %s\n", keys.IssuerSeed)
	if keys.XKeySeed != "" {
		fmt.Fprintf(stdout, "  xkey_seed: %s\n", keys.XKeySeed)
	}
	return nil
}
