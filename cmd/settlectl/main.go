// Command settlectl drives a polysettle server from the shell. Every
// transition is signed with the configured secp256k1 key; results are
// printed as JSON.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "settlectl: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `settlectl [global flags] <command> [flags]

Global Flags:
  -config     TOML file with [key] and [client] sections (env: POLYSETTLE_*)
  -api        server base URL (overrides client.api_url)
  -key        hex private key (overrides key.private_key)
  -key-file   encrypted key file (overrides key.key_file)

Commands:
  keygen          print a fresh private key and its address
  encrypt-key     write a private key to an encrypted key file
  whoami          print the signing address
  health          dependency health report
  oracle          register|get|publish|price
  market          create|get|resolve|withdraw-fee
  position        enroll|get|bet|claim
  account         fund|balance
  quote           preview shares for an amount
  address         oracle|market|position
  audit           list audit entries
  archive         list|get archived settlements
  watch           stream events from the websocket feed
`)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	g, rest, err := parseGlobal(args, stderr)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		usage(stderr)
		return errors.New("missing command")
	}

	cmd, sub := rest[0], rest[1:]
	switch cmd {
	case "keygen":
		return keygenCmd(stdout)
	case "encrypt-key":
		return encryptKeyCmd(sub, stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	}

	e, err := g.env(stdout, stderr)
	if err != nil {
		return err
	}
	switch cmd {
	case "whoami":
		return e.print(map[string]any{"address": e.client.Caller()})
	case "health":
		return healthCmd(ctx, e)
	case "oracle":
		return oracleCmd(ctx, e, sub)
	case "market":
		return marketCmd(ctx, e, sub)
	case "position":
		return positionCmd(ctx, e, sub)
	case "account":
		return accountCmd(ctx, e, sub)
	case "quote":
		return quoteCmd(ctx, e, sub)
	case "address":
		return addressCmd(ctx, e, sub)
	case "audit":
		return auditCmd(ctx, e, sub)
	case "archive":
		return archiveCmd(ctx, e, sub)
	case "watch":
		return watchCmd(ctx, e, sub)
	default:
		usage(stderr)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}
