package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alanyoungcy/polysettle/internal/client"
	"github.com/alanyoungcy/polysettle/internal/crypto"
	"github.com/alanyoungcy/polysettle/internal/domain"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func keygenCmd(stdout io.Writer) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{
		"private_key": key,
		"address":     signer.Address(),
	})
}

func encryptKeyCmd(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("settlectl encrypt-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	key := fs.String("key", "", "hex private key (generated when empty)")
	out := fs.String("out", "", "key file path")
	password := fs.String("password", "", "encryption password (env: POLYSETTLE_KEY_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*out) == "" {
		return errors.New("--out required")
	}
	if *password == "" {
		*password = os.Getenv("POLYSETTLE_KEY_PASSWORD")
	}
	if *password == "" {
		return errors.New("--password required")
	}
	if *key == "" {
		k, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		*key = k
	}

	addr, err := crypto.WriteKeyFile(*out, strings.TrimPrefix(*key, "0x"), *password)
	if err != nil {
		return err
	}
	return writeJSON(stdout, map[string]any{"address": addr, "key_file": *out})
}

func healthCmd(ctx context.Context, e *env) error {
	resp, err := e.client.Health(ctx)
	if err != nil {
		return err
	}
	return e.print(resp)
}

func oracleCmd(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("oracle subcommand required: register|get|publish|price")
	}
	fs := e.flags("oracle " + args[0])
	ref := fs.String("ref", "", "price reference, e.g. SOL/USD")
	addr := fs.String("address", "", "binding address")
	value := fs.Int64("value", 0, "price mantissa")
	expo := fs.Int("expo", 0, "price exponent")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	switch args[0] {
	case "register":
		if *ref == "" {
			return errors.New("--ref required")
		}
		b, err := e.client.RegisterOracle(ctx, *ref)
		if err != nil {
			return err
		}
		return e.print(b)
	case "get":
		a, err := domain.ParseAddress(*addr)
		if err != nil {
			return err
		}
		b, err := e.client.GetOracle(ctx, a)
		if err != nil {
			return err
		}
		return e.print(b)
	case "publish":
		if *ref == "" {
			return errors.New("--ref required")
		}
		p, err := e.client.PublishPrice(ctx, *ref, *value, int32(*expo))
		if err != nil {
			return err
		}
		return e.print(p)
	case "price":
		if *ref == "" {
			return errors.New("--ref required")
		}
		p, err := e.client.GetPrice(ctx, *ref)
		if err != nil {
			return err
		}
		return e.print(p)
	default:
		return fmt.Errorf("unknown oracle subcommand: %s", args[0])
	}
}

func marketCmd(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("market subcommand required: create|get|resolve|withdraw-fee")
	}
	fs := e.flags("market " + args[0])
	symbol := fs.String("symbol", "", "market symbol")
	oracle := fs.String("oracle", "", "oracle binding address")
	duration := fs.Duration("duration", 0, "betting window, e.g. 1h")
	market := fs.String("market", "", "market address")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	if args[0] == "create" {
		if *symbol == "" {
			return errors.New("--symbol required")
		}
		o, err := domain.ParseAddress(*oracle)
		if err != nil {
			return err
		}
		m, err := e.client.CreateMarket(ctx, *symbol, o, *duration)
		if err != nil {
			return err
		}
		return e.print(m)
	}

	m, err := parseMarket(*market)
	if err != nil {
		return err
	}
	var out any
	switch args[0] {
	case "get":
		out, err = e.client.GetMarket(ctx, m)
	case "resolve":
		out, err = e.client.ResolveMarket(ctx, m)
	case "withdraw-fee":
		out, err = e.client.WithdrawFee(ctx, m)
	default:
		return fmt.Errorf("unknown market subcommand: %s", args[0])
	}
	if err != nil {
		return err
	}
	return e.print(out)
}

func positionCmd(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("position subcommand required: enroll|get|bet|claim")
	}
	fs := e.flags("position " + args[0])
	market := fs.String("market", "", "market address")
	user := fs.String("user", "", "bettor (defaults to the signing address)")
	amount := fs.Uint64("amount", 0, "bet amount in base units")
	side := fs.String("outcome", "", "yes or no")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	m, err := parseMarket(*market)
	if err != nil {
		return err
	}

	var out any
	switch args[0] {
	case "enroll":
		out, err = e.client.EnrollPosition(ctx, m)
	case "get":
		u, perr := parseUser(*user, e.client.Caller())
		if perr != nil {
			return perr
		}
		out, err = e.client.GetPosition(ctx, m, u)
	case "bet":
		o, perr := domain.ParseOutcome(*side)
		if perr != nil {
			return perr
		}
		out, err = e.client.PlaceBet(ctx, m, *amount, o)
	case "claim":
		out, err = e.client.ClaimWinnings(ctx, m)
	default:
		return fmt.Errorf("unknown position subcommand: %s", args[0])
	}
	if err != nil {
		return err
	}
	return e.print(out)
}

func accountCmd(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("account subcommand required: fund|balance")
	}
	fs := e.flags("account " + args[0])
	owner := fs.String("owner", "", "account (defaults to the signing address)")
	amount := fs.Uint64("amount", 0, "amount in base units")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	o, err := parseUser(*owner, e.client.Caller())
	if err != nil {
		return err
	}

	var bal uint64
	switch args[0] {
	case "fund":
		bal, err = e.client.Fund(ctx, o, *amount)
	case "balance":
		bal, err = e.client.Balance(ctx, o)
	default:
		return fmt.Errorf("unknown account subcommand: %s", args[0])
	}
	if err != nil {
		return err
	}
	return e.print(map[string]any{"owner": o, "balance": bal})
}

func quoteCmd(ctx context.Context, e *env, args []string) error {
	fs := e.flags("quote")
	amount := fs.Uint64("amount", 0, "bet amount in base units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	q, err := e.client.Quote(ctx, *amount)
	if err != nil {
		return err
	}
	return e.print(q)
}

func addressCmd(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("address subcommand required: oracle|market|position")
	}
	fs := e.flags("address " + args[0])
	owner := fs.String("owner", "", "owner or authority (defaults to the signing address)")
	ref := fs.String("ref", "", "price reference")
	symbol := fs.String("symbol", "", "market symbol")
	market := fs.String("market", "", "market address")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	o, err := parseUser(*owner, e.client.Caller())
	if err != nil {
		return err
	}

	var a domain.Address
	switch args[0] {
	case "oracle":
		a, err = e.client.OracleAddress(ctx, o, *ref)
	case "market":
		a, err = e.client.MarketAddress(ctx, o, *symbol)
	case "position":
		m, perr := parseMarket(*market)
		if perr != nil {
			return perr
		}
		a, err = e.client.PositionAddress(ctx, m, o)
	default:
		return fmt.Errorf("unknown address subcommand: %s", args[0])
	}
	if err != nil {
		return err
	}
	return e.print(map[string]any{"address": a})
}

func auditCmd(ctx context.Context, e *env, args []string) error {
	fs := e.flags("audit")
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "entries to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}
	page, err := e.client.Audit(ctx, *limit, *offset)
	if err != nil {
		return err
	}
	return e.print(page)
}

func archiveCmd(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("archive subcommand required: list|get")
	}
	fs := e.flags("archive " + args[0])
	month := fs.String("month", "", "resolution month, e.g. 2026-03")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	switch args[0] {
	case "list":
		months, err := e.client.ListArchives(ctx)
		if err != nil {
			return err
		}
		return e.print(map[string]any{"months": months})
	case "get":
		if *month == "" {
			return errors.New("--month required")
		}
		markets, err := e.client.ReadArchive(ctx, *month)
		if err != nil {
			return err
		}
		return e.print(map[string]any{"month": *month, "markets": markets})
	default:
		return fmt.Errorf("unknown archive subcommand: %s", args[0])
	}
}

func watchCmd(ctx context.Context, e *env, args []string) error {
	fs := e.flags("watch")
	channels := fs.String("channels", "ch:settlement", "comma-separated channels, e.g. ch:market:*")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var subs []string
	for _, c := range strings.Split(*channels, ",") {
		if c = strings.TrimSpace(c); c != "" {
			subs = append(subs, c)
		}
	}
	enc := json.NewEncoder(e.out)
	return e.client.Watch(ctx, subs, func(f client.Frame) {
		_ = enc.Encode(f)
	})
}
