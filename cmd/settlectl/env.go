package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polysettle/internal/client"
	"github.com/alanyoungcy/polysettle/internal/config"
	"github.com/alanyoungcy/polysettle/internal/crypto"
	"github.com/alanyoungcy/polysettle/internal/domain"
)

type globals struct {
	configPath string
	api        string
	key        string
	keyFile    string
}

// parseGlobal consumes flags up to the first command word.
func parseGlobal(args []string, stderr io.Writer) (globals, []string, error) {
	var g globals
	fs := flag.NewFlagSet("settlectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&g.configPath, "config", "", "TOML config file")
	fs.StringVar(&g.api, "api", "", "server base URL")
	fs.StringVar(&g.key, "key", "", "hex private key")
	fs.StringVar(&g.keyFile, "key-file", "", "encrypted key file")
	if err := fs.Parse(args); err != nil {
		return g, nil, err
	}
	return g, fs.Args(), nil
}

// env is what every server command needs.
type env struct {
	client *client.Client
	out    io.Writer
	errOut io.Writer
}

func (g globals) env(stdout, stderr io.Writer) (*env, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.api != "" {
		cfg.Client.APIURL = g.api
	}
	if g.key != "" {
		cfg.Key.PrivateKey = g.key
	}
	if g.keyFile != "" {
		cfg.Key.KeyFile = g.keyFile
	}

	// Read-only commands work without a key.
	var signer *crypto.Signer
	if cfg.Key.PrivateKey != "" || cfg.Key.KeyFile != "" {
		signer, err = crypto.LoadSigner(crypto.KeyConfig{
			PrivateKey: cfg.Key.PrivateKey,
			KeyFile:    cfg.Key.KeyFile,
			Password:   cfg.Key.Password,
		})
		if err != nil {
			return nil, err
		}
	}

	return &env{
		client: client.New(strings.TrimRight(cfg.Client.APIURL, "/"), signer),
		out:    stdout,
		errOut: stderr,
	}, nil
}

func (e *env) print(v any) error {
	return writeJSON(e.out, v)
}

func (e *env) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("settlectl "+name, flag.ContinueOnError)
	fs.SetOutput(e.errOut)
	return fs
}

func parseMarket(s string) (domain.Address, error) {
	if strings.TrimSpace(s) == "" {
		return domain.Address{}, errors.New("--market required")
	}
	return domain.ParseAddress(s)
}

// parseUser defaults to fallback when s is empty.
func parseUser(s string, fallback common.Address) (common.Address, error) {
	if strings.TrimSpace(s) == "" {
		if fallback == (common.Address{}) {
			return common.Address{}, errors.New("--user required without a signing key")
		}
		return fallback, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
