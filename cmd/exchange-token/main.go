// Command exchange-token trades an OAuth authorization code for tokens,
// for either external system. One-time setup: store the printed refresh
// token in the environment afterwards.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"posbridge/internal/config"
	"posbridge/internal/token"
)

func main() {
	cfg := config.FromEnv()
	system := flag.String("system", "lightspeed", "which system to exchange for: clover|lightspeed")
	code := flag.String("code", "", "authorization code from the OAuth redirect")
	redirectURI := flag.String("redirect-uri", "", "redirect URI registered with the app")
	flag.Parse()

	if *code == "" {
		fmt.Fprintln(os.Stderr, "usage: exchange-token -system clover|lightspeed -code CODE [-redirect-uri URI]")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var tcfg token.Config
	switch *system {
	case "clover":
		tcfg = token.Config{
			Name:         "clover",
			TokenURL:     cfg.CloverTokenURL,
			ClientID:     cfg.CloverAppID,
			ClientSecret: cfg.CloverAppSecret,
		}
	case "lightspeed":
		tcfg = token.Config{
			Name:         "lightspeed",
			TokenURL:     cfg.LightspeedTokenURL,
			ClientID:     cfg.LightspeedClientID,
			ClientSecret: cfg.LightspeedClientSecret,
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown system %q\n", *system)
		os.Exit(2)
	}

	m, err := token.NewManager(tcfg, nil, nil, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := m.ExchangeCode(ctx, *code, *redirectURI)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(resp)
}
