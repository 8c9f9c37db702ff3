// Command token issues bearer tokens for the relay. Accounts are managed
// elsewhere; this is the operator's way to mint a token for a username the
// server already knows (see SEED_USERS).
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/lalith-99/accord/internal/auth"
	"github.com/lalith-99/accord/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadTokenConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var (
		username string
		scope    []string
	)
	flagSet := pflag.NewFlagSet("accord-token", pflag.ContinueOnError)
	flagSet.StringVarP(&username, "username", "u", "", "username the token is issued for (required)")
	flagSet.StringSliceVar(&scope, "scope", nil, "scopes to embed in the token")
	flagSet.StringVar(&cfg.JWTSecret, "secret", cfg.JWTSecret, "HMAC signing secret (default $JWT_SECRET)")
	flagSet.StringVar(&cfg.JWTIssuer, "issuer", cfg.JWTIssuer, "token issuer")
	flagSet.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "token lifetime")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if username == "" {
		return errors.New("--username is required")
	}
	if cfg.JWTSecret == "" {
		return errors.New("no signing secret: set JWT_SECRET or pass --secret")
	}

	token, err := auth.GenerateToken(username, scope, cfg.JWTSecret, cfg.JWTIssuer, cfg.TTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
