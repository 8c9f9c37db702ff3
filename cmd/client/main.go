// Command client is the terminal chat client.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/lalith-99/accord/internal/client"
	"github.com/lalith-99/accord/internal/config"
	"github.com/lalith-99/accord/internal/observ"
	"github.com/lalith-99/accord/internal/tui"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var coalesceSystem bool
	flagSet := pflag.NewFlagSet("accord", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.ServerURL, "url", cfg.ServerURL, "websocket endpoint")
	flagSet.StringVarP(&cfg.Token, "token", "t", cfg.Token, "bearer token (default $ACCORD_TOKEN)")
	flagSet.StringVarP(&cfg.Username, "username", "u", cfg.Username, "display name; the server's name for the token wins")
	flagSet.StringVarP(&cfg.ChannelID, "channel", "c", cfg.ChannelID, "channel id; empty joins the default channel")
	flagSet.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "file to write logs to")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flagSet.IntVar(&cfg.HistorySize, "history", cfg.HistorySize, "number of messages kept on screen")
	flagSet.BoolVar(&coalesceSystem, "coalesce-system", false, "merge repeated system messages too")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if cfg.Token == "" {
		return errors.New("no token: set ACCORD_TOKEN or pass --token")
	}

	var channelID *uuid.UUID
	if cfg.ChannelID != "" {
		id, err := uuid.Parse(cfg.ChannelID)
		if err != nil {
			return fmt.Errorf("invalid channel id %q: %w", cfg.ChannelID, err)
		}
		channelID = &id
	}

	// The TUI owns the terminal, so logs go to a file.
	logger, err := observ.NewLogger("development", cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := client.NewWebSocketDialer()
	newSession := func() *client.Session {
		return client.NewSession(client.Config{
			URL:       cfg.ServerURL,
			Token:     cfg.Token,
			Username:  cfg.Username,
			ChannelID: channelID,
		}, dialer, logger)
	}

	model := tui.New(ctx, newSession, tui.Options{
		MessageMaxLength: cfg.MessageMaxLength,
		History:          cfg.HistorySize,
		CoalesceSystem:   coalesceSystem,
	}, logger)

	logger.Info("starting client", zap.String("url", cfg.ServerURL))
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}
