package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deusflow/ottpulse/internal/app"
	"github.com/deusflow/ottpulse/internal/storage"
)

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !flagDry {
		if err := cfg.RequireTelegram(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := storage.Open(ctx, cfg.DatabaseURL, cfg.StateFilePath, cfg.SeenLinksCap)
	defer store.Close()

	var sender app.Sender
	if !flagDry {
		bot, err := newBot(cfg, store, nil)
		if err != nil {
			return err
		}
		sender = bot
	}

	p, err := newPipeline(ctx, cfg, store, sender, flagDry, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.app.RunCycle(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "run %s: fetched %d, fresh %d, degraded %d, picks %d, delivered %v in %s\n",
		report.RunID, report.Fetched, report.Fresh, report.Degraded, report.Picks, report.Delivered, report.Duration)
	return nil
}
