package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/ottpulse/internal/app"
	"github.com/deusflow/ottpulse/internal/config"
	"github.com/deusflow/ottpulse/internal/logger"
	"github.com/deusflow/ottpulse/internal/metrics"
	"github.com/deusflow/ottpulse/internal/storage"
	"github.com/deusflow/ottpulse/internal/telegram"
)

func newBot(cfg *config.Config, store storage.Store, trigger func() error) (*telegram.Bot, error) {
	return telegram.New(telegram.Options{
		Token:          cfg.TelegramToken,
		ChatID:         cfg.TelegramChatID,
		Client:         &http.Client{Timeout: 90 * time.Second},
		AdminID:        cfg.AdminID,
		WelcomeMessage: cfg.WelcomeMessage,
		Audience:       store,
		Metrics:        metrics.Global,
		Trigger:        trigger,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireTelegram(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := storage.Open(ctx, cfg.DatabaseURL, cfg.StateFilePath, cfg.SeenLinksCap)
	defer store.Close()

	var digest *app.App
	bot, err := newBot(cfg, store, func() error { return digest.Trigger(ctx) })
	if err != nil {
		return err
	}

	p, err := newPipeline(ctx, cfg, store, bot, false, nil)
	if err != nil {
		return err
	}
	defer p.Close()
	digest = p.app

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           newMux(p.app, metrics.Global, p.limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return bot.Listen(gctx) })
	g.Go(func() error { return p.app.Schedule(gctx, cfg.DigestInterval, cfg.RunOnStart) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if saveErr := store.Save(context.Background()); saveErr != nil {
		logger.Warn("Failed to save state on shutdown", "error", saveErr)
	}
	logger.Info("ottpulse stopped")
	return err
}
