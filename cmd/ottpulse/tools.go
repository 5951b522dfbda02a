package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/deusflow/ottpulse/internal/extract"
	"github.com/deusflow/ottpulse/internal/gemini"
	"github.com/deusflow/ottpulse/internal/scraper"
	"github.com/deusflow/ottpulse/internal/storage"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the persisted bot state and which backend holds it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Database URL: %s\n", maskPassword(cfg.DatabaseURL))
		}
		store := storage.Open(cmd.Context(), cfg.DatabaseURL, cfg.StateFilePath, cfg.SeenLinksCap)
		defer store.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(store.Stats())
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract <article-url>",
	Short: "Scrape one article and print the extracted metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		provider, err := newProvider(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if provider == nil {
			return errors.New("no extraction provider configured; set GEMINI_API_KEY or OPENAI_API_KEY")
		}
		if g, ok := provider.(*gemini.Client); ok {
			defer g.Close()
		}

		url := args[0]
		text, err := scraper.New(&http.Client{Timeout: cfg.RequestTimeout}).ExtractArticle(cmd.Context(), url)
		if err != nil {
			return err
		}
		ex, err := provider.Extract(cmd.Context(), extract.Request{Link: url, Text: text})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(ex)
	},
}

// maskPassword hides the middle of a connection string.
func maskPassword(dbURL string) string {
	if len(dbURL) > 50 {
		return dbURL[:30] + "***" + dbURL[len(dbURL)-20:]
	}
	return "***"
}
