package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/deusflow/ottpulse/internal/config"
	"github.com/deusflow/ottpulse/internal/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagEnvFile string
	flagDry     bool
)

var rootCmd = &cobra.Command{
	Use:               "ottpulse",
	Short:             "Weekly OTT digest bot for Telegram",
	Long:              "ottpulse collects OTT release news from RSS feeds, enriches it with an LLM and posts a weekly digest to a Telegram group.",
	SilenceUsage:      true,
	PersistentPreRunE: loadEnvFile,
	RunE:              runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, the Telegram bot and the HTTP endpoints",
	RunE:  runServe,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single digest cycle and exit",
	RunE:  runOnce,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ottpulse %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	onceCmd.Flags().BoolVar(&flagDry, "dry", false, "print the digest instead of sending it; links are not marked as seen")

	rootCmd.AddCommand(serveCmd, onceCmd, versionCmd, stateCmd, extractCmd)
}

func loadEnvFile(cmd *cobra.Command, args []string) error {
	if flagEnvFile == "" {
		return nil
	}
	if err := godotenv.Load(flagEnvFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", flagEnvFile, err)
	}
	return nil
}

// loadConfig reads the environment and sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	logger.Init(cfg != nil && cfg.Debug)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("ottpulse failed", "error", err)
		os.Exit(1)
	}
}
