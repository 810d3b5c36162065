package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/app"
	"github.com/OpenNSW/pipeline/internal/config"
	"github.com/OpenNSW/pipeline/internal/database"
	"github.com/OpenNSW/pipeline/internal/logging"
)

var (
	configFile string
	outputFmt  string
)

var rootCmd = &cobra.Command{
	Use:   "pipelinectl",
	Short: "Administer pipeline definitions and entity states",
	Long: `pipelinectl runs maintenance tasks against the pipeline database.

It reads the same configuration as the server: an optional YAML file given
with --config (or CONFIG_FILE) overridden by environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(staleCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Setup(cfg.Log)
	return cfg, nil
}

// openApp connects to the configured database and wires the engine.
// The returned function closes the connection.
func openApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.New(&cfg.Database, cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	closeDB := func(db *gorm.DB) func() {
		return func() {
			if err := database.Close(db); err != nil {
				slog.Error("failed to close database", "error", err)
			}
		}
	}(db)

	a, err := app.New(ctx, cfg, db, nil)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return a, closeDB, nil
}
