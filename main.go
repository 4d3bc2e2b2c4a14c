package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"msgarchive/internal/config"
	"msgarchive/internal/logging"
	"msgarchive/internal/storage"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "msgarchive",
		Short: "Message archive server",
		Long:  "msgarchive stores imported text messages and serves them as conversation threads over HTTP.",
		// bare invocation starts the server
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MSGARCHIVE_CONFIG"),
		"path to config.json or config.yaml (default: ./config.json)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(importCmd())

	if err := root.Execute(); err != nil {
		slog.Error("msgarchive failed", "err", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and installs the logger it names.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.Init(cfg.BasicConfig.LogLevel)
	return cfg, logger, nil
}

// openStore opens the configured database and brings its schema up to date.
func openStore(cfg *config.Config) (*sql.DB, string, error) {
	driver, err := storage.Driver(cfg.BasicConfig.Database)
	if err != nil {
		return nil, "", err
	}
	db, err := storage.Open(driver, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, driver); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("migrate database: %w", err)
	}
	return db, driver, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			db, driver, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			logger.Info("schema up to date", "driver", driver)
			return nil
		},
	}
}
