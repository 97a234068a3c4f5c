package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"finboard/internal/util"
	"finboard/pkg/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := util.InitLogger(cfg.LogLevel)
		if cfg.UsesMemoryStore() {
			return errors.New("migrate needs a database URL, not the in-memory store")
		}
		db, err := store.NewGormStore(cfg.DatabaseURL, store.WithReusePolicy(cfg.ReusePolicy()))
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		defer db.Close()
		if err := db.Ping(cmd.Context()); err != nil {
			return err
		}
		logger.Info("schema up to date")
		return nil
	},
}
