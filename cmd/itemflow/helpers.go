package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/jmorrill/itemflow/internal/config"
	"github.com/jmorrill/itemflow/internal/storage"
)

// initStorage opens the database and brings the schema up to date.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/itemflow/itemflow.db"
	}
	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}
