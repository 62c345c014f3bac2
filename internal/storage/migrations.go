package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS orders (
					external_id TEXT PRIMARY KEY,
					order_number TEXT,
					kind TEXT NOT NULL,
					parse_status TEXT NOT NULL,
					total TEXT NOT NULL,
					timestamp DATETIME NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_orders_timestamp ON orders(timestamp)`,
				`CREATE INDEX idx_orders_kind ON orders(kind)`,

				`CREATE TABLE IF NOT EXISTS order_items (
					order_external_id TEXT NOT NULL,
					ordinal INTEGER NOT NULL,
					name TEXT NOT NULL,
					unit_price TEXT NOT NULL,
					quantity INTEGER NOT NULL,
					PRIMARY KEY (order_external_id, ordinal),
					FOREIGN KEY (order_external_id) REFERENCES orders(external_id)
				)`,

				`CREATE TABLE IF NOT EXISTS transactions (
					key TEXT PRIMARY KEY,
					date DATETIME NOT NULL,
					description TEXT NOT NULL,
					account TEXT,
					amount TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,

				`CREATE TABLE IF NOT EXISTS item_rows (
					row_key TEXT PRIMARY KEY,
					txn_key TEXT NOT NULL,
					ordinal INTEGER NOT NULL,
					date DATETIME NOT NULL,
					description TEXT NOT NULL,
					account TEXT,
					order_ref TEXT,
					match_status TEXT NOT NULL,
					match_confidence INTEGER DEFAULT 0,
					amount TEXT NOT NULL,
					item_price TEXT,
					item_qty INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (txn_key) REFERENCES transactions(key)
				)`,
				`CREATE INDEX idx_item_rows_txn ON item_rows(txn_key)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Categorization decisions with audit columns",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS decisions (
					row_key TEXT PRIMARY KEY,
					category_id TEXT,
					previous_category TEXT,
					source TEXT NOT NULL,
					confidence INTEGER DEFAULT 0,
					needs_review INTEGER DEFAULT 0,
					review_reason TEXT,
					actor TEXT,
					decided_at DATETIME NOT NULL,
					FOREIGN KEY (row_key) REFERENCES item_rows(row_key)
				)`,
				`CREATE INDEX idx_decisions_category ON decisions(category_id)`,
				`CREATE INDEX idx_decisions_needs_review ON decisions(needs_review)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Rule configuration collections",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS categories (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					parent_id TEXT,
					description TEXT,
					monthly_budget TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,

				`CREATE TABLE IF NOT EXISTS merchant_rules (
					position INTEGER PRIMARY KEY AUTOINCREMENT,
					pattern TEXT UNIQUE NOT NULL,
					category_id TEXT NOT NULL,
					confidence INTEGER NOT NULL,
					note TEXT,
					source TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (category_id) REFERENCES categories(id)
				)`,

				`CREATE TABLE IF NOT EXISTS keyword_rules (
					position INTEGER PRIMARY KEY AUTOINCREMENT,
					word TEXT UNIQUE NOT NULL,
					category_id TEXT NOT NULL,
					priority INTEGER DEFAULT 0,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (category_id) REFERENCES categories(id)
				)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending schema migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	return nil
}
