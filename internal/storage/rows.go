package storage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jmorrill/itemflow/internal/model"
)

// SaveTransactions upserts imported bank transactions keyed by their
// composite hash. Re-importing an overlapping statement is safe.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, txns []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transactions (key, date, description, account, amount)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare transaction insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, txn := range txns {
		key := txn.Key
		if key == "" {
			key = txn.GenerateKey()
		}
		if _, err := stmt.ExecContext(ctx,
			key, txn.Date, txn.Description, txn.Account, txn.Amount.StringFixed(2)); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", key, err)
		}
	}

	return tx.Commit()
}

// GetUnprocessedTransactions returns transactions that have produced no
// output rows yet. In production mode the matcher only runs over these.
func (s *SQLiteStorage) GetUnprocessedTransactions(ctx context.Context) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.key, t.date, t.description, t.account, t.amount
		FROM transactions t
		LEFT JOIN item_rows r ON r.txn_key = t.key
		WHERE r.row_key IS NULL
		ORDER BY t.date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

// GetAllTransactions returns every imported transaction, oldest first.
// Development mode reprocesses the full set.
func (s *SQLiteStorage) GetAllTransactions(ctx context.Context) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, date, description, account, amount
		FROM transactions ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTransactions(rows rowScanner) ([]model.Transaction, error) {
	var txns []model.Transaction
	for rows.Next() {
		var txn model.Transaction
		var amount string
		if err := rows.Scan(&txn.Key, &txn.Date, &txn.Description, &txn.Account, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount for transaction %s: %w", txn.Key, err)
		}
		txn.Amount = parsed
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// SaveItemRows upserts expanded output rows keyed by row identity, so
// replaying a match run converges to the same end state.
func (s *SQLiteStorage) SaveItemRows(ctx context.Context, itemRows []model.ExpandedItemRow) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO item_rows (row_key, txn_key, ordinal, date, description, account,
			order_ref, match_status, match_confidence, amount, item_price, item_qty)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(row_key) DO UPDATE SET
			description = excluded.description,
			order_ref = excluded.order_ref,
			match_status = excluded.match_status,
			match_confidence = excluded.match_confidence,
			item_price = excluded.item_price,
			item_qty = excluded.item_qty`)
	if err != nil {
		return fmt.Errorf("failed to prepare row upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range itemRows {
		if _, err := stmt.ExecContext(ctx,
			row.Key, row.TxnKey, row.Ordinal, row.Date, row.Description, row.Account,
			row.OrderRef, string(row.MatchStatus), row.Confidence,
			row.Amount.StringFixed(2), row.ItemPrice.StringFixed(2), row.ItemQty); err != nil {
			return fmt.Errorf("failed to upsert row %s: %w", row.Key, err)
		}
	}

	return tx.Commit()
}

// GetUncategorizedRows returns up to limit rows with no decision yet,
// oldest first. Rows already decided, including manually, never come
// back; this is what makes categorization runs resumable.
func (s *SQLiteStorage) GetUncategorizedRows(ctx context.Context, limit int) ([]model.ExpandedItemRow, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.row_key, r.txn_key, r.ordinal, r.date, r.description, r.account,
			r.order_ref, r.match_status, r.match_confidence, r.amount, r.item_price, r.item_qty
		FROM item_rows r
		LEFT JOIN decisions d ON d.row_key = r.row_key
		WHERE d.row_key IS NULL
		ORDER BY r.date, r.row_key
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query uncategorized rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.ExpandedItemRow
	for rows.Next() {
		var row model.ExpandedItemRow
		var status, amount, itemPrice string
		if err := rows.Scan(&row.Key, &row.TxnKey, &row.Ordinal, &row.Date, &row.Description,
			&row.Account, &row.OrderRef, &status, &row.Confidence, &amount, &itemPrice, &row.ItemQty); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row.MatchStatus = model.MatchStatus(status)
		if row.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt amount for row %s: %w", row.Key, err)
		}
		if row.ItemPrice, err = decimal.NewFromString(itemPrice); err != nil {
			return nil, fmt.Errorf("corrupt item price for row %s: %w", row.Key, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ClearMatchOutput deletes all expanded rows and their non-manual
// decisions. Development mode uses it before a full reprocess; manual
// decisions survive so re-matching never destroys human work.
func (s *SQLiteStorage) ClearMatchOutput(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM decisions WHERE source != 'manual'`); err != nil {
		return fmt.Errorf("failed to clear decisions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM item_rows WHERE row_key NOT IN (SELECT row_key FROM decisions)`); err != nil {
		return fmt.Errorf("failed to clear item rows: %w", err)
	}

	return tx.Commit()
}
