package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jmorrill/itemflow/internal/common"
	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/service"
)

// GetDecision returns the decision for a row, or ErrNotFound.
func (s *SQLiteStorage) GetDecision(ctx context.Context, rowKey string) (*model.CategorizationDecision, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(rowKey, "rowKey"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT row_key, category_id, previous_category, source, confidence,
			needs_review, review_reason, actor, decided_at
		FROM decisions WHERE row_key = ?`, rowKey)

	var d model.CategorizationDecision
	var source string
	err := row.Scan(&d.RowKey, &d.CategoryID, &d.PreviousCategory, &source,
		&d.Confidence, &d.NeedsReview, &d.ReviewReason, &d.Actor, &d.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: decision for row %s", common.ErrNotFound, rowKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	d.Source = model.DecisionSource(source)
	return &d, nil
}

// WriteDecisions applies a batch of decisions idempotently, keyed by
// row identity: applying the same update list twice yields the same
// final state as once. Rows whose current decision is manual are
// skipped silently; a decision naming an unknown category fails that
// single update without losing the rest of the batch. When a decision
// replaces an earlier one with a different category or source, the
// earlier category is kept as previous_category.
func (s *SQLiteStorage) WriteDecisions(ctx context.Context, decisions []model.CategorizationDecision) (service.WriteResult, error) {
	result := service.WriteResult{}
	if err := validateContext(ctx); err != nil {
		return result, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range decisions {
		applied, err := s.writeDecisionTx(ctx, tx, d)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("row %s: %w", d.RowKey, err))
			continue
		}
		if applied {
			result.Applied++
		} else {
			result.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit decisions: %w", err)
	}
	return result, nil
}

func (s *SQLiteStorage) writeDecisionTx(ctx context.Context, tx *sql.Tx, d model.CategorizationDecision) (bool, error) {
	if d.RowKey == "" {
		return false, fmt.Errorf("decision with empty row key")
	}

	// Unflagged decisions must name a real category; flagged-for-review
	// decisions may carry an empty one (fallback rejected its answer).
	if d.CategoryID != "" {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM categories WHERE id = ?`, d.CategoryID).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("failed to check category: %w", err)
		}
		if exists == 0 {
			return false, fmt.Errorf("%w: %q", common.ErrUnknownCategory, d.CategoryID)
		}
	} else if !d.NeedsReview {
		return false, fmt.Errorf("decision with no category must be flagged for review")
	}

	var currentCategory, currentSource string
	err := tx.QueryRowContext(ctx,
		`SELECT category_id, source FROM decisions WHERE row_key = ?`, d.RowKey).
		Scan(&currentCategory, &currentSource)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First decision for this row.
	case err != nil:
		return false, fmt.Errorf("failed to read current decision: %w", err)
	case currentSource == string(model.SourceManual) && d.Source != model.SourceManual:
		// Manual decisions are protected; skipping is not an error.
		return false, nil
	case currentCategory == d.CategoryID && currentSource == string(d.Source):
		// Replaying the same update list must leave the row untouched,
		// otherwise previous_category collapses onto the row's own value.
		return false, nil
	default:
		d.PreviousCategory = currentCategory
	}

	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decisions (row_key, category_id, previous_category, source,
			confidence, needs_review, review_reason, actor, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(row_key) DO UPDATE SET
			category_id = excluded.category_id,
			previous_category = excluded.previous_category,
			source = excluded.source,
			confidence = excluded.confidence,
			needs_review = excluded.needs_review,
			review_reason = excluded.review_reason,
			actor = excluded.actor,
			decided_at = excluded.decided_at`,
		d.RowKey, d.CategoryID, d.PreviousCategory, string(d.Source),
		d.Confidence, d.NeedsReview, d.ReviewReason, d.Actor, d.DecidedAt)
	if err != nil {
		return false, fmt.Errorf("failed to upsert decision: %w", err)
	}
	return true, nil
}

// GetExportRecords returns output rows dated within the range paired
// with their decisions. Rows without a decision export with an empty
// category so gaps stay visible.
func (s *SQLiteStorage) GetExportRecords(ctx context.Context, start, end time.Time) ([]service.ExportRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.row_key, r.txn_key, r.ordinal, r.date, r.description, r.account,
			r.order_ref, r.match_status, r.match_confidence, r.amount, r.item_price, r.item_qty,
			d.category_id, d.previous_category, d.source, d.confidence,
			d.needs_review, d.review_reason, d.actor, d.decided_at
		FROM item_rows r
		LEFT JOIN decisions d ON d.row_key = r.row_key
		WHERE r.date >= ? AND r.date <= ?
		ORDER BY r.date, r.row_key`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query export records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []service.ExportRecord
	for rows.Next() {
		var rec service.ExportRecord
		var status, amount, itemPrice string
		var categoryID, previousCategory, source, reviewReason, actor sql.NullString
		var confidence sql.NullInt64
		var needsReview sql.NullBool
		var decidedAt sql.NullTime

		if err := rows.Scan(&rec.Row.Key, &rec.Row.TxnKey, &rec.Row.Ordinal, &rec.Row.Date,
			&rec.Row.Description, &rec.Row.Account, &rec.Row.OrderRef, &status,
			&rec.Row.Confidence, &amount, &itemPrice, &rec.Row.ItemQty,
			&categoryID, &previousCategory, &source, &confidence,
			&needsReview, &reviewReason, &actor, &decidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan export record: %w", err)
		}

		rec.Row.MatchStatus = model.MatchStatus(status)
		if rec.Row.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt amount for row %s: %w", rec.Row.Key, err)
		}
		if rec.Row.ItemPrice, err = decimal.NewFromString(itemPrice); err != nil {
			return nil, fmt.Errorf("corrupt item price for row %s: %w", rec.Row.Key, err)
		}

		if source.Valid {
			rec.Decision = &model.CategorizationDecision{
				RowKey:           rec.Row.Key,
				CategoryID:       categoryID.String,
				PreviousCategory: previousCategory.String,
				Source:           model.DecisionSource(source.String),
				Confidence:       int(confidence.Int64),
				NeedsReview:      needsReview.Bool,
				ReviewReason:     reviewReason.String,
				Actor:            actor.String,
				DecidedAt:        decidedAt.Time,
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
