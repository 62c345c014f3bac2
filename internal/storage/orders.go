package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/service"
)

// SaveOrders inserts parsed order records, ignoring external IDs seen
// before. Records are immutable once ingested; re-importing the same
// file is a no-op.
func (s *SQLiteStorage) SaveOrders(ctx context.Context, orders []model.ParsedOrderRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	orderStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO orders (external_id, order_number, kind, parse_status, total, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare order insert: %w", err)
	}
	defer func() { _ = orderStmt.Close() }()

	itemStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO order_items (order_external_id, ordinal, name, unit_price, quantity)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer func() { _ = itemStmt.Close() }()

	for _, order := range orders {
		if order.ExternalID == "" {
			return fmt.Errorf("order with empty external id")
		}

		result, err := orderStmt.ExecContext(ctx,
			order.ExternalID, order.OrderNumber, string(order.Kind),
			string(order.ParseStatus), order.Total.StringFixed(2), order.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert order %s: %w", order.ExternalID, err)
		}

		inserted, err := result.RowsAffected()
		if err != nil || inserted == 0 {
			continue
		}

		for i, item := range order.Items {
			if _, err := itemStmt.ExecContext(ctx,
				order.ExternalID, i, item.Name,
				item.UnitPrice.StringFixed(2), item.Quantity); err != nil {
				return fmt.Errorf("failed to insert item %d of order %s: %w", i, order.ExternalID, err)
			}
		}
	}

	return tx.Commit()
}

// GetOrders returns parsed order records matching the filter, items
// included, oldest first. Each external ID appears exactly once.
func (s *SQLiteStorage) GetOrders(ctx context.Context, filter service.OrderFilter) ([]model.ParsedOrderRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT external_id, order_number, kind, parse_status, total, timestamp FROM orders`
	var conditions []string
	var args []any

	if filter.Kind != nil {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(*filter.Kind))
	}
	if filter.Start != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filter.Start)
	}
	if filter.End != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *filter.End)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []model.ParsedOrderRecord
	for rows.Next() {
		var order model.ParsedOrderRecord
		var kind, status, total string
		if err := rows.Scan(&order.ExternalID, &order.OrderNumber, &kind, &status, &total, &order.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		order.Kind = model.OrderKind(kind)
		order.ParseStatus = model.ParseStatus(status)
		order.Total, err = decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("corrupt total for order %s: %w", order.ExternalID, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}

	for i := range orders {
		items, err := s.getOrderItems(ctx, orders[i].ExternalID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

func (s *SQLiteStorage) getOrderItems(ctx context.Context, externalID string) ([]model.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, unit_price, quantity FROM order_items
		WHERE order_external_id = ? ORDER BY ordinal`, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items for order %s: %w", externalID, err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.LineItem
	for rows.Next() {
		var item model.LineItem
		var price string
		if err := rows.Scan(&item.Name, &price, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.UnitPrice, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("corrupt unit price in order %s: %w", externalID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
