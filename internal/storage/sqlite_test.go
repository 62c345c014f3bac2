package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jmorrill/itemflow/internal/common"
	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/service"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("Failed to migrate: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func seedCategories(t *testing.T, store *SQLiteStorage, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		if err := store.CreateCategory(ctx, model.Category{ID: id, Name: id}); err != nil {
			t.Fatalf("Failed to seed category %s: %v", id, err)
		}
	}
}

func testDate(day int) time.Time {
	return time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC)
}

func makeTestTransaction(day int, description string) model.Transaction {
	txn := model.Transaction{
		Date:        testDate(day),
		Description: description,
		Account:     "checking",
		Amount:      decimal.RequireFromString("-42.99"),
	}
	txn.Key = txn.GenerateKey()
	return txn
}

func makeTestRow(txnKey string, ordinal, day int, description string) model.ExpandedItemRow {
	return model.ExpandedItemRow{
		Key:         model.RowKey(txnKey, ordinal),
		TxnKey:      txnKey,
		Ordinal:     ordinal,
		Date:        testDate(day),
		Description: description,
		Account:     "checking",
		MatchStatus: model.MatchUnmatched,
		Amount:      decimal.RequireFromString("-42.99"),
		ItemPrice:   decimal.RequireFromString("42.99"),
		ItemQty:     1,
	}
}

func makeTestOrder(day int, externalID string, items ...model.LineItem) model.ParsedOrderRecord {
	return model.ParsedOrderRecord{
		ExternalID:  externalID,
		OrderNumber: "111-" + externalID,
		Kind:        model.KindOrder,
		ParseStatus: model.ParseSuccess,
		Total:       decimal.RequireFromString("42.99"),
		Timestamp:   testDate(day),
		Items:       items,
	}
}

func TestSQLiteStorage_SaveOrders(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	original := makeTestOrder(10, "ord-1",
		model.LineItem{Name: "USB Cable", UnitPrice: decimal.RequireFromString("12.99"), Quantity: 1})
	if err := store.SaveOrders(ctx, []model.ParsedOrderRecord{original}); err != nil {
		t.Fatalf("Failed to save orders: %v", err)
	}

	// Re-importing the same external ID must not change anything.
	changed := original
	changed.Total = decimal.RequireFromString("99.99")
	changed.Items = append(changed.Items,
		model.LineItem{Name: "Extra Item", UnitPrice: decimal.RequireFromString("5.00"), Quantity: 1})
	if err := store.SaveOrders(ctx, []model.ParsedOrderRecord{changed}); err != nil {
		t.Fatalf("Failed to re-save orders: %v", err)
	}

	orders, err := store.GetOrders(ctx, service.OrderFilter{})
	if err != nil {
		t.Fatalf("Failed to get orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("Expected 1 order, got %d", len(orders))
	}
	if !orders[0].Total.Equal(decimal.RequireFromString("42.99")) {
		t.Errorf("Expected original total 42.99, got %s", orders[0].Total)
	}
	if len(orders[0].Items) != 1 {
		t.Errorf("Expected 1 item (records are immutable), got %d", len(orders[0].Items))
	}
}

func TestSQLiteStorage_GetOrdersFilter(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	ret := makeTestOrder(12, "ret-1")
	ret.Kind = model.KindReturn
	orders := []model.ParsedOrderRecord{
		makeTestOrder(10, "ord-1"),
		makeTestOrder(20, "ord-2"),
		ret,
	}
	if err := store.SaveOrders(ctx, orders); err != nil {
		t.Fatalf("Failed to save orders: %v", err)
	}

	kind := model.KindReturn
	start := testDate(11)
	end := testDate(15)

	tests := []struct {
		filter service.OrderFilter
		name   string
		want   int
	}{
		{name: "no filter", filter: service.OrderFilter{}, want: 3},
		{name: "by kind", filter: service.OrderFilter{Kind: &kind}, want: 1},
		{name: "by date range", filter: service.OrderFilter{Start: &start, End: &end}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetOrders(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Failed to get orders: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Expected %d orders, got %d", tt.want, len(got))
			}
		})
	}
}

func TestSQLiteStorage_SaveTransactions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txns := []model.Transaction{
		makeTestTransaction(10, "WHOLE FOODS"),
		makeTestTransaction(11, "SHELL OIL"),
	}
	if err := store.SaveTransactions(ctx, txns); err != nil {
		t.Fatalf("Failed to save transactions: %v", err)
	}
	// Overlapping statement import is a no-op.
	if err := store.SaveTransactions(ctx, txns); err != nil {
		t.Fatalf("Failed to re-save transactions: %v", err)
	}

	all, err := store.GetAllTransactions(ctx)
	if err != nil {
		t.Fatalf("Failed to get transactions: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 transactions (no duplicates), got %d", len(all))
	}
	if !all[0].Amount.Equal(decimal.RequireFromString("-42.99")) {
		t.Errorf("Amount did not round-trip, got %s", all[0].Amount)
	}
}

func TestSQLiteStorage_GetUnprocessedTransactions(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	processed := makeTestTransaction(10, "WHOLE FOODS")
	pending := makeTestTransaction(11, "SHELL OIL")
	if err := store.SaveTransactions(ctx, []model.Transaction{processed, pending}); err != nil {
		t.Fatalf("Failed to save transactions: %v", err)
	}
	if err := store.SaveItemRows(ctx, []model.ExpandedItemRow{
		makeTestRow(processed.Key, 0, 10, "WHOLE FOODS"),
	}); err != nil {
		t.Fatalf("Failed to save rows: %v", err)
	}

	got, err := store.GetUnprocessedTransactions(ctx)
	if err != nil {
		t.Fatalf("Failed to get unprocessed transactions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 unprocessed transaction, got %d", len(got))
	}
	if got[0].Key != pending.Key {
		t.Errorf("Expected transaction %s, got %s", pending.Key, got[0].Key)
	}
}

func TestSQLiteStorage_SaveItemRowsUpsert(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	row := makeTestRow("txn-a", 0, 10, "AMAZON MKTPL")
	if err := store.SaveItemRows(ctx, []model.ExpandedItemRow{row}); err != nil {
		t.Fatalf("Failed to save row: %v", err)
	}

	// A replayed match may improve the row in place.
	row.Description = "USB Cable (2)"
	row.MatchStatus = model.MatchHigh
	row.Confidence = 80
	if err := store.SaveItemRows(ctx, []model.ExpandedItemRow{row}); err != nil {
		t.Fatalf("Failed to upsert row: %v", err)
	}

	rows, err := store.GetUncategorizedRows(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to get rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row after upsert, got %d", len(rows))
	}
	if rows[0].Description != "USB Cable (2)" {
		t.Errorf("Expected updated description, got %q", rows[0].Description)
	}
	if rows[0].MatchStatus != model.MatchHigh {
		t.Errorf("Expected updated match status, got %q", rows[0].MatchStatus)
	}
}

func TestSQLiteStorage_GetUncategorizedRowsResumable(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedCategories(t, store, "groceries")

	rows := []model.ExpandedItemRow{
		makeTestRow("txn-a", 0, 10, "FIRST"),
		makeTestRow("txn-b", 0, 11, "SECOND"),
		makeTestRow("txn-c", 0, 12, "THIRD"),
	}
	if err := store.SaveItemRows(ctx, rows); err != nil {
		t.Fatalf("Failed to save rows: %v", err)
	}

	result, err := store.WriteDecisions(ctx, []model.CategorizationDecision{{
		RowKey:     rows[0].Key,
		CategoryID: "groceries",
		Source:     model.SourceMerchantRule,
		Confidence: 100,
	}})
	if err != nil {
		t.Fatalf("Failed to write decision: %v", err)
	}
	if result.Applied != 1 {
		t.Fatalf("Expected 1 applied decision, got %d", result.Applied)
	}

	got, err := store.GetUncategorizedRows(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to get uncategorized rows: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 undecided rows, got %d", len(got))
	}
	if got[0].Description != "SECOND" || got[1].Description != "THIRD" {
		t.Errorf("Rows out of order: %q, %q", got[0].Description, got[1].Description)
	}

	// Limit applies after the decided rows are excluded.
	limited, err := store.GetUncategorizedRows(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to get limited rows: %v", err)
	}
	if len(limited) != 1 || limited[0].Description != "SECOND" {
		t.Errorf("Expected oldest undecided row, got %+v", limited)
	}
}

func TestSQLiteStorage_WriteDecisions(t *testing.T) {
	tests := []struct {
		setup        func(*testing.T, *SQLiteStorage)
		validate     func(*testing.T, *SQLiteStorage)
		name         string
		decisions    []model.CategorizationDecision
		wantApplied  int
		wantSkipped  int
		wantErrCount int
	}{
		{
			name: "first decision applied",
			decisions: []model.CategorizationDecision{{
				RowKey: "txn-a#0", CategoryID: "groceries",
				Source: model.SourceMerchantRule, Confidence: 100,
			}},
			wantApplied: 1,
			validate: func(t *testing.T, s *SQLiteStorage) {
				t.Helper()
				d, err := s.GetDecision(context.Background(), "txn-a#0")
				if err != nil {
					t.Fatalf("Failed to get decision: %v", err)
				}
				if d.CategoryID != "groceries" || d.PreviousCategory != "" {
					t.Errorf("Unexpected decision: %+v", d)
				}
				if d.DecidedAt.IsZero() {
					t.Error("DecidedAt should default to now")
				}
			},
		},
		{
			name: "replacement keeps previous category",
			setup: func(t *testing.T, s *SQLiteStorage) {
				t.Helper()
				mustWrite(t, s, model.CategorizationDecision{
					RowKey: "txn-a#0", CategoryID: "groceries",
					Source: model.SourceKeyword, Confidence: 55,
				})
			},
			decisions: []model.CategorizationDecision{{
				RowKey: "txn-a#0", CategoryID: "fuel",
				Source: model.SourceFallback, Confidence: 85, NeedsReview: true,
			}},
			wantApplied: 1,
			validate: func(t *testing.T, s *SQLiteStorage) {
				t.Helper()
				d, err := s.GetDecision(context.Background(), "txn-a#0")
				if err != nil {
					t.Fatalf("Failed to get decision: %v", err)
				}
				if d.CategoryID != "fuel" {
					t.Errorf("Expected new category fuel, got %q", d.CategoryID)
				}
				if d.PreviousCategory != "groceries" {
					t.Errorf("Expected previous category groceries, got %q", d.PreviousCategory)
				}
			},
		},
		{
			name: "replayed update list leaves state unchanged",
			setup: func(t *testing.T, s *SQLiteStorage) {
				t.Helper()
				mustWrite(t, s, model.CategorizationDecision{
					RowKey: "txn-a#0", CategoryID: "groceries",
					Source: model.SourceMerchantRule, Confidence: 100,
				})
			},
			decisions: []model.CategorizationDecision{{
				RowKey: "txn-a#0", CategoryID: "groceries",
				Source: model.SourceMerchantRule, Confidence: 100,
			}},
			wantSkipped: 1,
			validate: func(t *testing.T, s *SQLiteStorage) {
				t.Helper()
				d, err := s.GetDecision(context.Background(), "txn-a#0")
				if err != nil {
					t.Fatalf("Failed to get decision: %v", err)
				}
				if d.PreviousCategory != "" {
					t.Errorf("Replay must not shift the audit trail, got previous %q", d.PreviousCategory)
				}
				if d.CategoryID != "groceries" || d.Source != model.SourceMerchantRule {
					t.Errorf("Replay changed the decision: %+v", d)
				}
			},
		},
		{
			name: "manual decision is never overwritten",
			setup: func(t *testing.T, s *SQLiteStorage) {
				t.Helper()
				mustWrite(t, s, model.CategorizationDecision{
					RowKey: "txn-a#0", CategoryID: "groceries",
					Source: model.SourceManual, Confidence: 100, Actor: "human",
				})
			},
			decisions: []model.CategorizationDecision{{
				RowKey: "txn-a#0", CategoryID: "fuel",
				Source: model.SourceFallback, Confidence: 85, NeedsReview: true,
			}},
			wantSkipped: 1,
			validate: func(t *testing.T, s *SQLiteStorage) {
				t.Helper()
				d, err := s.GetDecision(context.Background(), "txn-a#0")
				if err != nil {
					t.Fatalf("Failed to get decision: %v", err)
				}
				if d.CategoryID != "groceries" || d.Source != model.SourceManual {
					t.Errorf("Manual decision was overwritten: %+v", d)
				}
			},
		},
		{
			name: "manual may replace manual",
			setup: func(t *testing.T, s *SQLiteStorage) {
				t.Helper()
				mustWrite(t, s, model.CategorizationDecision{
					RowKey: "txn-a#0", CategoryID: "groceries",
					Source: model.SourceManual, Confidence: 100, Actor: "human",
				})
			},
			decisions: []model.CategorizationDecision{{
				RowKey: "txn-a#0", CategoryID: "fuel",
				Source: model.SourceManual, Confidence: 100, Actor: "human",
			}},
			wantApplied: 1,
		},
		{
			name: "unknown category fails only that row",
			decisions: []model.CategorizationDecision{
				{RowKey: "txn-a#0", CategoryID: "nonsense", Source: model.SourceFallback, NeedsReview: true},
				{RowKey: "txn-b#0", CategoryID: "groceries", Source: model.SourceMerchantRule, Confidence: 100},
			},
			wantApplied:  1,
			wantErrCount: 1,
		},
		{
			name: "empty category requires review flag",
			decisions: []model.CategorizationDecision{
				{RowKey: "txn-a#0", Source: model.SourceFallback, NeedsReview: true,
					ReviewReason: "fallback suggested unknown category"},
				{RowKey: "txn-b#0", Source: model.SourceFallback},
			},
			wantApplied:  1,
			wantErrCount: 1,
		},
		{
			name: "empty row key rejected",
			decisions: []model.CategorizationDecision{
				{CategoryID: "groceries", Source: model.SourceMerchantRule},
			},
			wantErrCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, cleanup := createTestStorage(t)
			defer cleanup()
			ctx := context.Background()

			seedCategories(t, store, "groceries", "fuel")
			if err := store.SaveItemRows(ctx, []model.ExpandedItemRow{
				makeTestRow("txn-a", 0, 10, "ROW A"),
				makeTestRow("txn-b", 0, 11, "ROW B"),
			}); err != nil {
				t.Fatalf("Failed to save rows: %v", err)
			}
			if tt.setup != nil {
				tt.setup(t, store)
			}

			result, err := store.WriteDecisions(ctx, tt.decisions)
			if err != nil {
				t.Fatalf("WriteDecisions failed: %v", err)
			}
			if result.Applied != tt.wantApplied {
				t.Errorf("Expected %d applied, got %d", tt.wantApplied, result.Applied)
			}
			if result.Skipped != tt.wantSkipped {
				t.Errorf("Expected %d skipped, got %d", tt.wantSkipped, result.Skipped)
			}
			if len(result.Errors) != tt.wantErrCount {
				t.Errorf("Expected %d errors, got %d: %v", tt.wantErrCount, len(result.Errors), result.Errors)
			}
			if tt.validate != nil {
				tt.validate(t, store)
			}
		})
	}
}

func mustWrite(t *testing.T, s *SQLiteStorage, d model.CategorizationDecision) {
	t.Helper()
	result, err := s.WriteDecisions(context.Background(), []model.CategorizationDecision{d})
	if err != nil {
		t.Fatalf("Failed to write decision: %v", err)
	}
	if result.Applied != 1 {
		t.Fatalf("Expected decision to apply, got %+v", result)
	}
}

func TestSQLiteStorage_GetDecisionNotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.GetDecision(context.Background(), "missing#0")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_ClearMatchOutput(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedCategories(t, store, "groceries")

	manual := makeTestRow("txn-a", 0, 10, "MANUAL ROW")
	auto := makeTestRow("txn-b", 0, 11, "AUTO ROW")
	undecided := makeTestRow("txn-c", 0, 12, "UNDECIDED ROW")
	if err := store.SaveItemRows(ctx, []model.ExpandedItemRow{manual, auto, undecided}); err != nil {
		t.Fatalf("Failed to save rows: %v", err)
	}
	mustWrite(t, store, model.CategorizationDecision{
		RowKey: manual.Key, CategoryID: "groceries",
		Source: model.SourceManual, Confidence: 100, Actor: "human",
	})
	mustWrite(t, store, model.CategorizationDecision{
		RowKey: auto.Key, CategoryID: "groceries",
		Source: model.SourceMerchantRule, Confidence: 100,
	})

	if err := store.ClearMatchOutput(ctx); err != nil {
		t.Fatalf("Failed to clear match output: %v", err)
	}

	// The manual decision and its row survive; everything else is gone.
	if _, err := store.GetDecision(ctx, manual.Key); err != nil {
		t.Errorf("Manual decision should survive, got %v", err)
	}
	if _, err := store.GetDecision(ctx, auto.Key); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Automated decision should be cleared, got %v", err)
	}

	rows, err := store.GetUncategorizedRows(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to get rows: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Expected no undecided rows after clear, got %d", len(rows))
	}

	records, err := store.GetExportRecords(ctx, testDate(1), testDate(28))
	if err != nil {
		t.Fatalf("Failed to get export records: %v", err)
	}
	if len(records) != 1 || records[0].Row.Key != manual.Key {
		t.Errorf("Expected only the manually decided row to remain, got %d records", len(records))
	}
}

func TestSQLiteStorage_GetExportRecords(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedCategories(t, store, "groceries")

	decided := makeTestRow("txn-a", 0, 10, "DECIDED")
	gap := makeTestRow("txn-b", 0, 11, "GAP")
	outside := makeTestRow("txn-c", 0, 25, "OUTSIDE RANGE")
	if err := store.SaveItemRows(ctx, []model.ExpandedItemRow{decided, gap, outside}); err != nil {
		t.Fatalf("Failed to save rows: %v", err)
	}
	mustWrite(t, store, model.CategorizationDecision{
		RowKey: decided.Key, CategoryID: "groceries",
		Source: model.SourceMerchantRule, Confidence: 100,
	})

	records, err := store.GetExportRecords(ctx, testDate(1), testDate(15))
	if err != nil {
		t.Fatalf("Failed to get export records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records in range, got %d", len(records))
	}
	if records[0].Decision == nil || records[0].Decision.CategoryID != "groceries" {
		t.Errorf("Expected decision on first record, got %+v", records[0].Decision)
	}
	if records[1].Decision != nil {
		t.Error("Undecided row must export with no decision so the gap stays visible")
	}
}

func TestSQLiteStorage_RuleSource(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	seedCategories(t, store, "groceries", "fuel")

	rules := []model.MerchantRule{
		{Pattern: "costco gas", CategoryID: "fuel", Confidence: 100, Source: model.RuleManual},
		{Pattern: "costco", CategoryID: "groceries", Confidence: 90, Source: model.RuleManual},
	}
	for i := range rules {
		if err := store.AppendMerchantRule(ctx, &rules[i]); err != nil {
			t.Fatalf("Failed to append rule: %v", err)
		}
	}

	got, err := store.MerchantRules(ctx)
	if err != nil {
		t.Fatalf("Failed to get merchant rules: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 rules, got %d", len(got))
	}
	if got[0].Pattern != "costco gas" || got[1].Pattern != "costco" {
		t.Errorf("Rules out of insertion order: %q, %q", got[0].Pattern, got[1].Pattern)
	}
	if got[0].Position >= got[1].Position {
		t.Errorf("Positions must be increasing: %d, %d", got[0].Position, got[1].Position)
	}

	dup := model.MerchantRule{Pattern: "costco", CategoryID: "fuel", Confidence: 80, Source: model.RuleLearned}
	if err := store.AppendMerchantRule(ctx, &dup); !errors.Is(err, common.ErrDuplicateRule) {
		t.Errorf("Expected ErrDuplicateRule, got %v", err)
	}

	if err := store.AppendKeywordRule(ctx, &model.KeywordRule{Word: "battery", CategoryID: "groceries", Priority: 5}); err != nil {
		t.Fatalf("Failed to append keyword rule: %v", err)
	}
	if err := store.AppendKeywordRule(ctx, &model.KeywordRule{Word: "battery", CategoryID: "fuel"}); !errors.Is(err, common.ErrDuplicateRule) {
		t.Errorf("Expected ErrDuplicateRule for duplicate keyword, got %v", err)
	}

	if err := store.CreateCategory(ctx, model.Category{ID: "groceries", Name: "Again"}); !errors.Is(err, common.ErrDuplicateEntry) {
		t.Errorf("Expected ErrDuplicateEntry, got %v", err)
	}

	budgeted := model.Category{ID: "dining", Name: "Dining", MonthlyBudget: decimal.RequireFromString("250.00")}
	if err := store.CreateCategory(ctx, budgeted); err != nil {
		t.Fatalf("Failed to create category: %v", err)
	}
	categories, err := store.Categories(ctx)
	if err != nil {
		t.Fatalf("Failed to get categories: %v", err)
	}
	for _, c := range categories {
		if c.ID == "dining" && !c.MonthlyBudget.Equal(decimal.RequireFromString("250.00")) {
			t.Errorf("Budget did not round-trip, got %s", c.MonthlyBudget)
		}
	}
}
