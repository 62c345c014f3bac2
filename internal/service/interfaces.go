// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/jmorrill/itemflow/internal/model"
	"github.com/shopspring/decimal"
)

// OrderFilter defines filtering options for order store reads.
type OrderFilter struct {
	Kind  *model.OrderKind
	Start *time.Time
	End   *time.Time
}

// OrderStore is the read contract over previously parsed order/return
// records. Implementations must never return duplicate external IDs;
// deduplication happens at ingestion.
type OrderStore interface {
	GetOrders(ctx context.Context, filter OrderFilter) ([]model.ParsedOrderRecord, error)
	SaveOrders(ctx context.Context, orders []model.ParsedOrderRecord) error
}

// WriteResult summarizes an idempotent decision write. Per-update
// failures are collected rather than aborting the batch.
type WriteResult struct {
	Errors  []error
	Applied int
	Skipped int
}

// RowStore persists transactions, expanded item rows, and the
// categorization decisions attached to them.
type RowStore interface {
	SaveTransactions(ctx context.Context, txns []model.Transaction) error
	GetUnprocessedTransactions(ctx context.Context) ([]model.Transaction, error)
	GetAllTransactions(ctx context.Context) ([]model.Transaction, error)
	SaveItemRows(ctx context.Context, rows []model.ExpandedItemRow) error
	GetUncategorizedRows(ctx context.Context, limit int) ([]model.ExpandedItemRow, error)
	GetDecision(ctx context.Context, rowKey string) (*model.CategorizationDecision, error)
	WriteDecisions(ctx context.Context, decisions []model.CategorizationDecision) (WriteResult, error)
	GetExportRecords(ctx context.Context, start, end time.Time) ([]ExportRecord, error)
	ClearMatchOutput(ctx context.Context) error
}

// ExportRecord pairs an output row with its decision, if any, for export.
type ExportRecord struct {
	Row      model.ExpandedItemRow
	Decision *model.CategorizationDecision
}

// RuleSource exposes the three rule configuration collections. Reload
// semantics live above this interface: callers read all three and swap
// an immutable snapshot.
type RuleSource interface {
	Categories(ctx context.Context) ([]model.Category, error)
	MerchantRules(ctx context.Context) ([]model.MerchantRule, error)
	KeywordRules(ctx context.Context) ([]model.KeywordRule, error)
	AppendMerchantRule(ctx context.Context, rule *model.MerchantRule) error
	AppendKeywordRule(ctx context.Context, rule *model.KeywordRule) error
	CreateCategory(ctx context.Context, category model.Category) error
}

// Storage is the full persistence contract.
type Storage interface {
	OrderStore
	RowStore
	RuleSource
	Migrate(ctx context.Context) error
	Close() error
}

// FallbackRequest is one row handed to the external categorization service.
type FallbackRequest struct {
	RowKey      string
	Description string
	Amount      decimal.Decimal
}

// FallbackSuggestion is the service's answer for one row. Suggestions
// naming a category outside the allow-list are invalid.
type FallbackSuggestion struct {
	RowKey     string
	CategoryID string
	Confidence int
}

// CompletionStats shows the results of a categorization run.
type CompletionStats struct {
	TotalRows       int
	RuleCategorized int
	FallbackUsed    int
	NeedsReview     int
	RulesLearned    int
	Errors          int
	Duration        time.Duration
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
