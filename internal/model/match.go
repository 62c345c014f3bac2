package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus classifies the outcome of matching one transaction.
type MatchStatus string

// Match status constants.
const (
	MatchHigh      MatchStatus = "matched_high"
	MatchLow       MatchStatus = "matched_low"
	MatchUnmatched MatchStatus = "unmatched"
)

// MatchResult ties a transaction to at most one order with a confidence
// score. Results are recomputed each run; only the expanded rows persist.
type MatchResult struct {
	Transaction Transaction
	Order       *ParsedOrderRecord
	Score       int
	Status      MatchStatus
	Rows        []ExpandedItemRow
}

// NeedsReview reports whether the result should be flagged for a human.
func (m *MatchResult) NeedsReview() bool {
	return m.Status != MatchHigh
}

// ExpandedItemRow is one output row: a matched transaction produces one
// row per line item of its order, an unmatched transaction exactly one
// row carrying its original description.
type ExpandedItemRow struct {
	Date        time.Time
	Key         string
	TxnKey      string
	Description string
	Account     string
	OrderRef    string
	MatchStatus MatchStatus
	Amount      decimal.Decimal
	ItemPrice   decimal.Decimal
	ItemQty     int
	Ordinal     int
	Confidence  int
}

// RowKey derives the stable identity of an expanded row from its parent
// transaction key and position. Replays of the same match produce the
// same keys, which is what makes output writes idempotent.
func RowKey(txnKey string, ordinal int) string {
	return fmt.Sprintf("%s#%d", txnKey, ordinal)
}
