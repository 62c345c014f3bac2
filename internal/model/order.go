// Package model defines the core domain models used throughout the application.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind distinguishes purchase emails from refund emails.
type OrderKind string

// Order kind constants.
const (
	KindOrder  OrderKind = "order"
	KindReturn OrderKind = "return"
)

// ParseStatus records how completely the ingestion pipeline parsed an email.
type ParseStatus string

// Parse status constants. Failed records are excluded from matching.
const (
	ParseSuccess ParseStatus = "success"
	ParsePartial ParseStatus = "partial"
	ParseFailed  ParseStatus = "failed"
)

// LineItem is a single purchased item within an order email.
type LineItem struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// ParsedOrderRecord is one order or return email after parsing. Records
// are immutable once ingested and deduplicated upstream on ExternalID.
// Line-item prices need not sum to Total: partial parses are allowed.
type ParsedOrderRecord struct {
	Timestamp   time.Time
	ExternalID  string
	OrderNumber string
	Kind        OrderKind
	ParseStatus ParseStatus
	Items       []LineItem
	Total       decimal.Decimal
}

// Matchable reports whether the record may participate in matching.
func (r *ParsedOrderRecord) Matchable() bool {
	return r.ParseStatus != ParseFailed
}
