package model

import "time"

// DecisionSource indicates which layer produced a categorization decision.
type DecisionSource string

// Decision source constants. Each decision carries exactly one.
const (
	SourceMerchantRule DecisionSource = "merchant_rule"
	SourceKeyword      DecisionSource = "keyword"
	SourceFallback     DecisionSource = "fallback"
	SourceManual       DecisionSource = "manual"
)

// CategorizationDecision is the categorization attached to an expanded
// item row. Decisions with SourceManual are never overwritten by any
// automated pass; superseded decisions keep PreviousCategory for undo.
type CategorizationDecision struct {
	DecidedAt        time.Time
	RowKey           string
	CategoryID       string
	PreviousCategory string
	ReviewReason     string
	Actor            string
	Source           DecisionSource
	Confidence       int
	NeedsReview      bool
}
