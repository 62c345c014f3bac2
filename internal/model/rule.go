package model

import "time"

// RuleSource indicates how a rule came to exist.
type RuleSource string

// Rule source constants.
const (
	RuleManual  RuleSource = "MANUAL"
	RuleLearned RuleSource = "LEARNED"
)

// MerchantRule maps a case-insensitive substring of a transaction
// description to a category. Merchant rules form an ordered list with
// first-match-wins semantics; list position is part of their meaning.
type MerchantRule struct {
	CreatedAt  time.Time
	Pattern    string
	CategoryID string
	Note       string
	Source     RuleSource
	Confidence int
	Position   int
}

// KeywordRule maps a word-boundary token to a category. Among all
// keyword rules that match a description, the highest priority wins;
// ties go to the first-defined rule.
type KeywordRule struct {
	CreatedAt  time.Time
	Word       string
	CategoryID string
	Priority   int
	Position   int
}
