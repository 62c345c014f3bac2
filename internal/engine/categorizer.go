// Package engine drives the layered categorization of expanded item
// rows: ordered merchant rules, then keyword rules, then the external
// fallback, with rule learning feeding decisions back into layer one.
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmorrill/itemflow/internal/common"
	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/rules"
)

// Confidence thresholds and keyword scoring constants.
const (
	// merchantReviewBar is the rule confidence below which a merchant
	// match is still flagged for review.
	merchantReviewBar = 80

	keywordBaseConfidence = 50
	keywordMaxConfidence  = 70
)

// DefaultAmbiguousMerchants are merchants whose descriptions say nothing
// about what was bought. They skip the keyword layer entirely; only
// item-level context (a merchant rule or the fallback) can place them.
func DefaultAmbiguousMerchants() []string {
	return []string{"target", "walmart", "costco", "amazon", "amzn"}
}

// Categorizer applies the deterministic layers to a single row. It
// holds no state besides configuration; the snapshot is passed per call
// so a whole batch is decided against one consistent rule set.
type Categorizer struct {
	ambiguous []string
}

// NewCategorizer creates a categorizer. Merchants are matched
// case-insensitively as substrings of the row description.
func NewCategorizer(ambiguousMerchants []string) *Categorizer {
	lowered := make([]string, 0, len(ambiguousMerchants))
	for _, m := range ambiguousMerchants {
		lowered = append(lowered, strings.ToLower(m))
	}
	return &Categorizer{ambiguous: lowered}
}

// Decide runs the merchant and keyword layers for one row. When neither
// produces a decision, needsFallback is true and the row belongs in the
// next fallback batch.
func (c *Categorizer) Decide(snap *rules.Snapshot, row model.ExpandedItemRow) (model.CategorizationDecision, bool) {
	if rule, ok := snap.MatchMerchant(row.Description); ok {
		decision := model.CategorizationDecision{
			RowKey:     row.Key,
			CategoryID: rule.CategoryID,
			Source:     model.SourceMerchantRule,
			Confidence: rule.Confidence,
			DecidedAt:  time.Now().UTC(),
		}
		if rule.Confidence < merchantReviewBar {
			decision.NeedsReview = true
			decision.ReviewReason = fmt.Sprintf("merchant rule %q below confidence bar", rule.Pattern)
		}
		return decision, false
	}

	if c.isAmbiguous(row.Description) {
		return model.CategorizationDecision{}, true
	}

	if rule, ok := snap.MatchKeyword(row.Description); ok {
		confidence := keywordBaseConfidence + rule.Priority
		if confidence > keywordMaxConfidence {
			confidence = keywordMaxConfidence
		}
		return model.CategorizationDecision{
			RowKey:       row.Key,
			CategoryID:   rule.CategoryID,
			Source:       model.SourceKeyword,
			Confidence:   confidence,
			NeedsReview:  true,
			ReviewReason: fmt.Sprintf("keyword match %q", rule.Word),
			DecidedAt:    time.Now().UTC(),
		}, false
	}

	return model.CategorizationDecision{}, true
}

func (c *Categorizer) isAmbiguous(description string) bool {
	lower := strings.ToLower(description)
	for _, m := range c.ambiguous {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// AcceptSuggestion validates one fallback answer against the category
// allow-list. An unknown category is never coerced into a guess: the
// decision is written with no category and flagged for manual review.
func (c *Categorizer) AcceptSuggestion(snap *rules.Snapshot, rowKey, categoryID string, confidence int) model.CategorizationDecision {
	decision := model.CategorizationDecision{
		RowKey:    rowKey,
		Source:    model.SourceFallback,
		DecidedAt: time.Now().UTC(),
	}

	if !snap.HasCategory(categoryID) {
		decision.NeedsReview = true
		decision.ReviewReason = fmt.Sprintf("%v: %q", common.ErrInvalidSuggestion, categoryID)
		return decision
	}

	if confidence < 0 {
		confidence = 0
	} else if confidence > 100 {
		confidence = 100
	}

	decision.CategoryID = categoryID
	decision.Confidence = confidence
	decision.NeedsReview = true
	decision.ReviewReason = "categorized by fallback service"
	return decision
}
