// Package learn watches fallback categorization outcomes and proposes
// merchant rules once the same merchant resolves to the same category
// often enough.
package learn

import (
	"strings"

	"github.com/jmorrill/itemflow/internal/rules"
)

// PromotionThreshold is how many consistent fallback decisions a
// (pattern, category) pair needs before it becomes a merchant rule.
const PromotionThreshold = 2

// LearnedConfidence is assigned to learner-promoted rules. Below the
// auto-accept bar so the first rule-driven hits still surface in review.
const LearnedConfidence = 90

const maxPatternWords = 3

// Proposal is a merchant rule the learner wants promoted.
type Proposal struct {
	Pattern    string
	CategoryID string
	Count      int
}

// observation keys the tally: same merchant prefix resolving to
// different categories counts separately and never promotes.
type observation struct {
	pattern    string
	categoryID string
}

// Learner tallies fallback decisions within a run. It is not safe for
// concurrent use; the categorization loop is sequential.
type Learner struct {
	counts   map[observation]int
	promoted map[string]bool
}

// New creates an empty learner.
func New() *Learner {
	return &Learner{
		counts:   make(map[observation]int),
		promoted: make(map[string]bool),
	}
}

// Observe records one fallback decision. When the (pattern, category)
// pair reaches the promotion threshold it returns a proposal, once; the
// pattern is then retired for the rest of the run.
func (l *Learner) Observe(description, categoryID string) (Proposal, bool) {
	pattern := MerchantPattern(description)
	if pattern == "" || l.promoted[pattern] {
		return Proposal{}, false
	}

	obs := observation{pattern: pattern, categoryID: categoryID}
	l.counts[obs]++

	if l.counts[obs] < PromotionThreshold {
		return Proposal{}, false
	}

	l.promoted[pattern] = true
	return Proposal{
		Pattern:    pattern,
		CategoryID: categoryID,
		Count:      l.counts[obs],
	}, true
}

// PromotedCount reports how many rules this run has promoted.
func (l *Learner) PromotedCount() int {
	return len(l.promoted)
}

// MerchantPattern derives the rule pattern from a row description: the
// first few words, lowercased. Too-short results are rejected since a
// pattern like "cvs" would substring-match unrelated merchants.
func MerchantPattern(description string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(description)))
	if len(words) > maxPatternWords {
		words = words[:maxPatternWords]
	}
	pattern := strings.Join(words, " ")
	if len(pattern) < rules.MinPatternLength {
		return ""
	}
	return pattern
}
