package rules

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/jmorrill/itemflow/internal/model"
)

// Snapshot is an immutable view of the rule configuration. Lookups on a
// snapshot are pure; a mid-run Reload never changes results already
// being computed against an older snapshot.
type Snapshot struct {
	categories    map[string]model.Category
	merchantRules []model.MerchantRule
	keywordRules  []keywordMatcher
}

// keywordMatcher pairs a keyword rule with its compiled word-boundary
// pattern so "battery" never matches inside "Combattery".
type keywordMatcher struct {
	re   *regexp.Regexp
	rule model.KeywordRule
}

func newSnapshot(categories []model.Category, merchantRules []model.MerchantRule, keywordRules []model.KeywordRule) *Snapshot {
	snap := &Snapshot{
		categories:    make(map[string]model.Category, len(categories)),
		merchantRules: make([]model.MerchantRule, 0, len(merchantRules)),
		keywordRules:  make([]keywordMatcher, 0, len(keywordRules)),
	}

	for _, c := range categories {
		snap.categories[c.ID] = c
	}

	// Merchant rules keep definition order; the first match wins, so
	// specific patterns must be defined before the generic ones they
	// refine. Rules pointing at unknown categories are skipped rather
	// than poisoning the whole load.
	for _, r := range merchantRules {
		if _, ok := snap.categories[r.CategoryID]; !ok {
			slog.Warn("skipping merchant rule with unknown category",
				"pattern", r.Pattern, "category", r.CategoryID)
			continue
		}
		r.Pattern = strings.ToLower(r.Pattern)
		snap.merchantRules = append(snap.merchantRules, r)
	}

	for _, r := range keywordRules {
		if _, ok := snap.categories[r.CategoryID]; !ok {
			slog.Warn("skipping keyword rule with unknown category",
				"word", r.Word, "category", r.CategoryID)
			continue
		}
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(r.Word)) + `\b`)
		if err != nil {
			slog.Warn("skipping uncompilable keyword rule", "word", r.Word, "error", err)
			continue
		}
		snap.keywordRules = append(snap.keywordRules, keywordMatcher{re: re, rule: r})
	}

	// Highest priority scans first; ties resolve to definition order.
	sort.SliceStable(snap.keywordRules, func(i, j int) bool {
		return snap.keywordRules[i].rule.Priority > snap.keywordRules[j].rule.Priority
	})

	return snap
}

// HasCategory reports whether the category ID is defined.
func (s *Snapshot) HasCategory(id string) bool {
	_, ok := s.categories[id]
	return ok
}

// Category returns the category for an ID.
func (s *Snapshot) Category(id string) (model.Category, bool) {
	c, ok := s.categories[id]
	return c, ok
}

// CategoryIDs returns all defined category IDs, sorted.
func (s *Snapshot) CategoryIDs() []string {
	ids := make([]string, 0, len(s.categories))
	for id := range s.categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MatchMerchant returns the first merchant rule whose pattern is a
// substring of the description, case-insensitively.
func (s *Snapshot) MatchMerchant(description string) (model.MerchantRule, bool) {
	lower := strings.ToLower(description)
	for _, r := range s.merchantRules {
		if strings.Contains(lower, r.Pattern) {
			return r, true
		}
	}
	return model.MerchantRule{}, false
}

// MatchKeyword returns the highest-priority keyword rule whose word
// appears in the description at a word boundary. Ties between equal
// priorities go to the rule defined first.
func (s *Snapshot) MatchKeyword(description string) (model.KeywordRule, bool) {
	lower := strings.ToLower(description)
	for _, m := range s.keywordRules {
		if m.re.MatchString(lower) {
			return m.rule, true
		}
	}
	return model.KeywordRule{}, false
}

// MerchantRules returns the ordered merchant rule list.
func (s *Snapshot) MerchantRules() []model.MerchantRule {
	return s.merchantRules
}

// KeywordRules returns the keyword rules in scan order.
func (s *Snapshot) KeywordRules() []model.KeywordRule {
	out := make([]model.KeywordRule, 0, len(s.keywordRules))
	for _, m := range s.keywordRules {
		out = append(out, m.rule)
	}
	return out
}
