// Package rules maintains the category, merchant-rule, and keyword-rule
// configuration as an immutable snapshot with validated mutations.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jmorrill/itemflow/internal/common"
	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/service"
)

// MinPatternLength is the shortest merchant pattern accepted. Shorter
// patterns cause false positives ("cal" matching "CalDigit").
const MinPatternLength = 4

// Store provides snapshot reads and validated mutations over the rule
// configuration. Reload swaps the snapshot atomically; in-flight
// operations keep reading the snapshot they started with.
type Store struct {
	source   service.RuleSource
	snapshot atomic.Pointer[Snapshot]
	mu       sync.Mutex
}

// NewStore creates a store and performs the initial load.
func NewStore(ctx context.Context, source service.RuleSource) (*Store, error) {
	s := &Store{source: source}
	if err := s.Reload(ctx); err != nil {
		return nil, fmt.Errorf("initial rule load: %w", err)
	}
	return s, nil
}

// Snapshot returns the current immutable rule set.
func (s *Store) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Reload re-reads all three collections and swaps the snapshot. It is
// safe to call mid-run: either the new snapshot is installed whole or
// the old one stays in place.
func (s *Store) Reload(ctx context.Context) error {
	categories, err := s.source.Categories(ctx)
	if err != nil {
		return fmt.Errorf("loading categories: %w", err)
	}
	merchantRules, err := s.source.MerchantRules(ctx)
	if err != nil {
		return fmt.Errorf("loading merchant rules: %w", err)
	}
	keywordRules, err := s.source.KeywordRules(ctx)
	if err != nil {
		return fmt.Errorf("loading keyword rules: %w", err)
	}

	snap := newSnapshot(categories, merchantRules, keywordRules)
	s.snapshot.Store(snap)

	slog.Info("rule snapshot loaded",
		"categories", len(categories),
		"merchant_rules", len(merchantRules),
		"keyword_rules", len(keywordRules))
	return nil
}

// ValidateCategory reports whether the category ID exists.
func (s *Store) ValidateCategory(id string) bool {
	return s.Snapshot().HasCategory(id)
}

// ProposeRule is the single mutation command for merchant rules. Both
// user additions and learner promotions flow through it so provenance
// and validation live in one place.
type ProposeRule struct {
	Pattern    string
	CategoryID string
	Note       string
	Source     model.RuleSource
	Confidence int
}

// Apply validates and appends a merchant rule, then reloads the
// snapshot. New rules land at the end of the ordered list so existing,
// more specific rules are never shadowed.
func (s *Store) Apply(ctx context.Context, cmd ProposeRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern := strings.ToLower(strings.TrimSpace(cmd.Pattern))
	if len(pattern) < MinPatternLength {
		return fmt.Errorf("%w: pattern %q shorter than %d characters",
			common.ErrInvalidConfig, pattern, MinPatternLength)
	}

	snap := s.Snapshot()
	if !snap.HasCategory(cmd.CategoryID) {
		return fmt.Errorf("%w: %q", common.ErrUnknownCategory, cmd.CategoryID)
	}
	for _, existing := range snap.merchantRules {
		if existing.Pattern == pattern {
			return fmt.Errorf("%w: merchant pattern %q", common.ErrDuplicateRule, pattern)
		}
	}

	confidence := cmd.Confidence
	if confidence < 0 || confidence > 100 {
		return fmt.Errorf("%w: confidence %d out of range", common.ErrInvalidConfig, confidence)
	}

	rule := &model.MerchantRule{
		Pattern:    pattern,
		CategoryID: cmd.CategoryID,
		Confidence: confidence,
		Note:       cmd.Note,
		Source:     cmd.Source,
	}
	if err := s.source.AppendMerchantRule(ctx, rule); err != nil {
		return fmt.Errorf("appending merchant rule: %w", err)
	}

	return s.Reload(ctx)
}

// AddMerchantRule records a user-created merchant rule.
func (s *Store) AddMerchantRule(ctx context.Context, pattern, categoryID string, confidence int, note string) error {
	return s.Apply(ctx, ProposeRule{
		Pattern:    pattern,
		CategoryID: categoryID,
		Confidence: confidence,
		Note:       note,
		Source:     model.RuleManual,
	})
}

// AddKeyword validates and appends a keyword rule, then reloads.
func (s *Store) AddKeyword(ctx context.Context, word, categoryID string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return fmt.Errorf("%w: empty keyword", common.ErrInvalidConfig)
	}

	snap := s.Snapshot()
	if !snap.HasCategory(categoryID) {
		return fmt.Errorf("%w: %q", common.ErrUnknownCategory, categoryID)
	}
	for _, existing := range snap.keywordRules {
		if existing.rule.Word == word {
			return fmt.Errorf("%w: keyword %q", common.ErrDuplicateRule, word)
		}
	}

	rule := &model.KeywordRule{
		Word:       word,
		CategoryID: categoryID,
		Priority:   priority,
	}
	if err := s.source.AppendKeywordRule(ctx, rule); err != nil {
		return fmt.Errorf("appending keyword rule: %w", err)
	}

	return s.Reload(ctx)
}

// CreateCategory adds a category, making it referenceable by rules.
func (s *Store) CreateCategory(ctx context.Context, category model.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !category.ValidID() {
		return fmt.Errorf("%w: category id %q is not a lowercase token",
			common.ErrInvalidConfig, category.ID)
	}
	if category.ParentID != "" && !s.Snapshot().HasCategory(category.ParentID) {
		return fmt.Errorf("%w: parent %q", common.ErrUnknownCategory, category.ParentID)
	}
	if err := s.source.CreateCategory(ctx, category); err != nil {
		return fmt.Errorf("creating category: %w", err)
	}

	return s.Reload(ctx)
}

// Categories returns all known categories sorted by ID.
func (s *Store) Categories() []model.Category {
	snap := s.Snapshot()
	categories := make([]model.Category, 0, len(snap.categories))
	for _, c := range snap.categories {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].ID < categories[j].ID })
	return categories
}
