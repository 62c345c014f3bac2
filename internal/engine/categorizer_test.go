package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorrill/itemflow/internal/common"
	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/rules"
	"github.com/jmorrill/itemflow/internal/service"
)

// memorySource is a minimal in-memory RuleSource for categorizer tests.
type memorySource struct {
	categories    []model.Category
	merchantRules []model.MerchantRule
	keywordRules  []model.KeywordRule
}

func (m *memorySource) Categories(_ context.Context) ([]model.Category, error) {
	return m.categories, nil
}

func (m *memorySource) MerchantRules(_ context.Context) ([]model.MerchantRule, error) {
	return m.merchantRules, nil
}

func (m *memorySource) KeywordRules(_ context.Context) ([]model.KeywordRule, error) {
	return m.keywordRules, nil
}

func (m *memorySource) AppendMerchantRule(_ context.Context, rule *model.MerchantRule) error {
	m.merchantRules = append(m.merchantRules, *rule)
	return nil
}

func (m *memorySource) AppendKeywordRule(_ context.Context, rule *model.KeywordRule) error {
	m.keywordRules = append(m.keywordRules, *rule)
	return nil
}

func (m *memorySource) CreateCategory(_ context.Context, category model.Category) error {
	m.categories = append(m.categories, category)
	return nil
}

var _ service.RuleSource = (*memorySource)(nil)

func testSnapshot(t *testing.T) *rules.Snapshot {
	t.Helper()
	source := &memorySource{
		categories: []model.Category{
			{ID: "groceries", Name: "Groceries"},
			{ID: "fuel", Name: "Fuel"},
			{ID: "supplies", Name: "Supplies"},
			{ID: "dining", Name: "Dining"},
		},
		merchantRules: []model.MerchantRule{
			{Pattern: "costco gas", CategoryID: "fuel", Confidence: 100},
			{Pattern: "costco", CategoryID: "groceries", Confidence: 90},
			{Pattern: "corner deli", CategoryID: "dining", Confidence: 60},
		},
		keywordRules: []model.KeywordRule{
			{Word: "battery", CategoryID: "supplies", Priority: 5},
			{Word: "grocery", CategoryID: "groceries", Priority: 40},
		},
	}
	store, err := rules.NewStore(context.Background(), source)
	require.NoError(t, err)
	return store.Snapshot()
}

func row(key, description string) model.ExpandedItemRow {
	return model.ExpandedItemRow{Key: key, Description: description}
}

func TestDecideMerchantLayerFirstMatchWins(t *testing.T) {
	c := NewCategorizer(nil)
	snap := testSnapshot(t)

	decision, needsFallback := c.Decide(snap, row("r1", "COSTCO GAS #0482"))
	require.False(t, needsFallback)
	assert.Equal(t, "fuel", decision.CategoryID)
	assert.Equal(t, model.SourceMerchantRule, decision.Source)
	assert.Equal(t, 100, decision.Confidence)
	assert.False(t, decision.NeedsReview)
}

func TestDecideMerchantBelowBarFlagsReview(t *testing.T) {
	c := NewCategorizer(nil)
	snap := testSnapshot(t)

	decision, needsFallback := c.Decide(snap, row("r1", "CORNER DELI LLC"))
	require.False(t, needsFallback)
	assert.Equal(t, "dining", decision.CategoryID)
	assert.True(t, decision.NeedsReview)
	assert.Contains(t, decision.ReviewReason, "corner deli")
}

func TestDecideAmbiguousMerchantSkipsKeywords(t *testing.T) {
	c := NewCategorizer(DefaultAmbiguousMerchants())
	snap := testSnapshot(t)

	// "grocery" would hit the keyword layer, but Walmart sells
	// everything; without a merchant rule only the fallback may decide.
	_, needsFallback := c.Decide(snap, row("r1", "WALMART grocery pickup"))
	assert.True(t, needsFallback)
}

func TestDecideAmbiguousMerchantRuleStillWins(t *testing.T) {
	c := NewCategorizer(DefaultAmbiguousMerchants())
	snap := testSnapshot(t)

	// Ambiguity only suppresses keywords; an explicit merchant rule
	// is item-level knowledge and still applies.
	decision, needsFallback := c.Decide(snap, row("r1", "COSTCO WHSE #482"))
	require.False(t, needsFallback)
	assert.Equal(t, "groceries", decision.CategoryID)
}

func TestDecideKeywordLayer(t *testing.T) {
	c := NewCategorizer(nil)
	snap := testSnapshot(t)

	decision, needsFallback := c.Decide(snap, row("r1", "Duracell battery 8 pack"))
	require.False(t, needsFallback)
	assert.Equal(t, "supplies", decision.CategoryID)
	assert.Equal(t, model.SourceKeyword, decision.Source)
	assert.Equal(t, 55, decision.Confidence)
	assert.True(t, decision.NeedsReview, "keyword matches always need review")
}

func TestDecideKeywordConfidenceCapped(t *testing.T) {
	c := NewCategorizer(nil)
	snap := testSnapshot(t)

	decision, _ := c.Decide(snap, row("r1", "LOCAL grocery STORE"))
	assert.Equal(t, keywordMaxConfidence, decision.Confidence, "50 + 40 caps at 70")
}

func TestDecideKeywordWordBoundary(t *testing.T) {
	c := NewCategorizer(nil)
	snap := testSnapshot(t)

	_, needsFallback := c.Decide(snap, row("r1", "Combattery charger dock"))
	assert.True(t, needsFallback)
}

func TestDecideNoLayerMatches(t *testing.T) {
	c := NewCategorizer(nil)
	snap := testSnapshot(t)

	_, needsFallback := c.Decide(snap, row("r1", "MYSTERY VENDOR 123"))
	assert.True(t, needsFallback)
}

func TestAcceptSuggestionValidCategory(t *testing.T) {
	c := NewCategorizer(nil)
	snap := testSnapshot(t)

	decision := c.AcceptSuggestion(snap, "r1", "groceries", 85)
	assert.Equal(t, "groceries", decision.CategoryID)
	assert.Equal(t, model.SourceFallback, decision.Source)
	assert.Equal(t, 85, decision.Confidence)
	assert.True(t, decision.NeedsReview)
	assert.Equal(t, "categorized by fallback service", decision.ReviewReason)
}

func TestAcceptSuggestionUnknownCategory(t *testing.T) {
	c := NewCategorizer(nil)
	snap := testSnapshot(t)

	decision := c.AcceptSuggestion(snap, "r1", "entertainment", 85)
	assert.Empty(t, decision.CategoryID, "unknown categories are never coerced")
	assert.True(t, decision.NeedsReview)
	assert.Contains(t, decision.ReviewReason, "entertainment")
	assert.Contains(t, decision.ReviewReason, common.ErrInvalidSuggestion.Error())
}

func TestAcceptSuggestionClampsConfidence(t *testing.T) {
	c := NewCategorizer(nil)
	snap := testSnapshot(t)

	assert.Equal(t, 100, c.AcceptSuggestion(snap, "r1", "groceries", 140).Confidence)
	assert.Equal(t, 0, c.AcceptSuggestion(snap, "r1", "groceries", -3).Confidence)
}
