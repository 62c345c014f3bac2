package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmorrill/itemflow/internal/common"
	"github.com/jmorrill/itemflow/internal/model"
)

// fakeSource is an in-memory RuleSource.
type fakeSource struct {
	categories    []model.Category
	merchantRules []model.MerchantRule
	keywordRules  []model.KeywordRule
}

func (f *fakeSource) Categories(_ context.Context) ([]model.Category, error) {
	return append([]model.Category(nil), f.categories...), nil
}

func (f *fakeSource) MerchantRules(_ context.Context) ([]model.MerchantRule, error) {
	return append([]model.MerchantRule(nil), f.merchantRules...), nil
}

func (f *fakeSource) KeywordRules(_ context.Context) ([]model.KeywordRule, error) {
	return append([]model.KeywordRule(nil), f.keywordRules...), nil
}

func (f *fakeSource) AppendMerchantRule(_ context.Context, rule *model.MerchantRule) error {
	rule.Position = len(f.merchantRules)
	rule.CreatedAt = time.Now()
	f.merchantRules = append(f.merchantRules, *rule)
	return nil
}

func (f *fakeSource) AppendKeywordRule(_ context.Context, rule *model.KeywordRule) error {
	rule.Position = len(f.keywordRules)
	f.keywordRules = append(f.keywordRules, *rule)
	return nil
}

func (f *fakeSource) CreateCategory(_ context.Context, category model.Category) error {
	f.categories = append(f.categories, category)
	return nil
}

func testSource() *fakeSource {
	return &fakeSource{
		categories: []model.Category{
			{ID: "groceries", Name: "Groceries"},
			{ID: "fuel", Name: "Fuel"},
			{ID: "supplies", Name: "Supplies"},
		},
		merchantRules: []model.MerchantRule{
			{Pattern: "costco gas", CategoryID: "fuel", Confidence: 100, Position: 0},
			{Pattern: "costco", CategoryID: "groceries", Confidence: 90, Position: 1},
		},
		keywordRules: []model.KeywordRule{
			{Word: "battery", CategoryID: "supplies", Priority: 5, Position: 0},
			{Word: "market", CategoryID: "groceries", Priority: 10, Position: 1},
		},
	}
}

func newTestStore(t *testing.T) (*Store, *fakeSource) {
	t.Helper()
	source := testSource()
	store, err := NewStore(context.Background(), source)
	require.NoError(t, err)
	return store, source
}

func TestMerchantFirstMatchWins(t *testing.T) {
	store, _ := newTestStore(t)
	snap := store.Snapshot()

	rule, ok := snap.MatchMerchant("COSTCO GAS #123 SEATTLE")
	require.True(t, ok)
	assert.Equal(t, "fuel", rule.CategoryID, "more specific earlier rule must win")

	rule, ok = snap.MatchMerchant("COSTCO WHSE #456")
	require.True(t, ok)
	assert.Equal(t, "groceries", rule.CategoryID)

	_, ok = snap.MatchMerchant("SHELL OIL")
	assert.False(t, ok)
}

func TestKeywordWordBoundary(t *testing.T) {
	store, _ := newTestStore(t)
	snap := store.Snapshot()

	rule, ok := snap.MatchKeyword("Duracell battery 4 pack")
	require.True(t, ok)
	assert.Equal(t, "supplies", rule.CategoryID)

	_, ok = snap.MatchKeyword("Combattery charger dock")
	assert.False(t, ok, "keyword must not match inside a larger word")
}

func TestKeywordHighestPriorityWins(t *testing.T) {
	store, _ := newTestStore(t)
	snap := store.Snapshot()

	rule, ok := snap.MatchKeyword("battery market stall")
	require.True(t, ok)
	assert.Equal(t, "market", rule.Word, "priority 10 beats priority 5")
}

func TestApplyValidatesPattern(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.Apply(ctx, ProposeRule{Pattern: "cvs", CategoryID: "supplies", Confidence: 90, Source: model.RuleLearned})
	require.ErrorIs(t, err, common.ErrInvalidConfig)

	err = store.Apply(ctx, ProposeRule{Pattern: "trader joe", CategoryID: "nonsense", Confidence: 90, Source: model.RuleLearned})
	require.ErrorIs(t, err, common.ErrUnknownCategory)

	err = store.Apply(ctx, ProposeRule{Pattern: "COSTCO", CategoryID: "groceries", Confidence: 90, Source: model.RuleManual})
	require.ErrorIs(t, err, common.ErrDuplicateRule, "patterns are compared case-insensitively")
}

func TestApplyAppendsToEnd(t *testing.T) {
	store, source := newTestStore(t)
	ctx := context.Background()

	err := store.Apply(ctx, ProposeRule{
		Pattern:    "Trader Joe",
		CategoryID: "groceries",
		Confidence: 90,
		Note:       "Auto-learned from 2 fallback categorizations",
		Source:     model.RuleLearned,
	})
	require.NoError(t, err)

	rules := store.Snapshot().MerchantRules()
	require.Len(t, rules, 3)
	assert.Equal(t, "trader joe", rules[2].Pattern, "new rules append, never shadow existing ones")
	assert.Equal(t, model.RuleLearned, rules[2].Source)

	// Snapshot reloaded after the mutation.
	rule, ok := store.Snapshot().MatchMerchant("TRADER JOE'S #51")
	require.True(t, ok)
	assert.Equal(t, "groceries", rule.CategoryID)

	require.Len(t, source.merchantRules, 3)
}

func TestSnapshotIsolation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	before := store.Snapshot()
	require.NoError(t, store.Apply(ctx, ProposeRule{
		Pattern: "trader joe", CategoryID: "groceries", Confidence: 90, Source: model.RuleLearned,
	}))

	assert.Len(t, before.MerchantRules(), 2, "held snapshots must not change")
	assert.Len(t, store.Snapshot().MerchantRules(), 3)
}

func TestSnapshotSkipsRulesWithUnknownCategory(t *testing.T) {
	source := testSource()
	source.merchantRules = append(source.merchantRules,
		model.MerchantRule{Pattern: "orphan store", CategoryID: "deleted", Confidence: 90})

	store, err := NewStore(context.Background(), source)
	require.NoError(t, err)

	_, ok := store.Snapshot().MatchMerchant("ORPHAN STORE #1")
	assert.False(t, ok)
}

func TestCreateCategoryValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.CreateCategory(ctx, model.Category{ID: "Bad-ID", Name: "Bad"})
	require.ErrorIs(t, err, common.ErrInvalidConfig)

	err = store.CreateCategory(ctx, model.Category{ID: "household", Name: "Household", ParentID: "missing"})
	require.ErrorIs(t, err, common.ErrUnknownCategory)

	err = store.CreateCategory(ctx, model.Category{ID: "household", Name: "Household", ParentID: "supplies"})
	require.NoError(t, err)
	assert.True(t, store.ValidateCategory("household"))
}
