package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/jmorrill/itemflow/internal/common"
	"github.com/jmorrill/itemflow/internal/model"
)

// Categories returns all defined categories.
func (s *SQLiteStorage) Categories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(parent_id, ''), COALESCE(description, ''),
			COALESCE(monthly_budget, '0'), created_at
		FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		var budget string
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID, &c.Description, &budget, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		if c.MonthlyBudget, err = decimal.NewFromString(budget); err != nil {
			return nil, fmt.Errorf("corrupt budget for category %s: %w", c.ID, err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// MerchantRules returns the merchant rules in list order. Position is
// part of the rule's meaning: the first matching pattern wins.
func (s *SQLiteStorage) MerchantRules(ctx context.Context) ([]model.MerchantRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, pattern, category_id, confidence, COALESCE(note, ''), source, created_at
		FROM merchant_rules ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchant rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.MerchantRule
	for rows.Next() {
		var r model.MerchantRule
		var source string
		if err := rows.Scan(&r.Position, &r.Pattern, &r.CategoryID, &r.Confidence,
			&r.Note, &source, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan merchant rule: %w", err)
		}
		r.Source = model.RuleSource(source)
		out = append(out, r)
	}
	return out, rows.Err()
}

// KeywordRules returns the keyword rules in definition order.
func (s *SQLiteStorage) KeywordRules(ctx context.Context) ([]model.KeywordRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, word, category_id, priority, created_at
		FROM keyword_rules ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query keyword rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.KeywordRule
	for rows.Next() {
		var r model.KeywordRule
		if err := rows.Scan(&r.Position, &r.Word, &r.CategoryID, &r.Priority, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan keyword rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendMerchantRule adds a rule to the end of the ordered list.
func (s *SQLiteStorage) AppendMerchantRule(ctx context.Context, rule *model.MerchantRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(rule.Pattern, "pattern"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merchant_rules (pattern, category_id, confidence, note, source)
		VALUES (?, ?, ?, ?, ?)`,
		rule.Pattern, rule.CategoryID, rule.Confidence, rule.Note, string(rule.Source))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: merchant pattern %q", common.ErrDuplicateRule, rule.Pattern)
		}
		return fmt.Errorf("failed to insert merchant rule: %w", err)
	}
	return nil
}

// AppendKeywordRule adds a keyword rule.
func (s *SQLiteStorage) AppendKeywordRule(ctx context.Context, rule *model.KeywordRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(rule.Word, "word"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keyword_rules (word, category_id, priority) VALUES (?, ?, ?)`,
		rule.Word, rule.CategoryID, rule.Priority)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: keyword %q", common.ErrDuplicateRule, rule.Word)
		}
		return fmt.Errorf("failed to insert keyword rule: %w", err)
	}
	return nil
}

// CreateCategory adds a category.
func (s *SQLiteStorage) CreateCategory(ctx context.Context, category model.Category) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(category.ID, "category id"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, parent_id, description, monthly_budget)
		VALUES (?, ?, ?, ?, ?)`,
		category.ID, category.Name, category.ParentID, category.Description,
		category.MonthlyBudget.StringFixed(2))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: category %q", common.ErrDuplicateEntry, category.ID)
		}
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
