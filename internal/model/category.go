package model

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Category represents a valid budget category. Rules reference categories
// by ID, so a category must exist before any rule may point at it.
type Category struct {
	CreatedAt     time.Time
	ID            string
	Name          string
	ParentID      string
	Description   string
	MonthlyBudget decimal.Decimal
}

var categoryIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidID reports whether the category ID is a well-formed lowercase token.
func (c *Category) ValidID() bool {
	return categoryIDPattern.MatchString(c.ID)
}
