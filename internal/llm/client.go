package llm

import (
	"context"

	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/service"
)

// Client suggests categories for rows that no rule covered. Suggestions
// come back in batch; callers validate category IDs against the taxonomy
// before trusting them.
type Client interface {
	SuggestCategories(ctx context.Context, requests []service.FallbackRequest, taxonomy []model.Category) ([]service.FallbackSuggestion, error)
	Close() error
}

// Config configures the fallback categorization client.
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	Temperature       float64
	MaxTokens         int
	RequestsPerMinute int
}
