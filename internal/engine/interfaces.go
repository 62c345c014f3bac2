package engine

import (
	"context"

	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/service"
)

// Fallback is the external categorization collaborator, called once per
// batch for the rows no rule resolved.
type Fallback interface {
	SuggestCategories(ctx context.Context, requests []service.FallbackRequest, taxonomy []model.Category) ([]service.FallbackSuggestion, error)
}

// Prompter reviews flagged decisions interactively. Confirming or
// overriding a decision makes it manual; manual decisions are never
// overwritten by later runs.
type Prompter interface {
	Review(ctx context.Context, row model.ExpandedItemRow, decision model.CategorizationDecision, categories []model.Category) (model.CategorizationDecision, error)
}
