package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/jmorrill/itemflow/internal/common"
	"github.com/jmorrill/itemflow/internal/learn"
	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/rules"
	"github.com/jmorrill/itemflow/internal/service"
)

// maxConsecutiveBatchErrors stops a run that is clearly not making
// progress instead of burning the whole batch budget on a dead service.
const maxConsecutiveBatchErrors = 3

// RunConfig controls one categorization run.
type RunConfig struct {
	BatchSize   int
	MaxBatches  int
	BatchDelay  time.Duration
	DryRun      bool
	NoLearn     bool
	Interactive bool
}

// Validate checks the run configuration.
func (c RunConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxBatches < 0 {
		return fmt.Errorf("max batches must not be negative, got %d", c.MaxBatches)
	}
	return nil
}

// Runner executes the batch categorization loop: fetch uncategorized
// rows, decide deterministically, send the remainder to the fallback,
// write decisions back, and feed the learner.
type Runner struct {
	store       service.RowStore
	rules       *rules.Store
	categorizer *Categorizer
	fallback    Fallback
	prompter    Prompter
	learner     *learn.Learner
	config      RunConfig
}

// NewRunner wires a runner. fallback may be nil, in which case rows the
// rules can't place stay uncategorized; prompter is only consulted when
// the run is interactive.
func NewRunner(store service.RowStore, ruleStore *rules.Store, categorizer *Categorizer, fallback Fallback, prompter Prompter, config RunConfig) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}
	if config.Interactive && prompter == nil {
		return nil, fmt.Errorf("interactive run requires a prompter")
	}
	return &Runner{
		store:       store,
		rules:       ruleStore,
		categorizer: categorizer,
		fallback:    fallback,
		prompter:    prompter,
		learner:     learn.New(),
		config:      config,
	}, nil
}

// Run processes batches strictly in sequence until no uncategorized
// rows remain or the batch budget is spent. Resumability comes from the
// fetch itself: rows that already have a decision are never returned,
// so re-running after a failure picks up exactly where the failure left
// off. A failing batch leaves its rows uncategorized; decisions written
// by earlier batches persist.
func (r *Runner) Run(ctx context.Context) (service.CompletionStats, error) {
	start := time.Now()
	stats := service.CompletionStats{}

	var bar *progressbar.ProgressBar
	if r.config.MaxBatches > 0 {
		bar = progressbar.Default(int64(r.config.MaxBatches), "categorizing")
	} else {
		bar = progressbar.Default(-1, "categorizing")
	}

	consecutiveErrors := 0
	for batch := 0; r.config.MaxBatches == 0 || batch < r.config.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}

		rows, err := r.store.GetUncategorizedRows(ctx, r.config.BatchSize)
		if err != nil {
			stats.Duration = time.Since(start)
			return stats, fmt.Errorf("fetching batch %d: %w", batch, err)
		}
		if len(rows) == 0 {
			break
		}

		decided, err := r.processBatch(ctx, rows, &stats)
		if err != nil {
			consecutiveErrors++
			stats.Errors++
			slog.Error("batch failed, rows stay uncategorized for the next run",
				"batch", batch, "rows", len(rows), "error", err)
			if consecutiveErrors >= maxConsecutiveBatchErrors {
				stats.Duration = time.Since(start)
				return stats, fmt.Errorf("aborting after %d consecutive batch failures: %w",
					consecutiveErrors, err)
			}
		} else {
			consecutiveErrors = 0
			if decided == 0 {
				// No fallback available for the remaining rows; fetching
				// again would return the same batch forever.
				slog.Warn("batch made no progress, stopping",
					"batch", batch, "rows", len(rows))
				break
			}
		}

		_ = bar.Add(1)

		if r.config.DryRun {
			// Nothing was written, so the next fetch would return the
			// same rows again.
			slog.Info("dry run, stopping after one batch")
			break
		}

		if r.config.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				stats.Duration = time.Since(start)
				return stats, ctx.Err()
			case <-time.After(r.config.BatchDelay):
			}
		}
	}

	_ = bar.Finish()
	stats.Duration = time.Since(start)

	slog.Info("categorization run complete",
		"total_rows", stats.TotalRows,
		"rule_categorized", stats.RuleCategorized,
		"fallback_used", stats.FallbackUsed,
		"needs_review", stats.NeedsReview,
		"rules_learned", stats.RulesLearned,
		"errors", stats.Errors,
		"duration", stats.Duration)

	return stats, nil
}

// processBatch decides one batch against a single rule snapshot, then
// writes everything in one idempotent call. It returns the number of
// decisions made so the caller can tell a finished run from a stuck one.
func (r *Runner) processBatch(ctx context.Context, rows []model.ExpandedItemRow, stats *service.CompletionStats) (int, error) {
	snap := r.rules.Snapshot()

	decisions := make([]model.CategorizationDecision, 0, len(rows))
	var pending []model.ExpandedItemRow

	for _, row := range rows {
		stats.TotalRows++
		decision, needsFallback := r.categorizer.Decide(snap, row)
		if needsFallback {
			pending = append(pending, row)
			continue
		}
		stats.RuleCategorized++
		decisions = append(decisions, decision)
	}

	if len(pending) > 0 && r.fallback != nil {
		fallbackDecisions, err := r.runFallback(ctx, snap, pending)
		if err != nil {
			// Deterministic decisions from this batch are still written;
			// only the fallback rows carry over to the next run.
			if writeErr := r.writeDecisions(ctx, rows, decisions, stats); writeErr != nil {
				return len(decisions), errors.Join(err, writeErr)
			}
			return len(decisions), err
		}
		stats.FallbackUsed += len(fallbackDecisions)
		decisions = append(decisions, fallbackDecisions...)
	}

	return len(decisions), r.writeDecisions(ctx, rows, decisions, stats)
}

// runFallback sends one batch to the external service, validates the
// answers, and feeds accepted decisions to the learner. A learner
// promotion takes effect immediately: the snapshot is reloaded, so rows
// in later batches hit the new merchant rule at layer one.
func (r *Runner) runFallback(ctx context.Context, snap *rules.Snapshot, pending []model.ExpandedItemRow) ([]model.CategorizationDecision, error) {
	requests := make([]service.FallbackRequest, 0, len(pending))
	byKey := make(map[string]model.ExpandedItemRow, len(pending))
	for _, row := range pending {
		requests = append(requests, service.FallbackRequest{
			RowKey:      row.Key,
			Description: row.Description,
			Amount:      row.Amount,
		})
		byKey[row.Key] = row
	}

	var suggestions []service.FallbackSuggestion
	err := common.WithRetry(ctx, func() error {
		var callErr error
		suggestions, callErr = r.fallback.SuggestCategories(ctx, requests, r.rules.Categories())
		return callErr
	}, service.RetryOptions{MaxAttempts: 3, InitialDelay: 2 * time.Second, MaxDelay: 60 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("fallback batch: %w", err)
	}

	decisions := make([]model.CategorizationDecision, 0, len(suggestions))
	for _, s := range suggestions {
		row, ok := byKey[s.RowKey]
		if !ok {
			slog.Warn("fallback answered for unknown row", "row_key", s.RowKey)
			continue
		}

		decision := r.categorizer.AcceptSuggestion(snap, s.RowKey, s.CategoryID, s.Confidence)
		decisions = append(decisions, decision)

		if decision.CategoryID == "" || r.config.NoLearn || r.config.DryRun {
			continue
		}
		if proposal, promote := r.learner.Observe(row.Description, decision.CategoryID); promote {
			if err := r.promoteRule(ctx, proposal); err != nil {
				slog.Warn("rule promotion failed", "pattern", proposal.Pattern, "error", err)
			}
		}
	}

	return decisions, nil
}

func (r *Runner) promoteRule(ctx context.Context, proposal learn.Proposal) error {
	err := r.rules.Apply(ctx, rules.ProposeRule{
		Pattern:    proposal.Pattern,
		CategoryID: proposal.CategoryID,
		Confidence: learn.LearnedConfidence,
		Note:       fmt.Sprintf("Auto-learned from %d fallback categorizations", proposal.Count),
		Source:     model.RuleLearned,
	})
	if err != nil {
		// An equivalent rule landing first is fine; the pattern now
		// resolves at layer one either way.
		if errors.Is(err, common.ErrDuplicateRule) {
			return nil
		}
		return err
	}

	slog.Info("learned merchant rule",
		"pattern", proposal.Pattern,
		"category", proposal.CategoryID,
		"observations", proposal.Count)
	return nil
}

// writeDecisions routes flagged decisions through the prompter when
// interactive, then persists the batch. Manual-decision conflicts are
// skipped by the store, not errors.
func (r *Runner) writeDecisions(ctx context.Context, rows []model.ExpandedItemRow, decisions []model.CategorizationDecision, stats *service.CompletionStats) error {
	if len(decisions) == 0 {
		return nil
	}

	byKey := make(map[string]model.ExpandedItemRow, len(rows))
	for _, row := range rows {
		byKey[row.Key] = row
	}

	if r.config.Interactive {
		categories := r.rules.Categories()
		for i, decision := range decisions {
			if !decision.NeedsReview {
				continue
			}
			reviewed, err := r.prompter.Review(ctx, byKey[decision.RowKey], decision, categories)
			if err != nil {
				return fmt.Errorf("interactive review: %w", err)
			}
			decisions[i] = reviewed
		}
	}

	for _, d := range decisions {
		if d.NeedsReview {
			stats.NeedsReview++
		}
	}

	if r.config.DryRun {
		slog.Info("dry run, skipping write", "decisions", len(decisions))
		return nil
	}

	result, err := r.store.WriteDecisions(ctx, decisions)
	if err != nil {
		return fmt.Errorf("writing decisions: %w", err)
	}
	for _, writeErr := range result.Errors {
		stats.Errors++
		common.LogError(writeErr, "decision rejected", nil)
	}

	stats.RulesLearned = r.learner.PromotedCount()
	return nil
}
