// Package match pairs bank transactions with parsed order records and
// expands matches into item-level output rows.
package match

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jmorrill/itemflow/internal/model"
	"github.com/shopspring/decimal"
)

// Config holds the matching tolerances and thresholds. DateWindowDays
// has no default: source documents disagree on the window, so callers
// must choose one explicitly.
type Config struct {
	DateWindowDays int
	CloseTolerance decimal.Decimal
	MaxTolerance   decimal.Decimal
	ThresholdHigh  int
	ThresholdLow   int
}

// DefaultConfig returns the standard tolerances and thresholds. The
// date window is left zero and must be set by the caller.
func DefaultConfig() Config {
	return Config{
		CloseTolerance: decimal.NewFromInt(1),
		MaxTolerance:   decimal.NewFromInt(3),
		ThresholdHigh:  70,
		ThresholdLow:   40,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.DateWindowDays <= 0 {
		return fmt.Errorf("date window must be positive, got %d", c.DateWindowDays)
	}
	if c.ThresholdLow <= 0 || c.ThresholdHigh <= c.ThresholdLow {
		return fmt.Errorf("thresholds must satisfy 0 < low < high, got low=%d high=%d",
			c.ThresholdLow, c.ThresholdHigh)
	}
	if c.MaxTolerance.LessThan(c.CloseTolerance) {
		return fmt.Errorf("max tolerance %s below close tolerance %s",
			c.MaxTolerance, c.CloseTolerance)
	}
	return nil
}

// Matcher scores transactions against the order pool and assigns
// matches globally, highest score first.
type Matcher struct {
	config Config
}

// New creates a matcher with the given configuration.
func New(config Config) (*Matcher, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid match config: %w", err)
	}
	return &Matcher{config: config}, nil
}

// candidate is one scored (transaction, order) pair.
type candidate struct {
	amountDelta decimal.Decimal
	txnIdx      int
	orderIdx    int
	score       int
	dayDiff     int
}

// Match scores every transaction against every eligible order and
// assigns matches greedily from the highest score down, so an early
// transaction can never steal an order from a better-scoring later one.
// Each order is consumed at most once per run. Absence of a match is a
// status, never an error.
func (m *Matcher) Match(txns []model.Transaction, orders []model.ParsedOrderRecord) []model.MatchResult {
	pool := make([]model.ParsedOrderRecord, 0, len(orders))
	for _, o := range orders {
		if o.Matchable() {
			pool = append(pool, o)
		}
	}

	candidates := m.scoreAll(txns, pool)

	// Highest score first; break ties on the tighter amount, then the
	// nearer date, then input order for determinism.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.amountDelta.Equal(b.amountDelta) {
			return a.amountDelta.LessThan(b.amountDelta)
		}
		if a.dayDiff != b.dayDiff {
			return a.dayDiff < b.dayDiff
		}
		if a.txnIdx != b.txnIdx {
			return a.txnIdx < b.txnIdx
		}
		return a.orderIdx < b.orderIdx
	})

	assigned := make(map[int]candidate, len(txns))
	usedOrders := make(map[int]bool, len(pool))

	for _, c := range candidates {
		if _, taken := assigned[c.txnIdx]; taken {
			continue
		}
		if usedOrders[c.orderIdx] {
			continue
		}
		if c.score < m.config.ThresholdLow {
			continue
		}
		assigned[c.txnIdx] = c
		usedOrders[c.orderIdx] = true
	}

	results := make([]model.MatchResult, 0, len(txns))
	for i, txn := range txns {
		c, ok := assigned[i]
		if !ok {
			results = append(results, m.unmatchedResult(txn))
			continue
		}

		order := pool[c.orderIdx]
		status := model.MatchLow
		if c.score >= m.config.ThresholdHigh {
			status = model.MatchHigh
		}

		result := model.MatchResult{
			Transaction: txn,
			Order:       &order,
			Score:       c.score,
			Status:      status,
		}
		result.Rows = expandItems(txn, &order, c.score, status)
		results = append(results, result)

		slog.Debug("matched transaction",
			"txn", txn.Description,
			"order", order.ExternalID,
			"score", c.score,
			"status", status)
	}

	return results
}

// scoreAll builds the full candidate list across all pairs.
func (m *Matcher) scoreAll(txns []model.Transaction, pool []model.ParsedOrderRecord) []candidate {
	var candidates []candidate

	for ti, txn := range txns {
		wantKind := model.KindOrder
		if txn.IsCredit() {
			wantKind = model.KindReturn
		}
		txnAmount := txn.Amount.Abs()

		for oi := range pool {
			order := &pool[oi]
			if order.Kind != wantKind {
				continue
			}

			dayDiff := dayDistance(txn.Date, order.Timestamp)
			if dayDiff > m.config.DateWindowDays {
				continue
			}

			score, delta, ok := m.score(txnAmount, order.Total, dayDiff)
			if !ok {
				continue
			}

			candidates = append(candidates, candidate{
				txnIdx:      ti,
				orderIdx:    oi,
				score:       score,
				amountDelta: delta,
				dayDiff:     dayDiff,
			})
		}
	}

	return candidates
}

// unmatchedResult emits the transaction as a single unexpanded row
// carrying the original description, flagged for review.
func (m *Matcher) unmatchedResult(txn model.Transaction) model.MatchResult {
	row := model.ExpandedItemRow{
		Key:         model.RowKey(txn.Key, 0),
		TxnKey:      txn.Key,
		Date:        txn.Date,
		Description: txn.Description,
		Account:     txn.Account,
		Amount:      txn.Amount,
		MatchStatus: model.MatchUnmatched,
	}
	return model.MatchResult{
		Transaction: txn,
		Status:      model.MatchUnmatched,
		Rows:        []model.ExpandedItemRow{row},
	}
}

// expandItems produces one output row per line item of the matched
// order. An order with no parsed items still yields exactly one row,
// using the order total as a single pseudo-item.
func expandItems(txn model.Transaction, order *model.ParsedOrderRecord, score int, status model.MatchStatus) []model.ExpandedItemRow {
	if len(order.Items) == 0 {
		return []model.ExpandedItemRow{{
			Key:         model.RowKey(txn.Key, 0),
			TxnKey:      txn.Key,
			Date:        txn.Date,
			Description: txn.Description,
			Account:     txn.Account,
			OrderRef:    order.ExternalID,
			Amount:      txn.Amount,
			ItemPrice:   order.Total,
			ItemQty:     1,
			Confidence:  score,
			MatchStatus: status,
		}}
	}

	rows := make([]model.ExpandedItemRow, 0, len(order.Items))
	for i, item := range order.Items {
		rows = append(rows, model.ExpandedItemRow{
			Key:         model.RowKey(txn.Key, i),
			TxnKey:      txn.Key,
			Date:        txn.Date,
			Description: SummarizeItemName(item.Name),
			Account:     txn.Account,
			OrderRef:    order.ExternalID,
			Amount:      txn.Amount,
			ItemPrice:   item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
			ItemQty:     item.Quantity,
			Ordinal:     i,
			Confidence:  score,
			MatchStatus: status,
		})
	}
	return rows
}
