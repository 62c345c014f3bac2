package match

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amount and date score weights.
const (
	exactAmountScore  = 50
	closeAmountScore  = 30
	withinTolScore    = 20
	dateProximityBase = 20
	dateDecayPerDay   = 3
	sameDayBonus      = 10
	maxScore          = 100
)

var centTolerance = decimal.New(1, -2) // $0.01

// score computes the confidence for one (transaction, order) pair.
// Returns ok=false when the amount delta exceeds the maximum tolerance,
// which disqualifies the pair entirely.
func (m *Matcher) score(txnAmount, orderTotal decimal.Decimal, dayDiff int) (int, decimal.Decimal, bool) {
	delta := txnAmount.Sub(orderTotal).Abs()

	var score int
	switch {
	case delta.LessThan(centTolerance):
		score = exactAmountScore
	case delta.LessThanOrEqual(m.config.CloseTolerance):
		score = closeAmountScore
	case delta.LessThanOrEqual(m.config.MaxTolerance):
		score = withinTolScore
	default:
		return 0, delta, false
	}

	// Date proximity decays per day and floors at zero; a far date never
	// subtracts from the amount score.
	dateScore := dateProximityBase - dateDecayPerDay*dayDiff
	if dateScore < 0 {
		dateScore = 0
	}
	score += dateScore

	if dayDiff == 0 {
		score += sameDayBonus
	}
	if score > maxScore {
		score = maxScore
	}

	return score, delta, true
}

// dayDistance is the absolute calendar-day distance between two
// timestamps. Both sides are normalized to midnight first so a
// time-of-day component can't push a date across the boundary.
func dayDistance(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := int(a.Sub(b).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d
}
