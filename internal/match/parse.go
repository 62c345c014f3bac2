package match

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmorrill/itemflow/internal/common"
	"github.com/jmorrill/itemflow/internal/model"
	"github.com/shopspring/decimal"
)

// RawTransaction is a transaction as read from a tabular source, before
// type validation.
type RawTransaction struct {
	Date        string
	Description string
	Amount      string
	Account     string
	Row         int
}

var dateFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"01/02/06",
}

// ParseTransactions converts raw rows into typed transactions. Malformed
// rows (unparseable date, non-numeric amount) are reported per row and
// never abort the batch.
func ParseTransactions(raws []RawTransaction) ([]model.Transaction, []error) {
	txns := make([]model.Transaction, 0, len(raws))
	var errs []error

	for _, raw := range raws {
		txn, err := parseTransaction(raw)
		if err != nil {
			errs = append(errs, common.NewRowError(raw.Row, err))
			continue
		}
		txns = append(txns, txn)
	}

	return txns, errs
}

func parseTransaction(raw RawTransaction) (model.Transaction, error) {
	date, err := ParseDate(raw.Date)
	if err != nil {
		return model.Transaction{}, err
	}

	amount, err := ParseAmount(raw.Amount)
	if err != nil {
		return model.Transaction{}, err
	}

	txn := model.Transaction{
		Date:        date,
		Description: strings.TrimSpace(raw.Description),
		Amount:      amount,
		Account:     strings.TrimSpace(raw.Account),
	}
	txn.Key = txn.GenerateKey()
	return txn, nil
}

// ParseDate parses a date in any of the accepted tabular formats,
// normalized to midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// ParseAmount parses a currency amount, tolerating $ signs, commas, and
// surrounding whitespace.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("empty amount")
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("non-numeric amount %q", s)
	}
	return amount, nil
}
