package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a single bank transaction as imported from any
// source. Amounts are signed: negative is a charge, positive a credit.
type Transaction struct {
	Date        time.Time
	Key         string
	Description string
	Account     string
	Amount      decimal.Decimal
}

// IsCredit reports whether the transaction is a credit or refund.
func (t *Transaction) IsCredit() bool {
	return !t.Amount.IsNegative()
}

// GenerateKey derives the stable identity used for idempotent output
// writes. No upstream identifier survives across imports, so the key is
// a composite of the fields that do.
func (t *Transaction) GenerateKey() string {
	data := fmt.Sprintf("%s:%s:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		t.Description,
		t.Account)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
