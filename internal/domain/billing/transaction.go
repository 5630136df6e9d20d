package billing

import (
	"time"

	"github.com/flexprice/revsync/internal/types"
	"github.com/shopspring/decimal"
)

// RawTransaction is a payment or refund recorded by the source against
// an invoice. Transactions validate invoice totals; they are not
// persisted on their own.
type RawTransaction struct {
	ID            string
	AccountID     string
	InvoiceNumber string
	Kind          types.TransactionType
	Status        string
	Amount        decimal.Decimal
	Date          time.Time
}

// Succeeded reports whether the source settled the transaction
func (t *RawTransaction) Succeeded() bool {
	return t.Status == types.SourceTransactionStatusProcessed ||
		t.Status == types.SourceTransactionStatusSettled
}
