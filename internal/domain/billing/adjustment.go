package billing

import (
	"time"

	"github.com/flexprice/revsync/internal/types"
	"github.com/shopspring/decimal"
)

// RawAdjustment is a signed correction recorded by the source against
// an item, an invoice, or the customer's credit balance. The polarity
// of Type depends on Kind: item/invoice adjustments use Charge/Credit,
// credit-balance adjustments use Increase/Decrease.
type RawAdjustment struct {
	ID            string
	AccountID     string
	Kind          types.AdjustmentKind
	Type          string
	Status        string
	Amount        decimal.Decimal
	InvoiceNumber string
	ItemID        string
	ReasonCode    string
	CreatedAt     time.Time
}

// SignedAmount resolves the source's per-kind polarity convention into
// a plain signed amount: credits and decreases reduce what the customer
// owes, charges and increases raise it.
func (a *RawAdjustment) SignedAmount() decimal.Decimal {
	switch a.Type {
	case types.AdjustmentTypeCredit, types.AdjustmentTypeDecrease:
		return a.Amount.Abs().Neg()
	default:
		return a.Amount.Abs()
	}
}

// IsProcessed reports whether the adjustment is effective
func (a *RawAdjustment) IsProcessed() bool {
	return a.Status == types.AdjustmentStatusProcessed
}

// WithAmount returns a copy of the adjustment carrying a different
// amount and id, used when a credit-balance adjustment is split across
// invoices.
func (a *RawAdjustment) WithAmount(id string, amount decimal.Decimal) *RawAdjustment {
	clone := *a
	clone.ID = id
	clone.Amount = amount
	return &clone
}
