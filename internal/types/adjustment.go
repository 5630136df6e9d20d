package types

import (
	ierr "github.com/flexprice/revsync/internal/errors"
	"github.com/samber/lo"
)

// AdjustmentKind says what a raw adjustment is attached to. The source
// exposes three independent record types with different polarity
// conventions, so the kind decides how the type tag is interpreted.
type AdjustmentKind string

const (
	// AdjustmentKindItem adjusts a single billing item
	AdjustmentKindItem AdjustmentKind = "item"
	// AdjustmentKindInvoice adjusts an invoice as a whole
	AdjustmentKindInvoice AdjustmentKind = "invoice"
	// AdjustmentKindCreditBalance adjusts the customer's credit balance,
	// optionally referencing an invoice
	AdjustmentKindCreditBalance AdjustmentKind = "credit_balance"
)

func (k AdjustmentKind) String() string {
	return string(k)
}

func (k AdjustmentKind) Validate() error {
	allowed := []AdjustmentKind{
		AdjustmentKindItem,
		AdjustmentKindInvoice,
		AdjustmentKindCreditBalance,
	}
	if !lo.Contains(allowed, k) {
		return ierr.NewError("invalid adjustment kind").
			WithHint("Please provide a valid adjustment kind").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Type tags used by item/invoice adjustments
const (
	AdjustmentTypeCharge = "Charge"
	AdjustmentTypeCredit = "Credit"
)

// Type tags used by credit-balance adjustments
const (
	AdjustmentTypeIncrease = "Increase"
	AdjustmentTypeDecrease = "Decrease"
)

// Adjustment statuses considered effective
const (
	AdjustmentStatusProcessed = "Processed"
	AdjustmentStatusCanceled  = "Canceled"
)
