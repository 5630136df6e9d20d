package invoice

import (
	"time"

	"github.com/flexprice/revsync/internal/types"
)

// LineItemTypeSubscription is the only line item type the destination
// accepts from this system.
const LineItemTypeSubscription = "subscription"

// LineItem is one normalized subscription line on an invoice. Amounts
// are minor currency units. The JSON tags are the destination wire
// contract and must not change.
type LineItem struct {
	Type                   string `json:"type"`
	SubscriptionExternalID string `json:"subscription_external_id"`
	// PlanCode is the source accounting code; the sink resolves it to
	// the destination plan UUID before submission.
	PlanCode              string     `json:"plan_uuid"`
	ServicePeriodStart    time.Time  `json:"service_period_start"`
	ServicePeriodEnd      time.Time  `json:"service_period_end"`
	AmountInCents         int64      `json:"amount_in_cents"`
	DiscountAmountInCents int64      `json:"discount_amount_in_cents"`
	TaxAmountInCents      int64      `json:"tax_amount_in_cents"`
	Quantity              int64      `json:"quantity"`
	Prorated              bool       `json:"prorated"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
	ExternalID            string     `json:"external_id"`

	// AmendmentType is cancellation-resolver bookkeeping. It is
	// stripped before the invoice is considered final output.
	AmendmentType string `json:"-"`
}

// IsRemoval reports whether the item came from a removal amendment
func (li *LineItem) IsRemoval() bool {
	return li.AmendmentType != ""
}

// Clone returns a deep copy of the line item
func (li *LineItem) Clone() *LineItem {
	clone := *li
	if li.CancelledAt != nil {
		t := *li.CancelledAt
		clone.CancelledAt = &t
	}
	return &clone
}

// MergeKey identifies line items that are near-duplicates of each
// other: same service period, subscription and plan.
type MergeKey struct {
	ServiceStart   time.Time
	ServiceEnd     time.Time
	SubscriptionID string
	PlanCode       string
}

// Key returns the merge identity of the line item
func (li *LineItem) Key() MergeKey {
	return MergeKey{
		ServiceStart:   li.ServicePeriodStart,
		ServiceEnd:     li.ServicePeriodEnd,
		SubscriptionID: li.SubscriptionExternalID,
		PlanCode:       li.PlanCode,
	}
}

// Transaction is a payment or refund recorded on an invoice
type Transaction struct {
	Date       time.Time               `json:"date"`
	Type       types.TransactionType   `json:"type"`
	Result     types.TransactionResult `json:"result"`
	ExternalID string                  `json:"external_id"`
}

// Invoice is one self-consistent invoice aggregate ready for the sink.
// External ids are lexically increasing with time; the reconciliation
// passes rely on that ordering. An invoice becomes immutable once
// handed to the sink.
type Invoice struct {
	ExternalID   string         `json:"external_id"`
	AccountID    string         `json:"-"`
	Date         time.Time      `json:"date"`
	DueDate      time.Time      `json:"due_date"`
	Currency     string         `json:"currency"`
	LineItems    []*LineItem    `json:"line_items"`
	Transactions []*Transaction `json:"transactions"`
}

// TotalCents is the sum of all line item amounts in minor units
func (inv *Invoice) TotalCents() int64 {
	var total int64
	for _, li := range inv.LineItems {
		total += li.AmountInCents
	}
	return total
}

// IsEmpty reports whether the invoice has no line items left
func (inv *Invoice) IsEmpty() bool {
	return len(inv.LineItems) == 0
}

// StripBookkeeping clears resolver-internal markers from all line items
func (inv *Invoice) StripBookkeeping() {
	for _, li := range inv.LineItems {
		li.AmendmentType = ""
	}
}
