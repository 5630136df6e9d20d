package billing

import (
	"time"

	ierr "github.com/flexprice/revsync/internal/errors"
	"github.com/shopspring/decimal"
)

// RawBillingItem is one charge/credit/discount/tax line pulled from the
// billing source, pre-joined with its invoice/account/subscription
// context. It is immutable and consumed exactly once by classification.
type RawBillingItem struct {
	ID              string
	AccountID       string
	SubscriptionID  string
	InvoiceNumber   string
	InvoiceDate     time.Time
	InvoiceDueDate  time.Time
	InvoiceAmount   decimal.Decimal
	InvoiceBalance  decimal.Decimal
	InvoiceStatus   string
	Currency        string
	ChargeName      string
	ChargeAmount    decimal.Decimal
	TaxAmount       decimal.Decimal
	Quantity        int64
	ServiceStart    time.Time
	ServiceEnd      time.Time
	AccountingCode  string
	AmendmentType   string
	AppliedToItemID string
}

// Amendment types the source uses on removal/downgrade items
const (
	AmendmentRemoveProduct = "RemoveProduct"
	AmendmentCancellation  = "Cancellation"
)

// IsRemoval reports whether the item was produced by a removal amendment
func (i *RawBillingItem) IsRemoval() bool {
	return i.AmendmentType == AmendmentRemoveProduct || i.AmendmentType == AmendmentCancellation
}

// Validate rejects rows the reconciliation engine cannot model. A
// malformed row is always fatal for its invoice, never skipped.
func (i *RawBillingItem) Validate() error {
	if i.InvoiceNumber == "" {
		return ierr.NewError("billing item has no invoice number").
			WithReportableDetails(map[string]any{"item_id": i.ID}).
			Mark(ierr.ErrValidation)
	}
	if i.ServiceStart.IsZero() || i.ServiceEnd.IsZero() {
		return ierr.NewError("billing item has no service period").
			WithReportableDetails(map[string]any{
				"item_id": i.ID,
				"invoice": i.InvoiceNumber,
			}).
			Mark(ierr.ErrValidation)
	}
	if len(i.Currency) != 3 {
		return ierr.NewError("billing item has an unknown currency").
			WithReportableDetails(map[string]any{
				"item_id":  i.ID,
				"invoice":  i.InvoiceNumber,
				"currency": i.Currency,
			}).
			Mark(ierr.ErrValidation)
	}
	if i.ChargeName == "" {
		return ierr.NewError("billing item has no charge name").
			WithReportableDetails(map[string]any{
				"item_id": i.ID,
				"invoice": i.InvoiceNumber,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
