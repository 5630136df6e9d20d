package reconcile

import (
	ierr "github.com/flexprice/revsync/internal/errors"
)

// Machine-readable codes for the reconciliation error taxonomy. They
// ride along as reportable details so operators can tell the failure
// modes apart without parsing messages.
const (
	CodeUnknownChargeType     = "unknown_charge_type"
	CodeTotalMismatch         = "total_mismatch"
	CodeUnmatchedCredit       = "unmatched_credit"
	CodeUnmatchedRefund       = "unmatched_refund"
	CodeUnappliedRefund       = "unapplied_refund"
	CodePartiallyAdjusted     = "partially_adjusted"
	CodeUnexpectedPaymentCase = "unexpected_payment_case"
)

// newUnknownChargeTypeError is fatal: a new product SKU must be added
// to the classification table explicitly before it can be reconciled.
func newUnknownChargeTypeError(chargeName, itemID, tableVersion string) error {
	return ierr.NewError("unknown charge type").
		WithHintf("charge name %q is not in classification table version %s", chargeName, tableVersion).
		WithReportableDetails(map[string]any{
			"code":        CodeUnknownChargeType,
			"charge_name": chargeName,
			"item_id":     itemID,
		}).
		Mark(ierr.ErrValidation)
}

func newTotalMismatchError(invoiceNumber string, expectedCents, actualCents int64) error {
	return ierr.NewError("invoice total does not match line items").
		WithHintf("invoice %s: expected %d cents, line items sum to %d cents", invoiceNumber, expectedCents, actualCents).
		WithReportableDetails(map[string]any{
			"code":           CodeTotalMismatch,
			"invoice_number": invoiceNumber,
			"expected_cents": expectedCents,
			"actual_cents":   actualCents,
		}).
		Mark(ierr.ErrReconciliation)
}

func newUnmatchedCreditError(invoiceNumber string, creditIDs []string) error {
	return ierr.NewError("capacity proration credits left unmatched").
		WithHintf("invoice %s has %d credits no charge can absorb", invoiceNumber, len(creditIDs)).
		WithReportableDetails(map[string]any{
			"code":           CodeUnmatchedCredit,
			"invoice_number": invoiceNumber,
			"credit_ids":     creditIDs,
		}).
		Mark(ierr.ErrReconciliation)
}

func newUnmatchedRefundError(invoiceNumber, subscriptionID string) error {
	return ierr.NewError("refund cancellation matched no prior invoice").
		WithHintf("refund invoice %s for subscription %s has nothing to explain it", invoiceNumber, subscriptionID).
		WithReportableDetails(map[string]any{
			"code":            CodeUnmatchedRefund,
			"invoice_number":  invoiceNumber,
			"subscription_id": subscriptionID,
		}).
		Mark(ierr.ErrReconciliation)
}

func newUnappliedRefundError(accountID string, adjustmentIDs []string) error {
	return ierr.NewError("credit balance refunds could not be applied").
		WithHintf("account %s claims %d refunds the invoice set cannot absorb", accountID, len(adjustmentIDs)).
		WithReportableDetails(map[string]any{
			"code":           CodeUnappliedRefund,
			"account_id":     accountID,
			"adjustment_ids": adjustmentIDs,
		}).
		Mark(ierr.ErrReconciliation)
}

func newPartiallyAdjustedError(invoiceNumber string, adjustedCents, totalCents int64) error {
	return ierr.NewError("credit balance adjustment does not cover the invoice").
		WithHintf("invoice %s: adjusted %d cents of %d", invoiceNumber, adjustedCents, totalCents).
		WithReportableDetails(map[string]any{
			"code":           CodePartiallyAdjusted,
			"invoice_number": invoiceNumber,
			"adjusted_cents": adjustedCents,
			"total_cents":    totalCents,
		}).
		Mark(ierr.ErrReconciliation)
}

func newUnexpectedPaymentCaseError(invoiceNumber string, payments, refunds, creditAdjusted, totalCents int64) error {
	return ierr.NewError("payments do not reconcile to paid or refunded").
		WithHintf("invoice %s: payments=%d refunds=%d credit=%d total=%d", invoiceNumber, payments, refunds, creditAdjusted, totalCents).
		WithReportableDetails(map[string]any{
			"code":            CodeUnexpectedPaymentCase,
			"invoice_number":  invoiceNumber,
			"payments_cents":  payments,
			"refunds_cents":   refunds,
			"credit_cents":    creditAdjusted,
			"total_cents":     totalCents,
		}).
		Mark(ierr.ErrReconciliation)
}
