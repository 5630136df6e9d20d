package reconcile

import (
	"github.com/flexprice/revsync/internal/domain/billing"
	"github.com/flexprice/revsync/internal/domain/invoice"
	"github.com/flexprice/revsync/internal/logger"
	"github.com/flexprice/revsync/internal/types"
	"github.com/samber/lo"
)

// PendingRefundMatcher attaches invoice-less credit-balance decreases
// to the nearest eligible invoice. Billing data that claims a refund
// the reconciled invoice set cannot absorb is fatal.
type PendingRefundMatcher struct {
	log *logger.Logger
}

func NewPendingRefundMatcher(log *logger.Logger) *PendingRefundMatcher {
	return &PendingRefundMatcher{log: log}
}

// Match walks the invoices most recent first and records each matched
// adjustment as a refund transaction on its invoice. Input contract:
// invoices ordered by increasing external id, pending adjustments
// sorted by creation date ascending. Match preference follows that
// order, so callers must keep it deterministic. An adjustment larger
// than its invoice is split, the remainder re-queued with suffixed ids
// so both halves stay traceable.
func (m *PendingRefundMatcher) Match(accountID string, invoices []*invoice.Invoice, pending []*billing.RawAdjustment) error {
	queue := make([]*billing.RawAdjustment, len(pending))
	copy(queue, pending)

	for i := len(invoices) - 1; i >= 0 && len(queue) > 0; i-- {
		inv := invoices[i]
		total := inv.TotalCents()
		if total <= 0 {
			// a zero or negative invoice cannot absorb a refund
			continue
		}

		idx := indexOfEligible(queue, inv)
		if idx < 0 {
			continue
		}
		adj := queue[idx]
		queue = append(queue[:idx], queue[idx+1:]...)

		refundCents := types.ToCents(adj.Amount.Abs())
		switch {
		case refundCents <= total:
			// exact cover, or partial: recorded as-is. Splitting the
			// invoice instead was tried and abandoned upstream; it
			// fabricated cancellation signal that never happened.
			if refundCents < total {
				m.log.Warnf("account %s: refund %s covers %d of %d cents on invoice %s",
					accountID, adj.ID, refundCents, total, inv.ExternalID)
			}
			recordRefund(inv, adj)
		default:
			// split the adjustment: one half sized to this invoice,
			// the remainder re-queued for other invoices
			applied := adj.WithAmount(adj.ID+"-1", types.FromCents(total))
			remainder := adj.WithAmount(adj.ID+"-2", types.FromCents(refundCents-total))
			recordRefund(inv, applied)
			queue = append(queue, remainder)
		}
	}

	if len(queue) > 0 {
		ids := lo.Map(queue, func(adj *billing.RawAdjustment, _ int) string { return adj.ID })
		return newUnappliedRefundError(accountID, ids)
	}
	return nil
}

// indexOfEligible returns the first queued adjustment created on or
// after the invoice's issue date, -1 when none qualifies. The queue is
// creation-date ascending, so the first hit is also the earliest.
func indexOfEligible(queue []*billing.RawAdjustment, inv *invoice.Invoice) int {
	for i, adj := range queue {
		if !adj.CreatedAt.Before(inv.Date) {
			return i
		}
	}
	return -1
}

func recordRefund(inv *invoice.Invoice, adj *billing.RawAdjustment) {
	inv.Transactions = append(inv.Transactions, &invoice.Transaction{
		Date:       adj.CreatedAt,
		Type:       types.TransactionTypeRefund,
		Result:     types.TransactionResultSuccessful,
		ExternalID: adj.ID,
	})
}
