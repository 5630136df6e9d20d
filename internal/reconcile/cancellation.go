package reconcile

import (
	"sort"

	"github.com/flexprice/revsync/internal/domain/invoice"
	"github.com/flexprice/revsync/internal/logger"
	"github.com/flexprice/revsync/internal/types"
	"github.com/samber/lo"
)

// cancellationKind says why an invoice reads as a termination signal
type cancellationKind int

const (
	notCancellation cancellationKind = iota
	// voidCancellation is a downgrade to free: every item zero
	voidCancellation
	// refundCancellation is a full negative removal invoice
	refundCancellation
)

// CancellationResolver scans one customer's invoice history backward
// in time to turn void and refund invoices into explicit cancellation
// dates on the line items they terminate.
type CancellationResolver struct {
	log *logger.Logger
}

func NewCancellationResolver(log *logger.Logger) *CancellationResolver {
	return &CancellationResolver{log: log}
}

// Resolve consumes cancellation invoices and backfills cancellation
// dates onto earlier invoices. Input must be ordered by increasing
// external id; external ids stand in for chronological order. The
// returned set has resolver bookkeeping stripped.
func (r *CancellationResolver) Resolve(invoices []*invoice.Invoice) ([]*invoice.Invoice, error) {
	working := make([]*invoice.Invoice, 0, len(invoices))
	var cancellations []*invoice.Invoice

	for _, inv := range invoices {
		if classifyCancellation(inv) != notCancellation {
			cancellations = append(cancellations, inv)
			continue
		}
		working = append(working, inv)
	}

	for _, cancel := range cancellations {
		kind := classifyCancellation(cancel)
		var err error
		working, err = r.resolveOne(working, cancel, kind)
		if err != nil {
			return nil, err
		}
	}

	for _, inv := range working {
		inv.StripBookkeeping()
	}
	return working, nil
}

// classifyCancellation decides whether an invoice is a termination
// signal rather than a standalone transaction.
func classifyCancellation(inv *invoice.Invoice) cancellationKind {
	if inv.IsEmpty() {
		return notCancellation
	}

	isVoid := lo.EveryBy(inv.LineItems, func(li *invoice.LineItem) bool {
		return li.AmountInCents == 0 && li.DiscountAmountInCents == 0
	})
	if isVoid {
		return voidCancellation
	}

	isRefund := lo.EveryBy(inv.LineItems, func(li *invoice.LineItem) bool {
		return li.AmountInCents < 0 && li.IsRemoval()
	})
	if isRefund {
		return refundCancellation
	}
	return notCancellation
}

// resolveOne applies a single cancellation invoice against the working
// set and returns the surviving invoices.
func (r *CancellationResolver) resolveOne(working []*invoice.Invoice, cancel *invoice.Invoice, kind cancellationKind) ([]*invoice.Invoice, error) {
	bySubscription := lo.GroupBy(cancel.LineItems, func(li *invoice.LineItem) string {
		return li.SubscriptionExternalID
	})
	subscriptions := lo.Keys(bySubscription)
	sort.Strings(subscriptions)

	for _, sub := range subscriptions {
		items := bySubscription[sub]
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].ServicePeriodStart.Before(items[j].ServicePeriodStart)
		})

		for _, cancelItem := range items {
			var err error
			working, err = r.applyCancellationItem(working, cancel.ExternalID, cancelItem, kind)
			if err != nil {
				return nil, err
			}
		}
	}
	return working, nil
}

// applyCancellationItem walks prior invoices oldest-first, cancelling
// the line items the cancellation item terminates. The first candidate
// cancelled stays in place carrying the cancellation date; every later
// candidate is removed outright so it cannot read as a reactivation.
func (r *CancellationResolver) applyCancellationItem(
	working []*invoice.Invoice,
	cancelInvoiceID string,
	cancelItem *invoice.LineItem,
	kind cancellationKind,
) ([]*invoice.Invoice, error) {
	cancelledAt := cancelItem.ServicePeriodStart
	remaining := cancelItem.AmountInCents
	first := true
	anyMatch := false

	result := make([]*invoice.Invoice, 0, len(working))
	stopped := false

	for _, inv := range working {
		if stopped || inv.ExternalID >= cancelInvoiceID {
			result = append(result, inv)
			continue
		}

		candidates := collectCandidates(inv, cancelItem, kind)
		if len(candidates) == 0 {
			result = append(result, inv)
			continue
		}
		anyMatch = true

		kept := make([]*invoice.LineItem, 0, len(inv.LineItems))
		cancelledHere := lo.SliceToMap(candidates, func(li *invoice.LineItem) (*invoice.LineItem, struct{}) {
			return li, struct{}{}
		})
		for _, li := range inv.LineItems {
			if _, isCandidate := cancelledHere[li]; !isCandidate {
				kept = append(kept, li)
				continue
			}
			t := cancelledAt
			li.CancelledAt = &t
			remaining += li.AmountInCents
			if first {
				first = false
				kept = append(kept, li)
			}
			// later candidates are dropped entirely
		}
		inv.LineItems = kept

		if !inv.IsEmpty() {
			result = append(result, inv)
		}

		switch kind {
		case voidCancellation:
			// a downgrade to free terminates exactly one prior invoice
			stopped = true
		case refundCancellation:
			if remaining >= 0 {
				stopped = true
			}
		}
	}

	if kind == refundCancellation {
		if !anyMatch {
			return nil, newUnmatchedRefundError(cancelInvoiceID, cancelItem.SubscriptionExternalID)
		}
		if remaining < 0 {
			r.log.Warnf("cancellation invoice %s: refund for subscription %s not exhausted, %d cents left",
				cancelInvoiceID, cancelItem.SubscriptionExternalID, remaining)
		}
	}

	return result, nil
}

// collectCandidates picks the invoice's line items the cancellation
// item may terminate: same subscription, not themselves removals, and
// for refunds an intersecting service period.
func collectCandidates(inv *invoice.Invoice, cancelItem *invoice.LineItem, kind cancellationKind) []*invoice.LineItem {
	return lo.Filter(inv.LineItems, func(li *invoice.LineItem, _ int) bool {
		if li.SubscriptionExternalID != cancelItem.SubscriptionExternalID {
			return false
		}
		if li.IsRemoval() {
			return false
		}
		if kind == refundCancellation {
			return types.PeriodsIntersect(
				li.ServicePeriodStart, li.ServicePeriodEnd,
				cancelItem.ServicePeriodStart, cancelItem.ServicePeriodEnd)
		}
		return true
	})
}
