package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/flexprice/revsync/internal/domain/invoice"
	"github.com/samber/lo"
)

// The cleanup passes run per customer, in order, after cancellation and
// refund resolution. Each returns a new slice; dropped counts feed the
// run summary.

// DropOrphanedInvoices removes invoices referencing subscriptions the
// source no longer resolves (deleted-subscription artifacts).
func DropOrphanedInvoices(invoices []*invoice.Invoice) ([]*invoice.Invoice, int) {
	kept := lo.Filter(invoices, func(inv *invoice.Invoice, _ int) bool {
		return !lo.SomeBy(inv.LineItems, func(li *invoice.LineItem) bool {
			return li.SubscriptionExternalID == ""
		})
	})
	return kept, len(invoices) - len(kept)
}

// annulKey is the identity two invoices must share for their line
// items to annul each other.
type annulKey struct {
	subscriptions string
	periodStarts  string
	periodEnds    string
	plans         string
}

func invoiceAnnulKey(inv *invoice.Invoice) annulKey {
	collect := func(f func(*invoice.LineItem) string) string {
		values := lo.Uniq(lo.Map(inv.LineItems, func(li *invoice.LineItem, _ int) string { return f(li) }))
		sort.Strings(values)
		return strings.Join(values, "\x00")
	}
	return annulKey{
		subscriptions: collect(func(li *invoice.LineItem) string { return li.SubscriptionExternalID }),
		periodStarts:  collect(func(li *invoice.LineItem) string { return li.ServicePeriodStart.UTC().Format(time.RFC3339) }),
		periodEnds:    collect(func(li *invoice.LineItem) string { return li.ServicePeriodEnd.UTC().Format(time.RFC3339) }),
		plans:         collect(func(li *invoice.LineItem) string { return li.PlanCode }),
	}
}

// RemoveAnnullingPairs drops adjacent invoice pairs that exactly annul
// each other: equal and opposite totals over the same subscriptions,
// service periods and plans. Such a pair conveys nothing downstream.
func RemoveAnnullingPairs(invoices []*invoice.Invoice) ([]*invoice.Invoice, int) {
	kept := make([]*invoice.Invoice, 0, len(invoices))
	dropped := 0

	for i := 0; i < len(invoices); i++ {
		if i+1 < len(invoices) {
			a, b := invoices[i], invoices[i+1]
			if a.TotalCents() == -b.TotalCents() && a.TotalCents() != 0 &&
				invoiceAnnulKey(a) == invoiceAnnulKey(b) {
				dropped += 2
				i++
				continue
			}
		}
		kept = append(kept, invoices[i])
	}
	return kept, dropped
}

// RemoveNoOpInvoices drops invoices that total zero over a single
// subscription, period and plan where the items only disagree on
// quantity sign, the pure reversals left behind by the merge tie-break.
func RemoveNoOpInvoices(invoices []*invoice.Invoice) ([]*invoice.Invoice, int) {
	kept := lo.Filter(invoices, func(inv *invoice.Invoice, _ int) bool {
		return !isPureReversal(inv)
	})
	return kept, len(invoices) - len(kept)
}

func isPureReversal(inv *invoice.Invoice) bool {
	if inv.TotalCents() != 0 || len(inv.LineItems) < 2 {
		return false
	}
	key := inv.LineItems[0].Key()
	positive, negative := false, false
	var quantitySum int64
	for _, li := range inv.LineItems {
		if li.Key() != key {
			return false
		}
		quantitySum += li.Quantity
		switch {
		case li.Quantity > 0:
			positive = true
		case li.Quantity < 0:
			negative = true
		}
	}
	return positive && negative && quantitySum == 0
}

// ShiftCollidingTimestamps nudges repeated service-period starts (and
// cancellation dates) forward one second per prior occurrence of the
// same instant within one customer's invoice set, preserving relative
// order. The destination cannot represent two events in one second.
func ShiftCollidingTimestamps(invoices []*invoice.Invoice) {
	ordered := make([]*invoice.Invoice, len(invoices))
	copy(ordered, invoices)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Date.Before(ordered[j].Date) })

	seen := make(map[int64]int)
	shift := func(t time.Time) time.Time {
		n := seen[t.Unix()]
		seen[t.Unix()] = n + 1
		if n == 0 {
			return t
		}
		return t.Add(time.Duration(n) * time.Second)
	}

	for _, inv := range ordered {
		for _, li := range inv.LineItems {
			li.ServicePeriodStart = shift(li.ServicePeriodStart)
			if li.CancelledAt != nil {
				shifted := shift(*li.CancelledAt)
				li.CancelledAt = &shifted
			}
		}
	}
}
