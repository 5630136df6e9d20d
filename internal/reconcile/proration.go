package reconcile

import (
	"github.com/flexprice/revsync/internal/domain/billing"
	"github.com/flexprice/revsync/internal/domain/invoice"
	"github.com/flexprice/revsync/internal/logger"
	"github.com/flexprice/revsync/internal/types"
	"github.com/samber/lo"
)

// AdjustmentSet is the per-invoice view of the raw adjustments, in
// minor units. ItemCents is keyed by the adjusted item id;
// InvoiceCents is the pooled invoice-level amount, consumed by at most
// one line item.
type AdjustmentSet struct {
	ItemCents    map[string]int64
	InvoiceCents int64
}

// NewAdjustmentSet folds processed raw adjustments into minor units
func NewAdjustmentSet(itemAdjs, invoiceAdjs []*billing.RawAdjustment) *AdjustmentSet {
	set := &AdjustmentSet{ItemCents: make(map[string]int64)}
	for _, adj := range itemAdjs {
		if !adj.IsProcessed() {
			continue
		}
		set.ItemCents[adj.ItemID] += types.ToCents(adj.SignedAmount())
	}
	for _, adj := range invoiceAdjs {
		if !adj.IsProcessed() {
			continue
		}
		set.InvoiceCents += types.ToCents(adj.SignedAmount())
	}
	return set
}

// ItemTotal is the summed item-level adjustment amount
func (s *AdjustmentSet) ItemTotal() int64 {
	var total int64
	for _, cents := range s.ItemCents {
		total += cents
	}
	return total
}

// Matcher merges proration credits into the charges they offset and
// folds discounts and adjustments into line item amounts.
type Matcher struct {
	log *logger.Logger
}

func NewMatcher(log *logger.Logger) *Matcher {
	return &Matcher{log: log}
}

// Match produces the normalized line items of one invoice from its
// classified buckets. Credits that match no charge are retried once as
// synthetic downgrade-to-zero charges; a capacity credit that is still
// unmatched after that retry is fatal.
func (m *Matcher) Match(invoiceNumber string, buckets *Buckets, adjs *AdjustmentSet) ([]*invoice.LineItem, error) {
	pending := adjs.InvoiceCents

	// credits carry their own discounts and item adjustments into the
	// charge that absorbs them
	for _, credit := range buckets.SeatCredits {
		applyItemLevel(credit.line, buckets.Discounts, adjs.ItemCents)
	}
	for _, credit := range buckets.CapacityCredits {
		applyItemLevel(credit.line, buckets.Discounts, adjs.ItemCents)
	}

	seat := buckets.SeatCredits
	capacity := buckets.CapacityCredits
	lines := make([]*invoice.LineItem, 0, len(buckets.Charges))

	for _, charge := range buckets.Charges {
		applyItemLevel(charge.line, buckets.Discounts, adjs.ItemCents)
		pending, charge.line.DiscountAmountInCents, charge.line.AmountInCents = resolveInvoiceAdjustments(
			pending, charge.line.DiscountAmountInCents, charge.line.AmountInCents)

		var matched int
		seat, matched = absorbCredits(charge, seat)
		var capMatched int
		capacity, capMatched = absorbCredits(charge, capacity)
		matched += capMatched

		if matched == 0 && charge.category == types.ChargeCategoryProration {
			// a proration charge with nothing to offset is suspicious
			// but representable; leave it unprorated
			m.log.Warnf("invoice %s: proration charge %s matched no credits", invoiceNumber, charge.line.ExternalID)
		}
		lines = append(lines, charge.line)
	}

	// one bounded retry: leftover credits become synthetic zero charges
	// representing a downgrade to zero and are matched again
	retry := make([]*workItem, 0, len(seat)+len(capacity))
	retry = append(retry, seat...)
	retry = append(retry, capacity...)
	for _, credit := range retry {
		if !lo.Contains(seat, credit) && !lo.Contains(capacity, credit) {
			continue // already absorbed by an earlier synthetic charge
		}
		synth := syntheticCharge(credit)
		var matched, capMatched int
		seat, matched = absorbCredits(synth, seat)
		capacity, capMatched = absorbCredits(synth, capacity)
		if matched+capMatched > 0 {
			lines = append(lines, synth.line)
		}
	}

	if len(capacity) > 0 {
		ids := lo.Map(capacity, func(w *workItem, _ int) string { return w.line.ExternalID })
		return nil, newUnmatchedCreditError(invoiceNumber, ids)
	}
	for _, credit := range seat {
		m.log.Warnf("invoice %s: seat proration credit %s matched no charge, dropping", invoiceNumber, credit.line.ExternalID)
	}

	return mergeSimilar(lines), nil
}

// applyItemLevel folds the item's discount and item-level adjustment
// into its amount. The discount is also recorded in the non-negative
// discount field the destination expects.
func applyItemLevel(line *invoice.LineItem, discounts map[string]int64, itemAdjs map[string]int64) {
	if d, ok := discounts[line.ExternalID]; ok && d != 0 {
		line.AmountInCents += d
		if d < 0 {
			line.DiscountAmountInCents += -d
		}
	}
	if adj, ok := itemAdjs[line.ExternalID]; ok {
		line.AmountInCents += adj
	}
}

// resolveInvoiceAdjustments applies the pooled invoice-level adjustment
// to one line item. The pool interacts with the item only when their
// signs differ: the smaller magnitude side is zeroed and the remainder
// carried in the other, with the discount field absorbing whatever the
// credit side offset. Same-sign amounts pass through untouched and the
// pool stays pending for a later item.
func resolveInvoiceAdjustments(pending, discount, amount int64) (int64, int64, int64) {
	switch {
	case pending == 0 || amount == 0:
		return pending, discount, amount
	case amount+pending == 0:
		return 0, discount, 0
	case (amount > 0) != (pending > 0):
		if abs(pending) < abs(amount) {
			if pending < 0 {
				discount += -pending
			}
			return 0, discount, amount + pending
		}
		if amount > 0 {
			discount += amount
		}
		return pending + amount, discount, 0
	default:
		return pending, discount, amount
	}
}

// absorbCredits scans the bucket from its tail backward and merges
// every credit that offsets the charge: same subscription, same plan,
// intersecting service period and a quantity that actually changes
// something. Returns the surviving bucket.
func absorbCredits(charge *workItem, bucket []*workItem) ([]*workItem, int) {
	matched := 0
	remaining := make([]*workItem, len(bucket))
	copy(remaining, bucket)

	for i := len(remaining) - 1; i >= 0; i-- {
		credit := remaining[i]
		if credit == charge {
			continue
		}
		if credit.line.SubscriptionExternalID != charge.line.SubscriptionExternalID {
			continue
		}
		if credit.line.PlanCode != charge.line.PlanCode {
			continue
		}
		if !types.PeriodsIntersect(
			charge.line.ServicePeriodStart, charge.line.ServicePeriodEnd,
			credit.line.ServicePeriodStart, credit.line.ServicePeriodEnd) {
			continue
		}
		// equal quantities would net to zero change, which is a no-op,
		// not a proration
		if credit.line.Quantity == charge.line.Quantity {
			continue
		}

		charge.line.AmountInCents += credit.line.AmountInCents
		// the source sometimes books credits with a positive charge
		// amount; those add seats instead of removing them. Undocumented
		// upstream, kept as an explicit special case.
		if credit.raw.ChargeAmount.IsPositive() {
			charge.line.Quantity += credit.line.Quantity
		} else {
			charge.line.Quantity -= credit.line.Quantity
		}
		charge.line.Prorated = true

		remaining = append(remaining[:i], remaining[i+1:]...)
		matched++
	}

	return remaining, matched
}

// syntheticCharge wraps an unmatched credit's identity in a zero
// charge so the credit can resolve against it as a downgrade to zero.
func syntheticCharge(credit *workItem) *workItem {
	line := &invoice.LineItem{
		Type:                   invoice.LineItemTypeSubscription,
		SubscriptionExternalID: credit.line.SubscriptionExternalID,
		PlanCode:               credit.line.PlanCode,
		ServicePeriodStart:     credit.line.ServicePeriodStart,
		ServicePeriodEnd:       credit.line.ServicePeriodEnd,
		ExternalID:             credit.line.ExternalID,
	}
	return &workItem{
		line:     line,
		raw:      &billing.RawBillingItem{SubscriptionID: credit.raw.SubscriptionID},
		category: types.ChargeCategoryProration,
	}
}

// mergeSimilar collapses near-duplicate line items sharing a service
// period, subscription and plan, then filters out items whose quantity
// netted to exactly zero. A zero-quantity item survives only when an
// opposite-amount partner exists for the same subscription and plan:
// such a pair is a true no-op that a later cleanup pass removes as a
// whole invoice, and dropping one half would fabricate signal.
func mergeSimilar(lines []*invoice.LineItem) []*invoice.LineItem {
	merged := make([]*invoice.LineItem, 0, len(lines))
	byKey := make(map[invoice.MergeKey]*invoice.LineItem)

	for _, li := range lines {
		key := li.Key()
		if existing, ok := byKey[key]; ok {
			existing.Quantity += li.Quantity
			existing.AmountInCents += li.AmountInCents
			existing.DiscountAmountInCents += li.DiscountAmountInCents
			existing.TaxAmountInCents += li.TaxAmountInCents
			existing.Prorated = existing.Prorated || li.Prorated
			if existing.AmendmentType == "" {
				existing.AmendmentType = li.AmendmentType
			}
			continue
		}
		clone := li.Clone()
		byKey[key] = clone
		merged = append(merged, clone)
	}

	result := make([]*invoice.LineItem, 0, len(merged))
	for _, li := range merged {
		if li.Quantity == 0 && !li.IsRemoval() && !hasOppositePartner(merged, li) {
			continue
		}
		result = append(result, li)
	}
	return result
}

func hasOppositePartner(lines []*invoice.LineItem, li *invoice.LineItem) bool {
	for _, other := range lines {
		if other == li {
			continue
		}
		if other.SubscriptionExternalID == li.SubscriptionExternalID &&
			other.PlanCode == li.PlanCode &&
			other.Quantity == -li.Quantity &&
			other.AmountInCents == -li.AmountInCents {
			return true
		}
	}
	return false
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
