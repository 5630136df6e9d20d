package reconcile

import (
	"github.com/flexprice/revsync/internal/config"
	"github.com/flexprice/revsync/internal/domain/billing"
	"github.com/flexprice/revsync/internal/domain/invoice"
	"github.com/flexprice/revsync/internal/logger"
	"github.com/flexprice/revsync/internal/types"
)

// workItem pairs a normalized line item with the raw record the
// matching passes still need to consult (the raw charge amount decides
// the sign convention for charged credits).
type workItem struct {
	line     *invoice.LineItem
	raw      *billing.RawBillingItem
	category types.ChargeCategory
}

// Buckets is the classified output for one invoice. Charges keep their
// original order with proration charges moved to the front so credits
// attach to them first. Discounts are signed minor-unit amounts keyed
// by the item they apply to.
type Buckets struct {
	Charges         []*workItem
	SeatCredits     []*workItem
	CapacityCredits []*workItem
	Discounts       map[string]int64
}

// Classifier resolves raw billing items against the injected
// classification table and produces the matcher's working buckets.
type Classifier struct {
	table config.ClassificationConfig
	log   *logger.Logger
}

func NewClassifier(table config.ClassificationConfig, log *logger.Logger) *Classifier {
	return &Classifier{table: table, log: log}
}

// Classify buckets the raw items of one invoice. Free-tier SKUs and
// inert zero rows are filtered out; a charge name missing from the
// table is fatal for the invoice.
func (c *Classifier) Classify(items []*billing.RawBillingItem) (*Buckets, error) {
	buckets := &Buckets{
		Discounts: make(map[string]int64),
	}

	var prorations, bases []*workItem
	for _, raw := range items {
		if err := raw.Validate(); err != nil {
			return nil, err
		}

		category, ok := c.table.Categorize(raw.ChargeName)
		if !ok {
			return nil, newUnknownChargeTypeError(raw.ChargeName, raw.ID, c.table.Version)
		}

		switch category {
		case types.ChargeCategoryIgnored:
			continue
		case types.ChargeCategoryDiscount:
			// discount lines carry negative amounts; keep the sign and
			// let the matcher fold them into their target item
			cents := types.ToCents(raw.ChargeAmount)
			if cents == 0 {
				continue
			}
			buckets.Discounts[raw.AppliedToItemID] += cents
			continue
		}

		// an item with no amount and no quantity says nothing unless it
		// marks a removal (void cancellation invoices are all zeroes)
		if raw.ChargeAmount.IsZero() && raw.Quantity == 0 && !raw.IsRemoval() {
			continue
		}

		item := &workItem{
			line:     normalize(raw),
			raw:      raw,
			category: category,
		}

		switch category {
		case types.ChargeCategoryProration:
			prorations = append(prorations, item)
		case types.ChargeCategoryBase:
			bases = append(bases, item)
		case types.ChargeCategorySeatCredit:
			buckets.SeatCredits = append(buckets.SeatCredits, item)
		case types.ChargeCategoryCapacityCredit:
			buckets.CapacityCredits = append(buckets.CapacityCredits, item)
		}
	}

	buckets.Charges = append(prorations, bases...)
	return buckets, nil
}

// normalize turns a raw billing item into a minor-unit line item.
// Zero-length service periods are extended by one day so every period
// has an end strictly after its start.
func normalize(raw *billing.RawBillingItem) *invoice.LineItem {
	start := raw.ServiceStart
	end := raw.ServiceEnd
	if !end.After(start) {
		end = start.AddDate(0, 0, 1)
	}

	li := &invoice.LineItem{
		Type:                   invoice.LineItemTypeSubscription,
		SubscriptionExternalID: raw.SubscriptionID,
		PlanCode:               raw.AccountingCode,
		ServicePeriodStart:     start,
		ServicePeriodEnd:       end,
		AmountInCents:          types.ToCents(raw.ChargeAmount),
		TaxAmountInCents:       types.ToCents(raw.TaxAmount),
		Quantity:               raw.Quantity,
		ExternalID:             raw.ID,
	}
	if raw.IsRemoval() {
		li.AmendmentType = raw.AmendmentType
	}
	return li
}
