package types

import (
	ierr "github.com/flexprice/revsync/internal/errors"
	"github.com/samber/lo"
)

// ChargeCategory is the bucket a raw billing item falls into once its
// charge name has been resolved against the classification table.
type ChargeCategory string

const (
	// ChargeCategoryBase is a regular full-period subscription charge
	ChargeCategoryBase ChargeCategory = "base_charge"
	// ChargeCategoryProration is a partial-period charge issued on a mid-period change
	ChargeCategoryProration ChargeCategory = "proration_charge"
	// ChargeCategorySeatCredit is a proration credit for seat count changes
	ChargeCategorySeatCredit ChargeCategory = "proration_credit_seat"
	// ChargeCategoryCapacityCredit is a proration credit for add-on capacity changes
	ChargeCategoryCapacityCredit ChargeCategory = "proration_credit_capacity"
	// ChargeCategoryDiscount is a discount line applied to another item
	ChargeCategoryDiscount ChargeCategory = "discount"
	// ChargeCategoryIgnored marks free-tier or otherwise irrelevant SKUs
	// that are dropped before reconciliation
	ChargeCategoryIgnored ChargeCategory = "ignored"
)

func (c ChargeCategory) String() string {
	return string(c)
}

func (c ChargeCategory) Validate() error {
	allowed := []ChargeCategory{
		ChargeCategoryBase,
		ChargeCategoryProration,
		ChargeCategorySeatCredit,
		ChargeCategoryCapacityCredit,
		ChargeCategoryDiscount,
		ChargeCategoryIgnored,
	}
	if !lo.Contains(allowed, c) {
		return ierr.NewError("invalid charge category").
			WithHint("Please provide a valid charge category").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
