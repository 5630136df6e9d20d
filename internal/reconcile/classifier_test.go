package reconcile

import (
	"testing"
	"time"

	"github.com/flexprice/revsync/internal/domain/billing"
	ierr "github.com/flexprice/revsync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyBucketsByCategory(t *testing.T) {
	c := NewClassifier(testTable(), testLogger())

	items := []*billing.RawBillingItem{
		rawItem("i-1", "INV-1", "sub-1", "Users", 100, 5, jan1, feb1),
		rawItem("i-2", "INV-1", "sub-1", "Users - Proration", 50, 2, jan1, feb1),
		rawItem("i-3", "INV-1", "sub-1", "Users - Proration Credit", -30, 1, jan1, feb1),
		rawItem("i-4", "INV-1", "sub-1", "Capacity - Proration Credit", -20, 1, jan1, feb1),
	}

	buckets, err := c.Classify(items)
	require.NoError(t, err)

	require.Len(t, buckets.Charges, 2)
	assert.Len(t, buckets.SeatCredits, 1)
	assert.Len(t, buckets.CapacityCredits, 1)
	// proration charges come first so credits attach to them before bases
	assert.Equal(t, "i-2", buckets.Charges[0].line.ExternalID)
	assert.Equal(t, "i-1", buckets.Charges[1].line.ExternalID)
}

func TestClassifyUnknownChargeNameIsFatal(t *testing.T) {
	c := NewClassifier(testTable(), testLogger())

	_, err := c.Classify([]*billing.RawBillingItem{
		rawItem("i-1", "INV-1", "sub-1", "Premium Support", 100, 1, jan1, feb1),
	})
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
}

func TestClassifyFiltersIgnoredAndInertItems(t *testing.T) {
	c := NewClassifier(testTable(), testLogger())

	items := []*billing.RawBillingItem{
		rawItem("i-1", "INV-1", "sub-1", "Free Tier", 0, 3, jan1, feb1),
		rawItem("i-2", "INV-1", "sub-1", "Users", 0, 0, jan1, feb1),
		rawItem("i-3", "INV-1", "sub-1", "Users", 100, 1, jan1, feb1),
	}

	buckets, err := c.Classify(items)
	require.NoError(t, err)
	require.Len(t, buckets.Charges, 1)
	assert.Equal(t, "i-3", buckets.Charges[0].line.ExternalID)
}

func TestClassifyKeepsZeroRemovalItems(t *testing.T) {
	c := NewClassifier(testTable(), testLogger())

	removal := rawItem("i-1", "INV-1", "sub-1", "Users", 0, 0, jan1, feb1)
	removal.AmendmentType = billing.AmendmentRemoveProduct

	buckets, err := c.Classify([]*billing.RawBillingItem{removal})
	require.NoError(t, err)
	require.Len(t, buckets.Charges, 1)
	assert.True(t, buckets.Charges[0].line.IsRemoval())
}

func TestClassifyAccumulatesDiscountsByTarget(t *testing.T) {
	c := NewClassifier(testTable(), testLogger())

	d1 := rawItem("d-1", "INV-1", "sub-1", "Discount", -10, 1, jan1, feb1)
	d1.AppliedToItemID = "i-1"
	d2 := rawItem("d-2", "INV-1", "sub-1", "Discount", -5, 1, jan1, feb1)
	d2.AppliedToItemID = "i-1"
	zero := rawItem("d-3", "INV-1", "sub-1", "Discount", 0, 1, jan1, feb1)
	zero.AppliedToItemID = "i-2"

	buckets, err := c.Classify([]*billing.RawBillingItem{d1, d2, zero})
	require.NoError(t, err)
	assert.Equal(t, int64(-1500), buckets.Discounts["i-1"])
	_, tracked := buckets.Discounts["i-2"]
	assert.False(t, tracked)
}

func TestClassifyExtendsZeroLengthPeriods(t *testing.T) {
	c := NewClassifier(testTable(), testLogger())

	buckets, err := c.Classify([]*billing.RawBillingItem{
		rawItem("i-1", "INV-1", "sub-1", "Users", 100, 1, jan1, jan1),
	})
	require.NoError(t, err)
	require.Len(t, buckets.Charges, 1)
	line := buckets.Charges[0].line
	assert.Equal(t, jan1.AddDate(0, 0, 1), line.ServicePeriodEnd)
}

func TestClassifyRejectsMalformedRows(t *testing.T) {
	c := NewClassifier(testTable(), testLogger())

	bad := rawItem("i-1", "INV-1", "sub-1", "Users", 100, 1, jan1, feb1)
	bad.Currency = "US"

	_, err := c.Classify([]*billing.RawBillingItem{bad})
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
}

func TestClassifyConvertsToMinorUnits(t *testing.T) {
	c := NewClassifier(testTable(), testLogger())

	buckets, err := c.Classify([]*billing.RawBillingItem{
		rawItem("i-1", "INV-1", "sub-1", "Users", 10.555, 1, jan1, feb1),
	})
	require.NoError(t, err)
	require.Len(t, buckets.Charges, 1)
	assert.Equal(t, int64(1056), buckets.Charges[0].line.AmountInCents)
}

func TestClassifyZeroQuantityChargeSurvives(t *testing.T) {
	// amount without quantity still bills something
	c := NewClassifier(testTable(), testLogger())

	buckets, err := c.Classify([]*billing.RawBillingItem{
		rawItem("i-1", "INV-1", "sub-1", "Users", 100, 0, jan1.Add(time.Hour), feb1),
	})
	require.NoError(t, err)
	assert.Len(t, buckets.Charges, 1)
}
