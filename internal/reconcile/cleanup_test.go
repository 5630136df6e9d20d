package reconcile

import (
	"testing"
	"time"

	"github.com/flexprice/revsync/internal/domain/invoice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDropOrphanedInvoices(t *testing.T) {
	orphan := testInvoice("INV-1", jan1, lineItem("i-1", "", "USERS", 10000, 1, jan1, feb1))
	kept := testInvoice("INV-2", feb1, lineItem("i-2", "sub-1", "USERS", 10000, 1, feb1, mar1))

	result, dropped := DropOrphanedInvoices([]*invoice.Invoice{orphan, kept})
	assert.Equal(t, 1, dropped)
	require.Len(t, result, 1)
	assert.Equal(t, "INV-2", result[0].ExternalID)
}

func TestRemoveAnnullingPairs(t *testing.T) {
	a := testInvoice("INV-1", jan1, lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1))
	b := testInvoice("INV-2", jan1, lineItem("i-2", "sub-1", "USERS", -10000, -1, jan1, feb1))
	c := testInvoice("INV-3", feb1, lineItem("i-3", "sub-1", "USERS", 5000, 1, feb1, mar1))

	result, dropped := RemoveAnnullingPairs([]*invoice.Invoice{a, b, c})
	assert.Equal(t, 2, dropped)
	require.Len(t, result, 1)
	assert.Equal(t, "INV-3", result[0].ExternalID)
}

func TestRemoveAnnullingPairsRequiresAdjacency(t *testing.T) {
	a := testInvoice("INV-1", jan1, lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1))
	between := testInvoice("INV-2", jan1, lineItem("i-2", "sub-2", "CAP", 3000, 1, jan1, feb1))
	b := testInvoice("INV-3", jan1, lineItem("i-3", "sub-1", "USERS", -10000, -1, jan1, feb1))

	result, dropped := RemoveAnnullingPairs([]*invoice.Invoice{a, between, b})
	assert.Equal(t, 0, dropped)
	assert.Len(t, result, 3)
}

func TestRemoveAnnullingPairsRequiresMatchingIdentity(t *testing.T) {
	a := testInvoice("INV-1", jan1, lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1))
	// opposite total but a different service period
	b := testInvoice("INV-2", jan1, lineItem("i-2", "sub-1", "USERS", -10000, -1, feb1, mar1))

	result, dropped := RemoveAnnullingPairs([]*invoice.Invoice{a, b})
	assert.Equal(t, 0, dropped)
	assert.Len(t, result, 2)
}

func TestRemoveNoOpInvoices(t *testing.T) {
	reversal := testInvoice("INV-1", jan1,
		lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1),
		lineItem("i-2", "sub-1", "USERS", -10000, -1, jan1, feb1),
	)
	billable := testInvoice("INV-2", feb1, lineItem("i-3", "sub-1", "USERS", 10000, 1, feb1, mar1))

	result, dropped := RemoveNoOpInvoices([]*invoice.Invoice{reversal, billable})
	assert.Equal(t, 1, dropped)
	require.Len(t, result, 1)
	assert.Equal(t, "INV-2", result[0].ExternalID)
}

func TestRemoveNoOpInvoicesKeepsZeroTotalsWithSignal(t *testing.T) {
	// zero total across two different periods is a billable rearrangement
	shuffle := testInvoice("INV-1", jan1,
		lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1),
		lineItem("i-2", "sub-1", "USERS", -10000, -1, feb1, mar1),
	)

	result, dropped := RemoveNoOpInvoices([]*invoice.Invoice{shuffle})
	assert.Equal(t, 0, dropped)
	assert.Len(t, result, 1)
}

func TestShiftCollidingTimestamps(t *testing.T) {
	a := testInvoice("INV-1", jan1, lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1))
	b := testInvoice("INV-2", feb1, lineItem("i-2", "sub-1", "USERS", 10000, 1, jan1, mar1))
	c := testInvoice("INV-3", mar1, lineItem("i-3", "sub-1", "USERS", 10000, 1, jan1, apr1))

	ShiftCollidingTimestamps([]*invoice.Invoice{a, b, c})

	assert.Equal(t, jan1, a.LineItems[0].ServicePeriodStart)
	assert.Equal(t, jan1.Add(time.Second), b.LineItems[0].ServicePeriodStart)
	assert.Equal(t, jan1.Add(2*time.Second), c.LineItems[0].ServicePeriodStart)
}

func TestShiftCollidingTimestampsCoversCancellationDates(t *testing.T) {
	cancelled := jan1
	li := lineItem("i-2", "sub-1", "USERS", 10000, 1, jan1, mar1)
	li.CancelledAt = &cancelled

	a := testInvoice("INV-1", jan1, lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1))
	b := testInvoice("INV-2", feb1, li)

	ShiftCollidingTimestamps([]*invoice.Invoice{a, b})

	assert.Equal(t, jan1.Add(time.Second), b.LineItems[0].ServicePeriodStart)
	assert.Equal(t, jan1.Add(2*time.Second), *b.LineItems[0].CancelledAt)
}
