package reconcile

import (
	"testing"

	"github.com/flexprice/revsync/internal/domain/billing"
	"github.com/flexprice/revsync/internal/domain/invoice"
	ierr "github.com/flexprice/revsync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveVoidCancellationTerminatesFirstMatch(t *testing.T) {
	inv1 := testInvoice("INV-1", jan1, lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1))
	inv2 := testInvoice("INV-2", feb1, lineItem("i-2", "sub-1", "USERS", 10000, 1, feb1, mar1))

	voidLine := lineItem("i-3", "sub-1", "USERS", 0, 0, mar1, apr1)
	cancel := testInvoice("INV-3", mar1, voidLine)

	result, err := NewCancellationResolver(testLogger()).Resolve([]*invoice.Invoice{inv1, inv2, cancel})
	require.NoError(t, err)
	require.Len(t, result, 2)

	// a downgrade to free terminates the earliest matching invoice only
	require.NotNil(t, result[0].LineItems[0].CancelledAt)
	assert.Equal(t, mar1, *result[0].LineItems[0].CancelledAt)
	assert.Nil(t, result[1].LineItems[0].CancelledAt)
}

func TestResolveRefundCancellationSpansInvoices(t *testing.T) {
	inv1 := testInvoice("INV-1", jan1, lineItem("i-1", "sub-1", "USERS", 500, 1, jan1, feb1))
	inv2 := testInvoice("INV-2", feb1, lineItem("i-2", "sub-1", "USERS", 500, 1, feb1, mar1))

	refundLine := lineItem("i-3", "sub-1", "USERS", -1000, -1, jan1, mar1)
	refundLine.AmendmentType = billing.AmendmentRemoveProduct
	cancel := testInvoice("INV-3", mar1, refundLine)

	result, err := NewCancellationResolver(testLogger()).Resolve([]*invoice.Invoice{inv1, inv2, cancel})
	require.NoError(t, err)

	// the first matched item stays in place carrying the cancellation
	// date; the second is consumed outright along with its invoice
	require.Len(t, result, 1)
	assert.Equal(t, "INV-1", result[0].ExternalID)
	require.NotNil(t, result[0].LineItems[0].CancelledAt)
	assert.Equal(t, jan1, *result[0].LineItems[0].CancelledAt)
	// resolver bookkeeping must not leak into the output
	assert.False(t, result[0].LineItems[0].IsRemoval())
}

func TestResolveRefundRequiresIntersectingPeriod(t *testing.T) {
	inv1 := testInvoice("INV-1", jan1, lineItem("i-1", "sub-1", "USERS", 500, 1, jan1, feb1))

	refundLine := lineItem("i-2", "sub-1", "USERS", -500, -1, mar1, apr1)
	refundLine.AmendmentType = billing.AmendmentCancellation
	cancel := testInvoice("INV-2", feb1, refundLine)

	_, err := NewCancellationResolver(testLogger()).Resolve([]*invoice.Invoice{inv1, cancel})
	require.Error(t, err)
	assert.True(t, ierr.IsReconciliation(err))
}

func TestResolveUnmatchedRefundIsFatal(t *testing.T) {
	inv1 := testInvoice("INV-1", jan1, lineItem("i-1", "sub-1", "USERS", 500, 1, jan1, feb1))

	refundLine := lineItem("i-2", "sub-other", "USERS", -500, -1, jan1, feb1)
	refundLine.AmendmentType = billing.AmendmentRemoveProduct
	cancel := testInvoice("INV-2", feb1, refundLine)

	_, err := NewCancellationResolver(testLogger()).Resolve([]*invoice.Invoice{inv1, cancel})
	require.Error(t, err)
	assert.True(t, ierr.IsReconciliation(err))
}

func TestResolveOnlyReachesEarlierInvoices(t *testing.T) {
	// INV-9 sorts after the cancellation invoice and must stay untouched
	later := testInvoice("INV-9", apr1, lineItem("i-9", "sub-1", "USERS", 10000, 1, apr1, apr1.AddDate(0, 1, 0)))
	earlier := testInvoice("INV-1", jan1, lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1))

	voidLine := lineItem("i-3", "sub-1", "USERS", 0, 0, mar1, apr1)
	cancel := testInvoice("INV-3", mar1, voidLine)

	result, err := NewCancellationResolver(testLogger()).Resolve([]*invoice.Invoice{earlier, cancel, later})
	require.NoError(t, err)
	require.Len(t, result, 2)
	require.NotNil(t, result[0].LineItems[0].CancelledAt)
	assert.Nil(t, result[1].LineItems[0].CancelledAt)
}

func TestResolveNegativeInvoiceWithoutRemovalIsNotACancellation(t *testing.T) {
	inv1 := testInvoice("INV-1", jan1, lineItem("i-1", "sub-1", "USERS", 500, 1, jan1, feb1))
	negative := testInvoice("INV-2", feb1, lineItem("i-2", "sub-1", "USERS", -500, -1, jan1, feb1))

	result, err := NewCancellationResolver(testLogger()).Resolve([]*invoice.Invoice{inv1, negative})
	require.NoError(t, err)
	assert.Len(t, result, 2)
}
