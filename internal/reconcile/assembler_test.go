package reconcile

import (
	"testing"
	"time"

	"github.com/flexprice/revsync/internal/domain/billing"
	"github.com/flexprice/revsync/internal/domain/invoice"
	ierr "github.com/flexprice/revsync/internal/errors"
	"github.com/flexprice/revsync/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader(amount float64) *Header {
	return &Header{
		Number:    "INV-1",
		AccountID: "acc-1",
		Date:      jan1,
		DueDate:   feb1,
		Amount:    decimal.NewFromFloat(amount),
		Balance:   decimal.Zero,
		Currency:  "USD",
	}
}

func payment(id string, amount float64, status string) *billing.RawTransaction {
	return &billing.RawTransaction{
		ID:            id,
		AccountID:     "acc-1",
		InvoiceNumber: "INV-1",
		Kind:          types.TransactionTypePayment,
		Status:        status,
		Amount:        decimal.NewFromFloat(amount),
		Date:          feb1,
	}
}

func refund(id string, amount float64) *billing.RawTransaction {
	return &billing.RawTransaction{
		ID:            id,
		AccountID:     "acc-1",
		InvoiceNumber: "INV-1",
		Kind:          types.TransactionTypeRefund,
		Status:        types.SourceTransactionStatusProcessed,
		Amount:        decimal.NewFromFloat(amount),
		Date:          mar1,
	}
}

func creditDecrease(id string, amount float64) *billing.RawAdjustment {
	return &billing.RawAdjustment{
		ID:            id,
		AccountID:     "acc-1",
		Kind:          types.AdjustmentKindCreditBalance,
		Type:          types.AdjustmentTypeDecrease,
		Status:        types.AdjustmentStatusProcessed,
		Amount:        decimal.NewFromFloat(amount),
		InvoiceNumber: "INV-1",
		CreatedAt:     mar1,
	}
}

func TestAssembleVerifiesDeclaredTotal(t *testing.T) {
	a := NewAssembler(2, testLogger())
	lines := []*invoice.LineItem{lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1)}

	inv, err := a.Assemble(testHeader(100), lines, emptyAdjustments(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "INV-1", inv.ExternalID)
	assert.Equal(t, int64(10000), inv.TotalCents())
	assert.Empty(t, inv.Transactions)
}

func TestAssembleTotalMismatchIsFatal(t *testing.T) {
	a := NewAssembler(2, testLogger())
	lines := []*invoice.LineItem{lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1)}

	_, err := a.Assemble(testHeader(90), lines, emptyAdjustments(), nil, nil)
	require.Error(t, err)
	assert.True(t, ierr.IsReconciliation(err))
}

func TestAssembleAccountsForAdjustmentsInTotal(t *testing.T) {
	// the source declares the pre-adjustment amount; line items already
	// carry the adjustment folded in
	a := NewAssembler(2, testLogger())
	lines := []*invoice.LineItem{lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1)}
	adjs := &AdjustmentSet{ItemCents: map[string]int64{"i-1": -2000}}

	_, err := a.Assemble(testHeader(120), lines, adjs, nil, nil)
	require.NoError(t, err)
}

func TestAssembleKeepsAttemptsWhenNothingSettled(t *testing.T) {
	a := NewAssembler(2, testLogger())
	lines := []*invoice.LineItem{lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1)}
	txns := []*billing.RawTransaction{payment("p-1", 100, "Error")}

	inv, err := a.Assemble(testHeader(100), lines, emptyAdjustments(), nil, txns)
	require.NoError(t, err)
	require.Len(t, inv.Transactions, 1)
	assert.Equal(t, types.TransactionResultFailed, inv.Transactions[0].Result)
}

func TestAssembleFullyPaidDropsFailedAttempts(t *testing.T) {
	a := NewAssembler(2, testLogger())
	lines := []*invoice.LineItem{lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1)}
	txns := []*billing.RawTransaction{
		payment("p-1", 100, "Error"),
		payment("p-2", 100, types.SourceTransactionStatusProcessed),
	}

	inv, err := a.Assemble(testHeader(100), lines, emptyAdjustments(), nil, txns)
	require.NoError(t, err)
	require.Len(t, inv.Transactions, 1)
	assert.Equal(t, "p-2", inv.Transactions[0].ExternalID)
	assert.Equal(t, types.TransactionResultSuccessful, inv.Transactions[0].Result)
}

func TestAssembleFullyRefunded(t *testing.T) {
	a := NewAssembler(2, testLogger())
	lines := []*invoice.LineItem{lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1)}
	txns := []*billing.RawTransaction{
		payment("p-1", 100, types.SourceTransactionStatusSettled),
		refund("r-1", 100),
	}

	inv, err := a.Assemble(testHeader(100), lines, emptyAdjustments(), nil, txns)
	require.NoError(t, err)
	require.Len(t, inv.Transactions, 2)
	assert.Equal(t, types.TransactionTypePayment, inv.Transactions[0].Type)
	assert.Equal(t, types.TransactionTypeRefund, inv.Transactions[1].Type)
}

func TestAssembleFullyRefundedKeepsFailedAttempts(t *testing.T) {
	// the failed-attempt drop is scoped to invoices settled purely by
	// successful payments; a refunded invoice keeps its full history
	a := NewAssembler(2, testLogger())
	lines := []*invoice.LineItem{lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1)}
	txns := []*billing.RawTransaction{
		payment("p-1", 100, "Error"),
		payment("p-2", 100, types.SourceTransactionStatusSettled),
		refund("r-1", 100),
	}

	inv, err := a.Assemble(testHeader(100), lines, emptyAdjustments(), nil, txns)
	require.NoError(t, err)
	require.Len(t, inv.Transactions, 3)
	assert.Equal(t, types.TransactionResultFailed, inv.Transactions[0].Result)
}

func TestAssembleCreditBalanceCoversInvoice(t *testing.T) {
	a := NewAssembler(2, testLogger())
	lines := []*invoice.LineItem{lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1)}

	_, err := a.Assemble(testHeader(100), lines, emptyAdjustments(),
		[]*billing.RawAdjustment{creditDecrease("cba-1", 100)}, nil)
	require.NoError(t, err)
}

func TestAssemblePartialCreditBalanceIsFatal(t *testing.T) {
	a := NewAssembler(2, testLogger())
	lines := []*invoice.LineItem{lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1)}

	_, err := a.Assemble(testHeader(100), lines, emptyAdjustments(),
		[]*billing.RawAdjustment{creditDecrease("cba-1", 40)}, nil)
	require.Error(t, err)
	assert.True(t, ierr.IsReconciliation(err))
}

func TestAssembleUnexpectedPaymentCaseIsFatal(t *testing.T) {
	a := NewAssembler(2, testLogger())
	lines := []*invoice.LineItem{lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1)}
	txns := []*billing.RawTransaction{payment("p-1", 50, types.SourceTransactionStatusProcessed)}

	_, err := a.Assemble(testHeader(100), lines, emptyAdjustments(), nil, txns)
	require.Error(t, err)
	assert.True(t, ierr.IsReconciliation(err))
}

func TestAssembleWritesOffLongOverdueInvoices(t *testing.T) {
	a := NewAssembler(2, testLogger())
	a.now = func() time.Time { return apr1.AddDate(0, 1, 0) }

	header := testHeader(100)
	header.Balance = decimal.NewFromInt(100)
	header.DueDate = feb1 // more than two months before the injected now

	lines := []*invoice.LineItem{
		lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1),
		lineItem("i-2", "sub-1", "CAP", 0, 1, feb1, mar1),
	}
	// line totals must still match before the write-off applies
	header.Amount = decimal.NewFromInt(100)

	inv, err := a.Assemble(header, lines, emptyAdjustments(), nil, nil)
	require.NoError(t, err)
	for _, li := range inv.LineItems {
		require.NotNil(t, li.CancelledAt)
		assert.Equal(t, jan1, *li.CancelledAt)
	}
}

func TestAssembleRecentOverdueIsNotWrittenOff(t *testing.T) {
	a := NewAssembler(2, testLogger())
	a.now = func() time.Time { return mar1 }

	header := testHeader(100)
	header.Balance = decimal.NewFromInt(100)
	header.DueDate = feb1

	lines := []*invoice.LineItem{lineItem("i-1", "sub-1", "USERS", 10000, 1, jan1, feb1)}
	inv, err := a.Assemble(header, lines, emptyAdjustments(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, inv.LineItems[0].CancelledAt)
}

func TestHeaderFromItemsUppercasesCurrency(t *testing.T) {
	item := rawItem("i-1", "INV-9", "sub-1", "Users", 100, 1, jan1, feb1)
	item.Currency = "usd"
	item.InvoiceAmount = decimal.NewFromInt(100)

	header := HeaderFromItems([]*billing.RawBillingItem{item})
	assert.Equal(t, "INV-9", header.Number)
	assert.Equal(t, "USD", header.Currency)
	assert.True(t, header.Amount.Equal(decimal.NewFromInt(100)))
}
