package reconcile

import (
	"strings"
	"time"

	"github.com/flexprice/revsync/internal/config"
	"github.com/flexprice/revsync/internal/domain/billing"
	"github.com/flexprice/revsync/internal/domain/invoice"
	"github.com/flexprice/revsync/internal/logger"
	"github.com/flexprice/revsync/internal/testutil"
	"github.com/shopspring/decimal"
)

func testLogger() *logger.Logger {
	return logger.L
}

func testTable() config.ClassificationConfig {
	return config.GetDefaultConfig().Classification
}

func codeFor(chargeName string) string {
	if strings.HasPrefix(chargeName, "Capacity") {
		return "CAP"
	}
	return "USERS"
}

// rawItem builds one raw billing row with the invoice context fields
// filled in; tests override what they care about.
func rawItem(id, invoiceNumber, subscriptionID, chargeName string, amount float64, quantity int64, start, end time.Time) *billing.RawBillingItem {
	return &billing.RawBillingItem{
		ID:             id,
		AccountID:      "acc-1",
		SubscriptionID: subscriptionID,
		InvoiceNumber:  invoiceNumber,
		InvoiceDate:    start,
		InvoiceDueDate: start.AddDate(0, 1, 0),
		InvoiceAmount:  decimal.Zero,
		InvoiceBalance: decimal.Zero,
		Currency:       "USD",
		ChargeName:     chargeName,
		ChargeAmount:   decimal.NewFromFloat(amount),
		TaxAmount:      decimal.Zero,
		Quantity:       quantity,
		ServiceStart:   start,
		ServiceEnd:     end,
		AccountingCode: codeFor(chargeName),
	}
}

func lineItem(externalID, subscriptionID, planCode string, cents, quantity int64, start, end time.Time) *invoice.LineItem {
	return &invoice.LineItem{
		Type:                   invoice.LineItemTypeSubscription,
		SubscriptionExternalID: subscriptionID,
		PlanCode:               planCode,
		ServicePeriodStart:     start,
		ServicePeriodEnd:       end,
		AmountInCents:          cents,
		Quantity:               quantity,
		ExternalID:             externalID,
	}
}

func testInvoice(externalID string, date time.Time, items ...*invoice.LineItem) *invoice.Invoice {
	return &invoice.Invoice{
		ExternalID: externalID,
		AccountID:  "acc-1",
		Date:       date,
		DueDate:    date.AddDate(0, 1, 0),
		Currency:   "USD",
		LineItems:  items,
	}
}

var (
	jan1 = testutil.Date(2025, time.January, 1)
	feb1 = testutil.Date(2025, time.February, 1)
	mar1 = testutil.Date(2025, time.March, 1)
	apr1 = testutil.Date(2025, time.April, 1)
)
