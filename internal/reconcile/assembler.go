package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/flexprice/revsync/internal/domain/billing"
	"github.com/flexprice/revsync/internal/domain/invoice"
	"github.com/flexprice/revsync/internal/logger"
	"github.com/flexprice/revsync/internal/types"
	"github.com/shopspring/decimal"
)

// Header carries the source-declared invoice attributes shared by all
// items of one invoice number.
type Header struct {
	Number    string
	AccountID string
	Date      time.Time
	DueDate   time.Time
	Amount    decimal.Decimal
	Balance   decimal.Decimal
	Currency  string
}

// HeaderFromItems derives the invoice header from its raw items; the
// source repeats the invoice attributes on every joined row.
func HeaderFromItems(items []*billing.RawBillingItem) *Header {
	first := items[0]
	return &Header{
		Number:    first.InvoiceNumber,
		AccountID: first.AccountID,
		Date:      first.InvoiceDate,
		DueDate:   first.InvoiceDueDate,
		Amount:    first.InvoiceAmount,
		Balance:   first.InvoiceBalance,
		Currency:  strings.ToUpper(first.Currency),
	}
}

// Assembler builds one Invoice aggregate per invoice number and
// verifies its totals against the source-declared amounts.
type Assembler struct {
	writeOffMonths int
	log            *logger.Logger
	now            func() time.Time
}

func NewAssembler(writeOffMonths int, log *logger.Logger) *Assembler {
	return &Assembler{
		writeOffMonths: writeOffMonths,
		log:            log,
		now:            time.Now,
	}
}

// Assemble validates line item totals against the source-declared
// invoice amount, reconciles payments and refunds, and applies the
// long-overdue write-off policy. creditAdjs are the credit-balance
// adjustments the source linked to this invoice.
func (a *Assembler) Assemble(
	header *Header,
	lines []*invoice.LineItem,
	adjs *AdjustmentSet,
	creditAdjs []*billing.RawAdjustment,
	rawTxns []*billing.RawTransaction,
) (*invoice.Invoice, error) {
	inv := &invoice.Invoice{
		ExternalID: header.Number,
		AccountID:  header.AccountID,
		Date:       header.Date,
		DueDate:    header.DueDate,
		Currency:   header.Currency,
		LineItems:  lines,
	}

	expectedCents := types.ToCents(header.Amount) + adjs.ItemTotal() + adjs.InvoiceCents
	if actual := inv.TotalCents(); actual != expectedCents {
		return nil, newTotalMismatchError(header.Number, expectedCents, actual)
	}

	txns := normalizeTransactions(rawTxns)
	payments, refunds := settledTotals(rawTxns)
	creditAdjusted := creditAdjustedCents(creditAdjs)

	// a credit-balance adjustment that stands alone must cover the
	// invoice exactly; partial coverage is an un-modelable state
	if creditAdjusted != 0 && payments == 0 && refunds == 0 {
		if creditAdjusted != inv.TotalCents() {
			return nil, newPartiallyAdjustedError(header.Number, creditAdjusted, inv.TotalCents())
		}
	}

	total := inv.TotalCents()
	switch {
	case payments == 0 && refunds == 0 && creditAdjusted == 0:
		// nothing settled yet; keep whatever attempts were recorded
	case payments == total && refunds == 0:
		// reconciles purely through successful payments; failed and
		// other-typed attempts are noise downstream
		txns = successfulOnly(txns)
	case payments == total && refunds == total:
		// fully refunded; attempts stay, the refund tells the story
	case payments-refunds+creditAdjusted == total:
		// settled through a mix of payments, refunds and credit
		// balance; keep the full history
	default:
		return nil, newUnexpectedPaymentCaseError(header.Number, payments, refunds, creditAdjusted, total)
	}
	inv.Transactions = txns

	a.applyWriteOff(inv, header)

	return inv, nil
}

// applyWriteOff backfills a cancellation date onto every line item of
// an invoice that is still unpaid long past its due date. This models
// an operational write-off, not a cancellation signal from the source.
// HACK: the cutoff is a policy knob, not billing data.
func (a *Assembler) applyWriteOff(inv *invoice.Invoice, header *Header) {
	if !header.Balance.IsPositive() {
		return
	}
	if header.DueDate.IsZero() || !header.DueDate.Before(types.MonthsAgo(a.now(), a.writeOffMonths)) {
		return
	}

	cancelAt := earliestPositiveStart(inv.LineItems)
	if cancelAt == nil {
		return
	}
	a.log.Warnf("invoice %s: overdue since %s, writing off line items as cancelled at %s",
		inv.ExternalID, header.DueDate.Format("2006-01-02"), cancelAt.Format("2006-01-02"))
	for _, li := range inv.LineItems {
		t := *cancelAt
		li.CancelledAt = &t
	}
}

func earliestPositiveStart(lines []*invoice.LineItem) *time.Time {
	var earliest *time.Time
	for _, li := range lines {
		if li.AmountInCents <= 0 {
			continue
		}
		start := li.ServicePeriodStart
		if earliest == nil || start.Before(*earliest) {
			earliest = &start
		}
	}
	return earliest
}

func normalizeTransactions(rawTxns []*billing.RawTransaction) []*invoice.Transaction {
	sorted := make([]*billing.RawTransaction, len(rawTxns))
	copy(sorted, rawTxns)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	txns := make([]*invoice.Transaction, 0, len(sorted))
	for _, raw := range sorted {
		result := types.TransactionResultFailed
		if raw.Succeeded() {
			result = types.TransactionResultSuccessful
		}
		txns = append(txns, &invoice.Transaction{
			Date:       raw.Date,
			Type:       raw.Kind,
			Result:     result,
			ExternalID: raw.ID,
		})
	}
	return txns
}

func settledTotals(rawTxns []*billing.RawTransaction) (payments, refunds int64) {
	for _, raw := range rawTxns {
		if !raw.Succeeded() {
			continue
		}
		cents := types.ToCents(raw.Amount.Abs())
		switch raw.Kind {
		case types.TransactionTypePayment:
			payments += cents
		case types.TransactionTypeRefund:
			refunds += cents
		}
	}
	return payments, refunds
}

// creditAdjustedCents is the net amount the credit-balance adjustments
// returned to the customer for this invoice, positive when money went
// back.
func creditAdjustedCents(creditAdjs []*billing.RawAdjustment) int64 {
	var total int64
	for _, adj := range creditAdjs {
		if !adj.IsProcessed() {
			continue
		}
		total += types.ToCents(adj.SignedAmount().Neg())
	}
	return total
}

func successfulOnly(txns []*invoice.Transaction) []*invoice.Transaction {
	kept := make([]*invoice.Transaction, 0, len(txns))
	for _, t := range txns {
		if t.Result == types.TransactionResultSuccessful {
			kept = append(kept, t)
		}
	}
	return kept
}
