package source

import (
	"context"

	"github.com/flexprice/revsync/internal/config"
	"github.com/flexprice/revsync/internal/domain/billing"
	"github.com/flexprice/revsync/internal/logger"
	"github.com/flexprice/revsync/internal/types"
	"github.com/samber/lo"
)

// Named bulk queries. Each pulls the full record set; incremental sync
// is not supported upstream, so every run re-exports everything. The
// adjustment queries alias their columns to a shared Adjustment prefix
// so one row shape decodes all three.
const (
	queryAccounts = `select Account.Id, Account.Name, Account.Currency,
		BillToContact.WorkEmail, BillToContact.Country, BillToContact.City,
		BillToContact.PostalCode, BillToContact.State
		from Account where Account.Status = 'Active'`

	queryBillingItems = `select InvoiceItem.Id, Account.Id, Subscription.Name,
		Invoice.InvoiceNumber, Invoice.InvoiceDate, Invoice.DueDate,
		Invoice.Amount, Invoice.Balance, Invoice.Status, Account.Currency,
		InvoiceItem.ChargeName, InvoiceItem.ChargeAmount, InvoiceItem.TaxAmount,
		InvoiceItem.Quantity, InvoiceItem.ServiceStartDate, InvoiceItem.ServiceEndDate,
		ProductRatePlanCharge.AccountingCode, Amendment.Type,
		InvoiceItem.AppliedToInvoiceItemId
		from InvoiceItem where Invoice.Status = 'Posted'`

	queryItemAdjustments = `select InvoiceItemAdjustment.Id as 'Adjustment.Id',
		Account.Id, InvoiceItemAdjustment.Type as 'Adjustment.Type',
		InvoiceItemAdjustment.Status as 'Adjustment.Status',
		InvoiceItemAdjustment.Amount as 'Adjustment.Amount',
		Invoice.InvoiceNumber,
		InvoiceItemAdjustment.SourceId as 'Adjustment.SourceId',
		InvoiceItemAdjustment.ReasonCode as 'Adjustment.ReasonCode',
		InvoiceItemAdjustment.CreatedDate as 'Adjustment.CreatedDate'
		from InvoiceItemAdjustment`

	queryInvoiceAdjustments = `select InvoiceAdjustment.Id as 'Adjustment.Id',
		Account.Id, InvoiceAdjustment.Type as 'Adjustment.Type',
		InvoiceAdjustment.Status as 'Adjustment.Status',
		InvoiceAdjustment.Amount as 'Adjustment.Amount',
		Invoice.InvoiceNumber,
		InvoiceAdjustment.ReasonCode as 'Adjustment.ReasonCode',
		InvoiceAdjustment.CreatedDate as 'Adjustment.CreatedDate'
		from InvoiceAdjustment`

	queryCreditBalanceAdjustments = `select CreditBalanceAdjustment.Id as 'Adjustment.Id',
		Account.Id, CreditBalanceAdjustment.Type as 'Adjustment.Type',
		CreditBalanceAdjustment.Status as 'Adjustment.Status',
		CreditBalanceAdjustment.Amount as 'Adjustment.Amount',
		Invoice.InvoiceNumber,
		CreditBalanceAdjustment.ReasonCode as 'Adjustment.ReasonCode',
		CreditBalanceAdjustment.CreatedDate as 'Adjustment.CreatedDate'
		from CreditBalanceAdjustment`

	queryPayments = `select Payment.Id as 'Transaction.Id', Account.Id,
		Invoice.InvoiceNumber, Payment.Status as 'Transaction.Status',
		Payment.Amount as 'Transaction.Amount',
		Payment.EffectiveDate as 'Transaction.EffectiveDate'
		from Payment`

	queryRefunds = `select Refund.Id as 'Transaction.Id', Account.Id,
		Invoice.InvoiceNumber, Refund.Status as 'Transaction.Status',
		Refund.Amount as 'Transaction.Amount',
		Refund.RefundDate as 'Transaction.EffectiveDate'
		from Refund`
)

// BulkSource implements billing.Source over the billing system's async
// export API.
type BulkSource struct {
	client *client
}

func NewBulkSource(cfg config.SourceConfig, log *logger.Logger) *BulkSource {
	return &BulkSource{client: newClient(cfg, log)}
}

func (s *BulkSource) FetchAccounts(ctx context.Context) ([]*billing.Account, error) {
	rows, err := exportRows[accountRow](ctx, s.client, "accounts", queryAccounts)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r *accountRow, _ int) *billing.Account { return r.toDomain() }), nil
}

func (s *BulkSource) FetchBillingItems(ctx context.Context) ([]*billing.RawBillingItem, error) {
	rows, err := exportRows[billingItemRow](ctx, s.client, "billing_items", queryBillingItems)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r *billingItemRow, _ int) *billing.RawBillingItem { return r.toDomain() }), nil
}

func (s *BulkSource) FetchItemAdjustments(ctx context.Context) ([]*billing.RawAdjustment, error) {
	return s.fetchAdjustments(ctx, "item_adjustments", queryItemAdjustments, types.AdjustmentKindItem)
}

func (s *BulkSource) FetchInvoiceAdjustments(ctx context.Context) ([]*billing.RawAdjustment, error) {
	return s.fetchAdjustments(ctx, "invoice_adjustments", queryInvoiceAdjustments, types.AdjustmentKindInvoice)
}

func (s *BulkSource) FetchCreditBalanceAdjustments(ctx context.Context) ([]*billing.RawAdjustment, error) {
	return s.fetchAdjustments(ctx, "credit_balance_adjustments", queryCreditBalanceAdjustments, types.AdjustmentKindCreditBalance)
}

// FetchTransactions merges the payment and refund exports into one
// stream tagged by kind.
func (s *BulkSource) FetchTransactions(ctx context.Context) ([]*billing.RawTransaction, error) {
	payments, err := exportRows[transactionRow](ctx, s.client, "payments", queryPayments)
	if err != nil {
		return nil, err
	}
	refunds, err := exportRows[transactionRow](ctx, s.client, "refunds", queryRefunds)
	if err != nil {
		return nil, err
	}

	txns := make([]*billing.RawTransaction, 0, len(payments)+len(refunds))
	for _, row := range payments {
		txns = append(txns, row.toDomain(types.TransactionTypePayment))
	}
	for _, row := range refunds {
		txns = append(txns, row.toDomain(types.TransactionTypeRefund))
	}
	return txns, nil
}

func (s *BulkSource) fetchAdjustments(ctx context.Context, name, query string, kind types.AdjustmentKind) ([]*billing.RawAdjustment, error) {
	rows, err := exportRows[adjustmentRow](ctx, s.client, name, query)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r *adjustmentRow, _ int) *billing.RawAdjustment { return r.toDomain(kind) }), nil
}
