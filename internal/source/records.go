package source

import (
	"context"
	stdjson "encoding/json"
	"strings"
	"time"

	"github.com/flexprice/revsync/internal/domain/billing"
	ierr "github.com/flexprice/revsync/internal/errors"
	"github.com/flexprice/revsync/internal/types"
	"github.com/shopspring/decimal"
)

// Export rows come back with dot-qualified column names, one key per
// joined object field. The structs below mirror those columns verbatim;
// mapping to domain records happens in the toDomain methods.

// sourceTime accepts the two timestamp shapes the export file mixes:
// full RFC 3339 instants and bare dates.
type sourceTime struct {
	time.Time
}

func (t *sourceTime) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return ierr.NewErrorf("unparseable export timestamp %q", raw).
		Mark(ierr.ErrValidation)
}

// recordFile keeps row decoding lazy so each record kind can bind its
// own column set.
type recordFile struct {
	Records []stdjson.RawMessage `json:"records"`
}

type accountRow struct {
	ID       string `json:"Account.Id"`
	Name     string `json:"Account.Name"`
	Currency string `json:"Account.Currency"`
	Email    string `json:"BillToContact.WorkEmail"`
	Country  string `json:"BillToContact.Country"`
	City     string `json:"BillToContact.City"`
	Zip      string `json:"BillToContact.PostalCode"`
	State    string `json:"BillToContact.State"`
}

func (r *accountRow) toDomain() *billing.Account {
	return &billing.Account{
		ID:       r.ID,
		Name:     r.Name,
		Currency: r.Currency,
		Email:    r.Email,
		Country:  r.Country,
		City:     r.City,
		Zip:      r.Zip,
		State:    r.State,
	}
}

type billingItemRow struct {
	ID              string          `json:"InvoiceItem.Id"`
	AccountID       string          `json:"Account.Id"`
	SubscriptionID  string          `json:"Subscription.Name"`
	InvoiceNumber   string          `json:"Invoice.InvoiceNumber"`
	InvoiceDate     sourceTime      `json:"Invoice.InvoiceDate"`
	InvoiceDueDate  sourceTime      `json:"Invoice.DueDate"`
	InvoiceAmount   decimal.Decimal `json:"Invoice.Amount"`
	InvoiceBalance  decimal.Decimal `json:"Invoice.Balance"`
	InvoiceStatus   string          `json:"Invoice.Status"`
	Currency        string          `json:"Account.Currency"`
	ChargeName      string          `json:"InvoiceItem.ChargeName"`
	ChargeAmount    decimal.Decimal `json:"InvoiceItem.ChargeAmount"`
	TaxAmount       decimal.Decimal `json:"InvoiceItem.TaxAmount"`
	Quantity        decimal.Decimal `json:"InvoiceItem.Quantity"`
	ServiceStart    sourceTime      `json:"InvoiceItem.ServiceStartDate"`
	ServiceEnd      sourceTime      `json:"InvoiceItem.ServiceEndDate"`
	AccountingCode  string          `json:"ProductRatePlanCharge.AccountingCode"`
	AmendmentType   string          `json:"Amendment.Type"`
	AppliedToItemID string          `json:"InvoiceItem.AppliedToInvoiceItemId"`
}

func (r *billingItemRow) toDomain() *billing.RawBillingItem {
	return &billing.RawBillingItem{
		ID:              r.ID,
		AccountID:       r.AccountID,
		SubscriptionID:  r.SubscriptionID,
		InvoiceNumber:   r.InvoiceNumber,
		InvoiceDate:     r.InvoiceDate.Time,
		InvoiceDueDate:  r.InvoiceDueDate.Time,
		InvoiceAmount:   r.InvoiceAmount,
		InvoiceBalance:  r.InvoiceBalance,
		InvoiceStatus:   r.InvoiceStatus,
		Currency:        r.Currency,
		ChargeName:      r.ChargeName,
		ChargeAmount:    r.ChargeAmount,
		TaxAmount:       r.TaxAmount,
		Quantity:        r.Quantity.IntPart(),
		ServiceStart:    r.ServiceStart.Time,
		ServiceEnd:      r.ServiceEnd.Time,
		AccountingCode:  r.AccountingCode,
		AmendmentType:   r.AmendmentType,
		AppliedToItemID: r.AppliedToItemID,
	}
}

// adjustmentRow covers all three adjustment exports; the column prefix
// differs per query so each export aliases its columns to this shape.
type adjustmentRow struct {
	ID            string          `json:"Adjustment.Id"`
	AccountID     string          `json:"Account.Id"`
	Type          string          `json:"Adjustment.Type"`
	Status        string          `json:"Adjustment.Status"`
	Amount        decimal.Decimal `json:"Adjustment.Amount"`
	InvoiceNumber string          `json:"Invoice.InvoiceNumber"`
	ItemID        string          `json:"Adjustment.SourceId"`
	ReasonCode    string          `json:"Adjustment.ReasonCode"`
	CreatedAt     sourceTime      `json:"Adjustment.CreatedDate"`
}

func (r *adjustmentRow) toDomain(kind types.AdjustmentKind) *billing.RawAdjustment {
	return &billing.RawAdjustment{
		ID:            r.ID,
		AccountID:     r.AccountID,
		Kind:          kind,
		Type:          r.Type,
		Status:        r.Status,
		Amount:        r.Amount,
		InvoiceNumber: r.InvoiceNumber,
		ItemID:        r.ItemID,
		ReasonCode:    r.ReasonCode,
		CreatedAt:     r.CreatedAt.Time,
	}
}

type transactionRow struct {
	ID            string          `json:"Transaction.Id"`
	AccountID     string          `json:"Account.Id"`
	InvoiceNumber string          `json:"Invoice.InvoiceNumber"`
	Status        string          `json:"Transaction.Status"`
	Amount        decimal.Decimal `json:"Transaction.Amount"`
	Date          sourceTime      `json:"Transaction.EffectiveDate"`
}

func (r *transactionRow) toDomain(kind types.TransactionType) *billing.RawTransaction {
	return &billing.RawTransaction{
		ID:            r.ID,
		AccountID:     r.AccountID,
		InvoiceNumber: r.InvoiceNumber,
		Kind:          kind,
		Status:        r.Status,
		Amount:        r.Amount,
		Date:          r.Date.Time,
	}
}

// exportRows runs one bulk query and binds every record of the result
// file to T.
func exportRows[T any](ctx context.Context, c *client, queryName, query string) ([]*T, error) {
	body, err := c.runQuery(ctx, queryName, query)
	if err != nil {
		return nil, err
	}
	return decodeRows[T](body, queryName)
}

// decodeRows binds every record of an export file to T.
func decodeRows[T any](body []byte, queryName string) ([]*T, error) {
	var file recordFile
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("export %s returned an unreadable result file", queryName).
			Mark(ierr.ErrHTTPClient)
	}

	rows := make([]*T, 0, len(file.Records))
	for i, record := range file.Records {
		row := new(T)
		if err := json.Unmarshal(record, row); err != nil {
			return nil, ierr.WithError(err).
				WithHintf("export %s: record %d does not match the expected columns", queryName, i).
				Mark(ierr.ErrValidation)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
