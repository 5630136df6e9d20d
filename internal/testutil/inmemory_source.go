package testutil

import (
	"context"

	"github.com/flexprice/revsync/internal/domain/billing"
)

// InMemorySource serves a fixed dataset as a billing.Source
type InMemorySource struct {
	Accounts     []*billing.Account
	Items        []*billing.RawBillingItem
	ItemAdjs     []*billing.RawAdjustment
	InvoiceAdjs  []*billing.RawAdjustment
	CreditAdjs   []*billing.RawAdjustment
	Transactions []*billing.RawTransaction

	// Err, when set, is returned by every fetch
	Err error
}

func (s *InMemorySource) FetchAccounts(_ context.Context) ([]*billing.Account, error) {
	return s.Accounts, s.Err
}

func (s *InMemorySource) FetchBillingItems(_ context.Context) ([]*billing.RawBillingItem, error) {
	return s.Items, s.Err
}

func (s *InMemorySource) FetchItemAdjustments(_ context.Context) ([]*billing.RawAdjustment, error) {
	return s.ItemAdjs, s.Err
}

func (s *InMemorySource) FetchInvoiceAdjustments(_ context.Context) ([]*billing.RawAdjustment, error) {
	return s.InvoiceAdjs, s.Err
}

func (s *InMemorySource) FetchCreditBalanceAdjustments(_ context.Context) ([]*billing.RawAdjustment, error) {
	return s.CreditAdjs, s.Err
}

func (s *InMemorySource) FetchTransactions(_ context.Context) ([]*billing.RawTransaction, error) {
	return s.Transactions, s.Err
}
