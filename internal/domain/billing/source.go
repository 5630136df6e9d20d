package billing

import (
	"context"
)

// Source is the billing system the raw records are pulled from. Each
// method is one named bulk query returning flat records; every run
// fetches the full dataset. Implementations own their job polling and
// retry behavior.
type Source interface {
	FetchAccounts(ctx context.Context) ([]*Account, error)
	FetchBillingItems(ctx context.Context) ([]*RawBillingItem, error)
	FetchItemAdjustments(ctx context.Context) ([]*RawAdjustment, error)
	FetchInvoiceAdjustments(ctx context.Context) ([]*RawAdjustment, error)
	FetchCreditBalanceAdjustments(ctx context.Context) ([]*RawAdjustment, error)
	FetchTransactions(ctx context.Context) ([]*RawTransaction, error)
}
