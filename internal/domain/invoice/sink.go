package invoice

import (
	"context"
)

// Plan is one destination plan, keyed by the source accounting code
type Plan struct {
	ExternalID    string
	Name          string
	IntervalCount int
	IntervalUnit  string
}

// Customer is one destination customer record
type Customer struct {
	ExternalID string
	Name       string
	Email      string
	Country    string
	City       string
	Zip        string
	State      string
}

// Sink is the destination analytics system. Invoice submission is
// all-or-nothing per customer batch; implementations may reject excess
// concurrent writes, so callers bound their parallelism.
type Sink interface {
	// EnsureDataSource creates or reuses the destination data source
	// all other records hang off of
	EnsureDataSource(ctx context.Context) error
	// EnsurePlans creates any of the given plans that do not exist yet
	EnsurePlans(ctx context.Context, plans []*Plan) error
	// EnsureCustomer creates or reuses the customer and returns its
	// destination UUID
	EnsureCustomer(ctx context.Context, customer *Customer) (string, error)
	// SubmitInvoices submits one customer's ordered invoice batch
	SubmitInvoices(ctx context.Context, customerUUID string, invoices []*Invoice) error
}
