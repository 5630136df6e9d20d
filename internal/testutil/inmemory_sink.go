package testutil

import (
	"context"
	"sync"

	"github.com/flexprice/revsync/internal/domain/invoice"
	ierr "github.com/flexprice/revsync/internal/errors"
)

// InMemorySink records everything the pipeline submits so tests can
// assert on provisioning and invoice batches without a destination.
type InMemorySink struct {
	mu sync.RWMutex

	DataSourceEnsured bool
	Plans             []*invoice.Plan
	Customers         map[string]*invoice.Customer
	Submitted         map[string][]*invoice.Invoice

	// FailSubmitWithConflict makes every SubmitInvoices call report a
	// duplicate-import conflict, for update-mode tests
	FailSubmitWithConflict bool
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{
		Customers: make(map[string]*invoice.Customer),
		Submitted: make(map[string][]*invoice.Invoice),
	}
}

func (s *InMemorySink) EnsureDataSource(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DataSourceEnsured = true
	return nil
}

func (s *InMemorySink) EnsurePlans(_ context.Context, plans []*invoice.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Plans = append(s.Plans, plans...)
	return nil
}

func (s *InMemorySink) EnsureCustomer(_ context.Context, customer *invoice.Customer) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Customers[customer.ExternalID] = customer
	return "cus_" + customer.ExternalID, nil
}

func (s *InMemorySink) SubmitInvoices(_ context.Context, customerUUID string, invoices []*invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSubmitWithConflict {
		return ierr.NewError("invoice batch already exists").Mark(ierr.ErrAlreadyExists)
	}
	s.Submitted[customerUUID] = append(s.Submitted[customerUUID], invoices...)
	return nil
}

// SubmittedFor returns the invoices recorded for one customer UUID
func (s *InMemorySink) SubmittedFor(customerUUID string) []*invoice.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Submitted[customerUUID]
}
