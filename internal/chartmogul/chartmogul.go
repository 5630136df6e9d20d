package chartmogul

import (
	"context"
	"strings"
	"time"

	cm "github.com/chartmogul/chartmogul-go/v4"
	"github.com/flexprice/revsync/internal/config"
	"github.com/flexprice/revsync/internal/domain/invoice"
	ierr "github.com/flexprice/revsync/internal/errors"
	"github.com/flexprice/revsync/internal/logger"
	"github.com/flexprice/revsync/internal/types"
	goCache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// DefaultExpiration is the default expiration time for cache entries
const DefaultExpiration = 30 * time.Minute

// DefaultCleanupInterval is how often expired items are removed from the cache
const DefaultCleanupInterval = 1 * time.Hour

// listPageSize for cursor pagination against the destination API
const listPageSize = 200

// ChartMogulService implements invoice.Sink against the ChartMogul
// import API. Plan and customer UUID lookups are cached per process;
// every outbound call passes the shared rate limiter.
type ChartMogulService struct {
	client         *cm.API
	cfg            *config.Configuration
	logger         *logger.Logger
	limiter        *rate.Limiter
	plans          *goCache.Cache
	customers      *goCache.Cache
	dataSourceUUID string
}

func NewChartMogulService(cfg *config.Configuration, logger *logger.Logger) (*ChartMogulService, error) {
	apiKey := cfg.ChartMogul.APIKey
	if apiKey == "" {
		return nil, ierr.NewError("CHARTMOGUL_API_KEY not set").
			WithHint("set chartmogul.apikey or the REVSYNC_CHARTMOGUL_APIKEY environment variable").
			Mark(ierr.ErrValidation)
	}
	client := &cm.API{
		ApiKey: apiKey,
	}
	return &ChartMogulService{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(cfg.Sync.SinkRequestsPerSecond), 1),
		plans:     goCache.New(DefaultExpiration, DefaultCleanupInterval),
		customers: goCache.New(DefaultExpiration, DefaultCleanupInterval),
	}, nil
}

// Ping verifies the API key against the destination
func (s *ChartMogulService) Ping() (bool, error) {
	return s.client.Ping()
}

// EnsureDataSource finds or creates the configured data source and
// pins its UUID for the rest of the run.
func (s *ChartMogulService) EnsureDataSource(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	name := s.cfg.ChartMogul.DataSourceName
	listing, err := s.client.ListDataSources()
	if err != nil {
		return s.wrapAPIError(err, "listing data sources failed")
	}
	for _, ds := range listing.DataSources {
		if ds.Name == name {
			s.dataSourceUUID = ds.UUID
			return nil
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	ds, err := s.client.CreateDataSource(name)
	if err != nil {
		return s.wrapAPIError(err, "creating data source failed")
	}
	s.logger.Infof("created data source %s (%s)", name, ds.UUID)
	s.dataSourceUUID = ds.UUID
	return nil
}

// EnsurePlans creates any plan that does not exist yet and fills the
// plan UUID cache the invoice mapping depends on.
func (s *ChartMogulService) EnsurePlans(ctx context.Context, plans []*invoice.Plan) error {
	if err := s.loadExistingPlans(ctx); err != nil {
		return err
	}

	for _, plan := range plans {
		if _, ok := s.plans.Get(plan.ExternalID); ok {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		created, err := s.client.CreatePlan(&cm.Plan{
			DataSourceUUID: s.dataSourceUUID,
			ExternalID:     plan.ExternalID,
			Name:           plan.Name,
			IntervalCount:  uint32(plan.IntervalCount),
			IntervalUnit:   plan.IntervalUnit,
		})
		if err != nil {
			if isAlreadyExists(err) {
				// raced with a parallel run; reload and continue
				if err := s.loadExistingPlans(ctx); err != nil {
					return err
				}
				continue
			}
			return s.wrapAPIError(err, "creating plan "+plan.ExternalID+" failed")
		}
		s.logger.Infof("created plan %s (%s)", plan.ExternalID, created.UUID)
		s.plans.Set(plan.ExternalID, created.UUID, goCache.DefaultExpiration)
	}
	return nil
}

func (s *ChartMogulService) loadExistingPlans(ctx context.Context) error {
	cursor := ""
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		listing, err := s.client.ListPlans(&cm.ListPlansParams{
			DataSourceUUID: s.dataSourceUUID,
			Cursor:         cm.Cursor{Cursor: cursor, PerPage: listPageSize},
		})
		if err != nil {
			return s.wrapAPIError(err, "listing plans failed")
		}
		for _, plan := range listing.Plans {
			s.plans.Set(plan.ExternalID, plan.UUID, goCache.DefaultExpiration)
		}
		if !listing.HasMore {
			return nil
		}
		cursor = listing.Cursor
	}
}

// EnsureCustomer finds or creates the customer and returns its UUID
func (s *ChartMogulService) EnsureCustomer(ctx context.Context, customer *invoice.Customer) (string, error) {
	if uuid, ok := s.customers.Get(customer.ExternalID); ok {
		return uuid.(string), nil
	}

	uuid, err := s.findCustomer(ctx, customer.ExternalID)
	if err != nil {
		return "", err
	}
	if uuid == "" {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", err
		}
		created, err := s.client.CreateCustomer(&cm.NewCustomer{
			DataSourceUUID: s.dataSourceUUID,
			ExternalID:     customer.ExternalID,
			Name:           customer.Name,
			Email:          customer.Email,
			Country:        customer.Country,
			City:           customer.City,
			Zip:            customer.Zip,
			State:          customer.State,
		})
		if err != nil {
			if !isAlreadyExists(err) {
				return "", s.wrapAPIError(err, "creating customer "+customer.ExternalID+" failed")
			}
			// created by a concurrent account worker between find and create
			uuid, err = s.findCustomer(ctx, customer.ExternalID)
			if err != nil {
				return "", err
			}
		} else {
			uuid = created.UUID
		}
	}

	s.customers.Set(customer.ExternalID, uuid, goCache.DefaultExpiration)
	return uuid, nil
}

func (s *ChartMogulService) findCustomer(ctx context.Context, externalID string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	listing, err := s.client.ListCustomers(&cm.ListCustomersParams{
		DataSourceUUID: s.dataSourceUUID,
		ExternalID:     externalID,
		Cursor:         cm.Cursor{PerPage: 1},
	})
	if err != nil {
		return "", s.wrapAPIError(err, "looking up customer "+externalID+" failed")
	}
	if len(listing.Entries) == 0 {
		return "", nil
	}
	return listing.Entries[0].UUID, nil
}

// SubmitInvoices submits one customer's invoice batch in a single
// import call; the destination treats the batch as all-or-nothing.
func (s *ChartMogulService) SubmitInvoices(ctx context.Context, customerUUID string, invoices []*invoice.Invoice) error {
	payload := make([]*cm.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		mapped, err := s.mapInvoice(inv)
		if err != nil {
			return err
		}
		payload = append(payload, mapped)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := s.client.CreateInvoices(payload, customerUUID); err != nil {
		if isAlreadyExists(err) {
			return ierr.WithError(err).
				WithHint("invoice batch was already imported for this customer").
				Mark(ierr.ErrAlreadyExists)
		}
		return s.wrapAPIError(err, "submitting invoice batch failed")
	}
	return nil
}

func (s *ChartMogulService) mapInvoice(inv *invoice.Invoice) (*cm.Invoice, error) {
	lineItems := make([]*cm.LineItem, 0, len(inv.LineItems))
	for _, li := range inv.LineItems {
		planUUID, ok := s.plans.Get(li.PlanCode)
		if !ok {
			return nil, ierr.NewErrorf("invoice %s references unprovisioned plan %q", inv.ExternalID, li.PlanCode).
				Mark(ierr.ErrNotFound)
		}
		mapped := &cm.LineItem{
			Type:                   li.Type,
			SubscriptionExternalID: li.SubscriptionExternalID,
			PlanUUID:               planUUID.(string),
			ServicePeriodStart:     types.FormatISO8601(li.ServicePeriodStart),
			ServicePeriodEnd:       types.FormatISO8601(li.ServicePeriodEnd),
			AmountInCents:          int(li.AmountInCents),
			DiscountAmountInCents:  int(li.DiscountAmountInCents),
			TaxAmountInCents:       int(li.TaxAmountInCents),
			Quantity:               int(li.Quantity),
			Prorated:               li.Prorated,
			ExternalID:             li.ExternalID,
		}
		if li.CancelledAt != nil {
			mapped.CancelledAt = types.FormatISO8601(*li.CancelledAt)
		}
		lineItems = append(lineItems, mapped)
	}

	transactions := make([]*cm.Transaction, 0, len(inv.Transactions))
	for _, txn := range inv.Transactions {
		transactions = append(transactions, &cm.Transaction{
			Date:       types.FormatISO8601(txn.Date),
			Type:       txn.Type.String(),
			Result:     txn.Result.String(),
			ExternalID: txn.ExternalID,
		})
	}

	return &cm.Invoice{
		ExternalID:   inv.ExternalID,
		Date:         types.FormatISO8601(inv.Date),
		DueDate:      types.FormatISO8601(inv.DueDate),
		Currency:     inv.Currency,
		LineItems:    lineItems,
		Transactions: transactions,
	}, nil
}

func (s *ChartMogulService) wrapAPIError(err error, hint string) error {
	return ierr.WithError(err).
		WithHint(hint).
		Mark(ierr.ErrHTTPClient)
}

// isAlreadyExists matches the destination's duplicate-resource
// rejection, which arrives as a formatted message rather than a typed
// error.
func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "has already been taken")
}
