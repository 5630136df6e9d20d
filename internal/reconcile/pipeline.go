package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/flexprice/revsync/internal/config"
	"github.com/flexprice/revsync/internal/domain/billing"
	"github.com/flexprice/revsync/internal/domain/invoice"
	ierr "github.com/flexprice/revsync/internal/errors"
	"github.com/flexprice/revsync/internal/logger"
	"github.com/flexprice/revsync/internal/types"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

// dataset is everything one run pulls from the source, grouped for
// per-account reconciliation.
type dataset struct {
	accounts     map[string]*billing.Account
	items        []*billing.RawBillingItem
	itemAdjs     []*billing.RawAdjustment
	invoiceAdjs  []*billing.RawAdjustment
	creditAdjs   []*billing.RawAdjustment
	transactions []*billing.RawTransaction
}

// accountData is the per-account slice of the dataset
type accountData struct {
	account      *billing.Account
	itemsByInv   map[string][]*billing.RawBillingItem
	itemAdjs     map[string][]*billing.RawAdjustment
	invoiceAdjs  map[string][]*billing.RawAdjustment
	creditByInv  map[string][]*billing.RawAdjustment
	pendingAdjs  []*billing.RawAdjustment
	transactions map[string][]*billing.RawTransaction
}

// RunSummary is the per-run outcome reported to the caller
type RunSummary struct {
	Accounts          int
	AccountsFailed    int
	InvoicesSubmitted int
	CreditsMatched    int
	RefundsApplied    int
	DroppedOrphaned   int
	DroppedAnnulled   int
	DroppedNoOp       int
}

// Pipeline sequences the reconciliation passes per customer account
// and hands the result to the sink. Accounts run with bounded
// parallelism; within one account everything is strictly sequential in
// non-decreasing invoice id order, because the later passes mutate
// earlier invoices.
type Pipeline struct {
	cfg        *config.Configuration
	source     billing.Source
	sink       invoice.Sink
	classifier *Classifier
	matcher    *Matcher
	assembler  *Assembler
	resolver   *CancellationResolver
	refunds    *PendingRefundMatcher
	log        *logger.Logger
}

func NewPipeline(cfg *config.Configuration, source billing.Source, sink invoice.Sink, log *logger.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		source:     source,
		sink:       sink,
		classifier: NewClassifier(cfg.Classification, log),
		matcher:    NewMatcher(log),
		assembler:  NewAssembler(cfg.Sync.WriteOffMonths, log),
		resolver:   NewCancellationResolver(log),
		refunds:    NewPendingRefundMatcher(log),
		log:        log,
	}
}

// Run reconciles the full dataset and submits it. Reconciliation or
// sink failures abort only their own account; sibling accounts finish
// and the collected errors surface together.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	runID := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_RUN)
	log := p.log.With("run_id", runID)
	log.Infof("starting reconciliation run, classification table version %s", p.cfg.Classification.Version)

	data, err := p.fetch(ctx)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("fetching raw records from the billing source failed").
			Mark(ierr.ErrSystem)
	}

	if err := p.sink.EnsureDataSource(ctx); err != nil {
		return nil, err
	}
	if err := p.sink.EnsurePlans(ctx, collectPlans(data.items)); err != nil {
		return nil, err
	}

	perAccount := groupByAccount(data)
	accountIDs := lo.Keys(perAccount)
	sort.Strings(accountIDs)

	summary := &RunSummary{Accounts: len(accountIDs)}
	var mu sync.Mutex

	workers := pool.New().WithErrors().WithMaxGoroutines(p.cfg.Sync.MaxConcurrentAccounts)
	for _, accountID := range accountIDs {
		acct := perAccount[accountID]
		workers.Go(func() error {
			invoices, stats, err := p.reconcileAccount(acct)
			if err == nil {
				err = p.submitAccount(ctx, acct, invoices)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.AccountsFailed++
				return ierr.WithError(err).
					WithMessagef("account %s", accountID).
					Mark(ierr.ErrReconciliation)
			}
			summary.InvoicesSubmitted += len(invoices)
			summary.CreditsMatched += stats.credits
			summary.RefundsApplied += stats.refunds
			summary.DroppedOrphaned += stats.orphaned
			summary.DroppedAnnulled += stats.annulled
			summary.DroppedNoOp += stats.noOp
			return nil
		})
	}
	err = workers.Wait()

	log.Infof("run complete: %d accounts, %d failed, %d invoices submitted, %d credits matched, %d refunds applied, %d/%d/%d dropped (orphaned/annulled/no-op)",
		summary.Accounts, summary.AccountsFailed, summary.InvoicesSubmitted,
		summary.CreditsMatched, summary.RefundsApplied,
		summary.DroppedOrphaned, summary.DroppedAnnulled, summary.DroppedNoOp)
	return summary, err
}

// fetch pulls every raw record kind from the source concurrently
func (p *Pipeline) fetch(ctx context.Context) (*dataset, error) {
	data := &dataset{accounts: make(map[string]*billing.Account)}

	fetchers := pool.New().WithErrors().WithContext(ctx)
	fetchers.Go(func(ctx context.Context) error {
		accounts, err := p.source.FetchAccounts(ctx)
		if err != nil {
			return err
		}
		for _, acct := range accounts {
			data.accounts[acct.ID] = acct
		}
		return nil
	})
	fetchers.Go(func(ctx context.Context) error {
		var err error
		data.items, err = p.source.FetchBillingItems(ctx)
		return err
	})
	fetchers.Go(func(ctx context.Context) error {
		var err error
		data.itemAdjs, err = p.source.FetchItemAdjustments(ctx)
		return err
	})
	fetchers.Go(func(ctx context.Context) error {
		var err error
		data.invoiceAdjs, err = p.source.FetchInvoiceAdjustments(ctx)
		return err
	})
	fetchers.Go(func(ctx context.Context) error {
		var err error
		data.creditAdjs, err = p.source.FetchCreditBalanceAdjustments(ctx)
		return err
	})
	fetchers.Go(func(ctx context.Context) error {
		var err error
		data.transactions, err = p.source.FetchTransactions(ctx)
		return err
	})
	if err := fetchers.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}

type accountStats struct {
	credits  int
	refunds  int
	orphaned int
	annulled int
	noOp     int
}

// reconcileAccount runs the full pass sequence for one account. The
// account owns its invoice list exclusively; no state is shared with
// sibling accounts.
func (p *Pipeline) reconcileAccount(acct *accountData) ([]*invoice.Invoice, *accountStats, error) {
	numbers := lo.Keys(acct.itemsByInv)
	sort.Strings(numbers)

	stats := &accountStats{}
	invoices := make([]*invoice.Invoice, 0, len(numbers))
	for _, number := range numbers {
		inv, credits, err := p.reconcileInvoice(acct, number)
		if err != nil {
			return nil, nil, ierr.WithError(err).
				WithMessagef("invoice %s", number).
				Mark(ierr.ErrReconciliation)
		}
		stats.credits += credits
		if inv != nil {
			invoices = append(invoices, inv)
		}
	}

	invoices, err := p.resolver.Resolve(invoices)
	if err != nil {
		return nil, nil, err
	}

	if err := p.refunds.Match(accountIDOf(acct), invoices, acct.pendingAdjs); err != nil {
		return nil, nil, err
	}
	// Match errors on any leftover, so success means every pending
	// decrease was applied
	stats.refunds = len(acct.pendingAdjs)

	invoices, stats.orphaned = DropOrphanedInvoices(invoices)
	invoices, stats.annulled = RemoveAnnullingPairs(invoices)
	invoices, stats.noOp = RemoveNoOpInvoices(invoices)
	ShiftCollidingTimestamps(invoices)

	return invoices, stats, nil
}

func (p *Pipeline) reconcileInvoice(acct *accountData, number string) (*invoice.Invoice, int, error) {
	items := acct.itemsByInv[number]

	buckets, err := p.classifier.Classify(items)
	if err != nil {
		return nil, 0, err
	}
	if len(buckets.Charges)+len(buckets.SeatCredits)+len(buckets.CapacityCredits) == 0 {
		// everything filtered out, nothing to reconcile
		return nil, 0, nil
	}
	credits := len(buckets.SeatCredits) + len(buckets.CapacityCredits)

	adjs := NewAdjustmentSet(acct.itemAdjs[number], acct.invoiceAdjs[number])
	lines, err := p.matcher.Match(number, buckets, adjs)
	if err != nil {
		return nil, 0, err
	}
	if len(lines) == 0 {
		return nil, credits, nil
	}

	inv, err := p.assembler.Assemble(HeaderFromItems(items), lines, adjs, acct.creditByInv[number], acct.transactions[number])
	if err != nil {
		return nil, 0, err
	}
	return inv, credits, nil
}

// submitAccount provisions the customer and submits its invoice batch.
// Duplicate-resource conflicts are tolerated only in update mode.
func (p *Pipeline) submitAccount(ctx context.Context, acct *accountData, invoices []*invoice.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}

	customerUUID, err := p.sink.EnsureCustomer(ctx, customerOf(acct))
	if err != nil {
		return err
	}

	batchID := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SYNC_BATCH)
	p.log.Debugf("account %s: submitting %d invoices as %s", accountIDOf(acct), len(invoices), batchID)
	err = p.sink.SubmitInvoices(ctx, customerUUID, invoices)
	if err != nil {
		if p.cfg.Sync.UpdateMode && ierr.IsAlreadyExists(err) {
			p.log.Infof("account %s: invoices already present, skipping (update mode)", accountIDOf(acct))
			return nil
		}
		return err
	}
	return nil
}

func accountIDOf(acct *accountData) string {
	if acct.account != nil {
		return acct.account.ID
	}
	for _, items := range acct.itemsByInv {
		if len(items) > 0 {
			return items[0].AccountID
		}
	}
	return ""
}

func customerOf(acct *accountData) *invoice.Customer {
	id := accountIDOf(acct)
	customer := &invoice.Customer{ExternalID: id, Name: id}
	if acct.account != nil {
		customer.Name = acct.account.Name
		customer.Email = acct.account.Email
		customer.Country = acct.account.Country
		customer.City = acct.account.City
		customer.Zip = acct.account.Zip
		customer.State = acct.account.State
	}
	return customer
}

// collectPlans derives one destination plan per accounting code
func collectPlans(items []*billing.RawBillingItem) []*invoice.Plan {
	codes := lo.Uniq(lo.FilterMap(items, func(item *billing.RawBillingItem, _ int) (string, bool) {
		return item.AccountingCode, item.AccountingCode != ""
	}))
	sort.Strings(codes)
	return lo.Map(codes, func(code string, _ int) *invoice.Plan {
		return &invoice.Plan{
			ExternalID:    code,
			Name:          code,
			IntervalCount: 1,
			IntervalUnit:  "month",
		}
	})
}

// groupByAccount splits the dataset into per-account working sets.
// Pending credit-balance decreases are sorted by creation date so the
// refund matcher's preference order is deterministic.
func groupByAccount(data *dataset) map[string]*accountData {
	perAccount := make(map[string]*accountData)
	get := func(accountID string) *accountData {
		acct, ok := perAccount[accountID]
		if !ok {
			acct = &accountData{
				account:      data.accounts[accountID],
				itemsByInv:   make(map[string][]*billing.RawBillingItem),
				itemAdjs:     make(map[string][]*billing.RawAdjustment),
				invoiceAdjs:  make(map[string][]*billing.RawAdjustment),
				creditByInv:  make(map[string][]*billing.RawAdjustment),
				transactions: make(map[string][]*billing.RawTransaction),
			}
			perAccount[accountID] = acct
		}
		return acct
	}

	for _, item := range data.items {
		acct := get(item.AccountID)
		acct.itemsByInv[item.InvoiceNumber] = append(acct.itemsByInv[item.InvoiceNumber], item)
	}
	for _, adj := range data.itemAdjs {
		acct := get(adj.AccountID)
		acct.itemAdjs[adj.InvoiceNumber] = append(acct.itemAdjs[adj.InvoiceNumber], adj)
	}
	for _, adj := range data.invoiceAdjs {
		acct := get(adj.AccountID)
		acct.invoiceAdjs[adj.InvoiceNumber] = append(acct.invoiceAdjs[adj.InvoiceNumber], adj)
	}
	for _, adj := range data.creditAdjs {
		acct := get(adj.AccountID)
		if adj.InvoiceNumber != "" {
			acct.creditByInv[adj.InvoiceNumber] = append(acct.creditByInv[adj.InvoiceNumber], adj)
			continue
		}
		if adj.Type == types.AdjustmentTypeDecrease && adj.IsProcessed() {
			acct.pendingAdjs = append(acct.pendingAdjs, adj)
		}
	}
	for _, txn := range data.transactions {
		acct := get(txn.AccountID)
		acct.transactions[txn.InvoiceNumber] = append(acct.transactions[txn.InvoiceNumber], txn)
	}

	for _, acct := range perAccount {
		sort.SliceStable(acct.pendingAdjs, func(i, j int) bool {
			return acct.pendingAdjs[i].CreatedAt.Before(acct.pendingAdjs[j].CreatedAt)
		})
	}
	return perAccount
}
