package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/humblevault/humblevault/pkg/library/classifier"
	"github.com/humblevault/humblevault/pkg/library/config"
	"github.com/humblevault/humblevault/pkg/library/events"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/repositories"
	"github.com/humblevault/humblevault/pkg/library/storefront"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	ErrNotConfigured = errors.New("library path and session credential must be configured")
	ErrSyncRunning   = errors.New("a sync of this mode is already running")
)

const (
	// ForcedOverwriteLimit caps the assets re-enriched by one forced pass.
	ForcedOverwriteLimit = 500

	orderParallelism  = 4
	recordParallelism = 4
)

// Publisher receives every asset a pass created or re-enriched.
type Publisher func(ctx context.Context, a *models.Asset) error

// Indexer merges the remote purchase list into the asset store.
type Indexer struct {
	repo        repositories.AssetRepository
	settings    *config.Store
	locks       *KeyLocks
	reconciler  *Reconciler
	catalogs    CatalogFactory
	classifiers ClassifierFactory
	publish     Publisher
	log         *logrus.Entry
	now         func() time.Time

	incremental atomic.Bool
	forced      atomic.Bool

	lastMu sync.RWMutex
	last   *models.PassSummary
}

func NewIndexer(
	repo repositories.AssetRepository,
	settings *config.Store,
	locks *KeyLocks,
	reconciler *Reconciler,
	catalogs CatalogFactory,
	classifiers ClassifierFactory,
) *Indexer {
	if catalogs == nil {
		catalogs = DefaultCatalogFactory
	}
	if classifiers == nil {
		classifiers = DefaultClassifierFactory
	}
	return &Indexer{
		repo:        repo,
		settings:    settings,
		locks:       locks,
		reconciler:  reconciler,
		catalogs:    catalogs,
		classifiers: classifiers,
		log:         logrus.WithField("component", "indexer"),
		now:         time.Now,
	}
}

// SetPublisher registers a sink for changed assets. Must be called before the
// first Run.
func (ix *Indexer) SetPublisher(p Publisher) { ix.publish = p }

// Running reports whether a pass of the given mode is in progress.
func (ix *Indexer) Running(forced bool) bool {
	if forced {
		return ix.forced.Load()
	}
	return ix.incremental.Load()
}

// Syncing reports whether any pass is in progress.
func (ix *Indexer) Syncing() bool {
	return ix.incremental.Load() || ix.forced.Load()
}

func (ix *Indexer) LastPass() *models.PassSummary {
	ix.lastMu.RLock()
	defer ix.lastMu.RUnlock()
	if ix.last == nil {
		return nil
	}
	cp := *ix.last
	return &cp
}

// Run executes one pass. Incremental passes only fill empty metadata; forced
// passes additionally overwrite the metadata of the ForcedOverwriteLimit
// assets whose enrichment is oldest. At most one pass per mode runs at once.
func (ix *Indexer) Run(ctx context.Context, forced bool) (*models.PassSummary, error) {
	flag := &ix.incremental
	if forced {
		flag = &ix.forced
	}
	if !flag.CompareAndSwap(false, true) {
		return nil, ErrSyncRunning
	}
	defer flag.Store(false)

	s := ix.settings.Get()
	if !s.Ready() {
		return nil, ErrNotConfigured
	}

	summary := &models.PassSummary{
		Id:         uuid.NewString(),
		Mode:       models.ModeIncremental,
		StartedAt:  ix.now().UTC(),
		Categories: map[string]int{},
	}
	if forced {
		summary.Mode = models.ModeForced
	}
	log := ix.log.WithFields(logrus.Fields{"pass": summary.Id, "mode": summary.Mode})
	log.WithField(events.Field, events.TypeSyncStart).Info("sync started")

	p := &pass{
		Indexer: ix,
		summary: summary,
		catalog: ix.catalogs(s),
		log:     log,
	}
	p.enricher = &enricher{catalog: p.catalog, ai: ix.classifiers(s), log: log}

	if err := p.run(ctx, s, forced); err != nil {
		summary.FinishedAt = ix.now().UTC()
		summary.Errors = append(summary.Errors, err.Error())
		ix.setLast(summary)
		log.WithError(err).WithField(events.Field, events.TypeSyncFailed).Error("sync failed")
		return summary, err
	}

	summary.FinishedAt = ix.now().UTC()
	ix.setLast(summary)
	log.WithFields(logrus.Fields{
		events.Field:   events.TypeSyncComplete,
		"orders":       summary.Orders,
		"failedOrders": summary.FailedOrders,
		"processed":    summary.Processed,
		"created":      summary.Created,
		"updated":      summary.Updated,
		"overwritten":  summary.Overwritten,
		"reconciled":   summary.Reconciled,
		"categories":   summary.Categories,
	}).Infof("sync complete: %d assets, %d new, %d overwritten", summary.Processed, summary.Created, summary.Overwritten)
	return summary, nil
}

func (ix *Indexer) setLast(s *models.PassSummary) {
	ix.lastMu.Lock()
	defer ix.lastMu.Unlock()
	cp := *s
	ix.last = &cp
}

// pass holds the state of a single Run.
type pass struct {
	*Indexer
	summary  *models.PassSummary
	catalog  storefront.Catalog
	enricher *enricher
	log      *logrus.Entry

	mu       sync.Mutex
	eligible map[uint]bool
}

func (p *pass) run(ctx context.Context, s config.Settings, forced bool) error {
	keys, err := p.catalog.PurchaseKeys(ctx)
	if err != nil {
		return fmt.Errorf("fetch purchase keys: %w", err)
	}
	p.summary.Orders = len(keys)

	orders := p.fetchOrders(ctx, keys)
	if err := ctx.Err(); err != nil {
		return err
	}

	if forced {
		ids, err := p.repo.ListForReenrichment(ctx, ForcedOverwriteLimit)
		if err != nil {
			return fmt.Errorf("select overwrite batch: %w", err)
		}
		p.eligible = make(map[uint]bool, len(ids))
		for _, id := range ids {
			p.eligible[id] = true
		}
	}

	var records []Record
	for _, o := range orders {
		records = append(records, FlattenOrder(o, s)...)
	}
	if s.Trove {
		records = append(records, p.troveRecords(ctx, s)...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recordParallelism)
	for i := range records {
		r := &records[i]
		g.Go(func() error {
			if err := p.process(gctx, r); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.fail(fmt.Sprintf("asset %s: %v", r.Key(), err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if p.reconciler != nil {
		res, err := p.reconciler.Reconcile(ctx)
		if err != nil {
			p.fail(fmt.Sprintf("reconcile: %v", err))
		}
		p.summary.Reconciled = res.Changed()
	}
	return nil
}

// troveRecords lists the Trove catalog. A failure is recorded on the pass
// and the purchased orders are still processed.
func (p *pass) troveRecords(ctx context.Context, s config.Settings) []Record {
	trove, ok := p.catalog.(storefront.TroveCatalog)
	if !ok {
		p.fail("trove: storefront client cannot list the Trove")
		return nil
	}
	products, err := trove.TroveProducts(ctx)
	if err != nil {
		p.fail(fmt.Sprintf("trove: %v", err))
		return nil
	}
	records := FlattenTrove(products, s)
	p.mu.Lock()
	p.summary.TroveItems = len(records)
	p.mu.Unlock()
	return records
}

// fetchOrders loads every order with bounded parallelism. Failed orders are
// counted and skipped.
func (p *pass) fetchOrders(ctx context.Context, keys []string) []*storefront.Order {
	sem := semaphore.NewWeighted(orderParallelism)
	results := make([]*storefront.Order, len(keys))
	var g errgroup.Group
	for i, key := range keys {
		i, key := i, key
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			o, err := p.catalog.Order(ctx, key)
			if err != nil {
				p.mu.Lock()
				p.summary.FailedOrders++
				p.mu.Unlock()
				p.fail(err.Error())
				p.log.WithError(err).WithField("order", key).Warn("order fetch failed")
				return nil
			}
			results[i] = o
			return nil
		})
	}
	_ = g.Wait()

	out := results[:0]
	for _, o := range results {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

// process applies the merge policy to one record under its key lock.
func (p *pass) process(ctx context.Context, r *Record) error {
	unlock := p.locks.Lock(r.Key())
	defer unlock()

	existing, err := p.repo.FindByKey(ctx, r.Asset.OrderID, r.Asset.FileName, r.Asset.Platform)
	if err != nil {
		return err
	}

	if existing == nil {
		return p.create(ctx, r)
	}

	desc := r.Asset.Descriptor()
	updated := false
	if !existing.Descriptor().Equal(desc) {
		if err := p.repo.UpdateDescriptor(ctx, existing.ID, desc); err != nil {
			return err
		}
		updated = true
	}

	if p.eligible[existing.ID] {
		e := p.enricher.Enrich(ctx, r, true)
		if err := p.repo.OverwriteMetadata(ctx, existing.ID, e.Metadata, p.now().UTC()); err != nil {
			return err
		}
		if err := p.repo.AddTags(ctx, existing.ID, e.Tags()...); err != nil {
			return err
		}
		p.count(e.Category, func(s *models.PassSummary) { s.Overwritten++ })
		p.publishAsset(ctx, existing.ID)
		return nil
	}

	if needsFill(existing) {
		e := p.enricher.Enrich(ctx, r, false)
		if err := p.repo.FillMetadata(ctx, existing.ID, e.Metadata); err != nil {
			return err
		}
		if existing.Category == "" {
			if err := p.repo.AddTags(ctx, existing.ID, e.Category); err != nil {
				return err
			}
		}
	}
	category := existing.Category
	if category == "" {
		category = classifier.Fallback
	}
	p.count(category, func(s *models.PassSummary) {
		if updated {
			s.Updated++
		}
	})
	return nil
}

func needsFill(a *models.Asset) bool {
	return a.ImageURL == "" || a.Description == "" || a.Category == ""
}

func (p *pass) create(ctx context.Context, r *Record) error {
	e := p.enricher.Enrich(ctx, r, true)
	a := r.Asset
	a.ImageURL = e.ImageURL
	a.Description = e.Description
	a.Category = e.Category
	now := p.now().UTC()
	a.EnrichedAt = &now

	created, err := p.repo.Create(ctx, &a)
	if err != nil {
		return err
	}
	if !created {
		// lost a race with another writer of the same key
		return nil
	}
	if err := p.repo.AddTags(ctx, a.ID, e.Tags()...); err != nil {
		return err
	}
	p.count(e.Category, func(s *models.PassSummary) { s.Created++ })
	p.publishAsset(ctx, a.ID)
	return nil
}

func (p *pass) publishAsset(ctx context.Context, id uint) {
	if p.publish == nil {
		return
	}
	a, err := p.repo.GetByID(ctx, id)
	if err != nil || a == nil {
		return
	}
	if err := p.publish(ctx, a); err != nil {
		p.log.WithError(err).WithField("asset", id).Debug("publish failed")
	}
}

func (p *pass) count(category string, f func(*models.PassSummary)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summary.Processed++
	p.summary.Categories[category]++
	f(p.summary)
}

func (p *pass) fail(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summary.Errors = append(p.summary.Errors, msg)
}
