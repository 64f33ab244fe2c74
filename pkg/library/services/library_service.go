package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/humblevault/humblevault/pkg/library/config"
	"github.com/humblevault/humblevault/pkg/library/events"
	"github.com/humblevault/humblevault/pkg/library/helpers/problem"
	"github.com/humblevault/humblevault/pkg/library/helpers/util"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/repositories"
	"github.com/humblevault/humblevault/pkg/library/services/typesense"
	"github.com/humblevault/humblevault/pkg/library/storefront"
	"github.com/humblevault/humblevault/pkg/tools"
	"github.com/sirupsen/logrus"
)

const (
	defaultHighlightLimit      = 12
	defaultHighlightCategories = 6
	defaultBundleLimit         = 500
)

// Deps overrides the remote clients used by the service. Zero values select
// the HTTP implementations configured from the live settings.
type Deps struct {
	Catalogs    CatalogFactory
	Classifiers ClassifierFactory
	Fetchers    FetcherFactory
	Publisher   Publisher
	// Context is the parent of background tasks; cancelling it stops them.
	Context context.Context
}

// LibraryService is the boundary of the library: the HTTP handlers, the CLI
// and the scheduler only talk to it.
type LibraryService struct {
	repo        repositories.AssetRepository
	settings    *config.Store
	bus         *events.Bus
	locks       *KeyLocks
	indexer     *Indexer
	reconciler  *Reconciler
	downloader  *Downloader
	catalogs    CatalogFactory
	classifiers ClassifierFactory
	publish     Publisher
	bg          context.Context
	log         *logrus.Entry
}

func NewLibraryService(repo repositories.AssetRepository, settings *config.Store, bus *events.Bus, deps Deps) *LibraryService {
	if deps.Catalogs == nil {
		deps.Catalogs = DefaultCatalogFactory
	}
	if deps.Classifiers == nil {
		deps.Classifiers = DefaultClassifierFactory
	}
	if deps.Publisher == nil && typesense.Enabled() {
		deps.Publisher = typesense.PublishAsset
	}
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	locks := NewKeyLocks()
	reconciler := NewReconciler(repo, settings, locks)
	indexer := NewIndexer(repo, settings, locks, reconciler, deps.Catalogs, deps.Classifiers)
	indexer.SetPublisher(deps.Publisher)

	return &LibraryService{
		repo:        repo,
		settings:    settings,
		bus:         bus,
		locks:       locks,
		indexer:     indexer,
		reconciler:  reconciler,
		downloader:  NewDownloader(repo, settings, locks, deps.Catalogs, deps.Fetchers, bus),
		catalogs:    deps.Catalogs,
		classifiers: deps.Classifiers,
		publish:     deps.Publisher,
		bg:          deps.Context,
		log:         logrus.WithField("component", "library"),
	}
}

// TriggerSync runs one indexing pass and waits for it.
func (s *LibraryService) TriggerSync(ctx context.Context, update bool) (*models.PassSummary, error) {
	return s.indexer.Run(ctx, update)
}

// TriggerSyncAsync starts a pass in the background.
func (s *LibraryService) TriggerSyncAsync(update bool) error {
	if !s.settings.Get().Ready() {
		return ErrNotConfigured
	}
	if s.indexer.Running(update) {
		return ErrSyncRunning
	}
	name := "sync-" + models.ModeIncremental
	if update {
		name = "sync-" + models.ModeForced
	}
	return tools.Dispatch(s.bg, name, func(ctx context.Context) error {
		_, err := s.indexer.Run(ctx, update)
		if errors.Is(err, ErrSyncRunning) {
			return nil
		}
		return err
	})
}

// TriggerDownloadAll starts a download batch in the background.
func (s *LibraryService) TriggerDownloadAll() error {
	if !s.settings.Get().Ready() {
		return ErrNotConfigured
	}
	if s.downloader.Running() {
		return ErrDownloadRunning
	}
	return tools.Dispatch(s.bg, "download-all", func(ctx context.Context) error {
		_, err := s.downloader.DownloadAll(ctx)
		if errors.Is(err, ErrDownloadRunning) {
			return nil
		}
		return err
	})
}

func (s *LibraryService) DownloadAll(ctx context.Context) (models.DownloadResult, error) {
	return s.downloader.DownloadAll(ctx)
}

func (s *LibraryService) Reconcile(ctx context.Context) (models.ReconcileResult, error) {
	return s.reconciler.Reconcile(ctx)
}

// GetHighlights reconciles the disk state and returns the largest downloaded
// categories with their newest items that are still present.
func (s *LibraryService) GetHighlights(ctx context.Context, limitPerCategory, maxCategories int) ([]models.Highlight, error) {
	if limitPerCategory <= 0 {
		limitPerCategory = defaultHighlightLimit
	}
	if maxCategories <= 0 {
		maxCategories = defaultHighlightCategories
	}

	if _, err := s.reconciler.Reconcile(ctx); err != nil {
		if !errors.Is(err, ErrNotConfigured) {
			return nil, fmt.Errorf("reconcile before highlights: %w", err)
		}
	}

	top, err := s.repo.TopCategories(ctx, maxCategories)
	if err != nil {
		return nil, err
	}
	out := make([]models.Highlight, 0, len(top))
	for _, c := range top {
		recent, err := s.repo.RecentDownloaded(ctx, c.Category, limitPerCategory*2)
		if err != nil {
			return nil, err
		}
		items := make([]models.AssetSummary, 0, limitPerCategory)
		for i := range recent {
			if len(items) == limitPerCategory {
				break
			}
			if !s.reconciler.Exists(&recent[i]) {
				continue
			}
			items = append(items, util.ToAssetSummary(&recent[i]))
		}
		if len(items) == 0 {
			continue
		}
		out = append(out, models.Highlight{Category: c.Category, Count: c.Count, Items: items})
	}
	return out, nil
}

func (s *LibraryService) GetAsset(ctx context.Context, id uint) (*models.AssetDetail, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, problem.NewNotFound(assetLocation(id), "asset not found")
	}
	return s.detail(a), nil
}

// detail adds the disk state to the stored asset.
func (s *LibraryService) detail(a *models.Asset) *models.AssetDetail {
	d := util.ToAssetDetail(a)
	if p, ok := Locate(s.settings.Get().LibraryPath, a); ok {
		d.Exists = true
		if info, err := os.Stat(p); err == nil {
			d.DiskBytes = info.Size()
		}
	}
	return d
}

// AssetFile returns the on-disk path of a downloaded asset.
func (s *LibraryService) AssetFile(ctx context.Context, id uint) (string, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if a == nil {
		return "", problem.NewNotFound(assetLocation(id), "asset not found")
	}
	p, ok := Locate(s.settings.Get().LibraryPath, a)
	if !ok {
		return "", problem.NewNotFound(assetLocation(id)+"/file", "file not found")
	}
	return p, nil
}

func (s *LibraryService) ListAssets(ctx context.Context, p *models.ListAssetsParams) ([]models.AssetSummary, models.Pagination, error) {
	p.Normalize()
	assets, pagination, err := s.repo.ListAssets(ctx, p)
	if err != nil {
		return nil, models.Pagination{}, err
	}
	return util.ToAssetSummaries(assets), pagination, nil
}

// SetTags replaces the tags of one asset.
func (s *LibraryService) SetTags(ctx context.Context, id uint, tags []string) (*models.AssetDetail, error) {
	if long := models.LongTags(tags); len(long) > 0 {
		params := make([]problem.InvalidParam, 0, len(long))
		for _, t := range long {
			params = append(params, problem.InvalidParam{
				Name:   "tags",
				Reason: fmt.Sprintf("tag of %d characters exceeds the limit of %d", utf8.RuneCountInString(t), models.MaxTagLength),
			})
		}
		return nil, problem.NewBadRequest(assetLocation(id)+"/tags", "tag too long", params...)
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, problem.NewNotFound(assetLocation(id), "asset not found")
	}

	unlock := s.locks.Lock(a.Key())
	err = s.repo.ReplaceTags(ctx, id, models.NormalizeTags(tags))
	unlock()
	if err != nil {
		return nil, err
	}

	a, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishAsset(ctx, a)
	return s.detail(a), nil
}

// Reclassify recomputes the category of the given assets (all when ids is
// empty) with the heuristic and, when configured, the classifier.
func (s *LibraryService) Reclassify(ctx context.Context, ids []uint) (models.ReclassifyResult, error) {
	var res models.ReclassifyResult
	assets, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return res, err
	}
	e := &enricher{ai: s.classifiers(s.settings.Get()), log: s.log}

	for i := range assets {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		a := &assets[i]
		res.Total++
		changed, err := s.reclassifyOne(ctx, e, a)
		if err != nil {
			s.log.WithError(err).WithField("asset", a.ID).Warn("reclassify failed")
			res.Skipped++
			continue
		}
		if !changed {
			res.Skipped++
			continue
		}
		res.Updated++
	}
	return res, nil
}

func (s *LibraryService) reclassifyOne(ctx context.Context, e *enricher, a *models.Asset) (bool, error) {
	unlock := s.locks.Lock(a.Key())
	defer unlock()

	r := Record{Asset: *a}
	category := e.categorize(ctx, &r, a.Description, true)
	if category == a.Category {
		return false, nil
	}
	if err := s.repo.SetCategory(ctx, a.ID, category); err != nil {
		return false, err
	}
	if err := s.repo.AddTags(ctx, a.ID, category); err != nil {
		return false, err
	}
	return true, nil
}

func (s *LibraryService) Categories(ctx context.Context) ([]models.CategoryCount, error) {
	return s.repo.CategoryCounts(ctx)
}

func (s *LibraryService) Facets(ctx context.Context, downloadedOnly bool) (models.Facets, error) {
	return s.repo.Facets(ctx, downloadedOnly)
}

func (s *LibraryService) Bundles(ctx context.Context, limit int) ([]models.BundleSummary, error) {
	if limit <= 0 {
		limit = defaultBundleLimit
	}
	return s.repo.Bundles(ctx, limit)
}

func (s *LibraryService) Purchases(ctx context.Context, limit int) ([]models.PurchaseSummary, error) {
	if limit <= 0 {
		limit = defaultBundleLimit
	}
	return s.repo.Purchases(ctx, limit)
}

// Order fetches one order live from the storefront and marks the files and
// keys that are already in the library.
func (s *LibraryService) Order(ctx context.Context, orderID string) (*models.OrderView, error) {
	cfg := s.settings.Get()
	if cfg.SessionCookie == "" {
		return nil, ErrNotConfigured
	}
	o, err := s.catalogs(cfg).Order(ctx, orderID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, problem.NewBadGateway(err.Error())
	}

	view := &models.OrderView{
		OrderId:     o.GameKey,
		BundleTitle: o.Product.HumanName,
		Products:    make([]models.OrderProduct, 0, len(o.Subproducts)),
		Keys:        []models.OrderKey{},
	}
	for _, sp := range o.Subproducts {
		product := models.OrderProduct{Title: sp.HumanName, Slug: sp.MachineName, Files: []models.OrderFile{}}
		single := &storefront.Order{GameKey: o.GameKey, Product: o.Product, Subproducts: []storefront.Subproduct{sp}}
		for _, r := range FlattenOrder(single, config.Settings{}) {
			file := models.OrderFile{
				FileName:  r.Asset.FileName,
				Platform:  r.Asset.Platform,
				SizeBytes: r.Asset.SizeBytes,
				Md5:       r.Asset.MD5,
				Urls:      []string(r.Asset.DownloadURLs),
			}
			stored, err := s.repo.FindByKey(ctx, r.Asset.OrderID, r.Asset.FileName, r.Asset.Platform)
			if err != nil {
				return nil, err
			}
			if stored != nil {
				file.AssetId = &stored.ID
				file.Downloaded = stored.Downloaded
			}
			product.Files = append(product.Files, file)
		}
		view.Products = append(view.Products, product)
	}

	keysOnly := &storefront.Order{GameKey: o.GameKey, Product: o.Product, TpkdDict: o.TpkdDict}
	for _, r := range FlattenOrder(keysOnly, config.Settings{}) {
		key := models.OrderKey{
			Name:     r.Asset.ProductTitle,
			KeyType:  r.Asset.Platform,
			Redeemed: r.Asset.ActivationKey != nil && *r.Asset.ActivationKey != "",
		}
		stored, err := s.repo.FindByKey(ctx, r.Asset.OrderID, r.Asset.FileName, r.Asset.Platform)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			key.AssetId = &stored.ID
		}
		view.Keys = append(view.Keys, key)
	}
	return view, nil
}

func (s *LibraryService) Status(ctx context.Context) (*models.Status, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Status{
		Syncing:     s.indexer.Syncing(),
		Downloading: s.downloader.Running(),
		Configured:  s.settings.Get().Ready(),
		LastPass:    s.indexer.LastPass(),
		Stats:       stats,
	}, nil
}

// Logs returns the most recent log lines, oldest first.
func (s *LibraryService) Logs() models.LogLines {
	if s.bus == nil {
		return models.LogLines{Lines: []string{}}
	}
	return models.LogLines{Lines: s.bus.Lines()}
}

// Subscribe streams live events until the returned func is called.
func (s *LibraryService) Subscribe() (<-chan events.Event, func()) {
	if s.bus == nil {
		ch := make(chan events.Event)
		return ch, func() { close(ch) }
	}
	return s.bus.Subscribe()
}

func (s *LibraryService) Settings() config.View {
	return s.settings.Get().Masked()
}

func (s *LibraryService) UpdateSettings(ctx context.Context, p config.Patch) (config.View, error) {
	next, err := s.settings.Update(ctx, p)
	if err != nil {
		if errors.Is(err, config.ErrInvalidSetting) {
			return config.View{}, problem.NewBadRequest("body", err.Error())
		}
		return config.View{}, err
	}
	s.log.Info("settings updated")
	return next.Masked(), nil
}

func (s *LibraryService) publishAsset(ctx context.Context, a *models.Asset) {
	if s.publish == nil || a == nil {
		return
	}
	if err := s.publish(ctx, a); err != nil {
		s.log.WithError(err).WithField("asset", a.ID).Debug("publish failed")
	}
}

func assetLocation(id uint) string {
	return fmt.Sprintf("/v1/assets/%d", id)
}
