package services_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/humblevault/humblevault/pkg/library/classifier"
	"github.com/humblevault/humblevault/pkg/library/config"
	"github.com/humblevault/humblevault/pkg/library/database"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/repositories"
	"github.com/humblevault/humblevault/pkg/library/services"
	"github.com/humblevault/humblevault/pkg/library/storefront"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// stubCatalog implements storefront.Catalog for testing
type stubCatalog struct {
	purchaseKeys  func(ctx context.Context) ([]string, error)
	order         func(ctx context.Context, key string) (*storefront.Order, error)
	lookupProduct func(ctx context.Context, slug string) (map[string]any, error)
	troveProducts func(ctx context.Context) ([]storefront.TroveProduct, error)
	signTrove     func(ctx context.Context, machineName, fileName string) (string, error)

	lookups atomic.Int32
}

func (s *stubCatalog) PurchaseKeys(ctx context.Context) ([]string, error) {
	if s.purchaseKeys == nil {
		return nil, nil
	}
	return s.purchaseKeys(ctx)
}

func (s *stubCatalog) Order(ctx context.Context, key string) (*storefront.Order, error) {
	if s.order == nil {
		return nil, fmt.Errorf("order %s not stubbed", key)
	}
	return s.order(ctx, key)
}

func (s *stubCatalog) LookupProduct(ctx context.Context, slug string) (map[string]any, error) {
	s.lookups.Add(1)
	if s.lookupProduct == nil {
		return nil, nil
	}
	return s.lookupProduct(ctx, slug)
}

func (s *stubCatalog) TroveProducts(ctx context.Context) ([]storefront.TroveProduct, error) {
	if s.troveProducts == nil {
		return nil, nil
	}
	return s.troveProducts(ctx)
}

func (s *stubCatalog) SignTroveDownload(ctx context.Context, machineName, fileName string) (string, error) {
	if s.signTrove == nil {
		return "", fmt.Errorf("sign %s not stubbed", fileName)
	}
	return s.signTrove(ctx, machineName, fileName)
}

// serveOrders answers PurchaseKeys and Order from a fixed set.
func serveOrders(orders ...*storefront.Order) *stubCatalog {
	byKey := make(map[string]*storefront.Order, len(orders))
	keys := make([]string, 0, len(orders))
	for _, o := range orders {
		byKey[o.GameKey] = o
		keys = append(keys, o.GameKey)
	}
	return &stubCatalog{
		purchaseKeys: func(ctx context.Context) ([]string, error) { return keys, nil },
		order: func(ctx context.Context, key string) (*storefront.Order, error) {
			o, ok := byKey[key]
			if !ok {
				return nil, fmt.Errorf("order %s: not found", key)
			}
			return o, nil
		},
	}
}

// stubClassifier implements classifier.Classifier for testing
type stubClassifier struct {
	classify func(ctx context.Context, in classifier.Input) (string, error)
	describe func(ctx context.Context, in classifier.Input) (string, error)

	classifyCalls atomic.Int32
	describeCalls atomic.Int32
}

func (s *stubClassifier) Classify(ctx context.Context, in classifier.Input) (string, error) {
	s.classifyCalls.Add(1)
	if s.classify == nil {
		return "", classifier.ErrNotConfigured
	}
	return s.classify(ctx, in)
}

func (s *stubClassifier) Describe(ctx context.Context, in classifier.Input) (string, error) {
	s.describeCalls.Add(1)
	if s.describe == nil {
		return "", classifier.ErrNotConfigured
	}
	return s.describe(ctx, in)
}

type fixture struct {
	db      *gorm.DB
	repo    repositories.AssetRepository
	store   *config.Store
	root    string
	catalog *stubCatalog
	ai      *stubClassifier
	locks   *services.KeyLocks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Connect(":memory:")
	require.NoError(t, err)
	root := t.TempDir()
	return &fixture{
		db:   db,
		repo: repositories.NewAssetRepository(db),
		store: config.NewStore(config.Settings{
			SessionCookie:   "session",
			LibraryPath:     root,
			StorefrontURL:   "http://storefront.invalid",
			DownloadWorkers: 2,
		}, nil),
		root:    root,
		catalog: &stubCatalog{},
		ai:      &stubClassifier{},
		locks:   services.NewKeyLocks(),
	}
}

func (f *fixture) catalogs(config.Settings) storefront.Catalog       { return f.catalog }
func (f *fixture) classifiers(config.Settings) classifier.Classifier { return f.ai }

func (f *fixture) reconciler() *services.Reconciler {
	return services.NewReconciler(f.repo, f.store, f.locks)
}

func (f *fixture) indexer() *services.Indexer {
	return services.NewIndexer(f.repo, f.store, f.locks, f.reconciler(), f.catalogs, f.classifiers)
}

func (f *fixture) count(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Asset{}).Count(&n).Error)
	return n
}

func (f *fixture) seed(t *testing.T, a models.Asset) models.Asset {
	t.Helper()
	created, err := f.repo.Create(context.Background(), &a)
	require.NoError(t, err)
	require.True(t, created)
	return a
}

func (f *fixture) get(t *testing.T, id uint) *models.Asset {
	t.Helper()
	a, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func (f *fixture) find(t *testing.T, orderID, fileName, platform string) *models.Asset {
	t.Helper()
	a, err := f.repo.FindByKey(context.Background(), orderID, fileName, platform)
	require.NoError(t, err)
	require.NotNil(t, a, "asset %s/%s/%s", orderID, fileName, platform)
	return f.get(t, a.ID)
}

// writeFile puts content at the conventional path of a.
func (f *fixture) writeFile(t *testing.T, a *models.Asset, content string) string {
	t.Helper()
	p := services.AssetPath(f.root, a)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func order(key, bundle string, subs ...storefront.Subproduct) *storefront.Order {
	return &storefront.Order{
		GameKey:     key,
		Product:     storefront.Product{HumanName: bundle, MachineName: key + "_bundle"},
		Subproducts: subs,
	}
}

func subproduct(title, slug, platform string, raw map[string]any, urls ...string) storefront.Subproduct {
	variants := make([]storefront.FileVariant, 0, len(urls))
	for _, u := range urls {
		variants = append(variants, storefront.FileVariant{
			MD5:      "d41d8cd98f00b204e9800998ecf8427e",
			FileSize: 1024,
			URL:      storefront.VariantURL{Web: u},
		})
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return storefront.Subproduct{
		HumanName:   title,
		MachineName: slug,
		Downloads:   []storefront.Download{{Platform: platform, MachineName: slug, DownloadStruct: variants}},
		Raw:         raw,
	}
}

func strPtr(s string) *string { return &s }
