package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/humblevault/humblevault/pkg/library/config"
	"github.com/humblevault/humblevault/pkg/library/database"
	problem "github.com/humblevault/humblevault/pkg/library/helpers/problem"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/repositories"
	"github.com/humblevault/humblevault/pkg/library/services"
	"github.com/humblevault/humblevault/pkg/library/storefront"
	"github.com/humblevault/humblevault/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCatalog implements storefront.Catalog for controller tests
type stubCatalog struct {
	keysFunc  func(ctx context.Context) ([]string, error)
	orderFunc func(ctx context.Context, key string) (*storefront.Order, error)
}

func (s *stubCatalog) PurchaseKeys(ctx context.Context) ([]string, error) {
	if s.keysFunc == nil {
		return nil, nil
	}
	return s.keysFunc(ctx)
}
func (s *stubCatalog) Order(ctx context.Context, key string) (*storefront.Order, error) {
	if s.orderFunc != nil {
		return s.orderFunc(ctx, key)
	}
	return nil, fmt.Errorf("order %s not stubbed", key)
}
func (s *stubCatalog) LookupProduct(ctx context.Context, slug string) (map[string]any, error) {
	return nil, nil
}

type env struct {
	ctrl    *LibraryController
	repo    repositories.AssetRepository
	store   *config.Store
	catalog *stubCatalog
}

func newEnv(t *testing.T, s config.Settings) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.Connect(":memory:")
	require.NoError(t, err)
	e := &env{
		repo:    repositories.NewAssetRepository(db),
		store:   config.NewStore(s, nil),
		catalog: &stubCatalog{},
	}
	svc := services.NewLibraryService(e.repo, e.store, nil, services.Deps{
		Catalogs: func(config.Settings) storefront.Catalog { return e.catalog },
	})
	e.ctrl = NewLibraryController(svc)
	return e
}

func configured(t *testing.T) config.Settings {
	return config.Settings{SessionCookie: "cookie", LibraryPath: t.TempDir()}
}

func (e *env) seed(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := e.repo.Create(context.Background(), &models.Asset{
			OrderID:      "o1",
			FileName:     fmt.Sprintf("file%d.pdf", i),
			Platform:     "ebook",
			BundleTitle:  "Bundle",
			ProductTitle: fmt.Sprintf("Book %d", i),
			Ext:          "pdf",
			Category:     "ebook",
			DownloadURLs: []string{"https://dl.test/file.pdf"},
		})
		require.NoError(t, err)
	}
}

func testContext(method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, nil)
	return c, w
}

func asAPIError(t *testing.T, err error) problem.APIError {
	t.Helper()
	var apiErr problem.APIError
	require.True(t, errors.As(err, &apiErr), "expected problem.APIError, got %T: %v", err, err)
	return apiErr
}

func TestListAssets_Handler(t *testing.T) {
	e := newEnv(t, configured(t))
	e.seed(t, 3)

	c, _ := testContext(http.MethodGet, "/v1/assets?perPage=2")
	out, err := e.ctrl.ListAssets(c, &models.ListAssetsParams{PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	h := c.Writer.Header()
	assert.Equal(t, "3", h.Get("X-Total-Count"))
	assert.Equal(t, "2", h.Get("X-Total-Pages"))
	assert.Contains(t, h.Get("Link"), `rel="next"`)
	assert.Contains(t, h.Get("Link"), "page=2")
}

func TestGetAsset_Handler(t *testing.T) {
	e := newEnv(t, configured(t))
	e.seed(t, 1)

	c, _ := testContext(http.MethodGet, "/v1/assets/1")
	got, err := e.ctrl.GetAsset(c, &models.AssetParams{Id: 1})
	require.NoError(t, err)
	assert.Equal(t, "file0.pdf", got.FileName)

	_, err = e.ctrl.GetAsset(c, &models.AssetParams{Id: 99})
	apiErr := asAPIError(t, err)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Len(t, apiErr.Errors, 1)
	assert.Equal(t, "/v1/assets/99", apiErr.Errors[0].Location)
}

func TestSetTags_Handler(t *testing.T) {
	e := newEnv(t, configured(t))
	e.seed(t, 1)

	c, _ := testContext(http.MethodPut, "/v1/assets/1/tags")
	got, err := e.ctrl.SetTags(c, &models.TagsInput{Id: 1, Tags: []string{" Favourite ", "favourite", "read"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"favourite", "read"}, got.Tags)

	_, err = e.ctrl.SetTags(c, &models.TagsInput{Id: 42, Tags: []string{"x"}})
	assert.Equal(t, http.StatusNotFound, asAPIError(t, err).Status)
}

func TestSetTags_RejectsOverlongTag(t *testing.T) {
	e := newEnv(t, configured(t))
	e.seed(t, 1)

	c, _ := testContext(http.MethodPut, "/v1/assets/1/tags")
	_, err := e.ctrl.SetTags(c, &models.TagsInput{Id: 1, Tags: []string{strings.Repeat("x", models.MaxTagLength+1)}})
	apiErr := asAPIError(t, err)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Len(t, apiErr.Errors, 1)
	assert.Equal(t, "tags", apiErr.Errors[0].Location)
}

func TestServeAssetFile_Handler(t *testing.T) {
	e := newEnv(t, configured(t))
	e.seed(t, 2)

	a, err := e.repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	path := services.AssetPath(e.store.Get().LibraryPath, a)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7"), 0o644))

	t.Run("downloaded", func(t *testing.T) {
		c, w := testContext(http.MethodGet, "/v1/assets/1/file")
		c.Params = gin.Params{{Key: "id", Value: "1"}}
		e.ctrl.ServeAssetFile(c)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "%PDF-1.7", w.Body.String())
		assert.Contains(t, w.Header().Get("Content-Disposition"), "file0.pdf")
	})

	t.Run("not on disk", func(t *testing.T) {
		c, w := testContext(http.MethodGet, "/v1/assets/2/file")
		c.Params = gin.Params{{Key: "id", Value: "2"}}
		e.ctrl.ServeAssetFile(c)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "file not found")
	})

	t.Run("unknown asset", func(t *testing.T) {
		c, w := testContext(http.MethodGet, "/v1/assets/9/file")
		c.Params = gin.Params{{Key: "id", Value: "9"}}
		e.ctrl.ServeAssetFile(c)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "asset not found")
	})

	t.Run("malformed id", func(t *testing.T) {
		c, w := testContext(http.MethodGet, "/v1/assets/abc/file")
		c.Params = gin.Params{{Key: "id", Value: "abc"}}
		e.ctrl.ServeAssetFile(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.True(t, c.IsAborted())
	})
}

func TestPurchasesAndOrder_Handler(t *testing.T) {
	e := newEnv(t, configured(t))
	e.seed(t, 2)

	c, _ := testContext(http.MethodGet, "/v1/purchases")
	purchases, err := e.ctrl.ListPurchases(c, &models.PurchaseParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, "o1", purchases[0].OrderId)
	assert.Equal(t, 2, purchases[0].FileCount)

	e.catalog.orderFunc = func(ctx context.Context, key string) (*storefront.Order, error) {
		return nil, errors.New("storefront returned 500")
	}
	c, _ = testContext(http.MethodGet, "/v1/orders/o1")
	_, err = e.ctrl.GetOrder(c, &models.OrderParams{OrderId: "o1"})
	assert.Equal(t, http.StatusBadGateway, asAPIError(t, err).Status)

	unconfigured := newEnv(t, config.Settings{})
	_, err = unconfigured.ctrl.GetOrder(c, &models.OrderParams{OrderId: "o1"})
	assert.Equal(t, http.StatusPreconditionFailed, asAPIError(t, err).Status)
}

func TestTriggerSync_Handler(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		e := newEnv(t, config.Settings{})
		c, _ := testContext(http.MethodPost, "/v1/sync")
		_, err := e.ctrl.TriggerSync(c, &models.SyncInput{})
		assert.Equal(t, http.StatusPreconditionFailed, asAPIError(t, err).Status)
	})

	t.Run("accepted", func(t *testing.T) {
		e := newEnv(t, configured(t))
		c, _ := testContext(http.MethodPost, "/v1/sync")
		got, err := e.ctrl.TriggerSync(c, &models.SyncInput{Update: true})
		require.NoError(t, err)
		assert.Equal(t, &models.Accepted{Started: true, Action: "sync", Update: true}, got)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, tools.Wait(ctx))
	})
}

func TestRunSync_Handler(t *testing.T) {
	e := newEnv(t, configured(t))
	c, _ := testContext(http.MethodPost, "/v1/sync/run")

	summary, err := e.ctrl.RunSync(c, &models.SyncInput{})
	require.NoError(t, err)
	assert.Equal(t, models.ModeIncremental, summary.Mode)

	e.catalog.keysFunc = func(ctx context.Context) ([]string, error) {
		return nil, storefront.ErrUnauthorized
	}
	_, err = e.ctrl.RunSync(c, &models.SyncInput{})
	assert.Equal(t, http.StatusBadGateway, asAPIError(t, err).Status)
}

func TestTriggerDownloads_NotConfigured(t *testing.T) {
	e := newEnv(t, config.Settings{LibraryPath: "/tmp"})
	c, _ := testContext(http.MethodPost, "/v1/downloads")
	_, err := e.ctrl.TriggerDownloads(c)
	assert.Equal(t, http.StatusPreconditionFailed, asAPIError(t, err).Status)
}

func TestSettings_Handler(t *testing.T) {
	e := newEnv(t, config.Settings{SessionCookie: "abcdefghijkl"})
	c, _ := testContext(http.MethodGet, "/v1/settings")

	v, err := e.ctrl.GetSettings(c)
	require.NoError(t, err)
	assert.Equal(t, "****ijkl", v.SessionCookie)
	assert.False(t, v.Ready)

	path := t.TempDir()
	v, err = e.ctrl.UpdateSettings(c, &config.Patch{LibraryPath: &path})
	require.NoError(t, err)
	assert.Equal(t, path, v.LibraryPath)
	assert.True(t, v.Ready)

	zero := 0
	_, err = e.ctrl.UpdateSettings(c, &config.Patch{DownloadWorkers: &zero})
	assert.Equal(t, http.StatusBadRequest, asAPIError(t, err).Status)
}

func TestStatusAndLogs_Handler(t *testing.T) {
	e := newEnv(t, configured(t))
	e.seed(t, 2)
	c, _ := testContext(http.MethodGet, "/v1/status")

	status, err := e.ctrl.GetStatus(c)
	require.NoError(t, err)
	assert.True(t, status.Configured)
	assert.False(t, status.Syncing)
	assert.Equal(t, 2, status.Stats.Assets)

	logs, err := e.ctrl.GetLogs(c)
	require.NoError(t, err)
	assert.NotNil(t, logs.Lines)
}

func TestCategoriesFacetsBundles_Handler(t *testing.T) {
	e := newEnv(t, configured(t))
	e.seed(t, 2)
	c, _ := testContext(http.MethodGet, "/v1/categories")

	cats, err := e.ctrl.ListCategories(c)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, models.CategoryCount{Category: "ebook", Count: 2}, cats[0])

	facets, err := e.ctrl.GetFacets(c, &models.FacetParams{})
	require.NoError(t, err)
	assert.Equal(t, []models.FacetCount{{Value: "pdf", Count: 2}}, facets.Exts)

	bundles, err := e.ctrl.ListBundles(c, &models.BundleParams{})
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, 2, bundles[0].Assets)
}

func TestToAPIError(t *testing.T) {
	plain := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"sync running", fmt.Errorf("pass: %w", services.ErrSyncRunning), http.StatusConflict},
		{"download running", services.ErrDownloadRunning, http.StatusConflict},
		{"not configured", services.ErrNotConfigured, http.StatusPreconditionFailed},
		{"storefront auth", fmt.Errorf("fetch purchase keys: %w", storefront.ErrUnauthorized), http.StatusBadGateway},
		{"problem passthrough", problem.NewNotFound("/x", "nope"), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, asAPIError(t, toAPIError(tt.err)).Status)
		})
	}
	assert.Same(t, plain, toAPIError(plain))
}
