package handler

import (
	"errors"
	"io"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/humblevault/humblevault/pkg/library/config"
	problem "github.com/humblevault/humblevault/pkg/library/helpers/problem"
	"github.com/humblevault/humblevault/pkg/library/helpers/util"
	"github.com/humblevault/humblevault/pkg/library/models"
	"github.com/humblevault/humblevault/pkg/library/services"
	"github.com/humblevault/humblevault/pkg/library/storefront"
	"github.com/humblevault/humblevault/pkg/tools"
)

// LibraryController binds HTTP requests to the LibraryService
type LibraryController struct {
	Service *services.LibraryService
}

// NewLibraryController creates a new controller
func NewLibraryController(s *services.LibraryService) *LibraryController {
	return &LibraryController{Service: s}
}

// ListAssets handles GET /assets
func (c *LibraryController) ListAssets(ctx *gin.Context, p *models.ListAssetsParams) ([]models.AssetSummary, error) {
	p.BaseURL = ctx.FullPath()
	assets, pagination, err := c.Service.ListAssets(ctx.Request.Context(), p)
	if err != nil {
		return nil, toAPIError(err)
	}
	util.SetPaginationHeaders(ctx.Request, ctx.Header, pagination)
	return assets, nil
}

// GetAsset handles GET /assets/:id
func (c *LibraryController) GetAsset(ctx *gin.Context, p *models.AssetParams) (*models.AssetDetail, error) {
	asset, err := c.Service.GetAsset(ctx.Request.Context(), p.Id)
	if err != nil {
		return nil, toAPIError(err)
	}
	return asset, nil
}

// ServeAssetFile handles GET /assets/:id/file and streams the asset from disk.
func (c *LibraryController) ServeAssetFile(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 0)
	if err != nil || id == 0 {
		abortProblem(ctx, problem.NewBadRequest("id", "invalid asset id", problem.InvalidParam{
			Name:   "id",
			Reason: "must be a positive integer",
		}))
		return
	}

	path, err := c.Service.AssetFile(ctx.Request.Context(), uint(id))
	if err != nil {
		abortProblem(ctx, toAPIError(err))
		return
	}
	ctx.FileAttachment(path, filepath.Base(path))
}

// SetTags handles PUT /assets/:id/tags
func (c *LibraryController) SetTags(ctx *gin.Context, body *models.TagsInput) (*models.AssetDetail, error) {
	asset, err := c.Service.SetTags(ctx.Request.Context(), body.Id, body.Tags)
	if err != nil {
		return nil, toAPIError(err)
	}
	return asset, nil
}

// GetHighlights handles GET /highlights
func (c *LibraryController) GetHighlights(ctx *gin.Context, p *models.HighlightParams) ([]models.Highlight, error) {
	highlights, err := c.Service.GetHighlights(ctx.Request.Context(), p.LimitPerCategory, p.MaxCategories)
	if err != nil {
		return nil, toAPIError(err)
	}
	return highlights, nil
}

// ListCategories handles GET /categories
func (c *LibraryController) ListCategories(ctx *gin.Context) ([]models.CategoryCount, error) {
	counts, err := c.Service.Categories(ctx.Request.Context())
	if err != nil {
		return nil, toAPIError(err)
	}
	return counts, nil
}

// GetFacets handles GET /facets
func (c *LibraryController) GetFacets(ctx *gin.Context, p *models.FacetParams) (*models.Facets, error) {
	facets, err := c.Service.Facets(ctx.Request.Context(), p.Downloaded)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &facets, nil
}

// ListBundles handles GET /bundles
func (c *LibraryController) ListBundles(ctx *gin.Context, p *models.BundleParams) ([]models.BundleSummary, error) {
	bundles, err := c.Service.Bundles(ctx.Request.Context(), p.Limit)
	if err != nil {
		return nil, toAPIError(err)
	}
	return bundles, nil
}

// ListPurchases handles GET /purchases
func (c *LibraryController) ListPurchases(ctx *gin.Context, p *models.PurchaseParams) ([]models.PurchaseSummary, error) {
	out, err := c.Service.Purchases(ctx.Request.Context(), p.Limit)
	if err != nil {
		return nil, toAPIError(err)
	}
	return out, nil
}

// GetOrder handles GET /orders/:orderId
func (c *LibraryController) GetOrder(ctx *gin.Context, p *models.OrderParams) (*models.OrderView, error) {
	out, err := c.Service.Order(ctx.Request.Context(), p.OrderId)
	if err != nil {
		return nil, toAPIError(err)
	}
	return out, nil
}

// TriggerSync handles POST /sync
func (c *LibraryController) TriggerSync(ctx *gin.Context, body *models.SyncInput) (*models.Accepted, error) {
	if err := c.Service.TriggerSyncAsync(body.Update); err != nil {
		return nil, toAPIError(err)
	}
	return &models.Accepted{Started: true, Action: "sync", Update: body.Update}, nil
}

// RunSync handles POST /sync/run and answers once the pass has finished.
func (c *LibraryController) RunSync(ctx *gin.Context, body *models.SyncInput) (*models.PassSummary, error) {
	summary, err := c.Service.TriggerSync(ctx.Request.Context(), body.Update)
	if err != nil {
		return nil, toAPIError(err)
	}
	return summary, nil
}

// TriggerDownloads handles POST /downloads
func (c *LibraryController) TriggerDownloads(ctx *gin.Context) (*models.Accepted, error) {
	if err := c.Service.TriggerDownloadAll(); err != nil {
		return nil, toAPIError(err)
	}
	return &models.Accepted{Started: true, Action: "download"}, nil
}

// Reconcile handles POST /reconcile
func (c *LibraryController) Reconcile(ctx *gin.Context) (*models.ReconcileResult, error) {
	res, err := c.Service.Reconcile(ctx.Request.Context())
	if err != nil {
		return nil, toAPIError(err)
	}
	return &res, nil
}

// Reclassify handles POST /reclassify
func (c *LibraryController) Reclassify(ctx *gin.Context, body *models.ReclassifyInput) (*models.ReclassifyResult, error) {
	res, err := c.Service.Reclassify(ctx.Request.Context(), body.AssetIDs)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &res, nil
}

// GetStatus handles GET /status
func (c *LibraryController) GetStatus(ctx *gin.Context) (*models.Status, error) {
	status, err := c.Service.Status(ctx.Request.Context())
	if err != nil {
		return nil, toAPIError(err)
	}
	return status, nil
}

// GetLogs handles GET /logs
func (c *LibraryController) GetLogs(ctx *gin.Context) (*models.LogLines, error) {
	lines := c.Service.Logs()
	return &lines, nil
}

// GetSettings handles GET /settings
func (c *LibraryController) GetSettings(ctx *gin.Context) (*config.View, error) {
	v := c.Service.Settings()
	return &v, nil
}

// UpdateSettings handles PUT /settings
func (c *LibraryController) UpdateSettings(ctx *gin.Context, body *config.Patch) (*config.View, error) {
	v, err := c.Service.UpdateSettings(ctx.Request.Context(), *body)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &v, nil
}

// StreamEvents handles GET /events as a server-sent event stream.
func (c *LibraryController) StreamEvents(ctx *gin.Context) {
	ch, unsubscribe := c.Service.Subscribe()
	defer unsubscribe()

	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Request.Context().Done():
			return false
		case e, ok := <-ch:
			if !ok {
				return false
			}
			ctx.SSEvent(e.Type, e)
			return true
		}
	})
}

func abortProblem(ctx *gin.Context, err error) {
	var apiErr problem.APIError
	if !errors.As(err, &apiErr) {
		apiErr = problem.NewInternalServerError(err.Error())
	}
	ctx.Header("Content-Type", "application/problem+json")
	ctx.AbortWithStatusJSON(apiErr.Status, apiErr)
}

// toAPIError maps service sentinels onto problem responses.
func toAPIError(err error) error {
	var apiErr problem.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, services.ErrSyncRunning):
		return problem.NewConflict("a sync pass of this mode is already running")
	case errors.Is(err, services.ErrDownloadRunning):
		return problem.NewConflict("a download batch is already running")
	case errors.Is(err, services.ErrNotConfigured):
		return problem.NewPreconditionFailed("session credential and library path must be configured")
	case errors.Is(err, tools.ErrClosed):
		return problem.NewConflict("the server is shutting down")
	case errors.Is(err, storefront.ErrUnauthorized), errors.Is(err, storefront.ErrNoCredential):
		return problem.NewBadGateway(err.Error())
	default:
		return err
	}
}
