package library

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/humblevault/humblevault/pkg/library/handler"
	problem "github.com/humblevault/humblevault/pkg/library/helpers/problem"
	"github.com/humblevault/humblevault/pkg/library/middleware"
	"github.com/loopfz/gadgeto/tonic"
	"github.com/wI2L/fizz"
	"github.com/wI2L/fizz/openapi"
)

var (
	apiVersionHeader = fizz.Header(
		"API-Version",
		"API version of the response",
		"",
	)

	notFoundResponse = fizz.Response(
		"404",
		"Not Found",
		problem.APIError{},
		nil,
		nil,
	)

	conflictResponse = fizz.Response(
		"409",
		"An operation of this kind is already running",
		problem.APIError{},
		nil,
		nil,
	)

	badGatewayResponse = fizz.Response(
		"502",
		"The storefront rejected or failed the request",
		problem.APIError{},
		nil,
		nil,
	)

	notConfiguredResponse = fizz.Response(
		"412",
		"Session credential or library path missing",
		problem.APIError{},
		nil,
		nil,
	)
)

func NewRouter(apiVersion, publicURL string, controller *handler.LibraryController, auth *middleware.Auth) *fizz.Fizz {
	tonic.SetErrorHook(ErrorHook)

	g := gin.New()
	g.Use(gin.Recovery(), APIVersionMiddleware(apiVersion))
	f := fizz.NewFromEngine(g)

	if publicURL != "" {
		f.Generator().SetServers([]*openapi.Server{
			{URL: publicURL, Description: "This instance"},
		})
	}

	gen := f.Generator()
	gen.API().Components.Headers["API-Version"] = &openapi.HeaderOrRef{
		Header: &openapi.Header{
			Description: "API version of the response",
			Schema: &openapi.SchemaOrRef{
				Schema: &openapi.Schema{
					Type: "string",
				},
			},
		},
	}

	info := &openapi.Info{
		Title:       "humblevault API v1",
		Description: "Index, enrich and download a personal storefront library",
		Version:     apiVersion,
	}

	root := f.Group("/v1", "v1", "humblevault v1 routes")

	read := root.Group("", "Library", "Browse the indexed library", auth.RequireAccess(middleware.ScopeRead))
	read.GET("/highlights",
		[]fizz.OperationOption{
			fizz.Summary("Largest downloaded categories with their newest items"),
			apiVersionHeader,
		},
		tonic.Handler(controller.GetHighlights, http.StatusOK),
	)

	read.GET("/assets",
		[]fizz.OperationOption{
			fizz.Summary("List assets"),
			fizz.Description("Filterable, paginated; paging is returned in the Link and X-* headers."),
			apiVersionHeader,
		},
		tonic.Handler(controller.ListAssets, http.StatusOK),
	)

	read.GET("/assets/:id",
		[]fizz.OperationOption{
			fizz.Summary("Get one asset"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(controller.GetAsset, http.StatusOK),
	)

	read.GET("/assets/:id/file", nil, controller.ServeAssetFile)

	read.GET("/categories",
		[]fizz.OperationOption{
			fizz.Summary("Asset counts per category"),
			apiVersionHeader,
		},
		tonic.Handler(controller.ListCategories, http.StatusOK),
	)

	read.GET("/facets",
		[]fizz.OperationOption{
			fizz.Summary("Distinct filter values with counts"),
			apiVersionHeader,
		},
		tonic.Handler(controller.GetFacets, http.StatusOK),
	)

	read.GET("/bundles",
		[]fizz.OperationOption{
			fizz.Summary("Purchased bundles with download progress"),
			apiVersionHeader,
		},
		tonic.Handler(controller.ListBundles, http.StatusOK),
	)

	read.GET("/purchases",
		[]fizz.OperationOption{
			fizz.Summary("Orders in the local index, newest first"),
			apiVersionHeader,
		},
		tonic.Handler(controller.ListPurchases, http.StatusOK),
	)

	read.GET("/orders/:orderId",
		[]fizz.OperationOption{
			fizz.Summary("Live order contents joined with local assets"),
			apiVersionHeader,
			notConfiguredResponse,
			badGatewayResponse,
		},
		tonic.Handler(controller.GetOrder, http.StatusOK),
	)

	read.GET("/status",
		[]fizz.OperationOption{
			fizz.Summary("Background activity, last pass and library totals"),
			apiVersionHeader,
		},
		tonic.Handler(controller.GetStatus, http.StatusOK),
	)

	read.GET("/logs",
		[]fizz.OperationOption{
			fizz.Summary("Most recent log lines"),
			apiVersionHeader,
		},
		tonic.Handler(controller.GetLogs, http.StatusOK),
	)

	read.GET("/events", nil, controller.StreamEvents)

	write := root.Group("", "Admin", "Sync, downloads and settings", auth.RequireAccess(middleware.ScopeWrite))
	write.POST("/sync",
		[]fizz.OperationOption{
			fizz.Summary("Start an indexing pass in the background"),
			fizz.Description("update=true re-enriches and overwrites a bounded batch of existing assets."),
			apiVersionHeader,
			conflictResponse,
			notConfiguredResponse,
		},
		tonic.Handler(controller.TriggerSync, http.StatusAccepted),
	)

	write.POST("/sync/run",
		[]fizz.OperationOption{
			fizz.Summary("Run an indexing pass and wait for its summary"),
			apiVersionHeader,
			conflictResponse,
			notConfiguredResponse,
		},
		tonic.Handler(controller.RunSync, http.StatusOK),
	)

	write.POST("/downloads",
		[]fizz.OperationOption{
			fizz.Summary("Download every missing asset in the background"),
			apiVersionHeader,
			conflictResponse,
			notConfiguredResponse,
		},
		tonic.Handler(controller.TriggerDownloads, http.StatusAccepted),
	)

	write.POST("/reconcile",
		[]fizz.OperationOption{
			fizz.Summary("Re-check the downloaded flag of every asset against the disk"),
			apiVersionHeader,
			notConfiguredResponse,
		},
		tonic.Handler(controller.Reconcile, http.StatusOK),
	)

	write.POST("/reclassify",
		[]fizz.OperationOption{
			fizz.Summary("Recompute categories; all assets when no ids are given"),
			apiVersionHeader,
		},
		tonic.Handler(controller.Reclassify, http.StatusOK),
	)

	write.PUT("/assets/:id/tags",
		[]fizz.OperationOption{
			fizz.Summary("Replace the tags of an asset"),
			apiVersionHeader,
			notFoundResponse,
		},
		tonic.Handler(controller.SetTags, http.StatusOK),
	)

	write.GET("/settings",
		[]fizz.OperationOption{
			fizz.Summary("Current settings with secrets masked"),
			apiVersionHeader,
		},
		tonic.Handler(controller.GetSettings, http.StatusOK),
	)

	write.PUT("/settings",
		[]fizz.OperationOption{
			fizz.Summary("Update settings; omitted fields are unchanged"),
			apiVersionHeader,
		},
		tonic.Handler(controller.UpdateSettings, http.StatusOK),
	)

	f.GET("/v1/openapi.json", nil, f.OpenAPI(info, "json"))

	return f
}

// ErrorHook renders every handler error as problem JSON.
func ErrorHook(c *gin.Context, err error) (int, interface{}) {
	c.Header("Content-Type", "application/problem+json")

	var be tonic.BindError
	if errors.As(err, &be) || isValidationErr(err) {
		apiErr := problem.NewBadRequest("request", "invalid input", invalidParamsFromBinding(err)...)
		return apiErr.Status, apiErr
	}

	var apiErr problem.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status, apiErr
	}

	internal := problem.NewInternalServerError(err.Error())
	return internal.Status, internal
}

func invalidParamsFromBinding(err error) []problem.InvalidParam {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []problem.InvalidParam{{Name: "request", Reason: err.Error()}}
	}

	out := make([]problem.InvalidParam, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, problem.InvalidParam{
			Name:   fe.Field(),
			Reason: humanReason(fe),
		})
	}
	return out
}

func humanReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	default:
		return fe.Error()
	}
}

func isValidationErr(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

type apiVersionWriter struct {
	gin.ResponseWriter
	version string
}

func (w *apiVersionWriter) WriteHeader(code int) {
	if code >= 200 && code < 300 {
		w.Header().Set("API-Version", w.version)
	}
	w.ResponseWriter.WriteHeader(code)
}

func APIVersionMiddleware(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer = &apiVersionWriter{c.Writer, version}
		c.Next()
	}
}
