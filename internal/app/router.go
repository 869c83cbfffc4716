package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/medcare-hms/medcare/internal/billing"
	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/inventory"
	"github.com/medcare-hms/medcare/internal/observability"
	"github.com/medcare-hms/medcare/internal/platform/httpx"
	"github.com/medcare-hms/medcare/internal/rbac"
	"github.com/medcare-hms/medcare/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Authenticator    *Authenticator
	RBACMiddleware   rbac.Middleware
	BillingHandler   *billing.Handler
	CatalogHandler   *catalog.Handler
	InventoryHandler *inventory.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
	// RequestLog enables chi's access log. Disabled in tests.
	RequestLog bool
}

// NewRouter constructs the chi.Router with MedCare defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.RequestLog {
		r.Use(chimw.Logger)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.Authenticator != nil {
			r.Use(params.Authenticator.Middleware)
		}
		r.Route("/billing", func(r chi.Router) {
			if params.CatalogHandler != nil {
				r.Route("/services", params.CatalogHandler.MountServiceItemRoutes)
			}
			if params.BillingHandler != nil {
				params.BillingHandler.MountRoutes(r)
			}
		})
		r.Route("/inventory", func(r chi.Router) {
			if params.CatalogHandler != nil {
				params.CatalogHandler.MountInventoryItemRoutes(r)
			}
			if params.InventoryHandler != nil {
				params.InventoryHandler.MountRoutes(r)
			}
		})
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAdmin)
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}
