package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medcare-hms/medcare/internal/billing"
	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/inventory"
	"github.com/medcare-hms/medcare/internal/observability"
	"github.com/medcare-hms/medcare/internal/rbac"
	"github.com/medcare-hms/medcare/internal/shared"
	"github.com/medcare-hms/medcare/jobs"
	_ "github.com/medcare-hms/medcare/testing"
)

type routerFixture struct {
	server *httptest.Server
	auth   *Authenticator
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, RateLimitPerMinute: 1000}
	auth := NewAuthenticator(testSecret, "medcare", logger)
	guard := rbac.Middleware{Logger: logger}

	// Services stay nil; the routes exercised here are rejected before any handler runs.
	router := NewRouter(RouterParams{
		Logger:           logger,
		Config:           cfg,
		Authenticator:    auth,
		RBACMiddleware:   guard,
		BillingHandler:   billing.NewHandler(logger, nil, guard),
		CatalogHandler:   catalog.NewHandler(logger, nil, guard),
		InventoryHandler: inventory.NewHandler(logger, nil, guard),
		JobHandler:       jobs.NewHandler(nil, logger),
		Metrics:          observability.NewMetrics(),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return routerFixture{server: server, auth: auth}
}

func (f routerFixture) do(t *testing.T, method, path string, actor *shared.Actor) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, f.server.URL+path, nil)
	require.NoError(t, err)
	if actor != nil {
		token, err := f.auth.Issue(*actor, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthzIsPublic(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	f := newRouterFixture(t)
	f.do(t, http.MethodGet, "/healthz", nil)

	resp := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(raw), "# TYPE"))
}

func TestAPIRequiresBearerToken(t *testing.T) {
	f := newRouterFixture(t)

	for _, path := range []string{
		"/api/v1/billing/invoices",
		"/api/v1/billing/services",
		"/api/v1/inventory/items",
		"/api/v1/inventory/adjustments",
		"/api/v1/jobs/health",
	} {
		resp := f.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestAPIEnforcesPermissions(t *testing.T) {
	f := newRouterFixture(t)
	lab := &shared.Actor{ID: 3, Role: shared.RoleLabTech}
	cashier := &shared.Actor{ID: 4, Role: shared.RoleCashier}

	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/v1/billing/invoices", lab).StatusCode)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/billing/invoices/1/pay", lab).StatusCode)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/v1/inventory/items", cashier).StatusCode)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/billing/services", cashier).StatusCode)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/v1/inventory/adjustments/1/approve", lab).StatusCode)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/v1/jobs/health", cashier).StatusCode)
}

func TestJobsHealthForAdmin(t *testing.T) {
	f := newRouterFixture(t)
	admin := &shared.Actor{ID: 1, Role: shared.RoleAdmin}

	resp := f.do(t, http.MethodGet, "/api/v1/jobs/health", admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, jobs.QueueDefault, body["queue"])
}

func TestUnknownRouteIsProblem(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(t, http.MethodGet, "/nowhere", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}
