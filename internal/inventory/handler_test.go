package inventory

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/rbac"
	"github.com/medcare-hms/medcare/internal/shared"
)

func newTestRouter(f fixture, actor shared.Actor) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, f.svc, rbac.Middleware{Logger: logger})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	r.Route("/inventory", h.MountRoutes)
	return r
}

func TestHandlerCreateAndApprove(t *testing.T) {
	f := newFixture()
	item := f.store.addItem("Paracetamol 500mg", catalog.DepartmentPharmacy, 20)
	router := newTestRouter(f, approver)

	body := `{"inventory_item":` + jsonInt(item.ID) + `,"quantity":5,"adjustment_type":"Customer Return","reason":"unopened"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inventory/adjustments", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created Adjustment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	approvePath := "/inventory/adjustments/" + jsonInt(created.ID) + "/approve"
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, approvePath, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 25, f.store.stock(item.ID))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, approvePath, nil))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerRejectsInvalidType(t *testing.T) {
	f := newFixture()
	item := f.store.addItem("Paracetamol 500mg", catalog.DepartmentPharmacy, 20)
	router := newTestRouter(f, approver)

	body := `{"inventory_item":` + jsonInt(item.ID) + `,"quantity":5,"adjustment_type":"Theft","reason":"x"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inventory/adjustments", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "adjustment_type")
}

func TestHandlerApprovalNeedsPermission(t *testing.T) {
	f := newFixture()
	item := f.store.addItem("Paracetamol 500mg", catalog.DepartmentPharmacy, 20)
	adj := f.create(t, item.ID, AdjustmentDamaged, 1)
	router := newTestRouter(f, shared.Actor{ID: 9, Role: shared.RolePharmacist})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inventory/adjustments/"+jsonInt(adj.ID)+"/approve", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, 20, f.store.stock(item.ID))
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
