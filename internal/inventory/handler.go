package inventory

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medcare-hms/medcare/internal/platform/httpx"
	"github.com/medcare-hms/medcare/internal/rbac"
	"github.com/medcare-hms/medcare/internal/shared"
)

// Handler wires HTTP endpoints for inventory adjustments.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers adjustment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermInventoryView))
		r.Get("/adjustments", h.listAdjustments)
		r.Get("/adjustments/{id}", h.getAdjustment)
		r.Get("/adjustments/{id}/history", h.adjustmentHistory)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermInventoryEdit))
		r.Post("/adjustments", h.createAdjustment)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermInventoryApprove))
		r.Post("/adjustments/{id}/approve", h.decide(h.service.ApproveAdjustment))
		r.Post("/adjustments/{id}/reject", h.decide(h.service.RejectAdjustment))
		r.Post("/adjustments/{id}/dispose", h.decide(h.service.DisposeAdjustment))
	})
}

type adjustmentRequest struct {
	InventoryItemID int64  `json:"inventory_item" validate:"required,gt=0"`
	BatchNumber     string `json:"batch_number" validate:"max=100"`
	Quantity        int    `json:"quantity" validate:"gte=1"`
	Type            string `json:"adjustment_type" validate:"required,oneof=Damaged Expired 'Customer Return' Error Loss Adjustment"`
	Reason          string `json:"reason" validate:"required"`
}

func (h *Handler) listAdjustments(w http.ResponseWriter, r *http.Request) {
	status := AdjustmentStatus(r.URL.Query().Get("status"))
	adjustments, err := h.service.ListAdjustments(r.Context(), status)
	if err != nil {
		h.logError("list adjustments", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adjustments)
}

func (h *Handler) getAdjustment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	adj, err := h.service.GetAdjustment(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, adj)
}

func (h *Handler) adjustmentHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	history, err := h.service.AdjustmentHistory(r.Context(), id)
	if err != nil {
		h.logError("adjustment history", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, history)
}

func (h *Handler) createAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	adj, err := h.service.CreateAdjustment(r.Context(), AdjustmentInput{
		InventoryItemID: req.InventoryItemID,
		BatchNumber:     req.BatchNumber,
		Quantity:        req.Quantity,
		Type:            AdjustmentType(req.Type),
		Reason:          req.Reason,
		ActorID:         actor.ID,
	})
	if err != nil {
		h.logError("create adjustment", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

type decideFunc func(ctx context.Context, id int64, actor shared.Actor) (Decision, error)

func (h *Handler) decide(fn decideFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := httpx.Actor(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		decision, err := fn(r.Context(), id, actor)
		if err != nil {
			h.logError("decide adjustment", err)
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, decision)
	}
}

func (h *Handler) logError(op string, err error) {
	if !shared.IsDomainError(err) {
		h.logger.Error(op, slog.Any("error", err))
		return
	}
	h.logger.Info(op+" rejected", slog.Any("error", err))
}
