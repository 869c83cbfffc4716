package catalog

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/medcare-hms/medcare/internal/money"
	"github.com/medcare-hms/medcare/internal/platform/httpx"
	"github.com/medcare-hms/medcare/internal/rbac"
	"github.com/medcare-hms/medcare/internal/shared"
)

// Handler exposes catalog endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountServiceItemRoutes registers /billing/services routes.
func (h *Handler) MountServiceItemRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermBillingView))
		r.Get("/", h.listServiceItems)
		r.Get("/{id}", h.getServiceItem)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermCatalogEdit))
		r.Post("/", h.createServiceItem)
		r.Patch("/{id}", h.updateServiceItem)
		r.Delete("/{id}", h.deleteServiceItem)
	})
}

// MountInventoryItemRoutes registers /inventory/items and /inventory/stats routes.
func (h *Handler) MountInventoryItemRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermInventoryView))
		r.Get("/items", h.listInventoryItems)
		r.Get("/items/{id}", h.getInventoryItem)
		r.Get("/stats", h.inventoryStats)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermInventoryEdit))
		r.Post("/items", h.createInventoryItem)
	})
}

type serviceItemRequest struct {
	Code        string    `json:"code" validate:"required,max=50"`
	Name        string    `json:"name" validate:"required,max=200"`
	Description string    `json:"description"`
	Category    string    `json:"category" validate:"required,oneof=Consultation Laboratory Pharmacy Procedure Radiology Therapy Other"`
	Price       money.Raw `json:"price" validate:"required"`
	CostPrice   money.Raw `json:"cost_price"`
}

type serviceItemPatch struct {
	Price  money.Raw `json:"price"`
	Active *bool     `json:"is_active"`
}

type inventoryItemRequest struct {
	Name          string    `json:"name" validate:"required,max=200"`
	Department    string    `json:"department" validate:"required,oneof=PHARMACY LAB"`
	CurrentStock  int       `json:"current_stock" validate:"gte=0"`
	MinimumStock  *int      `json:"minimum_stock" validate:"omitempty,gte=0"`
	UnitOfMeasure string    `json:"unit_of_measure" validate:"omitempty,oneof=PCS BOX BTL KIT TAB CAP ML GM TEST"`
	Manufacturer  string    `json:"manufacturer"`
	UnitCost      money.Raw `json:"unit_cost"`
	SellingPrice  money.Raw `json:"selling_price"`
	ExpiryDate    string    `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	Locked        bool      `json:"is_locked"`
}

type inventoryItemView struct {
	InventoryItem
	StockStatus StockStatus     `json:"stock_status"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

func (h *Handler) listServiceItems(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := httpx.QueryBool(r, "active")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListServiceItems(r.Context(), activeOnly)
	if err != nil {
		h.logger.Error("list service items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) getServiceItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.GetServiceItem(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) createServiceItem(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req serviceItemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	fields := shared.FieldErrors{}
	price, err := req.Price.Decimal()
	if err != nil {
		fields.Add("price", err.Error())
	}
	var cost decimal.NullDecimal
	if req.CostPrice.IsSet() {
		d, err := req.CostPrice.Decimal()
		if err != nil {
			fields.Add("cost_price", err.Error())
		}
		cost = decimal.NewNullDecimal(d)
	}
	if err := fields.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateServiceItem(r.Context(), ServiceItemInput{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Category:    Category(req.Category),
		Price:       price,
		CostPrice:   cost,
	}, actor.ID)
	if err != nil {
		h.logError("create service item", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) updateServiceItem(w http.ResponseWriter, r *http.Request) {
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
	var req serviceItemPatch
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	upd := ServiceItemUpdate{Active: req.Active}
	if req.Price.IsSet() {
		price, err := req.Price.Decimal()
		if err != nil {
			httpx.RespondError(w, shared.FieldErrors{"price": err.Error()})
			return
		}
		upd.Price = &price
	}
	item, err := h.service.UpdateServiceItem(r.Context(), id, upd, actor.ID)
	if err != nil {
		h.logError("update service item", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) deleteServiceItem(w http.ResponseWriter, r *http.Request) {
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
	if err := h.service.DeleteServiceItem(r.Context(), id, actor.ID); err != nil {
		h.logError("delete service item", err)
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listInventoryItems(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dept := Department(strings.ToUpper(r.URL.Query().Get("department")))
	items, err := h.service.ListInventoryItems(r.Context(), dept, actor.IsAdmin())
	if err != nil {
		h.logError("list inventory items", err)
		httpx.RespondError(w, err)
		return
	}
	now := time.Now()
	views := make([]inventoryItemView, 0, len(items))
	for _, item := range items {
		views = append(views, newInventoryItemView(item, now))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) getInventoryItem(w http.ResponseWriter, r *http.Request) {
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
	item, err := h.service.GetInventoryItem(r.Context(), id, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInventoryItemView(item, time.Now()))
}

func (h *Handler) createInventoryItem(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req inventoryItemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	fields := shared.FieldErrors{}
	input := InventoryItemInput{
		Name:          req.Name,
		Department:    Department(req.Department),
		CurrentStock:  req.CurrentStock,
		MinimumStock:  req.MinimumStock,
		UnitOfMeasure: Unit(req.UnitOfMeasure),
		Manufacturer:  req.Manufacturer,
		Locked:        req.Locked,
		ActorID:       actor.ID,
	}
	if req.UnitCost.IsSet() {
		if input.UnitCost, err = req.UnitCost.Decimal(); err != nil {
			fields.Add("unit_cost", err.Error())
		}
	}
	if req.SellingPrice.IsSet() {
		if input.SellingPrice, err = req.SellingPrice.Decimal(); err != nil {
			fields.Add("selling_price", err.Error())
		}
	}
	if req.ExpiryDate != "" {
		expiry, err := time.ParseInLocation(time.DateOnly, req.ExpiryDate, time.Local)
		if err != nil {
			fields.Add("expiry_date", "must be YYYY-MM-DD")
		} else {
			input.ExpiryDate = &expiry
		}
	}
	if err := fields.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateInventoryItem(r.Context(), input)
	if err != nil {
		h.logError("create inventory item", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newInventoryItemView(item, time.Now()))
}

func (h *Handler) inventoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.InventoryStats(r.Context())
	if err != nil {
		h.logger.Error("inventory stats", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func newInventoryItemView(item InventoryItem, now time.Time) inventoryItemView {
	return inventoryItemView{InventoryItem: item, StockStatus: item.StockStatusAt(now), TotalValue: item.TotalValue()}
}

func (h *Handler) logError(op string, err error) {
	if !shared.IsDomainError(err) {
		h.logger.Error(op, slog.Any("error", err))
		return
	}
	h.logger.Info(op+" rejected", slog.Any("error", err))
}
