package billing

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/medcare-hms/medcare/internal/money"
	"github.com/medcare-hms/medcare/internal/platform/httpx"
	"github.com/medcare-hms/medcare/internal/rbac"
	"github.com/medcare-hms/medcare/internal/shared"
)

// IdempotencyHeader carries the client supplied payment idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes invoice, payment and receipt endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers /billing routes other than service items.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermBillingView))
		r.Get("/invoices", h.listInvoices)
		r.Get("/invoices/pending", h.listPending)
		r.Get("/invoices/{id}", h.getInvoice)
		r.Get("/receipts/{id}", h.getReceipt)
		r.Get("/stats", h.stats)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermBillingEdit))
		r.Post("/invoices", h.createInvoice)
		r.Post("/invoices/{id}/items", h.addLineItem)
		r.Post("/invoices/{id}/cancel", h.cancelInvoice)
		r.Post("/receipts/{id}/reprint", h.reprintReceipt)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermBillingPay))
		r.Post("/invoices/{id}/pay", h.processPayment)
	})
}

type createInvoiceRequest struct {
	PatientID         *int64 `json:"patient" validate:"omitempty,gt=0"`
	WalkinID          string `json:"walkin_id" validate:"max=64"`
	VisitID           *int64 `json:"visit" validate:"omitempty,gt=0"`
	Draft             bool   `json:"draft"`
	DueDate           string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	InsuranceProvider string `json:"insurance_provider" validate:"max=200"`
	InsuranceClaimID  string `json:"insurance_claim_id" validate:"max=100"`
	Notes             string `json:"notes"`
}

type lineItemRequest struct {
	ServiceItemID *int64    `json:"service_item" validate:"omitempty,gt=0"`
	Description   string    `json:"description" validate:"max=255"`
	Quantity      money.Raw `json:"quantity" validate:"required"`
	UnitPrice     money.Raw `json:"unit_price"`
	Discount      money.Raw `json:"discount"`
}

type paymentRequest struct {
	Amount        money.Raw `json:"amount" validate:"required"`
	PaymentMethod string    `json:"payment_method" validate:"required"`
	Reference     string    `json:"reference" validate:"max=100"`
	TransactionID string    `json:"transaction_id" validate:"max=100"`
	Notes         string    `json:"notes"`
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	filter, err := parseInvoiceFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	invoices, page, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		h.logError("list invoices", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": invoices, "pagination": page})
}

func parseInvoiceFilter(r *http.Request) (InvoiceFilter, error) {
	q := r.URL.Query()
	filter := InvoiceFilter{Status: Status(q.Get("status"))}
	var err error
	if filter.Limit, err = httpx.QueryInt(r, "limit", shared.DefaultPageSize); err != nil {
		return InvoiceFilter{}, err
	}
	if filter.Offset, err = httpx.QueryInt(r, "offset", 0); err != nil {
		return InvoiceFilter{}, err
	}
	patient, err := httpx.QueryInt(r, "patient", 0)
	if err != nil {
		return InvoiceFilter{}, err
	}
	filter.PatientID = int64(patient)
	if raw := q.Get("from"); raw != "" {
		if filter.From, err = time.Parse(time.DateOnly, raw); err != nil {
			return InvoiceFilter{}, fmt.Errorf("%w: invalid from %q", httpx.ErrBadRequest, raw)
		}
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return InvoiceFilter{}, fmt.Errorf("%w: invalid to %q", httpx.ErrBadRequest, raw)
		}
		filter.To = to.AddDate(0, 0, 1)
	}
	return filter, nil
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.ListPendingInvoices(r.Context())
	if err != nil {
		h.logError("list pending invoices", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.logError("get invoice", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createInvoiceRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInvoiceInput{
		PatientID:         req.PatientID,
		WalkinID:          req.WalkinID,
		VisitID:           req.VisitID,
		Draft:             req.Draft,
		InsuranceProvider: req.InsuranceProvider,
		InsuranceClaimID:  req.InsuranceClaimID,
		Notes:             req.Notes,
		ActorID:           actor.ID,
	}
	if req.DueDate != "" {
		due, _ := time.Parse(time.DateOnly, req.DueDate)
		input.DueDate = &due
	}
	inv, err := h.service.CreateInvoice(r.Context(), input)
	if err != nil {
		h.logError("create invoice", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) addLineItem(w http.ResponseWriter, r *http.Request) {
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
	var req lineItemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	fields := shared.FieldErrors{}
	quantity := optionalAmount(fields, "quantity", req.Quantity)
	unitPrice := optionalAmount(fields, "unit_price", req.UnitPrice)
	discount := optionalAmount(fields, "discount", req.Discount)
	if err := fields.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.AddLineItem(r.Context(), id, AddLineItemInput{
		ServiceItemID: req.ServiceItemID,
		Description:   req.Description,
		Quantity:      quantity,
		UnitPrice:     unitPrice,
		Discount:      discount,
		ActorID:       actor.ID,
	})
	if err != nil {
		h.logError("add line item", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func optionalAmount(fields shared.FieldErrors, name string, raw money.Raw) decimal.Decimal {
	if !raw.IsSet() {
		return money.Zero
	}
	d, err := raw.Decimal()
	if errors.Is(err, money.ErrOutOfRange) {
		fields.Add(name, "is out of range")
		return money.Zero
	}
	if err != nil {
		fields.Add(name, "must be a number")
		return money.Zero
	}
	return d
}

func (h *Handler) processPayment(w http.ResponseWriter, r *http.Request) {
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
	var req paymentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ProcessPayment(r.Context(), id, PaymentInput{
		Amount:         string(req.Amount),
		PaymentMethod:  PaymentMethod(req.PaymentMethod),
		Reference:      req.Reference,
		TransactionID:  req.TransactionID,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		Actor:          actor,
	})
	if err != nil {
		h.logError("process payment", err)
		httpx.RespondError(w, err)
		return
	}
	message := "Payment processed successfully"
	if result.Receipt != nil {
		message = "Payment processed and receipt generated"
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"message":          message,
		"payment":          result.Payment,
		"invoice":          result.Invoice,
		"receipt":          result.Receipt,
		"stock_deductions": result.Deductions,
	})
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
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
	inv, err := h.service.CancelInvoice(r.Context(), id, actor)
	if err != nil {
		h.logError("cancel invoice", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipt, err := h.service.GetReceipt(r.Context(), id)
	if err != nil {
		h.logError("get receipt", err)
		httpx.RespondError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "text" {
		detail, err := h.service.GetInvoice(r.Context(), receipt.InvoiceID)
		if err != nil {
			h.logError("render receipt", err)
			httpx.RespondError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(RenderReceipt(receipt, detail)))
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) reprintReceipt(w http.ResponseWriter, r *http.Request) {
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
	receipt, err := h.service.ReprintReceipt(r.Context(), id, actor)
	if err != nil {
		h.logError("reprint receipt", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":     "Receipt marked for reprint",
		"print_count": receipt.PrintCount,
		"receipt":     receipt,
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.BillingStats(r.Context(), h.service.now())
	if err != nil {
		h.logError("billing stats", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) logError(op string, err error) {
	if !shared.IsDomainError(err) {
		h.logger.Error(op, slog.Any("error", err))
		return
	}
	h.logger.Info(op+" rejected", slog.Any("error", err))
}
