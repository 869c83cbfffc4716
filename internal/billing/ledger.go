package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/inventory"
	"github.com/medcare-hms/medcare/internal/money"
	"github.com/medcare-hms/medcare/internal/observability"
	"github.com/medcare-hms/medcare/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	InvoiceNumberExists(ctx context.Context, number string) (bool, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListInvoiceItems(ctx context.Context, invoiceID int64) ([]InvoiceItem, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	ListReceipts(ctx context.Context, invoiceID int64) ([]Receipt, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error)
	ListPendingInvoices(ctx context.Context) ([]Invoice, error)
	GetReceipt(ctx context.Context, id int64) (Receipt, error)
	MarkReceiptPrinted(ctx context.Context, id int64) (Receipt, error)
	Stats(ctx context.Context, window StatsWindow) (Stats, error)
}

// TxRepository exposes transactional operations used by service. Stock
// operations share the same transaction so a sale and its deduction commit together.
type TxRepository interface {
	inventory.StockTx
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	ListInvoiceItems(ctx context.Context, invoiceID int64) ([]InvoiceItem, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	InsertInvoiceItem(ctx context.Context, item InvoiceItem) (InvoiceItem, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	InsertReceipt(ctx context.Context, r Receipt) (Receipt, error)
	SaveInvoiceState(ctx context.Context, inv Invoice) (Invoice, error)
}

// CatalogPort resolves service items for line pricing.
type CatalogPort interface {
	GetServiceItem(ctx context.Context, id int64) (catalog.ServiceItem, error)
}

// DeductorPort consumes stock for a completed sale inside a transaction.
type DeductorPort interface {
	DeductForSale(ctx context.Context, tx inventory.StockTx, sale inventory.Sale) ([]inventory.Deduction, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Service coordinates the invoice ledger, payments and receipts.
type Service struct {
	repo        RepositoryPort
	catalog     CatalogPort
	deductor    DeductorPort
	audit       AuditPort
	idempotency IdempotencyPort
	integration inventory.IntegrationHandler
	cache       *StatsCache
	metrics     *observability.Metrics
	numbers     *Numbers
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceParams groups Service collaborators. Everything except Repo and
// Catalog is optional.
type ServiceParams struct {
	Repo        RepositoryPort
	Catalog     CatalogPort
	Deductor    DeductorPort
	Audit       AuditPort
	Idempotency IdempotencyPort
	Integration inventory.IntegrationHandler
	Cache       *StatsCache
	Metrics     *observability.Metrics
	Numbers     *Numbers
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewService builds Service.
func NewService(p ServiceParams) *Service {
	s := &Service{
		repo:        p.Repo,
		catalog:     p.Catalog,
		deductor:    p.Deductor,
		audit:       p.Audit,
		idempotency: p.Idempotency,
		integration: p.Integration,
		cache:       p.Cache,
		metrics:     p.Metrics,
		numbers:     p.Numbers,
		logger:      p.Logger,
		now:         p.Now,
	}
	if s.deductor == nil {
		s.deductor = inventory.NewDeductor()
	}
	if s.numbers == nil {
		s.numbers = NewNumbers()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// maxInvoiceInsertAttempts bounds retries when a generated number races another insert.
const maxInvoiceInsertAttempts = 3

// CreateInvoice opens an invoice for exactly one of a patient or a walk-in.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (Invoice, error) {
	walkin := strings.TrimSpace(input.WalkinID)
	hasPatient := input.PatientID != nil && *input.PatientID > 0
	fields := shared.FieldErrors{}
	switch {
	case hasPatient && walkin != "":
		fields.Add("patient", "patient and walkin_id are mutually exclusive")
	case !hasPatient && walkin == "":
		fields.Add("patient", "patient or walkin_id is required")
	}
	if input.ActorID == 0 {
		fields.Add("created_by", "is required")
	}
	if err := fields.Err(); err != nil {
		return Invoice{}, err
	}

	now := s.now()
	inv := Invoice{
		WalkinID:          walkin,
		VisitID:           input.VisitID,
		Status:            StatusPending,
		TotalAmount:       money.Zero,
		AmountPaid:        money.Zero,
		Balance:           money.Zero,
		InsuranceProvider: strings.TrimSpace(input.InsuranceProvider),
		InsuranceClaimID:  strings.TrimSpace(input.InsuranceClaimID),
		InvoiceDate:       now,
		DueDate:           input.DueDate,
		Notes:             strings.TrimSpace(input.Notes),
		CreatedBy:         input.ActorID,
	}
	if hasPatient {
		inv.PatientID = input.PatientID
	}
	if input.Draft {
		inv.Status = StatusDraft
	}

	var created Invoice
	var err error
	for range maxInvoiceInsertAttempts {
		inv.InvoiceNumber, err = s.GenerateInvoiceNumber(ctx)
		if err != nil {
			return Invoice{}, err
		}
		created, err = s.repo.InsertInvoice(ctx, inv)
		if !errors.Is(err, ErrDuplicateNumber) {
			break
		}
	}
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   shared.AuditCreate,
		Entity:   "invoice",
		EntityID: created.InvoiceNumber,
		Message:  fmt.Sprintf("Created invoice %s", created.InvoiceNumber),
	})
	s.bumpStats(ctx)
	return created, nil
}

// GenerateInvoiceNumber returns an unused INV-YYYYMM-XXXX number.
func (s *Service) GenerateInvoiceNumber(ctx context.Context) (string, error) {
	return s.numbers.InvoiceNumber(ctx, s.repo.InvoiceNumberExists)
}

// LineItemResult is returned by AddLineItem.
type LineItemResult struct {
	Item    InvoiceItem `json:"item"`
	Invoice Invoice     `json:"invoice"`
}

// AddLineItem appends a line and recomputes the invoice in one transaction
// holding the invoice row lock.
func (s *Service) AddLineItem(ctx context.Context, invoiceID int64, input AddLineItemInput) (LineItemResult, error) {
	var result LineItemResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status.Terminal() || inv.Status == StatusPaid {
			return fmt.Errorf("%w: %s is %s", ErrInvoiceClosed, inv.InvoiceNumber, inv.Status)
		}
		line, err := s.resolveLine(ctx, input)
		if err != nil {
			return err
		}
		line.InvoiceID = inv.ID
		item, err := tx.InsertInvoiceItem(ctx, line)
		if err != nil {
			return err
		}
		items, err := tx.ListInvoiceItems(ctx, inv.ID)
		if err != nil {
			return err
		}
		payments, err := tx.ListPayments(ctx, inv.ID)
		if err != nil {
			return err
		}
		totals := RecomputeTotals(items, payments)
		if !money.InRange(totals.Total) {
			return fmt.Errorf("%w: %s would total %s", ErrTotalOutOfRange, inv.InvoiceNumber, money.Format(totals.Total))
		}
		applyTotals(&inv, totals, s.now())
		saved, err := tx.SaveInvoiceState(ctx, inv)
		if err != nil {
			return err
		}
		result = LineItemResult{Item: item, Invoice: saved}
		return nil
	})
	if err != nil {
		return LineItemResult{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   shared.AuditCreate,
		Entity:   "invoice_item",
		EntityID: fmt.Sprint(result.Item.ID),
		Message:  fmt.Sprintf("Added %s to invoice %s", result.Item.Description, result.Invoice.InvoiceNumber),
		Meta: map[string]any{
			"quantity":    result.Item.Quantity.String(),
			"total_price": money.Format(result.Item.TotalPrice),
		},
	})
	s.bumpStats(ctx)
	return result, nil
}

// resolveLine fills catalog defaults and validates the line amounts.
func (s *Service) resolveLine(ctx context.Context, input AddLineItemInput) (InvoiceItem, error) {
	line := InvoiceItem{
		ServiceItemID: input.ServiceItemID,
		Description:   strings.TrimSpace(input.Description),
		Quantity:      input.Quantity,
		UnitPrice:     money.Round(input.UnitPrice),
		Discount:      money.Round(input.Discount),
		CreatedAt:     s.now(),
	}
	if input.ServiceItemID != nil {
		svcItem, err := s.catalog.GetServiceItem(ctx, *input.ServiceItemID)
		if err != nil {
			return InvoiceItem{}, err
		}
		if !svcItem.Active {
			return InvoiceItem{}, shared.FieldErrors{"service_item": "is inactive"}
		}
		if line.UnitPrice.IsZero() {
			line.UnitPrice = svcItem.Price
		}
		if line.Description == "" {
			line.Description = svcItem.Name
		}
	}
	fields := shared.FieldErrors{}
	if line.Description == "" {
		fields.Add("description", "is required")
	}
	if !line.Quantity.IsPositive() {
		fields.Add("quantity", "must be greater than 0")
	}
	if line.UnitPrice.IsNegative() {
		fields.Add("unit_price", "must not be negative")
	}
	if line.Discount.IsNegative() {
		fields.Add("discount", "must not be negative")
	}
	for name, v := range map[string]decimal.Decimal{"quantity": line.Quantity, "unit_price": line.UnitPrice, "discount": line.Discount} {
		if !money.InRange(v) {
			fields.Add(name, "is out of range")
		}
	}
	if err := fields.Err(); err != nil {
		return InvoiceItem{}, err
	}
	if line.Discount.GreaterThan(line.UnitPrice.Mul(line.Quantity)) {
		return InvoiceItem{}, shared.FieldErrors{"discount": "must not exceed unit_price x quantity"}
	}
	line.TotalPrice = LineTotal(line.Quantity, line.UnitPrice, line.Discount)
	if !money.InRange(line.TotalPrice) {
		return InvoiceItem{}, shared.FieldErrors{"total_price": "is out of range"}
	}
	return line, nil
}

// GetInvoice returns the invoice with its items, payments and receipts.
func (s *Service) GetInvoice(ctx context.Context, id int64) (InvoiceDetail, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	items, err := s.repo.ListInvoiceItems(ctx, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	payments, err := s.repo.ListPayments(ctx, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	receipts, err := s.repo.ListReceipts(ctx, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	return InvoiceDetail{Invoice: inv, Items: items, Payments: payments, Receipts: receipts}, nil
}

// ListInvoices lists invoices newest first.
func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, shared.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, shared.FieldErrors{"status": "is invalid"}
	}
	filter.Limit, filter.Offset = shared.ClampPage(filter.Limit, filter.Offset)
	invoices, total, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return invoices, shared.NewPagination(filter.Limit, filter.Offset, total), nil
}

// ListPendingInvoices lists Pending and Partially Paid invoices, oldest first.
func (s *Service) ListPendingInvoices(ctx context.Context) ([]Invoice, error) {
	return s.repo.ListPendingInvoices(ctx)
}

// CancelInvoice cancels an invoice that has not received any payment.
func (s *Service) CancelInvoice(ctx context.Context, id int64, actor shared.Actor) (Invoice, error) {
	var cancelled Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrInvoiceClosed, inv.InvoiceNumber, inv.Status)
		}
		if inv.AmountPaid.IsPositive() {
			return fmt.Errorf("%w: %s has %s paid", ErrInvoiceHasPayments, inv.InvoiceNumber, money.Format(inv.AmountPaid))
		}
		inv.Status = StatusCancelled
		cancelled, err = tx.SaveInvoiceState(ctx, inv)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   shared.AuditCancel,
		Entity:   "invoice",
		EntityID: cancelled.InvoiceNumber,
		Message:  fmt.Sprintf("Cancelled invoice %s", cancelled.InvoiceNumber),
	})
	s.bumpStats(ctx)
	return cancelled, nil
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("entity", log.Entity), slog.String("entity_id", log.EntityID), slog.Any("error", err))
	}
}

func (s *Service) bumpStats(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("billing stats cache bump failed", slog.Any("error", err))
	}
}
