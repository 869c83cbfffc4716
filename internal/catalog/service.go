package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medcare-hms/medcare/internal/money"
	"github.com/medcare-hms/medcare/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	InsertServiceItem(ctx context.Context, item ServiceItem) (ServiceItem, error)
	GetServiceItem(ctx context.Context, id int64) (ServiceItem, error)
	ListServiceItems(ctx context.Context, activeOnly bool) ([]ServiceItem, error)
	UpdateServiceItem(ctx context.Context, id int64, upd ServiceItemUpdate) (ServiceItem, error)
	DeleteServiceItem(ctx context.Context, id int64) error
	InsertInventoryItem(ctx context.Context, item InventoryItem) (InventoryItem, error)
	GetInventoryItem(ctx context.Context, id int64) (InventoryItem, error)
	ListInventoryItems(ctx context.Context, filter InventoryFilter) ([]InventoryItem, error)
	FindInventoryItemByName(ctx context.Context, name string, dept Department) (InventoryItem, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates catalog operations.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// CreateServiceItem validates and stores a billable service.
func (s *Service) CreateServiceItem(ctx context.Context, input ServiceItemInput, actorID int64) (ServiceItem, error) {
	fields := shared.FieldErrors{}
	code := strings.TrimSpace(input.Code)
	name := strings.TrimSpace(input.Name)
	if code == "" {
		fields.Add("code", "is required")
	}
	if name == "" {
		fields.Add("name", "is required")
	}
	if !input.Category.Valid() {
		fields.Add("category", "is invalid")
	}
	if input.Price.IsNegative() {
		fields.Add("price", "must not be negative")
	} else if !money.InRange(input.Price) {
		fields.Add("price", "is out of range")
	}
	if input.CostPrice.Valid && input.CostPrice.Decimal.IsNegative() {
		fields.Add("cost_price", "must not be negative")
	} else if input.CostPrice.Valid && !money.InRange(input.CostPrice.Decimal) {
		fields.Add("cost_price", "is out of range")
	}
	if err := fields.Err(); err != nil {
		return ServiceItem{}, err
	}
	cost := input.CostPrice
	if cost.Valid {
		cost.Decimal = money.Round(cost.Decimal)
	}
	item, err := s.repo.InsertServiceItem(ctx, ServiceItem{
		Code:        code,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Category:    input.Category,
		Price:       money.Round(input.Price),
		CostPrice:   cost,
		Active:      true,
	})
	if err != nil {
		return ServiceItem{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   shared.AuditCreate,
		Entity:   "service_item",
		EntityID: fmt.Sprint(item.ID),
		Message:  fmt.Sprintf("Created service item %s", item.Code),
	})
	return item, nil
}

// GetServiceItem returns a service item.
func (s *Service) GetServiceItem(ctx context.Context, id int64) (ServiceItem, error) {
	return s.repo.GetServiceItem(ctx, id)
}

// ListServiceItems lists service items, optionally active only.
func (s *Service) ListServiceItems(ctx context.Context, activeOnly bool) ([]ServiceItem, error) {
	return s.repo.ListServiceItems(ctx, activeOnly)
}

// UpdateServiceItem changes price and active flag. Nothing else is mutable.
func (s *Service) UpdateServiceItem(ctx context.Context, id int64, upd ServiceItemUpdate, actorID int64) (ServiceItem, error) {
	if upd.Price == nil && upd.Active == nil {
		return ServiceItem{}, shared.FieldErrors{"price": "price or is_active is required"}
	}
	if upd.Price != nil {
		if upd.Price.IsNegative() {
			return ServiceItem{}, shared.FieldErrors{"price": "must not be negative"}
		}
		if !money.InRange(*upd.Price) {
			return ServiceItem{}, shared.FieldErrors{"price": "is out of range"}
		}
		rounded := money.Round(*upd.Price)
		upd.Price = &rounded
	}
	item, err := s.repo.UpdateServiceItem(ctx, id, upd)
	if err != nil {
		return ServiceItem{}, err
	}
	meta := map[string]any{}
	if upd.Price != nil {
		meta["price"] = money.Format(*upd.Price)
	}
	if upd.Active != nil {
		meta["is_active"] = *upd.Active
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   shared.AuditUpdate,
		Entity:   "service_item",
		EntityID: fmt.Sprint(id),
		Message:  fmt.Sprintf("Updated service item %s", item.Code),
		Meta:     meta,
	})
	return item, nil
}

// DeleteServiceItem removes an unreferenced service item.
func (s *Service) DeleteServiceItem(ctx context.Context, id int64, actorID int64) error {
	if err := s.repo.DeleteServiceItem(ctx, id); err != nil {
		return err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   shared.AuditDelete,
		Entity:   "service_item",
		EntityID: fmt.Sprint(id),
		Message:  fmt.Sprintf("Deleted service item %d", id),
	})
	return nil
}

// CreateInventoryItem validates and stores a stock-tracked item.
// Items whose expiry date has already passed are rejected.
func (s *Service) CreateInventoryItem(ctx context.Context, input InventoryItemInput) (InventoryItem, error) {
	fields := shared.FieldErrors{}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		fields.Add("name", "is required")
	}
	if !input.Department.Valid() {
		fields.Add("department", "must be PHARMACY or LAB")
	}
	unit := input.UnitOfMeasure
	if unit == "" {
		unit = UnitPieces
	}
	if !unit.Valid() {
		fields.Add("unit_of_measure", "is invalid")
	}
	if input.CurrentStock < 0 {
		fields.Add("current_stock", "must not be negative")
	}
	minimum := DefaultMinimumStock
	if input.MinimumStock != nil {
		minimum = *input.MinimumStock
	}
	if minimum < 0 {
		fields.Add("minimum_stock", "must not be negative")
	}
	if input.UnitCost.IsNegative() {
		fields.Add("unit_cost", "must not be negative")
	} else if !money.InRange(input.UnitCost) {
		fields.Add("unit_cost", "is out of range")
	}
	if input.SellingPrice.IsNegative() {
		fields.Add("selling_price", "must not be negative")
	} else if !money.InRange(input.SellingPrice) {
		fields.Add("selling_price", "is out of range")
	}
	if input.ExpiryDate != nil && truncateDay(*input.ExpiryDate).Before(truncateDay(s.now())) {
		fields.Add("expiry_date", "cannot be in the past")
	}
	if err := fields.Err(); err != nil {
		return InventoryItem{}, err
	}
	item, err := s.repo.InsertInventoryItem(ctx, InventoryItem{
		ItemCode:      newItemCode(),
		Name:          name,
		Department:    input.Department,
		CurrentStock:  input.CurrentStock,
		MinimumStock:  minimum,
		UnitOfMeasure: unit,
		Manufacturer:  strings.TrimSpace(input.Manufacturer),
		UnitCost:      money.Round(input.UnitCost),
		SellingPrice:  money.Round(input.SellingPrice),
		ExpiryDate:    input.ExpiryDate,
		Locked:        input.Locked,
		Active:        true,
		CreatedBy:     input.ActorID,
	})
	if err != nil {
		return InventoryItem{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   shared.AuditCreate,
		Entity:   "inventory_item",
		EntityID: fmt.Sprint(item.ID),
		Message:  fmt.Sprintf("Created inventory item %s (%s)", item.Name, item.Department),
		Meta:     map[string]any{"item_code": item.ItemCode, "current_stock": item.CurrentStock},
	})
	return item, nil
}

// GetInventoryItem returns an inventory item. Locked items are visible to admins only.
func (s *Service) GetInventoryItem(ctx context.Context, id int64, actor shared.Actor) (InventoryItem, error) {
	item, err := s.repo.GetInventoryItem(ctx, id)
	if err != nil {
		return InventoryItem{}, err
	}
	if item.Locked && !actor.IsAdmin() {
		return InventoryItem{}, fmt.Errorf("%w %d", ErrInventoryItemNotFound, id)
	}
	return item, nil
}

// ListInventoryItems lists items; locked ones only when includeLocked is set.
func (s *Service) ListInventoryItems(ctx context.Context, dept Department, includeLocked bool) ([]InventoryItem, error) {
	if dept != "" && !dept.Valid() {
		return nil, shared.FieldErrors{"department": "must be PHARMACY or LAB"}
	}
	return s.repo.ListInventoryItems(ctx, InventoryFilter{Department: dept, IncludeLocked: includeLocked})
}

// FindInventoryItemByName looks an item up by exact name within a department.
func (s *Service) FindInventoryItemByName(ctx context.Context, name string, dept Department) (InventoryItem, error) {
	return s.repo.FindInventoryItemByName(ctx, name, dept)
}

// InventoryStats aggregates stock health over every item.
func (s *Service) InventoryStats(ctx context.Context) (InventoryStats, error) {
	items, err := s.repo.ListInventoryItems(ctx, InventoryFilter{IncludeLocked: true})
	if err != nil {
		return InventoryStats{}, err
	}
	now := s.now()
	today := truncateDay(now)
	horizon := today.AddDate(0, 0, ExpiringDays)
	stats := InventoryStats{TotalItems: len(items), TotalValue: money.Zero}
	byDept := map[Department]*DepartmentStockValue{}
	for _, item := range items {
		value := item.TotalValue()
		stats.TotalValue = stats.TotalValue.Add(value)
		switch {
		case item.CurrentStock == 0:
			stats.OutOfStock++
		case item.CurrentStock <= item.MinimumStock:
			stats.LowStock++
		}
		if item.ExpiryDate != nil {
			exp := truncateDay(*item.ExpiryDate)
			if !exp.Before(today) && !exp.After(horizon) {
				stats.ExpiringSoon++
			}
		}
		dv, ok := byDept[item.Department]
		if !ok {
			dv = &DepartmentStockValue{Department: item.Department, Value: decimal.Zero}
			byDept[item.Department] = dv
		}
		dv.Count++
		dv.Value = dv.Value.Add(value)
	}
	stats.TotalValue = money.Round(stats.TotalValue)
	for _, dv := range byDept {
		stats.ByDepartment = append(stats.ByDepartment, *dv)
	}
	sort.Slice(stats.ByDepartment, func(i, j int) bool {
		return stats.ByDepartment[i].Department < stats.ByDepartment[j].Department
	})
	return stats, nil
}

// ListLowStock returns active items at or below their minimum stock.
func (s *Service) ListLowStock(ctx context.Context) ([]InventoryItem, error) {
	items, err := s.repo.ListInventoryItems(ctx, InventoryFilter{IncludeLocked: true, ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	low := make([]InventoryItem, 0, len(items))
	for _, item := range items {
		if item.CurrentStock <= item.MinimumStock {
			low = append(low, item)
		}
	}
	return low, nil
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit record failed", slog.String("entity", log.Entity), slog.String("entity_id", log.EntityID), slog.Any("error", err))
	}
}

func newItemCode() string {
	id := uuid.New()
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}
