package catalog

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medcare-hms/medcare/internal/shared"
)

// Category groups billable service items.
type Category string

const (
	CategoryConsultation Category = "Consultation"
	CategoryLaboratory   Category = "Laboratory"
	CategoryPharmacy     Category = "Pharmacy"
	CategoryProcedure    Category = "Procedure"
	CategoryRadiology    Category = "Radiology"
	CategoryTherapy      Category = "Therapy"
	CategoryOther        Category = "Other"
)

// Valid reports whether the category is known.
func (c Category) Valid() bool {
	switch c {
	case CategoryConsultation, CategoryLaboratory, CategoryPharmacy, CategoryProcedure,
		CategoryRadiology, CategoryTherapy, CategoryOther:
		return true
	}
	return false
}

// Department owns a stock-tracked inventory item.
type Department string

const (
	DepartmentPharmacy Department = "PHARMACY"
	DepartmentLab      Department = "LAB"
)

// Valid reports whether the department is known.
func (d Department) Valid() bool {
	return d == DepartmentPharmacy || d == DepartmentLab
}

// Unit is the unit of measure an item is counted in.
type Unit string

const (
	UnitPieces      Unit = "PCS"
	UnitBoxes       Unit = "BOX"
	UnitBottles     Unit = "BTL"
	UnitKits        Unit = "KIT"
	UnitTablets     Unit = "TAB"
	UnitCapsules    Unit = "CAP"
	UnitMilliliters Unit = "ML"
	UnitGrams       Unit = "GM"
	UnitTests       Unit = "TEST"
)

// Valid reports whether the unit is known.
func (u Unit) Valid() bool {
	switch u {
	case UnitPieces, UnitBoxes, UnitBottles, UnitKits, UnitTablets, UnitCapsules,
		UnitMilliliters, UnitGrams, UnitTests:
		return true
	}
	return false
}

// StockStatus summarises an inventory item's stock and expiry state.
type StockStatus string

const (
	StockExpired      StockStatus = "EXPIRED"
	StockOut          StockStatus = "OUT_OF_STOCK"
	StockLow          StockStatus = "LOW_STOCK"
	StockExpiringSoon StockStatus = "EXPIRING_SOON"
	StockGood         StockStatus = "GOOD"
)

// ExpiringDays is how many days ahead an expiry date counts as "soon".
const ExpiringDays = 30

// DefaultMinimumStock applies when an item is created without a threshold.
const DefaultMinimumStock = 10

// ServiceItem is a billable catalog entry.
type ServiceItem struct {
	ID          int64               `json:"id"`
	Code        string              `json:"code"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Category    Category            `json:"category"`
	Price       decimal.Decimal     `json:"price"`
	CostPrice   decimal.NullDecimal `json:"cost_price"`
	Active      bool                `json:"is_active"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// InventoryItem is a stock-tracked product held by a department.
type InventoryItem struct {
	ID            int64           `json:"id"`
	ItemCode      string          `json:"item_id"`
	Name          string          `json:"name"`
	Department    Department      `json:"department"`
	CurrentStock  int             `json:"current_stock"`
	MinimumStock  int             `json:"minimum_stock"`
	UnitOfMeasure Unit            `json:"unit_of_measure"`
	Manufacturer  string          `json:"manufacturer,omitempty"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	Locked        bool            `json:"is_locked"`
	Active        bool            `json:"is_active"`
	CreatedBy     int64           `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// StockStatusAt evaluates the item's status on the given day.
// Expiry is checked first, then stock levels, then the expiring window.
func (i InventoryItem) StockStatusAt(now time.Time) StockStatus {
	today := truncateDay(now)
	if i.ExpiryDate != nil && truncateDay(*i.ExpiryDate).Before(today) {
		return StockExpired
	}
	switch {
	case i.CurrentStock == 0:
		return StockOut
	case i.CurrentStock <= i.MinimumStock:
		return StockLow
	}
	if i.ExpiryDate != nil && !truncateDay(*i.ExpiryDate).After(today.AddDate(0, 0, ExpiringDays)) {
		return StockExpiringSoon
	}
	return StockGood
}

// TotalValue is current stock priced at the selling price.
func (i InventoryItem) TotalValue() decimal.Decimal {
	return i.SellingPrice.Mul(decimal.NewFromInt(int64(i.CurrentStock))).Round(2)
}

// InventoryFilter narrows inventory listings.
type InventoryFilter struct {
	Department    Department
	IncludeLocked bool
	ActiveOnly    bool
}

// ServiceItemInput carries the fields needed to create a service item.
type ServiceItemInput struct {
	Code        string
	Name        string
	Description string
	Category    Category
	Price       decimal.Decimal
	CostPrice   decimal.NullDecimal
}

// ServiceItemUpdate lists the only fields staff may change after creation.
type ServiceItemUpdate struct {
	Price  *decimal.Decimal
	Active *bool
}

// InventoryItemInput carries the fields needed to create an inventory item.
type InventoryItemInput struct {
	Name          string
	Department    Department
	CurrentStock  int
	MinimumStock  *int
	UnitOfMeasure Unit
	Manufacturer  string
	UnitCost      decimal.Decimal
	SellingPrice  decimal.Decimal
	ExpiryDate    *time.Time
	Locked        bool
	ActorID       int64
}

// InventoryStats aggregates stock health.
type InventoryStats struct {
	TotalItems   int                    `json:"total_items"`
	TotalValue   decimal.Decimal        `json:"total_value"`
	LowStock     int                    `json:"low_stock"`
	OutOfStock   int                    `json:"out_of_stock"`
	ExpiringSoon int                    `json:"expiring_soon"`
	ByDepartment []DepartmentStockValue `json:"by_department"`
}

// DepartmentStockValue is the per-department slice of InventoryStats.
type DepartmentStockValue struct {
	Department Department      `json:"department"`
	Count      int             `json:"count"`
	Value      decimal.Decimal `json:"value"`
}

var (
	// ErrServiceItemNotFound indicates a missing service item.
	ErrServiceItemNotFound = fmt.Errorf("%w: service item", shared.ErrNotFound)
	// ErrInventoryItemNotFound indicates a missing inventory item.
	ErrInventoryItemNotFound = fmt.Errorf("%w: inventory item", shared.ErrNotFound)
	// ErrServiceItemInUse indicates a service item still referenced by invoice lines.
	ErrServiceItemInUse = fmt.Errorf("%w: service item is referenced by invoice items", shared.ErrConflict)
	// ErrDuplicateCode indicates a unique code already taken.
	ErrDuplicateCode = fmt.Errorf("%w: code already exists", shared.ErrConflict)
)

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
