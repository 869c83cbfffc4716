package inventory

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medcare-hms/medcare/internal/shared"
)

// AdjustmentType enumerates manual stock corrections.
type AdjustmentType string

const (
	AdjustmentDamaged        AdjustmentType = "Damaged"
	AdjustmentExpired        AdjustmentType = "Expired"
	AdjustmentCustomerReturn AdjustmentType = "Customer Return"
	AdjustmentError          AdjustmentType = "Error"
	AdjustmentLoss           AdjustmentType = "Loss"
	AdjustmentGeneral        AdjustmentType = "Adjustment"
)

// Valid reports whether the type is known.
func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentDamaged, AdjustmentExpired, AdjustmentCustomerReturn, AdjustmentError, AdjustmentLoss, AdjustmentGeneral:
		return true
	}
	return false
}

// Apply returns the stock level after approving an adjustment of qty.
// Reductions floor at zero.
func (t AdjustmentType) Apply(stock, qty int) int {
	switch t {
	case AdjustmentDamaged, AdjustmentExpired, AdjustmentLoss:
		if qty >= stock {
			return 0
		}
		return stock - qty
	case AdjustmentCustomerReturn:
		return stock + qty
	default:
		return stock
	}
}

// AdjustmentStatus tracks the approval workflow.
type AdjustmentStatus string

const (
	StatusPending  AdjustmentStatus = "Pending"
	StatusApproved AdjustmentStatus = "Approved"
	StatusRejected AdjustmentStatus = "Rejected"
	StatusDisposed AdjustmentStatus = "Disposed"
)

// Valid reports whether the status is known.
func (s AdjustmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusDisposed:
		return true
	}
	return false
}

// Adjustment records a requested stock change awaiting or past approval.
type Adjustment struct {
	ID              int64            `json:"id"`
	RefID           uuid.UUID        `json:"ref_id"`
	Code            string           `json:"adjustment_id"`
	InventoryItemID int64            `json:"inventory_item"`
	ItemName        string           `json:"item_name,omitempty"`
	BatchNumber     string           `json:"batch_number,omitempty"`
	Quantity        int              `json:"quantity"`
	Type            AdjustmentType   `json:"adjustment_type"`
	Reason          string           `json:"reason"`
	Status          AdjustmentStatus `json:"status"`
	CreatedBy       int64            `json:"created_by,omitempty"`
	ApprovedBy      int64            `json:"approved_by,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// AdjustmentInput carries a new adjustment request.
type AdjustmentInput struct {
	InventoryItemID int64
	BatchNumber     string
	Quantity        int
	Type            AdjustmentType
	Reason          string
	ActorID         int64
}

// Decision is the outcome of approving, rejecting or disposing an adjustment.
type Decision struct {
	Adjustment    Adjustment `json:"adjustment"`
	PreviousStock int        `json:"previous_stock"`
	CurrentStock  int        `json:"current_stock"`
}

// Sale describes a completed invoice whose lines may consume stock.
type Sale struct {
	InvoiceNumber string
	Lines         []SaleLine
}

// SaleLine is one invoice line considered for deduction.
type SaleLine struct {
	Description string
	Quantity    decimal.Decimal
}

// Deduction records stock consumed by a sale line.
type Deduction struct {
	ItemID        int64  `json:"item_id"`
	Name          string `json:"name"`
	Quantity      int    `json:"quantity"`
	Remaining     int    `json:"remaining"`
	InvoiceNumber string `json:"invoice_number"`
}

var (
	// ErrAdjustmentNotFound indicates a missing adjustment.
	ErrAdjustmentNotFound = fmt.Errorf("%w: inventory adjustment", shared.ErrNotFound)
	// ErrAdjustmentFinal indicates an adjustment that already left Pending.
	ErrAdjustmentFinal = fmt.Errorf("%w: adjustment already processed", shared.ErrConflict)
	// ErrInsufficientStock indicates a sale needing more stock than is on hand.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", shared.ErrValidation)
	// ErrDuplicateAdjustmentCode indicates an adjustment code collision.
	ErrDuplicateAdjustmentCode = fmt.Errorf("%w: adjustment code already exists", shared.ErrConflict)
)
