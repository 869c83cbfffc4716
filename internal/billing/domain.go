package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medcare-hms/medcare/internal/inventory"
	"github.com/medcare-hms/medcare/internal/shared"
)

// Status enumerates invoice statuses.
type Status string

const (
	StatusDraft         Status = "Draft"
	StatusPending       Status = "Pending"
	StatusPartiallyPaid Status = "Partially Paid"
	StatusPaid          Status = "Paid"
	StatusCancelled     Status = "Cancelled"
	StatusRefunded      Status = "Refunded"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusDraft, StatusPending, StatusPartiallyPaid, StatusPaid, StatusCancelled, StatusRefunded}

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether the invoice no longer accepts items or payments.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// PaymentMethod enumerates accepted tenders.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "Cash"
	MethodMobileMoney  PaymentMethod = "Mobile Money"
	MethodCard         PaymentMethod = "Card"
	MethodInsurance    PaymentMethod = "Insurance"
	MethodBankTransfer PaymentMethod = "Bank Transfer"
	MethodOther        PaymentMethod = "Other"
)

// PaymentMethods lists every method in display order.
var PaymentMethods = []PaymentMethod{MethodCash, MethodMobileMoney, MethodCard, MethodInsurance, MethodBankTransfer, MethodOther}

// Valid reports whether the method is known.
func (m PaymentMethod) Valid() bool {
	for _, pm := range PaymentMethods {
		if m == pm {
			return true
		}
	}
	return false
}

// Invoice is the ledger header. Balance is always TotalAmount - AmountPaid.
type Invoice struct {
	ID                int64           `json:"id"`
	InvoiceNumber     string          `json:"invoice_number"`
	PatientID         *int64          `json:"patient,omitempty"`
	WalkinID          string          `json:"walkin_id,omitempty"`
	VisitID           *int64          `json:"visit,omitempty"`
	Status            Status          `json:"status"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	Balance           decimal.Decimal `json:"balance"`
	PaymentMethod     PaymentMethod   `json:"payment_method,omitempty"`
	InsuranceProvider string          `json:"insurance_provider,omitempty"`
	InsuranceClaimID  string          `json:"insurance_claim_id,omitempty"`
	InvoiceDate       time.Time       `json:"invoice_date"`
	DueDate           *time.Time      `json:"due_date,omitempty"`
	PaymentDate       *time.Time      `json:"payment_date,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	CreatedBy         int64           `json:"created_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// InvoiceItem is one billable line.
type InvoiceItem struct {
	ID            int64           `json:"id"`
	InvoiceID     int64           `json:"invoice"`
	ServiceItemID *int64          `json:"service_item,omitempty"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Discount      decimal.Decimal `json:"discount"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Payment is money received against an invoice.
type Payment struct {
	ID            int64           `json:"id"`
	InvoiceID     int64           `json:"invoice"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Reference     string          `json:"reference,omitempty"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	ReceivedBy    int64           `json:"received_by,omitempty"`
	PaymentDate   time.Time       `json:"payment_date"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Receipt is the proof of payment issued when an invoice is settled.
type Receipt struct {
	ID            int64           `json:"id"`
	InvoiceID     int64           `json:"invoice"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	ReceiptNumber string          `json:"receipt_number"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	CashierID     int64           `json:"cashier,omitempty"`
	IssuedDate    time.Time       `json:"issued_date"`
	Printed       bool            `json:"printed"`
	PrintCount    int             `json:"print_count"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// InvoiceDetail bundles an invoice with its children.
type InvoiceDetail struct {
	Invoice
	Items    []InvoiceItem `json:"items"`
	Payments []Payment     `json:"payments"`
	Receipts []Receipt     `json:"receipts"`
}

// CreateInvoiceInput opens a new invoice for a patient or a walk-in.
type CreateInvoiceInput struct {
	PatientID         *int64
	WalkinID          string
	VisitID           *int64
	Draft             bool
	DueDate           *time.Time
	InsuranceProvider string
	InsuranceClaimID  string
	Notes             string
	ActorID           int64
}

// AddLineItemInput describes a new invoice line.
type AddLineItemInput struct {
	ServiceItemID *int64
	Description   string
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	Discount      decimal.Decimal
	ActorID       int64
}

// PaymentInput describes a payment request. Amount is the raw boundary value.
type PaymentInput struct {
	Amount         string
	PaymentMethod  PaymentMethod
	Reference      string
	TransactionID  string
	Notes          string
	IdempotencyKey string
	Actor          shared.Actor
}

// PaymentResult is returned by ProcessPayment.
type PaymentResult struct {
	Payment    Payment               `json:"payment"`
	Invoice    Invoice               `json:"invoice"`
	Receipt    *Receipt              `json:"receipt,omitempty"`
	Deductions []inventory.Deduction `json:"stock_deductions,omitempty"`
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	Status    Status
	PatientID int64
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

var (
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = fmt.Errorf("%w: invoice", shared.ErrNotFound)
	// ErrReceiptNotFound indicates a missing receipt.
	ErrReceiptNotFound = fmt.Errorf("%w: receipt", shared.ErrNotFound)
	// ErrExceedsBalance rejects a payment larger than the outstanding balance.
	ErrExceedsBalance = fmt.Errorf("%w: payment amount exceeds balance", shared.ErrValidation)
	// ErrNonPositiveAmount rejects zero or negative payments.
	ErrNonPositiveAmount = fmt.Errorf("%w: payment amount must be greater than zero", shared.ErrValidation)
	// ErrTotalOutOfRange rejects a line that would push the invoice total past money.Max.
	ErrTotalOutOfRange = fmt.Errorf("%w: invoice total out of range", shared.ErrValidation)
	// ErrInvoiceClosed rejects mutations of cancelled, refunded or settled invoices.
	ErrInvoiceClosed = fmt.Errorf("%w: invoice is closed", shared.ErrConflict)
	// ErrInvoiceHasPayments rejects cancelling an invoice that has received money.
	ErrInvoiceHasPayments = fmt.Errorf("%w: invoice has payments", shared.ErrConflict)
	// ErrDuplicateNumber indicates an invoice or receipt number collision.
	ErrDuplicateNumber = fmt.Errorf("%w: number already issued", shared.ErrConflict)
)
