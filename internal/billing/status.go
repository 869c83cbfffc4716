package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/medcare-hms/medcare/internal/money"
)

// Totals are the derived money fields of an invoice.
type Totals struct {
	Total   decimal.Decimal
	Paid    decimal.Decimal
	Balance decimal.Decimal
}

// Settled reports whether nothing remains to be paid on a non-empty invoice.
func (t Totals) Settled() bool {
	return t.Total.IsPositive() && t.Balance.Sign() <= 0
}

// LineTotal is unit price times quantity less discount, rounded.
func LineTotal(quantity, unitPrice, discount decimal.Decimal) decimal.Decimal {
	return money.Round(unitPrice.Mul(quantity).Sub(discount))
}

// RecomputeTotals re-sums an invoice from its children.
func RecomputeTotals(items []InvoiceItem, payments []Payment) Totals {
	total := money.Zero
	for _, item := range items {
		total = total.Add(item.TotalPrice)
	}
	paid := money.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	total = money.Round(total)
	paid = money.Round(paid)
	return Totals{Total: total, Paid: paid, Balance: total.Sub(paid)}
}

// DeriveStatus computes the status implied by the amounts. Paid wins over
// partially paid; Draft and Cancelled stay put while nothing has been paid.
// The second result reports whether the invoice counts as fully paid.
func DeriveStatus(prior Status, total, paid decimal.Decimal) (Status, bool) {
	switch {
	case total.IsPositive() && paid.GreaterThanOrEqual(total):
		return StatusPaid, true
	case paid.IsPositive():
		return StatusPartiallyPaid, false
	case prior == StatusDraft || prior == StatusCancelled:
		return prior, false
	default:
		return StatusPending, false
	}
}

// applyTotals writes totals and the derived status onto inv. PaymentDate is
// stamped the first time the invoice becomes paid.
func applyTotals(inv *Invoice, totals Totals, now time.Time) {
	inv.TotalAmount = totals.Total
	inv.AmountPaid = totals.Paid
	inv.Balance = totals.Balance
	status, paid := DeriveStatus(inv.Status, totals.Total, totals.Paid)
	inv.Status = status
	if paid && inv.PaymentDate == nil {
		stamped := now
		inv.PaymentDate = &stamped
	}
}
