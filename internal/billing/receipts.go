package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/medcare-hms/medcare/internal/money"
	"github.com/medcare-hms/medcare/internal/shared"
)

// issueReceipt creates the receipt for a settled invoice inside tx.
func (s *Service) issueReceipt(ctx context.Context, tx TxRepository, inv Invoice, method PaymentMethod, cashierID int64) (Receipt, error) {
	now := s.now()
	return tx.InsertReceipt(ctx, Receipt{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		ReceiptNumber: s.numbers.ReceiptNumber(),
		Amount:        inv.TotalAmount,
		PaymentMethod: method,
		CashierID:     cashierID,
		IssuedDate:    now,
		CreatedAt:     now,
	})
}

// GetReceipt returns a receipt by id.
func (s *Service) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

// ReprintReceipt marks the receipt printed and bumps its print count.
func (s *Service) ReprintReceipt(ctx context.Context, id int64, actor shared.Actor) (Receipt, error) {
	receipt, err := s.repo.MarkReceiptPrinted(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   shared.AuditReprint,
		Entity:   "receipt",
		EntityID: receipt.ReceiptNumber,
		Message:  fmt.Sprintf("Printed receipt %s (%d)", receipt.ReceiptNumber, receipt.PrintCount),
	})
	return receipt, nil
}

// RenderReceipt formats a receipt with its invoice lines as plain text.
func RenderReceipt(receipt Receipt, detail InvoiceDetail) string {
	p := message.NewPrinter(language.English)
	var b strings.Builder
	p.Fprintf(&b, "RECEIPT %s\n", receipt.ReceiptNumber)
	p.Fprintf(&b, "Invoice: %s\n", detail.InvoiceNumber)
	p.Fprintf(&b, "Issued:  %s\n", receipt.IssuedDate.Format("2006-01-02 15:04"))
	b.WriteString(strings.Repeat("-", 40) + "\n")
	for _, item := range detail.Items {
		p.Fprintf(&b, "%-24s %s x %s\n", truncate(item.Description, 24), item.Quantity.String(), formatAmount(p, item.UnitPrice))
		if item.Discount.IsPositive() {
			p.Fprintf(&b, "%-24s -%s\n", "  discount", formatAmount(p, item.Discount))
		}
		p.Fprintf(&b, "%40s\n", formatAmount(p, item.TotalPrice))
	}
	b.WriteString(strings.Repeat("-", 40) + "\n")
	p.Fprintf(&b, "%-24s %15s\n", "TOTAL", formatAmount(p, receipt.Amount))
	p.Fprintf(&b, "%-24s %15s\n", "Paid by", string(receipt.PaymentMethod))
	if receipt.PrintCount > 0 {
		p.Fprintf(&b, "COPY #%d\n", receipt.PrintCount)
	}
	return b.String()
}

// formatAmount groups the integer part without going through float64.
func formatAmount(p *message.Printer, d decimal.Decimal) string {
	fixed := money.Format(d)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")
	n, err := decimal.NewFromString(whole)
	if err != nil {
		return sign + fixed
	}
	return sign + p.Sprintf("%d", n.IntPart()) + "." + frac
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}
