package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/medcare-hms/medcare/internal/inventory"
	"github.com/medcare-hms/medcare/internal/money"
	"github.com/medcare-hms/medcare/internal/observability"
	"github.com/medcare-hms/medcare/internal/shared"
)

// PaymentIdempotencyModule scopes Idempotency-Key values for payments.
const PaymentIdempotencyModule = "billing.payment"

// ProcessPayment records a payment against an invoice. The invoice row is
// locked for the whole operation so concurrent payments serialise. When the
// payment settles the invoice a receipt is issued and pharmacy stock is
// deducted in the same transaction.
func (s *Service) ProcessPayment(ctx context.Context, invoiceID int64, input PaymentInput) (result PaymentResult, err error) {
	key := strings.TrimSpace(input.IdempotencyKey)
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, PaymentIdempotencyModule); err != nil {
			s.metrics.ObservePayment(methodLabel(input.PaymentMethod), observability.OutcomeRejected)
			return PaymentResult{}, err
		}
		defer func() {
			if err == nil {
				return
			}
			if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), key, PaymentIdempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key failed", slog.String("key", key), slog.Any("error", delErr))
			}
		}()
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var txErr error
		result, txErr = s.processPaymentTx(ctx, tx, invoiceID, input)
		return txErr
	})
	if err != nil {
		if shared.IsDomainError(err) {
			s.metrics.ObservePayment(methodLabel(input.PaymentMethod), observability.OutcomeRejected)
		}
		return PaymentResult{}, err
	}

	s.metrics.ObservePayment(string(result.Payment.PaymentMethod), observability.OutcomeAccepted)
	s.afterPayment(ctx, input.Actor, result)
	return result, nil
}

func (s *Service) processPaymentTx(ctx context.Context, tx TxRepository, invoiceID int64, input PaymentInput) (PaymentResult, error) {
	inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
	if err != nil {
		return PaymentResult{}, err
	}

	amount, err := money.Parse(input.Amount)
	if err != nil {
		return PaymentResult{}, fmt.Errorf("%w: %w", shared.ErrValidation, err)
	}
	if !amount.IsPositive() {
		return PaymentResult{}, ErrNonPositiveAmount
	}
	if !input.PaymentMethod.Valid() {
		return PaymentResult{}, shared.FieldErrors{"payment_method": fmt.Sprintf("%q is not an accepted method", input.PaymentMethod)}
	}
	if input.Actor.ID == 0 {
		return PaymentResult{}, shared.FieldErrors{"received_by": "is required"}
	}
	if inv.Status.Terminal() {
		return PaymentResult{}, fmt.Errorf("%w: %s is %s", ErrInvoiceClosed, inv.InvoiceNumber, inv.Status)
	}

	items, err := tx.ListInvoiceItems(ctx, inv.ID)
	if err != nil {
		return PaymentResult{}, err
	}
	payments, err := tx.ListPayments(ctx, inv.ID)
	if err != nil {
		return PaymentResult{}, err
	}
	before := RecomputeTotals(items, payments)
	if amount.GreaterThan(before.Balance) {
		return PaymentResult{}, fmt.Errorf("%w: %s requested, %s outstanding", ErrExceedsBalance, money.Format(amount), money.Format(before.Balance))
	}

	now := s.now()
	payment, err := tx.InsertPayment(ctx, Payment{
		InvoiceID:     inv.ID,
		Amount:        amount,
		PaymentMethod: input.PaymentMethod,
		Reference:     strings.TrimSpace(input.Reference),
		TransactionID: strings.TrimSpace(input.TransactionID),
		Notes:         strings.TrimSpace(input.Notes),
		ReceivedBy:    input.Actor.ID,
		PaymentDate:   now,
		CreatedAt:     now,
	})
	if err != nil {
		return PaymentResult{}, err
	}
	payments = append(payments, payment)

	after := RecomputeTotals(items, payments)
	inv.PaymentMethod = input.PaymentMethod
	applyTotals(&inv, after, now)

	result := PaymentResult{Payment: payment}
	if after.Settled() {
		receipt, err := s.issueReceipt(ctx, tx, inv, input.PaymentMethod, input.Actor.ID)
		if err != nil {
			return PaymentResult{}, err
		}
		result.Receipt = &receipt

		deductions, err := s.deductor.DeductForSale(ctx, tx, saleFor(inv, items))
		if err != nil {
			return PaymentResult{}, err
		}
		result.Deductions = deductions
	}

	saved, err := tx.SaveInvoiceState(ctx, inv)
	if err != nil {
		return PaymentResult{}, err
	}
	result.Invoice = saved
	return result, nil
}

func methodLabel(m PaymentMethod) string {
	if !m.Valid() {
		return "invalid"
	}
	return string(m)
}

func saleFor(inv Invoice, items []InvoiceItem) inventory.Sale {
	sale := inventory.Sale{InvoiceNumber: inv.InvoiceNumber, Lines: make([]inventory.SaleLine, 0, len(items))}
	for _, item := range items {
		sale.Lines = append(sale.Lines, inventory.SaleLine{Description: item.Description, Quantity: item.Quantity})
	}
	return sale
}

// afterPayment runs the best-effort side effects of a committed payment.
func (s *Service) afterPayment(ctx context.Context, actor shared.Actor, result PaymentResult) {
	inv := result.Invoice
	s.record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   shared.AuditCreate,
		Entity:   "payment",
		EntityID: fmt.Sprint(result.Payment.ID),
		Message:  fmt.Sprintf("Received %s via %s for invoice %s", money.Format(result.Payment.Amount), result.Payment.PaymentMethod, inv.InvoiceNumber),
		Meta: map[string]any{
			"invoice_number": inv.InvoiceNumber,
			"status":         string(inv.Status),
			"balance":        money.Format(inv.Balance),
		},
	})
	if result.Receipt != nil {
		s.metrics.ObserveReceipt()
		s.record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   shared.AuditCreate,
			Entity:   "receipt",
			EntityID: result.Receipt.ReceiptNumber,
			Message:  fmt.Sprintf("Issued receipt %s for invoice %s", result.Receipt.ReceiptNumber, inv.InvoiceNumber),
		})
	}
	for _, d := range result.Deductions {
		s.metrics.ObserveDeduction(d.Quantity)
		s.record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   shared.AuditDeduct,
			Entity:   "inventory_item",
			EntityID: fmt.Sprint(d.ItemID),
			Message:  fmt.Sprintf("Deducted %d %s for invoice %s", d.Quantity, d.Name, d.InvoiceNumber),
			Meta:     map[string]any{"remaining": d.Remaining},
		})
		s.publishStock(ctx, d)
	}
	s.bumpStats(ctx)
}

func (s *Service) publishStock(ctx context.Context, d inventory.Deduction) {
	if s.integration == nil {
		return
	}
	evt := inventory.StockChangedEvent{
		ItemID:       d.ItemID,
		Name:         d.Name,
		Source:       inventory.SourceSale,
		Reference:    d.InvoiceNumber,
		CurrentStock: d.Remaining,
	}
	if err := s.integration.HandleStockChanged(ctx, evt); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("stock event publish failed", slog.Int64("item_id", d.ItemID), slog.Any("error", err))
	}
}
