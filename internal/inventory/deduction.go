package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/shared"
)

// StockTx is the part of an open transaction that reads and writes stock.
// Implementations must lock the rows they return until the transaction ends.
type StockTx interface {
	FindItemByNameForUpdate(ctx context.Context, name string, dept catalog.Department) (catalog.InventoryItem, error)
	SetItemStock(ctx context.Context, itemID int64, stock int) error
}

// Deductor decrements inventory for completed sales.
type Deductor struct {
	department catalog.Department
}

// NewDeductor builds a Deductor that matches lines against pharmacy stock.
func NewDeductor() *Deductor {
	return &Deductor{department: catalog.DepartmentPharmacy}
}

// DeductForSale consumes stock for every sale line whose description exactly
// names an inventory item. Lines with no match or a zero whole quantity are
// skipped. A shortfall fails with ErrInsufficientStock and the caller must roll
// the transaction back.
func (d *Deductor) DeductForSale(ctx context.Context, tx StockTx, sale Sale) ([]Deduction, error) {
	lines := make([]SaleLine, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		if strings.TrimSpace(line.Description) == "" || line.Quantity.IntPart() <= 0 {
			continue
		}
		lines = append(lines, line)
	}
	// Lock rows in a stable order so concurrent sales cannot deadlock.
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Description < lines[j].Description })

	deductions := make([]Deduction, 0, len(lines))
	for _, line := range lines {
		qty := int(line.Quantity.IntPart())
		item, err := tx.FindItemByNameForUpdate(ctx, line.Description, d.department)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("inventory: lookup %q: %w", line.Description, err)
		}
		if item.CurrentStock < qty {
			return nil, fmt.Errorf("%w: %s has %d, invoice %s needs %d", ErrInsufficientStock, item.Name, item.CurrentStock, sale.InvoiceNumber, qty)
		}
		remaining := item.CurrentStock - qty
		if err := tx.SetItemStock(ctx, item.ID, remaining); err != nil {
			return nil, fmt.Errorf("inventory: set stock for item %d: %w", item.ID, err)
		}
		deductions = append(deductions, Deduction{
			ItemID:        item.ID,
			Name:          item.Name,
			Quantity:      qty,
			Remaining:     remaining,
			InvoiceNumber: sale.InvoiceNumber,
		})
	}
	return deductions, nil
}
