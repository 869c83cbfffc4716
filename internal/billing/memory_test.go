package billing

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/inventory"
	"github.com/medcare-hms/medcare/internal/shared"
)

type memoryStore struct {
	mu         sync.Mutex
	invoices   map[int64]Invoice
	items      map[int64][]InvoiceItem
	payments   map[int64][]Payment
	receipts   map[int64]Receipt
	stock      map[int64]catalog.InventoryItem
	nextID     int64
	statsHits  int
	statsDelay time.Duration
	// lockedReads counts invoice reads made through GetInvoiceForUpdate.
	lockedReads int
}

type memoryTx struct {
	store *memoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		invoices: map[int64]Invoice{},
		items:    map[int64][]InvoiceItem{},
		payments: map[int64][]Payment{},
		receipts: map[int64]Receipt{},
		stock:    map[int64]catalog.InventoryItem{},
	}
}

func (s *memoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memoryStore) addStock(name string, dept catalog.Department, qty int) catalog.InventoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := catalog.InventoryItem{ID: s.id(), Name: name, Department: dept, CurrentStock: qty, Active: true}
	s.stock[item.ID] = item
	return item
}

func (s *memoryStore) stockOf(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[id].CurrentStock
}

func (s *memoryStore) invoice(id int64) Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoices[id]
}

func (s *memoryStore) receiptCount(invoiceID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.receipts {
		if r.InvoiceID == invoiceID {
			n++
		}
	}
	return n
}

// WithTx serialises callers and restores the snapshot when fn fails.
func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoices := maps.Clone(s.invoices)
	items := maps.Clone(s.items)
	payments := maps.Clone(s.payments)
	receipts := maps.Clone(s.receipts)
	stock := maps.Clone(s.stock)
	nextID := s.nextID
	if err := fn(ctx, &memoryTx{store: s}); err != nil {
		s.invoices, s.items, s.payments, s.receipts, s.stock, s.nextID = invoices, items, payments, receipts, stock, nextID
		return err
	}
	return nil
}

func (s *memoryStore) InsertInvoice(_ context.Context, inv Invoice) (Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.invoices {
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return Invoice{}, ErrDuplicateNumber
		}
	}
	inv.ID = s.id()
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	s.invoices[inv.ID] = inv
	return inv, nil
}

func (s *memoryStore) InvoiceNumberExists(_ context.Context, number string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invoices {
		if inv.InvoiceNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) GetInvoice(_ context.Context, id int64) (Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return Invoice{}, fmt.Errorf("%w %d", ErrInvoiceNotFound, id)
	}
	return inv, nil
}

func (s *memoryStore) ListInvoiceItems(_ context.Context, invoiceID int64) ([]InvoiceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items[invoiceID]), nil
}

func (s *memoryStore) ListPayments(_ context.Context, invoiceID int64) ([]Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.payments[invoiceID]), nil
}

func (s *memoryStore) ListReceipts(_ context.Context, invoiceID int64) ([]Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Receipt{}
	for _, r := range s.receipts {
		if r.InvoiceID == invoiceID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) ListInvoices(_ context.Context, filter InvoiceFilter) ([]Invoice, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := []Invoice{}
	for _, inv := range s.invoices {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.PatientID > 0 && (inv.PatientID == nil || *inv.PatientID != filter.PatientID) {
			continue
		}
		matched = append(matched, inv)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	start := min(filter.Offset, total)
	end := min(start+filter.Limit, total)
	return matched[start:end], total, nil
}

func (s *memoryStore) ListPendingInvoices(_ context.Context) ([]Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Invoice{}
	for _, inv := range s.invoices {
		if inv.Status == StatusPending || inv.Status == StatusPartiallyPaid {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) GetReceipt(_ context.Context, id int64) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return Receipt{}, fmt.Errorf("%w %d", ErrReceiptNotFound, id)
	}
	return r, nil
}

func (s *memoryStore) MarkReceiptPrinted(_ context.Context, id int64) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return Receipt{}, fmt.Errorf("%w %d", ErrReceiptNotFound, id)
	}
	r.Printed = true
	r.PrintCount++
	s.receipts[id] = r
	return r, nil
}

func (s *memoryStore) Stats(_ context.Context, window StatsWindow) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsHits++
	time.Sleep(s.statsDelay)
	stats := Stats{ByStatus: map[Status]int{}, ByPaymentMethod: map[PaymentMethod]int{}}
	stats.Today.TotalRevenue = decimal.Zero
	stats.Month.TotalRevenue = decimal.Zero
	inWindow := func(t, from, to time.Time) bool { return !t.Before(from) && t.Before(to) }
	for _, inv := range s.invoices {
		open := inv.Status == StatusPending || inv.Status == StatusPartiallyPaid
		if inWindow(inv.InvoiceDate, window.DayStart, window.DayEnd) {
			stats.Today.TotalInvoices++
			if open {
				stats.Today.PendingInvoices++
			}
		}
		if inWindow(inv.InvoiceDate, window.MonthStart, window.MonthEnd) {
			stats.Month.TotalInvoices++
			if open {
				stats.Month.PendingInvoices++
			}
		}
		stats.ByStatus[inv.Status]++
		if inv.PaymentMethod != "" {
			stats.ByPaymentMethod[inv.PaymentMethod]++
		}
	}
	for _, ps := range s.payments {
		for _, p := range ps {
			if inWindow(p.PaymentDate, window.DayStart, window.DayEnd) {
				stats.Today.TotalRevenue = stats.Today.TotalRevenue.Add(p.Amount)
			}
			if inWindow(p.PaymentDate, window.MonthStart, window.MonthEnd) {
				stats.Month.TotalRevenue = stats.Month.TotalRevenue.Add(p.Amount)
			}
		}
	}
	return stats, nil
}

func (tx *memoryTx) GetInvoiceForUpdate(_ context.Context, id int64) (Invoice, error) {
	tx.store.lockedReads++
	inv, ok := tx.store.invoices[id]
	if !ok {
		return Invoice{}, fmt.Errorf("%w %d", ErrInvoiceNotFound, id)
	}
	return inv, nil
}

func (tx *memoryTx) ListInvoiceItems(_ context.Context, invoiceID int64) ([]InvoiceItem, error) {
	return slices.Clone(tx.store.items[invoiceID]), nil
}

func (tx *memoryTx) ListPayments(_ context.Context, invoiceID int64) ([]Payment, error) {
	return slices.Clone(tx.store.payments[invoiceID]), nil
}

func (tx *memoryTx) InsertInvoiceItem(_ context.Context, item InvoiceItem) (InvoiceItem, error) {
	item.ID = tx.store.id()
	tx.store.items[item.InvoiceID] = append(slices.Clone(tx.store.items[item.InvoiceID]), item)
	return item, nil
}

func (tx *memoryTx) InsertPayment(_ context.Context, p Payment) (Payment, error) {
	p.ID = tx.store.id()
	tx.store.payments[p.InvoiceID] = append(slices.Clone(tx.store.payments[p.InvoiceID]), p)
	return p, nil
}

func (tx *memoryTx) InsertReceipt(_ context.Context, r Receipt) (Receipt, error) {
	for _, existing := range tx.store.receipts {
		if existing.ReceiptNumber == r.ReceiptNumber {
			return Receipt{}, ErrDuplicateNumber
		}
	}
	r.ID = tx.store.id()
	tx.store.receipts[r.ID] = r
	return r, nil
}

func (tx *memoryTx) SaveInvoiceState(_ context.Context, inv Invoice) (Invoice, error) {
	if _, ok := tx.store.invoices[inv.ID]; !ok {
		return Invoice{}, fmt.Errorf("%w %d", ErrInvoiceNotFound, inv.ID)
	}
	inv.UpdatedAt = time.Now()
	tx.store.invoices[inv.ID] = inv
	return inv, nil
}

func (tx *memoryTx) FindItemByNameForUpdate(_ context.Context, name string, dept catalog.Department) (catalog.InventoryItem, error) {
	var found *catalog.InventoryItem
	for _, item := range tx.store.stock {
		if item.Name == name && item.Department == dept && (found == nil || item.ID < found.ID) {
			it := item
			found = &it
		}
	}
	if found == nil {
		return catalog.InventoryItem{}, fmt.Errorf("%w %q", catalog.ErrInventoryItemNotFound, name)
	}
	return *found, nil
}

func (tx *memoryTx) SetItemStock(_ context.Context, itemID int64, stock int) error {
	if stock < 0 {
		return inventory.ErrInsufficientStock
	}
	item, ok := tx.store.stock[itemID]
	if !ok {
		return catalog.ErrInventoryItemNotFound
	}
	item.CurrentStock = stock
	tx.store.stock[itemID] = item
	return nil
}

type memoryCatalog struct {
	items map[int64]catalog.ServiceItem
}

func (c *memoryCatalog) GetServiceItem(_ context.Context, id int64) (catalog.ServiceItem, error) {
	item, ok := c.items[id]
	if !ok {
		return catalog.ServiceItem{}, fmt.Errorf("%w %d", catalog.ErrServiceItemNotFound, id)
	}
	return item, nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]struct{}{}
	}
	k := module + "/" + key
	if _, ok := m.keys[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[k] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	fail error
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) entities() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Entity)
	}
	return out
}

type recordingIntegration struct {
	mu     sync.Mutex
	events []inventory.StockChangedEvent
}

func (r *recordingIntegration) HandleStockChanged(_ context.Context, evt inventory.StockChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}
