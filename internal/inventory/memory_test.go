package inventory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/shared"
)

type memoryStore struct {
	mu          sync.Mutex
	items       map[int64]catalog.InventoryItem
	adjustments map[int64]Adjustment
	nextID      int64
	failSetFor  int64
}

type memoryTx struct {
	store *memoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{items: map[int64]catalog.InventoryItem{}, adjustments: map[int64]Adjustment{}}
}

func (s *memoryStore) addItem(name string, dept catalog.Department, stock int) catalog.InventoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item := catalog.InventoryItem{ID: s.nextID, Name: name, Department: dept, CurrentStock: stock, MinimumStock: 10, Active: true}
	s.items[item.ID] = item
	return item
}

func (s *memoryStore) stock(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].CurrentStock
}

// WithTx serialises callers and restores the snapshot when fn fails.
func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := maps.Clone(s.items)
	adjustments := maps.Clone(s.adjustments)
	if err := fn(ctx, &memoryTx{store: s}); err != nil {
		s.items = items
		s.adjustments = adjustments
		return err
	}
	return nil
}

func (s *memoryStore) InsertAdjustment(_ context.Context, adj Adjustment) (Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.adjustments {
		if existing.Code == adj.Code {
			return Adjustment{}, ErrDuplicateAdjustmentCode
		}
	}
	item, ok := s.items[adj.InventoryItemID]
	if !ok {
		return Adjustment{}, catalog.ErrInventoryItemNotFound
	}
	s.nextID++
	adj.ID = s.nextID
	adj.ItemName = item.Name
	adj.CreatedAt = time.Now()
	adj.UpdatedAt = adj.CreatedAt
	s.adjustments[adj.ID] = adj
	return adj, nil
}

func (s *memoryStore) GetAdjustment(_ context.Context, id int64) (Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	adj, ok := s.adjustments[id]
	if !ok {
		return Adjustment{}, fmt.Errorf("%w %d", ErrAdjustmentNotFound, id)
	}
	return adj, nil
}

func (s *memoryStore) ListAdjustments(_ context.Context, status AdjustmentStatus) ([]Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Adjustment{}
	for _, adj := range s.adjustments {
		if status == "" || adj.Status == status {
			out = append(out, adj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memoryStore) GetInventoryItem(_ context.Context, id int64) (catalog.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return catalog.InventoryItem{}, fmt.Errorf("%w %d", catalog.ErrInventoryItemNotFound, id)
	}
	return item, nil
}

func (tx *memoryTx) FindItemByNameForUpdate(_ context.Context, name string, dept catalog.Department) (catalog.InventoryItem, error) {
	var found *catalog.InventoryItem
	for _, item := range tx.store.items {
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
	if tx.store.failSetFor == itemID {
		return fmt.Errorf("disk full")
	}
	if stock < 0 {
		return ErrInsufficientStock
	}
	item, ok := tx.store.items[itemID]
	if !ok {
		return catalog.ErrInventoryItemNotFound
	}
	item.CurrentStock = stock
	tx.store.items[itemID] = item
	return nil
}

func (tx *memoryTx) GetItemForUpdate(_ context.Context, itemID int64) (catalog.InventoryItem, error) {
	item, ok := tx.store.items[itemID]
	if !ok {
		return catalog.InventoryItem{}, fmt.Errorf("%w %d", catalog.ErrInventoryItemNotFound, itemID)
	}
	return item, nil
}

func (tx *memoryTx) GetAdjustmentForUpdate(_ context.Context, id int64) (Adjustment, error) {
	adj, ok := tx.store.adjustments[id]
	if !ok {
		return Adjustment{}, fmt.Errorf("%w %d", ErrAdjustmentNotFound, id)
	}
	return adj, nil
}

func (tx *memoryTx) UpdateAdjustmentStatus(_ context.Context, id int64, status AdjustmentStatus, actorID int64) (Adjustment, error) {
	adj, ok := tx.store.adjustments[id]
	if !ok {
		return Adjustment{}, fmt.Errorf("%w %d", ErrAdjustmentNotFound, id)
	}
	adj.Status = status
	adj.ApprovedBy = actorID
	adj.UpdatedAt = time.Now()
	tx.store.adjustments[id] = adj
	return adj, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingApprovals) List(_ context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []shared.ApprovalLog
	for _, l := range a.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type recordingApprovals struct {
	mu   sync.Mutex
	logs []shared.ApprovalLog
}

func (a *recordingApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type recordingIntegration struct {
	events []StockChangedEvent
}

func (r *recordingIntegration) HandleStockChanged(_ context.Context, evt StockChangedEvent) error {
	r.events = append(r.events, evt)
	return nil
}
