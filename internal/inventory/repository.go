package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/platform/db"
)

// Repository persists inventory adjustments and stock levels in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	StockTx
	GetItemForUpdate(ctx context.Context, itemID int64) (catalog.InventoryItem, error)
	GetAdjustmentForUpdate(ctx context.Context, id int64) (Adjustment, error)
	UpdateAdjustmentStatus(ctx context.Context, id int64, status AdjustmentStatus, actorID int64) (Adjustment, error)
}

type stockTx struct {
	tx pgx.Tx
}

// NewStockTx binds stock operations to an open transaction owned by the caller.
func NewStockTx(tx pgx.Tx) StockTx {
	return &stockTx{tx: tx}
}

type txRepository struct {
	stockTx
}

const adjustmentColumns = `a.id, a.ref_id, a.adjustment_code, a.inventory_item_id, i.name, COALESCE(a.batch_number, ''), a.quantity,
a.adjustment_type, a.reason, a.status, COALESCE(a.created_by, 0), COALESCE(a.approved_by, 0), a.created_at, a.updated_at`

func scanAdjustment(row pgx.Row) (Adjustment, error) {
	var adj Adjustment
	var typ, status string
	err := row.Scan(&adj.ID, &adj.RefID, &adj.Code, &adj.InventoryItemID, &adj.ItemName, &adj.BatchNumber, &adj.Quantity,
		&typ, &adj.Reason, &status, &adj.CreatedBy, &adj.ApprovedBy, &adj.CreatedAt, &adj.UpdatedAt)
	adj.Type = AdjustmentType(typ)
	adj.Status = AdjustmentStatus(status)
	return adj, err
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{stockTx: stockTx{tx: tx}})
	})
}

// InsertAdjustment stores a new pending adjustment.
func (r *Repository) InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO inventory_adjustments (ref_id, adjustment_code, inventory_item_id, batch_number, quantity,
adjustment_type, reason, status, created_by, created_at, updated_at)
VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,NULLIF($9,0),NOW(),NOW()) RETURNING id`,
		adj.RefID, adj.Code, adj.InventoryItemID, adj.BatchNumber, adj.Quantity, string(adj.Type), adj.Reason, string(adj.Status), adj.CreatedBy).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Adjustment{}, fmt.Errorf("%w: %s", ErrDuplicateAdjustmentCode, adj.Code)
		}
		if db.IsForeignKeyViolation(err) {
			return Adjustment{}, fmt.Errorf("%w %d", catalog.ErrInventoryItemNotFound, adj.InventoryItemID)
		}
		return Adjustment{}, err
	}
	return r.GetAdjustment(ctx, id)
}

// GetAdjustment loads one adjustment.
func (r *Repository) GetAdjustment(ctx context.Context, id int64) (Adjustment, error) {
	adj, err := scanAdjustment(r.pool.QueryRow(ctx, `SELECT `+adjustmentColumns+`
FROM inventory_adjustments a JOIN inventory_items i ON i.id = a.inventory_item_id WHERE a.id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Adjustment{}, fmt.Errorf("%w %d", ErrAdjustmentNotFound, id)
		}
		return Adjustment{}, err
	}
	return adj, nil
}

// ListAdjustments lists adjustments, newest first, optionally by status.
func (r *Repository) ListAdjustments(ctx context.Context, status AdjustmentStatus) ([]Adjustment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+adjustmentColumns+`
FROM inventory_adjustments a JOIN inventory_items i ON i.id = a.inventory_item_id
WHERE ($1 = '' OR a.status = $1) ORDER BY a.created_at DESC, a.id DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	adjustments := []Adjustment{}
	for rows.Next() {
		adj, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}

func (s *stockTx) FindItemByNameForUpdate(ctx context.Context, name string, dept catalog.Department) (catalog.InventoryItem, error) {
	item, err := catalog.ScanInventoryItem(s.tx.QueryRow(ctx, `SELECT `+catalog.InventoryItemColumns+` FROM inventory_items
WHERE name=$1 AND department=$2 ORDER BY id LIMIT 1 FOR UPDATE`, name, string(dept)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.InventoryItem{}, fmt.Errorf("%w %q", catalog.ErrInventoryItemNotFound, name)
		}
		return catalog.InventoryItem{}, err
	}
	return item, nil
}

func (s *stockTx) SetItemStock(ctx context.Context, itemID int64, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: stock for item %d would be negative", ErrInsufficientStock, itemID)
	}
	tag, err := s.tx.Exec(ctx, `UPDATE inventory_items SET current_stock=$2, updated_at=NOW() WHERE id=$1`, itemID, stock)
	if err != nil {
		if db.IsCheckViolation(err) {
			return fmt.Errorf("%w: item %d", ErrInsufficientStock, itemID)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w %d", catalog.ErrInventoryItemNotFound, itemID)
	}
	return nil
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, itemID int64) (catalog.InventoryItem, error) {
	item, err := catalog.ScanInventoryItem(r.tx.QueryRow(ctx, `SELECT `+catalog.InventoryItemColumns+` FROM inventory_items WHERE id=$1 FOR UPDATE`, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.InventoryItem{}, fmt.Errorf("%w %d", catalog.ErrInventoryItemNotFound, itemID)
		}
		return catalog.InventoryItem{}, err
	}
	return item, nil
}

func (r *txRepository) GetAdjustmentForUpdate(ctx context.Context, id int64) (Adjustment, error) {
	adj, err := scanAdjustment(r.tx.QueryRow(ctx, `SELECT `+adjustmentColumns+`
FROM inventory_adjustments a JOIN inventory_items i ON i.id = a.inventory_item_id WHERE a.id=$1 FOR UPDATE OF a`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Adjustment{}, fmt.Errorf("%w %d", ErrAdjustmentNotFound, id)
		}
		return Adjustment{}, err
	}
	return adj, nil
}

func (r *txRepository) UpdateAdjustmentStatus(ctx context.Context, id int64, status AdjustmentStatus, actorID int64) (Adjustment, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_adjustments SET status=$2, approved_by=NULLIF($3,0), updated_at=NOW() WHERE id=$1`, id, string(status), actorID)
	if err != nil {
		return Adjustment{}, err
	}
	if tag.RowsAffected() == 0 {
		return Adjustment{}, fmt.Errorf("%w %d", ErrAdjustmentNotFound, id)
	}
	return scanAdjustment(r.tx.QueryRow(ctx, `SELECT `+adjustmentColumns+`
FROM inventory_adjustments a JOIN inventory_items i ON i.id = a.inventory_item_id WHERE a.id=$1`, id))
}
