package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcare-hms/medcare/internal/platform/db"
)

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const serviceItemColumns = `id, code, name, description, category, price, cost_price, is_active, created_at, updated_at`

const inventoryItemColumns = `id, item_code, name, department, current_stock, minimum_stock, unit_of_measure,
COALESCE(manufacturer, ''), unit_cost, selling_price, expiry_date, is_locked, is_active, COALESCE(created_by, 0), created_at, updated_at`

// InventoryItemColumns is the select list understood by ScanInventoryItem.
const InventoryItemColumns = inventoryItemColumns

func scanServiceItem(row pgx.Row) (ServiceItem, error) {
	var item ServiceItem
	var category string
	err := row.Scan(&item.ID, &item.Code, &item.Name, &item.Description, &category, &item.Price, &item.CostPrice,
		&item.Active, &item.CreatedAt, &item.UpdatedAt)
	item.Category = Category(category)
	return item, err
}

// ScanInventoryItem reads a row selected with InventoryItemColumns.
func ScanInventoryItem(row pgx.Row) (InventoryItem, error) {
	var item InventoryItem
	var dept, unit string
	err := row.Scan(&item.ID, &item.ItemCode, &item.Name, &dept, &item.CurrentStock, &item.MinimumStock, &unit,
		&item.Manufacturer, &item.UnitCost, &item.SellingPrice, &item.ExpiryDate, &item.Locked, &item.Active,
		&item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	item.Department = Department(dept)
	item.UnitOfMeasure = Unit(unit)
	return item, err
}

// InsertServiceItem stores a new service item.
func (r *Repository) InsertServiceItem(ctx context.Context, item ServiceItem) (ServiceItem, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO service_items (code, name, description, category, price, cost_price, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING `+serviceItemColumns,
		item.Code, item.Name, item.Description, string(item.Category), item.Price, item.CostPrice, item.Active)
	created, err := scanServiceItem(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ServiceItem{}, fmt.Errorf("%w: %s", ErrDuplicateCode, item.Code)
		}
		return ServiceItem{}, err
	}
	return created, nil
}

// GetServiceItem loads a service item by id.
func (r *Repository) GetServiceItem(ctx context.Context, id int64) (ServiceItem, error) {
	item, err := scanServiceItem(r.pool.QueryRow(ctx, `SELECT `+serviceItemColumns+` FROM service_items WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServiceItem{}, fmt.Errorf("%w %d", ErrServiceItemNotFound, id)
		}
		return ServiceItem{}, err
	}
	return item, nil
}

// ListServiceItems returns service items ordered by category and name.
func (r *Repository) ListServiceItems(ctx context.Context, activeOnly bool) ([]ServiceItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+serviceItemColumns+` FROM service_items
WHERE ($1 = false OR is_active) ORDER BY category, name`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []ServiceItem{}
	for rows.Next() {
		item, err := scanServiceItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateServiceItem changes price and/or active flag.
func (r *Repository) UpdateServiceItem(ctx context.Context, id int64, upd ServiceItemUpdate) (ServiceItem, error) {
	sets := []string{"updated_at=NOW()"}
	args := []any{id}
	if upd.Price != nil {
		args = append(args, *upd.Price)
		sets = append(sets, fmt.Sprintf("price=$%d", len(args)))
	}
	if upd.Active != nil {
		args = append(args, *upd.Active)
		sets = append(sets, fmt.Sprintf("is_active=$%d", len(args)))
	}
	row := r.pool.QueryRow(ctx, `UPDATE service_items SET `+strings.Join(sets, ", ")+` WHERE id=$1 RETURNING `+serviceItemColumns, args...)
	item, err := scanServiceItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ServiceItem{}, fmt.Errorf("%w %d", ErrServiceItemNotFound, id)
		}
		return ServiceItem{}, err
	}
	return item, nil
}

// DeleteServiceItem removes a service item no invoice line references.
func (r *Repository) DeleteServiceItem(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM service_items WHERE id=$1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrServiceItemInUse
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w %d", ErrServiceItemNotFound, id)
	}
	return nil
}

// InsertInventoryItem stores a new inventory item.
func (r *Repository) InsertInventoryItem(ctx context.Context, item InventoryItem) (InventoryItem, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO inventory_items (item_code, name, department, current_stock, minimum_stock, unit_of_measure,
manufacturer, unit_cost, selling_price, expiry_date, is_locked, is_active, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9,$10,$11,$12,NULLIF($13,0),NOW(),NOW()) RETURNING `+inventoryItemColumns,
		item.ItemCode, item.Name, string(item.Department), item.CurrentStock, item.MinimumStock, string(item.UnitOfMeasure),
		item.Manufacturer, item.UnitCost, item.SellingPrice, item.ExpiryDate, item.Locked, item.Active, item.CreatedBy)
	created, err := ScanInventoryItem(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return InventoryItem{}, fmt.Errorf("%w: %s", ErrDuplicateCode, item.ItemCode)
		}
		return InventoryItem{}, err
	}
	return created, nil
}

// GetInventoryItem loads an inventory item by id.
func (r *Repository) GetInventoryItem(ctx context.Context, id int64) (InventoryItem, error) {
	item, err := ScanInventoryItem(r.pool.QueryRow(ctx, `SELECT `+inventoryItemColumns+` FROM inventory_items WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InventoryItem{}, fmt.Errorf("%w %d", ErrInventoryItemNotFound, id)
		}
		return InventoryItem{}, err
	}
	return item, nil
}

// ListInventoryItems returns inventory items ordered by name.
func (r *Repository) ListInventoryItems(ctx context.Context, filter InventoryFilter) ([]InventoryItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+inventoryItemColumns+` FROM inventory_items
WHERE ($1 = '' OR department = $1) AND ($2 OR NOT is_locked) AND ($3 = false OR is_active)
ORDER BY name, id`, string(filter.Department), filter.IncludeLocked, filter.ActiveOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []InventoryItem{}
	for rows.Next() {
		item, err := ScanInventoryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// FindInventoryItemByName returns the first item with the exact name in the department.
func (r *Repository) FindInventoryItemByName(ctx context.Context, name string, dept Department) (InventoryItem, error) {
	item, err := ScanInventoryItem(r.pool.QueryRow(ctx, `SELECT `+inventoryItemColumns+` FROM inventory_items
WHERE name=$1 AND department=$2 ORDER BY id LIMIT 1`, name, string(dept)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InventoryItem{}, fmt.Errorf("%w %q", ErrInventoryItemNotFound, name)
		}
		return InventoryItem{}, err
	}
	return item, nil
}
