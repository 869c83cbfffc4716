package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medcare-hms/medcare/internal/catalog"
	"github.com/medcare-hms/medcare/internal/inventory"
	"github.com/medcare-hms/medcare/internal/money"
	"github.com/medcare-hms/medcare/internal/platform/db"
)

// Repository persists the invoice ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	inventory.StockTx
	tx pgx.Tx
}

const invoiceColumns = `id, invoice_number, patient_id, COALESCE(walkin_id, ''), visit_id, status, total_amount, amount_paid, balance,
COALESCE(payment_method, ''), COALESCE(insurance_provider, ''), COALESCE(insurance_claim_id, ''), invoice_date, due_date, payment_date,
COALESCE(notes, ''), COALESCE(created_by, 0), created_at, updated_at`

const itemColumns = `id, invoice_id, service_item_id, description, quantity, unit_price, discount, total_price, created_at`

const paymentColumns = `id, invoice_id, amount, payment_method, COALESCE(reference, ''), COALESCE(transaction_id, ''), COALESCE(notes, ''),
COALESCE(received_by, 0), payment_date, created_at`

const receiptColumns = `r.id, r.invoice_id, i.invoice_number, r.receipt_number, r.amount, r.payment_method, COALESCE(r.cashier_id, 0),
r.issued_date, r.printed, r.print_count, COALESCE(r.notes, ''), r.created_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var status, method string
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.PatientID, &inv.WalkinID, &inv.VisitID, &status, &inv.TotalAmount, &inv.AmountPaid,
		&inv.Balance, &method, &inv.InsuranceProvider, &inv.InsuranceClaimID, &inv.InvoiceDate, &inv.DueDate, &inv.PaymentDate,
		&inv.Notes, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	inv.Status = Status(status)
	inv.PaymentMethod = PaymentMethod(method)
	return inv, err
}

func scanItem(row pgx.Row) (InvoiceItem, error) {
	var item InvoiceItem
	err := row.Scan(&item.ID, &item.InvoiceID, &item.ServiceItemID, &item.Description, &item.Quantity, &item.UnitPrice,
		&item.Discount, &item.TotalPrice, &item.CreatedAt)
	return item, err
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var method string
	err := row.Scan(&p.ID, &p.InvoiceID, &p.Amount, &method, &p.Reference, &p.TransactionID, &p.Notes, &p.ReceivedBy,
		&p.PaymentDate, &p.CreatedAt)
	p.PaymentMethod = PaymentMethod(method)
	return p, err
}

func scanReceipt(row pgx.Row) (Receipt, error) {
	var r Receipt
	var method string
	err := row.Scan(&r.ID, &r.InvoiceID, &r.InvoiceNumber, &r.ReceiptNumber, &r.Amount, &method, &r.CashierID,
		&r.IssuedDate, &r.Printed, &r.PrintCount, &r.Notes, &r.CreatedAt)
	r.PaymentMethod = PaymentMethod(method)
	return r, err
}

// collect drains rows with scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// WithTx executes the callback inside a read-committed transaction. Stock
// operations issued through the TxRepository share the transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("billing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{StockTx: inventory.NewStockTx(tx), tx: tx})
	})
}

// InsertInvoice stores a new invoice.
func (r *Repository) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO invoices (invoice_number, patient_id, walkin_id, visit_id, status, total_amount, amount_paid,
balance, insurance_provider, insurance_claim_id, invoice_date, due_date, notes, created_by, created_at, updated_at)
VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,NULLIF($9,''),NULLIF($10,''),$11,$12,NULLIF($13,''),NULLIF($14,0),NOW(),NOW())
RETURNING `+invoiceColumns,
		inv.InvoiceNumber, inv.PatientID, inv.WalkinID, inv.VisitID, string(inv.Status), inv.TotalAmount, inv.AmountPaid, inv.Balance,
		inv.InsuranceProvider, inv.InsuranceClaimID, inv.InvoiceDate, inv.DueDate, inv.Notes, inv.CreatedBy)
	created, err := scanInvoice(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Invoice{}, fmt.Errorf("%w: %s", ErrDuplicateNumber, inv.InvoiceNumber)
		}
		return Invoice{}, err
	}
	return created, nil
}

// InvoiceNumberExists reports whether number is taken.
func (r *Repository) InvoiceNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE invoice_number=$1)`, number).Scan(&exists)
	return exists, err
}

// GetInvoice loads an invoice by id.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, fmt.Errorf("%w %d", ErrInvoiceNotFound, id)
		}
		return Invoice{}, err
	}
	return inv, nil
}

// ListInvoiceItems returns invoice lines in insertion order.
func (r *Repository) ListInvoiceItems(ctx context.Context, invoiceID int64) ([]InvoiceItem, error) {
	return listItems(ctx, r.pool, invoiceID)
}

// ListPayments returns invoice payments in insertion order.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return listPayments(ctx, r.pool, invoiceID)
}

// ListReceipts returns receipts issued for an invoice.
func (r *Repository) ListReceipts(ctx context.Context, invoiceID int64) ([]Receipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM receipts r JOIN invoices i ON i.id = r.invoice_id
WHERE r.invoice_id=$1 ORDER BY r.id`, invoiceID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanReceipt)
}

// ListInvoices returns a filtered page of invoices, newest first, and the total count.
func (r *Repository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error) {
	conds := []string{"1=1"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status=$%d", string(filter.Status))
	}
	if filter.PatientID > 0 {
		add("patient_id=$%d", filter.PatientID)
	}
	if !filter.From.IsZero() {
		add("invoice_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("invoice_date < $%d", filter.To)
	}
	where := strings.Join(conds, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT `+invoiceColumns+` FROM invoices WHERE %s
ORDER BY invoice_date DESC, id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	invoices, err := collect(rows, scanInvoice)
	return invoices, total, err
}

// ListPendingInvoices lists open invoices oldest first.
func (r *Repository) ListPendingInvoices(ctx context.Context) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE status = ANY($1)
ORDER BY invoice_date, id`, []string{string(StatusPending), string(StatusPartiallyPaid)})
	if err != nil {
		return nil, err
	}
	return collect(rows, scanInvoice)
}

// GetReceipt loads a receipt by id.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	receipt, err := scanReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts r JOIN invoices i ON i.id = r.invoice_id
WHERE r.id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, fmt.Errorf("%w %d", ErrReceiptNotFound, id)
		}
		return Receipt{}, err
	}
	return receipt, nil
}

// MarkReceiptPrinted sets printed and increments print_count atomically.
func (r *Repository) MarkReceiptPrinted(ctx context.Context, id int64) (Receipt, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE receipts SET printed=true, print_count=print_count+1 WHERE id=$1`, id)
	if err != nil {
		return Receipt{}, err
	}
	if tag.RowsAffected() == 0 {
		return Receipt{}, fmt.Errorf("%w %d", ErrReceiptNotFound, id)
	}
	return r.GetReceipt(ctx, id)
}

// Stats aggregates the dashboard summary for window.
func (r *Repository) Stats(ctx context.Context, window StatsWindow) (Stats, error) {
	open := []string{string(StatusPending), string(StatusPartiallyPaid)}
	stats := Stats{ByStatus: map[Status]int{}, ByPaymentMethod: map[PaymentMethod]int{}}
	err := r.pool.QueryRow(ctx, `SELECT
COUNT(*) FILTER (WHERE invoice_date >= $1 AND invoice_date < $2),
COUNT(*) FILTER (WHERE invoice_date >= $1 AND invoice_date < $2 AND status = ANY($5)),
COUNT(*) FILTER (WHERE invoice_date >= $3 AND invoice_date < $4),
COUNT(*) FILTER (WHERE invoice_date >= $3 AND invoice_date < $4 AND status = ANY($5))
FROM invoices`, window.DayStart, window.DayEnd, window.MonthStart, window.MonthEnd, open).
		Scan(&stats.Today.TotalInvoices, &stats.Today.PendingInvoices, &stats.Month.TotalInvoices, &stats.Month.PendingInvoices)
	if err != nil {
		return Stats{}, err
	}
	err = r.pool.QueryRow(ctx, `SELECT
COALESCE(SUM(amount) FILTER (WHERE payment_date >= $1 AND payment_date < $2), 0),
COALESCE(SUM(amount) FILTER (WHERE payment_date >= $3 AND payment_date < $4), 0)
FROM payments`, window.DayStart, window.DayEnd, window.MonthStart, window.MonthEnd).
		Scan(&stats.Today.TotalRevenue, &stats.Month.TotalRevenue)
	if err != nil {
		return Stats{}, err
	}
	stats.Today.TotalRevenue = money.Round(stats.Today.TotalRevenue)
	stats.Month.TotalRevenue = money.Round(stats.Month.TotalRevenue)

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM invoices GROUP BY status`)
	if err != nil {
		return Stats{}, err
	}
	if err := scanCounts(rows, func(k string, n int) { stats.ByStatus[Status(k)] = n }); err != nil {
		return Stats{}, err
	}
	rows, err = r.pool.Query(ctx, `SELECT payment_method, COUNT(*) FROM invoices WHERE payment_method IS NOT NULL GROUP BY payment_method`)
	if err != nil {
		return Stats{}, err
	}
	if err := scanCounts(rows, func(k string, n int) { stats.ByPaymentMethod[PaymentMethod(k)] = n }); err != nil {
		return Stats{}, err
	}
	for _, st := range Statuses {
		if _, ok := stats.ByStatus[st]; !ok {
			stats.ByStatus[st] = 0
		}
	}
	for _, m := range PaymentMethods {
		if _, ok := stats.ByPaymentMethod[m]; !ok {
			stats.ByPaymentMethod[m] = 0
		}
	}
	return stats, nil
}

func scanCounts(rows pgx.Rows, set func(string, int)) error {
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		set(key, n)
	}
	return rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listItems(ctx context.Context, q querier, invoiceID int64) ([]InvoiceItem, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanItem)
}

func listPayments(ctx context.Context, q querier, invoiceID int64) ([]Payment, error) {
	rows, err := q.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPayment)
}

// invoiceForUpdateSQL row-locks the invoice until the transaction ends, so
// concurrent payments on one invoice run one after another.
const invoiceForUpdateSQL = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id=$1 FOR UPDATE`

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.tx.QueryRow(ctx, invoiceForUpdateSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, fmt.Errorf("%w %d", ErrInvoiceNotFound, id)
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (r *txRepository) ListInvoiceItems(ctx context.Context, invoiceID int64) ([]InvoiceItem, error) {
	return listItems(ctx, r.tx, invoiceID)
}

func (r *txRepository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return listPayments(ctx, r.tx, invoiceID)
}

func (r *txRepository) InsertInvoiceItem(ctx context.Context, item InvoiceItem) (InvoiceItem, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO invoice_items (invoice_id, service_item_id, description, quantity, unit_price, discount,
total_price, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING `+itemColumns,
		item.InvoiceID, item.ServiceItemID, item.Description, item.Quantity, item.UnitPrice, item.Discount, item.TotalPrice)
	created, err := scanItem(row)
	if err != nil {
		if db.IsForeignKeyViolation(err) && item.ServiceItemID != nil {
			return InvoiceItem{}, fmt.Errorf("%w %d", catalog.ErrServiceItemNotFound, *item.ServiceItemID)
		}
		return InvoiceItem{}, err
	}
	return created, nil
}

func (r *txRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO payments (invoice_id, amount, payment_method, reference, transaction_id, notes, received_by,
payment_date, created_at) VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),NULLIF($7,0),$8,NOW()) RETURNING `+paymentColumns,
		p.InvoiceID, p.Amount, string(p.PaymentMethod), p.Reference, p.TransactionID, p.Notes, p.ReceivedBy, p.PaymentDate)
	return scanPayment(row)
}

func (r *txRepository) InsertReceipt(ctx context.Context, rc Receipt) (Receipt, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO receipts (invoice_id, receipt_number, amount, payment_method, cashier_id, issued_date,
printed, print_count, notes, created_at) VALUES ($1,$2,$3,$4,NULLIF($5,0),$6,false,0,NULLIF($7,''),NOW()) RETURNING id`,
		rc.InvoiceID, rc.ReceiptNumber, rc.Amount, string(rc.PaymentMethod), rc.CashierID, rc.IssuedDate, rc.Notes).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Receipt{}, fmt.Errorf("%w: %s", ErrDuplicateNumber, rc.ReceiptNumber)
		}
		return Receipt{}, err
	}
	return scanReceipt(r.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts r JOIN invoices i ON i.id = r.invoice_id
WHERE r.id=$1`, id))
}

func (r *txRepository) SaveInvoiceState(ctx context.Context, inv Invoice) (Invoice, error) {
	row := r.tx.QueryRow(ctx, `UPDATE invoices SET status=$2, total_amount=$3, amount_paid=$4, balance=$5,
payment_method=NULLIF($6,''), payment_date=$7, updated_at=NOW() WHERE id=$1 RETURNING `+invoiceColumns,
		inv.ID, string(inv.Status), inv.TotalAmount, inv.AmountPaid, inv.Balance, string(inv.PaymentMethod), inv.PaymentDate)
	saved, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, fmt.Errorf("%w %d", ErrInvoiceNotFound, inv.ID)
		}
		return Invoice{}, err
	}
	return saved, nil
}
