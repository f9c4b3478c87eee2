package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/aims-checkout/internal/domain/invoice"
)

const (
	insertInvoiceSQL = `INSERT INTO invoices (
			id, subtotal, shipping_fee, rush_surcharge, total_amount,
			delivery_name, delivery_phone, delivery_address, delivery_province, delivery_instructions, rush_order,
			status, attempts, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	updateInvoiceStatusSQL = `UPDATE invoices SET
			status = $3, attempts = $4, failure_reason = $5, timed_out = $6,
			bank_code = $7, bank_tran_no = $8, transaction_no = $9, pay_date = $10, paid_at = $11,
			updated_at = $12
		WHERE id = $1 AND status = $2`

	invoiceExistsSQL = `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`

	getInvoiceSQL = `SELECT
			id, subtotal, shipping_fee, rush_surcharge, total_amount,
			delivery_name, delivery_phone, delivery_address, delivery_province, delivery_instructions, rush_order,
			status, attempts, failure_reason, timed_out,
			bank_code, bank_tran_no, transaction_no, pay_date, paid_at,
			created_at, updated_at
		FROM invoices WHERE id = $1`

	getInvoiceLinesSQL = `SELECT product_id, title, quantity, unit_price
		FROM invoice_lines WHERE invoice_id = $1 ORDER BY position`

	expireAwaitingSQL = `UPDATE invoices SET status = 'REJECTED', failure_reason = $2, timed_out = TRUE, updated_at = now()
		WHERE status = 'AWAITING_CALLBACK' AND updated_at < $1`
)

var _ invoice.Repository = (*InvoiceRepository)(nil)

// InvoiceRepository implements invoice.Repository backed by PostgreSQL.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository returns an InvoiceRepository that uses the given pool.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

// Save inserts the invoice header and its lines in one transaction.
func (r *InvoiceRepository) Save(ctx context.Context, inv *invoice.Invoice) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		d := inv.Delivery
		_, err := tx.Exec(ctx, insertInvoiceSQL,
			inv.ID, inv.Subtotal, inv.ShippingFee, inv.RushSurcharge, inv.TotalAmount,
			d.Name, d.Phone, d.Address, d.Province, d.Instructions, d.RushOrder,
			inv.Status.String(), inv.Attempts, inv.FailureReason, inv.CreatedAt, inv.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting invoice: %w", err)
		}

		rows := make([][]any, len(inv.Lines))
		for i, l := range inv.Lines {
			rows[i] = []any{inv.ID, i, l.ProductID, l.Title, l.Quantity, l.UnitPrice}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"invoice_lines"},
			[]string{"invoice_id", "position", "product_id", "title", "quantity", "unit_price"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("inserting invoice lines: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving invoice %q: %w", inv.ID, err)
	}
	return nil
}

// UpdateStatus writes a state transition if the invoice is still in status
// from. It returns invoice.ErrNotFound when no invoice has the id and
// invoice.ErrStatusConflict when another writer moved it first.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id string, from invoice.Status, u invoice.StatusUpdate) error {
	var paidAt *time.Time
	if !u.Payment.PaidAt.IsZero() {
		paidAt = &u.Payment.PaidAt
	}
	tag, err := r.pool.Exec(ctx, updateInvoiceStatusSQL,
		id, from.String(), u.Status.String(), u.Attempts, u.FailureReason, u.TimedOut,
		u.Payment.BankCode, u.Payment.BankTranNo, u.Payment.TransactionNo, u.Payment.PayDate, paidAt,
		u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating invoice %q: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, invoiceExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking invoice %q: %w", id, err)
	}
	if !exists {
		return invoice.ErrNotFound
	}
	return fmt.Errorf("updating invoice %q from %s: %w", id, from, invoice.ErrStatusConflict)
}

// GetByID loads an invoice with its lines.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*invoice.Invoice, error) {
	rows, err := r.pool.Query(ctx, getInvoiceSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice %q: %w", id, err)
	}
	inv, err := pgx.CollectExactlyOneRow(rows, scanInvoice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invoice.ErrNotFound
		}
		return nil, fmt.Errorf("getting invoice %q: %w", id, err)
	}

	rows, err = r.pool.Query(ctx, getInvoiceLinesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice %q lines: %w", id, err)
	}
	inv.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (invoice.Line, error) {
		var l invoice.Line
		err := row.Scan(&l.ProductID, &l.Title, &l.Quantity, &l.UnitPrice)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("getting invoice %q lines: %w", id, err)
	}
	return &inv, nil
}

// ExpireAwaiting rejects invoices that have waited for a callback since
// before the cutoff.
func (r *InvoiceRepository) ExpireAwaiting(ctx context.Context, before time.Time, reason string) (int64, error) {
	tag, err := r.pool.Exec(ctx, expireAwaitingSQL, before, reason)
	if err != nil {
		return 0, fmt.Errorf("expiring awaiting invoices: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanInvoice(row pgx.CollectableRow) (invoice.Invoice, error) {
	var (
		inv    invoice.Invoice
		status string
		paidAt *time.Time
	)
	d := &inv.Delivery
	p := &inv.Payment
	err := row.Scan(
		&inv.ID, &inv.Subtotal, &inv.ShippingFee, &inv.RushSurcharge, &inv.TotalAmount,
		&d.Name, &d.Phone, &d.Address, &d.Province, &d.Instructions, &d.RushOrder,
		&status, &inv.Attempts, &inv.FailureReason, &inv.TimedOut,
		&p.BankCode, &p.BankTranNo, &p.TransactionNo, &p.PayDate, &paidAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	inv.Status = invoice.Status(status)
	if paidAt != nil {
		p.PaidAt = *paidAt
	}
	return inv, err
}
