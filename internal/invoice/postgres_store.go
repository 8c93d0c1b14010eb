package invoice

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
)

// PostgresStore persists invoice data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed invoice store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const invoiceColumns = `id, invoice_number, order_id, order_number, buyer_id, seller_id,
		subtotal, platform_fee, total_amount, currency, status,
		issued_at, due_at, paid_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, i *Invoice) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO invoices (
			id, invoice_number, order_id, order_number, buyer_id, seller_id,
			subtotal, platform_fee, total_amount, currency, status,
			issued_at, due_at, paid_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::NUMERIC(20,2), $8::NUMERIC(20,2), $9::NUMERIC(20,2), $10, $11,
			$12, $13, $14, $15, $16
		)`,
		i.ID, i.InvoiceNumber, i.OrderID, i.OrderNumber, i.BuyerID, i.SellerID,
		i.Subtotal, i.PlatformFee, i.TotalAmount, i.Currency, string(i.Status),
		nullTime(i.IssuedAt), nullTime(i.DueAt), nullTime(i.PaidAt), i.CreatedAt, i.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Invoice, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)

	i, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invoice %s: %w", id, apperrors.ErrNotFound)
	}
	return i, err
}

func (p *PostgresStore) Update(ctx context.Context, i *Invoice) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE invoices SET
			status = $1, issued_at = $2, due_at = $3, paid_at = $4, updated_at = $5
		WHERE id = $6`,
		string(i.Status), nullTime(i.IssuedAt), nullTime(i.DueAt), nullTime(i.PaidAt), i.UpdatedAt,
		i.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("invoice %s: %w", i.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) GetActiveByOrder(ctx context.Context, orderID string) (*Invoice, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE order_id = $1 AND status != 'cancelled'
		LIMIT 1`, orderID)

	i, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invoice for order %s: %w", orderID, apperrors.ErrNotFound)
	}
	return i, err
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Invoice, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanInvoices(rows)
}

func (p *PostgresStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Invoice, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE status = 'issued' AND due_at < $1
		ORDER BY due_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanInvoices(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInvoice(s scanner) (*Invoice, error) {
	i := &Invoice{}
	var (
		status   string
		issuedAt sql.NullTime
		dueAt    sql.NullTime
		paidAt   sql.NullTime
	)

	err := s.Scan(
		&i.ID, &i.InvoiceNumber, &i.OrderID, &i.OrderNumber, &i.BuyerID, &i.SellerID,
		&i.Subtotal, &i.PlatformFee, &i.TotalAmount, &i.Currency, &status,
		&issuedAt, &dueAt, &paidAt, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	i.Status = Status(status)
	if issuedAt.Valid {
		i.IssuedAt = &issuedAt.Time
	}
	if dueAt.Valid {
		i.DueAt = &dueAt.Time
	}
	if paidAt.Valid {
		i.PaidAt = &paidAt.Time
	}

	return i, nil
}

func scanInvoices(rows *sql.Rows) ([]*Invoice, error) {
	var result []*Invoice
	for rows.Next() {
		i, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, i)
	}
	return result, rows.Err()
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
