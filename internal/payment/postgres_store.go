package payment

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
)

// PostgresStore persists payment data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const paymentColumns = `id, payment_number, order_id, buyer_id, method,
		amount, currency, status, transaction_id, failure_reason,
		paid_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, pay *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (
			id, payment_number, order_id, buyer_id, method,
			amount, currency, status, transaction_id, failure_reason,
			paid_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::NUMERIC(20,2), $7, $8, $9, $10,
			$11, $12, $13
		)`,
		pay.ID, pay.PaymentNumber, pay.OrderID, pay.BuyerID, pay.Method,
		pay.Amount, pay.Currency, string(pay.Status), nullString(pay.TransactionID), nullString(pay.FailureReason),
		nullTime(pay.PaidAt), pay.CreatedAt, pay.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)

	pay, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment %s: %w", id, apperrors.ErrNotFound)
	}
	return pay, err
}

func (p *PostgresStore) Update(ctx context.Context, pay *Payment) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payments SET
			status = $1, transaction_id = $2, failure_reason = $3,
			paid_at = $4, updated_at = $5
		WHERE id = $6`,
		string(pay.Status), nullString(pay.TransactionID), nullString(pay.FailureReason),
		nullTime(pay.PaidAt), pay.UpdatedAt,
		pay.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("payment %s: %w", pay.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) GetActiveByOrder(ctx context.Context, orderID string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1 AND status IN ('pending', 'succeeded')
		LIMIT 1`, orderID)

	pay, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active payment for order %s: %w", orderID, apperrors.ErrNotFound)
	}
	return pay, err
}

func (p *PostgresStore) ListByOrder(ctx context.Context, orderID string, limit int) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Payment
	for rows.Next() {
		pay, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pay)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(s scanner) (*Payment, error) {
	pay := &Payment{}
	var (
		status        string
		transactionID sql.NullString
		failureReason sql.NullString
		paidAt        sql.NullTime
	)

	err := s.Scan(
		&pay.ID, &pay.PaymentNumber, &pay.OrderID, &pay.BuyerID, &pay.Method,
		&pay.Amount, &pay.Currency, &status, &transactionID, &failureReason,
		&paidAt, &pay.CreatedAt, &pay.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	pay.Status = Status(status)
	pay.TransactionID = transactionID.String
	pay.FailureReason = failureReason.String
	if paidAt.Valid {
		pay.PaidAt = &paidAt.Time
	}

	return pay, nil
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
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
