package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
)

// PostgresStore persists escrow data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, order_id, amount, platform_fee, seller_amount, currency,
		status, held_at, released_at, refunded_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (
			id, order_id, amount, platform_fee, seller_amount, currency,
			status, held_at, released_at, refunded_at, created_at, updated_at
		) VALUES (
			$1, $2, $3::NUMERIC(20,2), $4::NUMERIC(20,2), $5::NUMERIC(20,2), $6,
			$7, $8, $9, $10, $11, $12
		)`,
		e.ID, e.OrderID, e.Amount, e.PlatformFee, e.SellerAmount, e.Currency,
		string(e.Status), e.HeldAt, nullTime(e.ReleasedAt), nullTime(e.RefundedAt), e.CreatedAt, e.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("escrow %s: %w", id, apperrors.ErrNotFound)
	}
	return e, err
}

func (p *PostgresStore) Update(ctx context.Context, e *Escrow) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET
			status = $1, released_at = $2, refunded_at = $3, updated_at = $4
		WHERE id = $5`,
		string(e.Status), nullTime(e.ReleasedAt), nullTime(e.RefundedAt), e.UpdatedAt,
		e.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("escrow %s: %w", e.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) GetByOrder(ctx context.Context, orderID string) (*Escrow, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE order_id = $1`, orderID)

	e, err := scanEscrow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("escrow for order %s: %w", orderID, apperrors.ErrNotFound)
	}
	return e, err
}

func (p *PostgresStore) ListHeld(ctx context.Context, limit int) ([]*Escrow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = 'held'
		ORDER BY held_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(s scanner) (*Escrow, error) {
	e := &Escrow{}
	var (
		status     string
		releasedAt sql.NullTime
		refundedAt sql.NullTime
	)

	err := s.Scan(
		&e.ID, &e.OrderID, &e.Amount, &e.PlatformFee, &e.SellerAmount, &e.Currency,
		&status, &e.HeldAt, &releasedAt, &refundedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	if releasedAt.Valid {
		e.ReleasedAt = &releasedAt.Time
	}
	if refundedAt.Valid {
		e.RefundedAt = &refundedAt.Time
	}

	return e, nil
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
