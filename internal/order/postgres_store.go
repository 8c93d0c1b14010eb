package order

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
)

// PostgresStore persists order data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, order_number, listing_id, offer_id, buyer_id, seller_id,
		listing_price, final_price, platform_fee, seller_amount, currency,
		source, status, payment_id, escrow_id, cancel_reason,
		created_at, updated_at, paid_at, completed_at, cancelled_at, refunded_at`

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, listing_id, offer_id, buyer_id, seller_id,
			listing_price, final_price, platform_fee, seller_amount, currency,
			source, status, payment_id, escrow_id, cancel_reason,
			created_at, updated_at, paid_at, completed_at, cancelled_at, refunded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::NUMERIC(20,2), $8::NUMERIC(20,2), $9::NUMERIC(20,2), $10::NUMERIC(20,2), $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22
		)`,
		o.ID, o.OrderNumber, o.ListingID, nullString(o.OfferID), o.BuyerID, o.SellerID,
		o.ListingPrice, o.FinalPrice, o.PlatformFee, o.SellerAmount, o.Currency,
		string(o.Source), string(o.Status), nullString(o.PaymentID), nullString(o.EscrowID), nullString(o.CancelReason),
		o.CreatedAt, o.UpdatedAt, nullTime(o.PaidAt), nullTime(o.CompletedAt), nullTime(o.CancelledAt), nullTime(o.RefundedAt),
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, apperrors.ErrNotFound)
	}
	return o, err
}

func (p *PostgresStore) Update(ctx context.Context, o *Order) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE orders SET
			status = $1, payment_id = $2, escrow_id = $3, cancel_reason = $4,
			updated_at = $5, paid_at = $6, completed_at = $7, cancelled_at = $8, refunded_at = $9
		WHERE id = $10`,
		string(o.Status), nullString(o.PaymentID), nullString(o.EscrowID), nullString(o.CancelReason),
		o.UpdatedAt, nullTime(o.PaidAt), nullTime(o.CompletedAt), nullTime(o.CancelledAt), nullTime(o.RefundedAt),
		o.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("order %s: %w", o.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

func (p *PostgresStore) ListByListing(ctx context.Context, listingID string, limit int) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE listing_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, listingID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOrders(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*Order, error) {
	o := &Order{}
	var (
		offerID      sql.NullString
		source       string
		status       string
		paymentID    sql.NullString
		escrowID     sql.NullString
		cancelReason sql.NullString
		paidAt       sql.NullTime
		completedAt  sql.NullTime
		cancelledAt  sql.NullTime
		refundedAt   sql.NullTime
	)

	err := s.Scan(
		&o.ID, &o.OrderNumber, &o.ListingID, &offerID, &o.BuyerID, &o.SellerID,
		&o.ListingPrice, &o.FinalPrice, &o.PlatformFee, &o.SellerAmount, &o.Currency,
		&source, &status, &paymentID, &escrowID, &cancelReason,
		&o.CreatedAt, &o.UpdatedAt, &paidAt, &completedAt, &cancelledAt, &refundedAt,
	)
	if err != nil {
		return nil, err
	}

	o.OfferID = offerID.String
	o.Source = Source(source)
	o.Status = Status(status)
	o.PaymentID = paymentID.String
	o.EscrowID = escrowID.String
	o.CancelReason = cancelReason.String
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		o.CancelledAt = &cancelledAt.Time
	}
	if refundedAt.Valid {
		o.RefundedAt = &refundedAt.Time
	}

	return o, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	var result []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
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
