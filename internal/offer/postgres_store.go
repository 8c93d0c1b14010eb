package offer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
)

// PostgresStore persists offer data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed offer store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const offerColumns = `id, listing_id, buyer_id, seller_id, amount, currency, message,
		direction, status, parent_offer_id, order_id, expires_at, resolved_at,
		created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, o *Offer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO offers (
			id, listing_id, buyer_id, seller_id, amount, currency, message,
			direction, status, parent_offer_id, order_id, expires_at, resolved_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5::NUMERIC(20,2), $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15
		)`,
		o.ID, o.ListingID, o.BuyerID, o.SellerID, o.Amount, o.Currency, nullString(o.Message),
		string(o.Direction), string(o.Status), nullString(o.ParentOfferID), nullString(o.OrderID),
		nullTime(o.ExpiresAt), nullTime(o.ResolvedAt), o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Offer, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id)

	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("offer %s: %w", id, apperrors.ErrNotFound)
	}
	return o, err
}

func (p *PostgresStore) Update(ctx context.Context, o *Offer) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE offers SET
			status = $1, order_id = $2, resolved_at = $3, updated_at = $4
		WHERE id = $5`,
		string(o.Status), nullString(o.OrderID), nullTime(o.ResolvedAt), o.UpdatedAt, o.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("offer %s: %w", o.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) GetPending(ctx context.Context, listingID, buyerID string) (*Offer, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE listing_id = $1 AND buyer_id = $2 AND status = 'pending'
		LIMIT 1`, listingID, buyerID)

	o, err := scanOffer(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no pending offer for listing %s, buyer %s: %w", listingID, buyerID, apperrors.ErrNotFound)
	}
	return o, err
}

func (p *PostgresStore) ListByListing(ctx context.Context, listingID string, limit int) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE listing_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, listingID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOffers(rows)
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOffers(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Offer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+offerColumns+`
		FROM offers
		WHERE status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanOffers(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOffer(s scanner) (*Offer, error) {
	o := &Offer{}
	var (
		message       sql.NullString
		direction     string
		status        string
		parentOfferID sql.NullString
		orderID       sql.NullString
		expiresAt     sql.NullTime
		resolvedAt    sql.NullTime
	)

	err := s.Scan(
		&o.ID, &o.ListingID, &o.BuyerID, &o.SellerID, &o.Amount, &o.Currency, &message,
		&direction, &status, &parentOfferID, &orderID, &expiresAt, &resolvedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Message = message.String
	o.Direction = Direction(direction)
	o.Status = Status(status)
	o.ParentOfferID = parentOfferID.String
	o.OrderID = orderID.String
	if expiresAt.Valid {
		o.ExpiresAt = &expiresAt.Time
	}
	if resolvedAt.Valid {
		o.ResolvedAt = &resolvedAt.Time
	}

	return o, nil
}

func scanOffers(rows *sql.Rows) ([]*Offer, error) {
	var result []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
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
