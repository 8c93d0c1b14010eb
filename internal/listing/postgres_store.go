package listing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/assetbay/assetbay/internal/apperrors"
)

// PostgresStore persists listing data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed listing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const listingColumns = `id, seller_id, title, asset_type, description, price, currency,
		is_price_negotiable, status, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO listings (
			id, seller_id, title, asset_type, description, price, currency,
			is_price_negotiable, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::NUMERIC(20,2), $7,
			$8, $9, $10, $11
		)`,
		l.ID, l.SellerID, l.Title, string(l.AssetType), nullString(l.Description),
		l.Price, l.Currency, l.IsPriceNegotiable, string(l.Status),
		l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)

	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("listing %s: %w", id, apperrors.ErrNotFound)
	}
	return l, err
}

func (p *PostgresStore) Update(ctx context.Context, l *Listing) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE listings SET
			title = $1, description = $2, price = $3::NUMERIC(20,2),
			is_price_negotiable = $4, status = $5, updated_at = $6
		WHERE id = $7`,
		l.Title, nullString(l.Description), l.Price,
		l.IsPriceNegotiable, string(l.Status), l.UpdatedAt, l.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("listing %s: %w", l.ID, apperrors.ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) ListActive(ctx context.Context, limit int) ([]*Listing, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE status = 'active'
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanListings(rows)
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanListings(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(s scanner) (*Listing, error) {
	l := &Listing{}
	var (
		assetType   string
		description sql.NullString
		status      string
	)

	err := s.Scan(
		&l.ID, &l.SellerID, &l.Title, &assetType, &description, &l.Price, &l.Currency,
		&l.IsPriceNegotiable, &status, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.AssetType = AssetType(assetType)
	l.Description = description.String
	l.Status = Status(status)

	return l, nil
}

func scanListings(rows *sql.Rows) ([]*Listing, error) {
	var result []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
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

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
