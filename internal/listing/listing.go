// Package listing manages the sellable-asset registry.
//
// Flow:
//  1. Seller creates a listing → draft
//  2. Seller publishes → active (only active listings accept offers)
//  3. Sale completes → sold (set only by the order manager)
//  4. Seller retires or admin suspends → expired / suspended
package listing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
	"github.com/assetbay/assetbay/internal/idgen"
	"github.com/assetbay/assetbay/internal/metrics"
	"github.com/assetbay/assetbay/internal/money"
)

// Status represents the state of a listing.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusSold      Status = "sold"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
)

// AssetType classifies what is being sold.
type AssetType string

const (
	AssetDomain  AssetType = "domain"
	AssetWebsite AssetType = "website"
	AssetApp     AssetType = "app"
	AssetSaaS    AssetType = "saas"
	AssetFBA     AssetType = "fba"
)

// ValidAssetType reports whether t is a known asset type.
func ValidAssetType(t AssetType) bool {
	switch t {
	case AssetDomain, AssetWebsite, AssetApp, AssetSaaS, AssetFBA:
		return true
	}
	return false
}

// Listing represents a sellable digital asset.
type Listing struct {
	ID                string    `json:"id"`
	SellerID          string    `json:"sellerId"`
	Title             string    `json:"title"`
	AssetType         AssetType `json:"assetType"`
	Description       string    `json:"description,omitempty"`
	Price             string    `json:"price"`
	Currency          string    `json:"currency"`
	IsPriceNegotiable bool      `json:"isPriceNegotiable"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// IsTerminal returns true if the listing can no longer change state.
func (l *Listing) IsTerminal() bool {
	return l.Status == StatusSold
}

// Sellable reports whether the listing can currently be purchased or
// receive offers.
func (l *Listing) Sellable() bool {
	return l.Status == StatusActive
}

// Store persists listing data.
type Store interface {
	Create(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	Update(ctx context.Context, l *Listing) error
	ListActive(ctx context.Context, limit int) ([]*Listing, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error)
}

// CreateRequest contains the parameters for creating a listing.
type CreateRequest struct {
	Title             string `json:"title" binding:"required"`
	AssetType         string `json:"assetType" binding:"required"`
	Description       string `json:"description"`
	Price             string `json:"price" binding:"required"`
	Currency          string `json:"currency"`
	IsPriceNegotiable bool   `json:"isPriceNegotiable"`
}

// Service implements listing business logic.
type Service struct {
	store Store
	locks sync.Map // per-listing ID locks so MarkSold never races a suspend
}

// NewService creates a new listing service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// listingLock returns a mutex for the given listing ID.
func (s *Service) listingLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create records a new listing in draft for the acting seller.
func (s *Service) Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*Listing, error) {
	if _, err := money.Parse(req.Price); err != nil {
		return nil, err
	}
	currency, err := money.ParseCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	assetType := AssetType(req.AssetType)
	if !ValidAssetType(assetType) {
		return nil, fmt.Errorf("unknown asset type %q: %w", req.AssetType, apperrors.ErrValidation)
	}

	now := time.Now()
	l := &Listing{
		ID:                idgen.WithPrefix("lst_"),
		SellerID:          actor.ID,
		Title:             req.Title,
		AssetType:         assetType,
		Description:       req.Description,
		Price:             req.Price,
		Currency:          string(currency),
		IsPriceNegotiable: req.IsPriceNegotiable,
		Status:            StatusDraft,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}

	metrics.ListingsTotal.WithLabelValues(string(StatusDraft)).Inc()
	return l, nil
}

// Publish moves a draft listing to active. Seller only.
func (s *Service) Publish(ctx context.Context, actor auth.Actor, id string) (*Listing, error) {
	return s.transition(ctx, id, StatusActive, func(l *Listing) error {
		if l.SellerID != actor.ID {
			return fmt.Errorf("only the seller may publish: %w", apperrors.ErrUnauthorized)
		}
		if l.Status != StatusDraft {
			return fmt.Errorf("publish requires draft, listing is %s: %w", l.Status, apperrors.ErrInvalidState)
		}
		return nil
	})
}

// Suspend pulls an active listing from the marketplace. Admin only.
func (s *Service) Suspend(ctx context.Context, actor auth.Actor, id string) (*Listing, error) {
	return s.transition(ctx, id, StatusSuspended, func(l *Listing) error {
		if !actor.IsAdmin() {
			return fmt.Errorf("only an admin may suspend listings: %w", apperrors.ErrUnauthorized)
		}
		if l.Status != StatusActive {
			return fmt.Errorf("suspend requires active, listing is %s: %w", l.Status, apperrors.ErrInvalidState)
		}
		return nil
	})
}

// Expire retires an active listing. Seller or admin.
func (s *Service) Expire(ctx context.Context, actor auth.Actor, id string) (*Listing, error) {
	return s.transition(ctx, id, StatusExpired, func(l *Listing) error {
		if l.SellerID != actor.ID && !actor.IsAdmin() {
			return fmt.Errorf("only the seller may expire a listing: %w", apperrors.ErrUnauthorized)
		}
		if l.Status != StatusActive {
			return fmt.Errorf("expire requires active, listing is %s: %w", l.Status, apperrors.ErrInvalidState)
		}
		return nil
	})
}

// MarkSold moves an active listing to sold. Called only by the order
// manager when an order completes; there is no HTTP route to it.
func (s *Service) MarkSold(ctx context.Context, id string) error {
	_, err := s.transition(ctx, id, StatusSold, func(l *Listing) error {
		if l.Status != StatusActive {
			return fmt.Errorf("mark sold requires active, listing is %s: %w", l.Status, apperrors.ErrInvalidState)
		}
		return nil
	})
	return err
}

// transition applies a guarded status change under the listing's lock.
func (s *Service) transition(ctx context.Context, id string, to Status, guard func(*Listing) error) (*Listing, error) {
	mu := s.listingLock(id)
	mu.Lock()
	defer mu.Unlock()

	l, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := guard(l); err != nil {
		return nil, err
	}

	l.Status = to
	l.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("update listing %s: %w", id, err)
	}

	metrics.ListingsTotal.WithLabelValues(string(to)).Inc()
	return l, nil
}

// Get returns a listing by ID.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// ListActive returns active listings, newest first.
func (s *Service) ListActive(ctx context.Context, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListActive(ctx, limit)
}

// ListBySeller returns a seller's listings in any state.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}
