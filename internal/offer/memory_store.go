package offer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
)

// MemoryStore is an in-memory offer store for demo/development mode.
type MemoryStore struct {
	offers map[string]*Offer
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory offer store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		offers: make(map[string]*Offer),
	}
}

func (m *MemoryStore) Create(ctx context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.offers[o.ID]; ok {
		return fmt.Errorf("offer %s already exists: %w", o.ID, apperrors.ErrConflict)
	}
	cp := *o
	m.offers[o.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.offers[o.ID]; !ok {
		return fmt.Errorf("offer %s: %w", o.ID, apperrors.ErrNotFound)
	}
	cp := *o
	m.offers[o.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPending(ctx context.Context, listingID, buyerID string) (*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.offers {
		if o.ListingID == listingID && o.BuyerID == buyerID && o.Status == StatusPending {
			cp := *o
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("no pending offer for listing %s, buyer %s: %w", listingID, buyerID, apperrors.ErrNotFound)
}

func (m *MemoryStore) ListByListing(ctx context.Context, listingID string, limit int) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Offer
	for _, o := range m.offers {
		if o.ListingID == listingID {
			cp := *o
			result = append(result, &cp)
		}
	}
	return sortAndCap(result, limit), nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Offer
	for _, o := range m.offers {
		if o.BuyerID == userID || o.SellerID == userID {
			cp := *o
			result = append(result, &cp)
		}
	}
	return sortAndCap(result, limit), nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Offer
	for _, o := range m.offers {
		if o.Status == StatusPending && o.ExpiresAt != nil && o.ExpiresAt.Before(before) {
			cp := *o
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func sortAndCap(offers []*Offer, limit int) []*Offer {
	sort.Slice(offers, func(i, j int) bool {
		return offers[i].CreatedAt.After(offers[j].CreatedAt)
	})
	if len(offers) > limit {
		offers = offers[:limit]
	}
	return offers
}
