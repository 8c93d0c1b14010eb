package invoice

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
)

// MemoryStore is an in-memory invoice store for demo/development mode.
type MemoryStore struct {
	invoices map[string]*Invoice
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory invoice store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invoices: make(map[string]*Invoice),
	}
}

func (m *MemoryStore) Create(ctx context.Context, i *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoices[i.ID]; ok {
		return fmt.Errorf("invoice %s already exists: %w", i.ID, apperrors.ErrConflict)
	}
	cp := *i
	m.invoices[i.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *i
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, i *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.invoices[i.ID]; !ok {
		return fmt.Errorf("invoice %s: %w", i.ID, apperrors.ErrNotFound)
	}
	cp := *i
	m.invoices[i.ID] = &cp
	return nil
}

func (m *MemoryStore) GetActiveByOrder(ctx context.Context, orderID string) (*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, i := range m.invoices {
		if i.OrderID == orderID && i.Status != StatusCancelled {
			cp := *i
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("invoice for order %s: %w", orderID, apperrors.ErrNotFound)
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Invoice
	for _, i := range m.invoices {
		if i.BuyerID == userID || i.SellerID == userID {
			cp := *i
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Invoice
	for _, i := range m.invoices {
		if i.Status == StatusIssued && i.DueAt != nil && i.DueAt.Before(now) {
			cp := *i
			result = append(result, &cp)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
