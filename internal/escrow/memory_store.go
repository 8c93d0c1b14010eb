package escrow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/assetbay/assetbay/internal/apperrors"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	escrows map[string]*Escrow
	byOrder map[string]string
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows: make(map[string]*Escrow),
		byOrder: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.escrows[e.ID]; ok {
		return fmt.Errorf("escrow %s already exists: %w", e.ID, apperrors.ErrConflict)
	}
	if _, ok := m.byOrder[e.OrderID]; ok {
		return fmt.Errorf("order %s already has an escrow: %w", e.OrderID, apperrors.ErrConflict)
	}
	cp := *e
	m.escrows[e.ID] = &cp
	m.byOrder[e.OrderID] = e.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, fmt.Errorf("escrow %s: %w", id, apperrors.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.escrows[e.ID]; !ok {
		return fmt.Errorf("escrow %s: %w", e.ID, apperrors.ErrNotFound)
	}
	cp := *e
	m.escrows[e.ID] = &cp
	return nil
}

func (m *MemoryStore) GetByOrder(ctx context.Context, orderID string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byOrder[orderID]
	if !ok {
		return nil, fmt.Errorf("escrow for order %s: %w", orderID, apperrors.ErrNotFound)
	}
	cp := *m.escrows[id]
	return &cp, nil
}

func (m *MemoryStore) ListHeld(ctx context.Context, limit int) ([]*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Escrow
	for _, e := range m.escrows {
		if e.Status == StatusHeld {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].HeldAt.Before(result[j].HeldAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
