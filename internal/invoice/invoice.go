// Package invoice produces billing documents for paid orders.
//
// Flow:
//  1. Generate → draft, amounts frozen from the order (regenerating a
//     draft overwrites it; after issue, regeneration needs force)
//  2. Issue → issued, due date set
//  3. MarkPaid → paid; or the due date passes → overdue
//
// An invoice never changes the order it documents.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
	"github.com/assetbay/assetbay/internal/idgen"
	"github.com/assetbay/assetbay/internal/metrics"
)

// Status represents the state of an invoice.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusIssued    Status = "issued"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// DefaultDueAfter is how long after issuance an invoice falls due.
const DefaultDueAfter = 14 * 24 * time.Hour

// Invoice represents a billing document for one order. Subtotal plus
// platform fee equals the total the buyer paid.
type Invoice struct {
	ID            string     `json:"id"`
	InvoiceNumber string     `json:"invoiceNumber"`
	OrderID       string     `json:"orderId"`
	OrderNumber   string     `json:"orderNumber"`
	BuyerID       string     `json:"buyerId"`
	SellerID      string     `json:"sellerId"`
	Subtotal      string     `json:"subtotal"`
	PlatformFee   string     `json:"platformFee"`
	TotalAmount   string     `json:"totalAmount"`
	Currency      string     `json:"currency"`
	Status        Status     `json:"status"`
	IssuedAt      *time.Time `json:"issuedAt,omitempty"`
	DueAt         *time.Time `json:"dueAt,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the invoice is in a final state.
func (i *Invoice) IsTerminal() bool {
	return i.Status == StatusPaid || i.Status == StatusCancelled
}

// Store persists invoice data.
type Store interface {
	Create(ctx context.Context, i *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	Update(ctx context.Context, i *Invoice) error
	// GetActiveByOrder returns the non-cancelled invoice for an order.
	GetActiveByOrder(ctx context.Context, orderID string) (*Invoice, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Invoice, error)
	// ListOverdue returns issued invoices whose due date has passed.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*Invoice, error)
}

// OrderSnapshot is the slice of order state invoicing needs.
type OrderSnapshot struct {
	ID           string
	OrderNumber  string
	BuyerID      string
	SellerID     string
	FinalPrice   string
	PlatformFee  string
	SellerAmount string
	Currency     string
	Paid         bool
}

// Orders resolves orders without importing the order package.
type Orders interface {
	GetOrder(ctx context.Context, orderID string) (OrderSnapshot, error)
}

// EventEmitter publishes lifecycle events. Fire and forget.
type EventEmitter interface {
	Emit(event string, data map[string]any)
}

// Service implements the invoicing lifecycle.
type Service struct {
	store    Store
	orders   Orders
	emitter  EventEmitter
	dueAfter time.Duration
	locks    sync.Map // per-order locks for generation, per-invoice for the rest
}

// NewService creates a new invoice service.
func NewService(store Store, orders Orders) *Service {
	return &Service{
		store:    store,
		orders:   orders,
		dueAfter: DefaultDueAfter,
	}
}

// WithDueAfter overrides the issued-to-due window.
func (s *Service) WithDueAfter(d time.Duration) *Service {
	if d > 0 {
		s.dueAfter = d
	}
	return s
}

// WithEmitter adds a lifecycle event emitter.
func (s *Service) WithEmitter(e EventEmitter) *Service {
	s.emitter = e
	return s
}

func (s *Service) lock(key string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) emit(event string, data map[string]any) {
	if s.emitter != nil {
		s.emitter.Emit(event, data)
	}
}

// Generate creates the draft invoice for a paid order. Party or admin.
// An existing draft is overwritten in place with amounts recomputed from
// the order, so repeated calls are idempotent. Once the invoice is issued
// or paid, regeneration conflicts unless force is set, in which case the
// old invoice is cancelled and a fresh draft created.
func (s *Service) Generate(ctx context.Context, actor auth.Actor, orderID string, force bool) (*Invoice, error) {
	mu := s.lock("order:" + orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.ID != o.BuyerID && actor.ID != o.SellerID && !actor.IsAdmin() {
		return nil, fmt.Errorf("only a party to the order may generate its invoice: %w", apperrors.ErrUnauthorized)
	}
	if !o.Paid {
		return nil, fmt.Errorf("order %s has no settled payment: %w", orderID, apperrors.ErrInvalidState)
	}

	existing, err := s.store.GetActiveByOrder(ctx, orderID)
	switch {
	case err == nil && existing.Status == StatusDraft:
		existing.Subtotal = o.SellerAmount
		existing.PlatformFee = o.PlatformFee
		existing.TotalAmount = o.FinalPrice
		existing.Currency = o.Currency
		existing.UpdatedAt = time.Now()
		if err := s.store.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("overwrite draft %s: %w", existing.ID, err)
		}
		return existing, nil
	case err == nil && !force:
		return nil, fmt.Errorf("invoice %s is already %s: %w",
			existing.ID, existing.Status, apperrors.ErrConflict)
	case err == nil:
		existing.Status = StatusCancelled
		existing.UpdatedAt = time.Now()
		if err := s.store.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("discard invoice %s: %w", existing.ID, err)
		}
		metrics.InvoicesTotal.WithLabelValues(string(StatusCancelled)).Inc()
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, err
	}

	now := time.Now()
	inv := &Invoice{
		ID:            idgen.WithPrefix("inv_"),
		InvoiceNumber: idgen.Number("INV", now),
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		BuyerID:       o.BuyerID,
		SellerID:      o.SellerID,
		Subtotal:      o.SellerAmount,
		PlatformFee:   o.PlatformFee,
		TotalAmount:   o.FinalPrice,
		Currency:      o.Currency,
		Status:        StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	metrics.InvoicesTotal.WithLabelValues(string(StatusDraft)).Inc()
	s.emit("invoice.generated", map[string]any{
		"invoiceId": inv.ID, "invoiceNumber": inv.InvoiceNumber, "orderId": o.ID,
	})
	return inv, nil
}

// Issue finalizes a draft and starts the payment clock. Seller or admin.
func (s *Service) Issue(ctx context.Context, actor auth.Actor, invoiceID string) (*Invoice, error) {
	mu := s.lock(invoiceID)
	mu.Lock()
	defer mu.Unlock()

	inv, err := s.store.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if actor.ID != inv.SellerID && !actor.IsAdmin() {
		return nil, fmt.Errorf("only the seller may issue an invoice: %w", apperrors.ErrUnauthorized)
	}
	if inv.Status != StatusDraft {
		return nil, fmt.Errorf("issue requires draft, invoice is %s: %w", inv.Status, apperrors.ErrInvalidState)
	}

	now := time.Now()
	due := now.Add(s.dueAfter)
	inv.Status = StatusIssued
	inv.IssuedAt = &now
	inv.DueAt = &due
	inv.UpdatedAt = now
	if err := s.store.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("update invoice %s: %w", invoiceID, err)
	}

	metrics.InvoicesTotal.WithLabelValues(string(StatusIssued)).Inc()
	s.emit("invoice.issued", map[string]any{
		"invoiceId": inv.ID, "dueAt": due.Format(time.RFC3339),
	})
	return inv, nil
}

// MarkPaid settles an issued or overdue invoice. Admin only; the money
// itself moved through the payment rail, this records the document side.
func (s *Service) MarkPaid(ctx context.Context, actor auth.Actor, invoiceID string) (*Invoice, error) {
	mu := s.lock(invoiceID)
	mu.Lock()
	defer mu.Unlock()

	inv, err := s.store.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("only an admin may mark an invoice paid: %w", apperrors.ErrUnauthorized)
	}
	if inv.Status != StatusIssued && inv.Status != StatusOverdue {
		return nil, fmt.Errorf("mark paid requires issued or overdue, invoice is %s: %w", inv.Status, apperrors.ErrInvalidState)
	}

	now := time.Now()
	inv.Status = StatusPaid
	inv.PaidAt = &now
	inv.UpdatedAt = now
	if err := s.store.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("update invoice %s: %w", invoiceID, err)
	}

	metrics.InvoicesTotal.WithLabelValues(string(StatusPaid)).Inc()
	s.emit("invoice.paid", map[string]any{"invoiceId": inv.ID})
	return inv, nil
}

// Cancel voids a draft or issued invoice. Seller or admin.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, invoiceID string) (*Invoice, error) {
	mu := s.lock(invoiceID)
	mu.Lock()
	defer mu.Unlock()

	inv, err := s.store.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if actor.ID != inv.SellerID && !actor.IsAdmin() {
		return nil, fmt.Errorf("only the seller may cancel an invoice: %w", apperrors.ErrUnauthorized)
	}
	if inv.Status != StatusDraft && inv.Status != StatusIssued {
		return nil, fmt.Errorf("cancel requires draft or issued, invoice is %s: %w", inv.Status, apperrors.ErrInvalidState)
	}

	inv.Status = StatusCancelled
	inv.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, inv); err != nil {
		return nil, fmt.Errorf("update invoice %s: %w", invoiceID, err)
	}

	metrics.InvoicesTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.emit("invoice.cancelled", map[string]any{"invoiceId": inv.ID})
	return inv, nil
}

// MarkOverdue flips an issued invoice past its due date. Called by the
// timer; no actor check.
func (s *Service) MarkOverdue(ctx context.Context, invoiceID string) error {
	mu := s.lock(invoiceID)
	mu.Lock()
	defer mu.Unlock()

	inv, err := s.store.Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != StatusIssued {
		return fmt.Errorf("invoice %s is %s: %w", inv.ID, inv.Status, apperrors.ErrInvalidState)
	}
	if inv.DueAt == nil || inv.DueAt.After(time.Now()) {
		return fmt.Errorf("invoice %s not yet due: %w", inv.ID, apperrors.ErrInvalidState)
	}

	inv.Status = StatusOverdue
	inv.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, inv); err != nil {
		return fmt.Errorf("update invoice %s: %w", invoiceID, err)
	}

	metrics.InvoicesTotal.WithLabelValues(string(StatusOverdue)).Inc()
	metrics.InvoicesOverdueTotal.Inc()
	s.emit("invoice.overdue", map[string]any{"invoiceId": inv.ID})
	return nil
}

// Get returns an invoice by ID.
func (s *Service) Get(ctx context.Context, id string) (*Invoice, error) {
	return s.store.Get(ctx, id)
}

// GetByOrder returns the active invoice for an order.
func (s *Service) GetByOrder(ctx context.Context, orderID string) (*Invoice, error) {
	return s.store.GetActiveByOrder(ctx, orderID)
}

// ListByUser returns invoices where the user is buyer or seller.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}
