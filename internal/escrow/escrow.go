// Package escrow is the custody ledger. Funds enter on payment success
// and leave exactly once, to exactly one side.
//
// Flow:
//  1. Payment succeeds → Hold opens the escrow (one per order, ever)
//  2. Order completed → Release pays the seller (seller, admin, or the
//     auto-release timer after the configured window)
//  3. Order refund_requested → Refund returns the buyer's money and
//     finalizes the order as refunded
//
// Released and refunded are mutually exclusive terminals. The amount
// split (platform fee, seller amount) is frozen at hold time and never
// recomputed.
package escrow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
	"github.com/assetbay/assetbay/internal/idgen"
	"github.com/assetbay/assetbay/internal/logging"
	"github.com/assetbay/assetbay/internal/metrics"
)

// Status represents the state of an escrow.
type Status string

const (
	StatusHeld     Status = "held"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
)

// Escrow represents funds held in custody for one order.
type Escrow struct {
	ID           string     `json:"id"`
	OrderID      string     `json:"orderId"`
	Amount       string     `json:"amount"`
	PlatformFee  string     `json:"platformFee"`
	SellerAmount string     `json:"sellerAmount"`
	Currency     string     `json:"currency"`
	Status       Status     `json:"status"`
	HeldAt       time.Time  `json:"heldAt"`
	ReleasedAt   *time.Time `json:"releasedAt,omitempty"`
	RefundedAt   *time.Time `json:"refundedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the funds have left custody.
func (e *Escrow) IsTerminal() bool {
	return e.Status != StatusHeld
}

// Store persists escrow data.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, id string) (*Escrow, error)
	Update(ctx context.Context, e *Escrow) error
	GetByOrder(ctx context.Context, orderID string) (*Escrow, error)
	ListHeld(ctx context.Context, limit int) ([]*Escrow, error)
}

// OrderSnapshot is the slice of order state settlement decisions need.
type OrderSnapshot struct {
	ID              string
	BuyerID         string
	SellerID        string
	PaymentID       string
	Completed       bool
	RefundRequested bool
	CompletedAt     *time.Time
}

// Orders is the order lifecycle seen from the custody side.
type Orders interface {
	GetOrder(ctx context.Context, orderID string) (OrderSnapshot, error)
	// MarkRefunded finalizes the order after the escrow refund settles.
	MarkRefunded(ctx context.Context, orderID string) error
}

// PaymentRefunder flips the originating payment to refunded.
type PaymentRefunder interface {
	MarkRefunded(ctx context.Context, paymentID string) error
}

// EventEmitter publishes lifecycle events. Fire and forget.
type EventEmitter interface {
	Emit(event string, data map[string]any)
}

// Service implements the custody ledger.
type Service struct {
	store    Store
	orders   Orders
	payments PaymentRefunder
	emitter  EventEmitter
	locks    sync.Map // per-escrow ID locks
}

// NewService creates a new escrow service.
func NewService(store Store, orders Orders) *Service {
	return &Service{
		store:  store,
		orders: orders,
	}
}

// WithPaymentRefunder adds the payment-side refund callback.
func (s *Service) WithPaymentRefunder(p PaymentRefunder) *Service {
	s.payments = p
	return s
}

// WithEmitter adds a lifecycle event emitter.
func (s *Service) WithEmitter(e EventEmitter) *Service {
	s.emitter = e
	return s
}

func (s *Service) escrowLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) emit(event string, data map[string]any) {
	if s.emitter != nil {
		s.emitter.Emit(event, data)
	}
}

// Hold opens custody for an order. Called by the order engine under the
// order lock as part of the payment-success transition. At most one
// escrow per order, ever; a second hold is a conflict regardless of the
// first one's state.
func (s *Service) Hold(ctx context.Context, orderID, amount, platformFee, sellerAmount, currency string) (string, error) {
	if existing, err := s.store.GetByOrder(ctx, orderID); err == nil {
		return "", fmt.Errorf("order %s already has escrow %s (%s): %w",
			orderID, existing.ID, existing.Status, apperrors.ErrConflict)
	}

	now := time.Now()
	e := &Escrow{
		ID:           idgen.WithPrefix("esc_"),
		OrderID:      orderID,
		Amount:       amount,
		PlatformFee:  platformFee,
		SellerAmount: sellerAmount,
		Currency:     currency,
		Status:       StatusHeld,
		HeldAt:       now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Create(ctx, e); err != nil {
		return "", fmt.Errorf("create escrow: %w", err)
	}

	metrics.EscrowsTotal.WithLabelValues(string(StatusHeld)).Inc()
	s.emit("escrow.held", map[string]any{
		"escrowId": e.ID, "orderId": orderID, "amount": amount,
	})
	return e.ID, nil
}

// Release pays the held funds to the seller. Seller of the order or
// admin; the order must be completed first.
func (s *Service) Release(ctx context.Context, actor auth.Actor, escrowID string) (*Escrow, error) {
	mu := s.escrowLock(escrowID)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusHeld {
		return nil, fmt.Errorf("release requires held, escrow is %s: %w", e.Status, apperrors.ErrInvalidState)
	}

	o, err := s.orders.GetOrder(ctx, e.OrderID)
	if err != nil {
		return nil, fmt.Errorf("resolve order %s: %w", e.OrderID, err)
	}
	if actor.ID != o.SellerID && !actor.IsAdmin() {
		return nil, fmt.Errorf("only the seller may release escrow: %w", apperrors.ErrUnauthorized)
	}
	if !o.Completed {
		return nil, fmt.Errorf("release requires a completed order: %w", apperrors.ErrInvalidState)
	}

	return s.release(ctx, e)
}

// AutoRelease releases an escrow from the timer. No actor check; the
// completed-order guard still applies.
func (s *Service) AutoRelease(ctx context.Context, escrowID string) error {
	mu := s.escrowLock(escrowID)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return err
	}
	if e.Status != StatusHeld {
		return fmt.Errorf("escrow %s already %s: %w", e.ID, e.Status, apperrors.ErrInvalidState)
	}

	o, err := s.orders.GetOrder(ctx, e.OrderID)
	if err != nil {
		return err
	}
	if !o.Completed {
		return fmt.Errorf("order %s not completed: %w", e.OrderID, apperrors.ErrInvalidState)
	}

	if _, err := s.release(ctx, e); err != nil {
		return err
	}
	metrics.EscrowAutoReleasedTotal.Inc()
	return nil
}

// release applies the terminal transition. Caller holds the escrow lock
// and has checked the guards.
func (s *Service) release(ctx context.Context, e *Escrow) (*Escrow, error) {
	now := time.Now()
	e.Status = StatusReleased
	e.ReleasedAt = &now
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("update escrow %s: %w", e.ID, err)
	}

	metrics.EscrowsTotal.WithLabelValues(string(StatusReleased)).Inc()
	metrics.EscrowDuration.Observe(now.Sub(e.HeldAt).Seconds())
	s.emit("escrow.released", map[string]any{
		"escrowId": e.ID, "orderId": e.OrderID, "sellerAmount": e.SellerAmount,
	})
	return e, nil
}

// Refund returns the held funds to the buyer and finalizes the order.
// Admin only; the order must have an open refund request.
func (s *Service) Refund(ctx context.Context, actor auth.Actor, escrowID string) (*Escrow, error) {
	mu := s.escrowLock(escrowID)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusHeld {
		return nil, fmt.Errorf("refund requires held, escrow is %s: %w", e.Status, apperrors.ErrInvalidState)
	}

	o, err := s.orders.GetOrder(ctx, e.OrderID)
	if err != nil {
		return nil, fmt.Errorf("resolve order %s: %w", e.OrderID, err)
	}
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("only an admin may refund escrow: %w", apperrors.ErrUnauthorized)
	}
	if !o.RefundRequested {
		return nil, fmt.Errorf("refund requires an open refund request: %w", apperrors.ErrInvalidState)
	}

	now := time.Now()
	e.Status = StatusRefunded
	e.RefundedAt = &now
	e.UpdatedAt = now
	if err := s.store.Update(ctx, e); err != nil {
		return nil, fmt.Errorf("update escrow %s: %w", e.ID, err)
	}

	// The order must follow the money out.
	if err := s.orders.MarkRefunded(ctx, e.OrderID); err != nil {
		if retryErr := s.orders.MarkRefunded(ctx, e.OrderID); retryErr != nil {
			logging.L(ctx).Error("CRITICAL: escrow refunded but order not finalized",
				"escrowId", e.ID, "orderId", e.OrderID, "error", retryErr)
		}
	}
	if s.payments != nil && o.PaymentID != "" {
		if err := s.payments.MarkRefunded(ctx, o.PaymentID); err != nil {
			logging.L(ctx).Error("payment not marked refunded after escrow refund",
				"escrowId", e.ID, "paymentId", o.PaymentID, "error", err)
		}
	}

	metrics.EscrowsTotal.WithLabelValues(string(StatusRefunded)).Inc()
	metrics.EscrowDuration.Observe(now.Sub(e.HeldAt).Seconds())
	s.emit("escrow.refunded", map[string]any{
		"escrowId": e.ID, "orderId": e.OrderID, "amount": e.Amount,
	})
	return e, nil
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// GetByOrder returns the escrow for an order.
func (s *Service) GetByOrder(ctx context.Context, orderID string) (*Escrow, error) {
	return s.store.GetByOrder(ctx, orderID)
}
