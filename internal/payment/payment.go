// Package payment records capture attempts against orders and relays
// results from the external processor.
//
// Flow:
//  1. Buyer opens a payment → pending, order moves to payment_pending,
//     the attempt is submitted to the processor
//  2. Processor callback (webhook) reports success or failure
//  3. Success → order manager holds escrow and moves the order to
//     processing; failure → payment failed, order untouched, retryable
//
// At most one payment per order may ever be succeeded. Failed attempts
// are kept and a new payment record opens the retry.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
	"github.com/assetbay/assetbay/internal/idgen"
	"github.com/assetbay/assetbay/internal/logging"
	"github.com/assetbay/assetbay/internal/metrics"
)

// Status represents the state of a payment attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Payment represents one capture attempt tied to exactly one order.
type Payment struct {
	ID            string     `json:"id"`
	PaymentNumber string     `json:"paymentNumber"`
	OrderID       string     `json:"orderId"`
	BuyerID       string     `json:"buyerId"`
	Method        string     `json:"method"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Status        Status     `json:"status"`
	TransactionID string     `json:"transactionId,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the payment reached a final state.
func (p *Payment) IsTerminal() bool {
	return p.Status != StatusPending
}

// Store persists payment data.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	// GetActiveByOrder returns the pending or succeeded payment for an
	// order, if one exists. Failed attempts don't count.
	GetActiveByOrder(ctx context.Context, orderID string) (*Payment, error)
	ListByOrder(ctx context.Context, orderID string, limit int) ([]*Payment, error)
}

// OrderInfo is the order snapshot the adapter needs.
type OrderInfo struct {
	ID         string
	BuyerID    string
	FinalPrice string
	Currency   string
}

// OrderManager is the order lifecycle seen from the payment side.
type OrderManager interface {
	// BeginPayment validates the order can take a payment, moves it to
	// payment_pending, and returns its snapshot.
	BeginPayment(ctx context.Context, orderID, paymentID string) (OrderInfo, error)
	// PaymentSucceeded applies the payment-success transition (escrow
	// hold + processing) atomically.
	PaymentSucceeded(ctx context.Context, orderID, paymentID string) error
}

// Processor submits a capture attempt to the external payment rail.
// Results come back asynchronously through HandleResult.
type Processor interface {
	Name() string
	Submit(ctx context.Context, p *Payment) error
}

// EventEmitter publishes lifecycle events. Fire and forget.
type EventEmitter interface {
	Emit(event string, data map[string]any)
}

// CreateRequest contains the parameters for opening a payment.
type CreateRequest struct {
	OrderID string `json:"orderId" binding:"required"`
	Method  string `json:"method"`
}

// Service implements the payment adapter.
type Service struct {
	store     Store
	orders    OrderManager
	processor Processor
	emitter   EventEmitter
	locks     sync.Map // per-payment ID locks; order locks live in the order manager
}

// NewService creates a new payment service.
func NewService(store Store, orders OrderManager, processor Processor) *Service {
	return &Service{
		store:     store,
		orders:    orders,
		processor: processor,
	}
}

// WithEmitter adds a lifecycle event emitter.
func (s *Service) WithEmitter(e EventEmitter) *Service {
	s.emitter = e
	return s
}

func (s *Service) paymentLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) emit(event string, data map[string]any) {
	if s.emitter != nil {
		s.emitter.Emit(event, data)
	}
}

// Create opens a payment attempt for an order. Buyer only. The amount
// always comes from the order, never from the request.
func (s *Service) Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*Payment, error) {
	if existing, err := s.store.GetActiveByOrder(ctx, req.OrderID); err == nil {
		return nil, fmt.Errorf("order %s already has %s payment %s: %w",
			req.OrderID, existing.Status, existing.ID, apperrors.ErrConflict)
	}

	paymentID := idgen.WithPrefix("pay_")
	info, err := s.orders.BeginPayment(ctx, req.OrderID, paymentID)
	if err != nil {
		return nil, err
	}
	if actor.ID != info.BuyerID {
		return nil, fmt.Errorf("only the buyer may pay for an order: %w", apperrors.ErrUnauthorized)
	}

	method := req.Method
	if method == "" {
		method = s.processor.Name()
	}

	now := time.Now()
	p := &Payment{
		ID:            paymentID,
		PaymentNumber: idgen.Number("PAY", now),
		OrderID:       info.ID,
		BuyerID:       info.BuyerID,
		Method:        method,
		Amount:        info.FinalPrice,
		Currency:      info.Currency,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	if err := s.processor.Submit(ctx, p); err != nil {
		// Processor unreachable: fail this attempt, leave the order
		// payment_pending so a fresh attempt can follow.
		s.markFailed(ctx, p, fmt.Sprintf("processor submit failed: %v", err))
		return nil, fmt.Errorf("submit payment %s: %w", p.ID, apperrors.ErrExternal)
	}

	metrics.PaymentsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.emit("payment.created", map[string]any{
		"paymentId": p.ID, "orderId": p.OrderID, "amount": p.Amount, "method": p.Method,
	})
	return p, nil
}

// HandleResult applies an asynchronous processor result. Idempotent per
// payment: re-delivering the same outcome is a no-op.
func (s *Service) HandleResult(ctx context.Context, paymentID string, succeeded bool, transactionID string) error {
	mu := s.paymentLock(paymentID)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return err
	}

	if p.IsTerminal() {
		if (succeeded && p.Status == StatusSucceeded) || (!succeeded && p.Status == StatusFailed) {
			return nil // duplicate webhook delivery
		}
		return fmt.Errorf("payment %s already %s: %w", p.ID, p.Status, apperrors.ErrConflict)
	}

	if !succeeded {
		s.markFailed(ctx, p, "declined by processor")
		s.emit("payment.failed", map[string]any{"paymentId": p.ID, "orderId": p.OrderID})
		return nil
	}

	// Escrow hold + order transition happen under the order lock inside
	// the order manager; this call is the single ordered step.
	if err := s.orders.PaymentSucceeded(ctx, p.OrderID, p.ID); err != nil {
		if errors.Is(err, apperrors.ErrInvalidState) {
			// Late callback for an order that can no longer take money.
			// Discard: void the payment, keep the order as it is.
			logging.L(ctx).Warn("voiding payment after late success callback",
				"paymentId", p.ID, "orderId", p.OrderID, "error", err)
			s.markFailed(ctx, p, "success arrived after order settled, payment voided")
			return nil
		}
		// Escrow hold failed: revert this attempt to retryable failed.
		s.markFailed(ctx, p, fmt.Sprintf("escrow hold failed: %v", err))
		return fmt.Errorf("apply payment success for %s: %w", p.ID, err)
	}

	now := time.Now()
	p.Status = StatusSucceeded
	p.TransactionID = transactionID
	p.PaidAt = &now
	p.UpdatedAt = now
	if err := s.store.Update(ctx, p); err != nil {
		// Retry once: the order already moved to processing.
		if retryErr := s.store.Update(ctx, p); retryErr != nil {
			logging.L(ctx).Error("CRITICAL: order processing but payment record stale",
				"paymentId", p.ID, "orderId", p.OrderID, "error", retryErr)
			return fmt.Errorf("persist succeeded payment %s (requires manual resolution): %w", p.ID, err)
		}
	}

	metrics.PaymentsTotal.WithLabelValues(string(StatusSucceeded)).Inc()
	return nil
}

// MarkRefunded records that the escrow refund returned this payment's
// funds. Internal, called from the settlement path.
func (s *Service) MarkRefunded(ctx context.Context, paymentID string) error {
	mu := s.paymentLock(paymentID)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Status != StatusSucceeded {
		return fmt.Errorf("refund requires succeeded, payment is %s: %w", p.Status, apperrors.ErrInvalidState)
	}

	p.Status = StatusRefunded
	p.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, p); err != nil {
		return fmt.Errorf("update payment %s: %w", paymentID, err)
	}

	metrics.PaymentsTotal.WithLabelValues(string(StatusRefunded)).Inc()
	return nil
}

// Get returns a payment by ID.
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.store.Get(ctx, id)
}

// ListByOrder returns all attempts for an order, newest first.
func (s *Service) ListByOrder(ctx context.Context, orderID string, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByOrder(ctx, orderID, limit)
}

func (s *Service) markFailed(ctx context.Context, p *Payment, reason string) {
	p.Status = StatusFailed
	p.FailureReason = reason
	p.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, p); err != nil {
		logging.L(ctx).Error("failed to mark payment failed", "paymentId", p.ID, "error", err)
	}
	metrics.PaymentsTotal.WithLabelValues(string(StatusFailed)).Inc()
}
