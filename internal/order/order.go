// Package order drives a sale from agreed price to settlement.
//
// Flow:
//  1. Offer accepted (or direct purchase) → order pending
//  2. Payment opened → payment_pending
//  3. Payment succeeds → escrow held, order processing (one atomic step)
//  4. Seller completes → completed, listing marked sold
//  5. Buyer requests refund → refund_requested; escrow refund → refunded
//
// Cancellation is only possible before money is held: from pending, or
// from payment_pending while no payment has succeeded. Once an escrow
// exists the order can never become cancelled; the buyer must go through
// the refund path instead.
package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
	"github.com/assetbay/assetbay/internal/idgen"
	"github.com/assetbay/assetbay/internal/logging"
	"github.com/assetbay/assetbay/internal/metrics"
	"github.com/assetbay/assetbay/internal/money"
)

// Status represents the state of an order.
type Status string

const (
	StatusPending         Status = "pending"
	StatusPaymentPending  Status = "payment_pending"
	StatusProcessing      Status = "processing" // paid, escrow held
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusRefundRequested Status = "refund_requested"
	StatusRefunded        Status = "refunded"
)

// Source records how the order came to exist.
type Source string

const (
	SourceOffer  Source = "offer"
	SourceDirect Source = "direct"
)

// transitions is the order state machine. A transition absent from this
// table is illegal no matter who asks.
var transitions = map[Status][]Status{
	StatusPending:         {StatusPaymentPending, StatusCancelled},
	StatusPaymentPending:  {StatusPaymentPending, StatusProcessing, StatusCancelled},
	StatusProcessing:      {StatusCompleted, StatusRefundRequested},
	StatusCompleted:       {StatusRefundRequested},
	StatusRefundRequested: {StatusRefunded},
}

// CanTransition reports whether from → to is a legal order transition.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Order represents one transaction instance.
type Order struct {
	ID           string `json:"id"`
	OrderNumber  string `json:"orderNumber"`
	ListingID    string `json:"listingId"`
	OfferID      string `json:"offerId,omitempty"`
	BuyerID      string `json:"buyerId"`
	SellerID     string `json:"sellerId"`
	ListingPrice string `json:"listingPrice"`
	FinalPrice   string `json:"finalPrice"`
	PlatformFee  string `json:"platformFee"`
	SellerAmount string `json:"sellerAmount"`
	Currency     string `json:"currency"`
	Source       Source `json:"source"`
	Status       Status `json:"status"`
	PaymentID    string `json:"paymentId,omitempty"`
	EscrowID     string `json:"escrowId,omitempty"`
	CancelReason string `json:"cancelReason,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	RefundedAt  *time.Time `json:"refundedAt,omitempty"`
}

// IsTerminal returns true if the order is in a final state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Store persists order data.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error)
	ListByListing(ctx context.Context, listingID string, limit int) ([]*Order, error)
}

// ListingSnapshot is the slice of listing state order creation cares about.
type ListingSnapshot struct {
	ID       string
	SellerID string
	Price    string
	Currency string
	Sellable bool
}

// ListingDirectory resolves listings without importing the listing package.
type ListingDirectory interface {
	GetListing(ctx context.Context, id string) (ListingSnapshot, error)
}

// ListingMarker flips a listing to sold when its order completes.
type ListingMarker interface {
	MarkSold(ctx context.Context, listingID string) error
}

// EscrowHolder opens the custody hold when a payment succeeds.
type EscrowHolder interface {
	Hold(ctx context.Context, orderID, amount, platformFee, sellerAmount, currency string) (escrowID string, err error)
}

// EventEmitter publishes lifecycle events. Fire and forget.
type EventEmitter interface {
	Emit(event string, data map[string]any)
}

// Service implements the order lifecycle.
type Service struct {
	store         Store
	listings      ListingDirectory
	marker        ListingMarker
	escrows       EscrowHolder
	emitter       EventEmitter
	commissionPct decimal.Decimal
	locks         sync.Map // per-order ID locks
}

// NewService creates a new order service. commissionPct is the platform
// fee as a percentage of final price (e.g. 10 for 10%).
func NewService(store Store, listings ListingDirectory, commissionPct decimal.Decimal) *Service {
	return &Service{
		store:         store,
		listings:      listings,
		commissionPct: commissionPct,
	}
}

// WithListingMarker adds the listing-sold callback for order completion.
func (s *Service) WithListingMarker(m ListingMarker) *Service {
	s.marker = m
	return s
}

// WithEscrowHolder adds the escrow collaborator for payment success.
func (s *Service) WithEscrowHolder(e EscrowHolder) *Service {
	s.escrows = e
	return s
}

// WithEmitter adds a lifecycle event emitter.
func (s *Service) WithEmitter(e EventEmitter) *Service {
	s.emitter = e
	return s
}

func (s *Service) orderLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) emit(event string, data map[string]any) {
	if s.emitter != nil {
		s.emitter.Emit(event, data)
	}
}

// CreateFromOffer opens an order for an accepted offer. Called by the
// offer engine as part of acceptance; final price is the offer amount.
func (s *Service) CreateFromOffer(ctx context.Context, listingID, buyerID, sellerID, amount, currency, offerID string) (string, error) {
	o, err := s.create(ctx, listingID, buyerID, sellerID, amount, currency, offerID, SourceOffer)
	if err != nil {
		return "", err
	}
	return o.ID, nil
}

// CreateDirect opens an order at the full listing price, no negotiation.
func (s *Service) CreateDirect(ctx context.Context, actor auth.Actor, listingID string) (*Order, error) {
	l, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if actor.ID == l.SellerID {
		return nil, fmt.Errorf("seller cannot buy own listing: %w", apperrors.ErrValidation)
	}
	return s.create(ctx, listingID, actor.ID, l.SellerID, l.Price, l.Currency, "", SourceDirect)
}

func (s *Service) create(ctx context.Context, listingID, buyerID, sellerID, amount, currency, offerID string, source Source) (*Order, error) {
	finalPrice, err := money.Parse(amount)
	if err != nil {
		return nil, err
	}

	l, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !l.Sellable {
		return nil, fmt.Errorf("listing %s is not sellable: %w", listingID, apperrors.ErrValidation)
	}

	fee, sellerAmount := money.Split(finalPrice, s.commissionPct)

	now := time.Now()
	o := &Order{
		ID:           idgen.WithPrefix("ord_"),
		OrderNumber:  idgen.Number("ORD", now),
		ListingID:    listingID,
		OfferID:      offerID,
		BuyerID:      buyerID,
		SellerID:     sellerID,
		ListingPrice: l.Price,
		FinalPrice:   money.Format(finalPrice),
		PlatformFee:  money.Format(fee),
		SellerAmount: money.Format(sellerAmount),
		Currency:     currency,
		Source:       source,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusPending)).Inc()
	s.emit("order.created", map[string]any{
		"orderId": o.ID, "orderNumber": o.OrderNumber, "listingId": o.ListingID,
		"buyerId": o.BuyerID, "finalPrice": o.FinalPrice,
	})
	return o, nil
}

// VoidOrder cancels an order as compensation for a failed offer
// acceptance. Internal; skips actor checks.
func (s *Service) VoidOrder(ctx context.Context, orderID, reason string) error {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != StatusPending {
		return fmt.Errorf("void requires pending, order is %s: %w", o.Status, apperrors.ErrInvalidState)
	}

	now := time.Now()
	o.Status = StatusCancelled
	o.CancelReason = reason
	o.CancelledAt = &now
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		return fmt.Errorf("void order %s: %w", orderID, err)
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusCancelled)).Inc()
	return nil
}

// BeginPayment moves an order to payment_pending for a new payment
// attempt and returns a snapshot for the payment adapter. Idempotent
// from payment_pending (retry after a failed attempt).
func (s *Service) BeginPayment(ctx context.Context, orderID, paymentID string) (*Order, error) {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusPaymentPending) {
		return nil, fmt.Errorf("payment not allowed while order is %s: %w", o.Status, apperrors.ErrInvalidState)
	}

	o.Status = StatusPaymentPending
	o.PaymentID = paymentID
	o.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("update order %s: %w", orderID, err)
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusPaymentPending)).Inc()
	return o, nil
}

// ProcessPaymentSucceeded applies the payment-success transition:
// escrow hold and order → processing as one step under the order lock.
// If the hold fails, nothing is applied and the payment adapter reverts
// the payment to a retryable state. Late callbacks for orders that can
// no longer accept payment are rejected with ErrInvalidState; the
// adapter discards them and voids the payment.
func (s *Service) ProcessPaymentSucceeded(ctx context.Context, orderID, paymentID string) error {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}

	if o.Status == StatusCancelled || o.Status == StatusRefunded {
		logging.L(ctx).Warn("discarding late payment success for settled order",
			"orderId", o.ID, "paymentId", paymentID, "orderStatus", string(o.Status))
		return fmt.Errorf("order %s is %s, late payment callback discarded: %w", o.ID, o.Status, apperrors.ErrInvalidState)
	}
	if !CanTransition(o.Status, StatusProcessing) {
		return fmt.Errorf("payment success not applicable while order is %s: %w", o.Status, apperrors.ErrInvalidState)
	}

	if s.escrows == nil {
		return fmt.Errorf("no escrow holder configured: %w", apperrors.ErrExternal)
	}
	escrowID, err := s.escrows.Hold(ctx, o.ID, o.FinalPrice, o.PlatformFee, o.SellerAmount, o.Currency)
	if err != nil {
		return fmt.Errorf("hold escrow for order %s: %w", o.ID, err)
	}

	now := time.Now()
	o.Status = StatusProcessing
	o.PaymentID = paymentID
	o.EscrowID = escrowID
	o.PaidAt = &now
	o.UpdatedAt = now

	if err := s.store.Update(ctx, o); err != nil {
		// Retry once: the escrow is already held, the record must follow.
		if retryErr := s.store.Update(ctx, o); retryErr != nil {
			logging.L(ctx).Error("CRITICAL: escrow held but order update failed",
				"orderId", o.ID, "escrowId", escrowID, "error", retryErr)
			return fmt.Errorf("order %s update after escrow hold failed (requires manual resolution): %w", o.ID, err)
		}
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusProcessing)).Inc()
	s.emit("payment.succeeded", map[string]any{
		"orderId": o.ID, "paymentId": paymentID, "escrowId": escrowID, "amount": o.FinalPrice,
	})
	return nil
}

// Cancel cancels an order before any money is held. Buyer or seller.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, orderID, reason string) (*Order, error) {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.ID != o.BuyerID && actor.ID != o.SellerID && !actor.IsAdmin() {
		return nil, fmt.Errorf("only buyer or seller may cancel: %w", apperrors.ErrUnauthorized)
	}
	if o.EscrowID != "" || o.Status == StatusProcessing {
		return nil, fmt.Errorf("order %s has funds in escrow, request a refund instead: %w", o.ID, apperrors.ErrInvalidState)
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return nil, fmt.Errorf("cancel not allowed while order is %s: %w", o.Status, apperrors.ErrInvalidState)
	}

	now := time.Now()
	o.Status = StatusCancelled
	o.CancelReason = reason
	o.CancelledAt = &now
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("update order %s: %w", orderID, err)
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusCancelled)).Inc()
	s.emit("order.cancelled", map[string]any{"orderId": o.ID, "reason": reason})
	return o, nil
}

// Complete finishes a processing order. Seller only. Marks the listing
// sold; the escrow stays held until explicitly released.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, orderID string) (*Order, error) {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.ID != o.SellerID {
		return nil, fmt.Errorf("only the seller may complete an order: %w", apperrors.ErrUnauthorized)
	}
	if o.Status != StatusProcessing {
		return nil, fmt.Errorf("complete requires processing, order is %s: %w", o.Status, apperrors.ErrInvalidState)
	}

	now := time.Now()
	o.Status = StatusCompleted
	o.CompletedAt = &now
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("update order %s: %w", orderID, err)
	}

	if s.marker != nil {
		if err := s.marker.MarkSold(ctx, o.ListingID); err != nil {
			logging.L(ctx).Error("CRITICAL: order completed but listing not marked sold",
				"orderId", o.ID, "listingId", o.ListingID, "error", err)
		}
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusCompleted)).Inc()
	s.emit("order.completed", map[string]any{
		"orderId": o.ID, "listingId": o.ListingID, "sellerAmount": o.SellerAmount,
	})
	return o, nil
}

// RequestRefund asks for the buyer's money back. Buyer only; from
// processing or completed. Moves no money itself; the escrow refund
// settles it and flips the order to refunded.
func (s *Service) RequestRefund(ctx context.Context, actor auth.Actor, orderID string) (*Order, error) {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actor.ID != o.BuyerID {
		return nil, fmt.Errorf("only the buyer may request a refund: %w", apperrors.ErrUnauthorized)
	}
	if !CanTransition(o.Status, StatusRefundRequested) {
		return nil, fmt.Errorf("refund request not allowed while order is %s: %w", o.Status, apperrors.ErrInvalidState)
	}

	o.Status = StatusRefundRequested
	o.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, o); err != nil {
		return nil, fmt.Errorf("update order %s: %w", orderID, err)
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusRefundRequested)).Inc()
	s.emit("order.refund_requested", map[string]any{"orderId": o.ID, "buyerId": o.BuyerID})
	return o, nil
}

// MarkRefunded finalizes the refund path. Called by the escrow ledger
// after the refund settles; internal, no actor check.
func (s *Service) MarkRefunded(ctx context.Context, orderID string) error {
	mu := s.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !CanTransition(o.Status, StatusRefunded) {
		return fmt.Errorf("mark refunded requires refund_requested, order is %s: %w", o.Status, apperrors.ErrInvalidState)
	}

	now := time.Now()
	o.Status = StatusRefunded
	o.RefundedAt = &now
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		return fmt.Errorf("update order %s: %w", orderID, err)
	}

	metrics.OrdersTotal.WithLabelValues(string(StatusRefunded)).Inc()
	s.emit("order.refunded", map[string]any{"orderId": o.ID})
	return nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns orders where the user is buyer or seller.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}
