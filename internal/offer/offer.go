// Package offer implements price negotiation between buyer and seller.
//
// Flow:
//  1. Buyer offers a price on an active, negotiable listing → pending
//  2. Seller accepts → order created, offer accepted (one atomic step)
//  3. Seller rejects / counters, buyer withdraws → terminal
//  4. Deadline passes → expired (lazily on read, backstopped by the timer)
//
// A counter marks the original offer countered and opens a new pending
// offer in the opposite direction, linked by parentOfferId. Exactly one
// pending offer may exist per (listing, buyer) at a time.
package offer

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
	"github.com/assetbay/assetbay/internal/money"
)

// Status represents the state of an offer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"  // Order created
	StatusRejected  Status = "rejected"  // Counterparty declined
	StatusCountered Status = "countered" // Superseded by a counter-offer
	StatusWithdrawn Status = "withdrawn" // Maker pulled it back
	StatusExpired   Status = "expired"   // Deadline passed
)

// Direction records who made the offer.
type Direction string

const (
	DirectionBuyer  Direction = "buyer"  // buyer → seller
	DirectionSeller Direction = "seller" // seller → buyer (counter)
)

// DefaultTTL is how long a pending offer lives when the buyer sets no
// explicit deadline.
const DefaultTTL = 7 * 24 * time.Hour

// Offer represents a proposed price against one listing.
type Offer struct {
	ID            string     `json:"id"`
	ListingID     string     `json:"listingId"`
	BuyerID       string     `json:"buyerId"`
	SellerID      string     `json:"sellerId"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Message       string     `json:"message,omitempty"`
	Direction     Direction  `json:"direction"`
	Status        Status     `json:"status"`
	ParentOfferID string     `json:"parentOfferId,omitempty"`
	OrderID       string     `json:"orderId,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the offer is in a final state.
func (o *Offer) IsTerminal() bool {
	return o.Status != StatusPending
}

// maker is the party who created this offer; taker is the party who may
// accept, reject, or counter it.
func (o *Offer) maker() string {
	if o.Direction == DirectionSeller {
		return o.SellerID
	}
	return o.BuyerID
}

func (o *Offer) taker() string {
	if o.Direction == DirectionSeller {
		return o.BuyerID
	}
	return o.SellerID
}

// Store persists offer data.
type Store interface {
	Create(ctx context.Context, o *Offer) error
	Get(ctx context.Context, id string) (*Offer, error)
	Update(ctx context.Context, o *Offer) error
	GetPending(ctx context.Context, listingID, buyerID string) (*Offer, error)
	ListByListing(ctx context.Context, listingID string, limit int) ([]*Offer, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Offer, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Offer, error)
}

// ListingSnapshot is the slice of listing state negotiation cares about.
type ListingSnapshot struct {
	ID         string
	SellerID   string
	Currency   string
	Negotiable bool
	Sellable   bool
}

// ListingDirectory resolves listings without importing the listing package.
type ListingDirectory interface {
	GetListing(ctx context.Context, id string) (ListingSnapshot, error)
}

// OrderCreator opens an order when an offer is accepted. VoidOrder is the
// compensating action if the offer record cannot be updated afterwards.
type OrderCreator interface {
	CreateFromOffer(ctx context.Context, listingID, buyerID, sellerID, amount, currency, offerID string) (orderID string, err error)
	VoidOrder(ctx context.Context, orderID, reason string) error
}

// EventEmitter publishes lifecycle events. Fire and forget.
type EventEmitter interface {
	Emit(event string, data map[string]any)
}

// CreateRequest contains the parameters for creating an offer.
type CreateRequest struct {
	ListingID string `json:"listingId" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Currency  string `json:"currency"`
	Message   string `json:"message"`
	ExpiresAt string `json:"expiresAt"` // RFC 3339, optional
}

// CounterRequest contains the parameters for countering an offer.
type CounterRequest struct {
	Amount  string `json:"amount" binding:"required"`
	Message string `json:"message"`
}

// Service implements offer negotiation logic.
type Service struct {
	store      Store
	listings   ListingDirectory
	orders     OrderCreator
	emitter    EventEmitter
	defaultTTL time.Duration

	offerLocks   sync.Map // per-offer ID locks for state transitions
	listingLocks sync.Map // per-listing ID locks for the pending-singleton check
}

// NewService creates a new offer service.
func NewService(store Store, listings ListingDirectory, orders OrderCreator) *Service {
	return &Service{
		store:      store,
		listings:   listings,
		orders:     orders,
		defaultTTL: DefaultTTL,
	}
}

// WithEmitter adds a lifecycle event emitter.
func (s *Service) WithEmitter(e EventEmitter) *Service {
	s.emitter = e
	return s
}

// WithDefaultTTL overrides the default pending-offer lifetime.
func (s *Service) WithDefaultTTL(d time.Duration) *Service {
	if d > 0 {
		s.defaultTTL = d
	}
	return s
}

func (s *Service) offerLock(id string) *sync.Mutex {
	v, _ := s.offerLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) listingLock(id string) *sync.Mutex {
	v, _ := s.listingLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Service) emit(event string, data map[string]any) {
	if s.emitter != nil {
		s.emitter.Emit(event, data)
	}
}

// Create places a new buyer offer on a listing.
func (s *Service) Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*Offer, error) {
	if _, err := money.Parse(req.Amount); err != nil {
		return nil, err
	}

	l, err := s.listings.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if !l.Sellable {
		return nil, fmt.Errorf("listing %s is not accepting offers: %w", l.ID, apperrors.ErrInvalidState)
	}
	if !l.Negotiable {
		return nil, fmt.Errorf("listing %s has a fixed price: %w", l.ID, apperrors.ErrValidation)
	}
	if actor.ID == l.SellerID {
		return nil, fmt.Errorf("seller cannot offer on own listing: %w", apperrors.ErrValidation)
	}

	currency := l.Currency
	if req.Currency != "" {
		c, err := money.ParseCurrency(req.Currency)
		if err != nil {
			return nil, err
		}
		if string(c) != l.Currency {
			return nil, fmt.Errorf("offer currency %s does not match listing currency %s: %w", c, l.Currency, apperrors.ErrValidation)
		}
	}

	expiresAt, err := s.resolveExpiry(req.ExpiresAt)
	if err != nil {
		return nil, err
	}

	// Serialize against other creates (and counters) on this listing so
	// the one-pending-per-(listing,buyer) invariant holds under races.
	mu := s.listingLock(l.ID)
	mu.Lock()
	defer mu.Unlock()

	if existing, err := s.store.GetPending(ctx, l.ID, actor.ID); err == nil {
		// The stale pending offer may itself have lapsed.
		if !s.lapse(ctx, existing) {
			return nil, fmt.Errorf("buyer already has pending offer %s on this listing: %w", existing.ID, apperrors.ErrConflict)
		}
	}

	now := time.Now()
	o := &Offer{
		ID:        idgen.WithPrefix("off_"),
		ListingID: l.ID,
		BuyerID:   actor.ID,
		SellerID:  l.SellerID,
		Amount:    req.Amount,
		Currency:  currency,
		Message:   req.Message,
		Direction: DirectionBuyer,
		Status:    StatusPending,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}

	metrics.OffersTotal.WithLabelValues(string(StatusPending)).Inc()
	s.emit("offer.created", map[string]any{
		"offerId": o.ID, "listingId": o.ListingID, "buyerId": o.BuyerID, "amount": o.Amount,
	})
	return o, nil
}

// Accept accepts a pending offer and creates the order. Only the taker
// (the party the offer was made to) may accept. Acceptance and order
// creation are one atomic step: no offer becomes accepted without an
// order existing.
func (s *Service) Accept(ctx context.Context, actor auth.Actor, id string) (*Offer, error) {
	mu := s.offerLock(id)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.pendingForTaker(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	orderID, err := s.orders.CreateFromOffer(ctx, o.ListingID, o.BuyerID, o.SellerID, o.Amount, o.Currency, o.ID)
	if err != nil {
		return nil, fmt.Errorf("create order for offer %s: %w", o.ID, err)
	}

	now := time.Now()
	o.Status = StatusAccepted
	o.OrderID = orderID
	o.ResolvedAt = &now
	o.UpdatedAt = now

	if err := s.store.Update(ctx, o); err != nil {
		// Compensate: the order must not outlive a failed acceptance.
		if voidErr := s.orders.VoidOrder(ctx, orderID, "offer acceptance failed to persist"); voidErr != nil {
			logging.L(ctx).Error("CRITICAL: order created but offer update and compensation both failed",
				"offerId", o.ID, "orderId", orderID, "updateErr", err, "voidErr", voidErr)
		}
		return nil, fmt.Errorf("persist accepted offer %s: %w", o.ID, err)
	}

	metrics.OffersTotal.WithLabelValues(string(StatusAccepted)).Inc()
	s.emit("offer.accepted", map[string]any{
		"offerId": o.ID, "listingId": o.ListingID, "orderId": orderID, "amount": o.Amount,
	})
	return o, nil
}

// Reject declines a pending offer. Taker only. Terminal.
func (s *Service) Reject(ctx context.Context, actor auth.Actor, id string) (*Offer, error) {
	mu := s.offerLock(id)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.pendingForTaker(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if err := s.resolve(ctx, o, StatusRejected); err != nil {
		return nil, err
	}

	s.emit("offer.rejected", map[string]any{"offerId": o.ID, "listingId": o.ListingID})
	return o, nil
}

// Withdraw pulls back a pending offer. Maker only. Terminal.
func (s *Service) Withdraw(ctx context.Context, actor auth.Actor, id string) (*Offer, error) {
	mu := s.offerLock(id)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.getLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != o.maker() {
		return nil, fmt.Errorf("only the offer's maker may withdraw: %w", apperrors.ErrUnauthorized)
	}
	if o.IsTerminal() {
		return nil, fmt.Errorf("offer %s is %s: %w", o.ID, o.Status, apperrors.ErrInvalidState)
	}

	if err := s.resolve(ctx, o, StatusWithdrawn); err != nil {
		return nil, err
	}

	s.emit("offer.withdrawn", map[string]any{"offerId": o.ID, "listingId": o.ListingID})
	return o, nil
}

// Counter closes a pending offer as countered and opens a new pending
// offer back at the other party with the new amount.
func (s *Service) Counter(ctx context.Context, actor auth.Actor, id string, req CounterRequest) (*Offer, error) {
	if _, err := money.Parse(req.Amount); err != nil {
		return nil, err
	}

	mu := s.offerLock(id)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.pendingForTaker(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	if err := s.resolve(ctx, o, StatusCountered); err != nil {
		return nil, err
	}

	direction := DirectionBuyer
	if actor.ID == o.SellerID {
		direction = DirectionSeller
	}

	now := time.Now()
	expiresAt := now.Add(s.defaultTTL)
	counter := &Offer{
		ID:            idgen.WithPrefix("off_"),
		ListingID:     o.ListingID,
		BuyerID:       o.BuyerID,
		SellerID:      o.SellerID,
		Amount:        req.Amount,
		Currency:      o.Currency,
		Message:       req.Message,
		Direction:     direction,
		Status:        StatusPending,
		ParentOfferID: o.ID,
		ExpiresAt:     &expiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// The original just left pending, so the singleton slot for this
	// (listing, buyer) pair is free; take the listing lock anyway to
	// serialize against a racing Create.
	lmu := s.listingLock(o.ListingID)
	lmu.Lock()
	defer lmu.Unlock()

	if err := s.store.Create(ctx, counter); err != nil {
		return nil, fmt.Errorf("create counter-offer: %w", err)
	}

	metrics.OffersTotal.WithLabelValues(string(StatusCountered)).Inc()
	s.emit("offer.countered", map[string]any{
		"offerId": o.ID, "counterOfferId": counter.ID, "listingId": o.ListingID, "amount": counter.Amount,
	})
	return counter, nil
}

// Get returns an offer by ID, applying lazy expiry first.
func (s *Service) Get(ctx context.Context, id string) (*Offer, error) {
	mu := s.offerLock(id)
	mu.Lock()
	defer mu.Unlock()

	return s.getLive(ctx, id)
}

// ListByListing returns offers on a listing, newest first.
func (s *Service) ListByListing(ctx context.Context, listingID string, limit int) ([]*Offer, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByListing(ctx, listingID, limit)
}

// ListByUser returns offers where the user is buyer or seller.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Offer, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// ExpireOffer transitions a pending offer past its deadline to expired.
// Used by the sweeper; lazy expiry covers the read/mutate paths.
func (s *Service) ExpireOffer(ctx context.Context, id string) error {
	mu := s.offerLock(id)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if o.IsTerminal() {
		return fmt.Errorf("offer %s already %s: %w", o.ID, o.Status, apperrors.ErrInvalidState)
	}
	if o.ExpiresAt == nil || time.Now().Before(*o.ExpiresAt) {
		return fmt.Errorf("offer %s has not expired yet: %w", o.ID, apperrors.ErrInvalidState)
	}

	if err := s.resolve(ctx, o, StatusExpired); err != nil {
		return err
	}

	metrics.OffersExpiredTotal.Inc()
	s.emit("offer.expired", map[string]any{"offerId": o.ID, "listingId": o.ListingID})
	return nil
}

// getLive loads an offer and applies lazy expiry. Caller holds the
// offer lock.
func (s *Service) getLive(ctx context.Context, id string) (*Offer, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.lapse(ctx, o)
	return o, nil
}

// lapse expires a pending offer whose deadline has passed. Returns true
// if the offer was expired by this call.
func (s *Service) lapse(ctx context.Context, o *Offer) bool {
	if o.Status != StatusPending || o.ExpiresAt == nil || time.Now().Before(*o.ExpiresAt) {
		return false
	}
	now := time.Now()
	o.Status = StatusExpired
	o.ResolvedAt = &now
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		logging.L(ctx).Warn("failed to persist lazy offer expiry", "offerId", o.ID, "error", err)
		return true
	}
	metrics.OffersExpiredTotal.Inc()
	s.emit("offer.expired", map[string]any{"offerId": o.ID, "listingId": o.ListingID})
	return true
}

// pendingForTaker loads the offer, applies lazy expiry, and checks the
// actor is the party entitled to act on it. Caller holds the offer lock.
func (s *Service) pendingForTaker(ctx context.Context, actor auth.Actor, id string) (*Offer, error) {
	o, err := s.getLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != o.taker() {
		return nil, fmt.Errorf("actor %s may not act on offer %s: %w", actor.ID, o.ID, apperrors.ErrUnauthorized)
	}
	if o.Status != StatusPending {
		return nil, fmt.Errorf("offer %s is %s: %w", o.ID, o.Status, apperrors.ErrInvalidState)
	}
	return o, nil
}

// resolve writes a terminal status. Caller holds the offer lock and has
// validated the transition.
func (s *Service) resolve(ctx context.Context, o *Offer, to Status) error {
	now := time.Now()
	o.Status = to
	o.ResolvedAt = &now
	o.UpdatedAt = now
	if err := s.store.Update(ctx, o); err != nil {
		return fmt.Errorf("update offer %s: %w", o.ID, err)
	}
	metrics.OffersTotal.WithLabelValues(string(to)).Inc()
	return nil
}

func (s *Service) resolveExpiry(raw string) (*time.Time, error) {
	if raw == "" {
		t := time.Now().Add(s.defaultTTL)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("expiresAt must be RFC 3339: %w", apperrors.ErrValidation)
	}
	if !t.After(time.Now()) {
		return nil, fmt.Errorf("expiresAt must be in the future: %w", apperrors.ErrValidation)
	}
	return &t, nil
}
