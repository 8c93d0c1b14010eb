package offer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
	"github.com/assetbay/assetbay/internal/idgen"
)

var (
	seller = auth.Actor{ID: "usr_seller1", Role: auth.RoleUser}
	buyer  = auth.Actor{ID: "usr_buyer1", Role: auth.RoleUser}
	buyer2 = auth.Actor{ID: "usr_buyer2", Role: auth.RoleUser}
)

type fakeListings struct {
	listings map[string]ListingSnapshot
}

func (f *fakeListings) GetListing(ctx context.Context, id string) (ListingSnapshot, error) {
	l, ok := f.listings[id]
	if !ok {
		return ListingSnapshot{}, fmt.Errorf("listing %s: %w", id, apperrors.ErrNotFound)
	}
	return l, nil
}

type fakeOrders struct {
	mu      sync.Mutex
	created int
	voided  int
	fail    bool
}

func (f *fakeOrders) CreateFromOffer(ctx context.Context, listingID, buyerID, sellerID, amount, currency, offerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", fmt.Errorf("order store down: %w", apperrors.ErrExternal)
	}
	f.created++
	return idgen.WithPrefix("ord_"), nil
}

func (f *fakeOrders) VoidOrder(ctx context.Context, orderID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voided++
	return nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func newTestService() (*Service, *fakeOrders, *MemoryStore) {
	listings := &fakeListings{listings: map[string]ListingSnapshot{
		"lst_negotiable": {ID: "lst_negotiable", SellerID: seller.ID, Currency: "USD", Negotiable: true, Sellable: true},
		"lst_fixed":      {ID: "lst_fixed", SellerID: seller.ID, Currency: "USD", Negotiable: false, Sellable: true},
		"lst_sold":       {ID: "lst_sold", SellerID: seller.ID, Currency: "USD", Negotiable: true, Sellable: false},
	}}
	orders := &fakeOrders{}
	store := NewMemoryStore()
	return NewService(store, listings, orders), orders, store
}

func createPending(t *testing.T, s *Service) *Offer {
	t.Helper()
	o, err := s.Create(context.Background(), buyer, CreateRequest{
		ListingID: "lst_negotiable",
		Amount:    "2500.00",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return o
}

func TestCreate(t *testing.T) {
	s, _, _ := newTestService()
	o := createPending(t, s)

	if o.Status != StatusPending {
		t.Errorf("Expected pending, got %s", o.Status)
	}
	if o.Direction != DirectionBuyer {
		t.Errorf("Expected buyer direction, got %s", o.Direction)
	}
	if o.SellerID != seller.ID {
		t.Errorf("Expected seller %s, got %s", seller.ID, o.SellerID)
	}
	if o.ExpiresAt == nil {
		t.Error("Expected default TTL to set expiresAt")
	}
}

func TestCreate_SecondPendingConflicts(t *testing.T) {
	s, _, _ := newTestService()
	createPending(t, s)

	_, err := s.Create(context.Background(), buyer, CreateRequest{
		ListingID: "lst_negotiable",
		Amount:    "2600.00",
	})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Expected conflict, got %v", err)
	}

	// A different buyer is unaffected
	if _, err := s.Create(context.Background(), buyer2, CreateRequest{
		ListingID: "lst_negotiable",
		Amount:    "2600.00",
	}); err != nil {
		t.Errorf("Second buyer's offer should succeed, got %v", err)
	}
}

func TestCreate_ListingGuards(t *testing.T) {
	s, _, _ := newTestService()

	_, err := s.Create(context.Background(), buyer, CreateRequest{ListingID: "lst_fixed", Amount: "100"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error for fixed-price listing, got %v", err)
	}

	_, err = s.Create(context.Background(), buyer, CreateRequest{ListingID: "lst_sold", Amount: "100"})
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("Expected invalid state for unsellable listing, got %v", err)
	}

	_, err = s.Create(context.Background(), seller, CreateRequest{ListingID: "lst_negotiable", Amount: "100"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error for self-offer, got %v", err)
	}

	_, err = s.Create(context.Background(), buyer, CreateRequest{ListingID: "lst_negotiable", Amount: "100", Currency: "EUR"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error for currency mismatch, got %v", err)
	}
}

func TestAccept(t *testing.T) {
	s, orders, _ := newTestService()
	o := createPending(t, s)

	accepted, err := s.Accept(context.Background(), seller, o.ID)
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	if accepted.Status != StatusAccepted {
		t.Errorf("Expected accepted, got %s", accepted.Status)
	}
	if accepted.OrderID == "" {
		t.Error("Accepted offer must reference its order")
	}
	if orders.count() != 1 {
		t.Errorf("Expected exactly one order, got %d", orders.count())
	}
}

func TestAccept_BuyerCannotAcceptOwnOffer(t *testing.T) {
	s, _, _ := newTestService()
	o := createPending(t, s)

	_, err := s.Accept(context.Background(), buyer, o.ID)
	if !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Errorf("Expected unauthorized, got %v", err)
	}
}

func TestAccept_Terminal(t *testing.T) {
	s, _, _ := newTestService()
	o := createPending(t, s)

	if _, err := s.Accept(context.Background(), seller, o.ID); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	_, err := s.Accept(context.Background(), seller, o.ID)
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("Expected invalid state on second accept, got %v", err)
	}
}

func TestAccept_OrderCreationFails(t *testing.T) {
	s, orders, _ := newTestService()
	o := createPending(t, s)
	orders.fail = true

	_, err := s.Accept(context.Background(), seller, o.ID)
	if err == nil {
		t.Fatal("Expected error when order creation fails")
	}

	// Offer must still be pending, re-acceptable once orders recover
	got, err := s.Get(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Offer should remain pending after failed accept, got %s", got.Status)
	}
}

func TestConcurrentAccept_SingleWinner(t *testing.T) {
	s, orders, _ := newTestService()
	o := createPending(t, s)

	const callers = 10
	var wg sync.WaitGroup
	var successes int32
	var mu sync.Mutex

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Accept(context.Background(), seller, o.ID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("Expected exactly 1 successful accept, got %d", successes)
	}
	if orders.count() != 1 {
		t.Errorf("Expected exactly 1 order created, got %d", orders.count())
	}
}

func TestReject(t *testing.T) {
	s, _, _ := newTestService()
	o := createPending(t, s)

	rejected, err := s.Reject(context.Background(), seller, o.ID)
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("Expected rejected, got %s", rejected.Status)
	}
}

func TestWithdraw_MakerOnly(t *testing.T) {
	s, _, _ := newTestService()
	o := createPending(t, s)

	if _, err := s.Withdraw(context.Background(), seller, o.ID); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Errorf("Expected unauthorized for seller withdraw, got %v", err)
	}

	withdrawn, err := s.Withdraw(context.Background(), buyer, o.ID)
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if withdrawn.Status != StatusWithdrawn {
		t.Errorf("Expected withdrawn, got %s", withdrawn.Status)
	}
}

func TestCounter(t *testing.T) {
	s, orders, _ := newTestService()
	o := createPending(t, s)

	counter, err := s.Counter(context.Background(), seller, o.ID, CounterRequest{Amount: "2800.00"})
	if err != nil {
		t.Fatalf("Counter failed: %v", err)
	}

	if counter.Direction != DirectionSeller {
		t.Errorf("Expected seller direction, got %s", counter.Direction)
	}
	if counter.ParentOfferID != o.ID {
		t.Errorf("Expected parent %s, got %s", o.ID, counter.ParentOfferID)
	}
	if counter.Amount != "2800.00" {
		t.Errorf("Expected amount 2800.00, got %s", counter.Amount)
	}

	original, _ := s.Get(context.Background(), o.ID)
	if original.Status != StatusCountered {
		t.Errorf("Expected original countered, got %s", original.Status)
	}

	// Buyer accepts the seller's counter
	accepted, err := s.Accept(context.Background(), buyer, counter.ID)
	if err != nil {
		t.Fatalf("Accept of counter failed: %v", err)
	}
	if accepted.Status != StatusAccepted {
		t.Errorf("Expected accepted, got %s", accepted.Status)
	}
	if orders.count() != 1 {
		t.Errorf("Expected one order from counter acceptance, got %d", orders.count())
	}

	// Seller cannot accept their own counter
	o2, _ := s.Create(context.Background(), buyer2, CreateRequest{ListingID: "lst_negotiable", Amount: "2000"})
	counter2, err := s.Counter(context.Background(), seller, o2.ID, CounterRequest{Amount: "2900"})
	if err != nil {
		t.Fatalf("Counter failed: %v", err)
	}
	if _, err := s.Accept(context.Background(), seller, counter2.ID); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Errorf("Expected unauthorized for seller accepting own counter, got %v", err)
	}
}

func TestLazyExpiry(t *testing.T) {
	s, _, store := newTestService()

	past := time.Now().Add(-time.Hour)
	stale := &Offer{
		ID:        idgen.WithPrefix("off_"),
		ListingID: "lst_negotiable",
		BuyerID:   buyer.ID,
		SellerID:  seller.ID,
		Amount:    "2500.00",
		Currency:  "USD",
		Direction: DirectionBuyer,
		Status:    StatusPending,
		ExpiresAt: &past,
		CreatedAt: past,
		UpdatedAt: past,
	}
	if err := store.Create(context.Background(), stale); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	got, err := s.Get(context.Background(), stale.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("Expected lazy expiry to expired, got %s", got.Status)
	}

	// The expired offer no longer blocks a fresh one
	if _, err := s.Create(context.Background(), buyer, CreateRequest{
		ListingID: "lst_negotiable", Amount: "2600.00",
	}); err != nil {
		t.Errorf("Fresh offer after expiry should succeed, got %v", err)
	}

	// And cannot be accepted
	if _, err := s.Accept(context.Background(), seller, stale.ID); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("Expected invalid state accepting expired offer, got %v", err)
	}
}

func TestExpireOffer_Sweep(t *testing.T) {
	s, _, store := newTestService()

	past := time.Now().Add(-time.Minute)
	stale := &Offer{
		ID:        idgen.WithPrefix("off_"),
		ListingID: "lst_negotiable",
		BuyerID:   buyer.ID,
		SellerID:  seller.ID,
		Amount:    "100.00",
		Currency:  "USD",
		Direction: DirectionBuyer,
		Status:    StatusPending,
		ExpiresAt: &past,
		CreatedAt: past,
		UpdatedAt: past,
	}
	if err := store.Create(context.Background(), stale); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := s.ExpireOffer(context.Background(), stale.ID); err != nil {
		t.Fatalf("ExpireOffer failed: %v", err)
	}

	// Second sweep pass is a no-op error, not a corruption
	if err := s.ExpireOffer(context.Background(), stale.ID); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("Expected invalid state on double expire, got %v", err)
	}
}

func TestCreate_BadExpiry(t *testing.T) {
	s, _, _ := newTestService()

	_, err := s.Create(context.Background(), buyer, CreateRequest{
		ListingID: "lst_negotiable",
		Amount:    "100",
		ExpiresAt: "yesterday",
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error for malformed expiresAt, got %v", err)
	}

	_, err = s.Create(context.Background(), buyer, CreateRequest{
		ListingID: "lst_negotiable",
		Amount:    "100",
		ExpiresAt: time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error for past expiresAt, got %v", err)
	}
}
