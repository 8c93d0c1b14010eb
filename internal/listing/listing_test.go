package listing

import (
	"context"
	"errors"
	"testing"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
)

var (
	seller = auth.Actor{ID: "usr_seller1", Role: auth.RoleUser}
	buyer  = auth.Actor{ID: "usr_buyer1", Role: auth.RoleUser}
	admin  = auth.Actor{ID: "usr_admin1", Role: auth.RoleAdmin}
)

func newTestService() *Service {
	return NewService(NewMemoryStore())
}

func createDraft(t *testing.T, s *Service) *Listing {
	t.Helper()
	l, err := s.Create(context.Background(), seller, CreateRequest{
		Title:             "example.com",
		AssetType:         "domain",
		Price:             "3000.00",
		Currency:          "USD",
		IsPriceNegotiable: true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return l
}

func createActive(t *testing.T, s *Service) *Listing {
	t.Helper()
	l := createDraft(t, s)
	published, err := s.Publish(context.Background(), seller, l.ID)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	return published
}

func TestCreate(t *testing.T) {
	s := newTestService()
	l := createDraft(t, s)

	if l.Status != StatusDraft {
		t.Errorf("Expected draft, got %s", l.Status)
	}
	if l.SellerID != seller.ID {
		t.Errorf("Expected seller %s, got %s", seller.ID, l.SellerID)
	}
	if l.Sellable() {
		t.Error("Draft listing must not be sellable")
	}
}

func TestCreate_Invalid(t *testing.T) {
	s := newTestService()

	_, err := s.Create(context.Background(), seller, CreateRequest{
		Title: "x", AssetType: "domain", Price: "-5",
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error for negative price, got %v", err)
	}

	_, err = s.Create(context.Background(), seller, CreateRequest{
		Title: "x", AssetType: "yacht", Price: "100",
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error for unknown asset type, got %v", err)
	}
}

func TestPublish(t *testing.T) {
	s := newTestService()
	l := createActive(t, s)

	if l.Status != StatusActive {
		t.Errorf("Expected active, got %s", l.Status)
	}
	if !l.Sellable() {
		t.Error("Active listing must be sellable")
	}
}

func TestPublish_NotSeller(t *testing.T) {
	s := newTestService()
	l := createDraft(t, s)

	_, err := s.Publish(context.Background(), buyer, l.ID)
	if !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Errorf("Expected unauthorized, got %v", err)
	}
}

func TestPublish_AlreadyActive(t *testing.T) {
	s := newTestService()
	l := createActive(t, s)

	_, err := s.Publish(context.Background(), seller, l.ID)
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("Expected invalid state, got %v", err)
	}
}

func TestSuspend_AdminOnly(t *testing.T) {
	s := newTestService()
	l := createActive(t, s)

	if _, err := s.Suspend(context.Background(), seller, l.ID); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Errorf("Expected unauthorized for non-admin, got %v", err)
	}

	suspended, err := s.Suspend(context.Background(), admin, l.ID)
	if err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}
	if suspended.Status != StatusSuspended {
		t.Errorf("Expected suspended, got %s", suspended.Status)
	}
}

func TestExpire(t *testing.T) {
	s := newTestService()
	l := createActive(t, s)

	expired, err := s.Expire(context.Background(), seller, l.ID)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if expired.Status != StatusExpired {
		t.Errorf("Expected expired, got %s", expired.Status)
	}
}

func TestMarkSold(t *testing.T) {
	s := newTestService()
	l := createActive(t, s)

	if err := s.MarkSold(context.Background(), l.ID); err != nil {
		t.Fatalf("MarkSold failed: %v", err)
	}

	got, err := s.Get(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusSold {
		t.Errorf("Expected sold, got %s", got.Status)
	}

	// Sold is terminal
	if err := s.MarkSold(context.Background(), l.ID); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("Expected invalid state on second MarkSold, got %v", err)
	}
}

func TestMarkSold_NotActive(t *testing.T) {
	s := newTestService()
	l := createDraft(t, s)

	if err := s.MarkSold(context.Background(), l.ID); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("Expected invalid state for draft listing, got %v", err)
	}
}

func TestListActive(t *testing.T) {
	s := newTestService()
	createActive(t, s)
	createActive(t, s)
	createDraft(t, s)

	active, err := s.ListActive(context.Background(), 50)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("Expected 2 active listings, got %d", len(active))
	}
}

func TestListBySeller(t *testing.T) {
	s := newTestService()
	createDraft(t, s)
	createActive(t, s)

	mine, err := s.ListBySeller(context.Background(), seller.ID, 50)
	if err != nil {
		t.Fatalf("ListBySeller failed: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("Expected 2 listings for seller, got %d", len(mine))
	}

	none, err := s.ListBySeller(context.Background(), buyer.ID, 50)
	if err != nil {
		t.Fatalf("ListBySeller failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no listings for buyer, got %d", len(none))
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestService()

	_, err := s.Get(context.Background(), "lst_doesnotexist")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}
