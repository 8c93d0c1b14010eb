package escrow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/auth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	seller = auth.Actor{ID: "usr_seller", Role: auth.RoleUser}
	buyer  = auth.Actor{ID: "usr_buyer", Role: auth.RoleUser}
	admin  = auth.Actor{ID: "usr_admin", Role: auth.RoleAdmin}
)

// fakeOrders serves order snapshots and records refund finalizations.
type fakeOrders struct {
	mu        sync.Mutex
	snapshots map[string]OrderSnapshot
	refunded  []string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{snapshots: make(map[string]OrderSnapshot)}
}

func (f *fakeOrders) set(s OrderSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[s.ID] = s
}

func (f *fakeOrders) GetOrder(ctx context.Context, orderID string) (OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snapshots[orderID]
	if !ok {
		return OrderSnapshot{}, apperrors.ErrNotFound
	}
	return s, nil
}

func (f *fakeOrders) MarkRefunded(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunded = append(f.refunded, orderID)
	return nil
}

// fakePayments records refunded payment IDs.
type fakePayments struct {
	mu       sync.Mutex
	refunded []string
}

func (f *fakePayments) MarkRefunded(ctx context.Context, paymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunded = append(f.refunded, paymentID)
	return nil
}

func completedOrder(id string, completedAgo time.Duration) OrderSnapshot {
	at := time.Now().Add(-completedAgo)
	return OrderSnapshot{
		ID: id, BuyerID: buyer.ID, SellerID: seller.ID, PaymentID: "pay_x",
		Completed: true, CompletedAt: &at,
	}
}

func hold(t *testing.T, svc *Service, orderID string) string {
	t.Helper()
	id, err := svc.Hold(context.Background(), orderID, "2500.00", "250.00", "2250.00", "USD")
	if err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	return id
}

func TestHold_OnePerOrderEver(t *testing.T) {
	orders := newFakeOrders()
	svc := NewService(NewMemoryStore(), orders)

	hold(t, svc, "ord_1")
	_, err := svc.Hold(context.Background(), "ord_1", "2500.00", "250.00", "2250.00", "USD")
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("expected conflict on second hold, got %v", err)
	}
}

func TestHold_FreezesSplit(t *testing.T) {
	svc := NewService(NewMemoryStore(), newFakeOrders())

	id := hold(t, svc, "ord_1")
	e, _ := svc.Get(context.Background(), id)
	if e.PlatformFee != "250.00" || e.SellerAmount != "2250.00" {
		t.Errorf("split not frozen: fee=%s seller=%s", e.PlatformFee, e.SellerAmount)
	}
	if e.Status != StatusHeld {
		t.Errorf("expected held, got %s", e.Status)
	}
}

func TestRelease(t *testing.T) {
	orders := newFakeOrders()
	orders.set(completedOrder("ord_1", time.Hour))
	svc := NewService(NewMemoryStore(), orders)

	id := hold(t, svc, "ord_1")
	e, err := svc.Release(context.Background(), seller, id)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if e.Status != StatusReleased || e.ReleasedAt == nil {
		t.Errorf("expected released with timestamp, got %+v", e)
	}
}

func TestRelease_RequiresCompletedOrder(t *testing.T) {
	orders := newFakeOrders()
	orders.set(OrderSnapshot{ID: "ord_1", BuyerID: buyer.ID, SellerID: seller.ID})
	svc := NewService(NewMemoryStore(), orders)

	id := hold(t, svc, "ord_1")
	_, err := svc.Release(context.Background(), seller, id)
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("expected invalid state for incomplete order, got %v", err)
	}
}

func TestRelease_BuyerMayNot(t *testing.T) {
	orders := newFakeOrders()
	orders.set(completedOrder("ord_1", time.Hour))
	svc := NewService(NewMemoryStore(), orders)

	id := hold(t, svc, "ord_1")
	_, err := svc.Release(context.Background(), buyer, id)
	if !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Errorf("expected unauthorized for buyer, got %v", err)
	}
}

func TestRefund_FinalizesOrderAndPayment(t *testing.T) {
	orders := newFakeOrders()
	orders.set(OrderSnapshot{
		ID: "ord_1", BuyerID: buyer.ID, SellerID: seller.ID, PaymentID: "pay_x",
		RefundRequested: true,
	})
	payments := &fakePayments{}
	svc := NewService(NewMemoryStore(), orders).WithPaymentRefunder(payments)

	id := hold(t, svc, "ord_1")
	e, err := svc.Refund(context.Background(), admin, id)
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if e.Status != StatusRefunded || e.RefundedAt == nil {
		t.Errorf("expected refunded with timestamp, got %+v", e)
	}
	if len(orders.refunded) != 1 || orders.refunded[0] != "ord_1" {
		t.Errorf("expected order finalized, got %v", orders.refunded)
	}
	if len(payments.refunded) != 1 || payments.refunded[0] != "pay_x" {
		t.Errorf("expected payment refunded, got %v", payments.refunded)
	}
}

func TestRefund_AdminOnly(t *testing.T) {
	orders := newFakeOrders()
	orders.set(OrderSnapshot{ID: "ord_1", BuyerID: buyer.ID, SellerID: seller.ID, RefundRequested: true})
	svc := NewService(NewMemoryStore(), orders)

	id := hold(t, svc, "ord_1")
	if _, err := svc.Refund(context.Background(), buyer, id); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Errorf("expected unauthorized for buyer, got %v", err)
	}
	if _, err := svc.Refund(context.Background(), seller, id); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Errorf("expected unauthorized for seller, got %v", err)
	}
}

func TestRefund_RequiresOpenRequest(t *testing.T) {
	orders := newFakeOrders()
	orders.set(completedOrder("ord_1", time.Hour))
	svc := NewService(NewMemoryStore(), orders)

	id := hold(t, svc, "ord_1")
	_, err := svc.Refund(context.Background(), admin, id)
	if !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("expected invalid state without refund request, got %v", err)
	}
}

func TestTerminalsAreMutuallyExclusive(t *testing.T) {
	orders := newFakeOrders()
	orders.set(completedOrder("ord_1", time.Hour))
	svc := NewService(NewMemoryStore(), orders)

	id := hold(t, svc, "ord_1")
	if _, err := svc.Release(context.Background(), seller, id); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if _, err := svc.Refund(context.Background(), admin, id); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("refund after release must fail, got %v", err)
	}
	if _, err := svc.Release(context.Background(), seller, id); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Errorf("double release must fail, got %v", err)
	}
}

func TestConcurrentReleaseAndRefund_SingleWinner(t *testing.T) {
	orders := newFakeOrders()
	// Completed and refund-requested can't both hold at once; flip the
	// snapshot so both paths pass their guard and race on the escrow.
	at := time.Now().Add(-time.Hour)
	orders.set(OrderSnapshot{
		ID: "ord_1", BuyerID: buyer.ID, SellerID: seller.ID,
		Completed: true, RefundRequested: true, CompletedAt: &at,
	})
	svc := NewService(NewMemoryStore(), orders)

	id := hold(t, svc, "ord_1")

	var wg sync.WaitGroup
	var releases, refunds int32
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if _, err := svc.Release(context.Background(), seller, id); err == nil {
					mu.Lock()
					releases++
					mu.Unlock()
				}
			} else {
				if _, err := svc.Refund(context.Background(), admin, id); err == nil {
					mu.Lock()
					refunds++
					mu.Unlock()
				}
			}
		}(i)
	}
	wg.Wait()

	if releases+refunds != 1 {
		t.Errorf("expected exactly one terminal transition, got %d releases and %d refunds", releases, refunds)
	}
}

func TestAutoRelease_RespectsWindow(t *testing.T) {
	orders := newFakeOrders()
	orders.set(completedOrder("ord_old", 48*time.Hour))
	orders.set(completedOrder("ord_new", time.Hour))
	svc := NewService(NewMemoryStore(), orders)

	oldID := hold(t, svc, "ord_old")
	newID := hold(t, svc, "ord_new")

	timer := NewTimer(svc, svc.store, orders, 24*time.Hour, testLogger())
	timer.releaseOverdue(context.Background())

	oldE, _ := svc.Get(context.Background(), oldID)
	if oldE.Status != StatusReleased {
		t.Errorf("expected old escrow auto-released, got %s", oldE.Status)
	}
	newE, _ := svc.Get(context.Background(), newID)
	if newE.Status != StatusHeld {
		t.Errorf("escrow inside the window must stay held, got %s", newE.Status)
	}
}

func TestAutoRelease_SkipsIncompleteOrders(t *testing.T) {
	orders := newFakeOrders()
	orders.set(OrderSnapshot{ID: "ord_1", BuyerID: buyer.ID, SellerID: seller.ID})
	svc := NewService(NewMemoryStore(), orders)

	id := hold(t, svc, "ord_1")

	timer := NewTimer(svc, svc.store, orders, 0, testLogger())
	timer.releaseOverdue(context.Background())

	e, _ := svc.Get(context.Background(), id)
	if e.Status != StatusHeld {
		t.Errorf("incomplete order must stay held, got %s", e.Status)
	}
}
