package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer releases held escrows whose order completed longer ago than the
// configured window. The seller forgetting to release should not strand
// their money forever.
type Timer struct {
	service      *Service
	store        Store
	orders       Orders
	releaseAfter time.Duration
	interval     time.Duration
	logger       *slog.Logger
	stop         chan struct{}
	running      atomic.Bool
}

// NewTimer creates a new auto-release timer.
func NewTimer(service *Service, store Store, orders Orders, releaseAfter time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		service:      service,
		store:        store,
		orders:       orders,
		releaseAfter: releaseAfter,
		interval:     time.Minute,
		logger:       logger,
		stop:         make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the auto-release loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRelease(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeRelease(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in escrow timer", "panic", fmt.Sprint(r))
		}
	}()
	t.releaseOverdue(ctx)
}

func (t *Timer) releaseOverdue(ctx context.Context) {
	held, err := t.store.ListHeld(ctx, 100)
	if err != nil {
		t.logger.Warn("failed to list held escrows", "error", err)
		return
	}

	cutoff := time.Now().Add(-t.releaseAfter)
	for _, e := range held {
		o, err := t.orders.GetOrder(ctx, e.OrderID)
		if err != nil {
			t.logger.Warn("failed to resolve order during auto-release", "escrowId", e.ID, "error", err)
			continue
		}
		// A refund request moves the order out of completed, so open
		// disputes never auto-release.
		if !o.Completed || o.CompletedAt == nil || o.CompletedAt.After(cutoff) {
			continue
		}

		if err := t.service.AutoRelease(ctx, e.ID); err != nil {
			t.logger.Debug("skipping escrow during auto-release sweep", "escrowId", e.ID, "error", err)
			continue
		}
		t.logger.Info("auto-released escrow",
			"escrowId", e.ID,
			"orderId", e.OrderID,
			"sellerAmount", e.SellerAmount,
		)
	}
}
