package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer flips issued invoices to overdue once their due date passes.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new overdue sweep timer.
func NewTimer(service *Service, store Store, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		interval: time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the overdue loop. Call in a goroutine.
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
			t.safeSweep(ctx)
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

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in invoice timer", "panic", fmt.Sprint(r))
		}
	}()
	t.sweepOverdue(ctx)
}

func (t *Timer) sweepOverdue(ctx context.Context) {
	overdue, err := t.store.ListOverdue(ctx, time.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list overdue invoices", "error", err)
		return
	}

	for _, inv := range overdue {
		if err := t.service.MarkOverdue(ctx, inv.ID); err != nil {
			// A racing payment may have settled it first.
			t.logger.Debug("skipping invoice during overdue sweep", "invoiceId", inv.ID, "error", err)
			continue
		}
		t.logger.Info("marked invoice overdue",
			"invoiceId", inv.ID,
			"orderId", inv.OrderID,
			"dueAt", inv.DueAt,
		)
	}
}
