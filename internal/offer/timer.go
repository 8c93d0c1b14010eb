package offer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically expires pending offers whose deadline has passed.
// Lazy expiry handles offers that get read or mutated; the timer is the
// backstop for offers nobody touches.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new offer expiry timer.
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

// Start begins the expiry loop. Call in a goroutine.
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
			t.safeExpire(ctx)
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

func (t *Timer) safeExpire(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in offer timer", "panic", fmt.Sprint(r))
		}
	}()
	t.expireOverdue(ctx)
}

func (t *Timer) expireOverdue(ctx context.Context) {
	expired, err := t.store.ListExpired(ctx, time.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list expired offers", "error", err)
		return
	}

	for _, o := range expired {
		if err := t.service.ExpireOffer(ctx, o.ID); err != nil {
			// A racing accept or lazy expiry may have resolved it first.
			t.logger.Debug("skipping offer during expiry sweep", "offerId", o.ID, "error", err)
			continue
		}
		t.logger.Info("expired offer",
			"offerId", o.ID,
			"listingId", o.ListingID,
			"buyerId", o.BuyerID,
		)
	}
}
