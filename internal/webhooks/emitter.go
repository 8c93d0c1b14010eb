package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/assetbay/assetbay/internal/idgen"
)

// Emitter adapts the Dispatcher to the one-method EventEmitter seam the
// lifecycle services expect. Fire and forget: errors are logged, never
// returned, and a nil Emitter is safe to call.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

// Emit publishes a lifecycle event to all matching subscriptions.
func (e *Emitter) Emit(event string, data map[string]any) {
	if e == nil || e.d == nil {
		return
	}

	evt := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      event,
		Timestamp: time.Now(),
		Data:      data,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.Dispatch(ctx, evt); err != nil {
		e.logger.Warn("webhook dispatch failed", "event", event, "error", err)
	}
}
