package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: "order.created", Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []string{"order.created", "escrow.released"},
	}}

	orderEvent := &Event{Type: "order.created"}
	escrowEvent := &Event{Type: "escrow.released"}
	offerEvent := &Event{Type: "offer.created"}

	if !h.shouldSend(client, orderEvent) {
		t.Error("Should receive order.created events")
	}
	if !h.shouldSend(client, escrowEvent) {
		t.Error("Should receive escrow.released events")
	}
	if h.shouldSend(client, offerEvent) {
		t.Error("Should NOT receive offer.created events")
	}
}

func TestShouldSend_ListingFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		ListingIDs: []string{"lst_watched"},
	}}

	matching := &Event{
		Type: "offer.created",
		Data: map[string]any{"listingId": "lst_watched", "amount": "500.00"},
	}
	notMatching := &Event{
		Type: "offer.created",
		Data: map[string]any{"listingId": "lst_other"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on listingId")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated listings")
	}
}

func TestShouldSend_UserFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		UserIDs: []string{"usr_me"},
	}}

	asBuyer := &Event{
		Type: "order.created",
		Data: map[string]any{"buyerId": "usr_me", "sellerId": "usr_other"},
	}
	asSeller := &Event{
		Type: "order.completed",
		Data: map[string]any{"buyerId": "usr_other", "sellerId": "usr_me"},
	}
	unrelated := &Event{
		Type: "order.created",
		Data: map[string]any{"buyerId": "usr_a", "sellerId": "usr_b"},
	}

	if !h.shouldSend(client, asBuyer) {
		t.Error("Should match on buyerId")
	}
	if !h.shouldSend(client, asSeller) {
		t.Error("Should match on sellerId")
	}
	if h.shouldSend(client, unrelated) {
		t.Error("Should NOT match unrelated parties")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	event := &Event{Type: "invoice.issued", Data: map[string]any{}}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive everything")
	}
}

func TestShouldSend_CombinedFilters(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []string{"offer.created"},
		ListingIDs: []string{"lst_watched"},
	}}

	rightTypeWrongListing := &Event{
		Type: "offer.created",
		Data: map[string]any{"listingId": "lst_other"},
	}
	wrongTypeRightListing := &Event{
		Type: "order.created",
		Data: map[string]any{"listingId": "lst_watched"},
	}
	both := &Event{
		Type: "offer.created",
		Data: map[string]any{"listingId": "lst_watched"},
	}

	if h.shouldSend(client, rightTypeWrongListing) {
		t.Error("Filters combine with AND: listing must match too")
	}
	if h.shouldSend(client, wrongTypeRightListing) {
		t.Error("Filters combine with AND: event type must match too")
	}
	if !h.shouldSend(client, both) {
		t.Error("Should receive when all filters match")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_RegisterAndBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 16),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client

	h.Emit("order.created", map[string]any{"orderId": "ord_1"})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("expected serialized event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received broadcast")
	}

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("expected 1 connected client, got %v", stats["connectedClients"])
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 1)}
	h.register <- client
	h.unregister <- client

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected send channel closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel never closed")
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 1)}
	h.register <- client

	cancel()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected send channel closed on shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed on shutdown")
	}

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub done channel never closed")
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	// Unbuffered send channel: first broadcast can't be delivered.
	slow := &Client{hub: h, send: make(chan []byte), sub: Subscription{AllEvents: true}}
	h.register <- slow

	h.Emit("order.created", map[string]any{"orderId": "ord_1"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Stats()["connectedClients"].(int) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("slow client was not dropped")
}
