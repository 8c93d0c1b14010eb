package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newTestDispatcher(store Store) *Dispatcher {
	d := NewDispatcher(store)
	d.backoff = time.Millisecond
	return d
}

func subscribe(t *testing.T, store Store, url string, events ...string) *Subscription {
	t.Helper()
	sub := &Subscription{
		ID:        "wh_test",
		UserID:    "usr_1",
		URL:       url,
		Secret:    "topsecret",
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatch_DeliversSignedPayload(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotSig, gotEvent string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		gotSig = r.Header.Get("X-Assetbay-Signature")
		gotEvent = r.Header.Get("X-Assetbay-Event")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	subscribe(t, store, srv.URL, EventOrderCompleted)
	d := newTestDispatcher(store)

	event := &Event{
		ID:        "evt_1",
		Type:      EventOrderCompleted,
		Timestamp: time.Now(),
		Data:      map[string]any{"orderId": "ord_1"},
	}
	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotBody) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	if gotEvent != EventOrderCompleted {
		t.Errorf("expected event header %s, got %s", EventOrderCompleted, gotEvent)
	}
	if want := Sign(gotBody, "topsecret"); gotSig != want {
		t.Errorf("signature mismatch: got %s want %s", gotSig, want)
	}

	var received Event
	if err := json.Unmarshal(gotBody, &received); err != nil {
		t.Fatalf("unmarshal delivered payload: %v", err)
	}
	if received.Data["orderId"] != "ord_1" {
		t.Errorf("payload data lost: %+v", received.Data)
	}
}

func TestDispatch_EventFilter(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	store := NewMemoryStore()
	subscribe(t, store, srv.URL, EventEscrowReleased)
	d := newTestDispatcher(store)

	_ = d.Dispatch(context.Background(), &Event{ID: "evt_1", Type: EventOfferCreated, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if hits != 0 {
		t.Errorf("subscription must not receive unmatched events, got %d hits", hits)
	}
}

func TestDispatch_WildcardReceivesEverything(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	store := NewMemoryStore()
	subscribe(t, store, srv.URL, "*")
	d := newTestDispatcher(store)

	_ = d.Dispatch(context.Background(), &Event{ID: "evt_1", Type: EventOfferCreated, Timestamp: time.Now()})
	_ = d.Dispatch(context.Background(), &Event{ID: "evt_2", Type: EventInvoicePaid, Timestamp: time.Now()})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hits == 2
	})
}

func TestDispatch_RetriesThenRecordsFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := subscribe(t, store, srv.URL, "*")
	d := newTestDispatcher(store)

	_ = d.Dispatch(context.Background(), &Event{ID: "evt_1", Type: EventOrderCreated, Timestamp: time.Now()})

	waitFor(t, func() bool {
		got, _ := store.Get(context.Background(), sub.ID)
		return got.ConsecutiveFailures == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("expected 3 delivery attempts, got %d", attempts)
	}
	got, _ := store.Get(context.Background(), sub.ID)
	if got.LastError == "" {
		t.Error("expected last error recorded")
	}
}

func TestDispatch_DisablesAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := subscribe(t, store, srv.URL, "*")
	sub.ConsecutiveFailures = maxConsecutiveFailures - 1
	_ = store.Update(context.Background(), sub)

	d := newTestDispatcher(store)
	_ = d.Dispatch(context.Background(), &Event{ID: "evt_1", Type: EventOrderCreated, Timestamp: time.Now()})

	waitFor(t, func() bool {
		got, _ := store.Get(context.Background(), sub.ID)
		return !got.Active
	})
}

func TestDispatch_SuccessResetsFailureCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := subscribe(t, store, srv.URL, "*")
	sub.ConsecutiveFailures = 7
	_ = store.Update(context.Background(), sub)

	d := newTestDispatcher(store)
	_ = d.Dispatch(context.Background(), &Event{ID: "evt_1", Type: EventOrderCreated, Timestamp: time.Now()})

	waitFor(t, func() bool {
		got, _ := store.Get(context.Background(), sub.ID)
		return got.ConsecutiveFailures == 0 && got.LastSuccess != nil
	})
}

func TestEmitter_NilSafe(t *testing.T) {
	var e *Emitter
	e.Emit(EventOrderCreated, map[string]any{"orderId": "ord_1"}) // must not panic
}

func TestEmitter_DispatchesThroughSeam(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	store := NewMemoryStore()
	subscribe(t, store, srv.URL, EventPaymentSucceeded)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEmitter(newTestDispatcher(store), logger)

	e.Emit(EventPaymentSucceeded, map[string]any{"paymentId": "pay_1"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hits == 1
	})
}
