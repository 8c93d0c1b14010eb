package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/assetbay/assetbay/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                   "0",
		Env:                    "development",
		LogLevel:               "error",
		CommissionPct:          decimal.NewFromInt(10),
		DefaultCurrency:        "USD",
		OfferDefaultTTL:        7 * 24 * time.Hour,
		EscrowAutoReleaseAfter: 72 * time.Hour,
		InvoiceDueAfter:        14 * 24 * time.Hour,
		RateLimitRPS:           1000,
	}
}

// newTestServer creates a server with in-memory stores and the stub processor
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// doJSON performs a request against the router with an optional API key
func doJSON(t *testing.T, s *Server, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// decode parses a response body into a map
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response %q: %v", w.Body.String(), err)
	}
	return resp
}

// issueKey mints an API key through the issuance endpoint.
// The test config has no admin secret, so issuance is open.
func issueKey(t *testing.T, s *Server, userID, role string) string {
	t.Helper()
	w := doJSON(t, s, "POST", "/v1/auth/keys", map[string]any{
		"userId": userID,
		"role":   role,
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("issue key for %s: status %d: %s", userID, w.Code, w.Body.String())
	}
	key, _ := decode(t, w)["apiKey"].(string)
	if key == "" {
		t.Fatalf("no apiKey in response: %s", w.Body.String())
	}
	return key
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	resp := decode(t, w)
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health/live", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessNotReadyBeforeRun(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/health/ready", nil, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before Run, got %d", w.Code)
	}

	s.ready.Store(true)
	w = doJSON(t, s, "GET", "/health/ready", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 once ready, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/metrics", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Auth boundary tests
// ---------------------------------------------------------------------------

func TestProtectedRouteRequiresKey(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "POST", "/v1/listings", map[string]any{
		"title": "x", "assetType": "domain", "price": "100.00",
	}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", w.Code)
	}
}

func TestAdminRouteRejectsUserRole(t *testing.T) {
	s := newTestServer(t)
	userKey := issueKey(t, s, "usr_plain", "user")

	w := doJSON(t, s, "POST", "/v1/listings/lst_x/suspend", nil, userKey)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin, got %d", w.Code)
	}
}

func TestPublicListingsNeedNoKey(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, "GET", "/v1/listings", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for public browse, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Full lifecycle: listing -> offer -> order -> payment -> escrow -> invoice
// ---------------------------------------------------------------------------

func TestFullMarketplaceLifecycle(t *testing.T) {
	s := newTestServer(t)

	sellerKey := issueKey(t, s, "usr_seller", "user")
	buyerKey := issueKey(t, s, "usr_buyer", "user")
	adminKey := issueKey(t, s, "usr_admin", "admin")

	// Seller lists a domain at 100.00, open to negotiation.
	w := doJSON(t, s, "POST", "/v1/listings", map[string]any{
		"title":             "example.com",
		"assetType":         "domain",
		"price":             "100.00",
		"currency":          "USD",
		"isPriceNegotiable": true,
	}, sellerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("create listing: %d: %s", w.Code, w.Body.String())
	}
	listing := decode(t, w)["listing"].(map[string]any)
	listingID := listing["id"].(string)

	w = doJSON(t, s, "POST", "/v1/listings/"+listingID+"/publish", nil, sellerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("publish listing: %d: %s", w.Code, w.Body.String())
	}

	// Buyer offers 90.00.
	w = doJSON(t, s, "POST", "/v1/offers", map[string]any{
		"listingId": listingID,
		"amount":    "90.00",
		"currency":  "USD",
	}, buyerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("create offer: %d: %s", w.Code, w.Body.String())
	}
	offer := decode(t, w)["offer"].(map[string]any)
	offerID := offer["id"].(string)

	// Seller accepts; an order materializes at the offer amount.
	w = doJSON(t, s, "POST", "/v1/offers/"+offerID+"/accept", nil, sellerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("accept offer: %d: %s", w.Code, w.Body.String())
	}
	accepted := decode(t, w)["offer"].(map[string]any)
	orderID, _ := accepted["orderId"].(string)
	if orderID == "" {
		t.Fatalf("accepted offer has no orderId: %s", w.Body.String())
	}

	w = doJSON(t, s, "GET", "/v1/orders/"+orderID, nil, buyerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("get order: %d: %s", w.Code, w.Body.String())
	}
	ord := decode(t, w)["order"].(map[string]any)
	if ord["finalPrice"] != "90.00" {
		t.Errorf("final price = %v, want 90.00", ord["finalPrice"])
	}
	if ord["platformFee"] != "9.00" {
		t.Errorf("platform fee = %v, want 9.00 (10%% commission)", ord["platformFee"])
	}

	// Buyer pays (stub processor; admin resolves below).
	w = doJSON(t, s, "POST", "/v1/orders/"+orderID+"/payments", map[string]any{
		"method": "card",
	}, buyerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("create payment: %d: %s", w.Code, w.Body.String())
	}
	pay := decode(t, w)["payment"].(map[string]any)
	paymentID := pay["id"].(string)
	if pay["status"] != "pending" {
		t.Errorf("payment status = %v, want pending", pay["status"])
	}
	if pay["amount"] != "90.00" {
		t.Errorf("payment amount = %v, want the order's final price", pay["amount"])
	}

	w = doJSON(t, s, "POST", "/v1/payments/"+paymentID+"/resolve", map[string]any{
		"succeeded":     true,
		"transactionId": "txn_test_1",
	}, adminKey)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve payment: %d: %s", w.Code, w.Body.String())
	}

	// Payment success holds the escrow and moves the order to processing.
	w = doJSON(t, s, "GET", "/v1/orders/"+orderID, nil, buyerKey)
	ord = decode(t, w)["order"].(map[string]any)
	if ord["status"] != "processing" {
		t.Fatalf("order status = %v, want processing", ord["status"])
	}
	escrowID, _ := ord["escrowId"].(string)
	if escrowID == "" {
		t.Fatal("order has no escrowId after payment")
	}

	w = doJSON(t, s, "GET", "/v1/escrows/"+escrowID, nil, buyerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("get escrow: %d: %s", w.Code, w.Body.String())
	}
	esc := decode(t, w)["escrow"].(map[string]any)
	if esc["status"] != "held" {
		t.Errorf("escrow status = %v, want held", esc["status"])
	}
	if esc["sellerAmount"] != "81.00" {
		t.Errorf("escrow seller amount = %v, want 81.00", esc["sellerAmount"])
	}

	// Seller delivers and completes; the listing is sold.
	w = doJSON(t, s, "POST", "/v1/orders/"+orderID+"/complete", nil, sellerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("complete order: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, "GET", "/v1/listings/"+listingID, nil, "")
	lst := decode(t, w)["listing"].(map[string]any)
	if lst["status"] != "sold" {
		t.Errorf("listing status = %v, want sold", lst["status"])
	}

	// Seller collects the escrow.
	w = doJSON(t, s, "POST", "/v1/escrows/"+escrowID+"/release", nil, sellerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("release escrow: %d: %s", w.Code, w.Body.String())
	}

	// Invoice: generate, issue, settle.
	w = doJSON(t, s, "POST", "/v1/orders/"+orderID+"/invoice", nil, sellerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("generate invoice: %d: %s", w.Code, w.Body.String())
	}
	inv := decode(t, w)["invoice"].(map[string]any)
	invoiceID := inv["id"].(string)
	if inv["totalAmount"] != "90.00" {
		t.Errorf("invoice total = %v, want 90.00", inv["totalAmount"])
	}

	w = doJSON(t, s, "POST", "/v1/invoices/"+invoiceID+"/issue", nil, sellerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("issue invoice: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, "POST", "/v1/invoices/"+invoiceID+"/mark-paid", nil, adminKey)
	if w.Code != http.StatusOK {
		t.Fatalf("mark invoice paid: %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, "GET", "/v1/invoices/"+invoiceID, nil, sellerKey)
	inv = decode(t, w)["invoice"].(map[string]any)
	if inv["status"] != "paid" {
		t.Errorf("invoice status = %v, want paid", inv["status"])
	}
}

// ---------------------------------------------------------------------------
// Dispute path: refund request blocks release, admin refund settles
// ---------------------------------------------------------------------------

func TestRefundFlow(t *testing.T) {
	s := newTestServer(t)

	sellerKey := issueKey(t, s, "usr_seller", "user")
	buyerKey := issueKey(t, s, "usr_buyer", "user")
	adminKey := issueKey(t, s, "usr_admin", "admin")

	// Direct order at list price, paid through the stub processor.
	w := doJSON(t, s, "POST", "/v1/listings", map[string]any{
		"title": "shop.example", "assetType": "website", "price": "50.00",
	}, sellerKey)
	listingID := decode(t, w)["listing"].(map[string]any)["id"].(string)
	doJSON(t, s, "POST", "/v1/listings/"+listingID+"/publish", nil, sellerKey)

	w = doJSON(t, s, "POST", "/v1/orders", map[string]any{"listingId": listingID}, buyerKey)
	if w.Code != http.StatusCreated {
		t.Fatalf("create direct order: %d: %s", w.Code, w.Body.String())
	}
	orderID := decode(t, w)["order"].(map[string]any)["id"].(string)

	w = doJSON(t, s, "POST", "/v1/orders/"+orderID+"/payments", nil, buyerKey)
	paymentID := decode(t, w)["payment"].(map[string]any)["id"].(string)
	doJSON(t, s, "POST", "/v1/payments/"+paymentID+"/resolve", map[string]any{"succeeded": true}, adminKey)

	w = doJSON(t, s, "GET", "/v1/orders/"+orderID, nil, buyerKey)
	escrowID := decode(t, w)["order"].(map[string]any)["escrowId"].(string)

	// Buyer disputes while the order is processing.
	w = doJSON(t, s, "POST", "/v1/orders/"+orderID+"/refund-request", nil, buyerKey)
	if w.Code != http.StatusOK {
		t.Fatalf("request refund: %d: %s", w.Code, w.Body.String())
	}

	// The seller cannot release a disputed escrow.
	w = doJSON(t, s, "POST", "/v1/escrows/"+escrowID+"/release", nil, sellerKey)
	if w.Code != http.StatusConflict && w.Code != http.StatusBadRequest {
		t.Errorf("release of disputed escrow = %d, want rejection", w.Code)
	}

	// Only an admin settles the dispute.
	w = doJSON(t, s, "POST", "/v1/escrows/"+escrowID+"/refund", nil, adminKey)
	if w.Code != http.StatusOK {
		t.Fatalf("refund escrow: %d: %s", w.Code, w.Body.String())
	}

	// Refund cascades to the order and the payment.
	w = doJSON(t, s, "GET", "/v1/orders/"+orderID, nil, buyerKey)
	ord := decode(t, w)["order"].(map[string]any)
	if ord["status"] != "refunded" {
		t.Errorf("order status = %v, want refunded", ord["status"])
	}

	w = doJSON(t, s, "GET", "/v1/payments/"+paymentID, nil, buyerKey)
	pay := decode(t, w)["payment"].(map[string]any)
	if pay["status"] != "refunded" {
		t.Errorf("payment status = %v, want refunded", pay["status"])
	}
}
