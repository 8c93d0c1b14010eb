package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to the Assetbay API with an API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a client for the given base URL and API key.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Code = "http_error"
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func limitQuery(limit int) string {
	if limit > 0 {
		return "?limit=" + url.QueryEscape(fmt.Sprint(limit))
	}
	return ""
}

// --- Listings ---

// ListActiveListings returns publicly browsable listings.
func (c *Client) ListActiveListings(ctx context.Context, limit int) ([]Listing, error) {
	var resp struct {
		Listings []Listing `json:"listings"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/listings"+limitQuery(limit), nil, &resp)
	return resp.Listings, err
}

// GetListing returns one listing by ID.
func (c *Client) GetListing(ctx context.Context, id string) (*Listing, error) {
	var resp struct {
		Listing *Listing `json:"listing"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/listings/"+id, nil, &resp)
	return resp.Listing, err
}

// CreateListing creates a draft listing owned by the caller.
func (c *Client) CreateListing(ctx context.Context, req CreateListingRequest) (*Listing, error) {
	var resp struct {
		Listing *Listing `json:"listing"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/listings", req, &resp)
	return resp.Listing, err
}

// PublishListing moves a draft listing to active.
func (c *Client) PublishListing(ctx context.Context, id string) (*Listing, error) {
	var resp struct {
		Listing *Listing `json:"listing"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/listings/"+id+"/publish", nil, &resp)
	return resp.Listing, err
}

// --- Offers ---

// CreateOffer places an offer on a listing.
func (c *Client) CreateOffer(ctx context.Context, req CreateOfferRequest) (*Offer, error) {
	var resp struct {
		Offer *Offer `json:"offer"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/offers", req, &resp)
	return resp.Offer, err
}

// GetOffer returns one offer visible to the caller.
func (c *Client) GetOffer(ctx context.Context, id string) (*Offer, error) {
	var resp struct {
		Offer *Offer `json:"offer"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/offers/"+id, nil, &resp)
	return resp.Offer, err
}

// ListMyOffers returns offers where the caller is buyer or seller.
func (c *Client) ListMyOffers(ctx context.Context, limit int) ([]Offer, error) {
	var resp struct {
		Offers []Offer `json:"offers"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/offers"+limitQuery(limit), nil, &resp)
	return resp.Offers, err
}

// AcceptOffer accepts a pending offer. The returned offer carries the
// order created from it in OrderID.
func (c *Client) AcceptOffer(ctx context.Context, id string) (*Offer, error) {
	var resp struct {
		Offer *Offer `json:"offer"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/offers/"+id+"/accept", nil, &resp)
	return resp.Offer, err
}

// RejectOffer rejects a pending offer.
func (c *Client) RejectOffer(ctx context.Context, id string) (*Offer, error) {
	var resp struct {
		Offer *Offer `json:"offer"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/offers/"+id+"/reject", nil, &resp)
	return resp.Offer, err
}

// CounterOffer replaces a pending offer with a counter at a new amount.
func (c *Client) CounterOffer(ctx context.Context, id, amount, message string) (*Offer, error) {
	var resp struct {
		Offer *Offer `json:"offer"`
	}
	body := map[string]string{"amount": amount}
	if message != "" {
		body["message"] = message
	}
	err := c.do(ctx, http.MethodPost, "/v1/offers/"+id+"/counter", body, &resp)
	return resp.Offer, err
}

// WithdrawOffer withdraws the caller's own pending offer.
func (c *Client) WithdrawOffer(ctx context.Context, id string) (*Offer, error) {
	var resp struct {
		Offer *Offer `json:"offer"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/offers/"+id+"/withdraw", nil, &resp)
	return resp.Offer, err
}

// --- Orders ---

// CreateOrder buys a listing directly at asking price.
func (c *Client) CreateOrder(ctx context.Context, listingID string) (*Order, error) {
	var resp struct {
		Order *Order `json:"order"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/orders", map[string]string{"listingId": listingID}, &resp)
	return resp.Order, err
}

// GetOrder returns one order visible to the caller.
func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	var resp struct {
		Order *Order `json:"order"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/orders/"+id, nil, &resp)
	return resp.Order, err
}

// ListMyOrders returns orders where the caller is buyer or seller.
func (c *Client) ListMyOrders(ctx context.Context, limit int) ([]Order, error) {
	var resp struct {
		Orders []Order `json:"orders"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/orders"+limitQuery(limit), nil, &resp)
	return resp.Orders, err
}

// CancelOrder cancels an order before any money is held.
func (c *Client) CancelOrder(ctx context.Context, id, reason string) (*Order, error) {
	var resp struct {
		Order *Order `json:"order"`
	}
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	err := c.do(ctx, http.MethodPost, "/v1/orders/"+id+"/cancel", body, &resp)
	return resp.Order, err
}

// CompleteOrder marks delivery done. Seller only.
func (c *Client) CompleteOrder(ctx context.Context, id string) (*Order, error) {
	var resp struct {
		Order *Order `json:"order"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/orders/"+id+"/complete", nil, &resp)
	return resp.Order, err
}

// RequestRefund asks for the order to be refunded. Buyer only.
func (c *Client) RequestRefund(ctx context.Context, id, reason string) (*Order, error) {
	var resp struct {
		Order *Order `json:"order"`
	}
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	err := c.do(ctx, http.MethodPost, "/v1/orders/"+id+"/refund-request", body, &resp)
	return resp.Order, err
}

// --- Payments ---

// CreatePayment opens a payment attempt for an order. Buyer only.
func (c *Client) CreatePayment(ctx context.Context, orderID, method string) (*Payment, error) {
	var resp struct {
		Payment *Payment `json:"payment"`
	}
	var body any
	if method != "" {
		body = map[string]string{"method": method}
	}
	err := c.do(ctx, http.MethodPost, "/v1/orders/"+orderID+"/payments", body, &resp)
	return resp.Payment, err
}

// GetPayment returns one payment visible to the caller.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var resp struct {
		Payment *Payment `json:"payment"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/payments/"+id, nil, &resp)
	return resp.Payment, err
}

// ListOrderPayments returns all payment attempts for an order.
func (c *Client) ListOrderPayments(ctx context.Context, orderID string) ([]Payment, error) {
	var resp struct {
		Payments []Payment `json:"payments"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/orders/"+orderID+"/payments", nil, &resp)
	return resp.Payments, err
}

// --- Escrows ---

// GetEscrow returns one escrow visible to the caller.
func (c *Client) GetEscrow(ctx context.Context, id string) (*Escrow, error) {
	var resp struct {
		Escrow *Escrow `json:"escrow"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/escrows/"+id, nil, &resp)
	return resp.Escrow, err
}

// GetOrderEscrow returns the escrow attached to an order.
func (c *Client) GetOrderEscrow(ctx context.Context, orderID string) (*Escrow, error) {
	var resp struct {
		Escrow *Escrow `json:"escrow"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/orders/"+orderID+"/escrow", nil, &resp)
	return resp.Escrow, err
}

// ReleaseEscrow releases held funds to the seller.
func (c *Client) ReleaseEscrow(ctx context.Context, id string) (*Escrow, error) {
	var resp struct {
		Escrow *Escrow `json:"escrow"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/escrows/"+id+"/release", nil, &resp)
	return resp.Escrow, err
}

// --- Invoices ---

// GenerateInvoice creates the invoice for an order.
func (c *Client) GenerateInvoice(ctx context.Context, orderID string) (*Invoice, error) {
	var resp struct {
		Invoice *Invoice `json:"invoice"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/orders/"+orderID+"/invoice", nil, &resp)
	return resp.Invoice, err
}

// GetOrderInvoice returns the invoice attached to an order.
func (c *Client) GetOrderInvoice(ctx context.Context, orderID string) (*Invoice, error) {
	var resp struct {
		Invoice *Invoice `json:"invoice"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/orders/"+orderID+"/invoice", nil, &resp)
	return resp.Invoice, err
}

// GetInvoice returns one invoice visible to the caller.
func (c *Client) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	var resp struct {
		Invoice *Invoice `json:"invoice"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/invoices/"+id, nil, &resp)
	return resp.Invoice, err
}

// ListMyInvoices returns invoices where the caller is buyer or seller.
func (c *Client) ListMyInvoices(ctx context.Context, limit int) ([]Invoice, error) {
	var resp struct {
		Invoices []Invoice `json:"invoices"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/invoices"+limitQuery(limit), nil, &resp)
	return resp.Invoices, err
}

// IssueInvoice moves a draft invoice to issued.
func (c *Client) IssueInvoice(ctx context.Context, id string) (*Invoice, error) {
	var resp struct {
		Invoice *Invoice `json:"invoice"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/invoices/"+id+"/issue", nil, &resp)
	return resp.Invoice, err
}
