package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Assetbay platform.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // API key, e.g. "sk_..."
}

// AssetbayClient is a pure HTTP client for the Assetbay platform API.
type AssetbayClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewAssetbayClient creates a new client for the Assetbay platform.
func NewAssetbayClient(cfg Config) *AssetbayClient {
	return &AssetbayClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *AssetbayClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// ListListings returns active listings on the marketplace.
func (c *AssetbayClient) ListListings(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/listings", q, nil)
}

// GetListing returns one listing by ID.
func (c *AssetbayClient) GetListing(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/listings/"+id, nil, nil)
}

// CreateOffer places an offer on a listing.
func (c *AssetbayClient) CreateOffer(ctx context.Context, listingID, amount, currency, message string) (json.RawMessage, error) {
	body := map[string]string{
		"listingId": listingID,
		"amount":    amount,
	}
	if currency != "" {
		body["currency"] = currency
	}
	if message != "" {
		body["message"] = message
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/offers", nil, body)
}

// ListMyOffers returns the authenticated user's offers.
func (c *AssetbayClient) ListMyOffers(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/offers", q, nil)
}

// GetOrder returns one order by ID.
func (c *AssetbayClient) GetOrder(ctx context.Context, id string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/orders/"+id, nil, nil)
}

// ListMyOrders returns the authenticated user's orders.
func (c *AssetbayClient) ListMyOrders(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/orders", q, nil)
}

// CreatePayment starts a payment attempt for an order.
func (c *AssetbayClient) CreatePayment(ctx context.Context, orderID, method string) (json.RawMessage, error) {
	var body any
	if method != "" {
		body = map[string]string{"method": method}
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/orders/"+orderID+"/payments", nil, body)
}

// GetOrderInvoice returns the invoice attached to an order.
func (c *AssetbayClient) GetOrderInvoice(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/orders/"+orderID+"/invoice", nil, nil)
}
