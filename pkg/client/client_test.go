package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"listings": []any{}})
	}))
	defer ts.Close()

	c := New(ts.URL, "sk_abc123")
	_, err := c.ListActiveListings(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_abc123", gotAuth)
}

func TestClient_NoAuthHeaderWithoutKey(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"listings": []any{}})
	}))
	defer ts.Close()

	c := New(ts.URL, "")
	_, err := c.ListActiveListings(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestClient_LimitQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{"orders": []any{}})
	}))
	defer ts.Close()

	c := New(ts.URL, "k")
	_, err := c.ListMyOrders(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "limit=5", gotQuery)
}

func TestClient_DecodesListing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/listings/lst_1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"listing": map[string]any{
				"id": "lst_1", "sellerId": "usr_1", "title": "example.com",
				"assetType": "domain", "price": "1000.00", "currency": "USD",
				"isPriceNegotiable": true, "status": "active",
			},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "k")
	l, err := c.GetListing(context.Background(), "lst_1")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, "example.com", l.Title)
	assert.Equal(t, "domain", l.AssetType)
	assert.True(t, l.IsPriceNegotiable)
}

func TestClient_CreateOffer_SendsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/offers", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req CreateOfferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "lst_1", req.ListingID)
		assert.Equal(t, "90.00", req.Amount)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"offer": map[string]any{"id": "ofr_1", "status": "pending", "amount": "90.00"},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "k")
	o, err := c.CreateOffer(context.Background(), CreateOfferRequest{
		ListingID: "lst_1",
		Amount:    "90.00",
	})
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "ofr_1", o.ID)
	assert.Equal(t, "pending", o.Status)
}

func TestClient_APIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_state",
			"message": "listing is not available for sale",
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "k")
	_, err := c.CreateOrder(context.Background(), "lst_1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "invalid_state", apiErr.Code)
	assert.Contains(t, apiErr.Message, "not available")
}

func TestClient_NonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	c := New(ts.URL, "k")
	_, err := c.GetOrder(context.Background(), "ord_1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "http_error", apiErr.Code)
	assert.Contains(t, apiErr.Message, "upstream timeout")
}

func TestClient_ConnectionError(t *testing.T) {
	c := New("http://127.0.0.1:1", "k")
	_, err := c.ListActiveListings(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}
