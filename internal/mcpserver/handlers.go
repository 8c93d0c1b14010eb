package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *AssetbayClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *AssetbayClient) *Handlers {
	return &Handlers{client: client}
}

// HandleSearchListings browses the marketplace.
func (h *Handlers) HandleSearchListings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListListings(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to search listings: %v", err)), nil
	}

	text, err := formatListingList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse listings: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetListing returns one listing.
func (h *Handlers) HandleGetListing(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("listing_id", "")
	if id == "" {
		return mcp.NewToolResultError("listing_id is required"), nil
	}

	raw, err := h.client.GetListing(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get listing: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleMakeOffer places an offer on a listing.
func (h *Handlers) HandleMakeOffer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	listingID := req.GetString("listing_id", "")
	if listingID == "" {
		return mcp.NewToolResultError("listing_id is required"), nil
	}
	amount := req.GetString("amount", "")
	if amount == "" {
		return mcp.NewToolResultError("amount is required"), nil
	}
	message := req.GetString("message", "")

	raw, err := h.client.CreateOffer(ctx, listingID, amount, "", message)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Offer failed: %v", err)), nil
	}

	offerID := extractID(raw, "offer")
	return mcp.NewToolResultText(fmt.Sprintf(
		"Offer placed for %s on listing %s\n"+
			"Offer ID: %s\n"+
			"Status: pending\n\n"+
			"The seller can accept, reject, or counter. "+
			"Check my_offers for updates; an accepted offer includes the order to pay.",
		amount, listingID, offerID)), nil
}

// HandleMyOffers lists the user's offers.
func (h *Handlers) HandleMyOffers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListMyOffers(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list offers: %v", err)), nil
	}

	text, err := formatOfferList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse offers: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetOrder returns one order.
func (h *Handlers) HandleGetOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("order_id", "")
	if id == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}

	raw, err := h.client.GetOrder(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get order: %v", err)), nil
	}

	text, err := formatOrder(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse order: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleMyOrders lists the user's orders.
func (h *Handlers) HandleMyOrders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListMyOrders(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list orders: %v", err)), nil
	}

	text, err := formatOrderList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse orders: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandlePayOrder starts a payment attempt for an order.
func (h *Handlers) HandlePayOrder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	if orderID == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}
	method := req.GetString("method", "")

	raw, err := h.client.CreatePayment(ctx, orderID, method)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Payment failed: %v", err)), nil
	}

	var resp struct {
		Payment struct {
			ID     string `json:"id"`
			Amount string `json:"amount"`
			Status string `json:"status"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Payment.ID == "" {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Payment started for order %s\n"+
			"Payment ID: %s\n"+
			"Amount: %s\n"+
			"Status: %s\n\n"+
			"Once the processor confirms, funds are held in escrow until the seller delivers.",
		orderID, resp.Payment.ID, resp.Payment.Amount, resp.Payment.Status)), nil
}

// HandleGetInvoice fetches an order's invoice.
func (h *Handlers) HandleGetInvoice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orderID := req.GetString("order_id", "")
	if orderID == "" {
		return mcp.NewToolResultError("order_id is required"), nil
	}

	raw, err := h.client.GetOrderInvoice(ctx, orderID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get invoice: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// --- Formatting helpers ---

func formatListingList(raw json.RawMessage) (string, error) {
	var resp struct {
		Listings []map[string]any `json:"listings"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected listings response format")
	}
	if len(resp.Listings) == 0 {
		return "No active listings found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d listing(s):\n\n", len(resp.Listings))
	for i, l := range resp.Listings {
		fmt.Fprintf(&sb, "%d. %s [%s]\n", i+1, getString(l, "title"), getString(l, "id"))
		fmt.Fprintf(&sb, "   Type: %s | Price: %s %s", getString(l, "assetType"), getString(l, "price"), getString(l, "currency"))
		if neg, ok := l["isPriceNegotiable"].(bool); ok && neg {
			sb.WriteString(" (negotiable)")
		}
		sb.WriteString("\n")
		if i < len(resp.Listings)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func formatOfferList(raw json.RawMessage) (string, error) {
	var resp struct {
		Offers []map[string]any `json:"offers"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected offers response format")
	}
	if len(resp.Offers) == 0 {
		return "You have no offers.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d offer(s):\n\n", len(resp.Offers))
	for i, o := range resp.Offers {
		fmt.Fprintf(&sb, "%d. %s on listing %s\n", i+1, getString(o, "id"), getString(o, "listingId"))
		fmt.Fprintf(&sb, "   Amount: %s %s | Status: %s\n", getString(o, "amount"), getString(o, "currency"), getString(o, "status"))
		if orderID := getString(o, "orderId"); orderID != "" {
			fmt.Fprintf(&sb, "   Accepted -> order %s (use pay_order to pay)\n", orderID)
		}
	}
	return sb.String(), nil
}

func formatOrder(raw json.RawMessage) (string, error) {
	var resp struct {
		Order map[string]any `json:"order"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Order == nil {
		return "", fmt.Errorf("unexpected order response format")
	}
	o := resp.Order

	var sb strings.Builder
	fmt.Fprintf(&sb, "Order %s (%s)\n", getString(o, "id"), getString(o, "orderNumber"))
	fmt.Fprintf(&sb, "  Status: %s\n", getString(o, "status"))
	fmt.Fprintf(&sb, "  Listing: %s\n", getString(o, "listingId"))
	fmt.Fprintf(&sb, "  Final price: %s %s\n", getString(o, "finalPrice"), getString(o, "currency"))
	fmt.Fprintf(&sb, "  Platform fee: %s | Seller receives: %s\n", getString(o, "platformFee"), getString(o, "sellerAmount"))
	if v := getString(o, "paymentId"); v != "" {
		fmt.Fprintf(&sb, "  Payment: %s\n", v)
	}
	if v := getString(o, "escrowId"); v != "" {
		fmt.Fprintf(&sb, "  Escrow: %s\n", v)
	}
	return sb.String(), nil
}

func formatOrderList(raw json.RawMessage) (string, error) {
	var resp struct {
		Orders []map[string]any `json:"orders"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected orders response format")
	}
	if len(resp.Orders) == 0 {
		return "You have no orders.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d order(s):\n\n", len(resp.Orders))
	for i, o := range resp.Orders {
		fmt.Fprintf(&sb, "%d. %s | %s %s | %s\n", i+1,
			getString(o, "id"), getString(o, "finalPrice"), getString(o, "currency"), getString(o, "status"))
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// extractID pulls the ID out of a {"<kind>": {"id": "..."}} envelope.
func extractID(raw json.RawMessage, kind string) string {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ""
	}
	if entity, ok := resp[kind].(map[string]any); ok {
		if id, ok := entity["id"].(string); ok {
			return id
		}
	}
	return ""
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}
