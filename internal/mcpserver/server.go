package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Assetbay tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("assetbay", "1.0.0")
	client := NewAssetbayClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolSearchListings, h.HandleSearchListings)
	s.AddTool(ToolGetListing, h.HandleGetListing)
	s.AddTool(ToolMakeOffer, h.HandleMakeOffer)
	s.AddTool(ToolMyOffers, h.HandleMyOffers)
	s.AddTool(ToolGetOrder, h.HandleGetOrder)
	s.AddTool(ToolMyOrders, h.HandleMyOrders)
	s.AddTool(ToolPayOrder, h.HandlePayOrder)
	s.AddTool(ToolGetInvoice, h.HandleGetInvoice)

	return s
}
