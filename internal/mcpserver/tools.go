package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Assetbay MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolSearchListings = mcp.NewTool("search_listings",
	mcp.WithDescription(
		"Browse active listings on the Assetbay marketplace: domains, websites, "+
			"apps, SaaS products, and FBA businesses for sale. "+
			"Returns listing IDs, asking prices, and whether the price is negotiable."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of listings to return (default 20)")),
)

var ToolGetListing = mcp.NewTool("get_listing",
	mcp.WithDescription(
		"Get the full details of one listing: title, asset type, asking price, "+
			"status, and whether the seller accepts offers below the asking price."),
	mcp.WithString("listing_id",
		mcp.Required(),
		mcp.Description("The listing ID (e.g. 'lst_...')")),
)

var ToolMakeOffer = mcp.NewTool("make_offer",
	mcp.WithDescription(
		"Place an offer on a listing. The seller can accept, reject, or counter. "+
			"If accepted, an order is created at your offered amount. "+
			"Only works on negotiable listings; non-negotiable listings must be bought at the asking price."),
	mcp.WithString("listing_id",
		mcp.Required(),
		mcp.Description("The listing to offer on")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Offer amount as a decimal string (e.g. '950.00')")),
	mcp.WithString("message",
		mcp.Description("Optional message to the seller")),
)

var ToolMyOffers = mcp.NewTool("my_offers",
	mcp.WithDescription(
		"List your offers, as buyer or seller, with their current status "+
			"(pending, accepted, rejected, countered, withdrawn, expired). "+
			"Accepted offers include the order ID to pay."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of offers to return (default 20)")),
)

var ToolGetOrder = mcp.NewTool("get_order",
	mcp.WithDescription(
		"Get the status of an order: where it sits in the lifecycle "+
			"(pending, payment_pending, processing, completed, refund_requested, refunded, cancelled), "+
			"the price breakdown, and linked payment/escrow IDs."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("The order ID (e.g. 'ord_...')")),
)

var ToolMyOrders = mcp.NewTool("my_orders",
	mcp.WithDescription(
		"List your orders, as buyer or seller, most recent first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of orders to return (default 20)")),
)

var ToolPayOrder = mcp.NewTool("pay_order",
	mcp.WithDescription(
		"Start a payment for an order you are buying. "+
			"Funds are held in escrow until the seller delivers and the order completes. "+
			"Only the order's buyer can pay, and only one payment can be in flight at a time."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("The order to pay")),
	mcp.WithString("method",
		mcp.Description("Payment method hint (e.g. 'card'); optional")),
)

var ToolGetInvoice = mcp.NewTool("get_invoice",
	mcp.WithDescription(
		"Get the invoice for a paid order: invoice number, amounts, due date, and status."),
	mcp.WithString("order_id",
		mcp.Required(),
		mcp.Description("The order whose invoice to fetch")),
)
