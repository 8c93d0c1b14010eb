// Package client is a typed Go client for the Assetbay REST API.
// This is the foundation for the Assetbay SDK.
package client

import (
	"fmt"
	"time"
)

// Listing is an asset listed for sale.
type Listing struct {
	ID                string    `json:"id"`
	SellerID          string    `json:"sellerId"`
	Title             string    `json:"title"`
	AssetType         string    `json:"assetType"`
	Description       string    `json:"description,omitempty"`
	Price             string    `json:"price"`
	Currency          string    `json:"currency"`
	IsPriceNegotiable bool      `json:"isPriceNegotiable"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Offer is a price negotiation on a listing.
type Offer struct {
	ID            string     `json:"id"`
	ListingID     string     `json:"listingId"`
	BuyerID       string     `json:"buyerId"`
	SellerID      string     `json:"sellerId"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Message       string     `json:"message,omitempty"`
	Direction     string     `json:"direction"`
	Status        string     `json:"status"`
	ParentOfferID string     `json:"parentOfferId,omitempty"`
	OrderID       string     `json:"orderId,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Order is a transaction from agreed price to settlement.
type Order struct {
	ID           string     `json:"id"`
	OrderNumber  string     `json:"orderNumber"`
	ListingID    string     `json:"listingId"`
	OfferID      string     `json:"offerId,omitempty"`
	BuyerID      string     `json:"buyerId"`
	SellerID     string     `json:"sellerId"`
	ListingPrice string     `json:"listingPrice"`
	FinalPrice   string     `json:"finalPrice"`
	PlatformFee  string     `json:"platformFee"`
	SellerAmount string     `json:"sellerAmount"`
	Currency     string     `json:"currency"`
	Source       string     `json:"source"`
	Status       string     `json:"status"`
	PaymentID    string     `json:"paymentId,omitempty"`
	EscrowID     string     `json:"escrowId,omitempty"`
	CancelReason string     `json:"cancelReason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	PaidAt       *time.Time `json:"paidAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`
	RefundedAt   *time.Time `json:"refundedAt,omitempty"`
}

// Payment is one attempt to pay for an order.
type Payment struct {
	ID            string     `json:"id"`
	PaymentNumber string     `json:"paymentNumber"`
	OrderID       string     `json:"orderId"`
	BuyerID       string     `json:"buyerId"`
	Method        string     `json:"method"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transactionId,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Escrow holds buyer funds until the sale settles.
type Escrow struct {
	ID           string     `json:"id"`
	OrderID      string     `json:"orderId"`
	Amount       string     `json:"amount"`
	PlatformFee  string     `json:"platformFee"`
	SellerAmount string     `json:"sellerAmount"`
	Currency     string     `json:"currency"`
	Status       string     `json:"status"`
	HeldAt       time.Time  `json:"heldAt"`
	ReleasedAt   *time.Time `json:"releasedAt,omitempty"`
	RefundedAt   *time.Time `json:"refundedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Invoice is the billing document for an order.
type Invoice struct {
	ID            string     `json:"id"`
	InvoiceNumber string     `json:"invoiceNumber"`
	OrderID       string     `json:"orderId"`
	OrderNumber   string     `json:"orderNumber"`
	BuyerID       string     `json:"buyerId"`
	SellerID      string     `json:"sellerId"`
	Subtotal      string     `json:"subtotal"`
	PlatformFee   string     `json:"platformFee"`
	TotalAmount   string     `json:"totalAmount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	IssuedAt      *time.Time `json:"issuedAt,omitempty"`
	DueAt         *time.Time `json:"dueAt,omitempty"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// CreateListingRequest is the payload for creating a listing.
type CreateListingRequest struct {
	Title             string `json:"title"`
	AssetType         string `json:"assetType"`
	Description       string `json:"description,omitempty"`
	Price             string `json:"price"`
	Currency          string `json:"currency,omitempty"`
	IsPriceNegotiable bool   `json:"isPriceNegotiable"`
}

// CreateOfferRequest is the payload for placing an offer.
type CreateOfferRequest struct {
	ListingID string `json:"listingId"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Message   string `json:"message,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// APIError is a structured error response from the API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}
