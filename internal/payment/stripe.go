package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/assetbay/assetbay/internal/apperrors"
	"github.com/assetbay/assetbay/internal/money"
)

// WebhookResult is a processor callback decoded from a webhook payload.
// A nil result means the event is not payment-related and can be ignored.
type WebhookResult struct {
	PaymentID     string
	Succeeded     bool
	TransactionID string
}

// WebhookParser is implemented by processors that deliver results over
// signed webhooks.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*WebhookResult, error)
}

// StripeProcessor submits payments as Stripe PaymentIntents.
type StripeProcessor struct {
	webhookSecret string
}

// NewStripeProcessor configures the Stripe client. The API key is
// process-global in stripe-go.
func NewStripeProcessor(apiKey, webhookSecret string) *StripeProcessor {
	stripe.Key = apiKey
	return &StripeProcessor{webhookSecret: webhookSecret}
}

func (sp *StripeProcessor) Name() string { return "stripe" }

// Submit creates a PaymentIntent carrying our payment and order IDs in
// its metadata so the webhook can be routed back.
func (sp *StripeProcessor) Submit(ctx context.Context, p *Payment) error {
	amt, err := money.Parse(p.Amount)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", p.Amount, err)
	}
	minorUnits := amt.Mul(decimal.NewFromInt(100)).IntPart()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits),
		Currency: stripe.String(strings.ToLower(p.Currency)),
	}
	params.Context = ctx
	params.AddMetadata("payment_id", p.ID)
	params.AddMetadata("order_id", p.OrderID)

	if _, err := paymentintent.New(params); err != nil {
		return fmt.Errorf("create payment intent: %w", apperrors.ErrExternal)
	}
	return nil
}

// ParseWebhook verifies the Stripe signature and decodes the events we
// care about. Unrelated event types return (nil, nil).
func (sp *StripeProcessor) ParseWebhook(payload []byte, signature string) (*WebhookResult, error) {
	event, err := webhook.ConstructEvent(payload, signature, sp.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", apperrors.ErrUnauthorized)
	}

	var succeeded bool
	switch event.Type {
	case "payment_intent.succeeded":
		succeeded = true
	case "payment_intent.payment_failed":
		succeeded = false
	default:
		return nil, nil
	}

	var intent stripe.PaymentIntent
	if err := intent.UnmarshalJSON(event.Data.Raw); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", apperrors.ErrValidation)
	}

	paymentID := intent.Metadata["payment_id"]
	if paymentID == "" {
		// Intent created outside this service. Nothing to route.
		return nil, nil
	}

	return &WebhookResult{
		PaymentID:     paymentID,
		Succeeded:     succeeded,
		TransactionID: intent.ID,
	}, nil
}

var _ Processor = (*StripeProcessor)(nil)
var _ WebhookParser = (*StripeProcessor)(nil)
