package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Stripe event types we act on.
const (
	stripeIntentSucceeded = "payment_intent.succeeded"
	stripeIntentFailed    = "payment_intent.payment_failed"
)

// intentCreator is satisfied by the Stripe client's PaymentIntents resource.
type intentCreator interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGateway creates payment intents and verifies Stripe webhooks.
type StripeGateway struct {
	intents       intentCreator
	webhookSecret string
}

// NewStripeGateway builds a gateway with its own API client so the global
// stripe.Key is never touched.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	sc := client.New(secretKey, nil)
	return &StripeGateway{
		intents:       sc.PaymentIntents,
		webhookSecret: webhookSecret,
	}
}

// CreateIntent creates a payment intent for amountMinor in currency. The
// idempotency key is derived from the request and attempt, so a client
// retrying the same attempt gets the same intent back.
func (g *StripeGateway) CreateIntent(ctx context.Context, amountMinor int64, currency string, meta Metadata) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("request_id", meta.RequestID)
	params.AddMetadata("agent_id", meta.AgentID)
	params.AddMetadata("listing_id", meta.ListingID)
	params.AddMetadata("attempt", strconv.Itoa(meta.Attempt))
	params.SetIdempotencyKey(fmt.Sprintf("grant-access-%s-%d", meta.RequestID, meta.Attempt))

	pi, err := g.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &Intent{ExternalRef: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// ParseWebhook verifies the Stripe-Signature header and classifies the event.
func (g *StripeGateway) ParseWebhook(rawBody []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(rawBody, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type), Kind: EventOther}
	switch string(ev.Type) {
	case stripeIntentSucceeded:
		out.Kind = EventSucceeded
	case stripeIntentFailed:
		out.Kind = EventFailed
	default:
		return out, nil
	}

	if ev.Data == nil {
		return nil, fmt.Errorf("event %s has no data", ev.ID)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	out.ExternalRef = pi.ID
	out.AmountMinor = pi.Amount
	out.Currency = string(pi.Currency)
	out.RequestID = pi.Metadata["request_id"]
	if pi.LastPaymentError != nil {
		out.FailureReason = pi.LastPaymentError.Msg
	}
	return out, nil
}
