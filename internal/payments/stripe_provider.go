package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey  string
	Logger  StripeLogger
	Clock   func() time.Time
	Intents stripePaymentIntentAPI
}

// StripeProvider implements the Provider interface using Stripe payment
// intents. The intent ID doubles as the gateway reference; the order's
// payment reference travels in metadata for reconciliation.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	intents := cfg.Intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, nil)
		intents = sc.PaymentIntents
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		intents: intents,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Initialize creates a payment intent for the authoritative order amount.
func (p *StripeProvider) Initialize(ctx context.Context, req InitializeRequest) (Initialization, error) {
	if p == nil {
		return Initialization{}, errors.New("stripe: provider is nil")
	}
	if req.Amount <= 0 {
		return Initialization{}, errors.New("stripe: amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return Initialization{}, errors.New("stripe: currency is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	if email := strings.TrimSpace(req.Email); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	if reference := strings.TrimSpace(req.Reference); reference != "" {
		params.SetIdempotencyKey(reference)
		params.AddMetadata("payment_reference", reference)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return Initialization{}, err
	}

	p.logger(ctx, "stripe.intent.created", map[string]any{
		"intent_id": intent.ID,
		"amount":    req.Amount,
		"currency":  currency,
	})

	return Initialization{
		Reference:  intent.ID,
		AccessCode: intent.ClientSecret,
	}, nil
}

// Verify looks up the payment intent and normalises its status.
func (p *StripeProvider) Verify(ctx context.Context, req VerifyRequest) (ChargeDetails, error) {
	if p == nil {
		return ChargeDetails{}, errors.New("stripe: provider is nil")
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return ChargeDetails{}, errors.New("stripe: reference is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.intents.Get(reference, params)
	if err != nil {
		return ChargeDetails{}, err
	}

	details := ChargeDetails{
		Reference: intent.ID,
		Status:    normaliseStripeStatus(intent.Status),
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
		Raw: map[string]any{
			"status": string(intent.Status),
		},
	}
	if details.Status == StatusSucceeded {
		paidAt := p.clock()
		if intent.Created > 0 {
			paidAt = time.Unix(intent.Created, 0).UTC()
		}
		details.PaidAt = &paidAt
	}

	return details, nil
}

func normaliseStripeStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusAbandoned
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresCapture:
		return StatusPending
	default:
		return StatusFailed
	}
}
