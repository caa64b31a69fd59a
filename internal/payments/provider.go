// Package payments wraps the hosted payment gateways. Providers initiate
// a charge for an already-created order and report its gateway-side
// status; charge finalisation always happens upstream.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised charge states shared across providers.
type Status string

const (
	// StatusPending indicates the charge is awaiting customer action.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the charge as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a terminal failure.
	StatusFailed Status = "failed"
	// StatusAbandoned indicates the customer closed the flow without paying.
	StatusAbandoned Status = "abandoned"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// InitializeRequest captures the payload required to start a hosted charge.
// Amount is minor currency units and must be the authoritative order total.
type InitializeRequest struct {
	Email       string
	Amount      int64
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    map[string]string
}

// Initialization describes the gateway handoff returned to the client.
type Initialization struct {
	Provider         string
	Reference        string
	AccessCode       string
	AuthorizationURL string
	PublicKey        string
}

// VerifyRequest identifies the charge to check, by the reference the
// gateway returned during initialization.
type VerifyRequest struct {
	Reference string
}

// ChargeDetails normalises gateway-specific verification fields.
type ChargeDetails struct {
	Provider  string
	Reference string
	Status    Status
	Amount    int64
	Currency  string
	PaidAt    *time.Time
	Raw       map[string]any
}

// Provider defines the contract for gateway adapters to implement.
type Provider interface {
	Initialize(ctx context.Context, req InitializeRequest) (Initialization, error)
	Verify(ctx context.Context, req VerifyRequest) (ChargeDetails, error)
}

// Manager coordinates provider selection by currency and preference.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.TrimSpace(strings.ToLower(provider))
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["paystack"]; ok {
		m.defaultProvider = "paystack"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Initialize delegates to the resolved provider.
func (m *Manager) Initialize(ctx context.Context, paymentCtx PaymentContext, req InitializeRequest) (Initialization, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Initialization{}, err
	}
	init, err := provider.Initialize(ctx, req)
	if err != nil {
		return Initialization{}, err
	}
	init.Provider = key
	return init, nil
}

// Verify delegates to the resolved provider.
func (m *Manager) Verify(ctx context.Context, paymentCtx PaymentContext, req VerifyRequest) (ChargeDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return ChargeDetails{}, err
	}
	details, err := provider.Verify(ctx, req)
	if err != nil {
		return ChargeDetails{}, err
	}
	details.Provider = key
	return details, nil
}
