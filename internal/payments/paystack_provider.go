package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PaystackLogger defines the logging contract for Paystack provider operations.
type PaystackLogger func(ctx context.Context, event string, fields map[string]any)

const defaultPaystackBaseURL = "https://api.paystack.co"

// PaystackProviderConfig configures the PaystackProvider.
type PaystackProviderConfig struct {
	BaseURL     string
	SecretKey   string
	PublicKey   string
	CallbackURL string
	HTTPClient  *http.Client
	Logger      PaystackLogger
	Clock       func() time.Time
}

// PaystackProvider implements the Provider interface against the Paystack
// transaction API.
type PaystackProvider struct {
	baseURL     string
	secretKey   string
	publicKey   string
	callbackURL string
	httpClient  *http.Client
	logger      PaystackLogger
	clock       func() time.Time
}

// NewPaystackProvider constructs a Paystack Provider using the given configuration.
func NewPaystackProvider(cfg PaystackProviderConfig) (*PaystackProvider, error) {
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errors.New("paystack: secret key is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultPaystackBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &PaystackProvider{
		baseURL:     baseURL,
		secretKey:   secretKey,
		publicKey:   strings.TrimSpace(cfg.PublicKey),
		callbackURL: strings.TrimSpace(cfg.CallbackURL),
		httpClient:  httpClient,
		logger:      logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize starts a Paystack transaction for the hosted checkout widget.
func (p *PaystackProvider) Initialize(ctx context.Context, req InitializeRequest) (Initialization, error) {
	if p == nil {
		return Initialization{}, errors.New("paystack: provider is nil")
	}
	if strings.TrimSpace(req.Email) == "" {
		return Initialization{}, errors.New("paystack: email is required")
	}
	if req.Amount <= 0 {
		return Initialization{}, errors.New("paystack: amount must be positive")
	}
	if strings.TrimSpace(req.Reference) == "" {
		return Initialization{}, errors.New("paystack: reference is required")
	}

	body := map[string]any{
		"email":     req.Email,
		"amount":    req.Amount,
		"reference": req.Reference,
	}
	if currency := strings.ToUpper(strings.TrimSpace(req.Currency)); currency != "" {
		body["currency"] = currency
	}
	if p.callbackURL != "" {
		body["callback_url"] = p.callbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := p.call(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return Initialization{}, err
	}

	p.logger(ctx, "paystack.transaction.initialized", map[string]any{
		"reference": data.Reference,
		"amount":    req.Amount,
		"currency":  req.Currency,
	})

	return Initialization{
		Reference:        data.Reference,
		AccessCode:       data.AccessCode,
		AuthorizationURL: data.AuthorizationURL,
		PublicKey:        p.publicKey,
	}, nil
}

// Verify checks a transaction's gateway-side status by reference.
func (p *PaystackProvider) Verify(ctx context.Context, req VerifyRequest) (ChargeDetails, error) {
	if p == nil {
		return ChargeDetails{}, errors.New("paystack: provider is nil")
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return ChargeDetails{}, errors.New("paystack: reference is required")
	}

	var data struct {
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		PaidAt   string `json:"paid_at"`
	}
	if err := p.call(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return ChargeDetails{}, err
	}

	details := ChargeDetails{
		Reference: reference,
		Status:    normalisePaystackStatus(data.Status),
		Amount:    data.Amount,
		Currency:  strings.ToUpper(data.Currency),
		Raw: map[string]any{
			"status":  data.Status,
			"paid_at": data.PaidAt,
		},
	}
	if data.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			utc := paidAt.UTC()
			details.PaidAt = &utc
		}
	}

	p.logger(ctx, "paystack.transaction.verified", map[string]any{
		"reference": reference,
		"status":    string(details.Status),
	})

	return details, nil
}

func normalisePaystackStatus(status string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return StatusSucceeded
	case "failed":
		return StatusFailed
	case "abandoned":
		return StatusAbandoned
	default:
		return StatusPending
	}
}

func (p *PaystackProvider) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("paystack: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("paystack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paystack: request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	var envelope paystackEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return fmt.Errorf("paystack: decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !envelope.Status {
		message := envelope.Message
		if message == "" {
			message = "request rejected"
		}
		return fmt.Errorf("paystack: %s (status %d)", message, resp.StatusCode)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("paystack: decode data: %w", err)
		}
	}
	return nil
}
