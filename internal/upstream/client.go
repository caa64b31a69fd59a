// Package upstream holds the HTTP clients for the commerce platform API
// this service fronts. Every request carries the caller's bearer token;
// read-only calls retry transient failures, mutating calls never do.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/zarumart/api/internal/platform/session"
)

// ErrSessionExpired indicates the platform rejected the bearer token.
var ErrSessionExpired = errors.New("upstream: session expired")

// Logger defines the logging contract for upstream operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// APIError carries a structured 4xx/5xx response from the platform. The
// message is surfaced to the caller verbatim.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("upstream: request failed with status %d", e.Status)
}

// NetworkError wraps a transport-level failure before any response arrived.
type NetworkError struct {
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("upstream: network failure: %v", e.Err)
}

// Unwrap exposes the underlying error.
func (e *NetworkError) Unwrap() error { return e.Err }

// SessionInvalidator is notified when the platform reports an expired or
// revoked token so session-scoped state can be torn down.
type SessionInvalidator func(ctx context.Context, sessionID string)

// Config configures the upstream Client.
type Config struct {
	BaseURL         string
	HTTPClient      *http.Client
	Timeout         time.Duration
	RetryMax        int
	RetryInterval   time.Duration
	RetryMaxElapsed time.Duration
	Logger          Logger
	OnSessionExpiry SessionInvalidator
}

// Client is the shared transport for all platform endpoints.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	retryMax        int
	retryInterval   time.Duration
	retryMaxElapsed time.Duration
	logger          Logger
	onSessionExpiry SessionInvalidator
}

// NewClient constructs a Client from the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("upstream: base url is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 200 * time.Millisecond
	}
	retryMaxElapsed := cfg.RetryMaxElapsed
	if retryMaxElapsed <= 0 {
		retryMaxElapsed = 3 * time.Second
	}
	retryMax := cfg.RetryMax
	if retryMax < 0 {
		retryMax = 0
	}

	return &Client{
		baseURL:         baseURL,
		httpClient:      httpClient,
		retryMax:        retryMax,
		retryInterval:   retryInterval,
		retryMaxElapsed: retryMaxElapsed,
		logger:          logger,
		onSessionExpiry: cfg.OnSessionExpiry,
	}, nil
}

// get issues a GET request with bounded retry on transient failures.
func (c *Client) get(ctx context.Context, path string, out any) error {
	operation := func() error {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return err
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= http.StatusInternalServerError {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.MaxElapsedTime = c.retryMaxElapsed

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.retryMax)), ctx))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

// post issues a POST request. Mutations are never retried; duplicate
// submissions risk duplicate orders and charge attempts.
func (c *Client) post(ctx context.Context, path string, body, out any, headers map[string]string) error {
	return c.do(ctx, http.MethodPost, path, body, out, withHeaders(headers))
}

func (c *Client) put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

type requestOption func(*http.Request)

func withHeaders(headers map[string]string) requestOption {
	return func(req *http.Request) {
		for k, v := range headers {
			if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
				continue
			}
			req.Header.Set(k, v)
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, opts ...requestOption) error {
	sess, ok := session.FromContext(ctx)
	if !ok {
		return errors.New("upstream: no session in context")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("upstream: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger(ctx, "upstream.request.network_error", map[string]any{
			"method": method,
			"path":   path,
			"error":  err.Error(),
		})
		return &NetworkError{Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.logger(ctx, "upstream.session.expired", map[string]any{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		})
		if c.onSessionExpiry != nil {
			c.onSessionExpiry(ctx, sess.ID)
		}
		return ErrSessionExpired
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			Detail  string `json:"detail"`
		}
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&envelope); decodeErr == nil {
			apiErr.Code = envelope.Error
			apiErr.Message = envelope.Message
			if apiErr.Message == "" {
				apiErr.Message = envelope.Detail
			}
		}
		c.logger(ctx, "upstream.request.api_error", map[string]any{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
			"code":   apiErr.Code,
		})
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream: decode response: %w", err)
	}
	return nil
}
