package payments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrWidgetNotReady is returned when a charge is initiated before the
// hosted widget has signalled readiness.
var ErrWidgetNotReady = errors.New("payments: widget not ready")

// ErrHandleCompleted is returned when a completion signal arrives for a
// handle that has already settled.
var ErrHandleCompleted = errors.New("payments: widget interaction already completed")

// WidgetConfig carries the parameters handed to the hosted widget.
// Amount is minor currency units and must be the authoritative order
// total, never a local estimate.
type WidgetConfig struct {
	PublicKey string
	Email     string
	Amount    int64
	Currency  string
	Reference string
	OnSuccess func(gatewayReference string)
	OnClose   func()
}

// WidgetHandle tracks one in-flight widget interaction. Exactly one of
// the success or close callbacks fires, exactly once.
type WidgetHandle struct {
	reference string
	onSuccess func(string)
	onClose   func()
	once      sync.Once
}

// Reference returns the payment reference the handle was opened with.
func (h *WidgetHandle) Reference() string {
	if h == nil {
		return ""
	}
	return h.reference
}

// CompleteSuccess reports gateway-side success. The first completion
// wins; later signals return ErrHandleCompleted.
func (h *WidgetHandle) CompleteSuccess(gatewayReference string) error {
	if h == nil {
		return errors.New("payments: handle is nil")
	}
	fired := false
	h.once.Do(func() {
		fired = true
		if h.onSuccess != nil {
			h.onSuccess(gatewayReference)
		}
	})
	if !fired {
		return ErrHandleCompleted
	}
	return nil
}

// CompleteClose reports that the customer dismissed the widget. Not an
// error; the pending order is untouched.
func (h *WidgetHandle) CompleteClose() error {
	if h == nil {
		return errors.New("payments: handle is nil")
	}
	fired := false
	h.once.Do(func() {
		fired = true
		if h.onClose != nil {
			h.onClose()
		}
	})
	if !fired {
		return ErrHandleCompleted
	}
	return nil
}

// WidgetAdapter gates widget interactions behind an explicit readiness
// flag; the hosted script loads asynchronously and initiation before it
// is ready must be a guarded error, not a crash.
type WidgetAdapter struct {
	ready  atomic.Bool
	logger func(ctx context.Context, event string, fields map[string]any)

	mu      sync.Mutex
	handles map[string]*WidgetHandle
}

// NewWidgetAdapter constructs a WidgetAdapter.
func NewWidgetAdapter(logger func(ctx context.Context, event string, fields map[string]any)) *WidgetAdapter {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WidgetAdapter{
		logger:  logger,
		handles: make(map[string]*WidgetHandle),
	}
}

// MarkReady records that the hosted widget script has loaded.
func (a *WidgetAdapter) MarkReady() {
	a.ready.Store(true)
}

// Ready reports whether charges may be initiated.
func (a *WidgetAdapter) Ready() bool {
	return a.ready.Load()
}

// Initiate hands control to the hosted widget and returns immediately.
// Completion arrives later through the handle.
func (a *WidgetAdapter) Initiate(ctx context.Context, cfg WidgetConfig) (*WidgetHandle, error) {
	if !a.ready.Load() {
		return nil, ErrWidgetNotReady
	}
	reference := strings.TrimSpace(cfg.Reference)
	if reference == "" {
		return nil, errors.New("payments: reference is required")
	}
	if cfg.Amount <= 0 {
		return nil, errors.New("payments: amount must be positive")
	}

	handle := &WidgetHandle{
		reference: reference,
		onSuccess: cfg.OnSuccess,
		onClose:   cfg.OnClose,
	}

	a.mu.Lock()
	a.handles[reference] = handle
	a.mu.Unlock()

	a.logger(ctx, "widget.charge.initiated", map[string]any{
		"reference": reference,
		"amount":    cfg.Amount,
		"currency":  cfg.Currency,
	})

	return handle, nil
}

// Handle returns the in-flight handle for a reference, if any.
func (a *WidgetAdapter) Handle(reference string) (*WidgetHandle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handles[strings.TrimSpace(reference)]
	return h, ok
}

// Release drops a settled handle.
func (a *WidgetAdapter) Release(reference string) {
	a.mu.Lock()
	delete(a.handles, strings.TrimSpace(reference))
	a.mu.Unlock()
}
