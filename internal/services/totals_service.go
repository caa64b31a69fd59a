package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/zarumart/api/internal/domain"
	"github.com/zarumart/api/internal/platform/session"
	"github.com/zarumart/api/internal/upstream"
)

// ErrTotalsInvalidInput indicates the caller supplied invalid input.
var ErrTotalsInvalidInput = errors.New("totals service: invalid input")

// ErrTotalsUnavailable indicates the totals service cannot fulfil the request.
var ErrTotalsUnavailable = errors.New("totals service: unavailable")

// ErrTotalsEmptyCart indicates reconciliation was requested for an empty
// cart; no meaningful computation exists and the authority is not called.
var ErrTotalsEmptyCart = errors.New("totals service: cart is empty")

// ErrTotalsSuperseded indicates the response belonged to inputs that were
// replaced while the request was in flight; the response was discarded.
var ErrTotalsSuperseded = errors.New("totals service: response superseded")

// TotalsServiceDeps wires the cart and pricing authority dependencies.
type TotalsServiceDeps struct {
	Cart       CartService
	Calculator totalsCalculator
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type totalsKey struct {
	option domain.ShippingOption
	code   string
}

type totalsState struct {
	// latestSeq advances on every issued request; latestKey is the key
	// of the most recent one. A response is accepted only while its key
	// is still the latest.
	latestSeq uint64
	latestKey totalsKey
	accepted  *domain.SecureTotals
}

type totalsService struct {
	cart       CartService
	calculator totalsCalculator
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)

	mu       sync.Mutex
	sessions map[string]*totalsState
}

// NewTotalsService constructs a TotalsService enforcing dependency validation.
func NewTotalsService(deps TotalsServiceDeps) (TotalsService, error) {
	if deps.Cart == nil {
		return nil, errors.New("totals service: cart service is required")
	}
	if deps.Calculator == nil {
		return nil, errors.New("totals service: calculator is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("totals service: clock is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &totalsService{
		cart:       deps.Cart,
		calculator: deps.Calculator,
		now:        func() time.Time { return deps.Clock().UTC() },
		logger:     logger,
		sessions:   make(map[string]*totalsState),
	}, nil
}

func makeTotalsKey(option domain.ShippingOption, code *string) totalsKey {
	key := totalsKey{option: option}
	if code != nil {
		key.code = strings.ToUpper(strings.TrimSpace(*code))
	}
	return key
}

// Reconcile requests the authoritative breakdown for the given inputs.
// Responses whose (shippingOption, discountCode) key was superseded by a
// later request are discarded, even when they arrive after it.
func (s *totalsService) Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error) {
	sess, ok := session.FromContext(ctx)
	if !ok {
		return ReconcileResult{}, ErrTotalsUnavailable
	}
	if !cmd.ShippingOption.Valid() {
		return ReconcileResult{}, ErrTotalsInvalidInput
	}

	lines, err := s.cart.Lines(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}
	if len(lines) == 0 {
		return ReconcileResult{}, ErrTotalsEmptyCart
	}

	key := makeTotalsKey(cmd.ShippingOption, cmd.DiscountCode)

	s.mu.Lock()
	state, ok := s.sessions[sess.ID]
	if !ok {
		state = &totalsState{}
		s.sessions[sess.ID] = state
	}
	state.latestSeq++
	seq := state.latestSeq
	state.latestKey = key
	s.mu.Unlock()

	req := upstream.CalculateRequest{
		Lines:          make([]upstream.CalculateLine, 0, len(lines)),
		ShippingOption: cmd.ShippingOption,
		DiscountCode:   cmd.DiscountCode,
	}
	for _, line := range lines {
		req.Lines = append(req.Lines, upstream.CalculateLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		})
	}

	result, err := s.calculator.CalculateTotals(ctx, req)
	if err != nil {
		return ReconcileResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if state.latestKey != key || state.latestSeq != seq {
		s.logger(ctx, "totals.response.discarded", map[string]any{
			"shipping_option": string(cmd.ShippingOption),
			"seq":             seq,
			"latest_seq":      state.latestSeq,
		})
		return ReconcileResult{}, ErrTotalsSuperseded
	}

	// Zero staleness tolerance: the accepted response overwrites any
	// prior value unconditionally.
	totals := result.Totals
	state.accepted = &totals

	s.logger(ctx, "totals.reconciled", map[string]any{
		"shipping_option": string(cmd.ShippingOption),
		"grand_total":     totals.GrandTotal,
		"discount_amount": totals.DiscountAmount,
	})

	out := ReconcileResult{Totals: totals}
	if result.DiscountRejection != nil {
		rejection := *result.DiscountRejection
		out.DiscountRejection = &rejection
	}
	return out, nil
}

// Current returns the most recently accepted totals, or nil when nothing
// has been reconciled for the session.
func (s *totalsService) Current(ctx context.Context) (*SecureTotals, error) {
	sess, ok := session.FromContext(ctx)
	if !ok {
		return nil, ErrTotalsUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sess.ID]
	if !ok || state.accepted == nil {
		return nil, nil
	}
	totals := *state.accepted
	return &totals, nil
}

// Invalidate drops all reconciled state for the session.
func (s *totalsService) Invalidate(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}
