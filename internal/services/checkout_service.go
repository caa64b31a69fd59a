package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	domain "github.com/zarumart/api/internal/domain"
	"github.com/zarumart/api/internal/payments"
	"github.com/zarumart/api/internal/platform/session"
	"github.com/zarumart/api/internal/upstream"
)

// ErrCheckoutInvalidInput indicates the caller supplied invalid input.
var ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")

// ErrCheckoutUnavailable indicates the checkout service cannot fulfil the request.
var ErrCheckoutUnavailable = errors.New("checkout service: unavailable")

// ErrCheckoutNotFound indicates no draft exists for the session.
var ErrCheckoutNotFound = errors.New("checkout service: no active draft")

// ErrCheckoutEmptyCart indicates checkout was begun with an empty cart.
var ErrCheckoutEmptyCart = errors.New("checkout service: cart is empty")

// ErrCheckoutValidation indicates a new-address form failed field validation.
var ErrCheckoutValidation = errors.New("checkout service: validation failed")

// ErrCheckoutStepBlocked indicates the requested transition's prerequisites are not met.
var ErrCheckoutStepBlocked = errors.New("checkout service: step prerequisites not met")

// ErrCheckoutCompleted indicates the draft is confirmed; no further transitions exist.
var ErrCheckoutCompleted = errors.New("checkout service: checkout already confirmed")

// ErrCheckoutPrecondition indicates order creation preconditions failed
// before any network call was made.
var ErrCheckoutPrecondition = errors.New("checkout service: order preconditions not met")

// ErrCheckoutOrderInFlight indicates an order creation call is already running for the draft.
var ErrCheckoutOrderInFlight = errors.New("checkout service: order creation in flight")

// ErrCheckoutNoOrder indicates payment was attempted without a created order.
var ErrCheckoutNoOrder = errors.New("checkout service: no order for current draft")

// ErrCheckoutVerificationFailed indicates the charge could not be
// confirmed; the order remains pending and nothing is retried.
var ErrCheckoutVerificationFailed = errors.New("checkout service: payment verification failed")

// paymentGateway starts a hosted charge with the selected gateway and
// reports the gateway-side charge state for a reference.
type paymentGateway interface {
	Initialize(ctx context.Context, paymentCtx payments.PaymentContext, req payments.InitializeRequest) (payments.Initialization, error)
	Verify(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerifyRequest) (payments.ChargeDetails, error)
}

// CheckoutServiceDeps wires the collaborators for the checkout stepper.
type CheckoutServiceDeps struct {
	Cart        CartService
	Totals      TotalsService
	Addresses   addressBook
	Orders      orderGateway
	Payments    paymentGateway
	Validator   *validator.Validate
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type draftState struct {
	draft         domain.CheckoutDraft
	order         *domain.OrderCreationResult
	orderInFlight bool
}

type checkoutService struct {
	cart      CartService
	totals    TotalsService
	addresses addressBook
	orders    orderGateway
	payments  paymentGateway
	validate  *validator.Validate
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)

	mu     sync.Mutex
	drafts map[string]*draftState
}

// NewCheckoutService constructs a CheckoutService enforcing dependency validation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Cart == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Totals == nil {
		return nil, errors.New("checkout service: totals service is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("checkout service: address book is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order gateway is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("checkout service: clock is required")
	}

	validate := deps.Validator
	if validate == nil {
		validate = validator.New()
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		cart:      deps.Cart,
		totals:    deps.Totals,
		addresses: deps.Addresses,
		orders:    deps.Orders,
		payments:  deps.Payments,
		validate:  validate,
		now:       func() time.Time { return deps.Clock().UTC() },
		newID:     idGen,
		logger:    logger,
		drafts:    make(map[string]*draftState),
	}, nil
}

func (s *checkoutService) sessionID(ctx context.Context) (string, error) {
	sess, ok := session.FromContext(ctx)
	if !ok {
		return "", ErrCheckoutUnavailable
	}
	return sess.ID, nil
}

func (s *checkoutService) stateLocked(sessionID string) (*draftState, bool) {
	state, ok := s.drafts[sessionID]
	return state, ok
}

// Begin creates a fresh draft at the address step. The account's default
// address, when present, is preselected exactly once here; refreshes do
// not re-run the selection.
func (s *checkoutService) Begin(ctx context.Context) (CheckoutDraft, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return CheckoutDraft{}, err
	}

	items, err := s.cart.TotalItems(ctx)
	if err != nil {
		return CheckoutDraft{}, err
	}
	if items == 0 {
		return CheckoutDraft{}, ErrCheckoutEmptyCart
	}

	now := s.now()
	draft := domain.CheckoutDraft{
		ID:             s.newID(),
		SessionID:      sessionID,
		Step:           domain.StepAddress,
		IdempotencyKey: s.newID(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Saved-address listing is a read; a failure here degrades to the
	// new-address form rather than blocking checkout.
	if addresses, err := s.addresses.List(ctx); err == nil {
		for i := range addresses {
			if addresses[i].IsDefault {
				selected := addresses[i]
				draft.Address = &selected
				break
			}
		}
	} else {
		s.logger(ctx, "checkout.addresses.unavailable", map[string]any{
			"error": err.Error(),
		})
	}

	s.mu.Lock()
	s.drafts[sessionID] = &draftState{draft: draft}
	s.mu.Unlock()

	s.logger(ctx, "checkout.begun", map[string]any{
		"draft_id":            draft.ID,
		"preselected_address": draft.Address != nil,
	})
	return draft, nil
}

// Current returns the session's active draft.
func (s *checkoutService) Current(ctx context.Context) (CheckoutDraft, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return CheckoutDraft{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.stateLocked(sessionID)
	if !ok {
		return CheckoutDraft{}, ErrCheckoutNotFound
	}
	return state.draft, nil
}

// Abandon discards the draft and any unverified order slot.
func (s *checkoutService) Abandon(ctx context.Context) error {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stateLocked(sessionID); !ok {
		return ErrCheckoutNotFound
	}
	delete(s.drafts, sessionID)
	return nil
}

// NextStep advances the stepper. Address to shipping needs a selected
// address; shipping to payment needs a shipping option. The payment step
// is the cap: confirmation only happens through payment verification.
func (s *checkoutService) NextStep(ctx context.Context) (CheckoutDraft, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return CheckoutDraft{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.stateLocked(sessionID)
	if !ok {
		return CheckoutDraft{}, ErrCheckoutNotFound
	}

	switch state.draft.Step {
	case domain.StepAddress:
		if state.draft.Address == nil {
			return CheckoutDraft{}, ErrCheckoutStepBlocked
		}
		state.draft.Step = domain.StepShipping
	case domain.StepShipping:
		if !state.draft.ShippingOption.Valid() {
			return CheckoutDraft{}, ErrCheckoutStepBlocked
		}
		state.draft.Step = domain.StepPayment
	case domain.StepPayment:
		// Capped; 3 to 4 happens only through verification.
	case domain.StepConfirmed:
		return CheckoutDraft{}, ErrCheckoutCompleted
	}
	state.draft.UpdatedAt = s.now()
	return state.draft, nil
}

// PrevStep steps back, floored at the address step. Confirmed drafts
// have no backward transition.
func (s *checkoutService) PrevStep(ctx context.Context) (CheckoutDraft, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return CheckoutDraft{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.stateLocked(sessionID)
	if !ok {
		return CheckoutDraft{}, ErrCheckoutNotFound
	}

	switch state.draft.Step {
	case domain.StepShipping:
		state.draft.Step = domain.StepAddress
	case domain.StepPayment:
		state.draft.Step = domain.StepShipping
	case domain.StepAddress:
		// Floored.
	case domain.StepConfirmed:
		return CheckoutDraft{}, ErrCheckoutCompleted
	}
	state.draft.UpdatedAt = s.now()
	return state.draft, nil
}

// ListAddresses exposes the saved address book for the address step.
func (s *checkoutService) ListAddresses(ctx context.Context) ([]Address, error) {
	return s.addresses.List(ctx)
}

// SelectAddress picks one saved address for the draft.
func (s *checkoutService) SelectAddress(ctx context.Context, addressID string) (CheckoutDraft, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return CheckoutDraft{}, err
	}
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return CheckoutDraft{}, ErrCheckoutInvalidInput
	}

	addresses, err := s.addresses.List(ctx)
	if err != nil {
		return CheckoutDraft{}, err
	}
	var selected *domain.Address
	for i := range addresses {
		if addresses[i].ID == addressID {
			a := addresses[i]
			selected = &a
			break
		}
	}
	if selected == nil {
		return CheckoutDraft{}, fmt.Errorf("%w: unknown address %q", ErrCheckoutInvalidInput, addressID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.stateLocked(sessionID)
	if !ok {
		return CheckoutDraft{}, ErrCheckoutNotFound
	}
	state.draft.Address = selected
	state.draft.UpdatedAt = s.now()
	return state.draft, nil
}

// SubmitNewAddress validates and saves a new address, then selects it.
// Validation failures never reach the platform.
func (s *checkoutService) SubmitNewAddress(ctx context.Context, cmd NewAddressCommand) (CheckoutDraft, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return CheckoutDraft{}, err
	}

	if err := s.validate.Struct(cmd); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fe.Field())
			}
			return CheckoutDraft{}, fmt.Errorf("%w: %s", ErrCheckoutValidation, strings.Join(fields, ", "))
		}
		return CheckoutDraft{}, fmt.Errorf("%w: %v", ErrCheckoutValidation, err)
	}

	created, err := s.addresses.Create(ctx, domain.Address{
		FirstName:  strings.TrimSpace(cmd.FirstName),
		LastName:   strings.TrimSpace(cmd.LastName),
		Street:     strings.TrimSpace(cmd.Street),
		City:       strings.TrimSpace(cmd.City),
		State:      cmd.State,
		PostalCode: strings.TrimSpace(cmd.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(cmd.Country)),
		Phone:      cmd.Phone,
		IsDefault:  cmd.SetDefault,
	})
	if err != nil {
		return CheckoutDraft{}, err
	}
	if cmd.SetDefault && created.ID != "" {
		if err := s.addresses.SetDefault(ctx, created.ID); err != nil {
			s.logger(ctx, "checkout.address.default_failed", map[string]any{
				"address_id": created.ID,
				"error":      err.Error(),
			})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.stateLocked(sessionID)
	if !ok {
		return CheckoutDraft{}, ErrCheckoutNotFound
	}
	state.draft.Address = &created
	state.draft.UpdatedAt = s.now()
	return state.draft, nil
}

// ChooseShipping sets the shipping option and reconciles totals for the
// new inputs.
func (s *checkoutService) ChooseShipping(ctx context.Context, option ShippingOption) (CheckoutDraft, ReconcileResult, error) {
	if !option.Valid() {
		return CheckoutDraft{}, ReconcileResult{}, ErrCheckoutInvalidInput
	}
	return s.mutateAndReconcile(ctx, func(draft *domain.CheckoutDraft) {
		draft.ShippingOption = option
	})
}

// ApplyDiscount records a discount request and reconciles. The code is
// only applied once the authority echoes it back; a rejection clears the
// code while keeping the remaining breakdown.
func (s *checkoutService) ApplyDiscount(ctx context.Context, code string) (CheckoutDraft, ReconcileResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return CheckoutDraft{}, ReconcileResult{}, ErrCheckoutInvalidInput
	}
	return s.mutateAndReconcile(ctx, func(draft *domain.CheckoutDraft) {
		draft.DiscountCode = &code
	})
}

// RemoveDiscount drops the discount request and reconciles.
func (s *checkoutService) RemoveDiscount(ctx context.Context) (CheckoutDraft, ReconcileResult, error) {
	return s.mutateAndReconcile(ctx, func(draft *domain.CheckoutDraft) {
		draft.DiscountCode = nil
	})
}

func (s *checkoutService) mutateAndReconcile(ctx context.Context, mutate func(*domain.CheckoutDraft)) (CheckoutDraft, ReconcileResult, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return CheckoutDraft{}, ReconcileResult{}, err
	}

	s.mu.Lock()
	state, ok := s.stateLocked(sessionID)
	if !ok {
		s.mu.Unlock()
		return CheckoutDraft{}, ReconcileResult{}, ErrCheckoutNotFound
	}
	mutate(&state.draft)
	if !state.draft.ShippingOption.Valid() {
		// No option chosen yet; the draft mutation stands but there is
		// nothing to reconcile against.
		state.draft.UpdatedAt = s.now()
		draft := state.draft
		s.mu.Unlock()
		return draft, ReconcileResult{}, nil
	}
	cmd := ReconcileCommand{
		ShippingOption: state.draft.ShippingOption,
		DiscountCode:   state.draft.DiscountCode,
	}
	s.mu.Unlock()

	result, err := s.totals.Reconcile(ctx, cmd)
	if err != nil {
		if errors.Is(err, ErrTotalsSuperseded) {
			// A newer change owns the totals now; this caller's draft
			// mutation already landed.
			s.mu.Lock()
			draft := state.draft
			s.mu.Unlock()
			return draft, ReconcileResult{}, err
		}
		return CheckoutDraft{}, ReconcileResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	totals := result.Totals
	state.draft.Totals = &totals
	state.draft.DiscountAmount = totals.DiscountAmount
	if result.DiscountRejection != nil {
		state.draft.DiscountCode = nil
	}
	state.draft.UpdatedAt = s.now()
	return state.draft, result, nil
}

// CreateOrder submits the finalized draft. Preconditions are checked
// before any network call: address present, shipping option set, and a
// positive reconciled grand total. A single in-flight guard plus a
// per-draft idempotency key protect against duplicate pending orders.
func (s *checkoutService) CreateOrder(ctx context.Context) (OrderCreationResult, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return OrderCreationResult{}, err
	}

	s.mu.Lock()
	state, ok := s.stateLocked(sessionID)
	if !ok {
		s.mu.Unlock()
		return OrderCreationResult{}, ErrCheckoutNotFound
	}
	if state.draft.Address == nil || !state.draft.ShippingOption.Valid() ||
		state.draft.Totals == nil || state.draft.Totals.GrandTotal <= 0 {
		s.mu.Unlock()
		return OrderCreationResult{}, ErrCheckoutPrecondition
	}
	if state.orderInFlight {
		s.mu.Unlock()
		return OrderCreationResult{}, ErrCheckoutOrderInFlight
	}
	state.orderInFlight = true
	req := upstream.OrderRequest{
		ShippingAddress: *state.draft.Address,
		ShippingOption:  state.draft.ShippingOption,
		DiscountCode:    state.draft.DiscountCode,
		IdempotencyKey:  state.draft.IdempotencyKey,
	}
	s.mu.Unlock()

	order, err := s.orders.CreateOrder(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	state.orderInFlight = false
	if err != nil {
		s.logger(ctx, "checkout.order.failed", map[string]any{
			"draft_id": state.draft.ID,
			"error":    err.Error(),
		})
		return OrderCreationResult{}, err
	}
	state.order = &order
	s.logger(ctx, "checkout.order.created", map[string]any{
		"draft_id":    state.draft.ID,
		"order_id":    order.OrderID,
		"total_cents": order.OrderTotalCents,
	})
	return order, nil
}

// CurrentOrder returns the draft's created order, if any.
func (s *checkoutService) CurrentOrder(ctx context.Context) (OrderCreationResult, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return OrderCreationResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.stateLocked(sessionID)
	if !ok {
		return OrderCreationResult{}, ErrCheckoutNotFound
	}
	if state.order == nil {
		return OrderCreationResult{}, ErrCheckoutNoOrder
	}
	return *state.order, nil
}

// InitiatePayment hands the created order to the payment gateway. The
// charge amount is always the authoritative order total.
func (s *checkoutService) InitiatePayment(ctx context.Context) (PaymentHandoff, error) {
	if s.payments == nil {
		return PaymentHandoff{}, ErrCheckoutUnavailable
	}
	order, err := s.CurrentOrder(ctx)
	if err != nil {
		return PaymentHandoff{}, err
	}

	init, err := s.payments.Initialize(ctx, payments.PaymentContext{Currency: order.Currency}, payments.InitializeRequest{
		Email:     order.UserEmail,
		Amount:    order.OrderTotalCents,
		Currency:  order.Currency,
		Reference: order.PaymentReference,
	})
	if err != nil {
		return PaymentHandoff{}, err
	}

	return PaymentHandoff{
		Provider:         init.Provider,
		Reference:        init.Reference,
		AccessCode:       init.AccessCode,
		AuthorizationURL: init.AuthorizationURL,
		PublicKey:        init.PublicKey,
		Amount:           order.OrderTotalCents,
		Currency:         order.Currency,
		Email:            order.UserEmail,
	}, nil
}

// VerifyPayment reconciles the gateway reference against the created
// order. Success clears the cart, invalidates session caches, and moves
// the draft to Confirmed. Failure changes nothing and is never retried
// automatically.
func (s *checkoutService) VerifyPayment(ctx context.Context, gatewayReference string) (PaymentVerificationResult, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return PaymentVerificationResult{}, err
	}
	gatewayReference = strings.TrimSpace(gatewayReference)
	if gatewayReference == "" {
		return PaymentVerificationResult{}, ErrCheckoutInvalidInput
	}

	s.mu.Lock()
	state, ok := s.stateLocked(sessionID)
	if !ok {
		s.mu.Unlock()
		return PaymentVerificationResult{}, ErrCheckoutNotFound
	}
	if state.order == nil {
		s.mu.Unlock()
		return PaymentVerificationResult{}, ErrCheckoutNoOrder
	}
	orderID := state.order.OrderID
	currency := state.order.Currency
	s.mu.Unlock()

	// Advisory gateway check: a charge the gateway itself reports as
	// failed or abandoned cannot verify upstream, so fail fast without
	// touching the platform. An unreachable gateway or a pending status
	// defers to the authoritative upstream check.
	if s.payments != nil {
		details, err := s.payments.Verify(ctx, payments.PaymentContext{Currency: currency}, payments.VerifyRequest{Reference: gatewayReference})
		if err == nil && (details.Status == payments.StatusFailed || details.Status == payments.StatusAbandoned) {
			s.logger(ctx, "checkout.verification.gateway_declined", map[string]any{
				"order_id":  orderID,
				"reference": gatewayReference,
				"status":    string(details.Status),
			})
			return PaymentVerificationResult{
				OrderID:   orderID,
				Reference: gatewayReference,
				Message:   "gateway reports charge " + string(details.Status),
			}, ErrCheckoutVerificationFailed
		}
	}

	result, err := s.orders.VerifyPayment(ctx, orderID, gatewayReference)
	if err != nil {
		return PaymentVerificationResult{}, err
	}
	if !result.Verified {
		s.logger(ctx, "checkout.verification.failed", map[string]any{
			"order_id":  orderID,
			"reference": gatewayReference,
		})
		return result, ErrCheckoutVerificationFailed
	}

	if err := s.cart.ClearCart(ctx); err != nil {
		s.logger(ctx, "checkout.cart.clear_failed", map[string]any{
			"order_id": orderID,
			"error":    err.Error(),
		})
	}
	s.totals.Invalidate(sessionID)
	s.addresses.Invalidate(sessionID)

	s.mu.Lock()
	state.draft = domain.CheckoutDraft{
		ID:        state.draft.ID,
		SessionID: sessionID,
		Step:      domain.StepConfirmed,
		CreatedAt: state.draft.CreatedAt,
		UpdatedAt: s.now(),
	}
	state.order = nil
	s.mu.Unlock()

	s.logger(ctx, "checkout.confirmed", map[string]any{
		"order_id":  orderID,
		"reference": gatewayReference,
	})
	return result, nil
}
