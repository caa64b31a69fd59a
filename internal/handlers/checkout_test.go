package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zarumart/api/internal/domain"
	"github.com/zarumart/api/internal/payments"
	"github.com/zarumart/api/internal/services"
)

type stubCheckoutService struct {
	begin            func(ctx context.Context) (services.CheckoutDraft, error)
	current          func(ctx context.Context) (services.CheckoutDraft, error)
	abandon          func(ctx context.Context) error
	nextStep         func(ctx context.Context) (services.CheckoutDraft, error)
	prevStep         func(ctx context.Context) (services.CheckoutDraft, error)
	listAddresses    func(ctx context.Context) ([]services.Address, error)
	selectAddress    func(ctx context.Context, addressID string) (services.CheckoutDraft, error)
	submitNewAddress func(ctx context.Context, cmd services.NewAddressCommand) (services.CheckoutDraft, error)
	chooseShipping   func(ctx context.Context, option services.ShippingOption) (services.CheckoutDraft, services.ReconcileResult, error)
	applyDiscount    func(ctx context.Context, code string) (services.CheckoutDraft, services.ReconcileResult, error)
	removeDiscount   func(ctx context.Context) (services.CheckoutDraft, services.ReconcileResult, error)
	createOrder      func(ctx context.Context) (services.OrderCreationResult, error)
	currentOrder     func(ctx context.Context) (services.OrderCreationResult, error)
	initiatePayment  func(ctx context.Context) (services.PaymentHandoff, error)
	verifyPayment    func(ctx context.Context, gatewayReference string) (services.PaymentVerificationResult, error)
}

func (s *stubCheckoutService) Begin(ctx context.Context) (services.CheckoutDraft, error) {
	if s.begin == nil {
		return services.CheckoutDraft{}, nil
	}
	return s.begin(ctx)
}

func (s *stubCheckoutService) Current(ctx context.Context) (services.CheckoutDraft, error) {
	if s.current == nil {
		return services.CheckoutDraft{}, nil
	}
	return s.current(ctx)
}

func (s *stubCheckoutService) Abandon(ctx context.Context) error {
	if s.abandon == nil {
		return nil
	}
	return s.abandon(ctx)
}

func (s *stubCheckoutService) NextStep(ctx context.Context) (services.CheckoutDraft, error) {
	if s.nextStep == nil {
		return services.CheckoutDraft{}, nil
	}
	return s.nextStep(ctx)
}

func (s *stubCheckoutService) PrevStep(ctx context.Context) (services.CheckoutDraft, error) {
	if s.prevStep == nil {
		return services.CheckoutDraft{}, nil
	}
	return s.prevStep(ctx)
}

func (s *stubCheckoutService) ListAddresses(ctx context.Context) ([]services.Address, error) {
	if s.listAddresses == nil {
		return nil, nil
	}
	return s.listAddresses(ctx)
}

func (s *stubCheckoutService) SelectAddress(ctx context.Context, addressID string) (services.CheckoutDraft, error) {
	if s.selectAddress == nil {
		return services.CheckoutDraft{}, nil
	}
	return s.selectAddress(ctx, addressID)
}

func (s *stubCheckoutService) SubmitNewAddress(ctx context.Context, cmd services.NewAddressCommand) (services.CheckoutDraft, error) {
	if s.submitNewAddress == nil {
		return services.CheckoutDraft{}, nil
	}
	return s.submitNewAddress(ctx, cmd)
}

func (s *stubCheckoutService) ChooseShipping(ctx context.Context, option services.ShippingOption) (services.CheckoutDraft, services.ReconcileResult, error) {
	if s.chooseShipping == nil {
		return services.CheckoutDraft{}, services.ReconcileResult{}, nil
	}
	return s.chooseShipping(ctx, option)
}

func (s *stubCheckoutService) ApplyDiscount(ctx context.Context, code string) (services.CheckoutDraft, services.ReconcileResult, error) {
	if s.applyDiscount == nil {
		return services.CheckoutDraft{}, services.ReconcileResult{}, nil
	}
	return s.applyDiscount(ctx, code)
}

func (s *stubCheckoutService) RemoveDiscount(ctx context.Context) (services.CheckoutDraft, services.ReconcileResult, error) {
	if s.removeDiscount == nil {
		return services.CheckoutDraft{}, services.ReconcileResult{}, nil
	}
	return s.removeDiscount(ctx)
}

func (s *stubCheckoutService) CreateOrder(ctx context.Context) (services.OrderCreationResult, error) {
	if s.createOrder == nil {
		return services.OrderCreationResult{}, nil
	}
	return s.createOrder(ctx)
}

func (s *stubCheckoutService) CurrentOrder(ctx context.Context) (services.OrderCreationResult, error) {
	if s.currentOrder == nil {
		return services.OrderCreationResult{}, nil
	}
	return s.currentOrder(ctx)
}

func (s *stubCheckoutService) InitiatePayment(ctx context.Context) (services.PaymentHandoff, error) {
	if s.initiatePayment == nil {
		return services.PaymentHandoff{}, nil
	}
	return s.initiatePayment(ctx)
}

func (s *stubCheckoutService) VerifyPayment(ctx context.Context, gatewayReference string) (services.PaymentVerificationResult, error) {
	if s.verifyPayment == nil {
		return services.PaymentVerificationResult{}, nil
	}
	return s.verifyPayment(ctx, gatewayReference)
}

type stubTotalsService struct {
	reconcile func(ctx context.Context, cmd services.ReconcileCommand) (services.ReconcileResult, error)
	current   func(ctx context.Context) (*services.SecureTotals, error)
}

func (s *stubTotalsService) Reconcile(ctx context.Context, cmd services.ReconcileCommand) (services.ReconcileResult, error) {
	if s.reconcile == nil {
		return services.ReconcileResult{}, nil
	}
	return s.reconcile(ctx, cmd)
}

func (s *stubTotalsService) Current(ctx context.Context) (*services.SecureTotals, error) {
	if s.current == nil {
		return nil, nil
	}
	return s.current(ctx)
}

func (s *stubTotalsService) Invalidate(string) {}

func newCheckoutRouter(checkout services.CheckoutService, widget *payments.WidgetAdapter) chi.Router {
	return newCheckoutRouterWithTotals(checkout, &stubTotalsService{}, widget)
}

func newCheckoutRouterWithTotals(checkout services.CheckoutService, totals services.TotalsService, widget *payments.WidgetAdapter) chi.Router {
	return NewRouter(WithCheckoutRoutes(NewCheckoutHandlers(checkout, totals, widget).Routes))
}

func TestCheckoutHandlers_Begin(t *testing.T) {
	checkout := &stubCheckoutService{
		begin: func(context.Context) (services.CheckoutDraft, error) {
			return services.CheckoutDraft{ID: "draft_1", Step: domain.StepAddress}, nil
		},
	}
	router := newCheckoutRouter(checkout, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var body draftResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Draft.ID != "draft_1" || body.Draft.StepName != "address" {
		t.Fatalf("draft = %+v", body.Draft)
	}
}

func TestCheckoutHandlers_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"empty cart", services.ErrCheckoutEmptyCart, http.StatusConflict, "cart_empty"},
		{"no draft", services.ErrCheckoutNotFound, http.StatusNotFound, "checkout_not_found"},
		{"step blocked", services.ErrCheckoutStepBlocked, http.StatusConflict, "step_blocked"},
		{"completed", services.ErrCheckoutCompleted, http.StatusConflict, "checkout_completed"},
		{"preconditions", services.ErrCheckoutPrecondition, http.StatusConflict, "order_preconditions_not_met"},
		{"in flight", services.ErrCheckoutOrderInFlight, http.StatusConflict, "order_in_flight"},
		{"superseded", services.ErrTotalsSuperseded, http.StatusConflict, "totals_superseded"},
		{"validation", services.ErrCheckoutValidation, http.StatusBadRequest, "validation_failed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			checkout := &stubCheckoutService{
				begin: func(context.Context) (services.CheckoutDraft, error) {
					return services.CheckoutDraft{}, tc.err
				},
			}
			router := newCheckoutRouter(checkout, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/", nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("expected JSON body: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("error = %v, want %s", body["error"], tc.code)
			}
		})
	}
}

func TestCheckoutHandlers_ChooseShipping(t *testing.T) {
	var gotOption services.ShippingOption
	checkout := &stubCheckoutService{
		chooseShipping: func(_ context.Context, option services.ShippingOption) (services.CheckoutDraft, services.ReconcileResult, error) {
			gotOption = option
			code := "SAVE10"
			return services.CheckoutDraft{ID: "draft_1", Step: domain.StepShipping, ShippingOption: option},
				services.ReconcileResult{Totals: services.SecureTotals{
					Subtotal:       10000,
					Shipping:       1500,
					Tax:            840,
					DiscountAmount: 1000,
					GrandTotal:     11340,
					DiscountCode:   &code,
					Currency:       "NGN",
				}}, nil
		},
	}
	router := newCheckoutRouter(checkout, nil)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/checkout/shipping", strings.NewReader(`{"option":"express"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotOption != domain.ShippingExpress {
		t.Fatalf("option = %q, want express", gotOption)
	}

	var body reconcileResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Totals.GrandTotal != 11340 || body.Totals.DiscountCode == nil {
		t.Fatalf("totals = %+v", body.Totals)
	}
}

func TestCheckoutHandlers_CurrentTotals(t *testing.T) {
	totals := &stubTotalsService{
		current: func(context.Context) (*services.SecureTotals, error) {
			code := "SAVE10"
			return &services.SecureTotals{
				Subtotal:       10000,
				Shipping:       1500,
				Tax:            840,
				DiscountAmount: 1000,
				GrandTotal:     11340,
				DiscountCode:   &code,
				Currency:       "NGN",
			}, nil
		},
	}
	router := newCheckoutRouterWithTotals(&stubCheckoutService{}, totals, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/totals", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body totalsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Totals.GrandTotal != 11340 || body.Totals.DiscountCode == nil {
		t.Fatalf("totals = %+v", body.Totals)
	}
}

func TestCheckoutHandlers_CurrentTotalsNotReconciled(t *testing.T) {
	router := newCheckoutRouter(&stubCheckoutService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout/totals", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "totals_not_found" {
		t.Fatalf("error = %v, want totals_not_found", body["error"])
	}
}

func TestCheckoutHandlers_ApplyDiscountRejection(t *testing.T) {
	checkout := &stubCheckoutService{
		applyDiscount: func(_ context.Context, code string) (services.CheckoutDraft, services.ReconcileResult, error) {
			return services.CheckoutDraft{ID: "draft_1", Step: domain.StepShipping},
				services.ReconcileResult{
					Totals:            services.SecureTotals{Subtotal: 10000, Shipping: 1500, Tax: 920, GrandTotal: 12420, Currency: "NGN"},
					DiscountRejection: &services.DiscountRejection{Code: code, Reason: "discount code has expired"},
				}, nil
		},
	}
	router := newCheckoutRouter(checkout, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/discount", strings.NewReader(`{"code":"EXPIRED1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 (rejection is not an error), got %d", rr.Code)
	}

	var body reconcileResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.DiscountRejection == nil || body.DiscountRejection.Reason != "discount code has expired" {
		t.Fatalf("rejection = %+v", body.DiscountRejection)
	}
	if body.Totals.GrandTotal != 12420 {
		t.Fatalf("totals must stay valid after a rejection, got %+v", body.Totals)
	}
}

func TestCheckoutHandlers_InitiatePaymentWidgetGate(t *testing.T) {
	checkout := &stubCheckoutService{
		initiatePayment: func(context.Context) (services.PaymentHandoff, error) {
			return services.PaymentHandoff{
				Provider:  "paystack",
				Reference: "ref_1",
				PublicKey: "pk_test",
				Amount:    11340,
				Currency:  "NGN",
				Email:     "ada@example.com",
			}, nil
		},
	}
	widget := payments.NewWidgetAdapter(nil)
	router := newCheckoutRouter(checkout, widget)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/payment", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 before the widget is ready, got %d", rr.Code)
	}

	widget.MarkReady()
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/payment", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, ok := widget.Handle("ref_1"); !ok {
		t.Fatal("expected an in-flight widget handle for the reference")
	}

	var body handoffResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Payment.Amount != 11340 || body.Payment.Reference != "ref_1" {
		t.Fatalf("handoff = %+v", body.Payment)
	}
}

func TestCheckoutHandlers_VerifyPayment(t *testing.T) {
	checkout := &stubCheckoutService{
		initiatePayment: func(context.Context) (services.PaymentHandoff, error) {
			return services.PaymentHandoff{Reference: "ref_1", Amount: 11340, Currency: "NGN"}, nil
		},
		verifyPayment: func(_ context.Context, reference string) (services.PaymentVerificationResult, error) {
			return services.PaymentVerificationResult{OrderID: "ord_1", Reference: reference, Verified: true}, nil
		},
	}
	widget := payments.NewWidgetAdapter(nil)
	widget.MarkReady()
	router := newCheckoutRouter(checkout, widget)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/payment", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("initiate failed: %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/payment/verify", strings.NewReader(`{"reference":"ref_1"}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body verificationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if !body.Verification.Verified || body.Verification.OrderID != "ord_1" {
		t.Fatalf("verification = %+v", body.Verification)
	}
	if _, ok := widget.Handle("ref_1"); ok {
		t.Fatal("settled widget handle must be released")
	}
}

func TestCheckoutHandlers_VerifyPaymentFailure(t *testing.T) {
	checkout := &stubCheckoutService{
		verifyPayment: func(_ context.Context, reference string) (services.PaymentVerificationResult, error) {
			return services.PaymentVerificationResult{OrderID: "ord_1", Reference: reference, Message: "reference mismatch"},
				services.ErrCheckoutVerificationFailed
		},
	}
	router := newCheckoutRouter(checkout, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/payment/verify", strings.NewReader(`{"reference":"gw_wrong"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "payment_not_verified" || body["message"] != "reference mismatch" {
		t.Fatalf("body = %v", body)
	}
}

func TestCheckoutHandlers_ClosePayment(t *testing.T) {
	closed := false
	widget := payments.NewWidgetAdapter(nil)
	widget.MarkReady()
	if _, err := widget.Initiate(context.Background(), payments.WidgetConfig{
		Reference: "ref_1",
		Amount:    11340,
		OnClose:   func() { closed = true },
	}); err != nil {
		t.Fatalf("Initiate returned error: %v", err)
	}

	router := newCheckoutRouter(&stubCheckoutService{}, widget)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/payment/close", strings.NewReader(`{"reference":"ref_1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !closed {
		t.Fatal("expected the close callback to fire")
	}
	if _, ok := widget.Handle("ref_1"); ok {
		t.Fatal("settled widget handle must be released")
	}
}

func TestCheckoutHandlers_SubmitNewAddressForwardsCommand(t *testing.T) {
	var gotCmd services.NewAddressCommand
	checkout := &stubCheckoutService{
		submitNewAddress: func(_ context.Context, cmd services.NewAddressCommand) (services.CheckoutDraft, error) {
			gotCmd = cmd
			return services.CheckoutDraft{ID: "draft_1", Step: domain.StepAddress}, nil
		},
	}
	router := newCheckoutRouter(checkout, nil)

	payload := `{"first_name":"Ada","last_name":"Obi","street":"1 Main","city":"Lagos","postal_code":"100001","country":"NG","set_default":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/addresses", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotCmd.FirstName != "Ada" || gotCmd.Country != "NG" || !gotCmd.SetDefault {
		t.Fatalf("command = %+v", gotCmd)
	}
}
