package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zarumart/api/internal/domain"
	"github.com/zarumart/api/internal/payments"
	"github.com/zarumart/api/internal/platform/httpx"
	"github.com/zarumart/api/internal/services"
)

const maxCheckoutBodySize = 32 * 1024

// CheckoutHandlers drives the checkout stepper, order creation, and
// payment endpoints.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	totals   services.TotalsService
	widget   *payments.WidgetAdapter
}

// NewCheckoutHandlers constructs handlers over the checkout and totals
// services. The widget adapter is optional; without it the hosted-widget
// lifecycle endpoints degrade to service calls only.
func NewCheckoutHandlers(checkout services.CheckoutService, totals services.TotalsService, widget *payments.WidgetAdapter) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout, totals: totals, widget: widget}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.begin)
	r.Get("/", h.current)
	r.Delete("/", h.abandon)
	r.Post("/next", h.nextStep)
	r.Post("/prev", h.prevStep)
	r.Get("/addresses", h.listAddresses)
	r.Post("/addresses", h.submitNewAddress)
	r.Put("/address", h.selectAddress)
	r.Put("/shipping", h.chooseShipping)
	r.Get("/totals", h.currentTotals)
	r.Post("/discount", h.applyDiscount)
	r.Delete("/discount", h.removeDiscount)
	r.Post("/order", h.createOrder)
	r.Get("/order", h.currentOrder)
	r.Post("/payment", h.initiatePayment)
	r.Post("/payment/verify", h.verifyPayment)
	r.Post("/payment/close", h.closePayment)
}

func (h *CheckoutHandlers) begin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	draft, err := h.checkout.Begin(ctx)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, draftResponse{Draft: buildDraftPayload(draft)})
}

func (h *CheckoutHandlers) current(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	draft, err := h.checkout.Current(ctx)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, draftResponse{Draft: buildDraftPayload(draft)})
}

func (h *CheckoutHandlers) abandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.checkout.Abandon(ctx); err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) nextStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	draft, err := h.checkout.NextStep(ctx)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, draftResponse{Draft: buildDraftPayload(draft)})
}

func (h *CheckoutHandlers) prevStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	draft, err := h.checkout.PrevStep(ctx)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, draftResponse{Draft: buildDraftPayload(draft)})
}

func (h *CheckoutHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addresses, err := h.checkout.ListAddresses(ctx)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	payload := make([]addressPayload, 0, len(addresses))
	for _, a := range addresses {
		payload = append(payload, buildAddressPayload(a))
	}
	httpx.WriteJSON(w, http.StatusOK, addressListResponse{Addresses: payload})
}

func (h *CheckoutHandlers) submitNewAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req newAddressRequest
	if err := httpx.ReadJSON(w, r, &req, maxCheckoutBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	draft, err := h.checkout.SubmitNewAddress(ctx, services.NewAddressCommand{
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Street:     req.Street,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Country:    req.Country,
		Phone:      req.Phone,
		SetDefault: req.SetDefault,
	})
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, draftResponse{Draft: buildDraftPayload(draft)})
}

func (h *CheckoutHandlers) selectAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req selectAddressRequest
	if err := httpx.ReadJSON(w, r, &req, maxCheckoutBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	draft, err := h.checkout.SelectAddress(ctx, req.AddressID)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, draftResponse{Draft: buildDraftPayload(draft)})
}

func (h *CheckoutHandlers) chooseShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req chooseShippingRequest
	if err := httpx.ReadJSON(w, r, &req, maxCheckoutBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	draft, result, err := h.checkout.ChooseShipping(ctx, domain.ShippingOption(req.Option))
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildReconcileResponse(draft, result))
}

func (h *CheckoutHandlers) currentTotals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	totals, err := h.totals.Current(ctx)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	if totals == nil {
		httpx.WriteError(ctx, w, httpx.NewError("totals_not_found", "no reconciled totals for this session", http.StatusNotFound))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, totalsResponse{Totals: buildTotalsPayload(*totals)})
}

func (h *CheckoutHandlers) applyDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req applyDiscountRequest
	if err := httpx.ReadJSON(w, r, &req, maxCheckoutBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	draft, result, err := h.checkout.ApplyDiscount(ctx, req.Code)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildReconcileResponse(draft, result))
}

func (h *CheckoutHandlers) removeDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	draft, result, err := h.checkout.RemoveDiscount(ctx)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildReconcileResponse(draft, result))
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.checkout.CreateOrder(ctx)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *CheckoutHandlers) currentOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.checkout.CurrentOrder(ctx)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *CheckoutHandlers) initiatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// The hosted widget loads asynchronously; charging before it signals
	// readiness is a guarded error, not a crash.
	if h.widget != nil && !h.widget.Ready() {
		httpx.WriteError(ctx, w, httpx.NewError("payment_widget_not_ready", "payment widget is still loading; retry shortly", http.StatusServiceUnavailable))
		return
	}

	handoff, err := h.checkout.InitiatePayment(ctx)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	if h.widget != nil {
		if _, err := h.widget.Initiate(ctx, payments.WidgetConfig{
			PublicKey: handoff.PublicKey,
			Email:     handoff.Email,
			Amount:    handoff.Amount,
			Currency:  handoff.Currency,
			Reference: handoff.Reference,
		}); err != nil {
			h.writeCheckoutError(ctx, w, err)
			return
		}
	}

	httpx.WriteJSON(w, http.StatusOK, handoffResponse{Payment: buildHandoffPayload(handoff)})
}

func (h *CheckoutHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req verifyPaymentRequest
	if err := httpx.ReadJSON(w, r, &req, maxCheckoutBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.checkout.VerifyPayment(ctx, req.Reference)
	if err != nil && !errors.Is(err, services.ErrCheckoutVerificationFailed) {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	if result.Verified {
		h.settleWidget(req.Reference, true)
		httpx.WriteJSON(w, http.StatusOK, verificationResponse{Verification: buildVerificationPayload(result)})
		return
	}

	httpx.WriteError(ctx, w, httpx.NewError("payment_not_verified", result.Message, http.StatusPaymentRequired).WithDetails(map[string]any{
		"order_id":  result.OrderID,
		"reference": result.Reference,
	}))
}

// closePayment reports that the customer dismissed the widget. Not an
// error; the pending order survives for a later verification attempt.
func (h *CheckoutHandlers) closePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req verifyPaymentRequest
	if err := httpx.ReadJSON(w, r, &req, maxCheckoutBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	h.settleWidget(req.Reference, false)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"cancelled": true,
		"reference": req.Reference,
	})
}

func (h *CheckoutHandlers) settleWidget(reference string, success bool) {
	if h.widget == nil {
		return
	}
	handle, ok := h.widget.Handle(reference)
	if !ok {
		return
	}
	if success {
		_ = handle.CompleteSuccess(reference)
	} else {
		_ = handle.CompleteClose()
	}
	h.widget.Release(reference)
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, services.ErrTotalsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutValidation):
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_found", "no active checkout; begin one first", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutNoOrder):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "no order for the current checkout", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutEmptyCart), errors.Is(err, services.ErrTotalsEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutStepBlocked):
		httpx.WriteError(ctx, w, httpx.NewError("step_blocked", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutCompleted):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_completed", "checkout already confirmed", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPrecondition):
		httpx.WriteError(ctx, w, httpx.NewError("order_preconditions_not_met", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutOrderInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("order_in_flight", "an order submission is already running", http.StatusConflict))
	case errors.Is(err, services.ErrTotalsSuperseded):
		httpx.WriteError(ctx, w, httpx.NewError("totals_superseded", "a newer change superseded this request; refresh the checkout", http.StatusConflict))
	case errors.Is(err, payments.ErrWidgetNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("payment_widget_not_ready", "payment widget is still loading; retry shortly", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrCheckoutUnavailable), errors.Is(err, services.ErrCartUnavailable), errors.Is(err, services.ErrTotalsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
	default:
		writeUpstreamError(ctx, w, err, "checkout_error", "checkout operation failed")
	}
}

type draftResponse struct {
	Draft draftPayload `json:"checkout"`
}

type draftPayload struct {
	ID             string          `json:"id"`
	Step           int             `json:"step"`
	StepName       string          `json:"step_name"`
	Address        *addressPayload `json:"address,omitempty"`
	ShippingOption string          `json:"shipping_option,omitempty"`
	DiscountCode   *string         `json:"discount_code,omitempty"`
	DiscountAmount int64           `json:"discount_amount"`
	Totals         *totalsPayload  `json:"totals,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

type addressPayload struct {
	ID         string  `json:"id"`
	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	Street     string  `json:"street"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
	IsDefault  bool    `json:"is_default"`
}

type addressListResponse struct {
	Addresses []addressPayload `json:"addresses"`
}

type totalsPayload struct {
	Subtotal       int64   `json:"subtotal"`
	Shipping       int64   `json:"shipping"`
	Tax            int64   `json:"tax"`
	DiscountAmount int64   `json:"discount_amount"`
	GrandTotal     int64   `json:"grand_total"`
	DiscountCode   *string `json:"discount_code,omitempty"`
	Currency       string  `json:"currency"`
}

type totalsResponse struct {
	Totals totalsPayload `json:"totals"`
}

type reconcileResponse struct {
	Draft             draftPayload              `json:"checkout"`
	Totals            totalsPayload             `json:"totals"`
	DiscountRejection *discountRejectionPayload `json:"discount_rejection,omitempty"`
}

type discountRejectionPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	OrderID          string `json:"order_id"`
	OrderTotal       string `json:"order_total"`
	OrderTotalCents  int64  `json:"order_total_cents"`
	Currency         string `json:"currency"`
	PaymentReference string `json:"payment_reference"`
}

type handoffResponse struct {
	Payment handoffPayload `json:"payment"`
}

type handoffPayload struct {
	Provider         string `json:"provider"`
	Reference        string `json:"reference"`
	AccessCode       string `json:"access_code,omitempty"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	PublicKey        string `json:"public_key,omitempty"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

type verificationResponse struct {
	Verification verificationPayload `json:"verification"`
}

type verificationPayload struct {
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	Verified  bool   `json:"verified"`
	Message   string `json:"message,omitempty"`
}

type newAddressRequest struct {
	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	Street     string  `json:"street"`
	City       string  `json:"city"`
	State      *string `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone"`
	SetDefault bool    `json:"set_default"`
}

type selectAddressRequest struct {
	AddressID string `json:"address_id"`
}

type chooseShippingRequest struct {
	Option string `json:"option"`
}

type applyDiscountRequest struct {
	Code string `json:"code"`
}

type verifyPaymentRequest struct {
	Reference string `json:"reference"`
}

func buildDraftPayload(draft services.CheckoutDraft) draftPayload {
	payload := draftPayload{
		ID:             draft.ID,
		Step:           int(draft.Step),
		StepName:       draft.Step.String(),
		ShippingOption: string(draft.ShippingOption),
		DiscountCode:   draft.DiscountCode,
		DiscountAmount: draft.DiscountAmount,
		CreatedAt:      formatTime(draft.CreatedAt),
		UpdatedAt:      formatTime(draft.UpdatedAt),
	}
	if draft.Address != nil {
		addr := buildAddressPayload(*draft.Address)
		payload.Address = &addr
	}
	if draft.Totals != nil {
		totals := buildTotalsPayload(*draft.Totals)
		payload.Totals = &totals
	}
	return payload
}

func buildAddressPayload(a services.Address) addressPayload {
	return addressPayload{
		ID:         a.ID,
		FirstName:  a.FirstName,
		LastName:   a.LastName,
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
		IsDefault:  a.IsDefault,
	}
}

func buildTotalsPayload(t services.SecureTotals) totalsPayload {
	return totalsPayload{
		Subtotal:       t.Subtotal,
		Shipping:       t.Shipping,
		Tax:            t.Tax,
		DiscountAmount: t.DiscountAmount,
		GrandTotal:     t.GrandTotal,
		DiscountCode:   t.DiscountCode,
		Currency:       t.Currency,
	}
}

func buildReconcileResponse(draft services.CheckoutDraft, result services.ReconcileResult) reconcileResponse {
	resp := reconcileResponse{
		Draft:  buildDraftPayload(draft),
		Totals: buildTotalsPayload(result.Totals),
	}
	if result.DiscountRejection != nil {
		resp.DiscountRejection = &discountRejectionPayload{
			Code:   result.DiscountRejection.Code,
			Reason: result.DiscountRejection.Reason,
		}
	}
	return resp
}

func buildOrderPayload(order services.OrderCreationResult) orderPayload {
	return orderPayload{
		OrderID:          order.OrderID,
		OrderTotal:       order.OrderTotal,
		OrderTotalCents:  order.OrderTotalCents,
		Currency:         order.Currency,
		PaymentReference: order.PaymentReference,
	}
}

func buildHandoffPayload(handoff services.PaymentHandoff) handoffPayload {
	return handoffPayload{
		Provider:         handoff.Provider,
		Reference:        handoff.Reference,
		AccessCode:       handoff.AccessCode,
		AuthorizationURL: handoff.AuthorizationURL,
		PublicKey:        handoff.PublicKey,
		Amount:           handoff.Amount,
		Currency:         handoff.Currency,
	}
}

func buildVerificationPayload(result services.PaymentVerificationResult) verificationPayload {
	return verificationPayload{
		OrderID:   result.OrderID,
		Reference: result.Reference,
		Verified:  result.Verified,
		Message:   result.Message,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
