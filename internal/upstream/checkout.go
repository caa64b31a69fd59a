package upstream

import (
	"context"
	"errors"
	"strings"

	"github.com/zarumart/api/internal/domain"
)

const idempotencyHeader = "Idempotency-Key"

// CalculateRequest mirrors the platform's totals calculation body. Line
// items travel with the request so the authority prices the cart it is
// actually shown, not a cart it has to look up.
type CalculateRequest struct {
	Lines          []CalculateLine
	ShippingOption domain.ShippingOption
	DiscountCode   *string
}

// CalculateLine is one cart line in a totals calculation request.
type CalculateLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CalculateResult pairs authoritative totals with an optional discount
// rejection. Rejection does not fail the calculation; the remaining
// figures stay valid with the discount zeroed.
type CalculateResult struct {
	Totals            domain.SecureTotals
	DiscountRejection *domain.DiscountRejection
}

// CalculateTotals asks the pricing authority for the single authoritative
// breakdown for the given cart, shipping option, and discount code.
func (c *Client) CalculateTotals(ctx context.Context, req CalculateRequest) (CalculateResult, error) {
	if len(req.Lines) == 0 {
		return CalculateResult{}, errors.New("upstream: calculation requires at least one line")
	}
	if !req.ShippingOption.Valid() {
		return CalculateResult{}, errors.New("upstream: invalid shipping option")
	}

	body := struct {
		Lines          []CalculateLine `json:"lines"`
		ShippingOption string          `json:"shipping_option"`
		DiscountCode   *string         `json:"discount_code,omitempty"`
	}{
		Lines:          req.Lines,
		ShippingOption: string(req.ShippingOption),
		DiscountCode:   req.DiscountCode,
	}

	var payload struct {
		Subtotal       int64   `json:"subtotal"`
		Shipping       int64   `json:"shipping"`
		Tax            int64   `json:"tax"`
		DiscountAmount int64   `json:"discount_amount"`
		GrandTotal     int64   `json:"grand_total"`
		DiscountCode   *string `json:"discount_code,omitempty"`
		Currency       string  `json:"currency"`
		DiscountError  *struct {
			Code   string `json:"code"`
			Reason string `json:"reason"`
		} `json:"discount_error,omitempty"`
	}
	if err := c.post(ctx, "/cart/calculate", body, &payload, nil); err != nil {
		return CalculateResult{}, err
	}

	result := CalculateResult{
		Totals: domain.SecureTotals{
			Subtotal:       payload.Subtotal,
			Shipping:       payload.Shipping,
			Tax:            payload.Tax,
			DiscountAmount: payload.DiscountAmount,
			GrandTotal:     payload.GrandTotal,
			DiscountCode:   payload.DiscountCode,
			Currency:       payload.Currency,
		},
	}
	if payload.DiscountError != nil {
		result.DiscountRejection = &domain.DiscountRejection{
			Code:   payload.DiscountError.Code,
			Reason: payload.DiscountError.Reason,
		}
		result.Totals.DiscountAmount = 0
		result.Totals.DiscountCode = nil
	}
	return result, nil
}

// OrderRequest carries the finalized draft to the platform. The discount
// amount never travels; the authority re-validates the code itself.
type OrderRequest struct {
	ShippingAddress domain.Address
	ShippingOption  domain.ShippingOption
	DiscountCode    *string
	IdempotencyKey  string
}

// CreateOrder opens a pending order and reserves a payment reference.
// Never retried: a duplicate submission risks a duplicate pending order.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (domain.OrderCreationResult, error) {
	if !req.ShippingOption.Valid() {
		return domain.OrderCreationResult{}, errors.New("upstream: invalid shipping option")
	}

	body := struct {
		ShippingAddress addressPayload `json:"shipping_address"`
		ShippingOption  string         `json:"shipping_option"`
		DiscountCode    *string        `json:"discount_code,omitempty"`
	}{
		ShippingAddress: addressToPayload(req.ShippingAddress),
		ShippingOption:  string(req.ShippingOption),
		DiscountCode:    req.DiscountCode,
	}

	var headers map[string]string
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		headers = map[string]string{idempotencyHeader: key}
	}

	var payload struct {
		OrderID          string `json:"order_id"`
		OrderTotal       string `json:"order_total"`
		OrderTotalCents  int64  `json:"order_total_cents"`
		Currency         string `json:"currency"`
		UserEmail        string `json:"user_email"`
		PaymentReference string `json:"payment_reference"`
	}
	if err := c.post(ctx, "/checkout/order", body, &payload, headers); err != nil {
		return domain.OrderCreationResult{}, err
	}

	return domain.OrderCreationResult{
		OrderID:          payload.OrderID,
		OrderTotal:       payload.OrderTotal,
		OrderTotalCents:  payload.OrderTotalCents,
		Currency:         payload.Currency,
		UserEmail:        payload.UserEmail,
		PaymentReference: payload.PaymentReference,
	}, nil
}

// VerifyPayment forwards the gateway reference for server-side charge
// confirmation. Never retried automatically.
func (c *Client) VerifyPayment(ctx context.Context, orderID, reference string) (domain.PaymentVerificationResult, error) {
	orderID = strings.TrimSpace(orderID)
	reference = strings.TrimSpace(reference)
	if orderID == "" || reference == "" {
		return domain.PaymentVerificationResult{}, errors.New("upstream: order id and reference are required")
	}

	body := struct {
		OrderID   string `json:"order_id"`
		Reference string `json:"reference"`
	}{OrderID: orderID, Reference: reference}

	var payload struct {
		OrderID   string `json:"order_id"`
		Reference string `json:"reference"`
		Verified  bool   `json:"verified"`
		Message   string `json:"message"`
	}
	if err := c.post(ctx, "/checkout/paystack-verify", body, &payload, nil); err != nil {
		return domain.PaymentVerificationResult{}, err
	}

	return domain.PaymentVerificationResult{
		OrderID:   payload.OrderID,
		Reference: payload.Reference,
		Verified:  payload.Verified,
		Message:   payload.Message,
	}, nil
}
