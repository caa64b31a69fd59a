package domain

import (
	"time"
)

// ShippingOption enumerates the delivery choices offered at checkout.
type ShippingOption string

const (
	// ShippingStandard is the default, lower-cost delivery option.
	ShippingStandard ShippingOption = "standard"
	// ShippingExpress is the expedited delivery option.
	ShippingExpress ShippingOption = "express"
)

// Valid reports whether the option is one of the supported choices.
func (o ShippingOption) Valid() bool {
	return o == ShippingStandard || o == ShippingExpress
}

// CheckoutStep identifies a position in the checkout flow.
type CheckoutStep int

const (
	// StepAddress is the first interactive step: pick or enter a shipping address.
	StepAddress CheckoutStep = 1
	// StepShipping is the second interactive step: choose a shipping option.
	StepShipping CheckoutStep = 2
	// StepPayment is the third interactive step: create the order and pay.
	StepPayment CheckoutStep = 3
	// StepConfirmed is the terminal state reached only through verified payment.
	StepConfirmed CheckoutStep = 4
)

// String returns the lowercase name used in payloads and logs.
func (s CheckoutStep) String() string {
	switch s {
	case StepAddress:
		return "address"
	case StepShipping:
		return "shipping"
	case StepPayment:
		return "payment"
	case StepConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// CartLine is one (product, quantity) pair in the active session cart.
// Lines are unique by ProductID.
type CartLine struct {
	ProductID string
	Quantity  int
	AddedAt   time.Time
	UpdatedAt *time.Time
}

// ProductSnapshot is the cached catalog view of a product used to price
// cart lines. Prices are in minor currency units.
type ProductSnapshot struct {
	ID             string
	Name           string
	Price          int64
	AvailableStock int
}

// CartDetail joins a cart line with its product snapshot. Product is nil
// when the catalog no longer resolves the reference; such lines carry no
// subtotal and are excluded from derived totals.
type CartDetail struct {
	Line     CartLine
	Product  *ProductSnapshot
	Subtotal int64
}

// Cart aggregates the mutable cart state for one session.
type Cart struct {
	SessionID string
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address is a postal address from the account address book or entered
// during checkout.
type Address struct {
	ID         string
	FirstName  string
	LastName   string
	Street     string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
	IsDefault  bool
}

// SecureTotals is the authoritative, server-computed price breakdown.
// It supersedes any client estimate and is recomputed on every change to
// the shipping option or discount code. Amounts are minor currency units.
type SecureTotals struct {
	Subtotal       int64
	Shipping       int64
	Tax            int64
	DiscountAmount int64
	GrandTotal     int64
	DiscountCode   *string
	Currency       string
}

// CheckoutDraft is the in-progress bundle of address, shipping, and
// discount choices for one checkout attempt. It is created when checkout
// begins and discarded on success or abandonment.
type CheckoutDraft struct {
	ID             string
	SessionID      string
	Step           CheckoutStep
	Address        *Address
	ShippingOption ShippingOption
	DiscountCode   *string
	DiscountAmount int64
	Totals         *SecureTotals
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderCreationResult is returned once per successful order creation and
// is immutable once obtained. OrderTotal is the display amount;
// OrderTotalCents is the same figure in minor currency units and is the
// only amount ever handed to the payment gateway.
type OrderCreationResult struct {
	OrderID          string
	OrderTotal       string
	OrderTotalCents  int64
	Currency         string
	UserEmail        string
	PaymentReference string
}

// PaymentVerificationResult reports the outcome of reconciling a gateway
// reference against a created order.
type PaymentVerificationResult struct {
	OrderID   string
	Reference string
	Verified  bool
	Message   string
}

// DiscountRejection records why the pricing authority declined a discount
// code. The remaining totals stay valid; only the discount is dropped.
type DiscountRejection struct {
	Code   string
	Reason string
}
