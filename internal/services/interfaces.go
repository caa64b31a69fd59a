package services

import (
	"context"

	domain "github.com/zarumart/api/internal/domain"
	"github.com/zarumart/api/internal/upstream"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart                      = domain.Cart
	CartLine                  = domain.CartLine
	CartDetail                = domain.CartDetail
	ProductSnapshot           = domain.ProductSnapshot
	Address                   = domain.Address
	ShippingOption            = domain.ShippingOption
	CheckoutStep              = domain.CheckoutStep
	CheckoutDraft             = domain.CheckoutDraft
	SecureTotals              = domain.SecureTotals
	DiscountRejection         = domain.DiscountRejection
	OrderCreationResult       = domain.OrderCreationResult
	PaymentVerificationResult = domain.PaymentVerificationResult
)

// CartService aggregates the session's cart lines and resolves product
// snapshots for display. Its totals are estimates only; authoritative
// figures come from the totals service.
type CartService interface {
	AddToCart(ctx context.Context, productID string, quantity int) (Cart, error)
	UpdateQuantity(ctx context.Context, productID string, quantity int) (Cart, error)
	RemoveFromCart(ctx context.Context, productID string) (Cart, error)
	ClearCart(ctx context.Context) error
	Lines(ctx context.Context) ([]CartLine, error)
	Details(ctx context.Context) ([]CartDetail, error)
	TotalItems(ctx context.Context) (int, error)
	EstimateTotal(ctx context.Context) (int64, error)
}

// ReconcileCommand names the inputs the totals authority prices against.
type ReconcileCommand struct {
	ShippingOption ShippingOption
	DiscountCode   *string
}

// ReconcileResult pairs accepted totals with an optional discount
// rejection. A rejection does not fail reconciliation.
type ReconcileResult struct {
	Totals            SecureTotals
	DiscountRejection *DiscountRejection
}

// TotalsService obtains the single authoritative price breakdown and
// suppresses responses for superseded inputs.
type TotalsService interface {
	Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error)
	Current(ctx context.Context) (*SecureTotals, error)
	Invalidate(sessionID string)
}

// PaymentHandoff describes the gateway handoff for a created order.
type PaymentHandoff struct {
	Provider         string
	Reference        string
	AccessCode       string
	AuthorizationURL string
	PublicKey        string
	Amount           int64
	Currency         string
	Email            string
}

// NewAddressCommand carries a new-address form submission.
type NewAddressCommand struct {
	FirstName  string `validate:"required"`
	LastName   string `validate:"required"`
	Street     string `validate:"required"`
	City       string `validate:"required"`
	State      *string
	PostalCode string `validate:"required"`
	Country    string `validate:"required,iso3166_1_alpha2"`
	Phone      *string
	SetDefault bool
}

// CheckoutService drives the checkout stepper over a shared draft.
type CheckoutService interface {
	Begin(ctx context.Context) (CheckoutDraft, error)
	Current(ctx context.Context) (CheckoutDraft, error)
	Abandon(ctx context.Context) error
	NextStep(ctx context.Context) (CheckoutDraft, error)
	PrevStep(ctx context.Context) (CheckoutDraft, error)
	ListAddresses(ctx context.Context) ([]Address, error)
	SelectAddress(ctx context.Context, addressID string) (CheckoutDraft, error)
	SubmitNewAddress(ctx context.Context, cmd NewAddressCommand) (CheckoutDraft, error)
	ChooseShipping(ctx context.Context, option ShippingOption) (CheckoutDraft, ReconcileResult, error)
	ApplyDiscount(ctx context.Context, code string) (CheckoutDraft, ReconcileResult, error)
	RemoveDiscount(ctx context.Context) (CheckoutDraft, ReconcileResult, error)
	CreateOrder(ctx context.Context) (OrderCreationResult, error)
	CurrentOrder(ctx context.Context) (OrderCreationResult, error)
	InitiatePayment(ctx context.Context) (PaymentHandoff, error)
	VerifyPayment(ctx context.Context, gatewayReference string) (PaymentVerificationResult, error)
}

// productCatalog resolves product snapshots for cart lines.
type productCatalog interface {
	GetProduct(ctx context.Context, productID string) (ProductSnapshot, error)
}

// totalsCalculator is the pricing authority boundary.
type totalsCalculator interface {
	CalculateTotals(ctx context.Context, req upstream.CalculateRequest) (upstream.CalculateResult, error)
}

// addressBook is the saved-address boundary.
type addressBook interface {
	List(ctx context.Context) ([]Address, error)
	Create(ctx context.Context, address Address) (Address, error)
	SetDefault(ctx context.Context, addressID string) error
	Invalidate(sessionID string)
}

// orderGateway opens pending orders and confirms charges upstream.
type orderGateway interface {
	CreateOrder(ctx context.Context, req upstream.OrderRequest) (OrderCreationResult, error)
	VerifyPayment(ctx context.Context, orderID, reference string) (PaymentVerificationResult, error)
}
