// Package pricing implements the reference price calculator: the same
// breakdown rules the commerce platform applies, kept local so totals
// behaviour can be exercised without the real authority.
package pricing

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zarumart/api/internal/domain"
)

// ErrEmptyCart is returned when a quote is requested for zero lines.
var ErrEmptyCart = errors.New("pricing: cart is empty")

// ErrInvalidShippingOption is returned for unrecognised shipping options.
var ErrInvalidShippingOption = errors.New("pricing: invalid shipping option")

// Discount defines one redeemable code. A flat Amount is deducted from
// the subtotal when all conditions hold.
type Discount struct {
	Code        string
	Amount      int64
	MinPurchase int64
	ExpiresAt   *time.Time
	UsageLimit  int
}

// Config configures the Engine. Amounts are minor currency units.
type Config struct {
	Currency              string
	TaxRate               decimal.Decimal
	StandardShippingFee   int64
	ExpressShippingFee    int64
	FreeShippingThreshold int64
	Discounts             []Discount
	Clock                 func() time.Time
}

// Engine computes authoritative totals from cart lines plus shipping and
// discount choices. Tax applies to the post-discount base: subtotal plus
// shipping minus discount.
type Engine struct {
	currency              string
	taxRate               decimal.Decimal
	standardFee           int64
	expressFee            int64
	freeShippingThreshold int64
	clock                 func() time.Time

	mu        sync.Mutex
	discounts map[string]Discount
	usage     map[string]int
}

// NewEngine constructs an Engine from the provided configuration.
func NewEngine(cfg Config) (*Engine, error) {
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		return nil, errors.New("pricing: currency is required")
	}
	if cfg.TaxRate.IsNegative() {
		return nil, errors.New("pricing: tax rate must not be negative")
	}
	if cfg.StandardShippingFee < 0 || cfg.ExpressShippingFee < 0 {
		return nil, errors.New("pricing: shipping fees must not be negative")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	discounts := make(map[string]Discount, len(cfg.Discounts))
	for _, d := range cfg.Discounts {
		code := strings.ToUpper(strings.TrimSpace(d.Code))
		if code == "" || d.Amount <= 0 {
			return nil, errors.New("pricing: discount requires a code and a positive amount")
		}
		d.Code = code
		discounts[code] = d
	}

	return &Engine{
		currency:              currency,
		taxRate:               cfg.TaxRate,
		standardFee:           cfg.StandardShippingFee,
		expressFee:            cfg.ExpressShippingFee,
		freeShippingThreshold: cfg.FreeShippingThreshold,
		clock: func() time.Time {
			return clock().UTC()
		},
		discounts: discounts,
		usage:     make(map[string]int),
	}, nil
}

// QuoteLine is one priced cart line.
type QuoteLine struct {
	ProductID string
	UnitPrice int64
	Quantity  int
}

// Quote pairs the computed totals with an optional discount rejection.
type Quote struct {
	Totals            domain.SecureTotals
	DiscountRejection *domain.DiscountRejection
}

// Quote prices the given lines. A rejected discount never fails the
// quote; the remaining breakdown stays valid with the discount zeroed.
func (e *Engine) Quote(lines []QuoteLine, option domain.ShippingOption, discountCode *string) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, ErrEmptyCart
	}
	if !option.Valid() {
		return Quote{}, ErrInvalidShippingOption
	}

	var subtotal int64
	for _, line := range lines {
		if line.Quantity <= 0 || line.UnitPrice < 0 {
			return Quote{}, errors.New("pricing: line quantity must be positive and price non-negative")
		}
		subtotal += line.UnitPrice * int64(line.Quantity)
	}

	shipping := e.shippingFee(option, subtotal)

	var (
		discountAmount int64
		appliedCode    *string
		rejection      *domain.DiscountRejection
	)
	if discountCode != nil && strings.TrimSpace(*discountCode) != "" {
		code := strings.ToUpper(strings.TrimSpace(*discountCode))
		amount, reason := e.redeem(code, subtotal)
		if reason == "" {
			discountAmount = amount
			appliedCode = &code
		} else {
			rejection = &domain.DiscountRejection{Code: code, Reason: reason}
		}
	}

	taxBase := subtotal + shipping - discountAmount
	if taxBase < 0 {
		taxBase = 0
	}
	tax := decimal.NewFromInt(taxBase).Mul(e.taxRate).Round(0).IntPart()

	return Quote{
		Totals: domain.SecureTotals{
			Subtotal:       subtotal,
			Shipping:       shipping,
			Tax:            tax,
			DiscountAmount: discountAmount,
			GrandTotal:     subtotal + shipping - discountAmount + tax,
			DiscountCode:   appliedCode,
			Currency:       e.currency,
		},
		DiscountRejection: rejection,
	}, nil
}

func (e *Engine) shippingFee(option domain.ShippingOption, subtotal int64) int64 {
	switch option {
	case domain.ShippingStandard:
		if e.freeShippingThreshold > 0 && subtotal >= e.freeShippingThreshold {
			return 0
		}
		return e.standardFee
	case domain.ShippingExpress:
		return e.expressFee
	default:
		return 0
	}
}

// redeem returns the discount amount or a rejection reason. Quoting
// never consumes the usage limit; totals are recomputed on every
// shipping or discount change, and only a placed order counts as a
// redemption (see Redeem).
func (e *Engine) redeem(code string, subtotal int64) (int64, string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.discounts[code]
	if !ok {
		return 0, "unknown discount code"
	}
	if d.ExpiresAt != nil && !e.clock().Before(*d.ExpiresAt) {
		return 0, "discount code has expired"
	}
	if d.MinPurchase > 0 && subtotal < d.MinPurchase {
		return 0, "minimum purchase not met"
	}
	if d.UsageLimit > 0 && e.usage[code] >= d.UsageLimit {
		return 0, "discount usage limit reached"
	}

	amount := d.Amount
	if amount > subtotal {
		amount = subtotal
	}
	return amount, ""
}

// Redeem records that an order carrying the code was placed, advancing
// its usage count. Unknown codes are ignored.
func (e *Engine) Redeem(code string) {
	code = strings.ToUpper(strings.TrimSpace(code))

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.discounts[code]; ok {
		e.usage[code]++
	}
}
