// Package di assembles the runtime dependency graph: upstream clients,
// payment providers, services, and the HTTP handler stack.
package di

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zarumart/api/internal/domain"
	"github.com/zarumart/api/internal/handlers"
	"github.com/zarumart/api/internal/payments"
	"github.com/zarumart/api/internal/platform/config"
	"github.com/zarumart/api/internal/platform/observability"
	"github.com/zarumart/api/internal/platform/session"
	"github.com/zarumart/api/internal/pricing"
	"github.com/zarumart/api/internal/services"
	"github.com/zarumart/api/internal/upstream"
)

// Local-mode pricing figures mirror the platform's published rates.
const (
	localTaxRate               = "0.08"
	localStandardShippingFee   = 1500
	localExpressShippingFee    = 3000
	localFreeShippingThreshold = 50000
)

// Services bundles the service-layer contracts handlers rely upon.
type Services struct {
	Cart     services.CartService
	Totals   services.TotalsService
	Checkout services.CheckoutService
}

// Container wires clients, services, and the payment stack for runtime use.
type Container struct {
	Config    config.Config
	Logger    *zap.Logger
	Upstream  *upstream.Client
	Addresses *upstream.AddressBook
	Payments  *payments.Manager
	Widget    *payments.WidgetAdapter
	Services  Services
}

// sessionSweeper fans a session-expiry signal out to the session-scoped
// caches. Invalidators register after the upstream client is built, so
// the list is guarded and late-bound.
type sessionSweeper struct {
	mu  sync.Mutex
	fns []func(sessionID string)
}

func (s *sessionSweeper) register(fn func(sessionID string)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
}

func (s *sessionSweeper) invalidate(_ context.Context, sessionID string) {
	s.mu.Lock()
	fns := make([]func(string), len(s.fns))
	copy(fns, s.fns)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(sessionID)
	}
}

// NewContainer constructs the runtime dependencies from configuration.
func NewContainer(cfg config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	eventLog := observability.EventLogger(logger)
	sweeper := &sessionSweeper{}

	client, err := upstream.NewClient(upstream.Config{
		BaseURL:         cfg.Upstream.BaseURL,
		Timeout:         cfg.Upstream.Timeout,
		RetryMax:        cfg.Upstream.RetryMax,
		RetryInterval:   cfg.Upstream.RetryInterval,
		RetryMaxElapsed: cfg.Upstream.RetryMaxElapsed,
		Logger:          upstream.Logger(eventLog),
		OnSessionExpiry: sweeper.invalidate,
	})
	if err != nil {
		return nil, fmt.Errorf("build upstream client: %w", err)
	}

	addressBook, err := upstream.NewAddressBook(client)
	if err != nil {
		return nil, fmt.Errorf("build address book: %w", err)
	}

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Catalog: client,
		Clock:   time.Now,
		Logger:  eventLog,
	})
	if err != nil {
		return nil, fmt.Errorf("build cart service: %w", err)
	}

	var localEngine *pricing.Engine
	if cfg.Pricing.LocalMode {
		localEngine, err = pricing.NewEngine(pricing.Config{
			Currency:              cfg.Pricing.Currency,
			TaxRate:               decimal.RequireFromString(localTaxRate),
			StandardShippingFee:   localStandardShippingFee,
			ExpressShippingFee:    localExpressShippingFee,
			FreeShippingThreshold: localFreeShippingThreshold,
			Clock:                 time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("build pricing engine: %w", err)
		}
	}

	totalsDeps := services.TotalsServiceDeps{
		Cart:       cartSvc,
		Calculator: client,
		Clock:      time.Now,
		Logger:     eventLog,
	}
	if localEngine != nil {
		totalsDeps.Calculator = &localCalculator{catalog: client, engine: localEngine}
	}
	totalsSvc, err := services.NewTotalsService(totalsDeps)
	if err != nil {
		return nil, fmt.Errorf("build totals service: %w", err)
	}

	manager, err := buildPaymentManager(cfg, eventLog)
	if err != nil {
		return nil, err
	}

	checkoutDeps := services.CheckoutServiceDeps{
		Cart:      cartSvc,
		Totals:    totalsSvc,
		Addresses: addressBook,
		Orders:    client,
		Clock:     time.Now,
		Logger:    eventLog,
	}
	if localEngine != nil {
		checkoutDeps.Orders = &localOrderGateway{orders: client, engine: localEngine}
	}
	if manager != nil {
		checkoutDeps.Payments = manager
	}
	checkoutSvc, err := services.NewCheckoutService(checkoutDeps)
	if err != nil {
		return nil, fmt.Errorf("build checkout service: %w", err)
	}

	sweeper.register(totalsSvc.Invalidate)
	sweeper.register(addressBook.Invalidate)

	return &Container{
		Config:    cfg,
		Logger:    logger,
		Upstream:  client,
		Addresses: addressBook,
		Payments:  manager,
		Widget:    payments.NewWidgetAdapter(eventLog),
		Services: Services{
			Cart:     cartSvc,
			Totals:   totalsSvc,
			Checkout: checkoutSvc,
		},
	}, nil
}

func buildPaymentManager(cfg config.Config, eventLog func(context.Context, string, map[string]any)) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider)

	if cfg.Paystack.SecretKey != "" {
		paystack, err := payments.NewPaystackProvider(payments.PaystackProviderConfig{
			BaseURL:     cfg.Paystack.BaseURL,
			SecretKey:   cfg.Paystack.SecretKey,
			PublicKey:   cfg.Paystack.PublicKey,
			CallbackURL: cfg.Paystack.CallbackURL,
			Logger:      payments.PaystackLogger(eventLog),
			Clock:       time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("build paystack provider: %w", err)
		}
		providers["paystack"] = paystack
	}

	if cfg.Stripe.APIKey != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Stripe.APIKey,
			Logger: payments.StripeLogger(eventLog),
			Clock:  time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers["stripe"] = stripe
	}

	if len(providers) == 0 {
		// No gateway credentials configured; payment initiation will be
		// reported unavailable by the checkout service.
		return nil, nil
	}

	manager, err := payments.NewManager(providers,
		payments.WithDefaultProvider(cfg.Payments.DefaultProvider),
		payments.WithCurrencyRoutes(cfg.Payments.CurrencyRoutes),
	)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

// localCalculator prices carts with the in-process engine instead of the
// platform's calculate endpoint. Unit prices come from the catalog.
type localCalculator struct {
	catalog interface {
		GetProduct(ctx context.Context, productID string) (services.ProductSnapshot, error)
	}
	engine *pricing.Engine
}

func (c *localCalculator) CalculateTotals(ctx context.Context, req upstream.CalculateRequest) (upstream.CalculateResult, error) {
	lines := make([]pricing.QuoteLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		snapshot, err := c.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return upstream.CalculateResult{}, err
		}
		lines = append(lines, pricing.QuoteLine{
			ProductID: line.ProductID,
			UnitPrice: snapshot.Price,
			Quantity:  line.Quantity,
		})
	}

	quote, err := c.engine.Quote(lines, req.ShippingOption, req.DiscountCode)
	if err != nil {
		return upstream.CalculateResult{}, err
	}
	return upstream.CalculateResult{
		Totals:            quote.Totals,
		DiscountRejection: quote.DiscountRejection,
	}, nil
}

// orderPlacer is the slice of the upstream client the local gateway wraps.
type orderPlacer interface {
	CreateOrder(ctx context.Context, req upstream.OrderRequest) (domain.OrderCreationResult, error)
	VerifyPayment(ctx context.Context, orderID, reference string) (domain.PaymentVerificationResult, error)
}

// localOrderGateway counts a discount redemption against the local
// pricing engine once an order carrying the code actually lands.
// Quoting alone never consumes a usage limit.
type localOrderGateway struct {
	orders orderPlacer
	engine *pricing.Engine
}

func (g *localOrderGateway) CreateOrder(ctx context.Context, req upstream.OrderRequest) (domain.OrderCreationResult, error) {
	order, err := g.orders.CreateOrder(ctx, req)
	if err == nil && req.DiscountCode != nil {
		g.engine.Redeem(*req.DiscountCode)
	}
	return order, err
}

func (g *localOrderGateway) VerifyPayment(ctx context.Context, orderID, reference string) (domain.PaymentVerificationResult, error) {
	return g.orders.VerifyPayment(ctx, orderID, reference)
}

// Handler assembles the HTTP stack: observability middleware globally,
// session extraction on the storefront groups, and the route registrars.
func (c *Container) Handler() http.Handler {
	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(c.Logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(c.Logger),
		),
		handlers.WithSessionMiddlewares(session.Middleware()),
		handlers.WithProductRoutes(handlers.NewProductHandlers(c.Upstream).Routes),
		handlers.WithCartRoutes(handlers.NewCartHandlers(c.Services.Cart).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(c.Services.Checkout, c.Services.Totals, c.Widget).Routes),
	)
}
