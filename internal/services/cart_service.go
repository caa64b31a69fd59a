package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/zarumart/api/internal/domain"
	"github.com/zarumart/api/internal/platform/session"
)

var errCartClockRequired = errors.New("cart service: clock is required")

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartLineNotFound indicates the requested cart line does not exist.
var ErrCartLineNotFound = errors.New("cart service: line not found")

const defaultSnapshotTTL = 2 * time.Minute

// CartServiceDeps wires the catalog and clock dependencies for cart operations.
type CartServiceDeps struct {
	Catalog     productCatalog
	Clock       func() time.Time
	SnapshotTTL time.Duration
	Logger      func(context.Context, string, map[string]any)
}

type cartService struct {
	catalog productCatalog
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)

	mu    sync.Mutex
	carts map[string]*domain.Cart

	cacheMu   sync.Mutex
	snapshots map[string]snapshotEntry
	ttl       time.Duration
}

type snapshotEntry struct {
	product   domain.ProductSnapshot
	fetchedAt time.Time
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog is required")
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	ttl := deps.SnapshotTTL
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		catalog:   deps.Catalog,
		now:       func() time.Time { return deps.Clock().UTC() },
		logger:    logger,
		carts:     make(map[string]*domain.Cart),
		snapshots: make(map[string]snapshotEntry),
		ttl:       ttl,
	}, nil
}

func (s *cartService) sessionID(ctx context.Context) (string, error) {
	sess, ok := session.FromContext(ctx)
	if !ok {
		return "", ErrCartUnavailable
	}
	return sess.ID, nil
}

func (s *cartService) cartLocked(sessionID string) *domain.Cart {
	cart, ok := s.carts[sessionID]
	if !ok {
		cart = &domain.Cart{
			SessionID: sessionID,
			CreatedAt: s.now(),
			UpdatedAt: s.now(),
		}
		s.carts[sessionID] = cart
	}
	return cart
}

// AddToCart merges the quantity into an existing line or appends a new one.
func (s *cartService) AddToCart(ctx context.Context, productID string, quantity int) (Cart, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return Cart{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" || quantity < 1 {
		return Cart{}, ErrCartInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartLocked(sessionID)
	now := s.now()
	for i := range cart.Lines {
		if cart.Lines[i].ProductID == productID {
			cart.Lines[i].Quantity += quantity
			cart.Lines[i].UpdatedAt = &now
			cart.UpdatedAt = now
			s.logger(ctx, "cart.line.merged", map[string]any{
				"product_id": productID,
				"quantity":   cart.Lines[i].Quantity,
			})
			return cloneCart(cart), nil
		}
	}

	cart.Lines = append(cart.Lines, domain.CartLine{
		ProductID: productID,
		Quantity:  quantity,
		AddedAt:   now,
	})
	cart.UpdatedAt = now
	s.logger(ctx, "cart.line.added", map[string]any{
		"product_id": productID,
		"quantity":   quantity,
	})
	return cloneCart(cart), nil
}

// UpdateQuantity sets a line's quantity. A quantity of zero or less
// removes the line instead.
func (s *cartService) UpdateQuantity(ctx context.Context, productID string, quantity int) (Cart, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return Cart{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	if quantity <= 0 {
		return s.RemoveFromCart(ctx, productID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartLocked(sessionID)
	now := s.now()
	for i := range cart.Lines {
		if cart.Lines[i].ProductID == productID {
			cart.Lines[i].Quantity = quantity
			cart.Lines[i].UpdatedAt = &now
			cart.UpdatedAt = now
			return cloneCart(cart), nil
		}
	}
	return Cart{}, ErrCartLineNotFound
}

// RemoveFromCart drops the line for the given product.
func (s *cartService) RemoveFromCart(ctx context.Context, productID string) (Cart, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return Cart{}, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartLocked(sessionID)
	filtered := cart.Lines[:0]
	removed := false
	for _, line := range cart.Lines {
		if line.ProductID == productID {
			removed = true
			continue
		}
		filtered = append(filtered, line)
	}
	if !removed {
		return Cart{}, ErrCartLineNotFound
	}
	cart.Lines = filtered
	cart.UpdatedAt = s.now()
	return cloneCart(cart), nil
}

// ClearCart empties the session's cart.
func (s *cartService) ClearCart(ctx context.Context) error {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.cartLocked(sessionID)
	cart.Lines = nil
	cart.UpdatedAt = s.now()
	return nil
}

// Lines returns a copy of the session's raw cart lines.
func (s *cartService) Lines(ctx context.Context) ([]CartLine, error) {
	sessionID, err := s.sessionID(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCart(s.cartLocked(sessionID)).Lines, nil
}

// Details joins cart lines with cached product snapshots. Lines whose
// snapshot cannot be resolved carry a nil Product and a zero Subtotal.
func (s *cartService) Details(ctx context.Context) ([]CartDetail, error) {
	lines, err := s.Lines(ctx)
	if err != nil {
		return nil, err
	}

	details := make([]CartDetail, 0, len(lines))
	for _, line := range lines {
		detail := CartDetail{Line: line}
		if product, ok := s.resolveSnapshot(ctx, line.ProductID); ok {
			p := product
			detail.Product = &p
			detail.Subtotal = product.Price * int64(line.Quantity)
		}
		details = append(details, detail)
	}
	return details, nil
}

// TotalItems sums quantities over lines whose product still resolves.
func (s *cartService) TotalItems(ctx context.Context) (int, error) {
	details, err := s.Details(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, d := range details {
		if d.Product == nil {
			continue
		}
		total += d.Line.Quantity
	}
	return total, nil
}

// EstimateTotal sums line subtotals. A display estimate only; it never
// substitutes for reconciled totals once those have loaded.
func (s *cartService) EstimateTotal(ctx context.Context) (int64, error) {
	details, err := s.Details(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, d := range details {
		total += d.Subtotal
	}
	return total, nil
}

func (s *cartService) resolveSnapshot(ctx context.Context, productID string) (domain.ProductSnapshot, bool) {
	now := s.now()

	s.cacheMu.Lock()
	if entry, ok := s.snapshots[productID]; ok && now.Sub(entry.fetchedAt) < s.ttl {
		s.cacheMu.Unlock()
		return entry.product, true
	}
	s.cacheMu.Unlock()

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		s.logger(ctx, "cart.snapshot.unresolved", map[string]any{
			"product_id": productID,
			"error":      err.Error(),
		})
		// Serve a stale snapshot over nothing when the catalog is down.
		s.cacheMu.Lock()
		entry, ok := s.snapshots[productID]
		s.cacheMu.Unlock()
		if ok {
			return entry.product, true
		}
		return domain.ProductSnapshot{}, false
	}

	s.cacheMu.Lock()
	s.snapshots[productID] = snapshotEntry{product: product, fetchedAt: now}
	s.cacheMu.Unlock()
	return product, true
}

func cloneCart(cart *domain.Cart) Cart {
	out := *cart
	out.Lines = make([]domain.CartLine, len(cart.Lines))
	copy(out.Lines, cart.Lines)
	return out
}
