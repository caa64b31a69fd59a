package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/zarumart/api/internal/platform/session"
	"github.com/zarumart/api/internal/upstream"
)

func sessionIDFor(token string) string {
	return session.DeriveID(token)
}

type stubCalculator struct {
	mu        sync.Mutex
	calls     []upstream.CalculateRequest
	calculate func(ctx context.Context, req upstream.CalculateRequest) (upstream.CalculateResult, error)
}

func (s *stubCalculator) CalculateTotals(ctx context.Context, req upstream.CalculateRequest) (upstream.CalculateResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.calculate == nil {
		return upstream.CalculateResult{}, nil
	}
	return s.calculate(ctx, req)
}

func (s *stubCalculator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func totalsFor(option string, grandTotal int64) upstream.CalculateResult {
	return upstream.CalculateResult{
		Totals: SecureTotals{
			Subtotal:   10000,
			Shipping:   1500,
			Tax:        840,
			GrandTotal: grandTotal,
			Currency:   "NGN",
		},
	}
}

func newTestTotalsService(t *testing.T, cart CartService, calc totalsCalculator) TotalsService {
	t.Helper()
	svc, err := NewTotalsService(TotalsServiceDeps{
		Cart:       cart,
		Calculator: calc,
		Clock:      fixedClock,
	})
	if err != nil {
		t.Fatalf("NewTotalsService returned error: %v", err)
	}
	return svc
}

func TestReconcileEmptyCartNeverCallsAuthority(t *testing.T) {
	cart := newTestCartService(t, defaultCatalog())
	calc := &stubCalculator{}
	svc := newTestTotalsService(t, cart, calc)

	_, err := svc.Reconcile(cartContext("tok"), ReconcileCommand{ShippingOption: "standard"})
	if !errors.Is(err, ErrTotalsEmptyCart) {
		t.Fatalf("error = %v, want ErrTotalsEmptyCart", err)
	}
	if calc.callCount() != 0 {
		t.Fatalf("authority calls = %d, want 0 for empty cart", calc.callCount())
	}
}

func TestReconcileAcceptsAndStoresTotals(t *testing.T) {
	cart := newTestCartService(t, defaultCatalog())
	ctx := cartContext("tok")
	if _, err := cart.AddToCart(ctx, "p1", 2); err != nil {
		t.Fatalf("AddToCart returned error: %v", err)
	}

	calc := &stubCalculator{
		calculate: func(_ context.Context, req upstream.CalculateRequest) (upstream.CalculateResult, error) {
			return totalsFor(string(req.ShippingOption), 12340), nil
		},
	}
	svc := newTestTotalsService(t, cart, calc)

	result, err := svc.Reconcile(ctx, ReconcileCommand{ShippingOption: "standard"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if result.Totals.GrandTotal != 12340 {
		t.Fatalf("GrandTotal = %d, want 12340", result.Totals.GrandTotal)
	}

	current, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("Current returned error: %v", err)
	}
	if current == nil || current.GrandTotal != 12340 {
		t.Fatalf("Current = %+v, want the accepted totals", current)
	}
}

func TestReconcileDiscardsSupersededResponse(t *testing.T) {
	cart := newTestCartService(t, defaultCatalog())
	ctx := cartContext("tok")
	if _, err := cart.AddToCart(ctx, "p1", 2); err != nil {
		t.Fatalf("AddToCart returned error: %v", err)
	}

	firstIssued := make(chan struct{})
	releaseFirst := make(chan struct{})
	calc := &stubCalculator{}
	calc.calculate = func(_ context.Context, req upstream.CalculateRequest) (upstream.CalculateResult, error) {
		if req.ShippingOption == "standard" {
			close(firstIssued)
			<-releaseFirst
			return totalsFor("standard", 11340), nil
		}
		return totalsFor("express", 14040), nil
	}
	svc := newTestTotalsService(t, cart, calc)

	var wg sync.WaitGroup
	var staleErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, staleErr = svc.Reconcile(ctx, ReconcileCommand{ShippingOption: "standard"})
	}()

	<-firstIssued
	// A newer request supersedes the standard-shipping key.
	result, err := svc.Reconcile(ctx, ReconcileCommand{ShippingOption: "express"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if result.Totals.GrandTotal != 14040 {
		t.Fatalf("GrandTotal = %d, want 14040", result.Totals.GrandTotal)
	}

	close(releaseFirst)
	wg.Wait()

	if !errors.Is(staleErr, ErrTotalsSuperseded) {
		t.Fatalf("stale request error = %v, want ErrTotalsSuperseded", staleErr)
	}

	// The late response must not overwrite the accepted totals.
	current, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("Current returned error: %v", err)
	}
	if current == nil || current.GrandTotal != 14040 {
		t.Fatalf("Current = %+v, want the express totals", current)
	}
}

func TestReconcilePropagatesDiscountRejection(t *testing.T) {
	cart := newTestCartService(t, defaultCatalog())
	ctx := cartContext("tok")
	if _, err := cart.AddToCart(ctx, "p1", 1); err != nil {
		t.Fatalf("AddToCart returned error: %v", err)
	}

	calc := &stubCalculator{
		calculate: func(_ context.Context, req upstream.CalculateRequest) (upstream.CalculateResult, error) {
			result := totalsFor("standard", 12420)
			result.DiscountRejection = &DiscountRejection{Code: "EXPIRED1", Reason: "discount code has expired"}
			return result, nil
		},
	}
	svc := newTestTotalsService(t, cart, calc)

	code := "EXPIRED1"
	result, err := svc.Reconcile(ctx, ReconcileCommand{ShippingOption: "standard", DiscountCode: &code})
	if err != nil {
		t.Fatalf("Reconcile should not fail on discount rejection: %v", err)
	}
	if result.DiscountRejection == nil || result.DiscountRejection.Code != "EXPIRED1" {
		t.Fatalf("DiscountRejection = %+v", result.DiscountRejection)
	}
	if result.Totals.GrandTotal != 12420 {
		t.Fatal("remaining breakdown must stay valid alongside a rejection")
	}
}

func TestInvalidateClearsAcceptedTotals(t *testing.T) {
	cart := newTestCartService(t, defaultCatalog())
	ctx := cartContext("tok")
	if _, err := cart.AddToCart(ctx, "p1", 1); err != nil {
		t.Fatalf("AddToCart returned error: %v", err)
	}

	calc := &stubCalculator{
		calculate: func(_ context.Context, req upstream.CalculateRequest) (upstream.CalculateResult, error) {
			return totalsFor("standard", 11340), nil
		},
	}
	svc := newTestTotalsService(t, cart, calc)

	if _, err := svc.Reconcile(ctx, ReconcileCommand{ShippingOption: "standard"}); err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	svc.Invalidate(sessionIDFor("tok"))

	current, err := svc.Current(ctx)
	if err != nil {
		t.Fatalf("Current returned error: %v", err)
	}
	if current != nil {
		t.Fatalf("Current = %+v, want nil after invalidation", current)
	}
}

func TestReconcileRejectsInvalidShippingOption(t *testing.T) {
	cart := newTestCartService(t, defaultCatalog())
	svc := newTestTotalsService(t, cart, &stubCalculator{})

	_, err := svc.Reconcile(cartContext("tok"), ReconcileCommand{ShippingOption: "overnight"})
	if !errors.Is(err, ErrTotalsInvalidInput) {
		t.Fatalf("error = %v, want ErrTotalsInvalidInput", err)
	}
}
