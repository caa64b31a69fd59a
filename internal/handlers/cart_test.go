package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zarumart/api/internal/services"
)

type stubCartService struct {
	addToCart      func(ctx context.Context, productID string, quantity int) (services.Cart, error)
	updateQuantity func(ctx context.Context, productID string, quantity int) (services.Cart, error)
	removeFromCart func(ctx context.Context, productID string) (services.Cart, error)
	clearCart      func(ctx context.Context) error
	lines          func(ctx context.Context) ([]services.CartLine, error)
	details        func(ctx context.Context) ([]services.CartDetail, error)
	totalItems     func(ctx context.Context) (int, error)
	estimateTotal  func(ctx context.Context) (int64, error)
}

func (s *stubCartService) AddToCart(ctx context.Context, productID string, quantity int) (services.Cart, error) {
	if s.addToCart == nil {
		return services.Cart{}, nil
	}
	return s.addToCart(ctx, productID, quantity)
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, productID string, quantity int) (services.Cart, error) {
	if s.updateQuantity == nil {
		return services.Cart{}, nil
	}
	return s.updateQuantity(ctx, productID, quantity)
}

func (s *stubCartService) RemoveFromCart(ctx context.Context, productID string) (services.Cart, error) {
	if s.removeFromCart == nil {
		return services.Cart{}, nil
	}
	return s.removeFromCart(ctx, productID)
}

func (s *stubCartService) ClearCart(ctx context.Context) error {
	if s.clearCart == nil {
		return nil
	}
	return s.clearCart(ctx)
}

func (s *stubCartService) Lines(ctx context.Context) ([]services.CartLine, error) {
	if s.lines == nil {
		return nil, nil
	}
	return s.lines(ctx)
}

func (s *stubCartService) Details(ctx context.Context) ([]services.CartDetail, error) {
	if s.details == nil {
		return nil, nil
	}
	return s.details(ctx)
}

func (s *stubCartService) TotalItems(ctx context.Context) (int, error) {
	if s.totalItems == nil {
		return 0, nil
	}
	return s.totalItems(ctx)
}

func (s *stubCartService) EstimateTotal(ctx context.Context) (int64, error) {
	if s.estimateTotal == nil {
		return 0, nil
	}
	return s.estimateTotal(ctx)
}

func newCartRouter(carts services.CartService) chi.Router {
	return NewRouter(WithCartRoutes(NewCartHandlers(carts).Routes))
}

func sampleDetails() []services.CartDetail {
	return []services.CartDetail{
		{
			Line:     services.CartLine{ProductID: "p1", Quantity: 2, AddedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
			Product:  &services.ProductSnapshot{ID: "p1", Name: "Ceramic Mug", Price: 2500, AvailableStock: 10},
			Subtotal: 5000,
		},
		{
			Line: services.CartLine{ProductID: "gone", Quantity: 1},
			// Snapshot unresolved; no product, no subtotal.
		},
	}
}

func TestCartHandlers_GetCart(t *testing.T) {
	carts := &stubCartService{
		details:       func(context.Context) ([]services.CartDetail, error) { return sampleDetails(), nil },
		totalItems:    func(context.Context) (int, error) { return 2, nil },
		estimateTotal: func(context.Context) (int64, error) { return 5000, nil },
	}
	router := newCartRouter(carts)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body cartViewResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.ItemsCount != 2 || body.EstimateTotal != 5000 {
		t.Fatalf("body = %+v", body)
	}
	if len(body.Items) != 2 {
		t.Fatalf("items = %d, want 2 (unresolved line still listed)", len(body.Items))
	}
	if body.Items[1].Product != nil || body.Items[1].Subtotal != 0 {
		t.Fatalf("unresolved line = %+v, want no product and zero subtotal", body.Items[1])
	}
}

func TestCartHandlers_AddItem(t *testing.T) {
	var gotProduct string
	var gotQuantity int
	carts := &stubCartService{
		addToCart: func(_ context.Context, productID string, quantity int) (services.Cart, error) {
			gotProduct = productID
			gotQuantity = quantity
			return services.Cart{}, nil
		},
		details: func(context.Context) ([]services.CartDetail, error) { return sampleDetails(), nil },
	}
	router := newCartRouter(carts)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"product_id":"p1","quantity":3}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotProduct != "p1" || gotQuantity != 3 {
		t.Fatalf("service received (%q, %d), want (p1, 3)", gotProduct, gotQuantity)
	}
}

func TestCartHandlers_AddItemDefaultsQuantity(t *testing.T) {
	var gotQuantity int
	carts := &stubCartService{
		addToCart: func(_ context.Context, _ string, quantity int) (services.Cart, error) {
			gotQuantity = quantity
			return services.Cart{}, nil
		},
	}
	router := newCartRouter(carts)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"product_id":"p1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if gotQuantity != 1 {
		t.Fatalf("quantity = %d, want 1 when omitted", gotQuantity)
	}
}

func TestCartHandlers_AddItemRejectsBadBody(t *testing.T) {
	called := false
	carts := &stubCartService{
		addToCart: func(context.Context, string, int) (services.Cart, error) {
			called = true
			return services.Cart{}, nil
		},
	}
	router := newCartRouter(carts)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(`{"product_id":`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if called {
		t.Fatal("malformed bodies must not reach the service")
	}
}

func TestCartHandlers_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid input", services.ErrCartInvalidInput, http.StatusBadRequest, "invalid_request"},
		{"line not found", services.ErrCartLineNotFound, http.StatusNotFound, "cart_line_not_found"},
		{"unavailable", services.ErrCartUnavailable, http.StatusServiceUnavailable, "cart_service_unavailable"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			carts := &stubCartService{
				updateQuantity: func(context.Context, string, int) (services.Cart, error) {
					return services.Cart{}, tc.err
				},
			}
			router := newCartRouter(carts)

			req := httptest.NewRequest(http.MethodPatch, "/api/v1/cart/items/p1", strings.NewReader(`{"quantity":5}`))
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

func TestCartHandlers_ClearCart(t *testing.T) {
	cleared := false
	carts := &stubCartService{
		clearCart: func(context.Context) error {
			cleared = true
			return nil
		},
	}
	router := newCartRouter(carts)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cart/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !cleared {
		t.Fatal("expected ClearCart to be called")
	}
}
