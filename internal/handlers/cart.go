package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zarumart/api/internal/platform/httpx"
	"github.com/zarumart/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the session cart endpoints.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs handlers over the cart service.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	details, err := h.carts.Details(ctx)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	items, err := h.carts.TotalItems(ctx)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	estimate, err := h.carts.EstimateTotal(ctx)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, buildCartView(details, items, estimate))
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if err := h.carts.ClearCart(ctx); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req addItemRequest
	if err := httpx.ReadJSON(w, r, &req, maxCartBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	cart, err := h.carts.AddToCart(ctx, req.ProductID, quantity)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(ctx, w, http.StatusOK, cart)
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req updateItemRequest
	if err := httpx.ReadJSON(w, r, &req, maxCartBodySize); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cart, err := h.carts.UpdateQuantity(ctx, chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(ctx, w, http.StatusOK, cart)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cart, err := h.carts.RemoveFromCart(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(ctx, w, http.StatusOK, cart)
}

func (h *CartHandlers) writeCart(ctx context.Context, w http.ResponseWriter, status int, cart services.Cart) {
	details, err := h.carts.Details(ctx)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	items := 0
	var estimate int64
	for _, d := range details {
		if d.Product == nil {
			continue
		}
		items += d.Line.Quantity
		estimate += d.Subtotal
	}
	httpx.WriteJSON(w, status, buildCartView(details, items, estimate))
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartLineNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		writeUpstreamError(ctx, w, err, "cart_error", "cart operation failed")
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be a valid JSON object", http.StatusBadRequest))
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

type cartViewResponse struct {
	Items         []cartItemPayload `json:"items"`
	ItemsCount    int               `json:"items_count"`
	EstimateTotal int64             `json:"estimate_total"`
}

type cartItemPayload struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Product   *productPayload `json:"product,omitempty"`
	Subtotal  int64           `json:"subtotal"`
}

func buildCartView(details []services.CartDetail, items int, estimate int64) cartViewResponse {
	payload := make([]cartItemPayload, 0, len(details))
	for _, d := range details {
		entry := cartItemPayload{
			ProductID: d.Line.ProductID,
			Quantity:  d.Line.Quantity,
			Subtotal:  d.Subtotal,
		}
		if d.Product != nil {
			p := buildProductPayload(*d.Product)
			entry.Product = &p
		}
		payload = append(payload, entry)
	}
	return cartViewResponse{
		Items:         payload,
		ItemsCount:    items,
		EstimateTotal: estimate,
	}
}
