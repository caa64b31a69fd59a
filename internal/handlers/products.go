package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zarumart/api/internal/domain"
	"github.com/zarumart/api/internal/platform/httpx"
	"github.com/zarumart/api/internal/upstream"
)

// Catalog is the subset of the platform client the product endpoints use.
type Catalog interface {
	ListProducts(ctx context.Context) ([]domain.ProductSnapshot, error)
	GetProduct(ctx context.Context, productID string) (domain.ProductSnapshot, error)
}

// ProductHandlers proxies catalog reads for the storefront.
type ProductHandlers struct {
	catalog Catalog
}

// NewProductHandlers constructs handlers over the catalog client.
func NewProductHandlers(catalog Catalog) *ProductHandlers {
	return &ProductHandlers{catalog: catalog}
}

// Routes wires the /products endpoints onto the provided router.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}

	products, err := h.catalog.ListProducts(ctx)
	if err != nil {
		writeUpstreamError(ctx, w, err, "catalog_error", "failed to list products")
		return
	}

	payload := make([]productPayload, 0, len(products))
	for _, p := range products {
		payload = append(payload, buildProductPayload(p))
	}
	httpx.WriteJSON(w, http.StatusOK, productListResponse{Products: payload})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}

	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeUpstreamError(ctx, w, err, "catalog_error", "failed to fetch product")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

// writeUpstreamError translates client taxonomy errors into the JSON
// envelope. Backend ApiErrors keep their status and message verbatim.
func writeUpstreamError(ctx context.Context, w http.ResponseWriter, err error, fallbackCode, fallbackMessage string) {
	var apiErr *upstream.APIError
	var netErr *upstream.NetworkError
	switch {
	case errors.Is(err, upstream.ErrSessionExpired):
		httpx.WriteError(ctx, w, httpx.NewError("session_expired", "session expired; sign in again", http.StatusUnauthorized))
	case errors.As(err, &apiErr):
		code := apiErr.Code
		if code == "" {
			code = fallbackCode
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, apiErr.Message, apiErr.Status))
	case errors.As(err, &netErr):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_unreachable", "commerce platform is unreachable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError(fallbackCode, fallbackMessage, http.StatusInternalServerError))
	}
}

type productListResponse struct {
	Products []productPayload `json:"products"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Price          int64  `json:"price"`
	AvailableStock int    `json:"available_stock"`
}

func buildProductPayload(p domain.ProductSnapshot) productPayload {
	return productPayload{
		ID:             p.ID,
		Name:           p.Name,
		Price:          p.Price,
		AvailableStock: p.AvailableStock,
	}
}
