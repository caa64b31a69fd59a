package upstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/zarumart/api/internal/domain"
)

type productPayload struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Price          int64  `json:"price"`
	AvailableStock int    `json:"available_stock"`
}

func (p productPayload) toSnapshot() domain.ProductSnapshot {
	return domain.ProductSnapshot{
		ID:             p.ID,
		Name:           p.Name,
		Price:          p.Price,
		AvailableStock: p.AvailableStock,
	}
}

// ListProducts fetches the full catalog listing.
func (c *Client) ListProducts(ctx context.Context) ([]domain.ProductSnapshot, error) {
	var payload struct {
		Products []productPayload `json:"products"`
	}
	if err := c.get(ctx, "/products", &payload); err != nil {
		return nil, err
	}
	out := make([]domain.ProductSnapshot, 0, len(payload.Products))
	for _, p := range payload.Products {
		out = append(out, p.toSnapshot())
	}
	return out, nil
}

// GetProduct fetches a single product snapshot by ID.
func (c *Client) GetProduct(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ProductSnapshot{}, fmt.Errorf("upstream: product id is required")
	}
	var payload productPayload
	if err := c.get(ctx, "/products/"+url.PathEscape(productID), &payload); err != nil {
		return domain.ProductSnapshot{}, err
	}
	return payload.toSnapshot(), nil
}
