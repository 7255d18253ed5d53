package catalog

import (
	"context"

	"github.com/rl1809/shopflow/internal/core/domain"
)

// StaticCatalog serves a fixed product list from memory. It is the default
// catalog for the demo storefront and for tests.
type StaticCatalog struct {
	products map[string]domain.Product
}

func NewStaticCatalog(products []domain.Product) *StaticCatalog {
	m := make(map[string]domain.Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return &StaticCatalog{products: m}
}

func (c *StaticCatalog) Lookup(ctx context.Context, productID string) (*domain.Product, error) {
	p, ok := c.products[productID]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

// DefaultProducts is the demo seed catalog.
func DefaultProducts() []domain.Product {
	return []domain.Product{
		{ID: "p-1001", Name: "Wireless Headphones", Price: 59.99, Stock: 120, Image: "/img/headphones.jpg"},
		{ID: "p-1002", Name: "Mechanical Keyboard", Price: 89.50, Stock: 45, Image: "/img/keyboard.jpg"},
		{ID: "p-1003", Name: "USB-C Charger", Price: 19.99, Stock: 300, Image: "/img/charger.jpg"},
		{ID: "p-1004", Name: "Laptop Stand", Price: 34.00, Stock: 80, Image: "/img/stand.jpg"},
		{ID: "p-1005", Name: "Webcam 1080p", Price: 49.99, Stock: 60, Image: "/img/webcam.jpg"},
	}
}
