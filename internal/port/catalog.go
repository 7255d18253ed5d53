package port

import (
	"context"

	"github.com/rl1809/shopflow/internal/core/domain"
)

// Catalog is the read-only product lookup collaborator.
type Catalog interface {
	// Lookup returns the product, or nil if no such product exists.
	Lookup(ctx context.Context, productID string) (*domain.Product, error)
}
