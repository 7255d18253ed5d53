package service

import (
	"context"
	"fmt"

	"github.com/rl1809/shopflow/internal/core/domain"
	"github.com/rl1809/shopflow/internal/port"
)

var (
	ErrProductNotFound = fmt.Errorf("product %w", domain.ErrNotFound)
	ErrCartNotFound    = fmt.Errorf("cart %w", domain.ErrNotFound)
)

type CartService struct {
	carts   port.CartRepository
	catalog port.Catalog
	locks   *userLocks
}

func NewCartService(carts port.CartRepository, catalog port.Catalog) *CartService {
	return &CartService{
		carts:   carts,
		catalog: catalog,
		locks:   newUserLocks(),
	}
}

// AddItem looks the product up in the catalog, creates the user's cart on
// first add, and merges the quantity into an existing line for the same
// product. Returns the updated cart.
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) (*domain.Cart, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1: %w", domain.ErrValidation)
	}

	product, err := s.catalog.Lookup(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	mu := s.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart == nil {
		cart = domain.EmptyCart(userID)
	}

	cart.Upsert(domain.CartItem{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: product.Price,
		Quantity:  quantity,
		Image:     product.Image,
	})

	if err := s.carts.Save(ctx, cart); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return cart, nil
}

// RemoveItem drops the product's line from the cart. Removing a product
// that is not in the cart is a no-op, not an error.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	mu := s.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart == nil {
		return nil, ErrCartNotFound
	}

	cart.Remove(productID)

	if err := s.carts.Save(ctx, cart); err != nil {
		return nil, fmt.Errorf("save cart: %w", err)
	}
	return cart, nil
}

// GetCart never returns nil: users without a cart get a synthetic empty one.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart == nil {
		return domain.EmptyCart(userID), nil
	}
	return cart, nil
}

// Clear removes the cart entirely.
func (s *CartService) Clear(ctx context.Context, userID string) error {
	mu := s.locks.get(userID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.carts.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
