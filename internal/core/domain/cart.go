package domain

// CartItem is a single line in a user's cart. The same shape is snapshotted
// into an Order at checkout.
type CartItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image"`
}

func (i CartItem) Subtotal() float64 {
	return i.UnitPrice * float64(i.Quantity)
}

type Cart struct {
	UserID string     `json:"user_id"`
	Items  []CartItem `json:"items"`
	Total  float64    `json:"total"`
}

// EmptyCart returns the synthetic cart handed to callers when the user has
// none. Never nil, items never nil.
func EmptyCart(userID string) *Cart {
	return &Cart{UserID: userID, Items: []CartItem{}}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Upsert appends the item or, if the product is already a line, increments
// its quantity. Insertion order is preserved.
func (c *Cart) Upsert(item CartItem) {
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			c.Items[i].Quantity += item.Quantity
			c.recompute()
			return
		}
	}
	c.Items = append(c.Items, item)
	c.recompute()
}

// Remove filters the product out. Removing an absent product is a no-op.
func (c *Cart) Remove(productID string) {
	kept := c.Items[:0]
	for _, it := range c.Items {
		if it.ProductID != productID {
			kept = append(kept, it)
		}
	}
	c.Items = kept
	c.recompute()
}

// Snapshot returns a deep copy of the line items. Orders hold snapshots, so
// later cart mutations cannot reach into a placed order.
func (c *Cart) Snapshot() []CartItem {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	return items
}

func (c *Cart) recompute() {
	total := 0.0
	for _, it := range c.Items {
		total += it.Subtotal()
	}
	c.Total = total
}
