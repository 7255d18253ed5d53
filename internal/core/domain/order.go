package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusDelivered OrderStatus = "delivered"
)

type Order struct {
	ID                string      `json:"id"`
	UserID            string      `json:"user_id"`
	Items             []CartItem  `json:"items"`
	Total             float64     `json:"total"`
	ShippingAddress   string      `json:"shipping_address"`
	PaymentMethod     string      `json:"payment_method"`
	Status            OrderStatus `json:"status"`
	AssignedAgentID   string      `json:"assigned_agent_id,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	EstimatedDelivery time.Time   `json:"estimated_delivery"`
	UpdatedAt         time.Time   `json:"updated_at"`
}
