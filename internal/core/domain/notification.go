package domain

import "time"

const (
	NotificationOrderPlaced       = "order_placed"
	NotificationOrderCancelled    = "order_cancelled"
	NotificationPaymentSuccess    = "payment_success"
	NotificationDeliveryCompleted = "delivery_completed"
)

// Notification is append-only; `Read` is the only field that ever changes,
// and it only flips false -> true.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}
