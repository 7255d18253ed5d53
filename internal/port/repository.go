package port

import (
	"context"
	"time"

	"github.com/rl1809/shopflow/internal/core/domain"
)

type CartRepository interface {
	// Get returns the user's cart, or nil if they have none.
	Get(ctx context.Context, userID string) (*domain.Cart, error)

	// Save persists the cart, creating or replacing it.
	Save(ctx context.Context, cart *domain.Cart) error

	// Delete removes the cart entirely. Deleting a missing cart is a no-op.
	Delete(ctx context.Context, userID string) error
}

type OrderRepository interface {
	// Create persists a new order. A duplicate id is a conflict.
	Create(ctx context.Context, order domain.Order) error

	// Get returns the order, or nil if it does not exist.
	Get(ctx context.Context, orderID string) (*domain.Order, error)

	// UpdateStatusIf moves the order from one status to another in a single
	// atomic step. Returns false without writing when the order is no longer
	// in the from status, so a transition lost to a concurrent writer cannot
	// overwrite the winner's. Missing orders error with domain.ErrNotFound.
	UpdateStatusIf(ctx context.Context, orderID string, from, to domain.OrderStatus) (bool, error)

	// ListPendingBefore returns pending orders created before the cutoff.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]domain.Order, error)
}

type PaymentRepository interface {
	// Create persists a new payment record keyed by gateway order id.
	Create(ctx context.Context, rec domain.PaymentRecord) error

	// GetByGatewayOrderID returns the record, or nil if absent.
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.PaymentRecord, error)

	// GetByOrderID returns the most recent record for the order, or nil.
	GetByOrderID(ctx context.Context, orderID string) (*domain.PaymentRecord, error)

	// Finalize atomically moves a non-terminal record to the given terminal
	// status, recording the gateway payment id. Returns false if the record
	// already reached a terminal status.
	Finalize(ctx context.Context, gatewayOrderID, gatewayPaymentID string, status domain.PaymentStatus) (bool, error)
}

type NotificationRepository interface {
	Append(ctx context.Context, n domain.Notification) error

	// MarkRead flips read to true, returning false if no notification with
	// that id belongs to the user.
	MarkRead(ctx context.Context, userID, notificationID string) (bool, error)

	ListByUser(ctx context.Context, userID string) ([]domain.Notification, error)
}
