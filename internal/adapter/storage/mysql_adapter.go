package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rl1809/shopflow/internal/core/domain"
)

// MySQLAdapter is the durable order archive. Placed orders are mirrored here
// by the background workers; the order row and its line items land in one
// transaction so the archive never holds a partial order.
type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) ArchiveOrder(ctx context.Context, order domain.Order) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	agentID := sql.NullString{String: order.AssignedAgentID, Valid: order.AssignedAgentID != ""}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, total, shipping_address, payment_method,
			status, assigned_agent_id, created_at, estimated_delivery, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.UserID, order.Total, order.ShippingAddress, order.PaymentMethod,
		order.Status, agentID, order.CreatedAt, order.EstimatedDelivery, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, unit_price, quantity, image)
			VALUES (?, ?, ?, ?, ?, ?)`,
			order.ID, item.ProductID, item.Name, item.UnitPrice, item.Quantity, item.Image,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetArchivedOrder reads an order and its line items back out of the
// archive. Returns nil when the order was never archived.
func (m *MySQLAdapter) GetArchivedOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	var agentID sql.NullString

	err := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, total, shipping_address, payment_method,
			status, assigned_agent_id, created_at, estimated_delivery, updated_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&order.ID, &order.UserID, &order.Total, &order.ShippingAddress, &order.PaymentMethod,
		&order.Status, &agentID, &order.CreatedAt, &order.EstimatedDelivery, &order.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	order.AssignedAgentID = agentID.String

	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, name, unit_price, quantity, image
		FROM order_items WHERE order_id = ?`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.UnitPrice, &item.Quantity, &item.Image); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return &order, nil
}
