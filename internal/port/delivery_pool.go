package port

import (
	"context"

	"github.com/rl1809/shopflow/internal/core/domain"
)

// DeliveryPool hands out exclusive reservations of delivery agents. The
// read-then-flip of availability is a single critical section in every
// implementation: two concurrent ReserveAny calls never return the same
// agent.
type DeliveryPool interface {
	// ReserveAny reserves the first available agent in ascending id order
	// and returns it. Returns nil when no agent is available; that is not
	// an error.
	ReserveAny(ctx context.Context) (*domain.DeliveryAgent, error)

	// Release makes the agent available again. Unknown ids are a no-op.
	Release(ctx context.Context, agentID string) error

	// Complete releases the agent and increments its delivery count.
	Complete(ctx context.Context, agentID string) error

	// Add registers an agent with the pool.
	Add(ctx context.Context, agent domain.DeliveryAgent) error

	// List returns all agents in ascending id order.
	List(ctx context.Context) ([]domain.DeliveryAgent, error)
}
