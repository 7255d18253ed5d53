package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/shopflow/internal/core/domain"
	"github.com/rl1809/shopflow/internal/metrics"
	"github.com/rl1809/shopflow/internal/port"
)

var (
	ErrDuplicateRequest = fmt.Errorf("duplicate request: %w", domain.ErrConflict)
	ErrEmptyCart        = fmt.Errorf("cart is empty: %w", domain.ErrValidation)
	ErrOrderNotFound    = fmt.Errorf("order %w", domain.ErrNotFound)
)

// PlaceOrderRequest is the orchestrator's checkout input. RequestID is the
// client's idempotency token; repeats of the same id place one order.
type PlaceOrderRequest struct {
	RequestID       string
	UserID          string
	ShippingAddress string
	PaymentMethod   string
}

// OrderService coordinates cart, delivery pool, order store and notification
// sink to run the place-order saga. Placed orders are additionally queued
// for the durable archive workers.
type OrderService struct {
	carts        port.CartRepository
	orders       port.OrderRepository
	payments     port.PaymentRepository
	pool         port.DeliveryPool
	idem         port.IdempotencyStore
	notifier     *NotificationService
	locks        *userLocks
	cfg          Config
	archiveQueue chan domain.Order
}

func NewOrderService(
	carts *CartService,
	orders port.OrderRepository,
	payments port.PaymentRepository,
	pool port.DeliveryPool,
	idem port.IdempotencyStore,
	notifier *NotificationService,
	cfg Config,
	queueSize int,
) *OrderService {
	return &OrderService{
		carts:        carts.carts,
		orders:       orders,
		payments:     payments,
		pool:         pool,
		idem:         idem,
		notifier:     notifier,
		locks:        carts.locks,
		cfg:          cfg,
		archiveQueue: make(chan domain.Order, queueSize),
	}
}

// PlaceOrder converts the user's cart into an order: snapshot the cart,
// reserve a delivery agent, persist, clear the cart, notify. The whole
// sequence runs under the user's lock, and the cart's non-emptiness is
// re-checked under that lock so a double submission cannot produce two
// orders from one cart state. A reserved agent is released if any later
// step fails.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user id is required: %w", domain.ErrValidation)
	}
	if req.ShippingAddress == "" {
		return nil, fmt.Errorf("shipping address is required: %w", domain.ErrValidation)
	}

	var idempotencyKey string
	if req.RequestID != "" {
		idempotencyKey = fmt.Sprintf("checkout:%s:%s", req.UserID, req.RequestID)
		ok, err := s.idem.SetIdempotency(ctx, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, ErrDuplicateRequest
		}
	}

	mu := s.locks.get(req.UserID)
	mu.Lock()
	defer mu.Unlock()

	cart, err := s.carts.Get(ctx, req.UserID)
	if err != nil {
		s.freeIdempotency(ctx, idempotencyKey)
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart == nil || cart.IsEmpty() {
		s.freeIdempotency(ctx, idempotencyKey)
		return nil, ErrEmptyCart
	}

	order, err := s.placeLocked(ctx, req, cart)
	if err != nil && errors.Is(err, domain.ErrConflict) {
		// lost a race with another writer; retry once, then surface
		order, err = s.placeLocked(ctx, req, cart)
	}
	if err != nil {
		// no order exists, so the request id may be spent again
		s.freeIdempotency(ctx, idempotencyKey)
		metrics.OrdersTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues("placed").Inc()
	return order, nil
}

func (s *OrderService) placeLocked(ctx context.Context, req PlaceOrderRequest, cart *domain.Cart) (*domain.Order, error) {
	agent, err := s.pool.ReserveAny(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve agent: %w", err)
	}

	now := time.Now()
	order := domain.Order{
		ID:                uuid.New().String(),
		UserID:            req.UserID,
		Items:             cart.Snapshot(),
		Total:             cart.Total,
		ShippingAddress:   req.ShippingAddress,
		PaymentMethod:     req.PaymentMethod,
		Status:            domain.OrderStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		EstimatedDelivery: now.Add(s.cfg.DeliveryLeadTime),
	}

	if agent != nil {
		order.AssignedAgentID = agent.ID
		metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
	} else {
		metrics.ReservationsTotal.WithLabelValues("unassigned").Inc()
	}

	if err := s.orders.Create(ctx, order); err != nil {
		s.releaseAgent(ctx, order.AssignedAgentID, order.ID)
		return nil, fmt.Errorf("persist order: %w", err)
	}

	if err := s.carts.Delete(ctx, req.UserID); err != nil {
		// the order is already durable; a stale cart is recoverable
		log.WithFields(log.Fields{
			"order_id": order.ID,
			"user_id":  req.UserID,
		}).Error("failed to clear cart after checkout: ", err)
	}

	message := fmt.Sprintf("Your order %s has been placed. Estimated delivery %s.",
		order.ID, order.EstimatedDelivery.Format(time.RFC1123))
	if agent != nil {
		message = fmt.Sprintf("Your order %s has been placed. %s will deliver it.", order.ID, agent.Name)
	}
	s.notify(ctx, req.UserID, domain.NotificationOrderPlaced, "Order placed", message)

	log.WithFields(log.Fields{
		"order_id": order.ID,
		"user_id":  req.UserID,
		"agent_id": order.AssignedAgentID,
		"total":    order.Total,
	}).Info("order placed")

	s.archiveQueue <- order

	return &order, nil
}

// GetOrder returns the order or ErrOrderNotFound.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// MarkDelivered completes the order: status moves to delivered, the assigned
// agent goes back into the pool with its delivery count bumped, and the user
// is notified. Repeated calls are a no-op after the first; a cancelled order
// cannot be revived.
func (s *OrderService) MarkDelivered(ctx context.Context, orderID string) (*domain.Order, error) {
	var order *domain.Order
	for attempt := 0; ; attempt++ {
		var err error
		order, err = s.orders.Get(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("load order: %w", err)
		}
		if order == nil {
			return nil, ErrOrderNotFound
		}
		if order.Status == domain.OrderStatusDelivered {
			return order, nil
		}
		if order.Status == domain.OrderStatusFailed {
			return nil, fmt.Errorf("order %s was cancelled: %w", orderID, domain.ErrConflict)
		}

		flipped, err := s.orders.UpdateStatusIf(ctx, orderID, order.Status, domain.OrderStatusDelivered)
		if err != nil {
			return nil, fmt.Errorf("update order status: %w", err)
		}
		if flipped {
			break
		}
		// a concurrent writer moved the order; re-read and settle
		if attempt == 1 {
			return nil, fmt.Errorf("order %s changed during delivery: %w", orderID, domain.ErrConflict)
		}
	}
	order.Status = domain.OrderStatusDelivered

	if order.AssignedAgentID != "" {
		if err := s.pool.Complete(ctx, order.AssignedAgentID); err != nil {
			log.WithFields(log.Fields{
				"order_id": orderID,
				"agent_id": order.AssignedAgentID,
			}).Error("failed to release agent after delivery: ", err)
		} else {
			metrics.ReservationsTotal.WithLabelValues("released").Inc()
		}
	}

	s.notify(ctx, order.UserID, domain.NotificationDeliveryCompleted,
		"Order delivered", fmt.Sprintf("Your order %s has been delivered.", orderID))
	metrics.OrdersTotal.WithLabelValues("delivered").Inc()

	return order, nil
}

// CancelUnpaid reclaims pending orders older than olderThan whose payment
// never reached paid: the order fails, its agent is released, and the user
// is notified. Returns how many orders were cancelled.
func (s *OrderService) CancelUnpaid(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	pending, err := s.orders.ListPendingBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list pending orders: %w", err)
	}

	cancelled := 0
	for _, order := range pending {
		rec, err := s.payments.GetByOrderID(ctx, order.ID)
		if err != nil {
			log.WithField("order_id", order.ID).Error("payment lookup failed during sweep: ", err)
			continue
		}
		if rec != nil && rec.Status == domain.PaymentStatusPaid {
			continue
		}

		flipped, err := s.orders.UpdateStatusIf(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusFailed)
		if err != nil {
			log.WithField("order_id", order.ID).Error("cancel failed during sweep: ", err)
			continue
		}
		if !flipped {
			// paid or delivered since the listing; leave it alone
			continue
		}

		if order.AssignedAgentID != "" {
			s.releaseAgent(ctx, order.AssignedAgentID, order.ID)
		}

		s.notify(ctx, order.UserID, domain.NotificationOrderCancelled,
			"Order cancelled", fmt.Sprintf("Your order %s was cancelled because payment was not completed.", order.ID))
		metrics.OrdersTotal.WithLabelValues("cancelled").Inc()

		log.WithFields(log.Fields{
			"order_id": order.ID,
			"user_id":  order.UserID,
		}).Info("cancelled unpaid order")
		cancelled++
	}

	return cancelled, nil
}

// GetArchiveQueue exposes placed orders to the durable archive workers.
func (s *OrderService) GetArchiveQueue() <-chan domain.Order {
	return s.archiveQueue
}

func (s *OrderService) Close() {
	close(s.archiveQueue)
}

// releaseAgent is the compensating action for a reservation. It runs on a
// context detached from the caller's so a client cancel cannot strand the
// agent, and its own failures are logged rather than returned to avoid
// masking the original error.
func (s *OrderService) releaseAgent(ctx context.Context, agentID, orderID string) {
	if agentID == "" {
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ReleaseTimeout)
	defer cancel()

	if err := s.pool.Release(rctx, agentID); err != nil {
		log.WithFields(log.Fields{
			"order_id": orderID,
			"agent_id": agentID,
		}).Error("CRITICAL: agent release failed during rollback: ", err)
		return
	}

	metrics.ReservationsTotal.WithLabelValues("released").Inc()
	log.WithFields(log.Fields{
		"order_id": orderID,
		"agent_id": agentID,
	}).Warn("released agent after failed placement")
}

// freeIdempotency returns a consumed request id after a placement that
// produced no order, so the client's retry is not rejected as a duplicate.
func (s *OrderService) freeIdempotency(ctx context.Context, key string) {
	if key == "" {
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ReleaseTimeout)
	defer cancel()

	if err := s.idem.DeleteIdempotency(rctx, key); err != nil {
		log.WithField("key", key).Error("failed to free idempotency key: ", err)
	}
}

func (s *OrderService) notify(ctx context.Context, userID, typ, title, message string) {
	if _, err := s.notifier.Append(ctx, userID, typ, title, message); err != nil {
		log.WithFields(log.Fields{
			"user_id": userID,
			"type":    typ,
		}).Error("notification append failed: ", err)
	}
}
