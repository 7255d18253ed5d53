package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/shopflow/internal/adapter/storage"
	"github.com/rl1809/shopflow/internal/core/domain"
	"github.com/rl1809/shopflow/internal/port"
)

type testStack struct {
	carts         *CartService
	orders        *OrderService
	pool          *storage.MemoryPool
	orderRepo     port.OrderRepository
	paymentRepo   *storage.MemoryPaymentRepository
	notifications *storage.MemoryNotificationRepository
}

func newTestStack(t *testing.T, agentCount int, orderRepo port.OrderRepository) *testStack {
	t.Helper()
	ctx := context.Background()

	pool := storage.NewMemoryPool()
	for i := 1; i <= agentCount; i++ {
		agent := domain.DeliveryAgent{
			ID:          fmt.Sprintf("agent-%03d", i),
			Name:        fmt.Sprintf("Agent %d", i),
			IsAvailable: true,
		}
		if err := pool.Add(ctx, agent); err != nil {
			t.Fatalf("seed agent: %v", err)
		}
	}

	if orderRepo == nil {
		orderRepo = storage.NewMemoryOrderRepository()
	}
	paymentRepo := storage.NewMemoryPaymentRepository()
	notifications := storage.NewMemoryNotificationRepository()
	notifier := NewNotificationService(notifications)
	carts := NewCartService(storage.NewMemoryCartRepository(), newMockCatalog())
	orders := NewOrderService(carts, orderRepo, paymentRepo, pool,
		storage.NewMemoryIdempotencyStore(), notifier, DefaultConfig(), 1000)
	t.Cleanup(orders.Close)

	return &testStack{
		carts:         carts,
		orders:        orders,
		pool:          pool,
		orderRepo:     orderRepo,
		paymentRepo:   paymentRepo,
		notifications: notifications,
	}
}

func availableAgents(t *testing.T, pool *storage.MemoryPool) int {
	t.Helper()
	agents, err := pool.List(context.Background())
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	n := 0
	for _, a := range agents {
		if a.IsAvailable {
			n++
		}
	}
	return n
}

func TestPlaceOrder_Success(t *testing.T) {
	stack := newTestStack(t, 1, nil)
	ctx := context.Background()

	if _, err := stack.carts.AddItem(ctx, "user-1", "p1", 2); err != nil {
		t.Fatalf("fill cart: %v", err)
	}

	order, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Demo Street",
		PaymentMethod:   "card",
	})
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}

	if order.Total != 20.00 {
		t.Errorf("expected total 20.00, got %v", order.Total)
	}
	if order.Status != domain.OrderStatusPending {
		t.Errorf("expected pending status, got %s", order.Status)
	}
	if order.AssignedAgentID != "agent-001" {
		t.Errorf("expected agent-001 assigned, got %q", order.AssignedAgentID)
	}
	if !order.EstimatedDelivery.After(order.CreatedAt) {
		t.Error("estimated delivery should be after creation")
	}

	// cart is gone after checkout
	cart, _ := stack.carts.GetCart(ctx, "user-1")
	if !cart.IsEmpty() {
		t.Errorf("expected empty cart after checkout, got %+v", cart.Items)
	}

	// order_placed notification emitted
	list, _ := stack.notifications.ListByUser(ctx, "user-1")
	if len(list) != 1 || list[0].Type != domain.NotificationOrderPlaced {
		t.Errorf("expected one order_placed notification, got %+v", list)
	}

	// the placed order was queued for archiving
	queued := <-stack.orders.GetArchiveQueue()
	if queued.ID != order.ID {
		t.Errorf("expected order %s on archive queue, got %s", order.ID, queued.ID)
	}
}

func TestPlaceOrder_SnapshotImmuneToCartMutation(t *testing.T) {
	stack := newTestStack(t, 1, nil)
	ctx := context.Background()

	stack.carts.AddItem(ctx, "user-1", "p1", 2)
	order, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Demo Street",
	})
	if err != nil {
		t.Fatalf("place order failed: %v", err)
	}

	// refill and mutate the cart; the placed order must not change
	stack.carts.AddItem(ctx, "user-1", "p2", 5)

	stored, err := stack.orders.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if len(stored.Items) != 1 || stored.Items[0].ProductID != "p1" || stored.Items[0].Quantity != 2 {
		t.Errorf("order snapshot changed after cart mutation: %+v", stored.Items)
	}
	if stored.Total != 20.00 {
		t.Errorf("order total changed after cart mutation: %v", stored.Total)
	}
}

func TestPlaceOrder_EmptyCart(t *testing.T) {
	stack := newTestStack(t, 1, nil)

	_, err := stack.orders.PlaceOrder(context.Background(), PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Demo Street",
	})
	if !errors.Is(err, ErrEmptyCart) {
		t.Errorf("expected ErrEmptyCart, got: %v", err)
	}
	if availableAgents(t, stack.pool) != 1 {
		t.Error("empty-cart checkout must not touch the pool")
	}
}

func TestPlaceOrder_NoAgentsAvailable(t *testing.T) {
	stack := newTestStack(t, 0, nil)
	ctx := context.Background()

	stack.carts.AddItem(ctx, "user-1", "p1", 1)
	order, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
		UserID:          "user-1",
		ShippingAddress: "1 Demo Street",
	})
	if err != nil {
		t.Fatalf("order should succeed without agents, got: %v", err)
	}
	if order.AssignedAgentID != "" {
		t.Errorf("expected no agent, got %q", order.AssignedAgentID)
	}
}

func TestPlaceOrder_DuplicateRequestID(t *testing.T) {
	stack := newTestStack(t, 1, nil)
	ctx := context.Background()

	stack.carts.AddItem(ctx, "user-1", "p1", 1)
	req := PlaceOrderRequest{
		RequestID:       "req-1",
		UserID:          "user-1",
		ShippingAddress: "1 Demo Street",
	}

	if _, err := stack.orders.PlaceOrder(ctx, req); err != nil {
		t.Fatalf("first placement failed: %v", err)
	}

	_, err := stack.orders.PlaceOrder(ctx, req)
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got: %v", err)
	}
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate must classify as conflict, got: %v", err)
	}
}

func TestPlaceOrder_DoubleSubmission(t *testing.T) {
	stack := newTestStack(t, 2, nil)
	ctx := context.Background()

	stack.carts.AddItem(ctx, "user-1", "p1", 1)

	if _, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
		RequestID: "req-a", UserID: "user-1", ShippingAddress: "1 Demo Street",
	}); err != nil {
		t.Fatalf("first placement failed: %v", err)
	}

	// second submission with a fresh request id hits the cleared cart
	_, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
		RequestID: "req-b", UserID: "user-1", ShippingAddress: "1 Demo Street",
	})
	if !errors.Is(err, ErrEmptyCart) {
		t.Errorf("expected ErrEmptyCart on double submission, got: %v", err)
	}
	if availableAgents(t, stack.pool) != 1 {
		t.Errorf("expected exactly one agent reserved, %d available", availableAgents(t, stack.pool))
	}
}

// failingOrderRepo rejects every Create.
type failingOrderRepo struct {
	*storage.MemoryOrderRepository
}

func (f *failingOrderRepo) Create(ctx context.Context, order domain.Order) error {
	return errors.New("disk full")
}

func TestPlaceOrder_ReleasesAgentWhenPersistFails(t *testing.T) {
	repo := &failingOrderRepo{storage.NewMemoryOrderRepository()}
	stack := newTestStack(t, 1, repo)
	ctx := context.Background()

	stack.carts.AddItem(ctx, "user-1", "p1", 1)
	_, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
		UserID: "user-1", ShippingAddress: "1 Demo Street",
	})
	if err == nil {
		t.Fatal("expected placement to fail")
	}

	if availableAgents(t, stack.pool) != 1 {
		t.Error("reserved agent was not released after persist failure")
	}

	// the cart survives a failed placement
	cart, _ := stack.carts.GetCart(ctx, "user-1")
	if cart.IsEmpty() {
		t.Error("cart should survive a failed placement")
	}

	// no notification for a failed placement
	list, _ := stack.notifications.ListByUser(ctx, "user-1")
	if len(list) != 0 {
		t.Errorf("expected no notifications, got %+v", list)
	}
}

func TestPlaceOrder_ReleasesAgentWhenContextCancelled(t *testing.T) {
	repo := &failingOrderRepo{storage.NewMemoryOrderRepository()}
	stack := newTestStack(t, 1, repo)

	ctx, cancel := context.WithCancel(context.Background())
	stack.carts.AddItem(ctx, "user-1", "p1", 1)
	cancel() // client gives up before placement finishes

	_, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
		UserID: "user-1", ShippingAddress: "1 Demo Street",
	})
	if err == nil {
		t.Fatal("expected placement to fail")
	}
	if availableAgents(t, stack.pool) != 1 {
		t.Error("cancelled request left the agent reserved")
	}
}

// conflictOnceRepo fails the first Creates with a conflict, then delegates.
// failures defaults to one.
type conflictOnceRepo struct {
	*storage.MemoryOrderRepository
	failures int32
	calls    atomic.Int32
}

func (c *conflictOnceRepo) Create(ctx context.Context, order domain.Order) error {
	limit := c.failures
	if limit == 0 {
		limit = 1
	}
	if c.calls.Add(1) <= limit {
		return fmt.Errorf("duplicate key: %w", domain.ErrConflict)
	}
	return c.MemoryOrderRepository.Create(ctx, order)
}

func TestPlaceOrder_RetriesConflictOnce(t *testing.T) {
	repo := &conflictOnceRepo{MemoryOrderRepository: storage.NewMemoryOrderRepository()}
	stack := newTestStack(t, 1, repo)
	ctx := context.Background()

	stack.carts.AddItem(ctx, "user-1", "p1", 1)
	order, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
		UserID: "user-1", ShippingAddress: "1 Demo Street",
	})
	if err != nil {
		t.Fatalf("expected retry to succeed, got: %v", err)
	}
	if repo.calls.Load() != 2 {
		t.Errorf("expected 2 create attempts, got %d", repo.calls.Load())
	}
	if order.AssignedAgentID == "" {
		t.Error("expected retried order to still get an agent")
	}
}

func TestPlaceOrder_Concurrent(t *testing.T) {
	agentCount := 3
	totalUsers := 100

	stack := newTestStack(t, agentCount, nil)
	ctx := context.Background()

	for i := 0; i < totalUsers; i++ {
		if _, err := stack.carts.AddItem(ctx, fmt.Sprintf("user-%d", i), "p1", 1); err != nil {
			t.Fatalf("fill cart: %v", err)
		}
	}

	var assigned atomic.Int32
	var unassigned atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalUsers; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			order, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
				UserID: userID, ShippingAddress: "1 Demo Street",
			})
			if err != nil {
				t.Errorf("placement failed for %s: %v", userID, err)
				return
			}
			if order.AssignedAgentID != "" {
				assigned.Add(1)
			} else {
				unassigned.Add(1)
			}
		}(fmt.Sprintf("user-%d", i))
	}

	wg.Wait()

	if assigned.Load() != int32(agentCount) {
		t.Errorf("expected %d assigned orders, got %d", agentCount, assigned.Load())
	}
	if unassigned.Load() != int32(totalUsers-agentCount) {
		t.Errorf("expected %d unassigned orders, got %d", totalUsers-agentCount, unassigned.Load())
	}
	if availableAgents(t, stack.pool) != 0 {
		t.Errorf("expected 0 available agents, got %d", availableAgents(t, stack.pool))
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	stack := newTestStack(t, 0, nil)

	_, err := stack.orders.GetOrder(context.Background(), "missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got: %v", err)
	}
}

func TestMarkDelivered(t *testing.T) {
	stack := newTestStack(t, 1, nil)
	ctx := context.Background()

	stack.carts.AddItem(ctx, "user-1", "p1", 1)
	order, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
		UserID: "user-1", ShippingAddress: "1 Demo Street",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	delivered, err := stack.orders.MarkDelivered(ctx, order.ID)
	if err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if delivered.Status != domain.OrderStatusDelivered {
		t.Errorf("expected delivered status, got %s", delivered.Status)
	}

	agents, _ := stack.pool.List(ctx)
	if !agents[0].IsAvailable {
		t.Error("agent should be available after delivery")
	}
	if agents[0].TotalDeliveries != 1 {
		t.Errorf("expected 1 delivery, got %d", agents[0].TotalDeliveries)
	}

	// repeat call is a no-op: no double count, no second notification
	if _, err := stack.orders.MarkDelivered(ctx, order.ID); err != nil {
		t.Fatalf("repeated mark delivered: %v", err)
	}
	agents, _ = stack.pool.List(ctx)
	if agents[0].TotalDeliveries != 1 {
		t.Errorf("delivery count double-incremented: %d", agents[0].TotalDeliveries)
	}

	list, _ := stack.notifications.ListByUser(ctx, "user-1")
	completed := 0
	for _, n := range list {
		if n.Type == domain.NotificationDeliveryCompleted {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("expected exactly one delivery notification, got %d", completed)
	}
}

func TestCancelUnpaid(t *testing.T) {
	stack := newTestStack(t, 1, nil)
	ctx := context.Background()

	stack.carts.AddItem(ctx, "user-1", "p1", 1)
	order, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
		UserID: "user-1", ShippingAddress: "1 Demo Street",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	n, err := stack.orders.CancelUnpaid(ctx, 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cancellation, got %d", n)
	}

	cancelled, _ := stack.orders.GetOrder(ctx, order.ID)
	if cancelled.Status != domain.OrderStatusFailed {
		t.Errorf("expected failed status, got %s", cancelled.Status)
	}
	if availableAgents(t, stack.pool) != 1 {
		t.Error("agent not released by the sweep")
	}

	// a second sweep finds nothing
	n, err = stack.orders.CancelUnpaid(ctx, 0)
	if err != nil || n != 0 {
		t.Errorf("expected idle second sweep, got n=%d err=%v", n, err)
	}
}

// deliveryDuringSweepRepo triggers a delivery between the sweep's listing
// and its status write, from inside the sweep's payment lookup.
type deliveryDuringSweepRepo struct {
	*storage.MemoryPaymentRepository
	deliver func()
	once    sync.Once
}

func (r *deliveryDuringSweepRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.PaymentRecord, error) {
	r.once.Do(r.deliver)
	return r.MemoryPaymentRepository.GetByOrderID(ctx, orderID)
}

func TestCancelUnpaid_LosesRaceToDelivery(t *testing.T) {
	ctx := context.Background()

	pool := storage.NewMemoryPool()
	if err := pool.Add(ctx, domain.DeliveryAgent{ID: "agent-001", Name: "Agent 1", IsAvailable: true}); err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	payments := &deliveryDuringSweepRepo{MemoryPaymentRepository: storage.NewMemoryPaymentRepository()}
	notifications := storage.NewMemoryNotificationRepository()
	carts := NewCartService(storage.NewMemoryCartRepository(), newMockCatalog())
	orders := NewOrderService(carts, storage.NewMemoryOrderRepository(), payments, pool,
		storage.NewMemoryIdempotencyStore(), NewNotificationService(notifications), DefaultConfig(), 1000)
	t.Cleanup(orders.Close)

	carts.AddItem(ctx, "user-1", "p1", 1)
	order, err := orders.PlaceOrder(ctx, PlaceOrderRequest{
		UserID: "user-1", ShippingAddress: "1 Demo Street",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	payments.deliver = func() {
		if _, err := orders.MarkDelivered(ctx, order.ID); err != nil {
			t.Errorf("mark delivered: %v", err)
		}
	}

	time.Sleep(10 * time.Millisecond)

	n, err := orders.CancelUnpaid(ctx, 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("sweep cancelled a delivered order")
	}

	final, _ := orders.GetOrder(ctx, order.ID)
	if final.Status != domain.OrderStatusDelivered {
		t.Errorf("order was delivered during the sweep but final status is %q", final.Status)
	}

	// one delivery credit, no cancellation notice
	agents, _ := pool.List(ctx)
	if !agents[0].IsAvailable || agents[0].TotalDeliveries != 1 {
		t.Errorf("agent bookkeeping wrong after the race: %+v", agents[0])
	}
	list, _ := notifications.ListByUser(ctx, "user-1")
	for _, notice := range list {
		if notice.Type == domain.NotificationOrderCancelled {
			t.Error("delivered order produced a cancellation notice")
		}
	}
}

func TestMarkDelivered_CancelledOrder(t *testing.T) {
	stack := newTestStack(t, 1, nil)
	ctx := context.Background()

	stack.carts.AddItem(ctx, "user-1", "p1", 1)
	order, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
		UserID: "user-1", ShippingAddress: "1 Demo Street",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if n, err := stack.orders.CancelUnpaid(ctx, 0); err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}

	_, err = stack.orders.MarkDelivered(ctx, order.ID)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict delivering a cancelled order, got: %v", err)
	}

	cancelled, _ := stack.orders.GetOrder(ctx, order.ID)
	if cancelled.Status != domain.OrderStatusFailed {
		t.Errorf("cancelled order was revived to %q", cancelled.Status)
	}

	// the sweep's release stands; no second credit
	agents, _ := stack.pool.List(ctx)
	if !agents[0].IsAvailable || agents[0].TotalDeliveries != 0 {
		t.Errorf("agent bookkeeping wrong: %+v", agents[0])
	}
}

func TestPlaceOrder_FailedAttemptFreesRequestID(t *testing.T) {
	stack := newTestStack(t, 1, nil)
	ctx := context.Background()

	req := PlaceOrderRequest{
		RequestID:       "req-retry",
		UserID:          "user-1",
		ShippingAddress: "1 Demo Street",
	}

	// the first attempt fails on an empty cart
	if _, err := stack.orders.PlaceOrder(ctx, req); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got: %v", err)
	}

	// the same request id must work once the cart is filled
	stack.carts.AddItem(ctx, "user-1", "p1", 1)
	order, err := stack.orders.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("retry with the same request id failed: %v", err)
	}

	// the id is spent by the successful placement
	stack.carts.AddItem(ctx, "user-1", "p1", 1)
	if _, err := stack.orders.PlaceOrder(ctx, req); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest after success, got: %v", err)
	}

	if order.Total != 10.00 {
		t.Errorf("unexpected order total: %v", order.Total)
	}
}

func TestPlaceOrder_PersistFailureFreesRequestID(t *testing.T) {
	repo := &conflictOnceRepo{MemoryOrderRepository: storage.NewMemoryOrderRepository()}
	repo.failures = 2 // exhaust the single in-flight retry
	stack := newTestStack(t, 1, repo)
	ctx := context.Background()

	stack.carts.AddItem(ctx, "user-1", "p1", 1)
	req := PlaceOrderRequest{
		RequestID:       "req-persist",
		UserID:          "user-1",
		ShippingAddress: "1 Demo Street",
	}

	if _, err := stack.orders.PlaceOrder(ctx, req); err == nil {
		t.Fatal("expected placement to fail")
	}

	// the cart survived, so the client's retry with the same id succeeds
	if _, err := stack.orders.PlaceOrder(ctx, req); err != nil {
		t.Fatalf("retry after persist failure: %v", err)
	}
}

func TestCancelUnpaid_SkipsPaidOrders(t *testing.T) {
	stack := newTestStack(t, 1, nil)
	ctx := context.Background()

	stack.carts.AddItem(ctx, "user-1", "p1", 1)
	order, err := stack.orders.PlaceOrder(ctx, PlaceOrderRequest{
		UserID: "user-1", ShippingAddress: "1 Demo Street",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	rec := domain.PaymentRecord{
		OrderID:        order.ID,
		GatewayOrderID: "order_gw1",
		Amount:         order.Total,
		Currency:       "USD",
		Status:         domain.PaymentStatusCreated,
		CreatedAt:      time.Now(),
	}
	if err := stack.paymentRepo.Create(ctx, rec); err != nil {
		t.Fatalf("create payment: %v", err)
	}
	if _, err := stack.paymentRepo.Finalize(ctx, "order_gw1", "pay_1", domain.PaymentStatusPaid); err != nil {
		t.Fatalf("finalize payment: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	n, err := stack.orders.CancelUnpaid(ctx, 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 0 {
		t.Errorf("paid order was cancelled")
	}
}
