package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/shopflow/internal/core/domain"
)

// In-memory backing store, one repository per entity. Everything crossing
// the boundary is copied, so a placed order's item snapshot cannot be
// reached through a cart the caller still holds.

func copyCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Items = make([]domain.CartItem, len(c.Items))
	copy(cp.Items, c.Items)
	return &cp
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = make([]domain.CartItem, len(o.Items))
	copy(cp.Items, o.Items)
	return &cp
}

type MemoryCartRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewMemoryCartRepository() *MemoryCartRepository {
	return &MemoryCartRepository{carts: make(map[string]*domain.Cart)}
}

func (m *MemoryCartRepository) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cart, ok := m.carts[userID]
	if !ok {
		return nil, nil
	}
	return copyCart(cart), nil
}

func (m *MemoryCartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.carts[cart.UserID] = copyCart(cart)
	return nil
}

func (m *MemoryCartRepository) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.carts, userID)
	return nil
}

type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*domain.Order)}
}

func (m *MemoryOrderRepository) Create(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists: %w", order.ID, domain.ErrConflict)
	}
	m.orders[order.ID] = copyOrder(&order)
	return nil
}

func (m *MemoryOrderRepository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	return copyOrder(order), nil
}

func (m *MemoryOrderRepository) UpdateStatusIf(ctx context.Context, orderID string, from, to domain.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return false, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if order.Status != from {
		return false, nil
	}
	order.Status = to
	order.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryOrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pending []domain.Order
	for _, order := range m.orders {
		if order.Status == domain.OrderStatusPending && order.CreatedAt.Before(cutoff) {
			pending = append(pending, *copyOrder(order))
		}
	}
	return pending, nil
}

type MemoryPaymentRepository struct {
	mu      sync.RWMutex
	records map[string]*domain.PaymentRecord
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{records: make(map[string]*domain.PaymentRecord)}
}

func (m *MemoryPaymentRepository) Create(ctx context.Context, rec domain.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.GatewayOrderID]; exists {
		return fmt.Errorf("payment %s already exists: %w", rec.GatewayOrderID, domain.ErrConflict)
	}
	cp := rec
	m.records[rec.GatewayOrderID] = &cp
	return nil
}

func (m *MemoryPaymentRepository) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[gatewayOrderID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryPaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *domain.PaymentRecord
	for _, rec := range m.records {
		if rec.OrderID != orderID {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryPaymentRepository) Finalize(ctx context.Context, gatewayOrderID, gatewayPaymentID string, status domain.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[gatewayOrderID]
	if !ok {
		return false, fmt.Errorf("payment %s: %w", gatewayOrderID, domain.ErrNotFound)
	}
	if rec.Status.IsTerminal() {
		return false, nil
	}
	rec.Status = status
	rec.GatewayPaymentID = gatewayPaymentID
	rec.UpdatedAt = time.Now()
	return true, nil
}

type MemoryNotificationRepository struct {
	mu     sync.RWMutex
	byUser map[string][]*domain.Notification
}

func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{byUser: make(map[string][]*domain.Notification)}
}

func (m *MemoryNotificationRepository) Append(ctx context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := n
	m.byUser[n.UserID] = append(m.byUser[n.UserID], &cp)
	return nil
}

func (m *MemoryNotificationRepository) MarkRead(ctx context.Context, userID, notificationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, n := range m.byUser[userID] {
		if n.ID == notificationID {
			n.Read = true
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryNotificationRepository) ListByUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]domain.Notification, 0, len(m.byUser[userID]))
	for _, n := range m.byUser[userID] {
		list = append(list, *n)
	}
	return list, nil
}

type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{seen: make(map[string]bool)}
}

func (m *MemoryIdempotencyStore) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *MemoryIdempotencyStore) DeleteIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.seen, key)
	return nil
}

// MemoryPool is the in-process delivery pool. The availability scan and flip
// happen under one mutex, so concurrent ReserveAny calls can never hand out
// the same agent.
type MemoryPool struct {
	mu     sync.Mutex
	agents map[string]*domain.DeliveryAgent
	ids    []string
}

func NewMemoryPool() *MemoryPool {
	return &MemoryPool{agents: make(map[string]*domain.DeliveryAgent)}
}

func (p *MemoryPool) Add(ctx context.Context, agent domain.DeliveryAgent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.agents[agent.ID]; !exists {
		p.ids = append(p.ids, agent.ID)
		sort.Strings(p.ids)
	}
	cp := agent
	p.agents[agent.ID] = &cp
	return nil
}

func (p *MemoryPool) ReserveAny(ctx context.Context) (*domain.DeliveryAgent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.ids {
		agent := p.agents[id]
		if agent.IsAvailable {
			agent.IsAvailable = false
			cp := *agent
			return &cp, nil
		}
	}
	return nil, nil
}

func (p *MemoryPool) Release(ctx context.Context, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if agent, ok := p.agents[agentID]; ok {
		agent.IsAvailable = true
	}
	return nil
}

func (p *MemoryPool) Complete(ctx context.Context, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if agent, ok := p.agents[agentID]; ok {
		agent.IsAvailable = true
		agent.TotalDeliveries++
	}
	return nil
}

func (p *MemoryPool) List(ctx context.Context) ([]domain.DeliveryAgent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := make([]domain.DeliveryAgent, 0, len(p.ids))
	for _, id := range p.ids {
		list = append(list, *p.agents[id])
	}
	return list, nil
}
