package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/shopflow/internal/adapter/catalog"
	"github.com/rl1809/shopflow/internal/adapter/gateway"
	"github.com/rl1809/shopflow/internal/adapter/storage"
	"github.com/rl1809/shopflow/internal/core/domain"
	"github.com/rl1809/shopflow/internal/core/service"
)

const (
	totalUsers = 100
	agentCount = 3
	queueSize  = 1000
)

func main() {
	ctx := context.Background()

	pool := storage.NewMemoryPool()
	for i := 1; i <= agentCount; i++ {
		agent := domain.DeliveryAgent{
			ID:          fmt.Sprintf("agent-%03d", i),
			Name:        fmt.Sprintf("Agent %d", i),
			IsAvailable: true,
		}
		if err := pool.Add(ctx, agent); err != nil {
			log.Fatalf("failed to seed agent: %v", err)
		}
	}

	orders := storage.NewMemoryOrderRepository()
	payments := storage.NewMemoryPaymentRepository()
	notifier := service.NewNotificationService(storage.NewMemoryNotificationRepository())
	cartService := service.NewCartService(storage.NewMemoryCartRepository(), catalog.NewStaticCatalog(catalog.DefaultProducts()))
	orderService := service.NewOrderService(cartService, orders, payments, pool,
		storage.NewMemoryIdempotencyStore(), notifier, service.DefaultConfig(), queueSize)
	defer orderService.Close()

	gw := gateway.NewSimulatedGateway("loadtest-secret")
	paymentService := service.NewPaymentService(gw, payments, orders, notifier)

	// Drain the archive queue in background
	go func() {
		for range orderService.GetArchiveQueue() {
		}
	}()

	// Fill every user's cart
	for i := 0; i < totalUsers; i++ {
		userID := fmt.Sprintf("user-%d", i)
		if _, err := cartService.AddItem(ctx, userID, "p-1001", 2); err != nil {
			log.Fatalf("failed to fill cart: %v", err)
		}
	}

	var assigned atomic.Int32
	var unassigned atomic.Int32
	var failed atomic.Int32
	firstOrder := make(chan *domain.Order, 1)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalUsers; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()

			order, err := orderService.PlaceOrder(ctx, service.PlaceOrderRequest{
				RequestID:       uuid.New().String(),
				UserID:          userID,
				ShippingAddress: "1 Demo Street",
				PaymentMethod:   "card",
			})
			if err != nil {
				failed.Add(1)
				return
			}
			if order.AssignedAgentID != "" {
				assigned.Add(1)
			} else {
				unassigned.Add(1)
			}
			select {
			case firstOrder <- order:
			default:
			}
		}(fmt.Sprintf("user-%d", i))
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== CHECKOUT LOAD TEST ==========")
	fmt.Printf("Users:            %d\n", totalUsers)
	fmt.Printf("Agents:           %d\n", agentCount)
	fmt.Printf("Assigned:         %d\n", assigned.Load())
	fmt.Printf("Unassigned:       %d\n", unassigned.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("========================================")

	if assigned.Load() == agentCount && unassigned.Load() == totalUsers-agentCount && failed.Load() == 0 {
		fmt.Printf("PASS: exactly %d orders got an agent, the rest placed unassigned\n", agentCount)
	} else {
		fmt.Printf("FAIL: expected %d assigned / %d unassigned / 0 failed\n", agentCount, totalUsers-agentCount)
	}

	// Pay for one order end to end, twice, to confirm idempotent verification
	order := <-firstOrder
	intent, err := paymentService.CreateIntent(ctx, order.ID, order.Total, "USD")
	if err != nil {
		log.Fatalf("create intent failed: %v", err)
	}

	paymentID := "pay_" + uuid.New().String()
	signature := gw.Sign(intent.IntentID, paymentID)

	for i := 0; i < 2; i++ {
		if err := paymentService.Verify(ctx, intent.IntentID, paymentID, signature); err != nil {
			log.Fatalf("verify #%d failed: %v", i+1, err)
		}
	}

	paid, err := orderService.GetOrder(ctx, order.ID)
	if err != nil {
		log.Fatalf("reload order failed: %v", err)
	}

	if paid.Status == domain.OrderStatusPaid {
		fmt.Println("PASS: double verification left the order paid exactly once")
	} else {
		fmt.Printf("FAIL: expected paid order, got %s\n", paid.Status)
	}
}
