package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/shopflow/internal/adapter/catalog"
	"github.com/rl1809/shopflow/internal/adapter/gateway"
	"github.com/rl1809/shopflow/internal/adapter/handler"
	"github.com/rl1809/shopflow/internal/adapter/storage"
	"github.com/rl1809/shopflow/internal/core/domain"
	"github.com/rl1809/shopflow/internal/core/service"
	"github.com/rl1809/shopflow/internal/metrics"
	"github.com/rl1809/shopflow/internal/port"
)

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpAddr := getEnv("HTTP_ADDR", ":8080")
	workerCount := getEnvInt("WORKER_COUNT", 4)
	queueSize := getEnvInt("QUEUE_SIZE", 10000)

	cfg := service.DefaultConfig()
	cfg.DeliveryLeadTime = getEnvDuration("DELIVERY_LEAD_TIME", cfg.DeliveryLeadTime)
	cfg.PaymentTimeout = getEnvDuration("PAYMENT_TIMEOUT", cfg.PaymentTimeout)

	// Storage. Memory is the default; POOL_BACKEND=redis shares the agent
	// roster between instances, MYSQL_DSN enables the durable order archive.
	carts := storage.NewMemoryCartRepository()
	orders := storage.NewMemoryOrderRepository()
	payments := storage.NewMemoryPaymentRepository()
	notifications := storage.NewMemoryNotificationRepository()

	var pool port.DeliveryPool = storage.NewMemoryPool()
	var idem port.IdempotencyStore = storage.NewMemoryIdempotencyStore()

	var rdb *redis.Client
	if getEnv("POOL_BACKEND", "memory") == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		log.Info("connected to redis")
		pool = storage.NewRedisPool(rdb)
		idem = storage.NewRedisIdempotencyStore(rdb)
	}

	var archive *storage.MySQLAdapter
	var db *sql.DB
	if dsn := getEnv("MYSQL_DSN", ""); dsn != "" {
		var err error
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			log.Fatalf("failed to open mysql: %v", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping mysql: %v", err)
		}
		log.Info("connected to mysql")
		archive = storage.NewMySQLAdapter(db)
	}

	for _, agent := range seedAgents() {
		if err := pool.Add(ctx, agent); err != nil {
			log.Fatalf("failed to seed agent %s: %v", agent.ID, err)
		}
	}

	// Collaborators.
	var cat port.Catalog = catalog.NewStaticCatalog(catalog.DefaultProducts())
	if url := getEnv("CATALOG_URL", ""); url != "" {
		cat = catalog.NewHTTPCatalog(url, 3*time.Second)
	}

	var gw port.PaymentGateway = gateway.NewSimulatedGateway(getEnv("GATEWAY_SECRET", "shopflow-demo-secret"))
	if url := getEnv("GATEWAY_URL", ""); url != "" {
		gw = gateway.NewHTTPGateway(url, 3*time.Second)
	}

	// Services.
	notifier := service.NewNotificationService(notifications)
	cartService := service.NewCartService(carts, cat)
	orderService := service.NewOrderService(cartService, orders, payments, pool, idem, notifier, cfg, queueSize)
	paymentService := service.NewPaymentService(gw, payments, orders, notifier)

	// Archive workers drain the placed-order queue.
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(id, orderService.GetArchiveQueue(), archive)
		}(i)
	}
	log.Infof("started %d archive workers", workerCount)

	// Unpaid-order sweep.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweepLoop(sweepCtx, orderService, cfg.PaymentTimeout, getEnvDuration("SWEEP_INTERVAL", time.Minute))
	}()

	// HTTP server.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.PrometheusMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpHandler := handler.NewHTTPHandler(cartService, orderService, paymentService, notifier, pool)
	httpHandler.Register(router)

	httpServer := &http.Server{
		Addr:    httpAddr,
		Handler: router,
	}

	go func() {
		log.Infof("HTTP server listening on %s", httpAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info("HTTP server stopped")

	stopSweep()
	<-sweepDone
	log.Info("sweep stopped")

	orderService.Close()
	wg.Wait()
	log.Info("workers stopped")

	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	log.Info("connections closed")
}

// workerLoop mirrors placed orders into the durable archive. With no
// archive configured it just drains the queue.
func workerLoop(id int, queue <-chan domain.Order, archive *storage.MySQLAdapter) {
	for order := range queue {
		if archive == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := archive.ArchiveOrder(ctx, order); err != nil {
			log.WithFields(log.Fields{
				"worker":   id,
				"order_id": order.ID,
			}).Errorf("failed to archive order: %v", err)
		} else {
			log.WithFields(log.Fields{
				"worker":   id,
				"order_id": order.ID,
			}).Info("archived order")
		}
		cancel()
	}
}

func sweepLoop(ctx context.Context, orders *service.OrderService, paymentTimeout, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := orders.CancelUnpaid(ctx, paymentTimeout)
			if err != nil {
				log.Errorf("unpaid-order sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Infof("cancelled %d unpaid orders", n)
			}
		}
	}
}

func seedAgents() []domain.DeliveryAgent {
	return []domain.DeliveryAgent{
		{ID: "agent-001", Name: "Ravi Kumar", Contact: "+1-555-0101", Vehicle: "bike", ServiceArea: "downtown", Rating: 4.8, IsAvailable: true},
		{ID: "agent-002", Name: "Maria Lopez", Contact: "+1-555-0102", Vehicle: "scooter", ServiceArea: "midtown", Rating: 4.6, IsAvailable: true},
		{ID: "agent-003", Name: "Chen Wei", Contact: "+1-555-0103", Vehicle: "van", ServiceArea: "suburbs", Rating: 4.9, IsAvailable: true},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
