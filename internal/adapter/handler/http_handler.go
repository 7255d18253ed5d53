package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/shopflow/internal/core/domain"
	"github.com/rl1809/shopflow/internal/core/service"
	"github.com/rl1809/shopflow/internal/port"
)

// HTTPHandler exposes the core over gin. Identity is an upstream concern:
// the authenticated user id arrives in X-User-ID and is trusted as-is.
type HTTPHandler struct {
	carts         *service.CartService
	orders        *service.OrderService
	payments      *service.PaymentService
	notifications *service.NotificationService
	pool          port.DeliveryPool
}

func NewHTTPHandler(
	carts *service.CartService,
	orders *service.OrderService,
	payments *service.PaymentService,
	notifications *service.NotificationService,
	pool port.DeliveryPool,
) *HTTPHandler {
	return &HTTPHandler{
		carts:         carts,
		orders:        orders,
		payments:      payments,
		notifications: notifications,
		pool:          pool,
	}
}

func (h *HTTPHandler) Register(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)

	api := router.Group("/api")
	api.POST("/cart/items", h.AddCartItem)
	api.DELETE("/cart/items/:productId", h.RemoveCartItem)
	api.GET("/cart", h.GetCart)
	api.POST("/checkout", h.Checkout)
	api.POST("/payment/intent", h.CreatePaymentIntent)
	api.POST("/payment/verify", h.VerifyPayment)
	api.GET("/orders/:orderId", h.GetOrder)
	api.POST("/orders/:orderId/delivered", h.MarkDelivered)
	api.GET("/agents", h.ListAgents)
	api.GET("/notifications", h.ListNotifications)
	api.POST("/notifications/:id/read", h.MarkNotificationRead)
}

type addItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type checkoutRequest struct {
	RequestID       string `json:"request_id"`
	ShippingAddress string `json:"shipping_address" binding:"required"`
	PaymentMethod   string `json:"payment_method" binding:"required"`
}

type createIntentRequest struct {
	OrderID  string  `json:"order_id"`
	Amount   float64 `json:"amount" binding:"required,gt=0"`
	Currency string  `json:"currency" binding:"required"`
}

type verifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) AddCartItem(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	cart, err := h.carts.AddItem(c.Request.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *HTTPHandler) RemoveCartItem(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	cart, err := h.carts.RemoveItem(c.Request.Context(), userID, c.Param("productId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *HTTPHandler) GetCart(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *HTTPHandler) Checkout(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), service.PlaceOrderRequest{
		RequestID:       req.RequestID,
		UserID:          userID,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *HTTPHandler) CreatePaymentIntent(c *gin.Context) {
	if _, ok := h.userID(c); !ok {
		return
	}

	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	intent, err := h.payments.CreateIntent(c.Request.Context(), req.OrderID, req.Amount, req.Currency)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, intent)
}

func (h *HTTPHandler) VerifyPayment(c *gin.Context) {
	if _, ok := h.userID(c); !ok {
		return
	}

	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	err := h.payments.Verify(c.Request.Context(), req.GatewayOrderID, req.GatewayPaymentID, req.Signature)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paid"})
}

func (h *HTTPHandler) GetOrder(c *gin.Context) {
	if _, ok := h.userID(c); !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *HTTPHandler) MarkDelivered(c *gin.Context) {
	order, err := h.orders.MarkDelivered(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *HTTPHandler) ListAgents(c *gin.Context) {
	agents, err := h.pool.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agents)
}

func (h *HTTPHandler) ListNotifications(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	list, err := h.notifications.List(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *HTTPHandler) MarkNotificationRead(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	if err := h.notifications.MarkRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

func (h *HTTPHandler) userID(c *gin.Context) (string, bool) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
		return "", false
	}
	return userID, true
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrVerificationFailed):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "payment verification failed"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrGatewayUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment gateway unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
