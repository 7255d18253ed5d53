package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rl1809/shopflow/internal/core/domain"
	"github.com/rl1809/shopflow/internal/metrics"
	"github.com/rl1809/shopflow/internal/port"
)

var (
	ErrPaymentNotFound    = fmt.Errorf("payment record %w", domain.ErrNotFound)
	ErrVerificationFailed = errors.New("payment verification failed")
)

// PaymentService is the gateway-facing half of the orchestrator: intent
// creation is pure delegation plus bookkeeping, verification transitions the
// payment record to its single terminal status.
type PaymentService struct {
	gateway  port.PaymentGateway
	payments port.PaymentRepository
	orders   port.OrderRepository
	notifier *NotificationService
}

func NewPaymentService(
	gateway port.PaymentGateway,
	payments port.PaymentRepository,
	orders port.OrderRepository,
	notifier *NotificationService,
) *PaymentService {
	return &PaymentService{
		gateway:  gateway,
		payments: payments,
		orders:   orders,
		notifier: notifier,
	}
}

// CreateIntent asks the gateway to mint a payment intent for the amount and
// records it with status created. The returned intent carries the client
// secret the payment UI needs.
func (s *PaymentService) CreateIntent(ctx context.Context, orderID string, amount float64, currency string) (*port.PaymentIntent, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive: %w", domain.ErrValidation)
	}
	if currency == "" {
		return nil, fmt.Errorf("currency is required: %w", domain.ErrValidation)
	}

	intent, err := s.gateway.CreateIntent(ctx, amount, currency)
	if err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}

	method := ""
	if orderID != "" {
		if order, err := s.orders.Get(ctx, orderID); err == nil && order != nil {
			method = order.PaymentMethod
		}
	}

	now := time.Now()
	rec := domain.PaymentRecord{
		OrderID:        orderID,
		GatewayOrderID: intent.IntentID,
		Amount:         amount,
		Currency:       currency,
		Status:         domain.PaymentStatusCreated,
		Method:         method,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.payments.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("record payment intent: %w", err)
	}

	metrics.PaymentsTotal.WithLabelValues(string(domain.PaymentStatusCreated)).Inc()
	log.WithFields(log.Fields{
		"order_id":  orderID,
		"intent_id": intent.IntentID,
		"amount":    amount,
		"currency":  currency,
	}).Info("payment intent created")

	return intent, nil
}

// Verify validates a client-submitted receipt against the gateway. A valid
// receipt moves the record to paid exactly once; verifying an already-paid
// record is an idempotent success and emits no second notification. An
// invalid receipt moves the record to failed and returns
// ErrVerificationFailed. A placed order joined by orderID is not rolled back
// here; the unpaid-order sweep owns that reconciliation.
func (s *PaymentService) Verify(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) error {
	rec, err := s.payments.GetByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return fmt.Errorf("load payment record: %w", err)
	}
	if rec == nil {
		return ErrPaymentNotFound
	}
	if rec.Status == domain.PaymentStatusPaid {
		return nil
	}
	if rec.Status == domain.PaymentStatusFailed {
		return ErrVerificationFailed
	}

	valid, err := s.gateway.Verify(ctx, gatewayOrderID, gatewayPaymentID, signature)
	if err != nil {
		return fmt.Errorf("gateway verify: %w", err)
	}

	if !valid {
		if _, err := s.payments.Finalize(ctx, gatewayOrderID, gatewayPaymentID, domain.PaymentStatusFailed); err != nil {
			log.WithField("intent_id", gatewayOrderID).Error("failed to record payment failure: ", err)
		}
		metrics.PaymentsTotal.WithLabelValues(string(domain.PaymentStatusFailed)).Inc()
		log.WithFields(log.Fields{
			"intent_id":  gatewayOrderID,
			"payment_id": gatewayPaymentID,
		}).Warn("payment verification failed")
		return ErrVerificationFailed
	}

	flipped, err := s.payments.Finalize(ctx, gatewayOrderID, gatewayPaymentID, domain.PaymentStatusPaid)
	if err != nil {
		return fmt.Errorf("finalize payment: %w", err)
	}
	if !flipped {
		// lost the race to a concurrent verify; success iff it went to paid
		rec, err = s.payments.GetByGatewayOrderID(ctx, gatewayOrderID)
		if err != nil {
			return fmt.Errorf("reload payment record: %w", err)
		}
		if rec != nil && rec.Status == domain.PaymentStatusPaid {
			return nil
		}
		return ErrVerificationFailed
	}

	metrics.PaymentsTotal.WithLabelValues(string(domain.PaymentStatusPaid)).Inc()
	metrics.PaymentAmount.Observe(rec.Amount)

	userID := ""
	if rec.OrderID != "" {
		order, err := s.orders.Get(ctx, rec.OrderID)
		if err == nil && order != nil {
			userID = order.UserID
			// only a pending order moves to paid; a delivered or cancelled
			// order keeps its status
			if _, err := s.orders.UpdateStatusIf(ctx, rec.OrderID, domain.OrderStatusPending, domain.OrderStatusPaid); err != nil {
				log.WithField("order_id", rec.OrderID).Error("failed to mark order paid: ", err)
			}
		}
	}

	if userID != "" {
		if _, err := s.notifier.Append(ctx, userID, domain.NotificationPaymentSuccess,
			"Payment successful",
			fmt.Sprintf("Payment of %.2f %s for order %s was received.", rec.Amount, rec.Currency, rec.OrderID)); err != nil {
			log.WithField("order_id", rec.OrderID).Error("payment notification failed: ", err)
		}
	}

	log.WithFields(log.Fields{
		"intent_id":  gatewayOrderID,
		"payment_id": gatewayPaymentID,
		"order_id":   rec.OrderID,
		"amount":     rec.Amount,
	}).Info("payment verified")

	return nil
}
