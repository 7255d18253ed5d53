package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/rl1809/shopflow/internal/core/domain"
	"github.com/rl1809/shopflow/internal/metrics"
	"github.com/rl1809/shopflow/internal/port"
)

// HTTPGateway talks to a remote payment provider. Calls run behind a
// circuit breaker; an open breaker, a network failure, or a provider 5xx all
// surface as domain.ErrGatewayUnavailable so callers can retry with backoff
// instead of failing the payment record.
type HTTPGateway struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	baseURL string
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 3,
		Interval:    15 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			state := float64(0)
			switch to {
			case gobreaker.StateOpen:
				state = 1
			case gobreaker.StateHalfOpen:
				state = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(state)

			log.WithFields(log.Fields{
				"circuit": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Info("circuit breaker state changed")
		},
	})
	metrics.CircuitBreakerState.WithLabelValues("payment-gateway").Set(0)

	return &HTTPGateway{
		client:  resty.New().SetTimeout(timeout).SetRetryCount(0),
		breaker: cb,
		baseURL: baseURL,
	}
}

type createIntentRequest struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type verifyRequest struct {
	IntentID  string `json:"intent_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

func (g *HTTPGateway) CreateIntent(ctx context.Context, amount float64, currency string) (*port.PaymentIntent, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		resp, err := g.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(createIntentRequest{Amount: amount, Currency: currency}).
			Post(g.baseURL + "/intents")
		if err != nil {
			return nil, fmt.Errorf("gateway request: %w", err)
		}
		if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
			return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode(), resp.String())
		}

		var intent port.PaymentIntent
		if err := json.Unmarshal(resp.Body(), &intent); err != nil {
			return nil, fmt.Errorf("parse intent: %w", err)
		}
		return &intent, nil
	})
	if err != nil {
		return nil, wrapUnavailable(err)
	}
	return result.(*port.PaymentIntent), nil
}

func (g *HTTPGateway) Verify(ctx context.Context, intentID, paymentID, signature string) (bool, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		resp, err := g.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(verifyRequest{IntentID: intentID, PaymentID: paymentID, Signature: signature}).
			Post(g.baseURL + "/verify")
		if err != nil {
			return nil, fmt.Errorf("gateway request: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode(), resp.String())
		}

		var vr verifyResponse
		if err := json.Unmarshal(resp.Body(), &vr); err != nil {
			return nil, fmt.Errorf("parse verification: %w", err)
		}
		return vr.Valid, nil
	})
	if err != nil {
		return false, wrapUnavailable(err)
	}
	return result.(bool), nil
}

func wrapUnavailable(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("circuit open: %w", domain.ErrGatewayUnavailable)
	}
	return fmt.Errorf("%v: %w", err, domain.ErrGatewayUnavailable)
}
