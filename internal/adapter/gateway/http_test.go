package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/shopflow/internal/core/domain"
	"github.com/rl1809/shopflow/internal/port"
)

func TestHTTPGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/intents":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(port.PaymentIntent{IntentID: "order_remote", ClientSecret: "secret_remote"})
		case "/verify":
			var req verifyRequest
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(verifyResponse{Valid: req.Signature == "good"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, 2*time.Second)
	ctx := context.Background()

	intent, err := gw.CreateIntent(ctx, 10.00, "USD")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.IntentID != "order_remote" {
		t.Errorf("unexpected intent: %+v", intent)
	}

	valid, err := gw.Verify(ctx, "order_remote", "pay_1", "good")
	if err != nil || !valid {
		t.Fatalf("expected valid receipt, got valid=%v err=%v", valid, err)
	}

	valid, err = gw.Verify(ctx, "order_remote", "pay_1", "bad")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if valid {
		t.Error("invalid receipt accepted")
	}
}

func TestHTTPGateway_BreakerOpensOnFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, 2*time.Second)
	ctx := context.Background()

	// every failure classifies as gateway unavailable
	for i := 0; i < 5; i++ {
		_, err := gw.CreateIntent(ctx, 10.00, "USD")
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("call %d: expected gateway unavailable, got: %v", i, err)
		}
	}

	// the breaker opened partway through, so not every attempt reached the wire
	if calls.Load() >= 5 {
		t.Errorf("expected the breaker to shed load, provider saw %d calls", calls.Load())
	}
}
