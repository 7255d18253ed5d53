package service

import "time"

// Config carries the orchestration knobs. Defaults suit the demo
// storefront; cmd/server overrides them from the environment.
type Config struct {
	// DeliveryLeadTime is added to the placement time to produce an order's
	// estimated delivery.
	DeliveryLeadTime time.Duration

	// PaymentTimeout is how long a pending order may stay unpaid before the
	// cancellation sweep reclaims it.
	PaymentTimeout time.Duration

	// ReleaseTimeout bounds compensating agent releases, which run detached
	// from the request context.
	ReleaseTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		DeliveryLeadTime: 24 * time.Hour,
		PaymentTimeout:   30 * time.Minute,
		ReleaseTimeout:   5 * time.Second,
	}
}
