package port

import "context"

// PaymentIntent is the provider-side record of an authorized pending charge,
// plus the client credential needed to render a payment UI.
type PaymentIntent struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
}

// PaymentGateway is the external payment provider's two-call contract.
type PaymentGateway interface {
	// CreateIntent mints an intent for the amount.
	CreateIntent(ctx context.Context, amount float64, currency string) (*PaymentIntent, error)

	// Verify validates a client-submitted receipt. False means the receipt
	// is invalid; an error means the provider could not be reached.
	Verify(ctx context.Context, intentID, paymentID, signature string) (bool, error)
}
