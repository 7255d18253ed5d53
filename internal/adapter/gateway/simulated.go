package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"

	"github.com/rl1809/shopflow/internal/port"
)

// SimulatedGateway is the in-process payment provider. Intents get opaque
// ids and client secrets; a receipt is valid when its signature is the
// HMAC-SHA256 of "<intentID>|<paymentID>" under the gateway's key, which is
// the receipt protocol real providers use.
type SimulatedGateway struct {
	secret []byte
}

func NewSimulatedGateway(secret string) *SimulatedGateway {
	return &SimulatedGateway{secret: []byte(secret)}
}

func (g *SimulatedGateway) CreateIntent(ctx context.Context, amount float64, currency string) (*port.PaymentIntent, error) {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return &port.PaymentIntent{
		IntentID:     "order_" + id[:16],
		ClientSecret: "secret_" + id[16:],
	}, nil
}

func (g *SimulatedGateway) Verify(ctx context.Context, intentID, paymentID, signature string) (bool, error) {
	return hmac.Equal([]byte(signature), []byte(g.Sign(intentID, paymentID))), nil
}

// Sign produces the signature a paying client would submit. Exposed so the
// demo client and tests can act as the payment UI.
func (g *SimulatedGateway) Sign(intentID, paymentID string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(intentID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
