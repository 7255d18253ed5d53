package port

import "context"

type IdempotencyStore interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// DeleteIdempotency frees a consumed key so the client may retry with
	// the same request id. Deleting a missing key is a no-op.
	DeleteIdempotency(ctx context.Context, key string) error
}
