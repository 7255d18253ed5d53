package domain

import "errors"

// Shared error taxonomy. Services wrap these so adapters and handlers can
// classify failures with errors.Is regardless of which layer produced them.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrValidation         = errors.New("validation failed")
)
