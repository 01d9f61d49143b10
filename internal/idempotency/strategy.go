// Package idempotency derives the per-event deduplication token used by
// the producer service before a row is written and before the token cache
// is consulted.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/outboxkit/outboxkit/internal/domain"
)

// EventContextProvider lazily produces the caller-supplied context value a
// Custom strategy needs. It is only invoked for the Custom variant so
// producers that don't use Custom never pay for building one.
type EventContextProvider func() (any, error)

// Strategy derives a token (or no token) for one add_event call.
type Strategy interface {
	// Invoke returns the token to store on the event row and pass to the
	// token cache, or nil when dedup is disabled for this call.
	Invoke(providedToken *string, payload []byte, ctxProvider EventContextProvider) (*string, error)
}

// None disables deduplication entirely.
type None struct{}

// Invoke always returns no token.
func (None) Invoke(*string, []byte, EventContextProvider) (*string, error) { return nil, nil }

// Provided requires the caller to supply a non-empty token.
type Provided struct{}

// Invoke returns the caller's token, or a configuration error when absent.
func (Provided) Invoke(providedToken *string, _ []byte, _ EventContextProvider) (*string, error) {
	if providedToken == nil || *providedToken == "" {
		return nil, fmt.Errorf("op=idempotency.provided: %w: provided token is required", domain.ErrInvalidConfig)
	}
	t := *providedToken
	return &t, nil
}

// UUID generates a fresh time-ordered UUID per call, guaranteeing distinct
// tokens even for identical payloads from the same caller.
type UUID struct{}

// Invoke returns a freshly generated UUIDv7 string.
func (UUID) Invoke(*string, []byte, EventContextProvider) (*string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("op=idempotency.uuid: %w", err)
	}
	t := id.String()
	return &t, nil
}

// CustomFunc derives a token from the caller-supplied event context.
type CustomFunc func(eventContext any) (string, error)

// Custom wraps a caller-supplied derivation function. It must receive a
// non-nil event context; a nil provider or a provider returning a nil
// context is a configuration error, not a runtime panic.
type Custom struct {
	Fn CustomFunc
}

// Invoke calls Fn with the context produced by ctxProvider.
func (c Custom) Invoke(_ *string, _ []byte, ctxProvider EventContextProvider) (*string, error) {
	if c.Fn == nil {
		return nil, fmt.Errorf("op=idempotency.custom: %w: custom strategy has no function configured", domain.ErrInvalidConfig)
	}
	if ctxProvider == nil {
		return nil, fmt.Errorf("op=idempotency.custom: %w: custom strategy requires a non-nil event context provider", domain.ErrInvalidConfig)
	}
	eventCtx, err := ctxProvider()
	if err != nil {
		return nil, fmt.Errorf("op=idempotency.custom: event context provider: %w", err)
	}
	if eventCtx == nil {
		return nil, fmt.Errorf("op=idempotency.custom: %w: event context must not be nil", domain.ErrInvalidConfig)
	}
	token, err := c.Fn(eventCtx)
	if err != nil {
		return nil, fmt.Errorf("op=idempotency.custom: %w", err)
	}
	return &token, nil
}

// FromName resolves a strategy by its configuration name, as used in
// OUTBOX_IDEMPOTENCY_STRATEGY and in an idempotency rule table. Unknown
// names fall back to None rather than erroring, since a rule table is
// best-effort configuration, not a validated startup dependency.
func FromName(name string) Strategy {
	switch name {
	case "provided":
		return Provided{}
	case "uuid":
		return UUID{}
	case "hash_payload":
		return HashPayload{}
	default:
		return None{}
	}
}

// HashPayload derives the token from a content hash of the payload, so
// byte-identical payloads submitted twice collide on the same token.
type HashPayload struct{}

// Invoke returns the hex-encoded SHA-256 digest of payload.
func (HashPayload) Invoke(_ *string, payload []byte, _ EventContextProvider) (*string, error) {
	sum := sha256.Sum256(payload)
	t := hex.EncodeToString(sum[:])
	return &t, nil
}
