package domain

import "errors"

// Error taxonomy (sentinels). Every port and adapter failure collapses into
// ErrDuplicateEvent or ErrInfrastructure via errors.Is/errors.As;
// DuplicateEvent is the only business-level rejection. ErrInvalidConfig is
// reported by idempotency strategies that cannot derive a token.
var (
	// ErrDuplicateEvent is returned when a producer submission is rejected
	// because its idempotency token was already reserved or already exists
	// on a row in the event table.
	ErrDuplicateEvent = errors.New("duplicate event")
	// ErrInfrastructure wraps any database, cache, or transport failure.
	ErrInfrastructure = errors.New("infrastructure error")
	// ErrInvalidConfig is returned when a strategy or component is
	// misconfigured in a way that cannot be resolved at call time, e.g. a
	// Custom idempotency strategy invoked without an event context.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNotFound is the sentinel for a lookup that finds no row; none of
	// the bundled adapters returns it.
	ErrNotFound = errors.New("not found")
)
