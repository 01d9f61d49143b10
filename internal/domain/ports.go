package domain

import (
	"time"

	"github.com/google/uuid"
)

// Storage is the abstract claim-queue over the event table. Implementations
// must give fetch_next_to_process atomic, single-round-trip claim
// semantics with "skip locked" contention handling.
//
//go:generate mockery --name=Storage --with-expecter --filename=storage_mock.go
type Storage interface {
	// FetchNextToProcess atomically claims up to limit eligible rows
	// (Pending, or Processing with an expired lock), flips them to
	// Processing with a fresh locked_until, and returns them ordered by
	// ascending locked_until (oldest claim first).
	FetchNextToProcess(ctx Context, limit int, lockTimeout time.Duration) ([]Event, error)
	// UpdatesStatus bulk-updates the status of the given ids.
	UpdatesStatus(ctx Context, ids []uuid.UUID, status EventStatus) error
	// DeleteGarbage deletes up to a bounded batch of Sent rows older than
	// retention.
	DeleteGarbage(ctx Context, retention time.Duration) (int64, error)
	// WaitForNotification suspends until the backing store signals new
	// work may be available on channel, or until ctx is cancelled. It must
	// be restartable: a failed subscription is re-established on the next
	// call.
	WaitForNotification(ctx Context, channel string) error
	// FetchUnprocessed lists Pending and Processing rows without claiming
	// them, for read-only inspection (e.g. a replay dry-run); it never
	// mutates status or locked_until.
	FetchUnprocessed(ctx Context) ([]Event, error)
}

// Writer inserts exactly one event row, usable either against a pool or a
// caller-supplied transaction handle so the write can participate in the
// producer's own transaction.
//
//go:generate mockery --name=Writer --with-expecter --filename=writer_mock.go
type Writer interface {
	// InsertEvent writes one Pending row. A unique-constraint violation on
	// a non-nil IdempotencyToken must surface as domain.ErrDuplicateEvent.
	InsertEvent(ctx Context, e Event) error
}

// Transport publishes a single event to the external message bus. It must
// be safe for concurrent use; a successful return is a durable hand-off.
//
//go:generate mockery --name=Transport --with-expecter --filename=transport_mock.go
type Transport interface {
	Publish(ctx Context, e Event) error
}

// TokenCache provides the atomic set-if-absent-with-expiry primitive that
// fences duplicate producer submissions before a row is ever written.
//
//go:generate mockery --name=TokenCache --with-expecter --filename=tokencache_mock.go
type TokenCache interface {
	// TryReserve returns true iff this call is the first to reserve token
	// within its TTL.
	TryReserve(ctx Context, token string) (bool, error)
}
