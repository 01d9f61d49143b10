package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus captures the lifecycle state of an outbox event.
type EventStatus string

// Event status values. Sent is terminal; Pending and Processing cycle via
// claim/lock-expiry. A Failed status with a retry counter was considered
// and deliberately left out — see DESIGN.md.
const (
	// EventPending is the status of a freshly inserted, unclaimed event.
	EventPending EventStatus = "pending"
	// EventProcessing is the status of an event currently held by a
	// worker's lock (locked_until in the future) or eligible for re-claim
	// (locked_until expired).
	EventProcessing EventStatus = "processing"
	// EventSent is the terminal status; only garbage collection removes
	// rows in this status.
	EventSent EventStatus = "sent"
)

// epochOrigin is the sentinel locked_until value for Pending rows: far
// enough in the past that it always sorts before a real lock expiry, so
// fetch_next_to_process's ascending locked_until order picks never-claimed
// Pending rows ahead of expired Processing rows.
var epochOrigin = time.Unix(0, 0).UTC()

// Event is the persisted outbox row: business state's durable companion,
// written in the same transaction as the state it describes and later
// drained to the message bus by the processor.
type Event struct {
	// ID is the opaque 128-bit identifier generated at construction.
	ID uuid.UUID
	// IdempotencyToken deduplicates concurrent or retried producer
	// submissions; nil when the configured strategy is None.
	IdempotencyToken *string
	// EventType is the short label ("topic"/kind) the transport may use
	// for routing or partitioning.
	EventType string
	// Payload is the opaque, JSON-shaped body. The engine never inspects
	// it beyond transporting it.
	Payload []byte
	// Status is the current lifecycle state.
	Status EventStatus
	// CreatedAt is the insert timestamp, monotonic per inserter.
	CreatedAt time.Time
	// LockedUntil is the epoch origin for Pending rows, or the lock
	// expiry timestamp for Processing rows.
	LockedUntil time.Time
}

// NewEvent constructs a Pending event ready for insertion. token may be nil
// when dedup is disabled for this call.
func NewEvent(eventType string, payload []byte, token *string) Event {
	return Event{
		ID:               uuid.New(),
		IdempotencyToken: token,
		EventType:        eventType,
		Payload:          payload,
		Status:           EventPending,
		CreatedAt:        time.Now().UTC(),
		LockedUntil:      epochOrigin,
	}
}
