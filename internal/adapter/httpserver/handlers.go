// Package httpserver exposes the outbox producer over a small HTTP API,
// for callers that prefer submitting events out-of-process rather than
// linking the outbox service into their own transaction.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/outboxkit/outboxkit/internal/domain"
	"github.com/outboxkit/outboxkit/internal/service/outbox"
)

var validate = validator.New()

// addEventRequest mirrors outbox.Service.AddEvent's producer-facing
// arguments; custom-strategy event context and a caller transaction are
// necessarily out of scope for an HTTP boundary.
type addEventRequest struct {
	EventType        string          `json:"event_type" validate:"required"`
	Payload          json.RawMessage `json:"payload" validate:"required"`
	IdempotencyToken *string         `json:"idempotency_token,omitempty"`
}

// Server exposes the producer service over HTTP.
type Server struct {
	svc *outbox.Service
}

// NewServer constructs a Server wrapping svc.
func NewServer(svc *outbox.Service) *Server {
	return &Server{svc: svc}
}

// AddEventHandler handles POST /v1/events.
func (s *Server) AddEventHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		err := s.svc.AddEvent(r.Context(), req.EventType, req.Payload, req.IdempotencyToken, nil)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusAccepted)
		case errors.Is(err, domain.ErrDuplicateEvent):
			http.Error(w, "duplicate event", http.StatusConflict)
		case errors.Is(err, domain.ErrInvalidConfig):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
