package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/lottery_layer/internal/events"
	"github.com/R3E-Network/lottery_layer/pkg/logger"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an id, echoes it in the response and logs
// the request once it completes.
type RequestID struct {
	log *logger.Logger
}

// NewRequestID creates the request id middleware.
func NewRequestID(log *logger.Logger) *RequestID {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &RequestID{log: log}
}

// Handler returns the middleware handler.
func (m *RequestID) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := events.WithRequestID(r.Context(), id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))

		m.log.WithField("request_id", id).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("duration", time.Since(start).String()).
			Debug("request handled")
	})
}
