// Package events keeps a bounded log of committed lottery state changes and
// fans them out to subscribers such as the websocket stream.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is used when NewLog is given a non-positive size.
const DefaultCapacity = 1000

// Event is one published state change.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// String returns the JSON form of the event.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they are logged.
type Handler func(Event)

// Filter decides whether an event reaches a handler.
type Filter func(Event) bool

// Log is a thread-safe ring buffer of events.
type Log struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
	now      func() time.Time
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// NewLog creates an event log holding at most size events.
func NewLog(size int) *Log {
	if size <= 0 {
		size = DefaultCapacity
	}
	return &Log{
		events: make([]Event, size),
		size:   size,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Publish snapshots payload as JSON and appends it as a new event. Payloads
// that cannot be encoded are recorded without a body.
func (l *Log) Publish(ctx context.Context, eventType string, payload any) {
	evt := Event{Type: eventType, RequestID: RequestID(ctx)}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			evt.Payload = raw
		}
	}
	l.Append(evt)
}

// Append adds an event, filling in its id and timestamp, and notifies handlers
// outside the lock.
func (l *Log) Append(evt Event) Event {
	l.mu.Lock()
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = l.now()
	}

	l.events[l.head] = evt
	l.head = (l.head + 1) % l.size
	if l.count < l.size {
		l.count++
	}

	handlers := make([]handlerEntry, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(evt) {
			h.handler(evt)
		}
	}
	return evt
}

// Subscribe registers a handler for all events and returns its unsubscribe func.
func (l *Log) Subscribe(handler Handler) func() {
	return l.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler that only sees events passing filter.
func (l *Log) SubscribeFiltered(filter Filter, handler Handler) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers = append(l.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, h := range l.handlers {
				if h.id == id {
					l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribers reports how many handlers are registered.
func (l *Log) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers)
}

// Recent returns up to n events, newest first.
func (l *Log) Recent(n int) []Event {
	return l.recent(n, nil)
}

// RecentByType returns up to n events of the given type, newest first.
func (l *Log) RecentByType(eventType string, n int) []Event {
	return l.recent(n, func(e Event) bool { return e.Type == eventType })
}

func (l *Log) recent(n int, keep Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}
	var out []Event
	for i := 0; i < l.count && len(out) < n; i++ {
		evt := l.events[(l.head-1-i+l.size)%l.size]
		if keep == nil || keep(evt) {
			out = append(out, evt)
		}
	}
	return out
}

// Count returns the number of buffered events.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID tags ctx so events published under it carry the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request id stored by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(requestIDKey).(string)
	return s
}
