// Package telemetry carries structured engine events to an external sink:
// rate-limit rejections, circuit transitions, routing decisions. Emission is
// fire-and-forget; the engine never depends on a sink succeeding.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventType names an engine event.
type EventType string

const (
	EventRateLimitRejected EventType = "rate_limit_rejected"
	EventCircuitOpened     EventType = "circuit_opened"
	EventCircuitClosed     EventType = "circuit_closed"
	EventRoutingDecision   EventType = "routing_decision"
	EventFallbackAdvanced  EventType = "fallback_advanced"
	EventRetryExhausted    EventType = "retry_exhausted"
)

// Event is one engine occurrence.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	Anchor    string                 `json:"anchor,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(t EventType, anchor string, details map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      t,
		Anchor:    anchor,
		Details:   details,
	}
}

// Sink consumes events. Implementations must not block the caller.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		sink.Emit(ctx, event)
	}
}

// Recorder writes events to a logger through a bounded buffer. When the
// buffer is full the event is dropped with a warning rather than blocking
// the engine.
type Recorder struct {
	logger *logrus.Logger
	buffer chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped int64
	stopped bool
}

// NewRecorder creates a Recorder draining into logger. bufferSize defaults
// to 1000 when non-positive.
func NewRecorder(logger *logrus.Logger, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	r := &Recorder{
		logger: logger,
		buffer: make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}

	r.wg.Add(1)
	go r.drain()

	return r
}

// Emit implements Sink. The send happens under the mutex so that Close can
// never shut the buffer out from under a concurrent Emit.
func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	select {
	case r.buffer <- event:
	default:
		r.dropped++
		r.logger.Warn("Telemetry buffer full, dropping event")
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close flushes buffered events and stops the drain goroutine.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.buffer)
	r.wg.Wait()
	close(r.done)
}

func (r *Recorder) drain() {
	defer r.wg.Done()
	for event := range r.buffer {
		r.logger.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"anchor":     event.Anchor,
			"details":    event.Details,
			"emitted_at": event.Timestamp.Format(time.RFC3339Nano),
		}).Info("Engine event")
	}
}
