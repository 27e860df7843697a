package service

import (
	"context"
	"sync"

	"hybriddb/internal/logger"
)

// Event names emitted by the stream service.
const (
	EventDrift     = "field:drift"
	EventPlacement = "field:placement"
	EventRunDone   = "run:completed"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: decouples services from the event transport
// ─────────────────────────────────────────────────────────────

// EventEmitter delivers field and run events. The log emitter is always
// installed; a NATS publisher is added when events.nats_url is set.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Named returns the recorded emissions of one event type.
func (m *MockEmitter) Named(event string) []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EmittedEvent
	for _, e := range m.Events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// LogEmitter writes every event to the structured log.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, event string, data any) {
	log := logger.Get("events")
	log.Debug().Str("event", event).Interface("data", data).Msg("emit")
}

// MultiEmitter fans an event out to several emitters in order.
type MultiEmitter []EventEmitter

func (m MultiEmitter) Emit(ctx context.Context, event string, data any) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, event, data)
		}
	}
}
