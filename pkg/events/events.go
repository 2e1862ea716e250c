// Package events carries what the controller does to whoever is watching.
// The core emits; telemetry and tests consume.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an event type.
type Kind string

// Event kinds emitted by the controller.
const (
	ModeChanged     Kind = "mode.changed"
	ButtonPress     Kind = "button.press"
	ObjectsDetected Kind = "objects.detected"
	TactonStarted   Kind = "tacton.started"
	TactonFinished  Kind = "tacton.finished"
	TactonFailed    Kind = "tacton.failed"
	TactonSkipped   Kind = "tacton.skipped"
	ClickStarted    Kind = "click.started"
	ClickShortened  Kind = "click.shortened"
	ClickFinished   Kind = "click.finished"
	ClickFailed     Kind = "click.failed"
	TaskFailed      Kind = "task.failed"
)

// Event is one observable controller action.
type Event struct {
	ID     string         `json:"id"`
	Time   time.Time      `json:"time"`
	Kind   Kind           `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
}

// New stamps an event with a fresh id and the current time.
// Fields are given as alternating key/value pairs, like slog.
func New(kind Kind, kv ...any) Event {
	e := Event{
		ID:   uuid.New().String(),
		Time: time.Now(),
		Kind: kind,
	}
	if len(kv) > 0 {
		e.Fields = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				continue
			}
			e.Fields[key] = kv[i+1]
		}
	}
	return e
}

// Sink receives events. Emit must not block the caller for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Nop drops everything.
var Nop Sink = SinkFunc(func(Event) {})

// Fanout delivers every event to each sink in order.
type Fanout []Sink

// Emit implements Sink.
func (f Fanout) Emit(e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Recorder keeps every event. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Ring keeps the most recent events up to a fixed capacity.
type Ring struct {
	mu     sync.RWMutex
	size   int
	events []Event
}

// NewRing creates a ring holding at most size events.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{size: size, events: make([]Event, 0, size)}
}

// Emit implements Sink.
func (r *Ring) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if len(r.events) > r.size {
		r.events = r.events[len(r.events)-r.size:]
	}
}

// Snapshot returns the buffered events, oldest first.
func (r *Ring) Snapshot() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
