package events

import (
	"sync"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
)

// Event is a captured emission.
type Event struct {
	Channel core.Channel
	Type    core.EventType
	Payload map[string]any
}

// Recorder is a Sink that keeps every event in memory. It is used by tests
// and by the embedded server when no publisher is configured.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ch core.Channel, eventType core.EventType, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Channel: ch, Type: eventType, Payload: payload})
}

// Events returns a snapshot of recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(t core.EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
