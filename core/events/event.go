package events

import "sync"

// Event represents a structured state change emitted by a module.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. the HTTP feed,
// the indexer).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events emitted while an operation is in flight so they can be
// published only once the operation commits.
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, evt)
	b.mu.Unlock()
}

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// Reset drops every buffered event.
func (b *Buffer) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Fanout forwards every event to each configured emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
