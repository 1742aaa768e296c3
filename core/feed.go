package core

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"optionsvault/core/events"
	"optionsvault/core/types"
)

const feedHistoryLimit = 2048

// FeedEntry is a committed event stamped with its position in the feed.
type FeedEntry struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"ts"`
}

func cloneFeedEntry(entry FeedEntry) FeedEntry {
	cloned := entry
	if entry.Attributes != nil {
		cloned.Attributes = make(map[string]string, len(entry.Attributes))
		for k, v := range entry.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

// Attr returns the attribute value or the empty string.
func (e FeedEntry) Attr(key string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// typedEvent is implemented by module events that carry attributes.
type typedEvent interface {
	Event() *types.Event
}

// EventPayload extracts the typed payload of a module event.
func EventPayload(evt events.Event) *types.Event {
	switch e := evt.(type) {
	case nil:
		return nil
	case *types.Event:
		return e.Clone()
	case typedEvent:
		if inner := e.Event(); inner != nil {
			return inner.Clone()
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Feed sequences committed events, keeps a bounded history and fans entries
// out to subscribers. Slow subscribers miss entries rather than block the
// runtime.
type Feed struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan FeedEntry
	history []FeedEntry
	now     func() time.Time
}

// NewFeed constructs an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[uint64]chan FeedEntry), now: time.Now}
}

// SetNowFunc overrides the timestamp source.
func (f *Feed) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// Emit implements events.Emitter.
func (f *Feed) Emit(evt events.Event) {
	payload := EventPayload(evt)
	if f == nil || payload == nil {
		return
	}

	f.mu.Lock()
	f.seq++
	entry := FeedEntry{
		Sequence:   f.seq,
		Cursor:     strconv.FormatUint(f.seq, 10),
		Type:       payload.Type,
		Attributes: payload.Attributes,
		Timestamp:  f.now().Unix(),
	}
	f.history = append(f.history, cloneFeedEntry(entry))
	if len(f.history) > feedHistoryLimit {
		excess := len(f.history) - feedHistoryLimit
		trimmed := make([]FeedEntry, feedHistoryLimit)
		copy(trimmed, f.history[excess:])
		f.history = trimmed
	}
	subscribers := make([]chan FeedEntry, 0, len(f.subs))
	for _, ch := range f.subs {
		subscribers = append(subscribers, ch)
	}
	f.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- cloneFeedEntry(entry):
		default:
		}
	}
}

// Subscribe registers a subscriber for entries after cursor. The backlog holds
// the retained history past the cursor; cancel releases the subscription and
// closes the channel. Cancellation of ctx cancels the subscription as well.
func (f *Feed) Subscribe(ctx context.Context, cursor string) (<-chan FeedEntry, func(), []FeedEntry) {
	updates := make(chan FeedEntry, 64)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = updates
	backlog := make([]FeedEntry, 0, len(f.history))
	for _, entry := range f.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneFeedEntry(entry))
		}
	}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
			f.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Sequence returns the sequence of the last published entry.
func (f *Feed) Sequence() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}
