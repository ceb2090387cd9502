package host

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventKind names a bus event.
type EventKind string

// Host lifecycle events.
const (
	EventTabCreated   EventKind = "tab.created"
	EventTabUpdated   EventKind = "tab.updated"
	EventTabActivated EventKind = "tab.activated"
	EventTabRemoved   EventKind = "tab.removed"
)

// Application notifications published by the tab registry.
const (
	EventTitleChanged     EventKind = "title.changed"
	EventTargetChanged    EventKind = "target.changed"
	EventTargetCreated    EventKind = "target.created"
	EventTargetDestroyed  EventKind = "target.destroyed"
	EventTabStatus        EventKind = "tab.status"
	EventActiveTabChanged EventKind = "active.changed"
)

// Page lifecycle milestones carried by TabUpdated events.
const (
	LifecycleDOMContentLoaded = "domcontentloaded"
	LifecycleLoad             = "load"
	LifecycleNetworkIdle      = "networkidle"
)

// Attachment status values carried by TabStatus events.
const (
	TabAttached = "attached"
	TabDetached = "detached"
)

// Event is one bus message. Fields not relevant to Kind are zero.
type Event struct {
	Kind      EventKind `json:"kind"`
	TabID     TabID     `json:"tab_id,omitempty"`
	WindowID  WindowID  `json:"window_id,omitempty"`
	OldTabID  TabID     `json:"old_tab_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	Status    string    `json:"status,omitempty"`
	Lifecycle string    `json:"lifecycle,omitempty"`
	At        time.Time `json:"at"`
}

const streamBufSize = 256

type busHandler struct {
	id int64
	fn func(Event)
}

// Bus is a process-wide publish/subscribe hub. Handlers registered with
// Subscribe run synchronously on the publishing goroutine; streams opened
// with Stream receive a buffered copy and drop events when full.
//
// Publish must not be called while holding a lock that a handler takes.
type Bus struct {
	seq atomic.Int64

	mu       sync.RWMutex
	handlers map[EventKind][]busHandler
	streams  map[int64]chan Event
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventKind][]busHandler),
		streams:  make(map[int64]chan Event),
	}
}

// Subscribe registers fn for events of the given kind and returns a func
// that removes it. The returned func is safe to call more than once.
func (b *Bus) Subscribe(kind EventKind, fn func(Event)) func() {
	id := b.seq.Add(1)
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], busHandler{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			hs := b.handlers[kind]
			for i, h := range hs {
				if h.id == id {
					b.handlers[kind] = append(hs[:i:i], hs[i+1:]...)
					break
				}
			}
		})
	}
}

// HandlerCount returns the number of handlers registered for kind.
func (b *Bus) HandlerCount(kind EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

// Stream opens a buffered channel receiving every event. Slow readers have
// events dropped.
func (b *Bus) Stream() (int64, <-chan Event) {
	id := b.seq.Add(1)
	ch := make(chan Event, streamBufSize)
	b.mu.Lock()
	b.streams[id] = ch
	b.mu.Unlock()
	return id, ch
}

// CloseStream removes a stream and closes its channel.
func (b *Bus) CloseStream(id int64) {
	b.mu.Lock()
	ch, ok := b.streams[id]
	if ok {
		delete(b.streams, id)
		close(ch)
	}
	b.mu.Unlock()
}

// StreamCount returns the number of open streams.
func (b *Bus) StreamCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.streams)
}

// Publish delivers evt to every handler for its kind and to every stream.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]busHandler, len(b.handlers[evt.Kind]))
	copy(handlers, b.handlers[evt.Kind])
	for _, ch := range b.streams {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h.fn(evt)
	}
}
