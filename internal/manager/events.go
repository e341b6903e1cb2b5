package manager

import (
	"sync"
	"time"

	"toolvm/internal/download"
)

// EventKind classifies notifications delivered to subscribers.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventStatus    EventKind = "status"
	EventInstalled EventKind = "installed"
	EventSwitched  EventKind = "switched"
	EventRemoved   EventKind = "uninstalled"
	EventLocked    EventKind = "locked"
	EventCanceled  EventKind = "canceled"
	EventFailed    EventKind = "failed"
	EventTaskDone  EventKind = "task.done"
)

// Event is one notification. Progress events are coalesced per tool so
// subscribers are never flooded by stream chunks.
type Event struct {
	Kind     EventKind          `json:"kind"`
	TaskID   string             `json:"taskId,omitempty"`
	Tool     string             `json:"tool,omitempty"`
	Version  string             `json:"version,omitempty"`
	Message  string             `json:"message,omitempty"`
	Progress *download.Progress `json:"progress,omitempty"`
	Time     time.Time          `json:"time"`
}

// bus fans events out to subscribers. Progress events are held back
// and flushed on a ticker, latest per tool wins; everything else
// passes through immediately.
type bus struct {
	mu      sync.Mutex
	subs    map[chan Event]struct{}
	pending map[string]Event // tool -> latest progress event
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newBus(interval time.Duration) *bus {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	b := &bus{
		subs:    map[chan Event]struct{}{},
		pending: map[string]Event{},
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.run(interval)
	return b
}

// subscribe registers a receiver. The returned cancel func must be
// called to release it; a slow receiver drops events rather than
// blocking the emitters. Subscribing to a closed bus yields an
// already-closed channel.
func (b *bus) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
}

func (b *bus) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if e.Kind == EventProgress {
		b.pending[e.Tool] = e
		return
	}
	b.sendLocked(e)
}

func (b *bus) sendLocked(e Event) {
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *bus) run(interval time.Duration) {
	defer close(b.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.stopCh:
			b.flush()
			return
		}
	}
}

func (b *bus) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for tool, e := range b.pending {
		b.sendLocked(e)
		delete(b.pending, tool)
	}
}

func (b *bus) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
	close(b.stopCh)
	<-b.doneCh
}
