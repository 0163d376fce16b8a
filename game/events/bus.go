package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("pkg", "events")

// Type names a kind of session event.
type Type string

const (
	Revealed            Type = "revealed"
	WinningRevealed     Type = "winning_revealed"
	LockAcquired        Type = "lock_acquired"
	LockReleased        Type = "lock_released"
	SessionReset        Type = "session_reset"
	SessionDeleted      Type = "session_deleted"
	SessionReconfigured Type = "session_reconfigured"
)

// Event is something that happened to one session.
type Event struct {
	Type      Type      `json:"type"`
	Code      string    `json:"session"`
	Index     int       `json:"index,omitempty"`
	Value     int       `json:"value,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(e Event)
}

const DefaultBuffer = 64

type subscriber struct {
	ch    chan Event
	types map[Type]bool
}

// Bus fans events out to subscribers. A subscriber whose buffer is full
// misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe returns a channel receiving events of the given types, or every
// event when none are given. The returned function unsubscribes and closes
// the channel.
func (b *Bus) Subscribe(buffer int, types ...Type) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

// Publish delivers e to every interested subscriber.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[e.Type] {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			log.WithFields(logrus.Fields{"type": e.Type, "session": e.Code}).Warn("subscriber buffer full, event dropped")
		}
	}
}

// Close unsubscribes everyone. Later publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(Event) {}
