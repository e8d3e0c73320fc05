package foldercache

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Region names the cache an Event belongs to.
const Region = "ListLsubCache"

// Event tells other nodes to drop their cached folders for a user, or for one of the user's
// accounts when AccountID is set.
type Event struct {
	Region    string `json:"region"`
	ContextID int    `json:"contextId"`
	UserID    string `json:"userId"`
	AccountID *int   `json:"accountId,omitempty"`
	// Key is the cache key the event refers to, in AccountKey or user key form.
	Key string `json:"key"`
	// Origin is the node id of the publisher.
	Origin string `json:"origin"`
	// ForceNewConnection asks receivers to also discard open connections.
	ForceNewConnection bool `json:"forceNewConnection,omitempty"`
}

// Broadcaster delivers invalidation events to other nodes. Publish must not block.
type Broadcaster interface {
	Publish(Event)
}

// NopBroadcaster drops every event.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(Event) {}

// NewNodeID returns a random id identifying this process as an event origin.
func NewNodeID() string {
	return uuid.NewString()
}

// AsyncBroadcaster decouples publishers from a slow sink. Events that do not fit into the
// buffer are dropped.
type AsyncBroadcaster struct {
	sink   func(Event)
	events chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncBroadcaster starts the delivery goroutine. Close stops it.
func NewAsyncBroadcaster(sink func(Event), buffer int) *AsyncBroadcaster {
	b := &AsyncBroadcaster{
		sink:   sink,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *AsyncBroadcaster) run() {
	defer close(b.done)
	for ev := range b.events {
		b.sink(ev)
	}
}

// Publish enqueues the event, or drops it when the buffer is full.
func (b *AsyncBroadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		logrus.WithField("key", ev.Key).Warn("Invalidation buffer full, dropping event")
	}
}

// Close delivers what is buffered and stops the goroutine.
func (b *AsyncBroadcaster) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	b.mu.Unlock()
	<-b.done
}

var _ Broadcaster = (*AsyncBroadcaster)(nil)
var _ Broadcaster = NopBroadcaster{}
