// Package eventbus implements the Pulse stream (spec §4.10): a
// multi-producer/multi-consumer broadcast of mutation events. It is not
// lock-free: Publish holds a read lock on the subscriber registry, and
// a subscriber whose channel is full takes its own mutex while it swaps
// in the Lagged marker. Slow consumers lag rather than block producers; on overflow
// the oldest pulse is dropped and replaced with a Lagged(n) marker,
// adapting the subscription-list/atomic-id idiom of the pack's
// in-process event bus to bounded per-subscriber channels.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// PulseType enumerates the mutation kinds a Pulse can carry.
type PulseType string

const (
	PulseNewMemory         PulseType = "new_memory"
	PulseUpdated           PulseType = "updated"
	PulseForgotten         PulseType = "forgotten"
	PulseAssociationCreated PulseType = "association_created"
	PulseMaintenanceRan    PulseType = "maintenance_ran"
	// PulseLagged is synthesized locally by a subscriber's channel when
	// it could not keep up; it never comes from a producer.
	PulseLagged PulseType = "lagged"
)

// Pulse is a single informational event. MemoryID is set for
// memory-scoped pulses; Count carries the drop count for PulseLagged.
type Pulse struct {
	Type      PulseType
	MemoryID  string
	Count     int
	Timestamp time.Time
}

const defaultBufferSize = 64

type subscriber struct {
	id     uint64
	ch     chan Pulse
	mu     sync.Mutex
	lagged int
}

// deliver attempts a non-blocking send. On a full channel it drops the
// oldest queued pulse, discards the incoming one too, and enqueues a
// single Lagged marker summarizing everything dropped since the last
// successful delivery.
func (s *subscriber) deliver(p Pulse) {
	select {
	case s.ch <- p:
		return
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case old := <-s.ch:
		if old.Type == PulseLagged {
			s.lagged += old.Count
		} else {
			s.lagged++
		}
	default:
	}
	// The incoming pulse is discarded as well.
	s.lagged++

	select {
	case s.ch <- Pulse{Type: PulseLagged, Count: s.lagged, Timestamp: p.Timestamp}:
		s.lagged = 0
	default:
		// Raced with a consumer that hasn't drained yet; the count
		// accumulates and goes out on the next successful delivery.
	}
}

// Bus is an in-process pulse broadcaster.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID atomic.Uint64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Publish fans p out to every current subscriber. It never blocks.
func (b *Bus) Publish(p Pulse) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		s.deliver(p)
	}
}

// Subscribe registers a new consumer with the given channel buffer
// size (defaultBufferSize if <= 0) and returns its channel plus an
// unsubscribe function. Unsubscribe closes the channel; callers must
// stop reading from it once called.
func (b *Bus) Subscribe(bufferSize int) (<-chan Pulse, func()) {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	id := b.nextID.Add(1)
	s := &subscriber{id: id, ch: make(chan Pulse, bufferSize)}

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return s.ch, unsubscribe
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
