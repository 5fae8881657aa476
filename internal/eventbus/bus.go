// Package eventbus is an in-process, lossy fan-out of lifecycle events
// (cycles, deliveries, reloads). Publishers never block; a subscriber that
// falls behind misses events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Type string
	Time time.Time // set by Publish when zero
	Data any       // one of the *Info types for known Types
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

const defaultBuffer = 8

// New returns an in-memory bus. It starts no goroutines.
func New() Bus {
	return &memBus{subs: make(map[*subscriber]struct{})}
}

type subscriber struct {
	ch chan Event
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
}

// Publish sends under the read lock, so unsubscribe (which takes the write
// lock before closing) can never race a send.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a buffered listener. The returned func is idempotent
// and closes the channel.
func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
	}
}

// Dropped counts events lost to full subscribers on a bus made by New.
func Dropped(b Bus) uint64 {
	if m, ok := b.(*memBus); ok {
		return m.dropped.Load()
	}
	return 0
}
