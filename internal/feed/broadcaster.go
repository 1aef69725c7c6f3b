package feed

import (
	"sync"

	"github.com/caesar-terminal/swapdesk/internal/pricing"
)

// Broadcaster distributes price tables to any number of subscribers. Each
// subscriber holds at most one pending table: a slow reader skips straight
// to the newest one instead of blocking the publisher.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   []chan pricing.Table
	latest pricing.Table
	seen   bool
	closed bool
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe returns a channel of tables. If a table was already published it
// is delivered immediately.
func (b *Broadcaster) Subscribe() <-chan pricing.Table {
	ch := make(chan pricing.Table, 1)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	if b.seen {
		ch <- b.latest
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish replaces the pending table of every subscriber.
func (b *Broadcaster) Publish(table pricing.Table) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = table
	b.seen = true
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- table
	}
}

// Latest returns the last published table and whether one exists.
func (b *Broadcaster) Latest() (pricing.Table, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.seen
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
