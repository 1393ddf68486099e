// Package syncq defines the contract with the external durable retry
// queue. The queue itself lives outside this service: it captures store
// writes issued while offline and replays them later. This side only
// relays its start/finish signals so the UI layer can block conflicting
// edits during a replay. Replays are safe because every store write is an
// upsert and every delete tolerates a missing document.
package syncq

import "sync"

// Kind of a replay signal.
type Kind int

const (
	ReplayStarted Kind = iota
	ReplayCompleted
)

// Signal is one replay lifecycle event. OK is meaningful only for
// ReplayCompleted.
type Signal struct {
	Kind Kind
	OK   bool
}

// Notifier is the publishing half of the contract. The HTTP layer relays
// the queue's callbacks through it.
type Notifier interface {
	Publish(Signal)
}

// Broadcaster fans replay signals out to any number of subscribers.
// Publishing never blocks: a subscriber that is not draining its channel
// misses signals rather than stalling the replay.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Signal]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Signal]struct{})}
}

// Subscribe returns a signal channel and a cancel func that releases it.
func (b *Broadcaster) Subscribe() (<-chan Signal, func()) {
	ch := make(chan Signal, 4)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers sig to every current subscriber.
func (b *Broadcaster) Publish(sig Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- sig:
		default:
		}
	}
}
