package pipeline

import "sync"

// Broadcaster publishes Outcomes to whoever is subscribed at the time.
// Delivery is best effort: a subscriber whose buffer is full misses the
// Outcome, and publishing with no subscribers is not an error.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Outcome
	next   int
	buffer int
}

// NewBroadcaster creates a broadcaster whose subscriptions buffer up to
// buffer Outcomes each.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{subs: make(map[int]chan Outcome), buffer: buffer}
}

// Subscribe returns a channel of future Outcomes and a function that ends
// the subscription and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Outcome, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Outcome, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish offers o to every subscriber without blocking and returns how
// many received it.
func (b *Broadcaster) Publish(o Outcome) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- o:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
