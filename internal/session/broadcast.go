package session

import "sync"

// Broadcaster fans access-token updates out to subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the value. Late
// subscribers see only values published after they joined.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan string
	next   int
	buffer int
	closed bool
}

// NewBroadcaster returns a broadcaster whose subscriber channels hold up to
// buffer pending values.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 0 {
		buffer = 0
	}
	return &Broadcaster{subs: make(map[int]chan string), buffer: buffer}
}

// Subscribe returns a channel of updates and a function that ends the
// subscription and closes the channel.
func (b *Broadcaster) Subscribe() (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan string, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers v to every subscriber that has room for it.
func (b *Broadcaster) Publish(v string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
