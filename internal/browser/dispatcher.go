package browser

import (
	"sync"

	"auth0session-go/internal/auth"
)

// Dispatcher fans out redirect URLs that reach the process from outside the
// browser call, e.g. a registered URL scheme handler.
type Dispatcher struct {
	mu        sync.Mutex
	listeners map[uint64]func(string)
	next      uint64
}

var _ auth.RedirectSource = (*Dispatcher)(nil)

func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[uint64]func(string))}
}

// Listen registers fn until the returned function is called.
func (d *Dispatcher) Listen(fn func(string)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.next
	d.next++
	d.listeners[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.listeners, id)
	}
}

// Dispatch delivers url to every current listener and returns how many
// received it.
func (d *Dispatcher) Dispatch(url string) int {
	d.mu.Lock()
	fns := make([]func(string), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(url)
	}
	return len(fns)
}
