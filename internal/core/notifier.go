package core

import "sync"

// Notifier is a broadcast wake-up signal. Each call to Notify wakes every
// waiter that called Wait before it and starts a new generation.
// It carries no payload; woken waiters re-read whatever they care about.
type Notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewNotifier constructs a notifier with an open generation.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{})}
}

// Wait returns a channel that is closed by the next Notify call.
// Dropping the channel without receiving from it is safe.
func (n *Notifier) Wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch
}

// Notify wakes all current waiters. It is a no-op when nobody waits.
func (n *Notifier) Notify() {
	n.mu.Lock()
	close(n.ch)
	n.ch = make(chan struct{})
	n.mu.Unlock()
}
