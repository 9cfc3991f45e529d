package internal

import "sync"

// Subscription is a cancellable handle returned by a broadcaster. Cancelling
// it is safe to call more than once and safe to call while the underlying
// broadcaster is concurrently firing.
type Subscription struct {
	cancel func()
	once   sync.Once
}

// Cancel unregisters the listener. A nil receiver is a no-op, matching the
// spec's contract that subscriptions are safe to drop even after the cell
// they were taken on is gone.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

type listenerID int64

type listener struct {
	id listenerID
	fn func(v any)
}

// broadcaster is a multi-subscriber, registration-ordered fan-out used both
// by Cell's per-cell change notifier and by Node's update_event. Listeners
// are invoked synchronously, in registration order, and a listener removed
// mid-fire (by cancelling its own subscription) will not be invoked again.
type broadcaster struct {
	mu     sync.Mutex
	nextID listenerID
	order  []listenerID
	byID   map[listenerID]func(v any)
}

func newBroadcaster() *broadcaster {
	return &broadcaster{byID: make(map[listenerID]func(v any))}
}

// Subscribe registers fn and returns a handle to unregister it later.
func (b *broadcaster) Subscribe(fn func(v any)) *Subscription {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.order = append(b.order, id)
	b.byID[id] = fn
	b.mu.Unlock()

	return &Subscription{cancel: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.byID, id)
		for i, existing := range b.order {
			if existing == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}}
}

// Fire invokes every currently-registered listener, in registration order,
// with v. A snapshot of the listener list is taken under lock so that a
// listener cancelling its own (or another) subscription during the fire
// does not race the iteration.
func (b *broadcaster) Fire(v any) {
	b.mu.Lock()
	fns := make([]func(v any), 0, len(b.order))
	for _, id := range b.order {
		if fn, ok := b.byID[id]; ok {
			fns = append(fns, fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len reports the number of live listeners, mostly useful for tests.
func (b *broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
