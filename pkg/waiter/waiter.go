// Package waiter implements event registration for blocking paths: a
// thread parks on a channel registered for an event mask and the
// producer side notifies the mask when state changes.
package waiter

import (
	"sync"

	"github.com/asoderman/os/pkg/ilist"
)

type EventType uint64

// Common event masks used by fifos and response objects.
const (
	EventReadable EventType = 1 << iota
	EventWritable
	EventHangup
)

type Waiter struct {
	mu sync.RWMutex

	count   int
	waiters ilist.List
}

type Event struct {
	ilist.Entry

	Mask     EventType
	Context  interface{}
	Callback func(e *Event)
}

func (w *Waiter) Register(e *Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count++

	w.waiters.PushBack(e)
}

func triggerChan(e *Event) {
	c := e.Context.(chan struct{})

	select {
	case c <- struct{}{}:
	default:
	}
}

// RegisterChannel arranges for a non-blocking send on c whenever an
// event in mask fires. The channel should be buffered.
func (w *Waiter) RegisterChannel(mask EventType, c chan struct{}) *Event {
	e := &Event{
		Callback: triggerChan,
		Context:  c,
		Mask:     mask,
	}

	w.Register(e)

	return e
}

func (w *Waiter) Unregister(e *Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.count--

	w.waiters.Remove(e)
}

func (w *Waiter) Notify(mask EventType) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for it := w.waiters.Front(); it != nil; it = it.Next() {
		e := it.(*Event)
		if mask&e.Mask != 0 {
			e.Callback(e)
		}
	}
}
