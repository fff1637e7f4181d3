package fs

import (
	"context"
	"sync"

	"github.com/asoderman/os/abi"
	"github.com/asoderman/os/pkg/waiter"
)

// FifoCapacity bounds the bytes buffered by one named pipe. Writers
// block when the buffer is full and a reader remains open; data is
// never dropped.
const FifoCapacity = abi.PageSize

// FifoNode is a named pipe. All opens of one name share the buffer;
// each open tracks its own direction so reader/writer presence can be
// counted.
type FifoNode struct {
	mu sync.Mutex

	buf []byte

	readers int
	writers int

	events waiter.Waiter
}

func NewFifo() *FifoNode {
	return &FifoNode{}
}

func (f *FifoNode) Type() NodeType {
	return Fifo
}

func (f *FifoNode) Open(flags int) (Handle, error) {
	if flags == 0 {
		flags = abi.OpenRDWR
	}

	if flags&^abi.OpenRDWR != 0 {
		return nil, ErrBadOpenFlags
	}

	f.mu.Lock()

	if flags&abi.OpenRead != 0 {
		f.readers++
	}

	if flags&abi.OpenWrite != 0 {
		f.writers++
	}

	f.mu.Unlock()

	// A new writer unblocks nothing, but a new reader clears the
	// broken-pipe condition for blocked writers.
	f.events.Notify(waiter.EventWritable)

	return &fifoHandle{fifo: f, flags: flags}, nil
}

type fifoHandle struct {
	fifo  *FifoNode
	flags int

	mu     sync.Mutex
	closed bool
}

// Read copies buffered bytes out of the pipe. An empty pipe blocks the
// caller until a writer supplies data; once no writers remain it
// returns 0.
func (h *fifoHandle) Read(ctx context.Context, p []byte) (int, error) {
	if h.flags&abi.OpenRead == 0 {
		return 0, ErrNotReadable
	}

	if len(p) == 0 {
		return 0, nil
	}

	f := h.fifo

	c := make(chan struct{}, 1)
	ev := f.events.RegisterChannel(waiter.EventReadable|waiter.EventHangup, c)
	defer f.events.Unregister(ev)

	for {
		f.mu.Lock()

		if len(f.buf) > 0 {
			n := copy(p, f.buf)
			f.buf = f.buf[n:]
			f.mu.Unlock()

			f.events.Notify(waiter.EventWritable)

			return n, nil
		}

		if f.writers == 0 {
			f.mu.Unlock()
			return 0, nil
		}

		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-c:
		}
	}
}

// Write appends to the pipe buffer, blocking while it is full as long
// as a reader remains open. With no readers a full buffer fails with
// ErrBrokenPipe instead of dropping data.
func (h *fifoHandle) Write(ctx context.Context, p []byte) (int, error) {
	if h.flags&abi.OpenWrite == 0 {
		return 0, ErrNotWritable
	}

	f := h.fifo

	c := make(chan struct{}, 1)
	ev := f.events.RegisterChannel(waiter.EventWritable|waiter.EventHangup, c)
	defer f.events.Unregister(ev)

	var total int

	for len(p) > 0 {
		f.mu.Lock()

		space := FifoCapacity - len(f.buf)

		if space > 0 {
			n := space
			if n > len(p) {
				n = len(p)
			}

			f.buf = append(f.buf, p[:n]...)
			p = p[n:]
			total += n

			f.mu.Unlock()

			f.events.Notify(waiter.EventReadable)

			continue
		}

		if f.readers == 0 {
			f.mu.Unlock()
			return total, ErrBrokenPipe
		}

		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-c:
		}
	}

	return total, nil
}

func (h *fifoHandle) Close() error {
	h.mu.Lock()

	if h.closed {
		h.mu.Unlock()
		return nil
	}

	h.closed = true
	h.mu.Unlock()

	f := h.fifo

	f.mu.Lock()

	if h.flags&abi.OpenRead != 0 {
		f.readers--
	}

	if h.flags&abi.OpenWrite != 0 {
		f.writers--
	}

	f.mu.Unlock()

	// Wake blocked peers so they can observe EOF or broken pipe.
	f.events.Notify(waiter.EventHangup)

	return nil
}
