package kernel

import (
	"context"
	"sync"
	"time"
)

// ResponseState tracks the lifecycle of one requested operation.
type ResponseState int

const (
	// Pending means the producer has not delivered a result yet.
	Pending ResponseState = iota

	// Ready means the result (payload or error) is available.
	Ready

	// Consumed means the payload has been fully read out.
	Consumed
)

// Response is the result object for one operation. The producer side
// holds the sole right to move Pending to Ready, exactly once; the
// file table side consumes it through Read. A consumed one-shot object
// reports end of data on further reads and never re-runs the producer.
type Response struct {
	mu sync.Mutex

	state   ResponseState
	payload []byte
	err     error
	off     int

	done chan struct{}
}

func NewResponse() *Response {
	return &Response{
		done: make(chan struct{}),
	}
}

// ReadyResponse builds an already-fulfilled response. Used by the
// synchronous subsystems (memory manager) for protocol uniformity.
func ReadyResponse(payload []byte) *Response {
	r := NewResponse()
	r.Fulfill(payload, nil)

	return r
}

// TimerResponse becomes ready once d elapses. sleep() is a blocking
// read of one of these, so timing composes with the normal I/O path.
func TimerResponse(d time.Duration) *Response {
	r := NewResponse()

	time.AfterFunc(d, func() {
		r.Fulfill(nil, nil)
	})

	return r
}

// Fulfill delivers the result. Only the first call has any effect.
func (r *Response) Fulfill(payload []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Pending {
		return
	}

	r.state = Ready
	r.payload = payload
	r.err = err

	close(r.done)
}

func (r *Response) State() ResponseState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Err reports the delivered error, if any. Valid once Ready.
func (r *Response) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// Read blocks until the response is Ready, then drains the cached
// payload into p. Reads past full consumption return 0; they never
// re-trigger the producing operation. A delivered error is reported on
// every read, so a peer-exit indication is observed on each access.
func (r *Response) Read(ctx context.Context, p []byte) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-r.done:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return 0, r.err
	}

	if r.off >= len(r.payload) {
		r.state = Consumed
		return 0, nil
	}

	n := copy(p, r.payload[r.off:])
	r.off += n

	if r.off >= len(r.payload) {
		r.state = Consumed
	}

	return n, nil
}
