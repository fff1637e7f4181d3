package fs

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrUnknownPath  = errors.New("unknown path")
	ErrExists       = errors.New("path already exists")
	ErrNotReadable  = errors.New("endpoint is not readable")
	ErrNotWritable  = errors.New("endpoint is not writable")
	ErrBrokenPipe   = errors.New("pipe buffer full with no reader")
	ErrBadOpenFlags = errors.New("bad open flags")
)

// NodeType enumerates types of namespace nodes.
type NodeType int

const (
	// Device is a hardware-backed endpoint under /dev.
	Device NodeType = iota

	// Fifo is a named pipe in the transient namespace.
	Fifo
)

func (n NodeType) String() string {
	switch n {
	case Device:
		return "device"
	case Fifo:
		return "fifo"
	default:
		return "unknown"
	}
}

// Node is a named, openable endpoint. The Node outlives any individual
// open; per-open state lives on the Handle.
type Node interface {
	Type() NodeType

	// Open creates a new handle. flags is an abi.Open* combination;
	// zero means read-write.
	Open(flags int) (Handle, error)
}

// Handle is one open reference to a Node. Reads and writes may block;
// they honor ctx cancellation.
type Handle interface {
	Read(ctx context.Context, p []byte) (int, error)
	Write(ctx context.Context, p []byte) (int, error)
	Close() error
}
