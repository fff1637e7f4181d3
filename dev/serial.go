package dev

import (
	"context"
	"io"
	"sync"

	"github.com/asoderman/os/fs"
)

// Serial is the console output device. It is a pure sink: writes are
// forwarded byte-for-byte to the host writer, reads always report end
// of data, and it cannot be memory mapped.
type Serial struct {
	mu  sync.Mutex
	out io.Writer
}

func NewSerial(out io.Writer) *Serial {
	return &Serial{out: out}
}

func (s *Serial) Type() fs.NodeType {
	return fs.Device
}

func (s *Serial) Open(flags int) (fs.Handle, error) {
	return &serialHandle{serial: s}, nil
}

type serialHandle struct {
	serial *Serial
}

func (h *serialHandle) Read(ctx context.Context, p []byte) (int, error) {
	return 0, nil
}

func (h *serialHandle) Write(ctx context.Context, p []byte) (int, error) {
	h.serial.mu.Lock()
	defer h.serial.mu.Unlock()

	return h.serial.out.Write(p)
}

func (h *serialHandle) Close() error {
	return nil
}
