// Package dev holds the in-tree device drivers. A device is an fs.Node
// whose handles satisfy the read/write contract; mappable devices also
// expose their buffer for device-backed mmap.
package dev

import (
	"context"
	"sync"

	"github.com/asoderman/os/abi"
	"github.com/asoderman/os/fs"
)

// Framebuffer is a linear pixel buffer device. The whole buffer can be
// projected into a process address space with a page-count 0 mmap.
type Framebuffer struct {
	mu sync.Mutex

	width  int
	height int
	buf    []byte
}

// bytes per pixel, 32bpp
const fbDepth = 4

func NewFramebuffer(width, height int) *Framebuffer {
	return &Framebuffer{
		width:  width,
		height: height,
		buf:    make([]byte, width*height*fbDepth),
	}
}

func (f *Framebuffer) Type() fs.NodeType {
	return fs.Device
}

func (f *Framebuffer) Len() int {
	return len(f.buf)
}

func (f *Framebuffer) Open(flags int) (fs.Handle, error) {
	if flags == 0 {
		flags = abi.OpenRDWR
	}

	return &fbHandle{fb: f, flags: flags}, nil
}

type fbHandle struct {
	fb    *Framebuffer
	flags int

	mu  sync.Mutex
	off int
}

func (h *fbHandle) Read(ctx context.Context, p []byte) (int, error) {
	if h.flags&abi.OpenRead == 0 {
		return 0, fs.ErrNotReadable
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.fb.mu.Lock()
	defer h.fb.mu.Unlock()

	if h.off >= len(h.fb.buf) {
		return 0, nil
	}

	n := copy(p, h.fb.buf[h.off:])
	h.off += n

	return n, nil
}

func (h *fbHandle) Write(ctx context.Context, p []byte) (int, error) {
	if h.flags&abi.OpenWrite == 0 {
		return 0, fs.ErrNotWritable
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.fb.mu.Lock()
	defer h.fb.mu.Unlock()

	if h.off >= len(h.fb.buf) {
		return 0, fs.ErrNotWritable
	}

	n := copy(h.fb.buf[h.off:], p)
	h.off += n

	return n, nil
}

func (h *fbHandle) Close() error {
	return nil
}

// MapBytes exposes the framebuffer for device-backed mappings. Every
// mapping of the device aliases the same pixels.
func (h *fbHandle) MapBytes() []byte {
	return h.fb.buf
}

func (h *fbHandle) Prot() int {
	return abi.MemRead | abi.MemWrite
}
