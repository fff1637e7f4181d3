package kernel

import (
	"encoding/binary"

	"github.com/asoderman/os/memory"
)

// The memory operations need no blocking I/O, so their responses are
// always immediately Ready; they go through Response anyway so every
// operation family delivers results the same way.

// MapMemory reserves a range in the process's address space. The
// payload of a successful response is the mapped base address.
func (p *Process) MapMemory(addr uintptr, pages, flags int, backing memory.Backing) *Response {
	r := NewResponse()

	m, err := p.Mem.Map(addr, pages, flags, backing)
	if err != nil {
		r.Fulfill(nil, err)
		return r
	}

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(m.Start))

	r.Fulfill(b[:], nil)

	return r
}

// DecodeAddr recovers the base address from a MapMemory payload.
func DecodeAddr(p []byte) uintptr {
	if len(p) < 8 {
		return 0
	}

	return uintptr(binary.LittleEndian.Uint64(p))
}

// ProtectMemory changes the flags of an exact mapped range.
func (p *Process) ProtectMemory(addr uintptr, pages, flags int) *Response {
	r := NewResponse()
	r.Fulfill(nil, p.Mem.Protect(addr, pages, flags))

	return r
}

// UnmapMemory releases an exact mapped range.
func (p *Process) UnmapMemory(addr uintptr, pages int) *Response {
	r := NewResponse()
	r.Fulfill(nil, p.Mem.Unmap(addr, pages))

	return r
}
