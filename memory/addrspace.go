package memory

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/asoderman/os/abi"
)

var (
	ErrOverlap       = errors.New("mapping overlaps an existing region")
	ErrNotMapped     = errors.New("range not mapped")
	ErrInvalidFlags  = errors.New("flags not supported by backing")
	ErrOutOfMemory   = errors.New("address space exhausted")
	ErrInvalidAccess = errors.New("invalid memory access")
)

// Backing is a device-provided data source projected into an address
// space. Anonymous mappings have no Backing.
type Backing interface {
	// MapBytes returns the device buffer the mapping aliases. Its
	// length defines the mapping size for page-count 0 requests.
	MapBytes() []byte

	// Prot returns the flag set the device supports.
	Prot() int
}

// Mapping is one contiguous virtual range owned by a single address
// space. Device mappings alias the device buffer; anonymous mappings
// own their bytes.
type Mapping struct {
	Start uintptr
	Pages int
	Flags int

	// prot bounds the flags Protect may set; device backings narrow it
	// to what the device supports.
	prot int

	data []byte
}

func (m *Mapping) End() uintptr {
	return m.Start + uintptr(m.Pages*abi.PageSize)
}

func (m *Mapping) Device() bool {
	return m.Flags&abi.MemDevice != 0
}

func (m *Mapping) Contains(addr uintptr) bool {
	return addr >= m.Start && addr < m.End()
}

func (m *Mapping) overlaps(start, end uintptr) bool {
	return start < m.End() && end > m.Start
}

func (m *Mapping) dup() *Mapping {
	child := &Mapping{}

	*child = *m

	// Device buffers stay shared; anonymous bytes are copied.
	if !m.Device() {
		child.data = make([]byte, len(m.data))
		copy(child.data, m.data)
	}

	return child
}

func pageCount(sz int) int {
	if sz == 0 {
		return 1
	}

	return (sz + abi.PageSize - 1) / abi.PageSize
}

const (
	mmapBase = uintptr(0x10000)
	addrTop  = uintptr(1) << 38
)

// AddressSpace owns the virtual mappings of one process.
type AddressSpace struct {
	mu sync.Mutex

	mappings []*Mapping

	nextMmapStart uintptr
}

func NewAddressSpace() *AddressSpace {
	return &AddressSpace{
		nextMmapStart: mmapBase,
	}
}

// Fork duplicates the address space for a new process. Anonymous
// backings are copied, device backings remain shared.
func (as *AddressSpace) Fork() *AddressSpace {
	as.mu.Lock()
	defer as.mu.Unlock()

	child := &AddressSpace{
		nextMmapStart: as.nextMmapStart,
		mappings:      make([]*Mapping, len(as.mappings)),
	}

	for i, m := range as.mappings {
		child.mappings[i] = m.dup()
	}

	return child
}

func (as *AddressSpace) findMapping(addr uintptr) (*Mapping, bool) {
	for _, m := range as.mappings {
		if m.Contains(addr) {
			return m, true
		}
	}

	return nil, false
}

func (as *AddressSpace) findExact(addr uintptr, pages int) (int, bool) {
	for i, m := range as.mappings {
		if m.Start == addr && m.Pages == pages {
			return i, true
		}
	}

	return -1, false
}

// Map reserves a new range. A zero addr lets the space choose one. With
// a Backing and page count 0 the mapping covers the backing's entire
// length. The requested range must not intersect any existing mapping.
func (as *AddressSpace) Map(addr uintptr, pages int, flags int, backing Backing) (*Mapping, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	if backing != nil {
		flags |= abi.MemDevice

		if pages == 0 {
			pages = pageCount(len(backing.MapBytes()))
		}

		if flags&^(backing.Prot()|abi.MemDevice) != 0 {
			return nil, errors.Wrapf(ErrInvalidFlags, "flags=%x allowed=%x", flags, backing.Prot())
		}
	} else if flags&abi.MemDevice != 0 {
		return nil, errors.Wrap(ErrInvalidFlags, "device flag without a backing descriptor")
	}

	if pages <= 0 {
		return nil, errors.Wrapf(ErrInvalidAccess, "bad page count %d", pages)
	}

	// Bound the count before computing the end so the byte size cannot
	// wrap around the address space.
	if pages > int(addrTop/abi.PageSize) {
		return nil, errors.Wrapf(ErrOutOfMemory, "page count %d exceeds the address space", pages)
	}

	if addr == 0 {
		addr = as.nextMmapStart
	}

	if addr%abi.PageSize != 0 {
		return nil, errors.Wrapf(ErrInvalidAccess, "unaligned address %x", addr)
	}

	end := addr + uintptr(pages*abi.PageSize)
	if end < addr || end > addrTop {
		return nil, errors.Wrapf(ErrOutOfMemory, "range %x-%x beyond address space", addr, end)
	}

	for _, m := range as.mappings {
		if m.overlaps(addr, end) {
			return nil, errors.Wrapf(ErrOverlap, "range %x-%x intersects %x-%x", addr, end, m.Start, m.End())
		}
	}

	m := &Mapping{
		Start: addr,
		Pages: pages,
		Flags: flags,
		prot:  abi.MemRead | abi.MemWrite | abi.MemExec,
	}

	if backing != nil {
		m.prot = backing.Prot()
		m.data = backing.MapBytes()
	} else {
		m.data = make([]byte, pages*abi.PageSize)
	}

	as.mappings = append(as.mappings, m)

	sort.Slice(as.mappings, func(i, j int) bool {
		return as.mappings[i].Start < as.mappings[j].Start
	})

	if end > as.nextMmapStart {
		as.nextMmapStart = end
	}

	return m, nil
}

// Protect changes the flags of an exact existing range.
func (as *AddressSpace) Protect(addr uintptr, pages int, flags int) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	i, ok := as.findExact(addr, pages)
	if !ok {
		return errors.Wrapf(ErrNotMapped, "range %x+%d pages", addr, pages)
	}

	m := as.mappings[i]

	if flags&^m.prot != 0 {
		return errors.Wrapf(ErrInvalidFlags, "flags=%x allowed=%x", flags, m.prot)
	}

	if m.Device() {
		flags |= abi.MemDevice
	}

	m.Flags = flags

	return nil
}

// Unmap releases an exact existing range.
func (as *AddressSpace) Unmap(addr uintptr, pages int) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	i, ok := as.findExact(addr, pages)
	if !ok {
		return errors.Wrapf(ErrNotMapped, "range %x+%d pages", addr, pages)
	}

	as.mappings = append(as.mappings[:i], as.mappings[i+1:]...)

	return nil
}

// Release drops every mapping. Called when the owning process exits.
func (as *AddressSpace) Release() {
	as.mu.Lock()
	defer as.mu.Unlock()

	as.mappings = nil
}

func (as *AddressSpace) MappingCount() int {
	as.mu.Lock()
	defer as.mu.Unlock()

	return len(as.mappings)
}

// ReadAt copies out of the space starting at addr. The range must fall
// inside a single readable mapping.
func (as *AddressSpace) ReadAt(p []byte, addr uintptr) (int, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	m, ok := as.findMapping(addr)
	if !ok {
		return 0, errors.Wrapf(ErrInvalidAccess, "read at %x", addr)
	}

	if m.Flags&abi.MemRead == 0 {
		return 0, errors.Wrapf(ErrInvalidAccess, "read at %x without MemRead", addr)
	}

	off := int(addr - m.Start)
	if off+len(p) > len(m.data) {
		return 0, errors.Wrapf(ErrInvalidAccess, "read %d bytes at %x past mapping end", len(p), addr)
	}

	return copy(p, m.data[off:off+len(p)]), nil
}

// WriteAt copies into the space starting at addr. The range must fall
// inside a single writable mapping.
func (as *AddressSpace) WriteAt(p []byte, addr uintptr) (int, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	m, ok := as.findMapping(addr)
	if !ok {
		return 0, errors.Wrapf(ErrInvalidAccess, "write at %x", addr)
	}

	if m.Flags&abi.MemWrite == 0 {
		return 0, errors.Wrapf(ErrInvalidAccess, "write at %x without MemWrite", addr)
	}

	off := int(addr - m.Start)
	if off+len(p) > len(m.data) {
		return 0, errors.Wrapf(ErrInvalidAccess, "write %d bytes at %x past mapping end", len(p), addr)
	}

	return copy(m.data[off:off+len(p)], p), nil
}
