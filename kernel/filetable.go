package kernel

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/asoderman/os/abi"
	"github.com/asoderman/os/fs"
)

var ErrUnknownFile = errors.New("unknown file")

// File is one file table entry: either an open resource handle or a
// response object, never both. Entries are reference counted so a
// handle shared between descriptors is released exactly once.
type File struct {
	mu   sync.Mutex
	refs int

	Path  string
	Flags int

	handle fs.Handle
	resp   *Response
}

func NewHandleFile(path string, flags int, h fs.Handle) *File {
	if flags == 0 {
		flags = abi.OpenRDWR
	}

	return &File{
		refs:   1,
		Path:   path,
		Flags:  flags,
		handle: h,
	}
}

func NewResponseFile(resp *Response) *File {
	return &File{
		refs: 1,
		resp: resp,
	}
}

// Response returns the response object behind this entry, if any.
func (f *File) Response() (*Response, bool) {
	if f.resp == nil {
		return nil, false
	}

	return f.resp, true
}

// Handle returns the open resource behind this entry, if any.
func (f *File) Handle() (fs.Handle, bool) {
	if f.handle == nil {
		return nil, false
	}

	return f.handle, true
}

// Read blocks until data (or the operation result) is available and
// copies it into p. Returns 0 at end of data.
func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	if f.resp != nil {
		return f.resp.Read(ctx, p)
	}

	if f.Flags&abi.OpenRead == 0 {
		return 0, fs.ErrNotReadable
	}

	return f.handle.Read(ctx, p)
}

// Write sends p to the underlying endpoint. Response-backed entries
// have no writable side.
func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	if f.handle == nil {
		return 0, fs.ErrNotWritable
	}

	if f.Flags&abi.OpenWrite == 0 {
		return 0, fs.ErrNotWritable
	}

	return f.handle.Write(ctx, p)
}

func (f *File) incRef() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refs++
}

// Close drops one reference. The last reference releases the
// underlying resource; a still-pending response is simply detached and
// reclaimed when its producer completes.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refs--
	if f.refs > 0 {
		return nil
	}

	if f.handle != nil {
		return f.handle.Close()
	}

	return nil
}

// FileTable maps small integer descriptors to Files. One table per
// process, shared by its threads; operations are serialized by the
// table mutex so concurrent install/close/read keep descriptor
// allocation consistent.
type FileTable struct {
	mu    sync.Mutex
	files []*File
}

func NewFileTable() *FileTable {
	return &FileTable{}
}

// Install places f in the smallest free slot and returns its
// descriptor.
func (ft *FileTable) Install(f *File) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	for fd, cur := range ft.files {
		if cur == nil {
			ft.files[fd] = f
			return fd
		}
	}

	ft.files = append(ft.files, f)

	return len(ft.files) - 1
}

func (ft *FileTable) Get(fd int) (*File, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if fd < 0 || fd >= len(ft.files) {
		return nil, false
	}

	f := ft.files[fd]
	if f == nil {
		return nil, false
	}

	return f, true
}

// Close releases the slot. The descriptor value becomes reusable
// immediately.
func (ft *FileTable) Close(fd int) error {
	ft.mu.Lock()

	if fd < 0 || fd >= len(ft.files) || ft.files[fd] == nil {
		ft.mu.Unlock()
		return errors.Wrapf(ErrUnknownFile, "fd %d", fd)
	}

	f := ft.files[fd]
	ft.files[fd] = nil

	ft.mu.Unlock()

	return f.Close()
}

// Dup installs a second descriptor for an existing one.
func (ft *FileTable) Dup(fd int) (int, error) {
	f, ok := ft.Get(fd)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownFile, "fd %d", fd)
	}

	f.incRef()

	return ft.Install(f), nil
}

// CloseAll releases every live entry. Used at process exit.
func (ft *FileTable) CloseAll() {
	ft.mu.Lock()
	files := ft.files
	ft.files = nil
	ft.mu.Unlock()

	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}

// Live reports the number of occupied slots.
func (ft *FileTable) Live() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	var n int

	for _, f := range ft.files {
		if f != nil {
			n++
		}
	}

	return n
}
