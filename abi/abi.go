package abi

// Syscall numbers. The dispatch table is an open set; unknown numbers
// fail with EINVALOP.
const (
	SYS_HELLO    = 0
	SYS_SLEEP    = 1
	SYS_YIELD    = 2
	SYS_EXIT     = 3
	SYS_LOGPRINT = 4
	SYS_MMAP     = 5
	SYS_MUNMAP   = 6
	SYS_MPROTECT = 7
	SYS_OPEN     = 8
	SYS_CLOSE    = 9
	SYS_READ     = 10
	SYS_WRITE    = 11
	SYS_CLONE    = 12
	SYS_MKFIFO   = 13
)

// Error codes returned to user code as negative results. Handlers return
// -Exxx; 0 or a positive value means success.
const (
	EINVALOP     = 1  // unknown or malformed operation
	EINVAL       = 2  // bad pointer, range, length or flag combination
	ENOENT       = 3  // name or descriptor unresolved
	EEXIST       = 4  // name already taken
	EPERM        = 5  // permission denied
	EOVERLAP     = 6  // mapping intersects an existing one
	ENOTMAPPED   = 7  // range not owned by the caller
	ENOTWRITABLE = 8  // descriptor has no writable endpoint
	EPIPE        = 9  // pipe full with no reader left
	ENOMEM       = 10 // address space or backing exhausted
	EPEEREXIT    = 11 // peer process exited
	EINTR        = 12 // interrupted by cancellation
)

const PageSize = 4096

// Memory mapping flags.
const (
	MemRead   = 1
	MemWrite  = 1 << 1
	MemExec   = 1 << 2
	MemDevice = 1 << 3

	MemDefault = MemRead | MemWrite
)

// Open flags. Zero means RDWR.
const (
	OpenRead  = 1
	OpenWrite = 1 << 1
	OpenRDWR  = OpenRead | OpenWrite
)

// Clone flags.
const (
	CloneThread = 1
)
