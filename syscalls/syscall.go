package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/asoderman/os/abi"
	"github.com/asoderman/os/fs"
	"github.com/asoderman/os/kernel"
	"github.com/asoderman/os/memory"
)

type SysArgs struct {
	Index int
	Args  SyscallRequest
}

type SyscallRequest struct {
	R0, R1, R2, R3, R4, R5 uint64
}

// Syscalls is the dispatch table. Handlers return a non-negative
// result or a negative abi error code; adding an operation is one
// table slot plus one handler.
var Syscalls [1024]func(context.Context, hclog.Logger, *kernel.Task, SysArgs) int64

// errno converts a subsystem error into its negative abi code.
func errno(err error) int64 {
	switch errors.Cause(err) {
	case nil:
		return 0
	case fs.ErrUnknownPath:
		return -abi.ENOENT
	case fs.ErrExists:
		return -abi.EEXIST
	case fs.ErrNotReadable:
		return -abi.EPERM
	case fs.ErrNotWritable:
		return -abi.ENOTWRITABLE
	case fs.ErrBrokenPipe:
		return -abi.EPIPE
	case fs.ErrBadOpenFlags:
		return -abi.EINVAL
	case memory.ErrOverlap:
		return -abi.EOVERLAP
	case memory.ErrNotMapped:
		return -abi.ENOTMAPPED
	case memory.ErrInvalidFlags, memory.ErrInvalidAccess:
		return -abi.EINVAL
	case memory.ErrOutOfMemory:
		return -abi.ENOMEM
	case kernel.ErrUnknownFile:
		return -abi.ENOENT
	case kernel.ErrPeerExited:
		return -abi.EPEEREXIT
	case kernel.ErrUnknownEntry:
		return -abi.EINVAL
	case context.Canceled, context.DeadlineExceeded:
		return -abi.EINTR
	default:
		return -abi.EINVAL
	}
}
