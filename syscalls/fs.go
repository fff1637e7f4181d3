package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/asoderman/os/abi"
	"github.com/asoderman/os/kernel"
)

func readPath(t *kernel.Task, ptr, length uint64) (string, bool) {
	if length == 0 || length > 4096 {
		return "", false
	}

	buf := make([]byte, length)

	if err := t.CopyIn(uintptr(ptr), buf); err != nil {
		return "", false
	}

	return string(buf), true
}

func sysOpen(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	var (
		ptr    = args.Args.R0
		length = args.Args.R1
		flags  = args.Args.R2
	)

	path, ok := readPath(t, ptr, length)
	if !ok {
		return -abi.EINVAL
	}

	l.Trace("open", "pid", t.Pid, "path", path, "flags", flags)

	f, err := t.Kernel.Route(t, kernel.Request{
		Op:    abi.SYS_OPEN,
		Path:  path,
		Flags: int(flags),
	})
	if err != nil {
		return errno(err)
	}

	return int64(t.Files().Install(f))
}

func sysMkfifo(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	var (
		ptr    = args.Args.R0
		length = args.Args.R1
	)

	path, ok := readPath(t, ptr, length)
	if !ok {
		return -abi.EINVAL
	}

	l.Trace("mkfifo", "pid", t.Pid, "path", path)

	f, err := t.Kernel.Route(t, kernel.Request{
		Op:   abi.SYS_MKFIFO,
		Path: path,
	})
	if err != nil {
		return errno(err)
	}

	return int64(t.Files().Install(f))
}

func sysClose(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	fd := int(args.Args.R0)

	if err := t.Files().Close(fd); err != nil {
		return errno(err)
	}

	return 0
}

func sysRead(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	var (
		fd  = int(args.Args.R0)
		buf = args.Args.R1
		sz  = args.Args.R2
	)

	if sz > 1<<24 {
		return -abi.EINVAL
	}

	f, ok := t.Files().Get(fd)
	if !ok {
		return -abi.ENOENT
	}

	tmp := make([]byte, sz)

	t.Thread.SetBlocked(true)
	n, err := f.Read(ctx, tmp)
	t.Thread.SetBlocked(false)

	if err != nil {
		return errno(err)
	}

	if n == 0 {
		return 0
	}

	if err := t.CopyOut(uintptr(buf), tmp[:n]); err != nil {
		l.Error("error copying read data out", "error", err)
		return -abi.EINVAL
	}

	return int64(n)
}

func sysWrite(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	var (
		fd  = int(args.Args.R0)
		ptr = args.Args.R1
		sz  = args.Args.R2
	)

	if sz > 1<<24 {
		return -abi.EINVAL
	}

	f, ok := t.Files().Get(fd)
	if !ok {
		return -abi.ENOENT
	}

	data := make([]byte, sz)

	if err := t.CopyIn(uintptr(ptr), data); err != nil {
		l.Error("error reading write data from userspace", "error", err)
		return -abi.EINVAL
	}

	t.Thread.SetBlocked(true)
	n, err := f.Write(ctx, data)
	t.Thread.SetBlocked(false)

	// A partial transfer is reported as its byte count; the failure
	// surfaces on the next call that makes no progress.
	if n > 0 {
		return int64(n)
	}

	if err != nil {
		return errno(err)
	}

	return 0
}

func init() {
	Syscalls[abi.SYS_OPEN] = sysOpen
	Syscalls[abi.SYS_MKFIFO] = sysMkfifo
	Syscalls[abi.SYS_CLOSE] = sysClose
	Syscalls[abi.SYS_READ] = sysRead
	Syscalls[abi.SYS_WRITE] = sysWrite
}
