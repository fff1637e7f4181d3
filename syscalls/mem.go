package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/asoderman/os/abi"
	"github.com/asoderman/os/kernel"
	"github.com/asoderman/os/memory"
)

// noFd marks an mmap with no backing descriptor.
const noFd = ^uint64(0)

func sysMmap(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	var (
		addr  = uintptr(args.Args.R0)
		pages = int(args.Args.R1)
		flags = int(args.Args.R2)
		fd    = args.Args.R3
	)

	if flags == 0 {
		flags = abi.MemDefault
	}

	var backing memory.Backing

	if fd != noFd {
		f, ok := t.Files().Get(int(fd))
		if !ok {
			return -abi.ENOENT
		}

		h, ok := f.Handle()
		if !ok {
			return -abi.EINVAL
		}

		backing, ok = h.(memory.Backing)
		if !ok {
			// The device cannot be memory mapped.
			return -abi.EINVAL
		}
	}

	resp := t.MapMemory(addr, pages, flags, backing)
	if err := resp.Err(); err != nil {
		return errno(err)
	}

	var b [8]byte

	n, err := resp.Read(ctx, b[:])
	if err != nil {
		return errno(err)
	}

	mapped := kernel.DecodeAddr(b[:n])

	l.Trace("mmap", "pid", t.Pid, "addr", mapped, "pages", pages, "flags", flags)

	return int64(mapped)
}

func sysMprotect(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	var (
		addr  = uintptr(args.Args.R0)
		pages = int(args.Args.R1)
		flags = int(args.Args.R2)
	)

	if flags&^(abi.MemRead|abi.MemWrite|abi.MemExec) != 0 {
		return -abi.EINVAL
	}

	resp := t.ProtectMemory(addr, pages, flags)
	if err := resp.Err(); err != nil {
		return errno(err)
	}

	return 0
}

func sysMunmap(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	var (
		addr  = uintptr(args.Args.R0)
		pages = int(args.Args.R1)
	)

	resp := t.UnmapMemory(addr, pages)
	if err := resp.Err(); err != nil {
		return errno(err)
	}

	l.Trace("munmap", "pid", t.Pid, "addr", addr, "pages", pages)

	return 0
}

func init() {
	Syscalls[abi.SYS_MMAP] = sysMmap
	Syscalls[abi.SYS_MPROTECT] = sysMprotect
	Syscalls[abi.SYS_MUNMAP] = sysMunmap
}
