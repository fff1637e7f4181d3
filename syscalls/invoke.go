package syscalls

import (
	"context"

	"github.com/asoderman/os/abi"
	"github.com/asoderman/os/kernel"
	"github.com/asoderman/os/log"
)

// Invoker is the single entry point for traps out of user code. It
// resolves the calling task, validates the operation number and hands
// off to the dispatch table.
type Invoker struct {
	Kernel *kernel.Kernel
}

func (i *Invoker) InvokeSyscall(ctx context.Context, args SysArgs) int64 {
	if args.Index < 0 || args.Index >= len(Syscalls) {
		return -abi.EINVALOP
	}

	f := Syscalls[args.Index]
	if f == nil {
		return -abi.EINVALOP
	}

	t, ok := kernel.GetTask(ctx)
	if !ok {
		return -abi.EINVALOP
	}

	log.L.Trace("syscall", "pid", t.Pid, "tid", t.Thread.Tid, "index", args.Index)

	return f(ctx, log.L, t, args)
}
