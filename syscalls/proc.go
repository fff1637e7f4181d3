package syscalls

import (
	"context"
	"runtime"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/asoderman/os/abi"
	"github.com/asoderman/os/kernel"
)

func sysHello(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	l.Info("hello from userspace", "pid", t.Pid)
	return 0
}

// sysClone starts a new execution context at a registered entry point.
// The returned descriptor refers to the new context's status object in
// the caller's table.
func sysClone(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	var (
		entryIdx = int(args.Args.R0)
		flags    = int(args.Args.R1)
	)

	entry, err := t.Kernel.Entry(entryIdx)
	if err != nil {
		return errno(err)
	}

	var status *kernel.Response

	if flags&abi.CloneThread != 0 {
		thread, err := t.Kernel.CloneThread(t.Process, entry)
		if err != nil {
			return errno(err)
		}

		l.Trace("clone-thread", "pid", t.Pid, "tid", thread.Tid)

		status = thread.StatusResponse()
	} else {
		child, err := t.Kernel.CloneProcess(t.Process, entry)
		if err != nil {
			return errno(err)
		}

		l.Trace("clone-process", "pid", t.Pid, "child", child.Pid)

		status = child.StatusResponse()
	}

	return int64(t.Files().Install(kernel.NewResponseFile(status)))
}

func sysExit(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	status := int(args.Args.R0)

	l.Trace("exit", "pid", t.Pid, "tid", t.Thread.Tid, "status", status)

	t.Exit(status)

	// not reached
	return 0
}

// sysSleep parks the thread on a timer response read, so sleeping and
// blocking I/O share one suspension path.
func sysSleep(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	seconds := args.Args.R0

	resp := kernel.TimerResponse(time.Duration(seconds) * time.Second)

	fd := t.Files().Install(kernel.NewResponseFile(resp))
	defer t.Files().Close(fd)

	f, ok := t.Files().Get(fd)
	if !ok {
		return -abi.ENOENT
	}

	t.Thread.SetBlocked(true)
	_, err := f.Read(ctx, nil)
	t.Thread.SetBlocked(false)

	if err != nil {
		return errno(err)
	}

	return 0
}

func sysYield(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	runtime.Gosched()
	return 0
}

// sysLogPrint is the diagnostic channel; it bypasses the file table
// entirely and writes straight to the kernel log.
func sysLogPrint(ctx context.Context, l hclog.Logger, t *kernel.Task, args SysArgs) int64 {
	var (
		ptr    = args.Args.R0
		length = args.Args.R1
	)

	if length > 4096 {
		return -abi.EINVAL
	}

	buf := make([]byte, length)

	if err := t.CopyIn(uintptr(ptr), buf); err != nil {
		return -abi.EINVAL
	}

	l.Info("k_log", "pid", t.Pid, "msg", string(buf))

	return int64(length)
}

func init() {
	Syscalls[abi.SYS_HELLO] = sysHello
	Syscalls[abi.SYS_SLEEP] = sysSleep
	Syscalls[abi.SYS_YIELD] = sysYield
	Syscalls[abi.SYS_EXIT] = sysExit
	Syscalls[abi.SYS_LOGPRINT] = sysLogPrint
	Syscalls[abi.SYS_CLONE] = sysClone
}
