package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/asoderman/os/abi"
	"github.com/asoderman/os/dev"
	"github.com/asoderman/os/kernel"
	clog "github.com/asoderman/os/log"
	"github.com/asoderman/os/syscalls"
)

var (
	fCores  = pflag.IntP("cores", "c", 2, "number of processor cores to bring online")
	fWidth  = pflag.Int("fb-width", 640, "framebuffer width in pixels")
	fHeight = pflag.Int("fb-height", 480, "framebuffer height in pixels")
	fDump   = pflag.Bool("dump", false, "dump kernel state after the init process exits")
)

func main() {
	pflag.Parse()

	width, height := *fWidth, *fHeight

	// On a tty, size the framebuffer console to the terminal instead.
	if ws, err := unix.IoctlGetWinsize(int(os.Stdout.Fd()), unix.TIOCGWINSZ); err == nil {
		width = int(ws.Xpixel)
		height = int(ws.Ypixel)

		if width == 0 || height == 0 {
			width, height = *fWidth, *fHeight
		}
	}

	k := kernel.NewKernel()

	serial := dev.NewSerial(os.Stdout)
	k.SetConsole(serial)

	fb := dev.NewFramebuffer(width, height)

	if err := k.Namespace.RegisterDevice("/dev/serial", serial); err != nil {
		clog.L.Error("registering serial device", "error", err)
		os.Exit(1)
	}

	if err := k.Namespace.RegisterDevice("/dev/fb0", fb); err != nil {
		clog.L.Error("registering framebuffer device", "error", err)
		os.Exit(1)
	}

	for i := 0; i < *fCores; i++ {
		k.StartCore(i)
	}

	inv := &syscalls.Invoker{Kernel: k}

	proc, err := k.Spawn(initProgram(inv))
	if err != nil {
		clog.L.Error("spawning init", "error", err)
		os.Exit(1)
	}

	clog.L.Info("init process started", "pid", proc.Pid)

	k.Wait()

	if *fDump {
		spew.Fdump(os.Stderr, proc)
	}
}

// initProgram exercises the syscall surface end to end: it greets over
// k_log, pushes a banner through a fifo, paints the framebuffer and
// idles briefly.
func initProgram(inv *syscalls.Invoker) kernel.EntryFunc {
	return func(ctx context.Context, t *kernel.Task) {
		stage := func(data []byte) uintptr {
			addr := inv.InvokeSyscall(ctx, sys(abi.SYS_MMAP, 0, 1, uint64(abi.MemDefault), ^uint64(0)))
			if addr < 0 {
				t.Exit(int(addr))
			}

			if err := t.CopyOut(uintptr(addr), data); err != nil {
				t.Exit(-abi.EINVAL)
			}

			return uintptr(addr)
		}

		msg := []byte("init: up")
		inv.InvokeSyscall(ctx, sys(abi.SYS_LOGPRINT, uint64(stage(msg)), uint64(len(msg))))

		path := []byte("/tmp/banner")
		pathAddr := stage(path)

		fd := inv.InvokeSyscall(ctx, sys(abi.SYS_MKFIFO, uint64(pathAddr), uint64(len(path))))
		if fd < 0 {
			t.Exit(int(fd))
		}

		banner := []byte(fmt.Sprintf("booted %s\n", time.Now().Format(time.RFC3339)))
		bannerAddr := stage(banner)

		inv.InvokeSyscall(ctx, sys(abi.SYS_WRITE, uint64(fd), uint64(bannerAddr), uint64(len(banner))))

		readBuf := stage(make([]byte, len(banner)))

		n := inv.InvokeSyscall(ctx, sys(abi.SYS_READ, uint64(fd), uint64(readBuf), uint64(len(banner))))
		if n > 0 {
			// fd 1 is the serial console.
			inv.InvokeSyscall(ctx, sys(abi.SYS_WRITE, 1, uint64(readBuf), uint64(n)))
		}

		fbPath := []byte("/dev/fb0")
		fbPathAddr := stage(fbPath)

		fbFd := inv.InvokeSyscall(ctx, sys(abi.SYS_OPEN, uint64(fbPathAddr), uint64(len(fbPath)), 0))
		if fbFd >= 0 {
			mapped := inv.InvokeSyscall(ctx, sys(abi.SYS_MMAP, 0, 0, uint64(abi.MemDefault), uint64(fbFd)))
			if mapped >= 0 {
				t.CopyOut(uintptr(mapped), []byte{0xff, 0xff, 0xff, 0xff})
			}
		}

		inv.InvokeSyscall(ctx, sys(abi.SYS_SLEEP, 1))
		inv.InvokeSyscall(ctx, sys(abi.SYS_EXIT, 0))
	}
}

func sys(idx int, regs ...uint64) syscalls.SysArgs {
	var req syscalls.SyscallRequest

	ptrs := []*uint64{&req.R0, &req.R1, &req.R2, &req.R3, &req.R4, &req.R5}

	for i, v := range regs {
		*ptrs[i] = v
	}

	return syscalls.SysArgs{Index: idx, Args: req}
}
