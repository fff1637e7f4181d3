package syscalls

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"

	"github.com/asoderman/os/abi"
	"github.com/asoderman/os/dev"
	"github.com/asoderman/os/kernel"
)

func call(ctx context.Context, inv *Invoker, idx int, regs ...uint64) int64 {
	var req SyscallRequest

	ptrs := []*uint64{&req.R0, &req.R1, &req.R2, &req.R3, &req.R4, &req.R5}

	for i, v := range regs {
		*ptrs[i] = v
	}

	return inv.InvokeSyscall(ctx, SysArgs{Index: idx, Args: req})
}

// pushBytes maps a fresh page and seeds it with data, the way a loader
// would stage user constants.
func pushBytes(ctx context.Context, inv *Invoker, t *kernel.Task, data []byte) uintptr {
	addr := call(ctx, inv, abi.SYS_MMAP, 0, 1, uint64(abi.MemDefault), noFd)
	if addr < 0 {
		panic("mmap failed in test setup")
	}

	if err := t.CopyOut(uintptr(addr), data); err != nil {
		panic(err)
	}

	return uintptr(addr)
}

func newTestKernel() (*kernel.Kernel, *dev.Framebuffer, *Invoker) {
	k := kernel.NewKernel()
	k.SetConsole(dev.NewSerial(io.Discard))

	fb := dev.NewFramebuffer(8, 8)
	if err := k.Namespace.RegisterDevice("/dev/fb0", fb); err != nil {
		panic(err)
	}

	return k, fb, &Invoker{Kernel: k}
}

func TestSyscalls(t *testing.T) {
	n := neko.Modern(t)

	n.It("rejects unknown syscall numbers", func(t *testing.T) {
		k, _, inv := newTestKernel()

		ret := make(chan int64, 1)

		_, err := k.Spawn(func(ctx context.Context, task *kernel.Task) {
			ret <- call(ctx, inv, 999)
		})
		require.NoError(t, err)

		k.Wait()

		require.Equal(t, int64(-abi.EINVALOP), <-ret)
	})

	n.It("fails opening a missing device with not-found", func(t *testing.T) {
		k, _, inv := newTestKernel()

		ret := make(chan int64, 1)

		_, err := k.Spawn(func(ctx context.Context, task *kernel.Task) {
			path := []byte("/dev/does-not-exist")
			addr := pushBytes(ctx, inv, task, path)

			ret <- call(ctx, inv, abi.SYS_OPEN, uint64(addr), uint64(len(path)), 0)
		})
		require.NoError(t, err)

		k.Wait()

		require.Equal(t, int64(-abi.ENOENT), <-ret)
	})

	n.It("delivers a delayed fifo write to a blocked reader intact", func(t *testing.T) {
		k, _, inv := newTestKernel()

		result := make(chan string, 1)

		var fifoFd int64

		writer := k.RegisterEntry(func(ctx context.Context, task *kernel.Task) {
			time.Sleep(100 * time.Millisecond)

			data := []byte("OK\n")
			addr := pushBytes(ctx, inv, task, data)

			n := call(ctx, inv, abi.SYS_WRITE, uint64(fifoFd), uint64(addr), uint64(len(data)))
			if n != 3 {
				result <- "short write"
			}
		})

		_, err := k.Spawn(func(ctx context.Context, task *kernel.Task) {
			path := []byte("/tmp/x")
			pathAddr := pushBytes(ctx, inv, task, path)

			fifoFd = call(ctx, inv, abi.SYS_MKFIFO, uint64(pathAddr), uint64(len(path)))
			if fifoFd < 0 {
				result <- "mkfifo failed"
				return
			}

			if call(ctx, inv, abi.SYS_CLONE, uint64(writer), abi.CloneThread) < 0 {
				result <- "clone failed"
				return
			}

			bufAddr := pushBytes(ctx, inv, task, make([]byte, 3))

			got := call(ctx, inv, abi.SYS_READ, uint64(fifoFd), uint64(bufAddr), 3)
			if got != 3 {
				result <- "short read"
				return
			}

			buf := make([]byte, 3)
			task.CopyIn(bufAddr, buf)

			result <- string(buf)
		})
		require.NoError(t, err)

		k.Wait()

		require.Equal(t, "OK\n", <-result)
	})

	n.It("maps, fills, unmaps and remaps the framebuffer", func(t *testing.T) {
		k, fb, inv := newTestKernel()

		ret := make(chan int64, 1)

		const hint = uintptr(0x200000)

		_, err := k.Spawn(func(ctx context.Context, task *kernel.Task) {
			path := []byte("/dev/fb0")
			pathAddr := pushBytes(ctx, inv, task, path)

			fd := call(ctx, inv, abi.SYS_OPEN, uint64(pathAddr), uint64(len(path)), 0)
			if fd < 0 {
				ret <- fd
				return
			}

			// Page count 0 maps the device's entire backing length.
			mapped := call(ctx, inv, abi.SYS_MMAP, uint64(hint), 0, uint64(abi.MemDefault), uint64(fd))
			if mapped < 0 {
				ret <- mapped
				return
			}

			pattern := bytes.Repeat([]byte{0xA5}, fb.Len())
			if err := task.CopyOut(uintptr(mapped), pattern); err != nil {
				ret <- -1000
				return
			}

			pages := (fb.Len() + abi.PageSize - 1) / abi.PageSize

			if r := call(ctx, inv, abi.SYS_MUNMAP, uint64(mapped), uint64(pages)); r < 0 {
				ret <- r
				return
			}

			// The mapping did not leak: the same hint works again.
			ret <- call(ctx, inv, abi.SYS_MMAP, uint64(hint), 0, uint64(abi.MemDefault), uint64(fd))
		})
		require.NoError(t, err)

		k.Wait()

		require.Equal(t, int64(hint), <-ret)

		// The pattern reached the device itself.
		h, err := fb.Open(abi.OpenRead)
		require.NoError(t, err)

		buf := make([]byte, fb.Len())
		_, err = h.Read(context.Background(), buf)
		require.NoError(t, err)

		require.Equal(t, bytes.Repeat([]byte{0xA5}, fb.Len()), buf)
	})

	n.It("refuses overlapping mappings without replacing the old one", func(t *testing.T) {
		k, _, inv := newTestKernel()

		ret := make(chan []int64, 1)

		_, err := k.Spawn(func(ctx context.Context, task *kernel.Task) {
			first := call(ctx, inv, abi.SYS_MMAP, 0x300000, 2, uint64(abi.MemDefault), noFd)
			second := call(ctx, inv, abi.SYS_MMAP, 0x301000, 2, uint64(abi.MemDefault), noFd)

			// The original mapping is still intact and usable.
			werr := task.CopyOut(0x300000, []byte{1, 2, 3})

			status := int64(0)
			if werr != nil {
				status = -1
			}

			ret <- []int64{first, second, status}
		})
		require.NoError(t, err)

		k.Wait()

		got := <-ret
		require.Equal(t, int64(0x300000), got[0])
		require.Equal(t, int64(-abi.EOVERLAP), got[1])
		require.Equal(t, int64(0), got[2])
	})

	n.It("returns the child's exit status through the clone descriptor", func(t *testing.T) {
		k, _, inv := newTestKernel()

		ret := make(chan int, 1)

		child := k.RegisterEntry(func(ctx context.Context, task *kernel.Task) {
			call(ctx, inv, abi.SYS_EXIT, 42)
		})

		_, err := k.Spawn(func(ctx context.Context, task *kernel.Task) {
			fd := call(ctx, inv, abi.SYS_CLONE, uint64(child), 0)
			if fd < 0 {
				ret <- -1
				return
			}

			bufAddr := pushBytes(ctx, inv, task, make([]byte, 8))

			got := call(ctx, inv, abi.SYS_READ, uint64(fd), uint64(bufAddr), 8)
			if got < 0 {
				ret <- -1
				return
			}

			buf := make([]byte, got)
			task.CopyIn(bufAddr, buf)

			ret <- kernel.DecodeStatus(buf)
		})
		require.NoError(t, err)

		k.Wait()

		require.Equal(t, 42, <-ret)
	})

	n.It("reports duplicate fifo names", func(t *testing.T) {
		k, _, inv := newTestKernel()

		ret := make(chan int64, 1)

		_, err := k.Spawn(func(ctx context.Context, task *kernel.Task) {
			path := []byte("/tmp/dup")
			addr := pushBytes(ctx, inv, task, path)

			if fd := call(ctx, inv, abi.SYS_MKFIFO, uint64(addr), uint64(len(path))); fd < 0 {
				ret <- fd
				return
			}

			ret <- call(ctx, inv, abi.SYS_MKFIFO, uint64(addr), uint64(len(path)))
		})
		require.NoError(t, err)

		k.Wait()

		require.Equal(t, int64(-abi.EEXIST), <-ret)
	})

	n.It("reports partial fifo writes before the broken pipe", func(t *testing.T) {
		k, _, inv := newTestKernel()

		ret := make(chan []int64, 1)

		_, err := k.Spawn(func(ctx context.Context, task *kernel.Task) {
			path := []byte("/tmp/part")
			pathAddr := pushBytes(ctx, inv, task, path)

			fifoFd := call(ctx, inv, abi.SYS_MKFIFO, uint64(pathAddr), uint64(len(path)))
			if fifoFd < 0 {
				ret <- []int64{fifoFd}
				return
			}

			wfd := call(ctx, inv, abi.SYS_OPEN, uint64(pathAddr), uint64(len(path)), abi.OpenWrite)
			if wfd < 0 {
				ret <- []int64{wfd}
				return
			}

			// Dropping the read-write descriptor leaves the pipe
			// readerless.
			if r := call(ctx, inv, abi.SYS_CLOSE, uint64(fifoFd)); r < 0 {
				ret <- []int64{r}
				return
			}

			payload := make([]byte, abi.PageSize+1)

			addr := call(ctx, inv, abi.SYS_MMAP, 0, 2, uint64(abi.MemDefault), noFd)
			if addr < 0 {
				ret <- []int64{addr}
				return
			}

			if err := task.CopyOut(uintptr(addr), payload); err != nil {
				ret <- []int64{-1000}
				return
			}

			first := call(ctx, inv, abi.SYS_WRITE, uint64(wfd), uint64(addr), uint64(len(payload)))
			second := call(ctx, inv, abi.SYS_WRITE, uint64(wfd), uint64(addr), 1)

			ret <- []int64{first, second}
		})
		require.NoError(t, err)

		k.Wait()

		got := <-ret
		require.Len(t, got, 2)

		// The buffered page is reported; only the zero-progress retry
		// fails.
		require.Equal(t, int64(abi.PageSize), got[0])
		require.Equal(t, int64(-abi.EPIPE), got[1])
	})

	n.It("rejects writes to a status descriptor", func(t *testing.T) {
		k, _, inv := newTestKernel()

		ret := make(chan int64, 1)

		child := k.RegisterEntry(func(ctx context.Context, task *kernel.Task) {})

		_, err := k.Spawn(func(ctx context.Context, task *kernel.Task) {
			fd := call(ctx, inv, abi.SYS_CLONE, uint64(child), 0)

			addr := pushBytes(ctx, inv, task, []byte{1})

			ret <- call(ctx, inv, abi.SYS_WRITE, uint64(fd), uint64(addr), 1)
		})
		require.NoError(t, err)

		k.Wait()

		require.Equal(t, int64(-abi.ENOTWRITABLE), <-ret)
	})

	n.It("sleeps at least the requested duration", func(t *testing.T) {
		k, _, inv := newTestKernel()

		elapsed := make(chan time.Duration, 1)

		_, err := k.Spawn(func(ctx context.Context, task *kernel.Task) {
			start := time.Now()
			call(ctx, inv, abi.SYS_SLEEP, 1)
			elapsed <- time.Since(start)
		})
		require.NoError(t, err)

		k.Wait()

		require.GreaterOrEqual(t, <-elapsed, 900*time.Millisecond)
	})

	n.It("accepts k_log writes outside the file table", func(t *testing.T) {
		k, _, inv := newTestKernel()

		ret := make(chan int64, 1)

		_, err := k.Spawn(func(ctx context.Context, task *kernel.Task) {
			msg := []byte("boot ok")
			addr := pushBytes(ctx, inv, task, msg)

			ret <- call(ctx, inv, abi.SYS_LOGPRINT, uint64(addr), uint64(len(msg)))
		})
		require.NoError(t, err)

		k.Wait()

		require.Equal(t, int64(7), <-ret)
	})

	n.Meow()
}
