package kernel

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"

	"github.com/asoderman/os/abi"
)

func TestProcess(t *testing.T) {
	n := neko.Modern(t)

	ctx := context.Background()

	n.It("fulfills a status response when the last thread exits", func(t *testing.T) {
		k := NewKernel()

		started := make(chan struct{})
		release := make(chan struct{})

		p, err := k.Spawn(func(ctx context.Context, t *Task) {
			close(started)
			<-release
			t.Exit(3)
		})
		require.NoError(t, err)

		<-started

		status := p.StatusResponse()
		require.Equal(t, Pending, status.State())

		close(release)

		buf := make([]byte, 8)

		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		got, err := status.Read(rctx, buf)
		require.NoError(t, err)
		require.Equal(t, 3, DecodeStatus(buf[:got]))

		k.Wait()
		require.Equal(t, Reaped, p.Status())
	})

	n.It("keeps the process alive until all threads exit", func(t *testing.T) {
		k := NewKernel()

		release := make(chan struct{})

		p, err := k.Spawn(func(ctx context.Context, task *Task) {
			<-release
		})
		require.NoError(t, err)

		threadDone := make(chan struct{})

		_, err = k.CloneThread(p, func(ctx context.Context, task *Task) {
			close(threadDone)
		})
		require.NoError(t, err)

		<-threadDone

		// The second thread exited; the process is still running.
		require.Equal(t, Running, p.Status())

		close(release)
		k.Wait()

		require.Equal(t, Reaped, p.Status())
	})

	n.It("fails still-pending peer responses at exit", func(t *testing.T) {
		k := NewKernel()

		release := make(chan struct{})

		p, err := k.Spawn(func(ctx context.Context, task *Task) {
			<-release
		})
		require.NoError(t, err)

		pending := NewResponse()
		p.AdoptPending(pending)

		close(release)
		k.Wait()

		_, err = pending.Read(ctx, make([]byte, 4))
		require.Equal(t, ErrPeerExited, errors.Cause(err))
	})

	n.It("recycles pids with fresh generations", func(t *testing.T) {
		pm := NewProcessManager()

		a := &Process{threads: map[int]*Thread{}, done: make(chan struct{})}
		pm.AssignPid(a)
		require.Equal(t, 1, a.Pid)

		h := a.Handle()

		pm.Reap(a)

		b := &Process{threads: map[int]*Thread{}, done: make(chan struct{})}
		pm.AssignPid(b)
		require.Equal(t, 1, b.Pid)
		require.NotEqual(t, h.Gen, b.Gen)

		// The stale handle dangles even though the pid is live again.
		_, err := pm.Deref(h)
		require.Equal(t, ErrPeerExited, errors.Cause(err))

		got, err := pm.Deref(b.Handle())
		require.NoError(t, err)
		require.Equal(t, b, got)
	})

	n.It("assigns the smallest free pid", func(t *testing.T) {
		pm := NewProcessManager()

		var procs []*Process

		for i := 0; i < 3; i++ {
			p := &Process{threads: map[int]*Thread{}, done: make(chan struct{})}
			pm.AssignPid(p)
			procs = append(procs, p)
		}

		pm.Reap(procs[1])

		p := &Process{threads: map[int]*Thread{}, done: make(chan struct{})}
		pm.AssignPid(p)

		require.Equal(t, procs[1].Pid, p.Pid)
	})

	n.It("routes a peer status open through /proc", func(t *testing.T) {
		k := NewKernel()

		release := make(chan struct{})

		target, err := k.Spawn(func(ctx context.Context, task *Task) {
			<-release
			task.Exit(7)
		})
		require.NoError(t, err)

		caller := k.NewProcess()
		ct, err := caller.NewThread()
		require.NoError(t, err)

		task := &Task{Process: caller, Thread: ct}

		f, err := k.Route(task, Request{
			Op:   abi.SYS_OPEN,
			Path: procPath(target.Pid, "status"),
		})
		require.NoError(t, err)

		fd := caller.Files().Install(f)

		close(release)

		buf := make([]byte, 8)

		got, ok := caller.Files().Get(fd)
		require.True(t, ok)

		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		cnt, err := got.Read(rctx, buf)
		require.NoError(t, err)
		require.Equal(t, 7, DecodeStatus(buf[:cnt]))
	})

	n.It("fails a peer open once the pid is gone", func(t *testing.T) {
		k := NewKernel()

		p, err := k.Spawn(func(ctx context.Context, task *Task) {})
		require.NoError(t, err)

		k.Wait()

		caller := k.NewProcess()
		ct, err := caller.NewThread()
		require.NoError(t, err)

		task := &Task{Process: caller, Thread: ct}

		_, err = k.Route(task, Request{
			Op:   abi.SYS_OPEN,
			Path: procPath(p.Pid, "status"),
		})
		require.Equal(t, ErrPeerExited, errors.Cause(err))
	})

	n.Meow()
}

func procPath(pid int, rest string) string {
	return procPrefix + strconv.Itoa(pid) + "/" + rest
}
