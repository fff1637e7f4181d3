package kernel

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/asoderman/os/fs"
	"github.com/asoderman/os/log"
	"github.com/asoderman/os/memory"
)

var ErrUnknownEntry = errors.New("unknown entry point")

// EntryFunc is the body of a user execution context. Real user code is
// out of scope; entries are registered functions named by index, the
// analogue of an entry-point address.
type EntryFunc func(ctx context.Context, t *Task)

// Core is one processor bookkeeping record. The bootstrap collaborator
// invokes StartCore exactly once per core.
type Core struct {
	ID int
}

type Kernel struct {
	Namespace *fs.Namespace

	processes *ProcessManager

	mu      sync.Mutex
	entries []EntryFunc
	cores   []*Core

	console fs.Node

	shutdown  chan struct{}
	liveProcs sync.WaitGroup
}

func NewKernel() *Kernel {
	return &Kernel{
		Namespace: fs.NewNamespace(),
		processes: NewProcessManager(),
		shutdown:  make(chan struct{}),
	}
}

func (k *Kernel) Processes() *ProcessManager {
	return k.processes
}

// SetConsole selects the device cloned onto descriptors 0-2 of every
// new process.
func (k *Kernel) SetConsole(n fs.Node) {
	k.console = n
}

// RegisterEntry adds an entry point and returns its index.
func (k *Kernel) RegisterEntry(f EntryFunc) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.entries = append(k.entries, f)

	return len(k.entries) - 1
}

func (k *Kernel) Entry(idx int) (EntryFunc, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if idx < 0 || idx >= len(k.entries) {
		return nil, errors.Wrapf(ErrUnknownEntry, "index %d", idx)
	}

	return k.entries[idx], nil
}

// StartCore records core id as online. Each core arrives with its own
// identifier and a private stack already mapped by the bootstrap
// collaborator; nothing else is assumed about it.
func (k *Kernel) StartCore(id int) *Core {
	k.mu.Lock()
	defer k.mu.Unlock()

	c := &Core{ID: id}
	k.cores = append(k.cores, c)

	log.L.Info("core online", "core", id)

	return c
}

func (k *Kernel) Cores() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	return len(k.cores)
}

// NewProcess builds a process with a fresh file table and address
// space. Descriptors 0-2 reference the console when one is set.
func (k *Kernel) NewProcess() *Process {
	p := &Process{
		Kernel:  k,
		Mem:     memory.NewAddressSpace(),
		files:   NewFileTable(),
		threads: make(map[int]*Thread),
		done:    make(chan struct{}),
	}

	k.processes.AssignPid(p)

	if k.console != nil {
		for i := 0; i < 3; i++ {
			if h, err := k.console.Open(0); err == nil {
				p.files.Install(NewHandleFile("/dev/serial", 0, h))
			}
		}
	}

	return p
}

// Spawn creates a process running entry and schedules its first
// thread.
func (k *Kernel) Spawn(entry EntryFunc) (*Process, error) {
	p := k.NewProcess()

	if err := k.startThread(p, entry); err != nil {
		return nil, err
	}

	log.L.Trace("process-spawn", "pid", p.Pid)

	return p, nil
}

// CloneProcess creates a new process with a forked address space and a
// fresh file table, beginning at entry.
func (k *Kernel) CloneProcess(parent *Process, entry EntryFunc) (*Process, error) {
	p := k.NewProcess()
	p.Mem = parent.Mem.Fork()

	if err := k.startThread(p, entry); err != nil {
		return nil, err
	}

	log.L.Trace("process-clone", "parent", parent.Pid, "pid", p.Pid)

	return p, nil
}

// CloneThread adds a thread to p, sharing its file table and address
// space, beginning at entry.
func (k *Kernel) CloneThread(p *Process, entry EntryFunc) (*Thread, error) {
	t, err := p.NewThread()
	if err != nil {
		return nil, err
	}

	k.runThread(p, t, entry)

	return t, nil
}

func (k *Kernel) startThread(p *Process, entry EntryFunc) error {
	t, err := p.NewThread()
	if err != nil {
		return err
	}

	k.runThread(p, t, entry)

	return nil
}

// exitPanic unwinds a thread goroutine out of its entry when exit()
// is invoked mid-call.
type exitPanic struct {
	status int
}

// Exit terminates the calling thread with status. It does not return.
func (t *Task) Exit(status int) {
	panic(exitPanic{status: status})
}

func (k *Kernel) runThread(p *Process, t *Thread, entry EntryFunc) {
	k.liveProcs.Add(1)

	go func() {
		defer k.liveProcs.Done()

		task := &Task{Process: p, Thread: t}
		ctx := SetTask(context.Background(), task)

		// Falling off the entry is an implicit exit(0).
		status := 0

		defer func() {
			if r := recover(); r != nil {
				e, ok := r.(exitPanic)
				if !ok {
					panic(r)
				}

				status = e.status
			}

			p.ThreadExited(t, status)
		}()

		entry(ctx, task)
	}()
}

// Wait blocks until every scheduled thread has exited.
func (k *Kernel) Wait() {
	k.liveProcs.Wait()
}
