package kernel

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"github.com/asoderman/os/log"
	"github.com/asoderman/os/memory"
)

var ErrPeerExited = errors.New("peer process exited")

type taskKey struct{}

// GetTask pulls the calling execution context off ctx. Every syscall
// runs with one attached.
func GetTask(ctx context.Context) (*Task, bool) {
	if v := ctx.Value(taskKey{}); v != nil {
		return v.(*Task), true
	}

	return nil, false
}

func SetTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskKey{}, t)
}

// Task is the per-thread view handed to syscall handlers.
type Task struct {
	*Process

	Thread *Thread
}

type ProcessStatus int

const (
	Running ProcessStatus = iota
	Zombie
	Reaped
)

type ThreadState int

const (
	Runnable ThreadState = iota
	Blocked
	Exited
)

// Thread is one schedulable execution context. Threads of a process
// share its file table and address space.
type Thread struct {
	Tid int

	proc *Process

	// status becomes Ready with the thread's encoded exit status.
	status *Response

	mu    sync.Mutex
	state ThreadState
}

// StatusResponse reports the thread's exit status once it exits.
func (t *Thread) StatusResponse() *Response {
	return t.status
}

func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// SetBlocked flips the thread between Runnable and Blocked around
// suspension points (blocking read, sleep, full-pipe write).
func (t *Thread) SetBlocked(blocked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Exited {
		return
	}

	if blocked {
		t.state = Blocked
	} else {
		t.state = Runnable
	}
}

// Process owns an address space and exactly one file table.
type Process struct {
	Kernel *Kernel
	Pid    int

	// Gen distinguishes reuses of the same pid; peer handles carry it
	// so a stale reference dereferences to ErrPeerExited instead of a
	// recycled process.
	Gen uint64

	Mem *memory.AddressSpace

	files *FileTable

	mu sync.Mutex

	nextTid int
	threads map[int]*Thread

	status     ProcessStatus
	exitStatus int

	// observers are status responses installed in other processes'
	// tables; fulfilled when the last thread exits.
	observers []*Response

	// pending are responses this process is producing for peers;
	// any still pending at exit are failed with ErrPeerExited.
	pending []*Response

	done chan struct{}
}

func (p *Process) Files() *FileTable {
	return p.files
}

func (p *Process) Status() ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.status
}

func (p *Process) ExitStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exitStatus
}

// Handle returns the weak reference peers use to name this process.
func (p *Process) Handle() PeerHandle {
	return PeerHandle{Pid: p.Pid, Gen: p.Gen}
}

// NewThread registers a fresh thread. The caller schedules it.
func (p *Process) NewThread() (*Thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != Running {
		return nil, errors.Wrapf(ErrPeerExited, "pid %d", p.Pid)
	}

	t := &Thread{
		Tid:    p.nextTid,
		proc:   p,
		status: NewResponse(),
	}

	p.nextTid++
	p.threads[t.Tid] = t

	return t, nil
}

// StatusResponse returns a response that becomes Ready with the
// process's encoded exit status when its last thread exits. An already
// dead process yields an immediately-Ready response.
func (p *Process) StatusResponse() *Response {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != Running {
		return ReadyResponse(encodeStatus(p.exitStatus))
	}

	r := NewResponse()
	p.observers = append(p.observers, r)

	return r
}

// AdoptPending records a response this process is producing for a
// peer, so the peer observes ErrPeerExited instead of hanging if this
// process dies first.
func (p *Process) AdoptPending(r *Response) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = append(p.pending, r)
}

// ThreadExited marks t Exited. The last thread turns the process into
// a Zombie: mappings are released, the file table is drained, status
// observers are fulfilled, and the process manager reaps it.
func (p *Process) ThreadExited(t *Thread, status int) {
	t.mu.Lock()
	t.state = Exited
	t.mu.Unlock()

	t.status.Fulfill(encodeStatus(status), nil)

	p.mu.Lock()

	delete(p.threads, t.Tid)

	if len(p.threads) > 0 {
		p.mu.Unlock()
		return
	}

	p.status = Zombie
	p.exitStatus = status

	observers := p.observers
	pending := p.pending
	p.observers = nil
	p.pending = nil

	close(p.done)

	p.mu.Unlock()

	log.L.Trace("process-exit", "pid", p.Pid, "status", status)

	payload := encodeStatus(status)

	for _, r := range observers {
		r.Fulfill(payload, nil)
	}

	for _, r := range pending {
		r.Fulfill(nil, ErrPeerExited)
	}

	p.files.CloseAll()
	p.Mem.Release()

	p.Kernel.processes.Reap(p)
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func encodeStatus(status int) []byte {
	var b [8]byte

	binary.LittleEndian.PutUint64(b[:], uint64(status))

	return b[:]
}

// DecodeStatus recovers an exit status from a status response payload.
func DecodeStatus(p []byte) int {
	if len(p) < 8 {
		return 0
	}

	return int(binary.LittleEndian.Uint64(p))
}

// CopyIn reads b's worth of bytes out of the process's address space
// at addr.
func (p *Process) CopyIn(addr uintptr, b []byte) error {
	_, err := p.Mem.ReadAt(b, addr)
	return err
}

// CopyOut writes b into the process's address space at addr.
func (p *Process) CopyOut(addr uintptr, b []byte) error {
	_, err := p.Mem.WriteAt(b, addr)
	return err
}

// PeerHandle is a weak reference to a process: pid plus generation,
// never an owning pointer.
type PeerHandle struct {
	Pid int
	Gen uint64
}

// ProcessManager tracks live processes and recycles pids.
type ProcessManager struct {
	mu        sync.RWMutex
	highWater int
	processes map[int]*Process
	gens      map[int]uint64
}

func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		processes: make(map[int]*Process),
		gens:      make(map[int]uint64),
	}
}

// AssignPid gives proc the smallest free pid and stamps its
// generation.
func (pm *ProcessManager) AssignPid(proc *Process) int {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pid := 0

	for i := 1; i <= pm.highWater; i++ {
		if _, ok := pm.processes[i]; !ok {
			pid = i
			break
		}
	}

	if pid == 0 {
		pm.highWater++
		pid = pm.highWater
	}

	pm.gens[pid]++

	proc.Pid = pid
	proc.Gen = pm.gens[pid]
	pm.processes[pid] = proc

	return pid
}

func (pm *ProcessManager) Lookup(pid int) (*Process, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	p, ok := pm.processes[pid]

	return p, ok
}

// Deref resolves a weak handle. A recycled or removed pid fails with
// ErrPeerExited rather than following a dangling reference.
func (pm *ProcessManager) Deref(h PeerHandle) (*Process, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	p, ok := pm.processes[h.Pid]
	if !ok || p.Gen != h.Gen {
		return nil, errors.Wrapf(ErrPeerExited, "pid %d gen %d", h.Pid, h.Gen)
	}

	return p, nil
}

// Reap removes a zombie from the table; its pid may be reused.
func (pm *ProcessManager) Reap(proc *Process) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	proc.mu.Lock()
	proc.status = Reaped
	proc.mu.Unlock()

	delete(pm.processes, proc.Pid)
}

func (pm *ProcessManager) Count() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	return len(pm.processes)
}
