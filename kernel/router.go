package kernel

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/asoderman/os/abi"
	"github.com/asoderman/os/fs"
	"github.com/asoderman/os/log"
)

// procPrefix roots process-relative names. A name under it resolves to
// a resource owned by a peer process.
const procPrefix = "/proc/"

// Request is the unit the router dispatches: one named operation on
// behalf of a task. Kernel-local and inter-process requests share this
// shape; there is no separate remote code path.
type Request struct {
	Op    int
	Path  string
	Flags int
}

// Route resolves a request to a File ready to install in the caller's
// table. Resolution is first-match: device and fifo names, then
// process-relative names; anything else fails with unknown-path.
func (k *Kernel) Route(t *Task, req Request) (*File, error) {
	switch req.Op {
	case abi.SYS_MKFIFO:
		node, err := k.Namespace.Mkfifo(req.Path)
		if err != nil {
			return nil, err
		}

		h, err := node.Open(abi.OpenRDWR)
		if err != nil {
			return nil, err
		}

		return NewHandleFile(req.Path, abi.OpenRDWR, h), nil

	case abi.SYS_OPEN:
		node, err := k.Namespace.Lookup(req.Path)
		if err == nil {
			h, err := node.Open(req.Flags)
			if err != nil {
				return nil, err
			}

			return NewHandleFile(req.Path, req.Flags, h), nil
		}

		if strings.HasPrefix(req.Path, procPrefix) {
			return k.routePeer(t, req)
		}

		return nil, err

	default:
		return nil, errors.Wrapf(ErrUnknownFile, "unroutable op %d", req.Op)
	}
}

// routePeer forwards a request into a peer process's namespace. The
// target handles it exactly as it would a local request; only the
// resolution step differs. The result is still installed in the
// caller's table.
func (k *Kernel) routePeer(t *Task, req Request) (*File, error) {
	rest := strings.TrimPrefix(req.Path, procPrefix)

	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return nil, errors.Wrapf(fs.ErrUnknownPath, "peer path %q", req.Path)
	}

	pid, err := strconv.Atoi(rest[:idx])
	if err != nil {
		return nil, errors.Wrapf(fs.ErrUnknownPath, "peer path %q", req.Path)
	}

	target, ok := k.processes.Lookup(pid)
	if !ok {
		// The weak reference dangles; the peer is gone, not unnamed.
		return nil, errors.Wrapf(ErrPeerExited, "pid %d", pid)
	}

	log.L.Trace("route-peer", "caller", t.Pid, "target", pid, "path", req.Path)

	return target.serveRequest(Request{
		Op:    req.Op,
		Path:  rest[idx:],
		Flags: req.Flags,
	})
}

// serveRequest handles a request addressed to this process's
// namespace, whether it arrived locally or from a peer.
func (p *Process) serveRequest(req Request) (*File, error) {
	switch req.Path {
	case "/status":
		return NewResponseFile(p.StatusResponse()), nil
	default:
		return nil, errors.Wrapf(fs.ErrUnknownPath, "pid %d path %q", p.Pid, req.Path)
	}
}
