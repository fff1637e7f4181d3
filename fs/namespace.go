package fs

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// DevPrefix roots the device namespace. Fifo names live outside it, in
// the transient namespace ("/tmp/..." style); the two never collide.
const DevPrefix = "/dev/"

// Namespace maps hierarchical names to Nodes: registered devices plus
// transient fifos. Lookup results are cached; mutation invalidates the
// cached entry.
type Namespace struct {
	mu sync.RWMutex

	devices map[string]Node
	fifos   map[string]Node

	cache *lru.ARCCache
}

func NewNamespace() *Namespace {
	cache, err := lru.NewARC(1000)
	if err != nil {
		panic(err)
	}

	return &Namespace{
		devices: make(map[string]Node),
		fifos:   make(map[string]Node),
		cache:   cache,
	}
}

// RegisterDevice installs a device under a /dev path.
func (ns *Namespace) RegisterDevice(path string, n Node) error {
	if !strings.HasPrefix(path, DevPrefix) {
		return errors.Wrapf(ErrUnknownPath, "device path %q outside %s", path, DevPrefix)
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if _, ok := ns.devices[path]; ok {
		return errors.Wrapf(ErrExists, "device %q", path)
	}

	ns.devices[path] = n

	return nil
}

// Mkfifo creates a named pipe in the transient namespace.
func (ns *Namespace) Mkfifo(path string) (Node, error) {
	if strings.HasPrefix(path, DevPrefix) {
		return nil, errors.Wrapf(ErrExists, "fifo %q collides with the device namespace", path)
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if _, ok := ns.fifos[path]; ok {
		return nil, errors.Wrapf(ErrExists, "fifo %q", path)
	}

	n := NewFifo()
	ns.fifos[path] = n

	ns.cache.Remove(path)

	return n, nil
}

// Remove drops a fifo name. Existing handles keep the node alive until
// they close; the name becomes available immediately.
func (ns *Namespace) Remove(path string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if _, ok := ns.fifos[path]; !ok {
		return errors.Wrapf(ErrUnknownPath, "fifo %q", path)
	}

	delete(ns.fifos, path)
	ns.cache.Remove(path)

	return nil
}

// Lookup resolves a name, devices first, then fifos.
func (ns *Namespace) Lookup(path string) (Node, error) {
	if val, ok := ns.cache.Get(path); ok {
		return val.(Node), nil
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()

	if n, ok := ns.devices[path]; ok {
		ns.cache.Add(path, n)
		return n, nil
	}

	if n, ok := ns.fifos[path]; ok {
		ns.cache.Add(path, n)
		return n, nil
	}

	return nil, errors.Wrapf(ErrUnknownPath, "lookup %q", path)
}
