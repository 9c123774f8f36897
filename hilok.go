package hilok

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
	"github.com/pkg/errors"

	"github.com/AtakamaLLC/hilok/log"
	"github.com/AtakamaLLC/hilok/pathsplit"
	"github.com/AtakamaLLC/hilok/recmutex"
)

// nodeKey identifies a node by its parent's identity
// and its own segment. Two nodes with the same segment
// under different parents are distinct.
type nodeKey struct {
	parent *node
	name   string
}

// node is a single entry of the lock tree.
//
// name is guarded by the manager mutex; a rename may
// re-key the node. parent is atomic because handle
// release walks the chain without the manager mutex.
// inref counts walkers that looked the node up but
// have not finished their acquire attempt yet, keeping
// the lazy GC away in between.
type node struct {
	name   string
	parent atomic.Pointer[node]
	mut    *recmutex.Mutex
	inref  atomic.Int32
}

// key rebuilds the node's registry key. Must hold the
// manager mutex.
func (n *node) key() nodeKey {
	return nodeKey{parent: n.parent.Load(), name: n.name}
}

// HiLok hands out hierarchical path locks.
//
// The registry maps node keys to live nodes and is the
// only shared structure; it is guarded by mtx. Each
// node's lock state is guarded by its own mutex, and
// the two are never held while acquiring the other in
// the reverse order.
type HiLok struct {
	mtx    sync.Mutex
	nodes  map[nodeKey]*node
	sep    byte
	flags  Flags
	policy recmutex.Policy
	log    log.Log
}

// Option configures a manager.
type Option func(*HiLok)

// WithLog installs a logger. The default discards
// everything.
func WithLog(l log.Log) Option {
	return func(h *HiLok) {
		h.log = l
	}
}

// New returns a manager splitting paths on sep and
// configuring every node mutex per flags.
func New(sep byte, flags Flags, opts ...Option) (*HiLok, error) {
	policy, err := flags.policy()
	if err != nil {
		return nil, err
	}
	h := &HiLok{
		nodes:  make(map[nodeKey]*node),
		sep:    sep,
		flags:  flags,
		policy: policy,
		log:    log.NoLog{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Default returns a manager with '/' separation and
// full reentrance.
func Default() *HiLok {
	h, err := New('/', FlagRecursive)
	if err != nil {
		panic(err)
	}
	return h
}

// Size returns the number of live nodes.
func (h *HiLok) Size() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return len(h.nodes)
}

// getNode returns the node for key, creating it if
// absent, with its inref bumped. The caller must drop
// inref once its acquire attempt on the node is over.
func (h *HiLok) getNode(key nodeKey) *node {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	n := h.nodes[key]
	if n == nil {
		n = h.newNodeLocked(key)
	}
	n.inref.Add(1)
	return n
}

// newNodeLocked inserts a fresh node for key. Must
// hold the manager mutex.
func (h *HiLok) newNodeLocked(key nodeKey) *node {
	n := &node{
		name: key.name,
		mut:  recmutex.New(h.policy),
	}
	n.parent.Store(key.parent)
	h.nodes[key] = n
	return n
}

// findLocked resolves path to its leaf node without
// creating anything, or nil when any segment is
// missing. Must hold the manager mutex.
func (h *HiLok) findLocked(path string) *node {
	var cur *node
	split := pathsplit.New(path, h.sep)
	for {
		seg, ok := split.Next()
		if !ok {
			break
		}
		n := h.nodes[nodeKey{parent: cur, name: seg}]
		if n == nil {
			return nil
		}
		cur = n
	}
	return cur
}

func lockWith(m *recmutex.Mutex, block bool, timeout time.Duration) bool {
	switch {
	case !block:
		return m.TryLock()
	case timeout > 0:
		return m.TryLockFor(timeout)
	default:
		m.Lock()
		return true
	}
}

func lockSharedWith(m *recmutex.Mutex, block bool, timeout time.Duration) bool {
	switch {
	case !block:
		return m.TryLockShared()
	case timeout > 0:
		return m.TryLockSharedFor(timeout)
	default:
		m.LockShared()
		return true
	}
}

// Read acquires every node along path in shared mode.
// With block false the acquire gives up immediately on
// contention; with a positive timeout it gives up once
// the timeout expires; otherwise it blocks. An empty
// path yields an empty handle.
func (h *HiLok) Read(path string, block bool, timeout time.Duration) (*Handle, error) {
	return h.walk(path, true, block, timeout)
}

// Write acquires every non-final node along path in
// shared mode and the final node exclusively, with the
// same blocking rules as Read.
func (h *HiLok) Write(path string, block bool, timeout time.Duration) (*Handle, error) {
	return h.walk(path, false, block, timeout)
}

// walk is the hand-over-hand acquire loop. Either the
// whole chain is acquired, or whatever prefix was
// taken is released again before the error surfaces.
func (h *HiLok) walk(path string, shared bool, block bool, timeout time.Duration) (*Handle, error) {
	tid := goid.Get()
	var cur *node
	split := pathsplit.New(path, h.sep)
	for {
		seg, ok := split.Next()
		if !ok {
			break
		}
		nod := h.getNode(nodeKey{parent: cur, name: seg})
		last := !split.More()
		var acquired bool
		if shared || !last {
			acquired = lockSharedWith(nod.mut, block, timeout)
		} else {
			acquired = lockWith(nod.mut, block, timeout)
		}
		nod.inref.Add(-1)
		if !acquired {
			// The holder that beat us may have released
			// while we waited; don't strand its node.
			h.eraseSafe(nod)
			h.rollback(cur, tid)
			return nil, errors.Wrapf(ErrLockFailed, "%q", path)
		}
		if h.log.Enabled(log.TopicLock) {
			h.log.Logf(log.TopicLock, "lock %q excl=%v", seg, !shared && last)
		}
		cur = nod
	}
	return h.newHandle(shared, cur, tid), nil
}

// rollback releases a partially acquired chain. Every
// node taken before a mid-walk failure is shared, so a
// shared release of the prefix undoes the walk.
func (h *HiLok) rollback(leaf *node, tid int64) {
	hh := &Handle{mgr: h, leaf: leaf, shared: true, tid: tid}
	_ = hh.Release()
}

// eraseSafe attempts lazy erasure of one node.
func (h *HiLok) eraseSafe(n *node) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.eraseLocked(n)
}

// eraseLocked erases n from the registry if nothing
// uses it. Must hold the manager mutex.
//
// The solo lock proves there is no holder; inref is
// checked again under it because a walker may have
// looked the node up just before we got here. Such a
// walker either shows up in inref, or it missed the
// map and created a fresh node, in which case the
// identity check keeps us from erasing that one.
func (h *HiLok) eraseLocked(n *node) {
	if n.inref.Load() != 0 {
		return
	}
	if !n.mut.TrySoloLock() {
		return
	}
	if n.inref.Load() == 0 {
		key := n.key()
		if h.nodes[key] == n {
			delete(h.nodes, key)
			if h.log.Enabled(log.TopicErase) {
				h.log.Logf(log.TopicErase, "erase %q", key.name)
			}
		}
	}
	_ = n.mut.Unlock()
}
