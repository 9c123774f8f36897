package hilok

import (
	"time"

	"github.com/pkg/errors"

	"github.com/AtakamaLLC/hilok/log"
	"github.com/AtakamaLLC/hilok/pathsplit"
)

// Rename moves the node at from so that it is
// reachable at to, keeping its lock state and thereby
// every handle that refers to it.
//
// Ancestors shared between the two paths are left
// alone. New ancestors of to are created as needed and
// take on shared counts matching the leaf's lock
// pressure; old ancestors of from give theirs up and
// become candidates for erasure. The whole operation
// happens under the registry mutex, so callers never
// observe a half-moved tree.
//
// The caller is expected, but not required, to hold
// the from leaf exclusively. block and timeout govern
// the shared acquisitions on new ancestors exactly as
// they do for Read; on failure the error surfaces
// after the counts taken so far, matching the
// documented caller responsibility around deadlocks.
func (h *HiLok) Rename(from, to string, block bool, timeout time.Duration) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	leaf := h.findLocked(from)
	if leaf == nil {
		return errors.Wrapf(ErrRenameSourceMissing, "%q", from)
	}

	itFrom := pathsplit.New(from, h.sep)
	itTo := pathsplit.New(to, h.sep)

	var curTo *node
	var toKey, fromKey nodeKey
	haveTo := false
	common := true
	for {
		seg, ok := itTo.Next()
		if !ok {
			break
		}
		toKey = nodeKey{parent: curTo, name: seg}
		haveTo = true
		if common {
			fseg, fok := itFrom.Next()
			if !fok {
				// from is a proper prefix of to: the
				// destination would sit inside the
				// moved subtree and cycle the parent
				// chain.
				return errors.Wrapf(ErrLockFailed, "rename destination %q is inside %q", to, from)
			}
			fromKey = nodeKey{parent: curTo, name: fseg}
			if toKey == fromKey {
				// Common ancestors need no action.
				curTo = h.nodes[toKey]
				continue
			}
			common = false
		}
		if itTo.More() {
			// Uncommon non-leaf destination: get or
			// create it, then take on the leaf's lock
			// pressure.
			n := h.nodes[toKey]
			if n == nil {
				n = h.newNodeLocked(toKey)
			}
			if !n.mut.CloneLockShared(leaf.mut, block, timeout) {
				return errors.Wrapf(ErrLockFailed, "rename destination %q", to)
			}
			if h.log.Enabled(log.TopicRename) {
				h.log.Logf(log.TopicRename, "clone %q", seg)
			}
			curTo = n
		}
	}
	if !haveTo {
		return errors.Wrapf(ErrLockFailed, "rename destination %q is empty", to)
	}

	// Uncommon ancestors of the source, leaf excluded,
	// give up the counts the leaf imposed on them.
	var toErase []*node
	for itFrom.More() {
		fseg, _ := itFrom.Next()
		n := h.nodes[fromKey]
		if n == nil {
			// findLocked proved every source key while
			// we held the registry mutex.
			panic("hilok: registry out of sync")
		}
		if err := n.mut.CloneUnlockShared(leaf.mut); err != nil {
			return err
		}
		if h.log.Enabled(log.TopicRename) {
			h.log.Logf(log.TopicRename, "unclone %q", n.name)
		}
		toErase = append(toErase, n)
		fromKey = nodeKey{parent: n, name: fseg}
	}

	for _, n := range toErase {
		h.eraseLocked(n)
	}

	// Keep the leaf's locks, only change its key. An
	// existing node at the destination is displaced
	// from the registry and lives on with its holders
	// until they release it.
	delete(h.nodes, leaf.key())
	leaf.name = toKey.name
	leaf.parent.Store(toKey.parent)
	h.nodes[toKey] = leaf
	return nil
}
