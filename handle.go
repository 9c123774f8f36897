package hilok

import (
	"runtime"
	"sync"

	"github.com/AtakamaLLC/hilok/log"
)

// Handle is the token returned by Read and Write. It
// records the leaf of the acquired chain, the mode,
// and the goroutine that acquired it; releasing it
// unlocks the whole chain and lets unused nodes die.
//
// An empty path produces a handle with no leaf whose
// release does nothing.
type Handle struct {
	mgr    *HiLok
	leaf   *node
	shared bool
	tid    int64
	once   sync.Once
}

// newHandle wraps an acquired chain. The finalizer is
// a backstop for leaked handles; errors on that path
// are swallowed.
func (h *HiLok) newHandle(shared bool, leaf *node, tid int64) *Handle {
	hd := &Handle{mgr: h, leaf: leaf, shared: shared, tid: tid}
	runtime.SetFinalizer(hd, func(hd *Handle) {
		_ = hd.Release()
	})
	return hd
}

// refs collects the chain leaf first by following
// parent pointers. A rename may have moved the leaf;
// the chain reflects wherever it lives now, which is
// also where its lock counts live.
func (hd *Handle) refs() []*node {
	var refs []*node
	for cur := hd.leaf; cur != nil; cur = cur.parent.Load() {
		refs = append(refs, cur)
	}
	return refs
}

// Release unlocks the chain and is a no-op the second
// time. Ancestors are always released shared; the leaf
// is released per the handle's mode. Every released
// node gets an erase attempt.
//
// A failed unlock does not stop the rest of the chain
// from being released; the first failure is returned.
func (hd *Handle) Release() error {
	var err error
	hd.once.Do(func() {
		runtime.SetFinalizer(hd, nil)
		err = hd.release()
	})
	return err
}

func (hd *Handle) release() error {
	refs := hd.refs()
	var first error
	for i := len(refs) - 1; i >= 0; i-- {
		nod := refs[i]
		var err error
		if hd.shared || i != 0 {
			if hd.mgr.flags&FlagLooseReadUnlock != 0 {
				err = nod.mut.UnlockSharedBy(hd.tid)
			} else {
				err = nod.mut.UnlockShared()
			}
		} else {
			if hd.mgr.flags&FlagLooseWriteUnlock != 0 {
				err = nod.mut.UnlockBy(hd.tid)
			} else {
				err = nod.mut.Unlock()
			}
		}
		if err != nil {
			if first == nil {
				first = err
			}
			if hd.mgr.log.Enabled(log.TopicError) {
				hd.mgr.log.Logf(log.TopicError, "release: %v", err)
			}
		}
		hd.mgr.eraseSafe(nod)
	}
	return first
}
