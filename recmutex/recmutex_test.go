package recmutex

import (
	"testing"
	"time"

	"github.com/petermattis/goid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// slowIncrement loses updates unless the lock under
// test really excludes other writers.
func slowIncrement(ctr *int) {
	x := *ctr
	time.Sleep(time.Millisecond)
	*ctr = x + 1
}

// inGoroutine runs f on a fresh goroutine and reports
// its result, so that it carries a different holder id.
func inGoroutine(f func() bool) bool {
	ch := make(chan bool)
	go func() {
		ch <- f()
	}()
	return <-ch
}

func TestRecursiveLock(t *testing.T) {
	m := New(Recursive)
	m.Lock()
	m.Lock()
	assert.True(t, m.TryLock())
	require.NoError(t, m.Unlock())
	require.NoError(t, m.Unlock())
	require.NoError(t, m.Unlock())
	assert.False(t, m.IsLocked())
}

func TestSharedSimple(t *testing.T) {
	m := New(Recursive)
	m.LockShared()
	require.NoError(t, m.UnlockShared())
	assert.False(t, m.IsLocked())
}

func TestStrictNoReentrance(t *testing.T) {
	m := New(Strict)
	m.Lock()
	assert.False(t, m.TryLock())
	assert.False(t, m.TryLockShared())
	require.NoError(t, m.Unlock())

	m.LockShared()
	assert.False(t, m.TryLock())
	require.NoError(t, m.UnlockShared())
	assert.False(t, m.IsLocked())
}

func TestRecursiveWritePolicy(t *testing.T) {
	m := New(RecursiveWrite)
	m.Lock()
	assert.True(t, m.TryLock())
	assert.False(t, m.TryLockShared())
	require.NoError(t, m.Unlock())
	require.NoError(t, m.Unlock())

	// No escalation for a shared holder.
	m.LockShared()
	assert.False(t, m.TryLock())
	require.NoError(t, m.UnlockShared())
}

func TestOneWayPolicy(t *testing.T) {
	m := New(RecursiveOneWay)
	m.Lock()
	assert.True(t, m.TryLockShared())
	// Holding shared blocks further exclusive entry.
	assert.False(t, m.TryLock())
	require.NoError(t, m.UnlockShared())
	assert.True(t, m.TryLock())
	require.NoError(t, m.Unlock())
	require.NoError(t, m.Unlock())

	m.LockShared()
	assert.False(t, m.TryLock())
	require.NoError(t, m.UnlockShared())
	assert.False(t, m.IsLocked())
}

func TestEscalation(t *testing.T) {
	m := New(Recursive)
	m.LockShared()
	assert.True(t, m.TryLock())
	// Another goroutine's shared attempt must wait now.
	assert.False(t, inGoroutine(m.TryLockShared))
	require.NoError(t, m.Unlock())
	require.NoError(t, m.UnlockShared())
	assert.False(t, m.IsLocked())
}

func TestSoloLock(t *testing.T) {
	m := New(Recursive)
	assert.True(t, m.TrySoloLock())
	// Even the owner cannot re-enter a solo lock.
	assert.False(t, m.TryLock())
	assert.False(t, inGoroutine(m.TryLockShared))
	require.NoError(t, m.Unlock())
	assert.False(t, m.IsLocked())

	m.LockShared()
	assert.False(t, m.TrySoloLock())
	require.NoError(t, m.UnlockShared())

	m.Lock()
	assert.False(t, m.TrySoloLock())
	require.NoError(t, m.Unlock())
}

func TestInvalidUnlock(t *testing.T) {
	m := New(Recursive)
	assert.ErrorIs(t, m.Unlock(), ErrInvalidUnlock)
	assert.ErrorIs(t, m.UnlockShared(), ErrInvalidUnlock)
	assert.ErrorIs(t, m.UnlockAnyShared(), ErrInvalidUnlock)

	m.Lock()
	assert.ErrorIs(t, m.UnlockBy(goid.Get()+1), ErrInvalidUnlock)
	require.NoError(t, m.Unlock())

	m.LockShared()
	assert.ErrorIs(t, m.UnlockSharedBy(goid.Get()+1), ErrInvalidUnlock)
	require.NoError(t, m.UnlockShared())
}

func TestUnlockBy(t *testing.T) {
	m := New(Recursive)
	tid := goid.Get()
	m.Lock()
	m.LockShared()
	ok := inGoroutine(func() bool {
		return m.UnlockSharedBy(tid) == nil && m.UnlockBy(tid) == nil
	})
	assert.True(t, ok)
	assert.False(t, m.IsLocked())
}

func TestUnlockAnyShared(t *testing.T) {
	m := New(Recursive)
	// Counts held by a goroutine that is long gone.
	assert.True(t, m.lockSharedAs(1234, true, 0))
	assert.True(t, m.lockSharedAs(5678, true, 0))
	require.NoError(t, m.UnlockAnyShared())
	require.NoError(t, m.UnlockAnyShared())
	assert.False(t, m.IsLocked())
}

func TestCloneLockShared(t *testing.T) {
	src := New(Recursive)
	src.LockShared()
	src.LockShared()
	assert.True(t, src.TryLock())

	dst := New(Recursive)
	assert.True(t, dst.CloneLockShared(src, false, 0))
	assert.True(t, dst.IsLocked())
	// Two shared counts plus one for the exclusive.
	shared, _, _ := dst.snapshot()
	assert.Equal(t, map[int64]int{goid.Get(): 3}, shared)

	require.NoError(t, dst.CloneUnlockShared(src))
	assert.False(t, dst.IsLocked())

	require.NoError(t, src.Unlock())
	require.NoError(t, src.UnlockShared())
	require.NoError(t, src.UnlockShared())
}

func TestCloneLockSharedBusy(t *testing.T) {
	src := New(Strict)
	src.LockShared()

	dst := New(Strict)
	dst.Lock()
	// Destination exclusively held elsewhere: the
	// clone cannot take shared counts.
	ok := inGoroutine(func() bool {
		return dst.CloneLockShared(src, false, 0)
	})
	assert.False(t, ok)
	require.NoError(t, dst.Unlock())
	require.NoError(t, src.UnlockShared())
}

func TestTryLockForTimeout(t *testing.T) {
	m := New(Strict)
	m.Lock()
	start := time.Now()
	assert.False(t, m.TryLockFor(10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	start = time.Now()
	assert.False(t, m.TryLockSharedFor(10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	require.NoError(t, m.Unlock())
}

func TestLockHandoff(t *testing.T) {
	m := New(Strict)
	m.Lock()
	acquired := make(chan struct{})
	var eg errgroup.Group
	eg.Go(func() error {
		m.Lock()
		close(acquired)
		return m.Unlock()
	})
	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	require.NoError(t, m.Unlock())
	require.NoError(t, eg.Wait())
	<-acquired
	assert.False(t, m.IsLocked())
}

func TestRecursiveLockThreads(t *testing.T) {
	m := New(Recursive)
	ctr := 0
	var eg errgroup.Group
	for i := 0; i < 100; i++ {
		eg.Go(func() error {
			m.Lock()
			m.Lock()
			slowIncrement(&ctr)
			if err := m.Unlock(); err != nil {
				return err
			}
			return m.Unlock()
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, 100, ctr)
	assert.False(t, m.IsLocked())
}

func TestSharedLockThreads(t *testing.T) {
	m := New(Recursive)
	var eg errgroup.Group
	for i := 0; i < 100; i++ {
		eg.Go(func() error {
			m.LockShared()
			m.LockShared()
			if err := m.UnlockShared(); err != nil {
				return err
			}
			return m.UnlockShared()
		})
	}
	require.NoError(t, eg.Wait())
	assert.False(t, m.IsLocked())
}

// TestSimulateNest drives the locking shape of a
// nested walk: shared on the parent, exclusive on the
// child, released in reverse.
func TestSimulateNest(t *testing.T) {
	child := New(Recursive)
	parent := New(Recursive)
	ctr := 0
	var eg errgroup.Group
	for i := 0; i < 100; i++ {
		eg.Go(func() error {
			parent.LockShared()
			child.Lock()
			slowIncrement(&ctr)
			if err := child.Unlock(); err != nil {
				return err
			}
			return parent.UnlockShared()
		})
	}
	require.NoError(t, eg.Wait())
	assert.False(t, parent.IsLocked())
	assert.False(t, child.IsLocked())
	assert.Equal(t, 100, ctr)
}

func TestErrorMessages(t *testing.T) {
	m := New(Strict)
	err := m.Unlock()
	assert.Equal(t, ErrInvalidUnlock, errors.Cause(err))
	assert.Contains(t, err.Error(), "not exclusively locked")
}
