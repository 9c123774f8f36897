// Package recmutex implements the recursive shared
// mutex used for each node of the lock tree.
//
// The mutex supports shared and exclusive modes with
// per-goroutine reentrance. How far reentrance goes is
// picked by a Policy at construction time; the holder
// identity is the goroutine id, so a goroutine that
// already holds the mutex is recognised when it comes
// back for more.
//
// On top of the usual lock/try/timed operations it has
// two special entry points: TrySoloLock, an exclusive
// acquire that succeeds only when there is no holder
// of any kind (used to prove a node is garbage), and
// the Clone pair, which transfers the lock pressure of
// one mutex onto another (used when a locked subtree
// is renamed).
package recmutex

import (
	"sync"
	"time"

	"github.com/petermattis/goid"
	"github.com/pkg/errors"
)

// ErrInvalidUnlock is returned when an unlock is
// attempted by a goroutine that holds no matching
// count, or when a counter would underflow.
var ErrInvalidUnlock = errors.New("invalid unlock")

// Policy selects how much reentrance the mutex allows.
type Policy int

const (
	// Strict allows no reentrance of any kind.
	Strict Policy = iota

	// RecursiveWrite allows re-entering the exclusive
	// mode only. A shared holder can never escalate.
	RecursiveWrite

	// RecursiveOneWay allows re-entering the exclusive
	// mode and downgrading to shared while holding
	// exclusively, but never shared to exclusive.
	RecursiveOneWay

	// Recursive allows full reentrance, including
	// escalation when the sole shared holder is the
	// requesting goroutine.
	Recursive
)

// Mutex is a recursive shared/exclusive mutex.
//
// All state lives behind one internal mutex. Blocked
// acquirers wait on a channel that is closed whenever
// any count drops, then re-evaluate their predicate.
type Mutex struct {
	mtx    sync.Mutex
	waitCh chan struct{}

	policy Policy

	exclID    int64
	exclCount int
	shared    map[int64]int
	solo      bool
}

// New returns an unlocked mutex with the given policy.
func New(policy Policy) *Mutex {
	return &Mutex{
		policy: policy,
		shared: make(map[int64]int),
	}
}

func (m *Mutex) exclusiveLocked() bool {
	return m.exclCount > 0
}

func (m *Mutex) exclusiveLockedBy(id int64) bool {
	return m.exclCount > 0 && m.exclID == id
}

func (m *Mutex) sharedLocked() bool {
	return len(m.shared) > 0
}

func (m *Mutex) sharedOnlyBy(id int64) bool {
	return len(m.shared) == 1 && m.shared[id] > 0
}

func (m *Mutex) canStartExclusive(id int64) bool {
	if m.exclusiveLocked() {
		return false
	}
	if !m.sharedLocked() {
		return true
	}
	return m.policy == Recursive && m.sharedOnlyBy(id)
}

func (m *Mutex) canIncrementExclusive(id int64) bool {
	if m.policy == Strict || m.solo {
		return false
	}
	if !m.exclusiveLockedBy(id) {
		return false
	}
	return m.policy != RecursiveOneWay || !m.sharedLocked()
}

func (m *Mutex) canExclusive(id int64) bool {
	return m.canStartExclusive(id) || m.canIncrementExclusive(id)
}

func (m *Mutex) canShared(id int64) bool {
	if !m.exclusiveLocked() {
		return true
	}
	switch m.policy {
	case RecursiveOneWay, Recursive:
		return m.exclusiveLockedBy(id)
	}
	return false
}

func (m *Mutex) canSolo() bool {
	return !m.exclusiveLocked() && !m.sharedLocked()
}

func (m *Mutex) grabExclusive(id int64) {
	if m.exclusiveLockedBy(id) {
		m.exclCount++
		return
	}
	m.exclID = id
	m.exclCount = 1
}

func (m *Mutex) grabShared(id int64) {
	m.shared[id]++
}

// wake releases every blocked acquirer for another
// pass over its predicate. Must hold m.mtx.
func (m *Mutex) wake() {
	if m.waitCh != nil {
		close(m.waitCh)
		m.waitCh = nil
	}
}

// waiter returns the channel the next wake will close.
// Must hold m.mtx.
func (m *Mutex) waiter() chan struct{} {
	if m.waitCh == nil {
		m.waitCh = make(chan struct{})
	}
	return m.waitCh
}

// tryAcquire grabs the lock if pred holds right now.
func (m *Mutex) tryAcquire(id int64, pred func(int64) bool, grab func(int64)) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if !pred(id) {
		return false
	}
	grab(id)
	return true
}

// acquire blocks until pred holds, or until timeout
// expires if timeout is positive.
func (m *Mutex) acquire(id int64, timeout time.Duration, pred func(int64) bool, grab func(int64)) bool {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}
	for {
		m.mtx.Lock()
		if pred(id) {
			grab(id)
			m.mtx.Unlock()
			return true
		}
		ch := m.waiter()
		m.mtx.Unlock()
		select {
		case <-ch:
		case <-timeoutCh:
			return false
		}
	}
}

// Lock acquires the mutex exclusively, blocking until
// that is possible.
func (m *Mutex) Lock() {
	m.acquire(goid.Get(), 0, m.canExclusive, m.grabExclusive)
}

// TryLock acquires the mutex exclusively if that is
// possible right now.
func (m *Mutex) TryLock() bool {
	return m.tryAcquire(goid.Get(), m.canExclusive, m.grabExclusive)
}

// TryLockFor acquires the mutex exclusively, giving up
// after the given duration. A non-positive duration
// degenerates to TryLock.
func (m *Mutex) TryLockFor(d time.Duration) bool {
	if d <= 0 {
		return m.TryLock()
	}
	return m.acquire(goid.Get(), d, m.canExclusive, m.grabExclusive)
}

// TrySoloLock acquires the mutex exclusively only when
// no holder of any kind exists. While the solo lock is
// held even the owner cannot re-enter, so a successful
// solo lock proves the mutex is unused.
func (m *Mutex) TrySoloLock() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if !m.canSolo() {
		return false
	}
	m.grabExclusive(goid.Get())
	m.solo = true
	return true
}

// Unlock drops one exclusive count held by the calling
// goroutine.
func (m *Mutex) Unlock() error {
	return m.UnlockBy(goid.Get())
}

// UnlockBy drops one exclusive count held by the
// identified goroutine. It exists for hosts that
// release handles from a goroutine other than the
// acquirer.
func (m *Mutex) UnlockBy(id int64) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if m.exclCount == 0 {
		return errors.Wrap(ErrInvalidUnlock, "not exclusively locked")
	}
	if m.exclID != id {
		return errors.Wrap(ErrInvalidUnlock, "exclusive unlock from wrong goroutine")
	}
	m.exclCount--
	m.solo = false
	m.wake()
	return nil
}

// LockShared acquires the mutex in shared mode,
// blocking until that is possible.
func (m *Mutex) LockShared() {
	m.acquire(goid.Get(), 0, m.canShared, m.grabShared)
}

// TryLockShared acquires the mutex in shared mode if
// that is possible right now.
func (m *Mutex) TryLockShared() bool {
	return m.tryAcquire(goid.Get(), m.canShared, m.grabShared)
}

// TryLockSharedFor acquires the mutex in shared mode,
// giving up after the given duration.
func (m *Mutex) TryLockSharedFor(d time.Duration) bool {
	if d <= 0 {
		return m.TryLockShared()
	}
	return m.acquire(goid.Get(), d, m.canShared, m.grabShared)
}

// UnlockShared drops one shared count held by the
// calling goroutine.
func (m *Mutex) UnlockShared() error {
	return m.UnlockSharedBy(goid.Get())
}

// UnlockSharedBy drops one shared count held by the
// identified goroutine.
func (m *Mutex) UnlockSharedBy(id int64) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if len(m.shared) == 0 {
		return errors.Wrap(ErrInvalidUnlock, "not shared locked")
	}
	if m.shared[id] == 0 {
		return errors.Wrap(ErrInvalidUnlock, "shared unlock from wrong goroutine")
	}
	m.shared[id]--
	if m.shared[id] == 0 {
		delete(m.shared, id)
	}
	m.wake()
	return nil
}

// UnlockAnyShared drops one shared count, preferring
// the calling goroutine's but falling back to any
// positive counter.
func (m *Mutex) UnlockAnyShared() error {
	return m.unlockAnyShared(goid.Get())
}

func (m *Mutex) unlockAnyShared(prefer int64) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if len(m.shared) == 0 {
		return errors.Wrap(ErrInvalidUnlock, "not shared locked")
	}
	id := prefer
	if m.shared[id] == 0 {
		for k := range m.shared {
			id = k
			break
		}
	}
	m.shared[id]--
	if m.shared[id] == 0 {
		delete(m.shared, id)
	}
	m.wake()
	return nil
}

// IsLocked reports whether any holder exists.
func (m *Mutex) IsLocked() bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.exclusiveLocked() || m.sharedLocked()
}

// snapshot copies the current counters.
func (m *Mutex) snapshot() (shared map[int64]int, exclID int64, exclCount int) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	shared = make(map[int64]int, len(m.shared))
	for id, cnt := range m.shared {
		shared[id] = cnt
	}
	return shared, m.exclID, m.exclCount
}

// lockSharedAs acquires one shared count on behalf of
// the identified goroutine.
func (m *Mutex) lockSharedAs(id int64, block bool, timeout time.Duration) bool {
	switch {
	case !block:
		return m.tryAcquire(id, m.canShared, m.grabShared)
	case timeout > 0:
		return m.acquire(id, timeout, m.canShared, m.grabShared)
	default:
		return m.acquire(id, 0, m.canShared, m.grabShared)
	}
}

// CloneLockShared acquires shared counts matching the
// lock pressure of src: one per shared count of src,
// plus one per exclusive count, each attributed to the
// goroutine that holds it on src. Returns false as
// soon as one acquisition fails; counts taken before
// the failure stay taken.
func (m *Mutex) CloneLockShared(src *Mutex, block bool, timeout time.Duration) bool {
	shared, exclID, exclCount := src.snapshot()
	for id, cnt := range shared {
		for i := 0; i < cnt; i++ {
			if !m.lockSharedAs(id, block, timeout) {
				return false
			}
		}
	}
	for i := 0; i < exclCount; i++ {
		if !m.lockSharedAs(exclID, block, timeout) {
			return false
		}
	}
	return true
}

// CloneUnlockShared releases shared counts matching
// the lock pressure of src, the inverse of
// CloneLockShared.
func (m *Mutex) CloneUnlockShared(src *Mutex) error {
	shared, exclID, exclCount := src.snapshot()
	for id, cnt := range shared {
		for i := 0; i < cnt; i++ {
			if err := m.unlockAnyShared(id); err != nil {
				return err
			}
		}
	}
	for i := 0; i < exclCount; i++ {
		if err := m.unlockAnyShared(exclID); err != nil {
			return err
		}
	}
	return nil
}
