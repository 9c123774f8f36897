package hilok

import (
	"github.com/pkg/errors"

	"github.com/AtakamaLLC/hilok/recmutex"
)

var (
	// ErrLockFailed is returned when a non-blocking
	// acquire finds the path busy or a timed acquire
	// runs out of time, and when a rename cannot lock
	// its destination.
	ErrLockFailed = errors.New("failed to lock")

	// ErrRenameSourceMissing is returned by Rename
	// when no node lives at the source path.
	ErrRenameSourceMissing = errors.New("rename source lock not found")

	// ErrInvalidFlags is returned by New for flag
	// combinations that have no defined behavior.
	ErrInvalidFlags = errors.New("unsupported flag combination")

	// ErrInvalidUnlock is returned when a release is
	// attempted by a goroutine that holds no matching
	// count.
	ErrInvalidUnlock = recmutex.ErrInvalidUnlock
)
