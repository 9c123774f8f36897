package hilok

import (
	"github.com/pkg/errors"

	"github.com/AtakamaLLC/hilok/recmutex"
)

// Flags configure a manager. With neither recursion
// bit set the per-node mutexes are strict: no
// reentrance of any kind.
type Flags uint32

const (
	// FlagRecursiveWrite allows re-entering exclusive
	// locks only; a shared holder never escalates.
	FlagRecursiveWrite Flags = 1 << 0

	// FlagRecursiveOneWay additionally allows an
	// exclusive holder to take shared locks, but
	// never shared to exclusive.
	FlagRecursiveOneWay Flags = 1 << 1

	// FlagRecursive enables full reentrance,
	// including escalation when the requesting
	// goroutine is the sole shared holder.
	FlagRecursive = FlagRecursiveWrite | FlagRecursiveOneWay

	// flagRecursiveRead is the historical
	// recursive-read-only mode, never supported.
	flagRecursiveRead Flags = 1 << 2

	// FlagLooseReadUnlock permits shared handles to
	// be released by a goroutine other than the
	// acquirer.
	FlagLooseReadUnlock Flags = 1 << 3

	// FlagLooseWriteUnlock permits exclusive handles
	// to be released by a goroutine other than the
	// acquirer.
	FlagLooseWriteUnlock Flags = 1 << 4
)

func (f Flags) policy() (recmutex.Policy, error) {
	if f&flagRecursiveRead != 0 {
		return 0, errors.Wrap(ErrInvalidFlags, "recursive read-only locks are not supported")
	}
	switch f & FlagRecursive {
	case FlagRecursive:
		return recmutex.Recursive, nil
	case FlagRecursiveWrite:
		return recmutex.RecursiveWrite, nil
	case FlagRecursiveOneWay:
		return recmutex.RecursiveOneWay, nil
	}
	return recmutex.Strict, nil
}
