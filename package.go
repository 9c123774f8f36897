// Package hilok is a hierarchical reader/writer lock
// manager.
//
// Paths such as "a/b/c" name nodes in a tree that is
// materialised on demand. Locking a path read-locks
// every ancestor and read- or write-locks the final
// node, so a writer on "a/b/c" excludes conflicting
// work on its ancestors and descendants while leaving
// unrelated subtrees alone. Nodes vanish again once
// nothing holds them.
//
// A manager hands out handles:
//
//	h, _ := hilok.New('/', hilok.FlagRecursive)
//	hd, err := h.Write("a/b/c", true, 0)
//	if err != nil {
//		// lock failed
//	}
//	defer hd.Release()
//
// Rename moves a locked leaf to a new path without
// dropping any of its locks.
package hilok
