// Package pathsplit yields the non-empty segments of
// a separator-delimited path.
//
// Segments are opaque bytes: no dot or dot-dot
// handling, no escaping. Leading, trailing and
// repeated separators produce no empty segments.
package pathsplit

import "strings"

// Splitter iterates over the segments of one path.
// Construct a new one to restart.
type Splitter struct {
	rest string
	sep  byte
}

// New returns a splitter over path using sep.
func New(path string, sep byte) *Splitter {
	s := &Splitter{rest: path, sep: sep}
	s.trim()
	return s
}

func (s *Splitter) trim() {
	for len(s.rest) > 0 && s.rest[0] == s.sep {
		s.rest = s.rest[1:]
	}
}

// More reports whether another segment remains.
func (s *Splitter) More() bool {
	return len(s.rest) > 0
}

// Next returns the next segment, or ok=false when the
// path is exhausted.
func (s *Splitter) Next() (seg string, ok bool) {
	if len(s.rest) == 0 {
		return "", false
	}
	i := strings.IndexByte(s.rest, s.sep)
	if i < 0 {
		seg, s.rest = s.rest, ""
		return seg, true
	}
	seg, s.rest = s.rest[:i], s.rest[i+1:]
	s.trim()
	return seg, true
}
