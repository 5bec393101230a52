// Copyright (C) 2025 Cloud System Implementation. All Rights Reserved.

package interactive

import "sync/atomic"

// A sequence tracks the highest sequence position observed on a connection
// in either direction. Positions only advance; merging an older value is a
// no-op. The zero value is ready for use and is safe for concurrent use.
type sequence struct {
	pos atomic.Uint32
}

// observe merges seq into the tracker, retaining the maximum.
func (s *sequence) observe(seq uint32) {
	for {
		cur := s.pos.Load()
		if seq <= cur || s.pos.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// current reports the highest position observed so far.
func (s *sequence) current() uint32 { return s.pos.Load() }

// reset returns the tracker to zero for a fresh connection.
func (s *sequence) reset() { s.pos.Store(0) }
