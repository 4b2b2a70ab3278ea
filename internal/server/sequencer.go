package server

import (
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const writeStripes = 64

// writeSequencer serializes write commands per key stripe, so that the order in
// which writes reach the AOF is the order in which they were applied
type writeSequencer struct {
	stripes [writeStripes]sync.Mutex
}

// lock takes the stripes of every key the command names, in ascending order.
// Commands without key positions take all stripes
func (s *writeSequencer) lock(meta commandMetadata, args [][]byte) (unlock func()) {
	idx := stripesOf(meta, args)

	for _, i := range idx {
		s.stripes[i].Lock()
	}

	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.stripes[idx[j]].Unlock()
		}
	}
}

// stripesOf returns the sorted, deduplicated stripe indexes of the command keys.
// Key positions count the command name as position 0
func stripesOf(meta commandMetadata, args [][]byte) []int {
	if meta.firstKey <= 0 || meta.step <= 0 {
		all := make([]int, writeStripes)
		for i := range all {
			all[i] = i
		}
		return all
	}

	last := meta.lastKey
	if last < 0 {
		last = len(args) + 1 + last
	}

	idx := make([]int, 0, 1)
	for pos := meta.firstKey; pos <= last && pos <= len(args); pos += meta.step {
		idx = append(idx, int(xxhash.Sum64(args[pos-1])%writeStripes))
	}

	slices.Sort(idx)
	return slices.Compact(idx)
}
