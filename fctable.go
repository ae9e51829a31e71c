// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import (
	"sync"

	"github.com/pkg/errors"
)

// FCBlock is one consolidated batch of derived rows, tagged with the
// evaluation round that produced it.
type FCBlock struct {
	Iteration int
	Segment   *Segment
}

// FCTable is the append-only store of consolidated derivations for a
// single IDB predicate. Blocks are ordered by iteration and individual
// blocks are immutable once added, so readers holding a snapshot never
// observe mutation.
type FCTable struct {
	mu      sync.RWMutex
	rowsize int
	blocks  []FCBlock
}

// NewFCTable returns an empty table for rows of the given width.
func NewFCTable(rowsize int) *FCTable {
	return &FCTable{rowsize: rowsize}
}

// RowSize returns the row width.
func (t *FCTable) RowSize() int { return t.rowsize }

// Add appends a consolidated segment produced at the given iteration.
func (t *FCTable) Add(seg *Segment, iteration int) error {
	if seg.RowSize() != t.rowsize {
		return errors.Wrapf(ErrWidthMismatch, "segment width %d, table width %d", seg.RowSize(), t.rowsize)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blocks = append(t.blocks, FCBlock{Iteration: iteration, Segment: seg})
	return nil
}

// Blocks returns a snapshot of the block list. The segments inside are
// shared and immutable.
func (t *FCTable) Blocks() []FCBlock {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]FCBlock, len(t.blocks))
	copy(out, t.blocks)
	return out
}

// BlocksBefore returns the blocks produced strictly before iteration.
func (t *FCTable) BlocksBefore(iteration int) []FCBlock {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []FCBlock
	for _, b := range t.blocks {
		if b.Iteration < iteration {
			out = append(out, b)
		}
	}
	return out
}

// NRows returns the total row count across all blocks.
func (t *FCTable) NRows() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.blocks {
		n += b.Segment.NRows()
	}
	return n
}

// IsEmpty reports whether the table holds no rows.
func (t *FCTable) IsEmpty() bool { return t.NRows() == 0 }
