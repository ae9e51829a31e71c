// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import (
	"sync"

	"github.com/pkg/errors"
)

// InterTable is the consolidated output of an intermediate sink: one
// segment per rule-body block, in block order. Blocks that received no
// rows are represented by empty segments so positions stay aligned.
type InterTable struct {
	rowsize  int
	segments []*Segment
}

// RowSize returns the row width.
func (t *InterTable) RowSize() int { return t.rowsize }

// NSegments returns the number of block positions.
func (t *InterTable) NSegments() int { return len(t.segments) }

// Segment returns the segment for block i.
func (t *InterTable) Segment(i int) *Segment { return t.segments[i] }

// NRows returns the total row count across all blocks.
func (t *InterTable) NRows() int {
	n := 0
	for _, s := range t.segments {
		n += s.NRows()
	}
	return n
}

// InterTableSink collects rows produced while joining one rule body
// literal, keyed by the body block that produced them. Rows are staged
// in per-block inserters and frozen into an InterTable at Consolidate.
type InterTableSink struct {
	rowAssembler
	inserters []*SegmentInserter
	result    *InterTable
}

var _ ResultSink = (*InterTableSink)(nil)

// NewInterTableSink returns a sink assembling rows of the given width
// from the supplied copy plans.
func NewInterTableSink(rowsize int, fromLeft, fromRight []Mapping, nthreads int) *InterTableSink {
	return &InterTableSink{rowAssembler: newRowAssembler(rowsize, fromLeft, fromRight, nthreads)}
}

// RowSize returns the width of assembled rows.
func (s *InterTableSink) RowSize() int { return s.rowsize }

// RawRow exposes the scratch row for direct writes.
func (s *InterTableSink) RawRow() []Term { return s.row }

func (s *InterTableSink) inserter(blockID int) *SegmentInserter {
	for blockID >= len(s.inserters) {
		if cap(s.inserters) == len(s.inserters) {
			grown := make([]*SegmentInserter, len(s.inserters), 2*(len(s.inserters)+1))
			copy(grown, s.inserters)
			s.inserters = grown
		}
		s.inserters = append(s.inserters, NewSegmentInserter(s.rowsize))
	}
	return s.inserters[blockID]
}

// ProcessRawRow ingests the scratch row into the given block.
func (s *InterTableSink) ProcessRawRow(blockID int, unique bool, mu *sync.Mutex) {
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	s.inserter(blockID).AddRow(s.row)
}

// ProcessResults assembles a row from the join inputs and ingests it.
func (s *InterTableSink) ProcessResults(blockID int, first []Term, second RowReader, unique bool) {
	s.assemble(first, second)
	s.inserter(blockID).AddRow(s.row)
}

// ProcessResultsJoin assembles from two cursors into block zero.
func (s *InterTableSink) ProcessResultsJoin(first, second RowReader, unique bool) {
	s.assembleReaders(first, second)
	s.inserter(0).AddRow(s.row)
}

// ProcessResultsVectors assembles one row from column vectors.
func (s *InterTableSink) ProcessResultsVectors(blockID int, vectors1 [][]Term, i1 int, vectors2 [][]Term, i2 int, unique bool) {
	s.assembleVectors(vectors1, i1, vectors2, i2)
	s.inserter(blockID).AddRow(s.row)
}

// ProcessResultsAtPos writes one cell of the scratch row.
func (s *InterTableSink) ProcessResultsAtPos(pos uint8, v Term) {
	s.row[pos] = v
}

// AddColumns bulk-loads whole columns into the block.
func (s *InterTableSink) AddColumns(blockID int, columns [][]Term, sorted, unique bool) error {
	return s.inserter(blockID).AddColumns(columns)
}

// AddColumnsFromIterator is outside the intermediate sink's contract;
// only final sinks accept cursor-driven bulk loads.
func (s *InterTableSink) AddColumnsFromIterator(blockID int, itr TableIterator, unique, sorted, lastInsert bool) error {
	return errors.Wrap(ErrNotSupported, "iterator bulk load on intermediate sink")
}

// IsBlockEmpty reports whether the block holds no rows.
func (s *InterTableSink) IsBlockEmpty(blockID int) bool {
	if blockID >= len(s.inserters) {
		return true
	}
	return s.inserters[blockID].IsEmpty()
}

// RowsInBlock returns the number of rows staged for the block.
func (s *InterTableSink) RowsInBlock(blockID int) int {
	if blockID >= len(s.inserters) {
		return 0
	}
	return s.inserters[blockID].NRows()
}

// IsEmpty reports whether no block holds any rows.
func (s *InterTableSink) IsEmpty() bool {
	for _, ins := range s.inserters {
		if ins != nil && !ins.IsEmpty() {
			return false
		}
	}
	return true
}

// Consolidate seals every block inserter into a segment. The final call
// freezes the sink; afterwards Result returns the table.
func (s *InterTableSink) Consolidate(isFinished bool) error {
	if !isFinished {
		return nil
	}
	segs := make([]*Segment, len(s.inserters))
	for i, ins := range s.inserters {
		if ins == nil || ins.IsEmpty() {
			segs[i] = emptySegment(s.rowsize)
			continue
		}
		segs[i] = ins.Seal()
	}
	s.result = &InterTable{rowsize: s.rowsize, segments: segs}
	return nil
}

// Result returns the consolidated table. It is nil until the finishing
// Consolidate call.
func (s *InterTableSink) Result() *InterTable { return s.result }
