// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import (
	"sort"

	"github.com/pkg/errors"
)

// Segment is an immutable column-oriented collection of fixed-width rows.
// A zero-width segment carries only a row count; its rows are
// propositional derivations.
type Segment struct {
	rowsize int
	columns [][]Term
	nrows   int
}

// NewSegment wraps pre-built columns into a segment. All columns must have
// equal length.
func NewSegment(columns [][]Term) (*Segment, error) {
	s := &Segment{rowsize: len(columns), columns: columns}
	for i, c := range columns {
		if i == 0 {
			s.nrows = len(c)
		} else if len(c) != s.nrows {
			return nil, errors.Wrapf(ErrWidthMismatch, "column %d has %d rows, want %d", i, len(c), s.nrows)
		}
	}
	return s, nil
}

func emptySegment(rowsize int) *Segment {
	s := &Segment{rowsize: rowsize}
	if rowsize > 0 {
		s.columns = make([][]Term, rowsize)
	}
	return s
}

// RowSize returns the row width.
func (s *Segment) RowSize() int { return s.rowsize }

// NRows returns the number of rows.
func (s *Segment) NRows() int { return s.nrows }

// IsEmpty reports whether the segment has no rows.
func (s *Segment) IsEmpty() bool { return s.nrows == 0 }

// Column returns the column at pos. The returned slice must not be
// modified.
func (s *Segment) Column(pos uint8) []Term { return s.columns[pos] }

// Cell returns the value at (row, pos).
func (s *Segment) Cell(row int, pos uint8) Term { return s.columns[pos][row] }

// appendRowTo copies row i onto buf.
func (s *Segment) appendRowTo(i int, buf []Term) []Term {
	for p := 0; p < s.rowsize; p++ {
		buf = append(buf, s.columns[p][i])
	}
	return buf
}

func (s *Segment) compareRows(i int, t *Segment, j int) int {
	for p := 0; p < s.rowsize; p++ {
		a, b := s.columns[p][i], t.columns[p][j]
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
	}
	return 0
}

// SortAndUnique returns a segment holding this segment's distinct rows in
// ascending lexicographic order. A zero-width segment collapses to a
// single row.
func (s *Segment) SortAndUnique() *Segment {
	if s.rowsize == 0 {
		out := emptySegment(0)
		if s.nrows > 0 {
			out.nrows = 1
		}
		return out
	}
	if s.nrows == 0 {
		return emptySegment(s.rowsize)
	}

	perm := make([]int, s.nrows)
	for i := range perm {
		perm[i] = i
	}
	sort.Slice(perm, func(a, b int) bool { return s.compareRows(perm[a], s, perm[b]) < 0 })

	out := emptySegment(s.rowsize)
	for p := range out.columns {
		out.columns[p] = make([]Term, 0, s.nrows)
	}
	for k, i := range perm {
		if k > 0 && s.compareRows(perm[k-1], s, i) == 0 {
			continue
		}
		for p := 0; p < s.rowsize; p++ {
			out.columns[p] = append(out.columns[p], s.columns[p][i])
		}
	}
	out.nrows = len(out.columns[0])
	return out
}

// MergeSegments merges two sorted, duplicate-free segments of the same
// width into one sorted, duplicate-free segment. Either argument may be
// nil.
func MergeSegments(a, b *Segment) *Segment {
	if a == nil || a.nrows == 0 {
		if b == nil {
			return a
		}
		return b
	}
	if b == nil || b.nrows == 0 {
		return a
	}
	if a.rowsize == 0 {
		out := emptySegment(0)
		out.nrows = 1
		return out
	}

	out := emptySegment(a.rowsize)
	for p := range out.columns {
		out.columns[p] = make([]Term, 0, a.nrows+b.nrows)
	}
	i, j := 0, 0
	for i < a.nrows && j < b.nrows {
		switch c := a.compareRows(i, b, j); {
		case c < 0:
			for p := 0; p < a.rowsize; p++ {
				out.columns[p] = append(out.columns[p], a.columns[p][i])
			}
			i++
		case c > 0:
			for p := 0; p < a.rowsize; p++ {
				out.columns[p] = append(out.columns[p], b.columns[p][j])
			}
			j++
		default:
			for p := 0; p < a.rowsize; p++ {
				out.columns[p] = append(out.columns[p], a.columns[p][i])
			}
			i++
			j++
		}
	}
	for ; i < a.nrows; i++ {
		for p := 0; p < a.rowsize; p++ {
			out.columns[p] = append(out.columns[p], a.columns[p][i])
		}
	}
	for ; j < b.nrows; j++ {
		for p := 0; p < a.rowsize; p++ {
			out.columns[p] = append(out.columns[p], b.columns[p][j])
		}
	}
	out.nrows = len(out.columns[0])
	return out
}

// Subtract returns the rows of s that do not appear in other. Both
// segments must be sorted and duplicate-free.
func (s *Segment) Subtract(other *Segment) *Segment {
	if other == nil || other.nrows == 0 || s.nrows == 0 {
		return s
	}
	if s.rowsize == 0 {
		// other is non-empty, so the propositional fact is not new
		return emptySegment(0)
	}

	out := emptySegment(s.rowsize)
	for p := range out.columns {
		out.columns[p] = make([]Term, 0, s.nrows)
	}
	j := 0
	for i := 0; i < s.nrows; i++ {
		for j < other.nrows && other.compareRows(j, s, i) < 0 {
			j++
		}
		if j < other.nrows && other.compareRows(j, s, i) == 0 {
			continue
		}
		for p := 0; p < s.rowsize; p++ {
			out.columns[p] = append(out.columns[p], s.columns[p][i])
		}
	}
	out.nrows = len(out.columns[0])
	return out
}

// SegmentInserter accumulates rows or columns and freezes them into a
// Segment. It is owned by exactly one sink until sealed.
type SegmentInserter struct {
	rowsize int
	columns [][]Term
	nrows   int
	sealed  bool
}

// NewSegmentInserter returns an empty inserter of the given row width.
func NewSegmentInserter(rowsize int) *SegmentInserter {
	ins := &SegmentInserter{rowsize: rowsize}
	if rowsize > 0 {
		ins.columns = make([][]Term, rowsize)
	}
	return ins
}

func (ins *SegmentInserter) mustOpen() {
	if ins.sealed {
		panic("horn: write to sealed segment inserter")
	}
}

// RowSize returns the row width.
func (ins *SegmentInserter) RowSize() int { return ins.rowsize }

// NRows returns the number of rows inserted so far.
func (ins *SegmentInserter) NRows() int { return ins.nrows }

// IsEmpty reports whether no rows were inserted.
func (ins *SegmentInserter) IsEmpty() bool { return ins.nrows == 0 }

// AddRow appends a copy of row, which must have the inserter's width.
func (ins *SegmentInserter) AddRow(row []Term) {
	ins.mustOpen()
	if ins.rowsize == 0 {
		ins.nrows++
		return
	}
	for p := 0; p < ins.rowsize; p++ {
		ins.columns[p] = append(ins.columns[p], row[p])
	}
	ins.nrows++
}

// AddAt appends a single value to column pos. This is the
// column-materialization fast path: the caller must fill every column to
// the same length before the inserter is observed or sealed.
func (ins *SegmentInserter) AddAt(pos uint8, v Term) {
	ins.mustOpen()
	ins.columns[pos] = append(ins.columns[pos], v)
	if len(ins.columns[pos]) > ins.nrows {
		ins.nrows = len(ins.columns[pos])
	}
}

// AddColumns appends whole columns aligned by position. The column count
// must equal the row width and all columns must have equal length.
func (ins *SegmentInserter) AddColumns(columns [][]Term) error {
	ins.mustOpen()
	if len(columns) != ins.rowsize {
		return errors.Wrapf(ErrWidthMismatch, "got %d columns, row size is %d", len(columns), ins.rowsize)
	}
	if ins.rowsize == 0 {
		return nil
	}
	n := len(columns[0])
	for i, c := range columns {
		if len(c) != n {
			return errors.Wrapf(ErrWidthMismatch, "column %d has %d rows, column 0 has %d", i, len(c), n)
		}
	}
	for p := 0; p < ins.rowsize; p++ {
		ins.columns[p] = append(ins.columns[p], columns[p]...)
	}
	ins.nrows += n
	return nil
}

// AddColumnAt appends one whole column at position pos, under the same
// fill-evenly contract as AddAt.
func (ins *SegmentInserter) AddColumnAt(pos uint8, column []Term) {
	ins.mustOpen()
	ins.columns[pos] = append(ins.columns[pos], column...)
	if len(ins.columns[pos]) > ins.nrows {
		ins.nrows = len(ins.columns[pos])
	}
}

// Seal freezes the inserter and returns the accumulated segment. Further
// writes panic. Ragged columns are a programming error.
func (ins *SegmentInserter) Seal() *Segment {
	ins.mustOpen()
	ins.sealed = true
	for p := 0; p < ins.rowsize; p++ {
		if len(ins.columns[p]) != ins.nrows {
			panic("horn: sealing segment inserter with ragged columns")
		}
	}
	return &Segment{rowsize: ins.rowsize, columns: ins.columns, nrows: ins.nrows}
}
