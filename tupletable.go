// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import (
	"sort"

	"github.com/pkg/errors"
)

// TupleTable is a row-major buffer of fixed-width result rows. It is the
// output container populated by full-table queries.
type TupleTable struct {
	rowsize int
	values  []Term
}

// NewTupleTable returns an empty table of the given row width.
func NewTupleTable(rowsize int) *TupleTable {
	return &TupleTable{rowsize: rowsize}
}

// RowSize returns the row width.
func (t *TupleTable) RowSize() int { return t.rowsize }

// NRows returns the number of rows added so far.
func (t *TupleTable) NRows() int {
	if t.rowsize == 0 {
		return 0
	}
	return len(t.values) / t.rowsize
}

// AddRow appends a copy of row.
func (t *TupleTable) AddRow(row []Term) {
	t.values = append(t.values, row[:t.rowsize]...)
}

// Row returns the i-th row. The returned slice aliases the table and must
// not be modified.
func (t *TupleTable) Row(i int) []Term {
	return t.values[i*t.rowsize : (i+1)*t.rowsize]
}

// IndexedTupleTable is an in-memory relation of arity one or two. Rows are
// added through the builder methods and both sort orders are produced by
// Seal; after Seal the relation is immutable and safe to share without
// locking.
type IndexedTupleTable struct {
	arity uint8

	single []Term // arity 1, sorted ascending after Seal

	byFirst  []TermPair // arity 2, sorted by (first, second) after Seal
	bySecond []TermPair // same multiset, sorted by (second, first) after Seal

	sealed bool

	// distinct-value counts per column, computed at Seal
	distinct [2]int
}

// NewIndexedTupleTable returns an empty relation builder. Only arities one
// and two are supported by the in-memory path.
func NewIndexedTupleTable(arity uint8) (*IndexedTupleTable, error) {
	if arity < 1 || arity > 2 {
		return nil, errors.Wrapf(ErrNotSupported, "in-memory relation of arity %d", arity)
	}
	return &IndexedTupleTable{arity: arity}, nil
}

// Arity returns the relation arity.
func (r *IndexedTupleTable) Arity() uint8 { return r.arity }

// Add1 appends a unary tuple. Panics if the relation is sealed or binary.
func (r *IndexedTupleTable) Add1(v Term) {
	r.mustMutable()
	if r.arity != 1 {
		panic("horn: Add1 on binary relation")
	}
	r.single = append(r.single, v)
}

// Add2 appends a binary tuple. Panics if the relation is sealed or unary.
func (r *IndexedTupleTable) Add2(first, second Term) {
	r.mustMutable()
	if r.arity != 2 {
		panic("horn: Add2 on unary relation")
	}
	r.byFirst = append(r.byFirst, TermPair{First: first, Second: second})
}

func (r *IndexedTupleTable) mustMutable() {
	if r.sealed {
		panic("horn: write to sealed relation")
	}
}

// Seal sorts both indexes and freezes the relation. It must be called
// exactly once, before the relation is handed to the engine.
func (r *IndexedTupleTable) Seal() {
	r.mustMutable()
	r.sealed = true
	switch r.arity {
	case 1:
		sort.Slice(r.single, func(i, j int) bool { return r.single[i] < r.single[j] })
		r.distinct[0] = countDistinct1(r.single)
	case 2:
		sort.Slice(r.byFirst, func(i, j int) bool { return lessByFirst(r.byFirst[i], r.byFirst[j]) })
		r.bySecond = make([]TermPair, len(r.byFirst))
		copy(r.bySecond, r.byFirst)
		sort.Slice(r.bySecond, func(i, j int) bool { return lessBySecond(r.bySecond[i], r.bySecond[j]) })
		r.distinct[0] = countDistinctPairs(r.byFirst, func(p TermPair) Term { return p.First })
		r.distinct[1] = countDistinctPairs(r.bySecond, func(p TermPair) Term { return p.Second })
	}
}

func countDistinct1(v []Term) int {
	n := 0
	for i := range v {
		if i == 0 || v[i] != v[i-1] {
			n++
		}
	}
	return n
}

func countDistinctPairs(v []TermPair, key func(TermPair) Term) int {
	n := 0
	for i := range v {
		if i == 0 || key(v[i]) != key(v[i-1]) {
			n++
		}
	}
	return n
}

// NTuples returns the number of rows.
func (r *IndexedTupleTable) NTuples() int {
	if r.arity == 1 {
		return len(r.single)
	}
	return len(r.byFirst)
}

// Size returns the number of distinct values in column pos. Used for
// cardinality estimates.
func (r *IndexedTupleTable) Size(pos uint8) int {
	return r.distinct[pos]
}

// Exists reports whether value v appears in column pos.
func (r *IndexedTupleTable) Exists(pos uint8, v Term) bool {
	if r.arity == 1 {
		i := sort.Search(len(r.single), func(i int) bool { return r.single[i] >= v })
		return i < len(r.single) && r.single[i] == v
	}
	if pos == 0 {
		i := sort.Search(len(r.byFirst), func(i int) bool { return r.byFirst[i].First >= v })
		return i < len(r.byFirst) && r.byFirst[i].First == v
	}
	i := sort.Search(len(r.bySecond), func(i int) bool { return r.bySecond[i].Second >= v })
	return i < len(r.bySecond) && r.bySecond[i].Second == v
}

// ExistsPair reports whether the exact pair appears in a binary relation.
func (r *IndexedTupleTable) ExistsPair(p TermPair) bool {
	i := sort.Search(len(r.byFirst), func(i int) bool { return !lessByFirst(r.byFirst[i], p) })
	return i < len(r.byFirst) && r.byFirst[i] == p
}

// SingleColumn returns the sorted storage of a unary relation.
func (r *IndexedTupleTable) SingleColumn() []Term { return r.single }

// ByFirst returns the (first, second)-sorted index of a binary relation.
func (r *IndexedTupleTable) ByFirst() []TermPair { return r.byFirst }

// BySecond returns the (second, first)-sorted index of a binary relation.
func (r *IndexedTupleTable) BySecond() []TermPair { return r.bySecond }
