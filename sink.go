// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import "sync"

// DedupPolicy selects how a final-result sink suppresses duplicate rows
// while a round is still open.
type DedupPolicy int

const (
	// DedupTwoBucket routes rows into the known-unique or possibly-
	// duplicated staging areas based on the caller's uniqueness hint.
	DedupTwoBucket DedupPolicy = iota
	// DedupHashSet additionally probes a hash set of already-staged rows
	// so duplicates are dropped at insert time.
	DedupHashSet
)

// defaultTmptThreshold bounds the possibly-duplicated staging area of a
// final sink block before an eager fold is triggered.
const defaultTmptThreshold = 32 << 20

// Mapping routes one source position to one destination position when a
// row is assembled from join inputs.
type Mapping struct {
	Src uint8
	Dst uint8
}

// ResultSink receives join output rows addressed by rule-body block and
// consolidates them on demand. Implementations are not safe for
// concurrent use unless a method accepts an explicit lock.
type ResultSink interface {
	// RowSize returns the width of assembled rows.
	RowSize() int
	// RawRow exposes the sink's scratch row. Callers writing through it
	// must hand the same slice back to ProcessRawRow.
	RawRow() []Term
	// ProcessRawRow ingests the scratch row into the given block. The
	// unique hint marks rows the caller proved distinct. When mu is
	// non-nil it is held around the mutation.
	ProcessRawRow(blockID int, unique bool, mu *sync.Mutex)
	// ProcessResults assembles a row from a left tuple and a positioned
	// right cursor, then ingests it into the block.
	ProcessResults(blockID int, first []Term, second RowReader, unique bool)
	// ProcessResultsJoin assembles from two positioned cursors into the
	// scratch row and ingests it into block zero.
	ProcessResultsJoin(first, second RowReader, unique bool)
	// ProcessResultsVectors assembles one row from column vectors, using
	// row i1 of vectors1 and row i2 of vectors2.
	ProcessResultsVectors(blockID int, vectors1 [][]Term, i1 int, vectors2 [][]Term, i2 int, unique bool)
	// ProcessResultsAtPos writes a single cell of the scratch row. The
	// caller must complete the row and ingest it with ProcessRawRow.
	ProcessResultsAtPos(pos uint8, v Term)
	// AddColumns bulk-loads whole columns into the block. sorted and
	// unique describe the input rows as a set.
	AddColumns(blockID int, columns [][]Term, sorted, unique bool) error
	// AddColumnsFromIterator drains a cursor into the block, projecting
	// through the sink's copy plan. lastInsert marks the final batch of
	// the round.
	AddColumnsFromIterator(blockID int, itr TableIterator, unique, sorted, lastInsert bool) error
	// IsBlockEmpty reports whether the block holds no staged or
	// consolidated rows.
	IsBlockEmpty(blockID int) bool
	// RowsInBlock returns the number of rows currently attributed to the
	// block.
	RowsInBlock(blockID int) int
	// IsEmpty reports whether no block holds any rows.
	IsEmpty() bool
	// Consolidate folds staged rows into their durable form. Passing
	// isFinished commits the round; a non-final call only compacts.
	Consolidate(isFinished bool) error
}

// rowAssembler carries the row-construction plan shared by the sink
// implementations: a scratch row plus the position mappings that pull
// values out of the left and right join inputs.
type rowAssembler struct {
	rowsize  int
	row      []Term
	fromLeft []Mapping
	fromRight []Mapping
	nthreads int
}

func newRowAssembler(rowsize int, fromLeft, fromRight []Mapping, nthreads int) rowAssembler {
	if nthreads < 1 {
		nthreads = 1
	}
	return rowAssembler{
		rowsize:   rowsize,
		row:       make([]Term, rowsize),
		fromLeft:  fromLeft,
		fromRight: fromRight,
		nthreads:  nthreads,
	}
}

func (a *rowAssembler) assemble(first []Term, second RowReader) {
	for _, m := range a.fromLeft {
		a.row[m.Dst] = first[m.Src]
	}
	for _, m := range a.fromRight {
		a.row[m.Dst] = second.ElementAt(m.Src)
	}
}

func (a *rowAssembler) assembleReaders(first, second RowReader) {
	for _, m := range a.fromLeft {
		a.row[m.Dst] = first.ElementAt(m.Src)
	}
	for _, m := range a.fromRight {
		a.row[m.Dst] = second.ElementAt(m.Src)
	}
}

func (a *rowAssembler) assembleVectors(vectors1 [][]Term, i1 int, vectors2 [][]Term, i2 int) {
	for _, m := range a.fromLeft {
		a.row[m.Dst] = vectors1[m.Src][i1]
	}
	for _, m := range a.fromRight {
		a.row[m.Dst] = vectors2[m.Src][i2]
	}
}
