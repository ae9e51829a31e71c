// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import (
	"math"
	"sort"
	"sync"
)

// RowReader exposes the current row of a positioned cursor.
type RowReader interface {
	ElementAt(pos uint8) Term
}

// TableIterator is a forward cursor over fixed-width rows. HasNext is
// idempotent; Next may only be called after a successful HasNext.
type TableIterator interface {
	RowReader
	HasNext() bool
	Next()
}

// EDBIterator is a cursor over one EDB predicate's rows.
type EDBIterator interface {
	TableIterator
	PredID() PredID
	// SkipDuplicatedFirstColumn requests that iteration yield only the
	// first row of each run sharing a first-column value. It is honored
	// only before the first Next and only on an unbound default-sorted
	// binary scan; otherwise it is a no-op.
	SkipDuplicatedFirstColumn()
}

// memIterator is a restartable cursor over an IndexedTupleTable window.
// The window is fixed at init time by binary-searching the chosen index
// for the bound columns, so creation costs two searches and no
// allocation.
type memIterator struct {
	predid  PredID
	nfields uint8

	one []Term
	two []TermPair
	cur int

	isFirst  bool
	hasFirst bool

	equalFields   bool
	ignoreSecond  bool
	ignoreAllowed bool

	// cached scan-ahead result so HasNext stays idempotent
	nextCheck bool
	nextOK    bool
	equalNext int
}

var _ EDBIterator = (*memIterator)(nil)

func (it *memIterator) reset() {
	*it = memIterator{}
}

func (it *memIterator) init1(predid PredID, v []Term, c1 bool, vc1 Term) {
	it.reset()
	it.predid = predid
	it.nfields = 1
	it.one = v
	if c1 {
		lo := sort.Search(len(v), func(i int) bool { return v[i] >= vc1 })
		hi := sort.Search(len(v), func(i int) bool { return v[i] > vc1 })
		it.one = v[lo:hi]
	}
	it.isFirst = true
	it.hasFirst = len(it.one) > 0
}

// init2 positions the cursor over v, which must be sorted by (first,
// second) when defaultSorting is true and by (second, first) otherwise. A
// bound first column requires default sorting; a bound second column alone
// requires the inverted sorting.
func (it *memIterator) init2(predid PredID, defaultSorting bool, v []TermPair,
	c1 bool, vc1 Term, c2 bool, vc2 Term, equalFields bool) {
	it.reset()
	it.predid = predid
	it.nfields = 2
	it.equalFields = equalFields
	it.two = v
	it.ignoreAllowed = defaultSorting && !c1 && !c2

	switch {
	case c1:
		if !defaultSorting {
			panic("horn: first-column binding requires the default sort order")
		}
		low := TermPair{First: vc1}
		high := TermPair{First: vc1, Second: math.MaxUint64}
		if c2 {
			low = TermPair{First: vc1, Second: vc2}
			high = low
		}
		lo := sort.Search(len(v), func(i int) bool { return !lessByFirst(v[i], low) })
		if lo == len(v) || v[lo].First != vc1 || (c2 && v[lo].Second != vc2) {
			it.two = v[:0]
			break
		}
		hi := lo + sort.Search(len(v)-lo, func(i int) bool { return lessByFirst(high, v[lo+i]) })
		it.two = v[lo:hi]
	case c2:
		if defaultSorting {
			panic("horn: second-column binding requires the inverted sort order")
		}
		low := TermPair{Second: vc2}
		lo := sort.Search(len(v), func(i int) bool { return !lessBySecond(v[i], low) })
		if lo == len(v) || v[lo].Second != vc2 {
			it.two = v[:0]
			break
		}
		high := TermPair{First: math.MaxUint64, Second: vc2}
		hi := lo + sort.Search(len(v)-lo, func(i int) bool { return lessBySecond(high, v[lo+i]) })
		it.two = v[lo:hi]
	}

	it.isFirst = true
	it.hasFirst = len(it.two) > 0
}

// PredID returns the predicate this cursor scans.
func (it *memIterator) PredID() PredID { return it.predid }

func (it *memIterator) SkipDuplicatedFirstColumn() {
	if it.ignoreAllowed && it.isFirst {
		it.ignoreSecond = true
	}
}

func (it *memIterator) HasNext() bool {
	if it.equalFields {
		// Scan ahead for the next row whose columns coincide; the answer
		// is cached so repeated calls do not rescan.
		if !it.nextCheck {
			start := it.cur
			if !it.isFirst {
				start = it.cur + 1
			}
			it.nextOK = false
			for i := start; i < len(it.two); i++ {
				if it.two[i].First == it.two[i].Second {
					it.equalNext = i
					it.nextOK = true
					break
				}
			}
			it.nextCheck = true
		}
		return it.nextOK
	}

	if it.isFirst {
		return it.hasFirst
	}

	if it.nfields == 1 {
		return it.cur+1 < len(it.one)
	}

	if it.ignoreSecond {
		// The cursor advances here rather than in Next so the next
		// distinct first-column run is located exactly once.
		if it.nextCheck {
			return it.nextOK
		}
		it.nextCheck = true
		prev := it.two[it.cur].First
		for {
			it.cur++
			if it.cur >= len(it.two) {
				it.nextOK = false
				return false
			}
			if it.two[it.cur].First != prev {
				it.nextOK = true
				return true
			}
		}
	}

	return it.cur+1 < len(it.two)
}

func (it *memIterator) Next() {
	switch {
	case it.equalFields:
		it.isFirst = false
		it.cur = it.equalNext
		it.nextCheck = false
	case it.ignoreSecond:
		it.isFirst = false
		it.nextCheck = false
	case it.isFirst:
		it.isFirst = false
	default:
		it.cur++
	}
}

func (it *memIterator) ElementAt(pos uint8) Term {
	if it.nfields == 1 {
		return it.one[it.cur]
	}
	if pos == 0 {
		return it.two[it.cur].First
	}
	return it.two[it.cur].Second
}

// memIterFactory recycles memory iterators. Acquire and release are cheap
// enough to sit on the per-literal query path.
type memIterFactory struct {
	pool sync.Pool
}

func newMemIterFactory() *memIterFactory {
	return &memIterFactory{pool: sync.Pool{New: func() interface{} { return &memIterator{} }}}
}

func (f *memIterFactory) get() *memIterator {
	return f.pool.Get().(*memIterator)
}

func (f *memIterFactory) release(it *memIterator) {
	it.reset()
	f.pool.Put(it)
}
