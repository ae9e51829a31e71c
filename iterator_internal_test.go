// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import (
	"reflect"
	"sort"
	"testing"
)

func sortedPairs(pairs []TermPair, less func(a, b TermPair) bool) []TermPair {
	out := make([]TermPair, len(pairs))
	copy(out, pairs)
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func drainPairs(itr *memIterator) []TermPair {
	var out []TermPair
	for itr.HasNext() {
		itr.Next()
		out = append(out, TermPair{First: itr.ElementAt(0), Second: itr.ElementAt(1)})
	}
	return out
}

// Ensure a unary cursor narrows to the bound value's window.
func TestMemIterator_Unary(t *testing.T) {
	col := []Term{1, 2, 2, 3, 5}

	var itr memIterator
	itr.init1(1, col, false, 0)
	var got []Term
	for itr.HasNext() {
		itr.Next()
		got = append(got, itr.ElementAt(0))
	}
	if !reflect.DeepEqual(got, col) {
		t.Fatalf("unexpected values: %v", got)
	}

	itr.init1(1, col, true, 2)
	got = nil
	for itr.HasNext() {
		itr.Next()
		got = append(got, itr.ElementAt(0))
	}
	if !reflect.DeepEqual(got, []Term{2, 2}) {
		t.Fatalf("unexpected values: %v", got)
	}

	itr.init1(1, col, true, 4)
	if itr.HasNext() {
		t.Fatal("expected exhausted cursor for absent value")
	}
}

// Ensure a bound first column yields the full matching run in order.
func TestMemIterator_BoundFirst(t *testing.T) {
	pairs := sortedPairs([]TermPair{
		{First: 1, Second: 2},
		{First: 1, Second: 3},
		{First: 1, Second: 4},
		{First: 2, Second: 5},
	}, lessByFirst)

	var itr memIterator
	itr.init2(1, true, pairs, true, 1, false, 0, false)
	got := drainPairs(&itr)
	want := []TermPair{{First: 1, Second: 2}, {First: 1, Second: 3}, {First: 1, Second: 4}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected pairs: %v", got)
	}
}

// Ensure skipping duplicated first columns yields one row per run on an
// unbound default-sorted scan.
func TestMemIterator_SkipDuplicatedFirstColumn(t *testing.T) {
	pairs := sortedPairs([]TermPair{
		{First: 1, Second: 2},
		{First: 1, Second: 3},
		{First: 1, Second: 4},
		{First: 2, Second: 5},
	}, lessByFirst)

	var itr memIterator
	itr.init2(1, true, pairs, false, 0, false, 0, false)
	itr.SkipDuplicatedFirstColumn()
	var got []Term
	for itr.HasNext() {
		itr.Next()
		got = append(got, itr.ElementAt(0))
	}
	if !reflect.DeepEqual(got, []Term{1, 2}) {
		t.Fatalf("unexpected first columns: %v", got)
	}
}

// Ensure the skip request is ignored once a bound column narrows the
// scan.
func TestMemIterator_SkipIgnoredWhenBound(t *testing.T) {
	pairs := sortedPairs([]TermPair{
		{First: 1, Second: 2},
		{First: 1, Second: 3},
	}, lessByFirst)

	var itr memIterator
	itr.init2(1, true, pairs, true, 1, false, 0, false)
	itr.SkipDuplicatedFirstColumn()
	got := drainPairs(&itr)
	if len(got) != 2 {
		t.Fatalf("unexpected row count: %d", len(got))
	}
}

// Ensure a bound second column scans the inverted index window.
func TestMemIterator_BoundSecond(t *testing.T) {
	pairs := sortedPairs([]TermPair{
		{First: 1, Second: 2},
		{First: 3, Second: 2},
		{First: 2, Second: 5},
	}, lessBySecond)

	var itr memIterator
	itr.init2(1, false, pairs, false, 0, true, 2, false)
	got := drainPairs(&itr)
	want := []TermPair{{First: 1, Second: 2}, {First: 3, Second: 2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected pairs: %v", got)
	}
}

// Ensure both columns bound behaves as a point probe.
func TestMemIterator_PointProbe(t *testing.T) {
	pairs := sortedPairs([]TermPair{
		{First: 1, Second: 2},
		{First: 1, Second: 3},
		{First: 2, Second: 5},
	}, lessByFirst)

	var itr memIterator
	itr.init2(1, true, pairs, true, 1, true, 3, false)
	got := drainPairs(&itr)
	if !reflect.DeepEqual(got, []TermPair{{First: 1, Second: 3}}) {
		t.Fatalf("unexpected pairs: %v", got)
	}

	itr.init2(1, true, pairs, true, 1, true, 9, false)
	if itr.HasNext() {
		t.Fatal("expected exhausted cursor for absent pair")
	}
}

// Ensure the repeated-variable cursor yields only rows whose columns
// coincide, and that HasNext stays idempotent.
func TestMemIterator_EqualFields(t *testing.T) {
	pairs := sortedPairs([]TermPair{
		{First: 1, Second: 1},
		{First: 1, Second: 2},
		{First: 2, Second: 2},
		{First: 3, Second: 4},
	}, lessByFirst)

	var itr memIterator
	itr.init2(1, true, pairs, false, 0, false, 0, true)
	if !itr.HasNext() || !itr.HasNext() {
		t.Fatal("HasNext should be idempotent")
	}
	got := drainPairs(&itr)
	want := []TermPair{{First: 1, Second: 1}, {First: 2, Second: 2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected pairs: %v", got)
	}
}

// Ensure the factory hands back reset cursors.
func TestMemIterFactory(t *testing.T) {
	f := newMemIterFactory()
	itr := f.get()
	itr.init1(7, []Term{1, 2, 3}, false, 0)
	itr.HasNext()
	itr.Next()
	f.release(itr)

	itr = f.get()
	if itr.predid != 0 || itr.one != nil || itr.two != nil {
		t.Fatal("released cursor was not reset")
	}
}
