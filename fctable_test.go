// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn_test

import (
	"testing"

	horn "github.com/featurebasedb/horn"
)

// Ensure the fact table appends blocks in order and filters by
// iteration.
func TestFCTable(t *testing.T) {
	tbl := horn.NewFCTable(2)
	if !tbl.IsEmpty() {
		t.Fatal("new table should be empty")
	}

	if err := tbl.Add(segmentOf(t, []horn.Term{1, 1}), 0); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Add(segmentOf(t, []horn.Term{2, 2}, []horn.Term{3, 3}), 1); err != nil {
		t.Fatal(err)
	}

	if got := tbl.NRows(); got != 3 {
		t.Fatalf("unexpected row count: %d", got)
	}
	if got := len(tbl.Blocks()); got != 2 {
		t.Fatalf("unexpected block count: %d", got)
	}
	if got := len(tbl.BlocksBefore(1)); got != 1 {
		t.Fatalf("unexpected prior block count: %d", got)
	}
	if got := tbl.BlocksBefore(1)[0].Iteration; got != 0 {
		t.Fatalf("unexpected iteration: %d", got)
	}
}

// Ensure a segment of the wrong width is rejected.
func TestFCTable_WidthMismatch(t *testing.T) {
	tbl := horn.NewFCTable(2)
	if err := tbl.Add(segmentOf(t, []horn.Term{1}), 0); err == nil {
		t.Fatal("expected width mismatch error")
	}
}

// Ensure block snapshots are isolated from later appends.
func TestFCTable_SnapshotIsolation(t *testing.T) {
	tbl := horn.NewFCTable(1)
	if err := tbl.Add(segmentOf(t, []horn.Term{1}), 0); err != nil {
		t.Fatal(err)
	}
	snap := tbl.Blocks()
	if err := tbl.Add(segmentOf(t, []horn.Term{2}), 1); err != nil {
		t.Fatal(err)
	}
	if got := len(snap); got != 1 {
		t.Fatalf("snapshot grew after append: %d blocks", got)
	}
}
