// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn_test

import (
	"reflect"
	"testing"

	horn "github.com/featurebasedb/horn"
)

// Ensure the row-major buffer stores and returns rows in order.
func TestTupleTable(t *testing.T) {
	tbl := horn.NewTupleTable(2)
	tbl.AddRow([]horn.Term{1, 2})
	tbl.AddRow([]horn.Term{3, 4})

	if got := tbl.NRows(); got != 2 {
		t.Fatalf("unexpected row count: %d", got)
	}
	if got := tbl.Row(1); !reflect.DeepEqual(got, []horn.Term{3, 4}) {
		t.Fatalf("unexpected row: %v", got)
	}
}

// Ensure the in-memory relation rejects unsupported arities.
func TestIndexedTupleTable_Arity(t *testing.T) {
	if _, err := horn.NewIndexedTupleTable(0); err == nil {
		t.Fatal("expected error for arity 0")
	}
	if _, err := horn.NewIndexedTupleTable(3); err == nil {
		t.Fatal("expected error for arity 3")
	}
}

// Ensure sealing a binary relation produces both sort orders and the
// distinct counts behind cardinality estimates.
func TestIndexedTupleTable_Seal(t *testing.T) {
	rel, err := horn.NewIndexedTupleTable(2)
	if err != nil {
		t.Fatal(err)
	}
	rel.Add2(3, 1)
	rel.Add2(1, 2)
	rel.Add2(2, 3)
	rel.Add2(1, 1)
	rel.Seal()

	if got := rel.ByFirst(); !reflect.DeepEqual(got, []horn.TermPair{
		{First: 1, Second: 1},
		{First: 1, Second: 2},
		{First: 2, Second: 3},
		{First: 3, Second: 1},
	}) {
		t.Fatalf("unexpected ByFirst order: %v", got)
	}
	if got := rel.BySecond(); !reflect.DeepEqual(got, []horn.TermPair{
		{First: 1, Second: 1},
		{First: 3, Second: 1},
		{First: 1, Second: 2},
		{First: 2, Second: 3},
	}) {
		t.Fatalf("unexpected BySecond order: %v", got)
	}

	if got := rel.NTuples(); got != 4 {
		t.Fatalf("unexpected tuple count: %d", got)
	}
	if got := rel.Size(0); got != 3 {
		t.Fatalf("unexpected distinct count for column 0: %d", got)
	}
	if got := rel.Size(1); got != 3 {
		t.Fatalf("unexpected distinct count for column 1: %d", got)
	}
}

// Ensure membership probes consult the right index.
func TestIndexedTupleTable_Exists(t *testing.T) {
	rel, err := horn.NewIndexedTupleTable(2)
	if err != nil {
		t.Fatal(err)
	}
	rel.Add2(1, 2)
	rel.Add2(2, 3)
	rel.Add2(3, 1)
	rel.Seal()

	if !rel.Exists(0, 2) {
		t.Fatal("expected 2 in column 0")
	}
	if rel.Exists(0, 9) {
		t.Fatal("did not expect 9 in column 0")
	}
	if !rel.Exists(1, 3) {
		t.Fatal("expected 3 in column 1")
	}
	if !rel.ExistsPair(horn.TermPair{First: 3, Second: 1}) {
		t.Fatal("expected pair (3,1)")
	}
	if rel.ExistsPair(horn.TermPair{First: 1, Second: 3}) {
		t.Fatal("did not expect pair (1,3)")
	}
}

// Ensure a unary relation sorts its column at Seal.
func TestIndexedTupleTable_Unary(t *testing.T) {
	rel, err := horn.NewIndexedTupleTable(1)
	if err != nil {
		t.Fatal(err)
	}
	rel.Add1(5)
	rel.Add1(1)
	rel.Add1(5)
	rel.Seal()

	if got := rel.SingleColumn(); !reflect.DeepEqual(got, []horn.Term{1, 5, 5}) {
		t.Fatalf("unexpected column: %v", got)
	}
	if got := rel.Size(0); got != 2 {
		t.Fatalf("unexpected distinct count: %d", got)
	}
	if !rel.Exists(0, 5) || rel.Exists(0, 2) {
		t.Fatal("unexpected membership results")
	}
}

// Ensure writes after Seal panic.
func TestIndexedTupleTable_SealedWrite(t *testing.T) {
	rel, err := horn.NewIndexedTupleTable(1)
	if err != nil {
		t.Fatal(err)
	}
	rel.Seal()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on write after seal")
		}
	}()
	rel.Add1(1)
}
