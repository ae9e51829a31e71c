// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kb_test

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	horn "github.com/featurebasedb/horn"
	"github.com/featurebasedb/horn/kb"
)

func mustOpenStore(t *testing.T, arity uint8) *kb.Store {
	t.Helper()
	s, err := kb.Open(filepath.Join(t.TempDir(), "facts.kb"), arity)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustAddFacts(t *testing.T, s *kb.Store, rows ...[]horn.Term) {
	t.Helper()
	if err := s.AddFacts(rows); err != nil {
		t.Fatal(err)
	}
}

func pred2() horn.Predicate { return horn.NewPredicate(1, horn.TypeEDB, 2) }

func allVars2() horn.Literal {
	return horn.MustNewLiteral(pred2(), horn.VTuple{horn.NewVarTerm(1), horn.NewVarTerm(2)})
}

func tableRows(tbl *horn.TupleTable) [][]horn.Term {
	var out [][]horn.Term
	for i := 0; i < tbl.NRows(); i++ {
		row := make([]horn.Term, tbl.RowSize())
		copy(row, tbl.Row(i))
		out = append(out, row)
	}
	return out
}

// Ensure the store validates arity at open and insert time.
func TestStore_Open(t *testing.T) {
	if _, err := kb.Open(filepath.Join(t.TempDir(), "f.kb"), 0); err == nil {
		t.Fatal("expected error for arity 0")
	}
	if _, err := kb.Open(filepath.Join(t.TempDir(), "f.kb"), horn.MaxTupleSize+1); err == nil {
		t.Fatal("expected error for oversized arity")
	}

	s := mustOpenStore(t, 2)
	if got := s.Arity(); got != 2 {
		t.Fatalf("unexpected arity: %d", got)
	}
	if err := s.AddFact([]horn.Term{1}); err == nil {
		t.Fatal("expected width mismatch error")
	}
}

// Ensure reopening a store keeps its arity.
func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facts.kb")
	s, err := kb.Open(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	mustAddFacts(t, s, []horn.Term{1, 2})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := kb.Open(path, 3); err == nil {
		t.Fatal("expected arity mismatch error")
	}

	s, err = kb.Open(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if n, err := s.Cardinality(context.Background(), allVars2()); err != nil {
		t.Fatal(err)
	} else if n != 1 {
		t.Fatalf("unexpected cardinality after reopen: %d", n)
	}
}

// Ensure queries honor constants, repeated variables, and pattern
// filters.
func TestStore_Query(t *testing.T) {
	s := mustOpenStore(t, 2)
	mustAddFacts(t, s,
		[]horn.Term{1, 2},
		[]horn.Term{2, 2},
		[]horn.Term{2, 3},
		[]horn.Term{3, 1},
	)
	ctx := context.Background()

	// Full scan comes back in ascending row order.
	out := horn.NewTupleTable(2)
	if err := s.Query(ctx, horn.NewQSQQuery(allVars2()), nil, nil, out); err != nil {
		t.Fatal(err)
	}
	want := [][]horn.Term{{1, 2}, {2, 2}, {2, 3}, {3, 1}}
	if got := tableRows(out); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected rows: %v", got)
	}

	// A leading constant narrows the scan to its prefix.
	bound := horn.MustNewLiteral(pred2(), horn.VTuple{horn.NewConstTerm(2), horn.NewVarTerm(1)})
	out = horn.NewTupleTable(2)
	if err := s.Query(ctx, horn.NewQSQQuery(bound), nil, nil, out); err != nil {
		t.Fatal(err)
	}
	if got := tableRows(out); !reflect.DeepEqual(got, [][]horn.Term{{2, 2}, {2, 3}}) {
		t.Fatalf("unexpected rows: %v", got)
	}

	// A repeated variable keeps only the diagonal.
	diag := horn.MustNewLiteral(pred2(), horn.VTuple{horn.NewVarTerm(1), horn.NewVarTerm(1)})
	out = horn.NewTupleTable(2)
	if err := s.Query(ctx, horn.NewQSQQuery(diag), nil, nil, out); err != nil {
		t.Fatal(err)
	}
	if got := tableRows(out); !reflect.DeepEqual(got, [][]horn.Term{{2, 2}}) {
		t.Fatalf("unexpected rows: %v", got)
	}

	// Single-position filter.
	out = horn.NewTupleTable(2)
	if err := s.Query(ctx, horn.NewQSQQuery(allVars2()), []uint8{1}, []horn.Term{2}, out); err != nil {
		t.Fatal(err)
	}
	if got := tableRows(out); !reflect.DeepEqual(got, [][]horn.Term{{1, 2}, {2, 2}}) {
		t.Fatalf("unexpected rows: %v", got)
	}

	// Pair patterns, including a rejected odd value stream.
	out = horn.NewTupleTable(2)
	if err := s.Query(ctx, horn.NewQSQQuery(allVars2()), []uint8{0, 1}, []horn.Term{2, 3, 9, 9}, out); err != nil {
		t.Fatal(err)
	}
	if got := tableRows(out); !reflect.DeepEqual(got, [][]horn.Term{{2, 3}}) {
		t.Fatalf("unexpected rows: %v", got)
	}
	if err := s.Query(ctx, horn.NewQSQQuery(allVars2()), []uint8{0, 1}, []horn.Term{2, 3, 9}, horn.NewTupleTable(2)); err == nil {
		t.Fatal("expected error for odd pattern stream")
	}
}

// Ensure cursors walk windows in order and skip duplicated first
// columns only on unbound natural scans.
func TestStore_Iterator(t *testing.T) {
	s := mustOpenStore(t, 2)
	mustAddFacts(t, s,
		[]horn.Term{1, 2},
		[]horn.Term{1, 3},
		[]horn.Term{1, 4},
		[]horn.Term{2, 5},
	)
	ctx := context.Background()

	bound := horn.MustNewLiteral(pred2(), horn.VTuple{horn.NewConstTerm(1), horn.NewVarTerm(1)})
	itr, err := s.Iterator(ctx, bound)
	if err != nil {
		t.Fatal(err)
	}
	var got []horn.Term
	for itr.HasNext() {
		itr.Next()
		got = append(got, itr.ElementAt(1))
	}
	s.ReleaseIterator(itr)
	if !reflect.DeepEqual(got, []horn.Term{2, 3, 4}) {
		t.Fatalf("unexpected values: %v", got)
	}

	itr, err = s.Iterator(ctx, allVars2())
	if err != nil {
		t.Fatal(err)
	}
	itr.SkipDuplicatedFirstColumn()
	got = nil
	for itr.HasNext() {
		itr.Next()
		got = append(got, itr.ElementAt(0))
	}
	s.ReleaseIterator(itr)
	if !reflect.DeepEqual(got, []horn.Term{1, 2}) {
		t.Fatalf("unexpected first columns: %v", got)
	}
}

// Ensure sorted cursors reorder the window when the field order is not
// the natural one.
func TestStore_SortedIterator(t *testing.T) {
	s := mustOpenStore(t, 2)
	mustAddFacts(t, s,
		[]horn.Term{1, 9},
		[]horn.Term{2, 3},
		[]horn.Term{3, 5},
	)
	itr, err := s.SortedIterator(context.Background(), allVars2(), []uint8{1})
	if err != nil {
		t.Fatal(err)
	}
	var got []horn.Term
	for itr.HasNext() {
		itr.Next()
		got = append(got, itr.ElementAt(1))
	}
	s.ReleaseIterator(itr)
	if !reflect.DeepEqual(got, []horn.Term{3, 5, 9}) {
		t.Fatalf("unexpected order: %v", got)
	}
}

// Ensure cardinalities and emptiness reflect the stored rows.
func TestStore_Cardinality(t *testing.T) {
	s := mustOpenStore(t, 2)
	mustAddFacts(t, s,
		[]horn.Term{1, 2},
		[]horn.Term{1, 3},
		[]horn.Term{2, 3},
	)
	ctx := context.Background()

	if n, err := s.Cardinality(ctx, allVars2()); err != nil {
		t.Fatal(err)
	} else if n != 3 {
		t.Fatalf("unexpected cardinality: %d", n)
	}
	if n, err := s.CardinalityColumn(ctx, allVars2(), 1); err != nil {
		t.Fatal(err)
	} else if n != 2 {
		t.Fatalf("unexpected column cardinality: %d", n)
	}
	if n, err := s.EstimateCardinality(ctx, allVars2()); err != nil {
		t.Fatal(err)
	} else if n != 3 {
		t.Fatalf("unexpected estimate: %d", n)
	}

	if empty, err := s.IsEmpty(ctx, allVars2(), nil, nil); err != nil {
		t.Fatal(err)
	} else if empty {
		t.Fatal("store should not be empty")
	}
	// Disjunction of bindings: one matching binding suffices.
	if empty, err := s.IsEmpty(ctx, allVars2(), []uint8{0, 0}, []horn.Term{9, 1}); err != nil {
		t.Fatal(err)
	} else if empty {
		t.Fatal("expected a matching binding")
	}
	if empty, err := s.IsEmpty(ctx, allVars2(), []uint8{0, 1}, []horn.Term{9, 9}); err != nil {
		t.Fatal(err)
	} else if !empty {
		t.Fatal("expected emptiness under every binding")
	}
}

// Ensure membership probes split present from absent values.
func TestStore_CheckIn(t *testing.T) {
	s := mustOpenStore(t, 2)
	mustAddFacts(t, s,
		[]horn.Term{1, 2},
		[]horn.Term{2, 3},
	)
	ctx := context.Background()

	if got, err := s.CheckIn(ctx, []horn.Term{1, 2, 9}, allVars2(), 0); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(got, []horn.Term{1, 2}) {
		t.Fatalf("unexpected present values: %v", got)
	}
	if got, err := s.CheckNewIn(ctx, []horn.Term{1, 2, 9}, allVars2(), 0); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(got, []horn.Term{9}) {
		t.Fatalf("unexpected absent values: %v", got)
	}
}

// Ensure the projection difference returns distinct rows of l1 absent
// from l2.
func TestStore_CheckNewInLiterals(t *testing.T) {
	s := mustOpenStore(t, 2)
	mustAddFacts(t, s,
		[]horn.Term{1, 2},
		[]horn.Term{2, 1},
		[]horn.Term{3, 3},
	)
	ctx := context.Background()

	// Column 0 values minus column 1 values.
	out, err := s.CheckNewInLiterals(ctx, allVars2(), []uint8{0}, allVars2(), []uint8{1})
	if err != nil {
		t.Fatal(err)
	}
	// Column 0 holds {1,2,3}; column 1 holds {1,2,3}; nothing is new.
	if got := out.NRows(); got != 0 {
		t.Fatalf("unexpected new rows: %v", tableRows(out))
	}

	mustAddFacts(t, s, []horn.Term{7, 2})
	out, err = s.CheckNewInLiterals(ctx, allVars2(), []uint8{0}, allVars2(), []uint8{1})
	if err != nil {
		t.Fatal(err)
	}
	if got := tableRows(out); !reflect.DeepEqual(got, [][]horn.Term{{7}}) {
		t.Fatalf("unexpected new rows: %v", got)
	}

	if _, err := s.CheckNewInLiterals(ctx, allVars2(), []uint8{0}, allVars2(), []uint8{0, 1}); err == nil {
		t.Fatal("expected projection width error")
	}
}

// Ensure the dictionary interns terms stably and resolves both ways.
func TestStore_Dictionary(t *testing.T) {
	s := mustOpenStore(t, 2)
	ctx := context.Background()

	a, err := s.GetOrCreateTerm("alice")
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.GetOrCreateTerm("bob")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("distinct constants must get distinct terms")
	}
	if again, err := s.GetOrCreateTerm("alice"); err != nil {
		t.Fatal(err)
	} else if again != a {
		t.Fatalf("interning is not stable: %d vs %d", again, a)
	}

	if v, ok, err := s.DictNumber(ctx, "bob"); err != nil || !ok || v != b {
		t.Fatalf("unexpected lookup: v=%d ok=%v err=%v", v, ok, err)
	}
	if text, ok, err := s.DictText(ctx, a); err != nil || !ok || text != "alice" {
		t.Fatalf("unexpected reverse lookup: %q ok=%v err=%v", text, ok, err)
	}
	if _, ok, err := s.DictNumber(ctx, "carol"); err != nil || ok {
		t.Fatalf("unexpected hit for unknown constant: ok=%v err=%v", ok, err)
	}
	if n, err := s.NTerms(ctx); err != nil {
		t.Fatal(err)
	} else if n != 2 {
		t.Fatalf("unexpected dictionary size: %d", n)
	}
}

// Ensure the backend registers under its configuration name.
func TestBackendRegistration(t *testing.T) {
	for _, name := range horn.Backends() {
		if name == "kb" {
			return
		}
	}
	t.Fatal("kb backend is not registered")
}
