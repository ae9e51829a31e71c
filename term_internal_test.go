// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Ensure variable terms and constant terms are distinguished by the
// variable id alone.
func TestVTerm(t *testing.T) {
	v := NewVarTerm(3)
	require.True(t, v.IsVariable())
	assert.Equal(t, uint8(3), v.VarID())

	c := NewConstTerm(42)
	require.False(t, c.IsVariable())
	assert.Equal(t, Term(42), c.Value())
	assert.Equal(t, uint8(0), c.VarID())

	// The zero value reads as the constant 0.
	var zero VTerm
	require.False(t, zero.IsVariable())
}

// Ensure cloned tuples do not alias the original.
func TestVTuple_Clone(t *testing.T) {
	orig := VTuple{NewVarTerm(1), NewConstTerm(7), NewVarTerm(2)}
	clone := orig.Clone()
	if diff := cmp.Diff(orig, clone, cmp.AllowUnexported(VTerm{})); diff != "" {
		t.Fatalf("unexpected clone (-orig +clone):\n%s", diff)
	}

	clone.Set(1, NewConstTerm(9))
	assert.Equal(t, Term(7), orig[1].Value())
	assert.Equal(t, Term(9), clone[1].Value())
}

// Ensure the pair orderings break ties on the other column.
func TestTermPairOrdering(t *testing.T) {
	tests := []struct {
		name     string
		a, b     TermPair
		byFirst  bool
		bySecond bool
	}{
		{"first wins", TermPair{1, 9}, TermPair{2, 0}, true, false},
		{"first ties on second", TermPair{1, 2}, TermPair{1, 3}, true, true},
		{"second wins", TermPair{9, 1}, TermPair{0, 2}, false, true},
		{"equal", TermPair{4, 4}, TermPair{4, 4}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.byFirst, lessByFirst(tt.a, tt.b))
			assert.Equal(t, tt.bySecond, lessBySecond(tt.a, tt.b))
		})
	}
}
