// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

// Term is an interned value identifier. The mapping between a term and its
// textual form lives in the EDB backends; the engine treats terms as opaque
// except for equality and ordering.
type Term uint64

// MaxTupleSize bounds predicate arity so that tuples and position lists fit
// in fixed-capacity inline storage.
const MaxTupleSize = 8

// TermPair is one row of a binary relation.
type TermPair struct {
	First  Term
	Second Term
}

// lessByFirst orders pairs by (first, second).
func lessByFirst(a, b TermPair) bool {
	return a.First < b.First || (a.First == b.First && a.Second < b.Second)
}

// lessBySecond orders pairs by (second, first).
func lessBySecond(a, b TermPair) bool {
	return a.Second < b.Second || (a.Second == b.Second && a.First < b.First)
}

// VTerm is one position of a literal's tuple: either a constant term or a
// variable. A VTerm is a variable when its variable id is non-zero.
type VTerm struct {
	varID uint8
	value Term
}

// NewVarTerm returns a VTerm holding the variable with the given id. The id
// must be non-zero.
func NewVarTerm(id uint8) VTerm {
	return VTerm{varID: id}
}

// NewConstTerm returns a VTerm holding the constant value v.
func NewConstTerm(v Term) VTerm {
	return VTerm{value: v}
}

// IsVariable reports whether the term is a variable.
func (t VTerm) IsVariable() bool { return t.varID != 0 }

// VarID returns the variable id, or 0 for a constant.
func (t VTerm) VarID() uint8 { return t.varID }

// Value returns the constant value. It is meaningless for variables.
func (t VTerm) Value() Term { return t.value }

// VTuple is the ordered argument list of a literal.
type VTuple []VTerm

// Clone returns an independent copy of the tuple.
func (t VTuple) Clone() VTuple {
	out := make(VTuple, len(t))
	copy(out, t)
	return out
}

// Set replaces the term at pos.
func (t VTuple) Set(pos uint8, term VTerm) {
	t[pos] = term
}
