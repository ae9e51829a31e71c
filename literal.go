// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// PredID identifies a predicate.
type PredID uint32

// PredType distinguishes base predicates from derived ones.
type PredType uint8

const (
	// TypeEDB marks extensional predicates whose facts come from a backend.
	TypeEDB PredType = iota
	// TypeIDB marks intensional predicates materialized by rules.
	TypeIDB
)

// Predicate is a predicate id together with its type and arity.
type Predicate struct {
	id    PredID
	typ   PredType
	arity uint8
}

// NewPredicate returns a predicate descriptor.
func NewPredicate(id PredID, typ PredType, arity uint8) Predicate {
	return Predicate{id: id, typ: typ, arity: arity}
}

// ID returns the predicate id.
func (p Predicate) ID() PredID { return p.id }

// Type returns the predicate type.
func (p Predicate) Type() PredType { return p.typ }

// Arity returns the number of argument positions.
func (p Predicate) Arity() uint8 { return p.arity }

// Literal is a predicate applied to a tuple of terms. The tuple length
// always equals the predicate arity.
type Literal struct {
	pred  Predicate
	tuple VTuple
}

// NewLiteral builds a literal, validating the tuple against the predicate.
func NewLiteral(pred Predicate, tuple VTuple) (Literal, error) {
	if len(tuple) != int(pred.Arity()) {
		return Literal{}, errors.Errorf("literal tuple size %d does not match predicate arity %d", len(tuple), pred.Arity())
	}
	if len(tuple) > MaxTupleSize {
		return Literal{}, errors.Errorf("literal tuple size %d exceeds maximum %d", len(tuple), MaxTupleSize)
	}
	return Literal{pred: pred, tuple: tuple.Clone()}, nil
}

// MustNewLiteral is like NewLiteral but panics on invalid input. Intended
// for tests and static construction.
func MustNewLiteral(pred Predicate, tuple VTuple) Literal {
	l, err := NewLiteral(pred, tuple)
	if err != nil {
		panic(err)
	}
	return l
}

// Predicate returns the literal's predicate.
func (l Literal) Predicate() Predicate { return l.pred }

// TupleSize returns the number of argument positions.
func (l Literal) TupleSize() uint8 { return uint8(len(l.tuple)) }

// TermAt returns the term at position pos.
func (l Literal) TermAt(pos uint8) VTerm { return l.tuple[pos] }

// Tuple returns a copy of the argument tuple.
func (l Literal) Tuple() VTuple { return l.tuple.Clone() }

// NVars counts the variable positions, including repeats.
func (l Literal) NVars() int {
	n := 0
	for _, t := range l.tuple {
		if t.IsVariable() {
			n++
		}
	}
	return n
}

// NUniqueVars counts the distinct variables in the tuple.
func (l Literal) NUniqueVars() int {
	var seen [MaxTupleSize]uint8
	n := 0
	for _, t := range l.tuple {
		if !t.IsVariable() {
			continue
		}
		dup := false
		for i := 0; i < n; i++ {
			if seen[i] == t.VarID() {
				dup = true
				break
			}
		}
		if !dup {
			seen[n] = t.VarID()
			n++
		}
	}
	return n
}

// HasRepeatedVars reports whether any variable occurs at two or more
// positions.
func (l Literal) HasRepeatedVars() bool {
	return l.NVars() != l.NUniqueVars()
}

// String renders the literal for logs and errors.
func (l Literal) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "p%d(", l.pred.ID())
	for i, t := range l.tuple {
		if i > 0 {
			sb.WriteByte(',')
		}
		if t.IsVariable() {
			fmt.Fprintf(&sb, "?%d", t.VarID())
		} else {
			fmt.Fprintf(&sb, "%d", t.Value())
		}
	}
	sb.WriteByte(')')
	return sb.String()
}
