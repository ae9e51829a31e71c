// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import "fmt"

// QSQQuery is the query descriptor derived from a literal: the variable
// positions to project into result rows, and the pairs of positions that
// must hold the same value because they name the same variable. A
// descriptor is immutable once built.
type QSQQuery struct {
	literal Literal

	nPosToCopy   uint8
	posToCopy    [MaxTupleSize]uint8
	nRepeated    uint8
	repeatedVars [MaxTupleSize][2]uint8
}

// NewQSQQuery computes the descriptor for a literal in a single pass over
// its positions.
func NewQSQQuery(literal Literal) *QSQQuery {
	q := &QSQQuery{literal: literal}

	// (varID, firstPos) for each variable seen so far.
	var nExisting uint8
	var existing [MaxTupleSize][2]uint8

	for i := uint8(0); i < literal.TupleSize(); i++ {
		t := literal.TermAt(i)
		if !t.IsVariable() {
			continue
		}
		q.posToCopy[q.nPosToCopy] = i
		q.nPosToCopy++

		first := -1
		for j := uint8(0); j < nExisting; j++ {
			if existing[j][0] == t.VarID() {
				first = int(existing[j][1])
				break
			}
		}
		if first < 0 {
			existing[nExisting] = [2]uint8{t.VarID(), i}
			nExisting++
		} else {
			q.repeatedVars[q.nRepeated] = [2]uint8{uint8(first), i}
			q.nRepeated++
		}
	}
	return q
}

// Literal returns the literal the descriptor was built from.
func (q *QSQQuery) Literal() Literal { return q.literal }

// NPosToCopy returns the number of projected positions.
func (q *QSQQuery) NPosToCopy() uint8 { return q.nPosToCopy }

// PosToCopy returns the projected positions in tuple order.
func (q *QSQQuery) PosToCopy() []uint8 { return q.posToCopy[:q.nPosToCopy] }

// NRepeatedVars returns the number of repeated-variable constraints.
func (q *QSQQuery) NRepeatedVars() uint8 { return q.nRepeated }

// RepeatedVar returns the i-th constraint as a (first, second) position
// pair with first < second.
func (q *QSQQuery) RepeatedVar(i uint8) (uint8, uint8) {
	return q.repeatedVars[i][0], q.repeatedVars[i][1]
}

// matchesRepeatedVars reports whether the row satisfies every
// repeated-variable equality of the descriptor.
func (q *QSQQuery) matchesRepeatedVars(row []Term) bool {
	for i := uint8(0); i < q.nRepeated; i++ {
		if row[q.repeatedVars[i][0]] != row[q.repeatedVars[i][1]] {
			return false
		}
	}
	return true
}

func (q *QSQQuery) String() string {
	return fmt.Sprintf("[%s nPosToCopy=%d]", q.literal, q.nPosToCopy)
}
