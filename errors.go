// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import "github.com/pkg/errors"

var (
	// ErrNotSupported marks operations outside a component's contract,
	// such as querying an in-memory predicate of arity greater than two
	// or bulk membership checks on in-memory relations.
	ErrNotSupported = errors.New("operation not supported")

	// ErrWidthMismatch is returned when supplied columns or rows disagree
	// with a sink's configured row size.
	ErrWidthMismatch = errors.New("schema width mismatch")

	// ErrOddPairFilter is returned when a two-position filter stream has
	// an odd number of values.
	ErrOddPairFilter = errors.New("pair filter requires an even number of values")

	// ErrUnknownBackend is returned for a table descriptor whose type has
	// no registered opener.
	ErrUnknownBackend = errors.New("unknown EDB backend type")

	// ErrNoSuchPredicate is returned when a predicate id resolves to
	// neither a backend table nor an in-memory relation.
	ErrNoSuchPredicate = errors.New("no such predicate")
)
