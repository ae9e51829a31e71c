// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/featurebasedb/horn/logger"
)

// EDBTable is the contract a storage backend implements to expose one
// extensional predicate to the engine. Implementations are safe for
// concurrent readers after Open; iterators obtained from a table must be
// handed back through ReleaseIterator.
type EDBTable interface {
	// Query appends to out every row matching the literal's constants,
	// its repeated-variable constraints, and the extra position filters.
	Query(ctx context.Context, q *QSQQuery, posToFilter []uint8, valuesToFilter []Term, out *TupleTable) error

	// Iterator returns a cursor over the rows matching the literal in
	// the backend's natural order.
	Iterator(ctx context.Context, l Literal) (EDBIterator, error)

	// SortedIterator returns a cursor ordered by the given fields.
	SortedIterator(ctx context.Context, l Literal, fields []uint8) (EDBIterator, error)

	// ReleaseIterator returns a cursor to the table for reuse.
	ReleaseIterator(itr EDBIterator)

	// Cardinality returns the number of rows matching the literal.
	Cardinality(ctx context.Context, l Literal) (int, error)

	// CardinalityColumn returns the number of distinct values in one
	// column of the rows matching the literal.
	CardinalityColumn(ctx context.Context, l Literal, pos uint8) (int, error)

	// EstimateCardinality returns a cheap upper bound on Cardinality.
	EstimateCardinality(ctx context.Context, l Literal) (int, error)

	// IsEmpty reports whether no row matches the literal once the
	// position filters are applied.
	IsEmpty(ctx context.Context, l Literal, posToFilter []uint8, valuesToFilter []Term) (bool, error)

	// CheckIn returns the subset of values present in column pos of the
	// rows matching the literal. values must be sorted ascending.
	CheckIn(ctx context.Context, values []Term, l Literal, pos uint8) ([]Term, error)

	// CheckNewIn returns the subset of values absent from column pos of
	// the rows matching the literal. values must be sorted ascending.
	CheckNewIn(ctx context.Context, values []Term, l Literal, pos uint8) ([]Term, error)

	// CheckNewInLiterals returns the projection of l1 on pos1 minus the
	// projection of l2 on pos2, as distinct rows.
	CheckNewInLiterals(ctx context.Context, l1 Literal, pos1 []uint8, l2 Literal, pos2 []uint8) (*TupleTable, error)

	// Arity returns the width of the backing relation.
	Arity() uint8

	// DictNumber resolves a textual constant to its term, if present.
	DictNumber(ctx context.Context, text string) (Term, bool, error)

	// DictText resolves a term back to its textual constant, if present.
	DictText(ctx context.Context, t Term) (string, bool, error)

	// NTerms returns the number of entries in the backend's dictionary.
	NTerms(ctx context.Context) (uint64, error)

	// Close releases backend resources.
	Close() error
}

// BackendOptions carries the ambient dependencies handed to a backend
// opener.
type BackendOptions struct {
	Logger logger.Logger
	Stats  StatsClient
}

// BackendOpener builds a table from its configuration descriptor.
type BackendOpener func(conf TableConf, opts BackendOptions) (EDBTable, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]BackendOpener)
)

// RegisterBackend makes a table backend available under the given type
// name, as used in the "type" field of an EDB configuration. It panics
// if called twice with the same name.
func RegisterBackend(name string, opener BackendOpener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if opener == nil {
		panic("horn: RegisterBackend opener is nil")
	}
	if _, dup := backends[name]; dup {
		panic("horn: RegisterBackend called twice for backend " + name)
	}
	backends[name] = opener
}

// Backends returns a sorted list of the registered backend type names.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	list := make([]string, 0, len(backends))
	for name := range backends {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

func openBackend(conf TableConf, opts BackendOptions) (EDBTable, error) {
	backendsMu.RLock()
	opener, ok := backends[conf.Type]
	backendsMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownBackend, "type %q for predicate %q (registered: %v)", conf.Type, conf.PredName, Backends())
	}
	t, err := opener(conf, opts)
	return t, errors.Wrapf(err, "opening %q table for predicate %q", conf.Type, conf.PredName)
}
