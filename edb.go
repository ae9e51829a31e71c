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

// edbInfo is the registration record of one backend-served predicate.
type edbInfo struct {
	id    PredID
	arity uint8
	typ   string
	table EDBTable
}

// EDBLayer routes every extensional-predicate operation either to the
// storage backend registered for the predicate or to an in-memory
// relation. Registration happens at construction; afterwards the layer
// is safe for concurrent readers.
type EDBLayer struct {
	mu        sync.RWMutex
	preds     map[PredID]*edbInfo
	predNames map[string]PredID
	nextPred  PredID

	tmpRelations map[PredID]*IndexedTupleTable

	iters *memIterFactory
	log   logger.Logger
	stats StatsClient
}

// LayerOption configures an EDBLayer.
type LayerOption func(*EDBLayer)

// OptLayerLogger sets the layer's logger.
func OptLayerLogger(l logger.Logger) LayerOption {
	return func(e *EDBLayer) { e.log = l }
}

// OptLayerStats sets the layer's stats client.
func OptLayerStats(s StatsClient) LayerOption {
	return func(e *EDBLayer) { e.stats = s }
}

// NewEDBLayer opens every table named in conf through its registered
// backend and returns the assembled layer.
func NewEDBLayer(conf *EDBConf, opts ...LayerOption) (*EDBLayer, error) {
	e := &EDBLayer{
		preds:        make(map[PredID]*edbInfo),
		predNames:    make(map[string]PredID),
		tmpRelations: make(map[PredID]*IndexedTupleTable),
		iters:        newMemIterFactory(),
		log:          logger.NopLogger,
		stats:        NopStatsClient,
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, tc := range conf.Tables {
		table, err := openBackend(tc, BackendOptions{Logger: e.log, Stats: e.stats})
		if err != nil {
			e.closeAll()
			return nil, err
		}
		id := e.nextPred
		e.nextPred++
		e.preds[id] = &edbInfo{id: id, arity: table.Arity(), typ: tc.Type, table: table}
		e.predNames[tc.PredName] = id
		e.log.Debugf("opened EDB table: pred=%s id=%d type=%s arity=%d", tc.PredName, id, tc.Type, table.Arity())
	}
	return e, nil
}

func (e *EDBLayer) closeAll() {
	for _, info := range e.preds {
		info.table.Close()
	}
}

// Close releases every backend.
func (e *EDBLayer) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var first error
	for _, info := range e.preds {
		if err := info.table.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PredicateID resolves a predicate name registered from the
// configuration.
func (e *EDBLayer) PredicateID(name string) (PredID, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.predNames[name]
	return id, ok
}

// DBPredicate returns the Predicate record of a backend-served
// predicate id.
func (e *EDBLayer) DBPredicate(id PredID) (Predicate, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	info, ok := e.preds[id]
	if !ok {
		return Predicate{}, errors.Wrapf(ErrNoSuchPredicate, "id %d", id)
	}
	return NewPredicate(id, TypeEDB, info.arity), nil
}

// IsDBPredicate reports whether the id is served by a storage backend.
func (e *EDBLayer) IsDBPredicate(id PredID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.preds[id]
	return ok
}

// AddTmpRelation registers a sealed in-memory relation under the
// predicate's id. The relation shadows nothing; backend predicates and
// in-memory predicates occupy disjoint ids.
func (e *EDBLayer) AddTmpRelation(pred Predicate, rel *IndexedTupleTable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tmpRelations[pred.ID()] = rel
}

// CheckValueInTmpRelation reports whether the value appears in the
// given column of a registered relation. An unregistered id reports
// true so prematerialization filters never drop rows they cannot see.
func (e *EDBLayer) CheckValueInTmpRelation(id PredID, pos uint8, v Term) bool {
	e.mu.RLock()
	rel := e.tmpRelations[id]
	e.mu.RUnlock()
	if rel == nil {
		return true
	}
	return rel.Exists(pos, v)
}

func (e *EDBLayer) lookup(id PredID) (*edbInfo, *IndexedTupleTable, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if info, ok := e.preds[id]; ok {
		return info, nil, nil
	}
	if rel, ok := e.tmpRelations[id]; ok {
		return nil, rel, nil
	}
	return nil, nil, errors.Wrapf(ErrNoSuchPredicate, "id %d", id)
}

// Query appends every row matching the descriptor's literal, its
// repeated-variable constraints, and the optional position filters.
func (e *EDBLayer) Query(ctx context.Context, q *QSQQuery, posToFilter []uint8, valuesToFilter []Term, out *TupleTable) error {
	id := q.Literal().Predicate().ID()
	info, rel, err := e.lookup(id)
	if err != nil {
		return err
	}
	e.stats.Count(MetricQueries, 1, 1)
	if info != nil {
		return info.table.Query(ctx, q, posToFilter, valuesToFilter, out)
	}
	switch rel.Arity() {
	case 1:
		return e.query1(rel, posToFilter, valuesToFilter, out)
	case 2:
		return e.query2(rel, q, posToFilter, valuesToFilter, out)
	default:
		return errors.Wrapf(ErrNotSupported, "in-memory query of arity %d", rel.Arity())
	}
}

func (e *EDBLayer) query1(rel *IndexedTupleTable, posToFilter []uint8, valuesToFilter []Term, out *TupleTable) error {
	var row [1]Term
	if len(posToFilter) > 0 {
		if len(posToFilter) != 1 || posToFilter[0] != 0 {
			return errors.Wrap(ErrNotSupported, "unary filter must bind position 0")
		}
		for _, v := range valuesToFilter {
			if rel.Exists(0, v) {
				row[0] = v
				out.AddRow(row[:])
			}
		}
		return nil
	}
	for _, v := range rel.SingleColumn() {
		row[0] = v
		out.AddRow(row[:])
	}
	return nil
}

// normalizeFilter drops consecutive duplicates and sorts the remainder
// if it is not already ascending.
func normalizeFilter(values []Term) []Term {
	out := make([]Term, 0, len(values))
	sorted := true
	for i, v := range values {
		if i == 0 {
			out = append(out, v)
			continue
		}
		prev := values[i-1]
		if v < prev {
			sorted = false
			out = append(out, v)
		} else if v > prev {
			out = append(out, v)
		}
	}
	if !sorted {
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	}
	return out
}

// normalizePairFilter reads the flat value stream two at a time,
// dropping consecutive duplicate pairs and sorting if needed.
func normalizePairFilter(values []Term) ([]TermPair, error) {
	if len(values)%2 != 0 {
		return nil, errors.Wrapf(ErrOddPairFilter, "%d values", len(values))
	}
	out := make([]TermPair, 0, len(values)/2)
	sorted := true
	for i := 0; i < len(values); i += 2 {
		p := TermPair{First: values[i], Second: values[i+1]}
		if len(out) > 0 {
			prev := out[len(out)-1]
			if p == prev {
				continue
			}
			if lessByFirst(p, prev) {
				sorted = false
			}
		}
		out = append(out, p)
	}
	if !sorted {
		sort.Slice(out, func(i, j int) bool { return lessByFirst(out[i], out[j]) })
	}
	return out, nil
}

func (e *EDBLayer) query2(rel *IndexedTupleTable, q *QSQQuery, posToFilter []uint8, valuesToFilter []Term, out *TupleTable) error {
	var row [2]Term
	emit := func(p TermPair) {
		row[0], row[1] = p.First, p.Second
		if q.matchesRepeatedVars(row[:]) {
			out.AddRow(row[:])
		}
	}

	switch len(posToFilter) {
	case 0:
		for _, p := range rel.ByFirst() {
			emit(p)
		}
		return nil

	case 1:
		filter := normalizeFilter(valuesToFilter)
		inverted := posToFilter[0] != 0
		if !inverted {
			pairs := rel.ByFirst()
			i, j := 0, 0
			for i < len(pairs) && j < len(filter) {
				for i < len(pairs) && pairs[i].First < filter[j] {
					i++
				}
				if i == len(pairs) {
					break
				}
				for j < len(filter) && pairs[i].First > filter[j] {
					j++
				}
				if j == len(filter) {
					break
				}
				if pairs[i].First == filter[j] {
					emit(pairs[i])
				}
				i++
			}
			return nil
		}
		pairs := rel.BySecond()
		i, j := 0, 0
		for i < len(pairs) && j < len(filter) {
			for i < len(pairs) && pairs[i].Second < filter[j] {
				i++
			}
			if i == len(pairs) {
				break
			}
			for j < len(filter) && pairs[i].Second > filter[j] {
				j++
			}
			if j == len(filter) {
				break
			}
			if pairs[i].Second == filter[j] {
				emit(pairs[i])
			}
			i++
		}
		return nil

	default:
		// Both positions bound: the value stream carries pairs in the
		// order named by posToFilter.
		inverted := posToFilter[0] != 0
		filter, err := normalizePairFilter(valuesToFilter)
		if err != nil {
			return err
		}
		for _, f := range filter {
			p := f
			if inverted {
				p = TermPair{First: f.Second, Second: f.First}
			}
			if rel.ExistsPair(p) {
				emit(p)
			}
		}
		return nil
	}
}

// Iterator returns a cursor over the rows matching the literal in the
// predicate's natural order.
func (e *EDBLayer) Iterator(ctx context.Context, l Literal) (EDBIterator, error) {
	id := l.Predicate().ID()
	info, rel, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	e.stats.Count(MetricIterators, 1, 1)
	if info != nil {
		return info.table.Iterator(ctx, l)
	}

	equalFields := l.HasRepeatedVars()
	c1, vc1, c2, vc2 := literalBindings(l)
	switch rel.Arity() {
	case 1:
		itr := e.iters.get()
		itr.init1(id, rel.SingleColumn(), c1, vc1)
		return itr, nil
	case 2:
		itr := e.iters.get()
		if !c1 && c2 {
			itr.init2(id, false, rel.BySecond(), c1, vc1, c2, vc2, equalFields)
		} else {
			itr.init2(id, true, rel.ByFirst(), c1, vc1, c2, vc2, equalFields)
		}
		return itr, nil
	default:
		return nil, errors.Wrapf(ErrNotSupported, "in-memory iterator of arity %d", rel.Arity())
	}
}

// SortedIterator returns a cursor ordered by the given fields. For an
// unbound binary scan fields[0] selects which index drives the
// iteration.
func (e *EDBLayer) SortedIterator(ctx context.Context, l Literal, fields []uint8) (EDBIterator, error) {
	id := l.Predicate().ID()
	info, rel, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	e.stats.Count(MetricIterators, 1, 1)
	if info != nil {
		return info.table.SortedIterator(ctx, l, fields)
	}

	equalFields := l.HasRepeatedVars()
	c1, vc1, c2, vc2 := literalBindings(l)
	switch rel.Arity() {
	case 1:
		itr := e.iters.get()
		itr.init1(id, rel.SingleColumn(), c1, vc1)
		return itr, nil
	case 2:
		itr := e.iters.get()
		switch {
		case c1:
			itr.init2(id, true, rel.ByFirst(), c1, vc1, c2, vc2, equalFields)
		case c2:
			itr.init2(id, false, rel.BySecond(), c1, vc1, c2, vc2, equalFields)
		default:
			if len(fields) != 0 && fields[0] == 0 {
				itr.init2(id, true, rel.ByFirst(), c1, vc1, c2, vc2, equalFields)
			} else {
				itr.init2(id, false, rel.BySecond(), c1, vc1, c2, vc2, equalFields)
			}
		}
		return itr, nil
	default:
		return nil, errors.Wrapf(ErrNotSupported, "in-memory iterator of arity %d", rel.Arity())
	}
}

// ReleaseIterator hands a cursor back to its owner.
func (e *EDBLayer) ReleaseIterator(itr EDBIterator) {
	if m, ok := itr.(*memIterator); ok {
		e.iters.release(m)
		return
	}
	e.mu.RLock()
	info := e.preds[itr.PredID()]
	e.mu.RUnlock()
	if info != nil {
		info.table.ReleaseIterator(itr)
	}
}

func literalBindings(l Literal) (c1 bool, vc1 Term, c2 bool, vc2 Term) {
	t0 := l.TermAt(0)
	if !t0.IsVariable() {
		c1, vc1 = true, t0.Value()
	}
	if l.TupleSize() == 2 {
		t1 := l.TermAt(1)
		if !t1.IsVariable() {
			c2, vc2 = true, t1.Value()
		}
	}
	return c1, vc1, c2, vc2
}

// Cardinality returns the number of rows matching the literal.
func (e *EDBLayer) Cardinality(ctx context.Context, l Literal) (int, error) {
	id := l.Predicate().ID()
	info, rel, err := e.lookup(id)
	if err != nil {
		return 0, err
	}
	if info != nil {
		return info.table.Cardinality(ctx, l)
	}
	if l.NVars() == int(l.TupleSize()) && !l.HasRepeatedVars() {
		return rel.NTuples(), nil
	}

	itr, err := e.Iterator(ctx, l)
	if err != nil {
		return 0, err
	}
	defer e.ReleaseIterator(itr)
	count := 0
	for itr.HasNext() {
		count++
		itr.Next()
	}
	return count, nil
}

// CardinalityColumn returns the number of distinct values in one
// column of the predicate.
func (e *EDBLayer) CardinalityColumn(ctx context.Context, l Literal, pos uint8) (int, error) {
	id := l.Predicate().ID()
	info, rel, err := e.lookup(id)
	if err != nil {
		return 0, err
	}
	if info != nil {
		return info.table.CardinalityColumn(ctx, l, pos)
	}
	return rel.Size(pos), nil
}

// EstimateCardinality returns a cheap upper bound on Cardinality.
func (e *EDBLayer) EstimateCardinality(ctx context.Context, l Literal) (int, error) {
	id := l.Predicate().ID()
	info, rel, err := e.lookup(id)
	if err != nil {
		return 0, err
	}
	if info != nil {
		return info.table.EstimateCardinality(ctx, l)
	}
	return rel.NTuples(), nil
}

// IsEmpty reports whether no row matches the literal. The filters form
// a disjunction of single-position bindings: the literal is empty only
// if it is empty under every binding.
func (e *EDBLayer) IsEmpty(ctx context.Context, l Literal, posToFilter []uint8, valuesToFilter []Term) (bool, error) {
	id := l.Predicate().ID()
	info, rel, err := e.lookup(id)
	if err != nil {
		return false, err
	}
	if info != nil {
		return info.table.IsEmpty(ctx, l, posToFilter, valuesToFilter)
	}

	if len(posToFilter) == 0 {
		return e.isEmptyLiteral(rel, l)
	}
	if len(posToFilter) != len(valuesToFilter) {
		return false, errors.Errorf("filter positions and values disagree: %d vs %d", len(posToFilter), len(valuesToFilter))
	}
	for i, pos := range posToFilter {
		t := l.Tuple()
		t.Set(pos, NewConstTerm(valuesToFilter[i]))
		bound, err := NewLiteral(l.Predicate(), t)
		if err != nil {
			return false, err
		}
		empty, err := e.isEmptyLiteral(rel, bound)
		if err != nil {
			return false, err
		}
		if !empty {
			return false, nil
		}
	}
	return true, nil
}

func (e *EDBLayer) isEmptyLiteral(rel *IndexedTupleTable, l Literal) (bool, error) {
	diff := l.NUniqueVars() - int(l.TupleSize())
	switch {
	case diff == 0:
		return rel.NTuples() == 0, nil

	case diff == -1:
		// One constant, or one duplicated variable.
		for i := uint8(0); i < l.TupleSize(); i++ {
			if t := l.TermAt(i); !t.IsVariable() {
				return !rel.Exists(i, t.Value()), nil
			}
		}
		for _, p := range rel.ByFirst() {
			if p.First == p.Second {
				return false, nil
			}
		}
		return true, nil

	case l.NUniqueVars() == 0 && l.TupleSize() == 2:
		return !rel.ExistsPair(TermPair{First: l.TermAt(0).Value(), Second: l.TermAt(1).Value()}), nil

	default:
		return false, errors.Wrapf(ErrNotSupported, "emptiness of literal %s on an in-memory relation", l)
	}
}

// CheckIn returns the subset of values present in column pos of the
// literal's predicate. Only backend predicates support membership
// probes.
func (e *EDBLayer) CheckIn(ctx context.Context, values []Term, l Literal, pos uint8) ([]Term, error) {
	info, _, err := e.lookup(l.Predicate().ID())
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errors.Wrap(ErrNotSupported, "membership probe on in-memory relation")
	}
	return info.table.CheckIn(ctx, values, l, pos)
}

// SupportsCheckIn reports whether the literal's predicate accepts
// membership probes.
func (e *EDBLayer) SupportsCheckIn(l Literal) bool {
	return e.IsDBPredicate(l.Predicate().ID())
}

// CheckNewIn returns the subset of values absent from column pos of
// the literal's predicate.
func (e *EDBLayer) CheckNewIn(ctx context.Context, values []Term, l Literal, pos uint8) ([]Term, error) {
	info, _, err := e.lookup(l.Predicate().ID())
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errors.Wrap(ErrNotSupported, "membership probe on in-memory relation")
	}
	return info.table.CheckNewIn(ctx, values, l, pos)
}

// CheckNewInLiterals returns the projection of l1 minus the projection
// of l2. Both literals must name the same backend predicate.
func (e *EDBLayer) CheckNewInLiterals(ctx context.Context, l1 Literal, pos1 []uint8, l2 Literal, pos2 []uint8) (*TupleTable, error) {
	if l1.Predicate().ID() != l2.Predicate().ID() {
		return nil, errors.Wrap(ErrNotSupported, "difference across distinct predicates")
	}
	info, _, err := e.lookup(l1.Predicate().ID())
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errors.Wrap(ErrNotSupported, "difference on in-memory relation")
	}
	return info.table.CheckNewInLiterals(ctx, l1, pos1, l2, pos2)
}

func (e *EDBLayer) firstTable() EDBTable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var best *edbInfo
	for _, info := range e.preds {
		if best == nil || info.id < best.id {
			best = info
		}
	}
	if best == nil {
		return nil
	}
	return best.table
}

// DictNumber resolves a textual constant through the first backend's
// dictionary.
func (e *EDBLayer) DictNumber(ctx context.Context, text string) (Term, bool, error) {
	t := e.firstTable()
	if t == nil {
		return 0, false, nil
	}
	return t.DictNumber(ctx, text)
}

// DictText resolves a term back to text through the first backend's
// dictionary.
func (e *EDBLayer) DictText(ctx context.Context, v Term) (string, bool, error) {
	t := e.firstTable()
	if t == nil {
		return "", false, nil
	}
	return t.DictText(ctx, v)
}

// NTerms returns the size of the first backend's dictionary.
func (e *EDBLayer) NTerms(ctx context.Context) (uint64, error) {
	t := e.firstTable()
	if t == nil {
		return 0, nil
	}
	return t.NTerms(ctx)
}
