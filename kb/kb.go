// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package kb implements a file-backed fact store. Rows are fixed-width
// big-endian keys in a bolt bucket, so a cursor scan yields rows in
// ascending lexicographic order, which is the engine's default sort.
package kb

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	horn "github.com/featurebasedb/horn"
	"github.com/featurebasedb/horn/logger"
)

var (
	bucketFacts = []byte("facts")
	bucketDict  = []byte("dict")
	bucketRDict = []byte("rdict")
	bucketMeta  = []byte("meta")
	keyArity    = []byte("arity")
)

// rowCacheSize bounds the number of literal scans kept in memory.
const rowCacheSize = 128

func init() {
	horn.RegisterBackend("kb", func(conf horn.TableConf, opts horn.BackendOptions) (horn.EDBTable, error) {
		if len(conf.Params) == 0 {
			return nil, errors.New("kb: missing path parameter")
		}
		arity := uint8(2)
		if len(conf.Params) > 1 {
			n, err := strconv.ParseUint(conf.Params[1], 10, 8)
			if err != nil {
				return nil, errors.Wrapf(err, "kb: bad arity %q", conf.Params[1])
			}
			arity = uint8(n)
		}
		return Open(conf.Params[0], arity, OptLogger(opts.Logger))
	})
}

// Store is an on-disk fact store for a single predicate, plus the
// term dictionary shared by the configuration that opened it first.
type Store struct {
	mu    sync.RWMutex
	db    *bolt.DB
	path  string
	arity uint8

	cache *lru.Cache[string, [][]horn.Term]
	iters sync.Pool

	log logger.Logger
}

// Ensure type implements interface.
var _ horn.EDBTable = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// OptLogger sets the store logger.
func OptLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Open opens or creates the store at path for rows of the given width.
func Open(path string, arity uint8, opts ...Option) (*Store, error) {
	if arity == 0 || arity > horn.MaxTupleSize {
		return nil, errors.Errorf("kb: unsupported arity %d", arity)
	}
	s := &Store{
		path:  path,
		arity: arity,
		log:   logger.NopLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.iters.New = func() interface{} { return &iterator{} }

	cache, err := lru.New[string, [][]horn.Term](rowCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "kb: creating row cache")
	}
	s.cache = cache

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	s.db, err = bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open file: %s", path)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketFacts, bucketDict, bucketRDict, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "creating bucket %s", name)
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keyArity); v != nil {
			if stored := uint8(v[0]); stored != arity {
				return errors.Errorf("kb: store %s has arity %d, requested %d", path, stored, arity)
			}
			return nil
		}
		return meta.Put(keyArity, []byte{arity})
	})
	if err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Arity returns the row width.
func (s *Store) Arity() uint8 { return s.arity }

func (s *Store) encodeRow(row []horn.Term) []byte {
	key := make([]byte, 8*int(s.arity))
	for i, v := range row {
		binary.BigEndian.PutUint64(key[i*8:], uint64(v))
	}
	return key
}

func (s *Store) decodeRow(key []byte) []horn.Term {
	row := make([]horn.Term, s.arity)
	for i := range row {
		row[i] = horn.Term(binary.BigEndian.Uint64(key[i*8:]))
	}
	return row
}

// AddFact inserts one row. Loading invalidates cached scans.
func (s *Store) AddFact(row []horn.Term) error {
	return s.AddFacts([][]horn.Term{row})
}

// AddFacts bulk-inserts rows.
func (s *Store) AddFacts(rows [][]horn.Term) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFacts)
		for _, row := range rows {
			if len(row) != int(s.arity) {
				return errors.Wrapf(horn.ErrWidthMismatch, "row has %d terms, store arity is %d", len(row), s.arity)
			}
			if err := b.Put(s.encodeRow(row), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "kb: adding facts")
	}
	s.cache.Purge()
	return nil
}

// GetOrCreateTerm returns the dictionary id of text, minting one on
// first use.
func (s *Store) GetOrCreateTerm(text string) (horn.Term, error) {
	var out horn.Term
	err := s.db.Update(func(tx *bolt.Tx) error {
		dict := tx.Bucket(bucketDict)
		if v := dict.Get([]byte(text)); v != nil {
			out = horn.Term(binary.BigEndian.Uint64(v))
			return nil
		}
		seq, err := dict.NextSequence()
		if err != nil {
			return err
		}
		out = horn.Term(seq)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(out))
		if err := dict.Put([]byte(text), buf[:]); err != nil {
			return err
		}
		return tx.Bucket(bucketRDict).Put(buf[:], []byte(text))
	})
	return out, errors.Wrapf(err, "kb: interning %q", text)
}

// DictNumber resolves a textual constant to its term.
func (s *Store) DictNumber(ctx context.Context, text string) (horn.Term, bool, error) {
	var out horn.Term
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketDict).Get([]byte(text)); v != nil {
			out = horn.Term(binary.BigEndian.Uint64(v))
			ok = true
		}
		return nil
	})
	return out, ok, err
}

// DictText resolves a term back to its textual constant.
func (s *Store) DictText(ctx context.Context, t horn.Term) (string, bool, error) {
	var out string
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(t))
		if v := tx.Bucket(bucketRDict).Get(buf[:]); v != nil {
			out = string(v)
			ok = true
		}
		return nil
	})
	return out, ok, err
}

// NTerms returns the number of dictionary entries.
func (s *Store) NTerms(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = uint64(tx.Bucket(bucketDict).Stats().KeyN)
		return nil
	})
	return n, err
}

// literalPrefix returns the longest run of leading constants as a key
// prefix.
func (s *Store) literalPrefix(l horn.Literal) []byte {
	var prefix []byte
	for i := uint8(0); i < l.TupleSize(); i++ {
		t := l.TermAt(i)
		if t.IsVariable() {
			break
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(t.Value()))
		prefix = append(prefix, buf[:]...)
	}
	return prefix
}

func matchesLiteral(row []horn.Term, l horn.Literal) bool {
	// (varID, firstPos) for each variable seen so far.
	var nSeen int
	var seen [horn.MaxTupleSize][2]uint8
	for i := uint8(0); i < l.TupleSize(); i++ {
		t := l.TermAt(i)
		if !t.IsVariable() {
			if row[i] != t.Value() {
				return false
			}
			continue
		}
		found := false
		for j := 0; j < nSeen; j++ {
			if seen[j][0] == t.VarID() {
				if row[seen[j][1]] != row[i] {
					return false
				}
				found = true
				break
			}
		}
		if !found {
			seen[nSeen] = [2]uint8{t.VarID(), i}
			nSeen++
		}
	}
	return true
}

// loadRows returns the rows matching the literal in ascending row
// order. Scans are cached per literal.
func (s *Store) loadRows(l horn.Literal) ([][]horn.Term, error) {
	key := l.String()
	if rows, ok := s.cache.Get(key); ok {
		return rows, nil
	}

	prefix := s.literalPrefix(l)
	var rows [][]horn.Term
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFacts).Cursor()
		var k []byte
		if len(prefix) > 0 {
			k, _ = c.Seek(prefix)
		} else {
			k, _ = c.First()
		}
		for ; k != nil; k, _ = c.Next() {
			if len(prefix) > 0 && !bytes.HasPrefix(k, prefix) {
				break
			}
			row := s.decodeRow(k)
			if matchesLiteral(row, l) {
				rows = append(rows, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "kb: scanning facts")
	}
	s.cache.Add(key, rows)
	return rows, nil
}

// Query appends every row matching the literal and the position
// filters. The filter values are patterns of len(posToFilter) terms
// each; a row matches if it matches any pattern.
func (s *Store) Query(ctx context.Context, q *horn.QSQQuery, posToFilter []uint8, valuesToFilter []horn.Term, out *horn.TupleTable) error {
	l := q.Literal()
	rows, err := s.loadRows(l)
	if err != nil {
		return err
	}
	if len(posToFilter) == 0 {
		for _, row := range rows {
			out.AddRow(row)
		}
		return nil
	}
	np := len(posToFilter)
	if len(valuesToFilter)%np != 0 {
		if np == 2 {
			return errors.Wrapf(horn.ErrOddPairFilter, "%d values", len(valuesToFilter))
		}
		return errors.Errorf("kb: %d filter values for %d positions", len(valuesToFilter), np)
	}
	for _, row := range rows {
	patterns:
		for off := 0; off < len(valuesToFilter); off += np {
			for i, pos := range posToFilter {
				if row[pos] != valuesToFilter[off+i] {
					continue patterns
				}
			}
			out.AddRow(row)
			break
		}
	}
	return nil
}

// iterator is a cursor over a loaded row window.
type iterator struct {
	predid horn.PredID
	rows   [][]horn.Term
	cur    int
	first  bool

	skipAllowed bool
	skipDup     bool
	nextCheck   bool
	nextOK      bool
	nextIdx     int
}

var _ horn.EDBIterator = (*iterator)(nil)

func (it *iterator) reset() { *it = iterator{} }

// PredID returns the predicate this cursor scans.
func (it *iterator) PredID() horn.PredID { return it.predid }

func (it *iterator) SkipDuplicatedFirstColumn() {
	if it.skipAllowed && it.first {
		it.skipDup = true
	}
}

func (it *iterator) HasNext() bool {
	if it.nextCheck {
		return it.nextOK
	}
	it.nextCheck = true
	next := it.cur + 1
	if it.first {
		next = 0
	}
	if it.skipDup && !it.first {
		prev := it.rows[it.cur][0]
		for next < len(it.rows) && it.rows[next][0] == prev {
			next++
		}
	}
	it.nextIdx = next
	it.nextOK = next < len(it.rows)
	return it.nextOK
}

func (it *iterator) Next() {
	it.cur = it.nextIdx
	it.first = false
	it.nextCheck = false
}

func (it *iterator) ElementAt(pos uint8) horn.Term {
	return it.rows[it.cur][pos]
}

func (s *Store) newIterator(l horn.Literal, rows [][]horn.Term, skipAllowed bool) *iterator {
	it := s.iters.Get().(*iterator)
	it.reset()
	it.predid = l.Predicate().ID()
	it.rows = rows
	it.first = true
	it.skipAllowed = skipAllowed
	return it
}

// Iterator returns a cursor over the rows matching the literal in
// ascending row order.
func (s *Store) Iterator(ctx context.Context, l horn.Literal) (horn.EDBIterator, error) {
	rows, err := s.loadRows(l)
	if err != nil {
		return nil, err
	}
	skipAllowed := s.arity == 2 && l.NVars() == int(l.TupleSize())
	return s.newIterator(l, rows, skipAllowed), nil
}

// SortedIterator returns a cursor ordered by the given fields. The
// natural order already sorts by every column left to right; any other
// field order sorts a copy of the window.
func (s *Store) SortedIterator(ctx context.Context, l horn.Literal, fields []uint8) (horn.EDBIterator, error) {
	rows, err := s.loadRows(l)
	if err != nil {
		return nil, err
	}
	natural := true
	for i, f := range fields {
		if int(f) != i {
			natural = false
			break
		}
	}
	if !natural {
		sorted := make([][]horn.Term, len(rows))
		copy(sorted, rows)
		sort.Slice(sorted, func(i, j int) bool {
			for _, f := range fields {
				if sorted[i][f] != sorted[j][f] {
					return sorted[i][f] < sorted[j][f]
				}
			}
			for p := range sorted[i] {
				if sorted[i][p] != sorted[j][p] {
					return sorted[i][p] < sorted[j][p]
				}
			}
			return false
		})
		rows = sorted
	}
	skipAllowed := natural && s.arity == 2 && l.NVars() == int(l.TupleSize())
	return s.newIterator(l, rows, skipAllowed), nil
}

// ReleaseIterator returns a cursor to the store's pool.
func (s *Store) ReleaseIterator(itr horn.EDBIterator) {
	if it, ok := itr.(*iterator); ok {
		it.reset()
		s.iters.Put(it)
	}
}

// Cardinality returns the number of rows matching the literal.
func (s *Store) Cardinality(ctx context.Context, l horn.Literal) (int, error) {
	rows, err := s.loadRows(l)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// CardinalityColumn returns the number of distinct values in one
// column of the rows matching the literal.
func (s *Store) CardinalityColumn(ctx context.Context, l horn.Literal, pos uint8) (int, error) {
	rows, err := s.loadRows(l)
	if err != nil {
		return 0, err
	}
	seen := make(map[horn.Term]struct{}, len(rows))
	for _, row := range rows {
		seen[row[pos]] = struct{}{}
	}
	return len(seen), nil
}

// EstimateCardinality returns the total number of stored rows, an
// upper bound on any literal's cardinality.
func (s *Store) EstimateCardinality(ctx context.Context, l horn.Literal) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketFacts).Stats().KeyN
		return nil
	})
	return n, err
}

// IsEmpty reports whether no row matches the literal. The filters are
// a disjunction of single-position bindings.
func (s *Store) IsEmpty(ctx context.Context, l horn.Literal, posToFilter []uint8, valuesToFilter []horn.Term) (bool, error) {
	if len(posToFilter) == 0 {
		rows, err := s.loadRows(l)
		if err != nil {
			return false, err
		}
		return len(rows) == 0, nil
	}
	if len(posToFilter) != len(valuesToFilter) {
		return false, errors.Errorf("kb: filter positions and values disagree: %d vs %d", len(posToFilter), len(valuesToFilter))
	}
	for i, pos := range posToFilter {
		t := l.Tuple()
		t.Set(pos, horn.NewConstTerm(valuesToFilter[i]))
		bound, err := horn.NewLiteral(l.Predicate(), t)
		if err != nil {
			return false, err
		}
		rows, err := s.loadRows(bound)
		if err != nil {
			return false, err
		}
		if len(rows) > 0 {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) columnSet(l horn.Literal, pos uint8) (map[horn.Term]struct{}, error) {
	rows, err := s.loadRows(l)
	if err != nil {
		return nil, err
	}
	set := make(map[horn.Term]struct{}, len(rows))
	for _, row := range rows {
		set[row[pos]] = struct{}{}
	}
	return set, nil
}

// CheckIn returns the subset of values present in column pos of the
// rows matching the literal.
func (s *Store) CheckIn(ctx context.Context, values []horn.Term, l horn.Literal, pos uint8) ([]horn.Term, error) {
	set, err := s.columnSet(l, pos)
	if err != nil {
		return nil, err
	}
	var out []horn.Term
	for _, v := range values {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// CheckNewIn returns the subset of values absent from column pos of
// the rows matching the literal.
func (s *Store) CheckNewIn(ctx context.Context, values []horn.Term, l horn.Literal, pos uint8) ([]horn.Term, error) {
	set, err := s.columnSet(l, pos)
	if err != nil {
		return nil, err
	}
	var out []horn.Term
	for _, v := range values {
		if _, ok := set[v]; !ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// CheckNewInLiterals returns the distinct projection of l1 on pos1
// minus the projection of l2 on pos2, in ascending row order.
func (s *Store) CheckNewInLiterals(ctx context.Context, l1 horn.Literal, pos1 []uint8, l2 horn.Literal, pos2 []uint8) (*horn.TupleTable, error) {
	if len(pos1) != len(pos2) {
		return nil, errors.Wrapf(horn.ErrWidthMismatch, "projection widths %d and %d", len(pos1), len(pos2))
	}
	rows1, err := s.loadRows(l1)
	if err != nil {
		return nil, err
	}
	rows2, err := s.loadRows(l2)
	if err != nil {
		return nil, err
	}

	project := func(rows [][]horn.Term, pos []uint8) [][]horn.Term {
		out := make([][]horn.Term, 0, len(rows))
		for _, row := range rows {
			p := make([]horn.Term, len(pos))
			for i, c := range pos {
				p[i] = row[c]
			}
			out = append(out, p)
		}
		return out
	}
	less := func(a, b []horn.Term) bool {
		for i := range a {
			if a[i] != b[i] {
				return a[i] < b[i]
			}
		}
		return false
	}
	equal := func(a, b []horn.Term) bool {
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	p1 := project(rows1, pos1)
	p2 := project(rows2, pos2)
	sort.Slice(p1, func(i, j int) bool { return less(p1[i], p1[j]) })
	sort.Slice(p2, func(i, j int) bool { return less(p2[i], p2[j]) })

	out := horn.NewTupleTable(len(pos1))
	j := 0
	for i, row := range p1 {
		if i > 0 && equal(p1[i-1], row) {
			continue
		}
		for j < len(p2) && less(p2[j], row) {
			j++
		}
		if j < len(p2) && equal(p2[j], row) {
			continue
		}
		out.AddRow(row)
	}
	return out, nil
}
