// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package sqldb serves extensional predicates out of relational tables
// reached through database/sql. A table descriptor names the driver's
// DSN, the table, and the columns that form the tuple, in tuple order.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	horn "github.com/featurebasedb/horn"
	"github.com/featurebasedb/horn/logger"
)

func init() {
	for backend, driver := range map[string]string{
		"mysql":     "mysql",
		"postgres":  "postgres",
		"sqlserver": "sqlserver",
		"odbc":      "odbc",
	} {
		driver := driver
		horn.RegisterBackend(backend, func(conf horn.TableConf, opts horn.BackendOptions) (horn.EDBTable, error) {
			if len(conf.Params) < 3 {
				return nil, errors.Errorf("sqldb: need dsn, table and at least one column, got %d params", len(conf.Params))
			}
			return Open(driver, conf.Params[0], conf.Params[1], conf.Params[2:], OptLogger(opts.Logger))
		})
	}
}

// Table exposes one relational table as an EDB predicate.
type Table struct {
	db     *sql.DB
	driver string
	table  string
	cols   []string

	iters sync.Pool
	log   logger.Logger
}

// Ensure type implements interface.
var _ horn.EDBTable = (*Table)(nil)

// Option configures a Table.
type Option func(*Table)

// OptLogger sets the table logger.
func OptLogger(l logger.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.log = l
		}
	}
}

// Open connects to the database and binds the table and columns.
func Open(driver, dsn, table string, cols []string, opts ...Option) (*Table, error) {
	if len(cols) == 0 || len(cols) > horn.MaxTupleSize {
		return nil, errors.Errorf("sqldb: unsupported arity %d", len(cols))
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sqldb: opening %s", driver)
	}
	t := &Table{
		db:     db,
		driver: driver,
		table:  table,
		cols:   cols,
		log:    logger.NopLogger,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.iters.New = func() interface{} { return &iterator{} }
	return t, nil
}

// Close closes the connection pool.
func (t *Table) Close() error { return t.db.Close() }

// Arity returns the number of bound columns.
func (t *Table) Arity() uint8 { return uint8(len(t.cols)) }

func (t *Table) placeholder(i int) string {
	switch t.driver {
	case "postgres":
		return fmt.Sprintf("$%d", i)
	case "sqlserver":
		return fmt.Sprintf("@p%d", i)
	default:
		return "?"
	}
}

// literalWhere builds the WHERE clause for the literal's constants and
// repeated variables.
func (t *Table) literalWhere(l horn.Literal) (string, []interface{}) {
	var conds []string
	var args []interface{}
	n := 0

	// (varID, firstCol) for each variable seen so far.
	type varRef struct {
		id  uint8
		col string
	}
	var seen []varRef

	for i := uint8(0); i < l.TupleSize(); i++ {
		term := l.TermAt(i)
		col := t.cols[i]
		if !term.IsVariable() {
			n++
			conds = append(conds, fmt.Sprintf("%s = %s", col, t.placeholder(n)))
			args = append(args, int64(term.Value()))
			continue
		}
		found := false
		for _, v := range seen {
			if v.id == term.VarID() {
				conds = append(conds, fmt.Sprintf("%s = %s", col, v.col))
				found = true
				break
			}
		}
		if !found {
			seen = append(seen, varRef{id: term.VarID(), col: col})
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (t *Table) selectRows(ctx context.Context, l horn.Literal, orderBy []string) ([][]horn.Term, error) {
	where, args := t.literalWhere(l)
	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(t.cols, ", "), t.table, where)
	if len(orderBy) > 0 {
		query += " ORDER BY " + strings.Join(orderBy, ", ")
	}
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "sqldb: querying %s", t.table)
	}
	defer rows.Close()

	var out [][]horn.Term
	scan := make([]interface{}, len(t.cols))
	raw := make([]int64, len(t.cols))
	for i := range raw {
		scan[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, errors.Wrap(err, "sqldb: scanning row")
		}
		row := make([]horn.Term, len(raw))
		for i, v := range raw {
			row[i] = horn.Term(v)
		}
		out = append(out, row)
	}
	return out, errors.Wrap(rows.Err(), "sqldb: iterating rows")
}

// Query appends every row matching the literal and the position
// filters. Filter values form patterns of len(posToFilter) terms each.
func (t *Table) Query(ctx context.Context, q *horn.QSQQuery, posToFilter []uint8, valuesToFilter []horn.Term, out *horn.TupleTable) error {
	rows, err := t.selectRows(ctx, q.Literal(), t.cols)
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
		return errors.Errorf("sqldb: %d filter values for %d positions", len(valuesToFilter), np)
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

// iterator is a cursor over a materialized result set.
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

func (t *Table) newIterator(l horn.Literal, rows [][]horn.Term, skipAllowed bool) *iterator {
	it := t.iters.Get().(*iterator)
	it.reset()
	it.predid = l.Predicate().ID()
	it.rows = rows
	it.first = true
	it.skipAllowed = skipAllowed
	return it
}

// Iterator returns a cursor over the rows matching the literal in
// column order.
func (t *Table) Iterator(ctx context.Context, l horn.Literal) (horn.EDBIterator, error) {
	rows, err := t.selectRows(ctx, l, t.cols)
	if err != nil {
		return nil, err
	}
	skipAllowed := len(t.cols) == 2 && l.NVars() == int(l.TupleSize())
	return t.newIterator(l, rows, skipAllowed), nil
}

// SortedIterator returns a cursor ordered by the given fields.
func (t *Table) SortedIterator(ctx context.Context, l horn.Literal, fields []uint8) (horn.EDBIterator, error) {
	orderBy := make([]string, 0, len(t.cols))
	for _, f := range fields {
		orderBy = append(orderBy, t.cols[f])
	}
	for _, c := range t.cols {
		present := false
		for _, o := range orderBy {
			if o == c {
				present = true
				break
			}
		}
		if !present {
			orderBy = append(orderBy, c)
		}
	}
	rows, err := t.selectRows(ctx, l, orderBy)
	if err != nil {
		return nil, err
	}
	natural := len(fields) == 0 || fields[0] == 0
	skipAllowed := natural && len(t.cols) == 2 && l.NVars() == int(l.TupleSize())
	return t.newIterator(l, rows, skipAllowed), nil
}

// ReleaseIterator returns a cursor to the table's pool.
func (t *Table) ReleaseIterator(itr horn.EDBIterator) {
	if it, ok := itr.(*iterator); ok {
		it.reset()
		t.iters.Put(it)
	}
}

// Cardinality returns the number of rows matching the literal.
func (t *Table) Cardinality(ctx context.Context, l horn.Literal) (int, error) {
	where, args := t.literalWhere(l)
	var n int
	err := t.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", t.table, where), args...).Scan(&n)
	return n, errors.Wrapf(err, "sqldb: counting %s", t.table)
}

// CardinalityColumn returns the number of distinct values in one
// column of the rows matching the literal.
func (t *Table) CardinalityColumn(ctx context.Context, l horn.Literal, pos uint8) (int, error) {
	where, args := t.literalWhere(l)
	var n int
	err := t.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s%s", t.cols[pos], t.table, where), args...).Scan(&n)
	return n, errors.Wrapf(err, "sqldb: counting distinct %s.%s", t.table, t.cols[pos])
}

// EstimateCardinality returns the total row count of the table.
func (t *Table) EstimateCardinality(ctx context.Context, l horn.Literal) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", t.table)).Scan(&n)
	return n, errors.Wrapf(err, "sqldb: counting %s", t.table)
}

// IsEmpty reports whether no row matches the literal. The filters are
// a disjunction of single-position bindings.
func (t *Table) IsEmpty(ctx context.Context, l horn.Literal, posToFilter []uint8, valuesToFilter []horn.Term) (bool, error) {
	if len(posToFilter) == 0 {
		n, err := t.Cardinality(ctx, l)
		return n == 0, err
	}
	if len(posToFilter) != len(valuesToFilter) {
		return false, errors.Errorf("sqldb: filter positions and values disagree: %d vs %d", len(posToFilter), len(valuesToFilter))
	}
	for i, pos := range posToFilter {
		tuple := l.Tuple()
		tuple.Set(pos, horn.NewConstTerm(valuesToFilter[i]))
		bound, err := horn.NewLiteral(l.Predicate(), tuple)
		if err != nil {
			return false, err
		}
		n, err := t.Cardinality(ctx, bound)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return false, nil
		}
	}
	return true, nil
}

func (t *Table) columnSet(ctx context.Context, l horn.Literal, pos uint8) (map[horn.Term]struct{}, error) {
	where, args := t.literalWhere(l)
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s%s", t.cols[pos], t.table, where)
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "sqldb: querying %s", t.table)
	}
	defer rows.Close()
	set := make(map[horn.Term]struct{})
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "sqldb: scanning value")
		}
		set[horn.Term(v)] = struct{}{}
	}
	return set, errors.Wrap(rows.Err(), "sqldb: iterating values")
}

// CheckIn returns the subset of values present in column pos of the
// rows matching the literal.
func (t *Table) CheckIn(ctx context.Context, values []horn.Term, l horn.Literal, pos uint8) ([]horn.Term, error) {
	set, err := t.columnSet(ctx, l, pos)
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
func (t *Table) CheckNewIn(ctx context.Context, values []horn.Term, l horn.Literal, pos uint8) ([]horn.Term, error) {
	set, err := t.columnSet(ctx, l, pos)
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
func (t *Table) CheckNewInLiterals(ctx context.Context, l1 horn.Literal, pos1 []uint8, l2 horn.Literal, pos2 []uint8) (*horn.TupleTable, error) {
	if len(pos1) != len(pos2) {
		return nil, errors.Wrapf(horn.ErrWidthMismatch, "projection widths %d and %d", len(pos1), len(pos2))
	}
	rows1, err := t.selectRows(ctx, l1, t.cols)
	if err != nil {
		return nil, err
	}
	rows2, err := t.selectRows(ctx, l2, t.cols)
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

// DictNumber reports no mapping; relational tables carry numeric
// tuples only.
func (t *Table) DictNumber(ctx context.Context, text string) (horn.Term, bool, error) {
	return 0, false, nil
}

// DictText reports no mapping.
func (t *Table) DictText(ctx context.Context, v horn.Term) (string, bool, error) {
	return "", false, nil
}

// NTerms reports an empty dictionary.
func (t *Table) NTerms(ctx context.Context) (uint64, error) {
	return 0, nil
}
