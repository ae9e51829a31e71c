// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package horn

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	"golang.org/x/sync/errgroup"

	"github.com/featurebasedb/horn/logger"
)

// finalBlock is the staging state for one rule-body block of a final
// sink. Rows arrive in one of two slots depending on the caller's
// uniqueness hint and are folded into the sorted slot when the
// possibly-duplicated slot reaches the threshold.
type finalBlock struct {
	utmpt   *SegmentInserter // rows the caller proved distinct
	tmpt    *SegmentInserter // possibly duplicated rows
	tmptseg *Segment         // folded, sorted, duplicate-free
}

// FinalTableSink collects rows destined for an IDB predicate's fact
// table. The finishing Consolidate subtracts every row already derived
// in an earlier round, so only genuinely new rows are committed.
type FinalTableSink struct {
	rowAssembler

	table         *FCTable
	iteration     int
	addToEndTable bool

	dedup   DedupPolicy
	hashSet map[uint64][][]Term

	blocks        []*finalBlock
	tmptThreshold int

	newDerivation bool

	log   logger.Logger
	stats StatsClient
}

var _ ResultSink = (*FinalTableSink)(nil)

// FinalSinkConfig bundles the construction parameters of a final sink.
type FinalSinkConfig struct {
	Table         *FCTable
	Iteration     int
	AddToEndTable bool
	Dedup         DedupPolicy
	// TmptThreshold overrides the fold trigger; zero keeps the default.
	TmptThreshold int
	NThreads      int
	Logger        logger.Logger
	Stats         StatsClient
}

// NewFinalTableSink returns a sink committing into cfg.Table at
// cfg.Iteration.
func NewFinalTableSink(rowsize int, fromLeft, fromRight []Mapping, cfg FinalSinkConfig) *FinalTableSink {
	s := &FinalTableSink{
		rowAssembler:  newRowAssembler(rowsize, fromLeft, fromRight, cfg.NThreads),
		table:         cfg.Table,
		iteration:     cfg.Iteration,
		addToEndTable: cfg.AddToEndTable,
		dedup:         cfg.Dedup,
		tmptThreshold: cfg.TmptThreshold,
		log:           cfg.Logger,
		stats:         cfg.Stats,
	}
	if s.tmptThreshold == 0 {
		s.tmptThreshold = defaultTmptThreshold
	}
	if s.log == nil {
		s.log = logger.NopLogger
	}
	if s.stats == nil {
		s.stats = NopStatsClient
	}
	if s.dedup == DedupHashSet {
		s.hashSet = make(map[uint64][][]Term)
	}
	return s
}

// RowSize returns the width of assembled rows.
func (s *FinalTableSink) RowSize() int { return s.rowsize }

// RawRow exposes the scratch row for direct writes.
func (s *FinalTableSink) RawRow() []Term { return s.row }

// NewDerivation reports whether the finishing Consolidate committed at
// least one row that no earlier round had derived.
func (s *FinalTableSink) NewDerivation() bool { return s.newDerivation }

// Table returns the fact table the sink commits into.
func (s *FinalTableSink) Table() *FCTable { return s.table }

func (s *FinalTableSink) block(blockID int) *finalBlock {
	for blockID >= len(s.blocks) {
		s.blocks = append(s.blocks, &finalBlock{
			utmpt: NewSegmentInserter(s.rowsize),
			tmpt:  NewSegmentInserter(s.rowsize),
		})
	}
	return s.blocks[blockID]
}

func hashRow(row []Term) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for _, v := range row {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// seenInHashSet records the row and reports whether an identical row was
// already staged. Hash collisions are resolved by comparing full rows.
func (s *FinalTableSink) seenInHashSet(row []Term) bool {
	key := hashRow(row)
	for _, prev := range s.hashSet[key] {
		match := true
		for i := range prev {
			if prev[i] != row[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	cp := make([]Term, len(row))
	copy(cp, row)
	s.hashSet[key] = append(s.hashSet[key], cp)
	return false
}

func (s *FinalTableSink) addRow(blockID int, unique bool) {
	b := s.block(blockID)
	if !unique && s.dedup == DedupHashSet {
		if s.seenInHashSet(s.row) {
			return
		}
		// Rows that survive the probe are distinct within this round.
		unique = true
	}
	if unique {
		b.utmpt.AddRow(s.row)
		return
	}
	b.tmpt.AddRow(s.row)
	if b.tmpt.NRows() >= s.tmptThreshold {
		s.foldBlock(b)
	}
}

// foldBlock sorts the possibly-duplicated slot and merges it into the
// folded segment, leaving an empty slot behind.
func (s *FinalTableSink) foldBlock(b *finalBlock) {
	if b.tmpt.IsEmpty() {
		return
	}
	seg := b.tmpt.Seal().SortAndUnique()
	b.tmptseg = MergeSegments(b.tmptseg, seg)
	b.tmpt = NewSegmentInserter(s.rowsize)
	s.stats.Count(MetricTmptFolds, 1, 1)
}

// ProcessRawRow ingests the scratch row into the given block.
func (s *FinalTableSink) ProcessRawRow(blockID int, unique bool, mu *sync.Mutex) {
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	s.addRow(blockID, unique)
}

// ProcessResults assembles a row from the join inputs and ingests it.
func (s *FinalTableSink) ProcessResults(blockID int, first []Term, second RowReader, unique bool) {
	s.assemble(first, second)
	s.addRow(blockID, unique)
}

// ProcessResultsJoin assembles from two cursors into block zero.
func (s *FinalTableSink) ProcessResultsJoin(first, second RowReader, unique bool) {
	s.assembleReaders(first, second)
	s.addRow(0, unique)
}

// ProcessResultsVectors assembles one row from column vectors.
func (s *FinalTableSink) ProcessResultsVectors(blockID int, vectors1 [][]Term, i1 int, vectors2 [][]Term, i2 int, unique bool) {
	s.assembleVectors(vectors1, i1, vectors2, i2)
	s.addRow(blockID, unique)
}

// ProcessResultsAtPos writes one cell of the scratch row.
func (s *FinalTableSink) ProcessResultsAtPos(pos uint8, v Term) {
	s.row[pos] = v
}

// AddColumns bulk-loads whole columns. Sorted and unique input lands in
// the distinct slot directly; anything else goes through the
// possibly-duplicated slot.
func (s *FinalTableSink) AddColumns(blockID int, columns [][]Term, sorted, unique bool) error {
	b := s.block(blockID)
	if sorted && unique {
		return b.utmpt.AddColumns(columns)
	}
	if err := b.tmpt.AddColumns(columns); err != nil {
		return err
	}
	if b.tmpt.NRows() >= s.tmptThreshold {
		s.foldBlock(b)
	}
	return nil
}

// AddColumnsFromIterator drains the cursor into the block, projecting
// each row through the copy plan for the left input.
func (s *FinalTableSink) AddColumnsFromIterator(blockID int, itr TableIterator, unique, sorted, lastInsert bool) error {
	b := s.block(blockID)
	ins := b.tmpt
	if sorted && unique {
		ins = b.utmpt
	}
	for itr.HasNext() {
		itr.Next()
		for _, m := range s.fromLeft {
			s.row[m.Dst] = itr.ElementAt(m.Src)
		}
		ins.AddRow(s.row)
	}
	if ins == b.tmpt && b.tmpt.NRows() >= s.tmptThreshold {
		s.foldBlock(b)
	}
	if lastInsert {
		return s.Consolidate(true)
	}
	return nil
}

// IsBlockEmpty reports whether the block holds no staged rows.
func (s *FinalTableSink) IsBlockEmpty(blockID int) bool {
	return s.RowsInBlock(blockID) == 0
}

// RowsInBlock returns the number of rows currently staged for the
// block, counting folded and unfolded slots.
func (s *FinalTableSink) RowsInBlock(blockID int) int {
	if blockID >= len(s.blocks) {
		return 0
	}
	b := s.blocks[blockID]
	n := b.utmpt.NRows() + b.tmpt.NRows()
	if b.tmptseg != nil {
		n += b.tmptseg.NRows()
	}
	return n
}

// IsEmpty reports whether no block holds any staged rows.
func (s *FinalTableSink) IsEmpty() bool {
	for i := range s.blocks {
		if !s.IsBlockEmpty(i) {
			return false
		}
	}
	return true
}

// Consolidate folds the staging slots. The finishing call deduplicates
// each block, subtracts every earlier derivation, and commits what
// remains to the fact table.
func (s *FinalTableSink) Consolidate(isFinished bool) error {
	for _, b := range s.blocks {
		s.foldBlock(b)
	}
	if !isFinished {
		return nil
	}
	start := time.Now()

	prior := s.table.Blocks()
	newsegs := make([]*Segment, len(s.blocks))

	var g errgroup.Group
	g.SetLimit(s.nthreads)
	for i, b := range s.blocks {
		i, b := i, b
		g.Go(func() error {
			seg := MergeSegments(b.utmpt.Seal().SortAndUnique(), b.tmptseg)
			if seg == nil {
				return nil
			}
			for _, fb := range prior {
				if seg.IsEmpty() && seg.RowSize() > 0 {
					break
				}
				seg = seg.Subtract(fb.Segment)
			}
			newsegs[i] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	committed := 0
	for _, seg := range newsegs {
		if seg == nil || seg.IsEmpty() {
			continue
		}
		if !s.addToEndTable {
			continue
		}
		if err := s.table.Add(seg, s.iteration); err != nil {
			return err
		}
		s.newDerivation = true
		committed += seg.NRows()
	}
	s.log.Debugf("consolidated final sink: iteration=%d blocks=%d new rows=%d", s.iteration, len(s.blocks), committed)
	s.stats.Count(MetricDerivedRows, int64(committed), 1)
	s.stats.Timing(MetricConsolidateTime, time.Since(start), 1)
	s.blocks = nil
	return nil
}
