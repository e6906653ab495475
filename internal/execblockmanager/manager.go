// Package execblockmanager implements the code-cache index
// that maps guest address ranges onto the ExecBlocks holding their
// translations, and the single authority for invalidating translated code
// when the underlying guest memory changes.
package execblockmanager

import (
	"fmt"
	"sort"

	"github.com/vantir/dbicore/internal/dbilog"
	"github.com/vantir/dbicore/internal/execblock"
	"github.com/vantir/dbicore/internal/rangeset"
)

// InstAnalysis is cached per-instruction metadata, computed once and
// reused on every re-entry into a basic block rather than re-decoding and
// re-classifying registers every single execution.
type InstAnalysis struct {
	Mnemonic  string
	Len       int
	IsBranch  bool
	MayModify bool
}

// ExecRegion owns the ExecBlocks covering one contiguous span of guest
// address ranges it has translated. A region starts with a single block
// but gains more as mergeAdjacentRegions folds neighboring regions
// together, so lookups always search every block a region owns rather
// than assuming one block per region. Regions are kept sorted by their
// lowest covered address; FindRegion and ClearCache still scan the whole
// list linearly rather than binary-searching it.
type ExecRegion struct {
	Covered *rangeset.Set
	Blocks  []*execblock.ExecBlock
}

func (r *ExecRegion) lowAddr() uint64 {
	ranges := r.Covered.Ranges()
	if len(ranges) == 0 {
		return 0
	}
	return ranges[0].Start
}

// Manager is the ExecBlockManager: the code-cache index spanning however
// many ExecRegions the translator has allocated so far.
type Manager struct {
	log     dbilog.Logger
	regions []*ExecRegion
	newBlock func() (*execblock.ExecBlock, error)

	analysisCache map[uint64]*InstAnalysis

	stats Stats
}

// Stats is a snapshot of coarse cache counters, logged on demand by
// LogStats and never consulted for a control decision.
type Stats struct {
	Regions          int
	Sequences        int
	Bytes            int
	Capacity         int
	CacheInvalidations int
}

// New constructs an empty Manager. newBlock allocates one fresh ExecBlock
// (code+data arena sizing and the prologue/epilogue bytes to seed it with
// are the caller's concern, typically dbicore.Config).
func New(log dbilog.Logger, newBlock func() (*execblock.ExecBlock, error)) *Manager {
	if log == nil {
		log = dbilog.Noop
	}
	return &Manager{log: log, newBlock: newBlock, analysisCache: make(map[uint64]*InstAnalysis)}
}

// FindRegion returns the region covering addr, if any.
func (m *Manager) FindRegion(addr uint64) (*ExecRegion, bool) {
	for _, r := range m.regions {
		if r.Covered.Contains(addr) {
			return r, true
		}
	}
	return nil, false
}

// GetProgrammedExecBlock returns the ExecBlock and SeqID translating the
// basic block starting at addr, the lookup the translator performs before
// deciding whether a fresh translation is needed at all. A flat entry-point
// lookup across the region's blocks is tried first; if addr instead falls
// inside an already-translated sequence's instruction range (a branch
// landing mid-block rather than at its head), the instruction cache
// resolves it by asking that block to split its sequence at addr instead
// of letting the caller retranslate a duplicate copy of code already here.
func (m *Manager) GetProgrammedExecBlock(addr uint64) (*execblock.ExecBlock, execblock.SeqID, bool) {
	r, ok := m.FindRegion(addr)
	if !ok {
		return nil, 0, false
	}
	for _, block := range r.Blocks {
		if id, ok := block.GetSeqID(addr); ok {
			return block, id, true
		}
	}
	for _, block := range r.Blocks {
		meta, ok := block.GetInstMetadata(addr)
		if !ok {
			continue
		}
		id, ok := block.SplitSequence(meta.Seq, addr)
		if !ok {
			continue
		}
		return block, id, true
	}
	return nil, 0, false
}

// WriteBasicBlock registers a freshly translated sequence covering
// [guestStart, guestEnd) into the cache, allocating a new ExecRegion if no
// existing block has room. Placement picks whichever block anywhere in the
// cache has remaining capacity rather than by spatial proximity of the
// covered ranges; mergeAdjacentRegions afterwards folds any regions whose
// covered ranges now touch into one, so a guest range translated piecemeal
// across several WriteBasicBlock calls still ends up as a single region.
func (m *Manager) WriteBasicBlock(machineCode []byte, guestStart, guestEnd uint64, instMeta []execblock.InstMetadata) (execblock.SeqID, *execblock.ExecBlock, error) {
	region, block := m.findRegionWithRoom(len(machineCode))
	if block == nil {
		newBlock, err := m.newBlock()
		if err != nil {
			return 0, nil, fmt.Errorf("execblockmanager: allocate region: %w", err)
		}
		region = &ExecRegion{Covered: rangeset.New(), Blocks: []*execblock.ExecBlock{newBlock}}
		m.regions = append(m.regions, region)
		block = newBlock
	}

	id, err := block.WriteSequence(machineCode, guestStart, instMeta)
	if err != nil {
		return 0, nil, err
	}
	region.Covered.Add(rangeset.Range{Start: guestStart, End: guestEnd})
	m.mergeAdjacentRegions()
	m.stats.Sequences++
	m.stats.Bytes += len(machineCode)
	return id, block, nil
}

func (m *Manager) findRegionWithRoom(n int) (*ExecRegion, *execblock.ExecBlock) {
	for _, r := range m.regions {
		for _, b := range r.Blocks {
			if b.Remaining() >= n {
				return r, b
			}
		}
	}
	return nil, nil
}

func (m *Manager) sortRegions() {
	sort.Slice(m.regions, func(i, j int) bool { return m.regions[i].lowAddr() < m.regions[j].lowAddr() })
}

// rangesTouch reports whether any range in a touches or overlaps any range
// in b, the condition mergeAdjacentRegions folds two regions on.
func rangesTouch(a, b *rangeset.Set) bool {
	for _, ra := range a.Ranges() {
		for _, rb := range b.Ranges() {
			if ra.Overlaps(rb) || ra.End == rb.Start || rb.End == ra.Start {
				return true
			}
		}
	}
	return false
}

// mergeRegion absorbs src's blocks and covered ranges into dst.
func (m *Manager) mergeRegion(dst, src *ExecRegion) {
	dst.Blocks = append(dst.Blocks, src.Blocks...)
	for _, r := range src.Covered.Ranges() {
		dst.Covered.Add(r)
	}
}

// mergeAdjacentRegions folds every pair of regions whose covered ranges
// touch or overlap into one region, keeping the region list from growing
// one entry per WriteBasicBlock call even when those calls are steadily
// extending what is logically a single contiguous translated span.
func (m *Manager) mergeAdjacentRegions() {
	for {
		merged := false
		for i := 0; i < len(m.regions) && !merged; i++ {
			for j := i + 1; j < len(m.regions); j++ {
				if !rangesTouch(m.regions[i].Covered, m.regions[j].Covered) {
					continue
				}
				m.mergeRegion(m.regions[i], m.regions[j])
				m.regions = append(m.regions[:j], m.regions[j+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			break
		}
	}
	m.sortRegions()
}

// ClearCache invalidates every translation overlapping r. Any region whose
// covered set overlaps r is released outright, even where r covers only
// part of it; finer per-block eviction (keeping unaffected sequences of a
// partially-invalidated region) is not implemented here: this engine drops
// the whole region, a simplification this package's DESIGN.md entry
// documents.
func (m *Manager) ClearCache(r rangeset.Range) {
	kept := m.regions[:0]
	for _, region := range m.regions {
		if !region.Covered.Overlaps(r) {
			kept = append(kept, region)
			continue
		}
		for _, b := range region.Blocks {
			b.Release()
		}
		m.stats.CacheInvalidations++
	}
	m.regions = kept
}

// ClearCacheSet invalidates every translation overlapping any range in s.
func (m *Manager) ClearCacheSet(s *rangeset.Set) {
	for _, r := range s.Ranges() {
		m.ClearCache(r)
	}
}

// FlushCommit is a no-op in this engine: ClearCache applies invalidations
// immediately rather than deferring them to a commit point, because
// translations never execute concurrently with a ClearCache call in this
// single-threaded-per-VM model. Kept as an explicit method so callers
// written against the deferred-commit mental model (and tests asserting it)
// have somewhere to call.
func (m *Manager) FlushCommit() {}

// AnalyzeInstMetadata returns the cached InstAnalysis for addr, computing
// and caching it via compute if this is the first request.
func (m *Manager) AnalyzeInstMetadata(addr uint64, compute func() InstAnalysis) InstAnalysis {
	if a, ok := m.analysisCache[addr]; ok {
		return *a
	}
	a := compute()
	m.analysisCache[addr] = &a
	return a
}

// Stats returns a snapshot of the manager's cache counters.
func (m *Manager) Stats() Stats {
	s := m.stats
	s.Regions = len(m.regions)
	s.Capacity = 0
	for _, r := range m.regions {
		for _, b := range r.Blocks {
			s.Capacity += b.CodeCapacity()
		}
	}
	return s
}

// LogStats writes the current Stats snapshot to the manager's logger at
// debug level.
func (m *Manager) LogStats() {
	s := m.Stats()
	m.log.Debugf("execblockmanager: regions=%d sequences=%d bytes=%d capacity=%d invalidations=%d",
		s.Regions, s.Sequences, s.Bytes, s.Capacity, s.CacheInvalidations)
}
