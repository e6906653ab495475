package execblock

import (
	"fmt"

	"github.com/vantir/dbicore/internal/asm"
	"github.com/vantir/dbicore/internal/dbilog"
	"github.com/vantir/dbicore/internal/instinfo"
	"github.com/vantir/dbicore/internal/platform"
)

// SeqID identifies one translated basic-block sequence written into an
// ExecBlock's code arena.
type SeqID int

// InstID identifies one guest instruction's metadata within a sequence.
type InstID int

// SeqEntry records where one translated sequence lives in the code arena
// and the guest address range it covers.
type SeqEntry struct {
	CodeStart int
	CodeEnd   int
	GuestAddr uint64
	InstStart InstID
	InstEnd   InstID
}

// InstMetadata records one guest instruction's translation: its address,
// length, and the host code offset its translated bytes begin at. This is
// what GetInstMetadata and splitSequence-style re-entry consult.
type InstMetadata struct {
	GuestAddr  uint64
	GuestLen   int
	HostOffset int
	Seq        SeqID
	// MemAccess is the instruction's static memory access classification,
	// looked up once at translation time so a memory-access callback can
	// consult it without re-decoding the instruction on every re-entry.
	MemAccess instinfo.Access
}

// ExecBlock is one code+data arena pair: the unit of cache capacity the
// ExecBlockManager allocates sequences into and merges/evicts as a whole.
type ExecBlock struct {
	log  dbilog.Logger
	code *platform.Arena
	data *platform.Arena

	codeUsed int
	seqs     []SeqEntry
	insts    []InstMetadata

	ctx            *Context
	prologueOffset int
}

// New allocates a fresh ExecBlock with the given code and data arena sizes
// and writes its prologue at code-arena offset 0: the fixed entry point
// Execute always calls into, which loads ctxReg with this block's own
// Context address and dispatches to Host.Selector (the sequence SelectSeq
// most recently pointed it at). Every translated sequence ends its own
// generator chain with a CompileRet, so no shared epilogue trampoline is
// needed; control returns straight to Execute's caller.
func New(log dbilog.Logger, codeSize, dataSize int, newAsm asm.NewAssembler, ctxReg asm.Register, gprCount int, toHost func(int) asm.Register) (*ExecBlock, error) {
	if log == nil {
		log = dbilog.Noop
	}
	code, err := platform.AllocateArena(codeSize, platform.ProtRead|platform.ProtWrite|platform.ProtExec)
	if err != nil {
		return nil, fmt.Errorf("execblock: allocate code arena: %w", err)
	}
	data, err := platform.AllocateArena(dataSize, platform.ProtRead|platform.ProtWrite)
	if err != nil {
		code.Release()
		return nil, fmt.Errorf("execblock: allocate data arena: %w", err)
	}

	b := &ExecBlock{log: log, code: code, data: data}
	b.ctx = (*Context)(unsafeDataPointer(data))

	prologue, err := BuildPrologueEpilogue(newAsm, ctxReg, data.BaseAddr(), int64(OffsetSelector), gprCount, toHost)
	if err != nil {
		code.Release()
		data.Release()
		return nil, err
	}

	if err := code.BeginWrite(); err != nil {
		code.Release()
		data.Release()
		return nil, err
	}
	copy(code.Bytes(), prologue)
	if err := code.EndWrite(); err != nil {
		code.Release()
		data.Release()
		return nil, err
	}
	b.prologueOffset = 0
	b.codeUsed = len(prologue)
	return b, nil
}

// Context returns the block's register file, embedded in its data arena.
func (b *ExecBlock) Context() *Context { return b.ctx }

// GetPrologueOffset returns the code-arena offset of the entry trampoline
// Execute calls into.
func (b *ExecBlock) GetPrologueOffset() int { return b.prologueOffset }

// CodeCapacity and CodeUsed report the arena's size and current
// high-water mark; the manager's Stats sums CodeCapacity across blocks.
func (b *ExecBlock) CodeCapacity() int { return b.code.Len() }
func (b *ExecBlock) CodeUsed() int     { return b.codeUsed }

// OccupationRatio reports the fraction of the code arena currently in use.
// The manager does not consult it: placement checks Remaining directly.
func (b *ExecBlock) OccupationRatio() float64 {
	if b.code.Len() == 0 {
		return 1
	}
	return float64(b.codeUsed) / float64(b.code.Len())
}

// Remaining is the number of free bytes left in the code arena.
func (b *ExecBlock) Remaining() int { return b.code.Len() - b.codeUsed }

// WriteSequence appends one already-assembled translated basic block to
// the code arena and registers its instruction metadata. It returns the
// new SeqID, or an error if the arena has no room (EXEC_BLOCK_FULL).
func (b *ExecBlock) WriteSequence(machineCode []byte, guestAddr uint64, instMeta []InstMetadata) (SeqID, error) {
	if len(machineCode) > b.Remaining() {
		return 0, ErrExecBlockFull
	}

	start := b.codeUsed
	if err := b.code.BeginWrite(); err != nil {
		return 0, fmt.Errorf("execblock: %w", err)
	}
	copy(b.code.Bytes()[start:], machineCode)
	if err := b.code.EndWrite(); err != nil {
		return 0, fmt.Errorf("execblock: %w", err)
	}
	b.codeUsed += len(machineCode)

	instStart := InstID(len(b.insts))
	for i := range instMeta {
		instMeta[i].HostOffset += start
		instMeta[i].Seq = SeqID(len(b.seqs))
	}
	b.insts = append(b.insts, instMeta...)

	seq := SeqEntry{
		CodeStart: start,
		CodeEnd:   b.codeUsed,
		GuestAddr: guestAddr,
		InstStart: instStart,
		InstEnd:   InstID(len(b.insts)),
	}
	id := SeqID(len(b.seqs))
	b.seqs = append(b.seqs, seq)
	b.log.Debugf("execblock: wrote sequence %d at guest=0x%x host=[%d,%d)", id, guestAddr, start, b.codeUsed)
	return id, nil
}

// GetSeqStart returns the code-arena offset a sequence begins at.
func (b *ExecBlock) GetSeqStart(id SeqID) (int, error) {
	if int(id) < 0 || int(id) >= len(b.seqs) {
		return 0, fmt.Errorf("execblock: sequence %d out of range", id)
	}
	return b.seqs[id].CodeStart, nil
}

// GetSeqID finds the sequence whose guest address range contains addr and
// that begins exactly at addr (an entry point), the lookup
// execblockmanager.Manager.GetProgrammedExecBlock tries first.
func (b *ExecBlock) GetSeqID(addr uint64) (SeqID, bool) {
	for i, s := range b.seqs {
		if s.GuestAddr == addr {
			return SeqID(i), true
		}
	}
	return 0, false
}

// GetInstMetadata returns the translation metadata for the guest
// instruction at addr, if this block has translated it.
func (b *ExecBlock) GetInstMetadata(addr uint64) (InstMetadata, bool) {
	for _, m := range b.insts {
		if m.GuestAddr == addr {
			return m, true
		}
	}
	return InstMetadata{}, false
}

// InstructionsInSeq returns the metadata slice for one sequence's
// instructions, used by SplitSequence to find a mid-sequence re-entry
// point.
func (b *ExecBlock) InstructionsInSeq(id SeqID) []InstMetadata {
	if int(id) < 0 || int(id) >= len(b.seqs) {
		return nil
	}
	s := b.seqs[id]
	return b.insts[s.InstStart:s.InstEnd]
}

// SplitSequence registers a new entry sequence at addr, a guest address
// that falls inside seq's already-translated instruction range but is not
// seq's own entry point. A branch landing there would otherwise force a
// fresh translation of code this block already holds; instead this
// re-slices the existing host bytes from addr's instruction through seq's
// end into a second SeqEntry, so GetSeqID(addr) finds it directly on every
// later call. No machine code is reassembled or copied: the new sequence
// shares the tail of seq's own bytes.
func (b *ExecBlock) SplitSequence(seq SeqID, addr uint64) (SeqID, bool) {
	if int(seq) < 0 || int(seq) >= len(b.seqs) {
		return 0, false
	}
	s := b.seqs[seq]
	for i := s.InstStart; i < s.InstEnd; i++ {
		m := b.insts[i]
		if m.GuestAddr != addr {
			continue
		}
		if i == s.InstStart {
			return seq, true
		}
		newSeq := SeqEntry{
			CodeStart: m.HostOffset,
			CodeEnd:   s.CodeEnd,
			GuestAddr: addr,
			InstStart: i,
			InstEnd:   s.InstEnd,
		}
		id := SeqID(len(b.seqs))
		b.seqs = append(b.seqs, newSeq)
		b.log.Debugf("execblock: split sequence %d at guest=0x%x into sequence %d host=[%d,%d)", seq, addr, id, newSeq.CodeStart, newSeq.CodeEnd)
		return id, true
	}
	return 0, false
}

// SelectSeq points the block's own HostState.Selector at sequence id's
// code, the operation dbicore.Engine.Run performs just before calling
// Execute on this block.
func (b *ExecBlock) SelectSeq(id SeqID) error {
	start, err := b.GetSeqStart(id)
	if err != nil {
		return err
	}
	b.ctx.Host.Selector = uint64(b.code.BaseAddr()) + uint64(start)
	return nil
}

// Release frees the block's code and data arenas. Callers must not use
// the block afterwards.
func (b *ExecBlock) Release() {
	b.code.Release()
	b.data.Release()
}

// ErrExecBlockFull is returned by WriteSequence when the code arena has no
// room left for another sequence; the manager responds by requesting a new
// region, never by retrying the same block.
var ErrExecBlockFull = fmt.Errorf("execblock: code arena full")
