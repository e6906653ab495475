// Package execblock implements ExecBlock, the unit of mmap'd
// code+data memory that holds translated instruction sequences, and the
// Context the prologue/epilogue save and restore on every transition
// between host and instrumented guest code.
package execblock

import "unsafe"

// NumShadowSlots is the fixed size of Context.Shadow. Config's
// ShadowStackSlots value does not change it, and no generated code reads
// or writes Shadow.
const NumShadowSlots = 512

// GPRState holds every general-purpose register plus flags and PC. Regs is
// indexed by the architecture's GPR table (internal/register/amd64,
// internal/register/arm64); unused high indices on arm64 (31 GPRs) are
// simply left zero on amd64 (16 GPRs) callers.
type GPRState struct {
	Regs  [32]uint64
	Flags uint64
	PC    uint64
}

// FPRState is the layout reserved for vector/float register state. The
// prologue and the sequence exits save and restore GPRs only: nothing
// writes guest FPR state into FPRState or loads it back, whatever
// HostState.ExecuteFlags holds.
type FPRState struct {
	XMM   [16][16]byte
	YMMHi [16][16]byte
	MXCSR uint32
	FCW   uint16
}

// ExecuteFlags bits name optional context-switch work. The prologue built
// by BuildPrologueEpilogue does not read them.
type ExecuteFlags uint32

const (
	RestoreAVX ExecuteFlags = 1 << iota
)

// HostState is the "host" half of the context: the control-as-data bridge
// between host code and instrumented code. See the Selector and
// NextGuestPC field comments for how the two directions of that bridge
// work.
type HostState struct {
	SavedHostSP uintptr
	SavedHostFP uintptr
	// Selector holds a host code address: the entry trampoline written at
	// code-arena offset 0 loads it and dispatches there. SelectSeq sets it
	// before every Execute().
	Selector uint64
	// NextGuestPC holds a guest address: the control-flow generators
	// (RewriteTarget, SimulateCall, SimulateRet, DoNotInstrument) write the
	// resolved target here before returning to the host, and Engine.Run
	// reads it to decide what to translate next.
	NextGuestPC  uint64
	ExecuteFlags ExecuteFlags
}

// Context is the full per-VM register file, embedded at a fixed offset in
// every ExecBlock's data arena so patched sequences can address its
// fields directly through a base register.
type Context struct {
	GPR    GPRState
	FPR    FPRState
	Host   HostState
	Shadow [NumShadowSlots]uint64
	// ShadowSP is the index of the next free Shadow slot. No CALL- or
	// RET-site generator pushes to or pops from the shadow stack: the
	// SimulateCall/SimulateRet generators keep the return address in
	// Host.Selector instead.
	ShadowSP uint64
}

// Field offsets into Context, computed once and asserted against the real
// struct layout by TestContextOffsets. PatchRule generators for memory
// access to Context fields use these constants directly rather than
// re-deriving them through reflection on every translation.
var (
	OffsetGPR      = unsafe.Offsetof(Context{}.GPR)
	OffsetGPRRegs  = unsafe.Offsetof(Context{}.GPR) + unsafe.Offsetof(GPRState{}.Regs)
	OffsetGPRFlags = unsafe.Offsetof(Context{}.GPR) + unsafe.Offsetof(GPRState{}.Flags)
	OffsetGPRPC    = unsafe.Offsetof(Context{}.GPR) + unsafe.Offsetof(GPRState{}.PC)
	OffsetFPR      = unsafe.Offsetof(Context{}.FPR)
	OffsetHost     = unsafe.Offsetof(Context{}.Host)
	OffsetSelector = unsafe.Offsetof(Context{}.Host) + unsafe.Offsetof(HostState{}.Selector)
	OffsetNextPC   = unsafe.Offsetof(Context{}.Host) + unsafe.Offsetof(HostState{}.NextGuestPC)
	OffsetShadow   = unsafe.Offsetof(Context{}.Shadow)
	OffsetShadowSP = unsafe.Offsetof(Context{}.ShadowSP)
)

// GPROffset returns the byte offset of GPR index i within Context, for
// PatchRule generators (SaveReg/LoadReg) that address a specific register.
func GPROffset(i int) uintptr {
	return OffsetGPRRegs + uintptr(i)*unsafe.Sizeof(uint64(0))
}
