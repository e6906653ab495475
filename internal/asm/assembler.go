// Package asm is the host-encoding half of instruction handling: the
// architecture-neutral contract PatchRule generators target when emitting
// replacement host instructions into an ExecBlock's code arena. Decoding of
// guest instructions is a separate concern, handled by decode.Decode
// (internal/asm/decode) using the golang.org/x/arch disassemblers.
package asm

import "fmt"

// Register represents an architecture-specific host register.
type Register byte

// NilRegister indicates no register was specified.
const NilRegister Register = 0

// Node is one assembled instruction in the linked list the underlying
// golang-asm builder produces.
type Node interface {
	fmt.Stringer
	// AssignJumpTarget assigns target as the destination of this node's
	// jump instruction.
	AssignJumpTarget(target Node)
	// OffsetInBinary returns this node's offset in the assembled binary.
	OffsetInBinary() uint64
}

// AssemblerBase is the contract amd64 and arm64 host encoders implement.
// Unlike a general-purpose assembler this exposes only the instruction
// shapes PatchRule generators and ExecBlock's prologue/epilogue emitters
// need: loads and stores against Context fields, register moves, and the
// handful of control-flow shapes a patched basic block requires.
type AssemblerBase interface {
	// Assemble finalizes the instruction stream into position-relocated
	// machine code.
	Assemble() ([]byte, error)
	// SetJumpTargetOnNext assigns the next emitted node as the jump
	// target of every node passed in.
	SetJumpTargetOnNext(nodes ...Node)

	// CompileRet emits a return from the patched sequence straight back to
	// the Go call site that entered the code arena (there is no shared
	// epilogue trampoline).
	CompileRet() Node
	// CompileNop emits a no-op, used to pad alignment and as a label
	// anchor for SetJumpTargetOnNext.
	CompileNop() Node
	// CompileConstToRegister loads an immediate constant into destination.
	CompileConstToRegister(value int64, destination Register) Node
	// CompileRegisterToRegister emits a register-to-register move.
	CompileRegisterToRegister(from, to Register) Node
	// CompileMemoryToRegister loads from [base+offset] into destination.
	CompileMemoryToRegister(base Register, offset int64, destination Register) Node
	// CompileRegisterToMemory stores source into [base+offset].
	CompileRegisterToMemory(source Register, base Register, offset int64) Node
	// CompileAddConstToRegister adds an immediate constant to a register
	// in place, used by shadow-stack push/pop and stack-adjust generators.
	CompileAddConstToRegister(value int64, register Register) Node
	// CompileJump emits an unconditional direct jump whose target is set
	// via AssignJumpTarget or SetJumpTargetOnNext.
	CompileJump() Node
	// CompileConditionalJump emits a direct conditional jump testing cc, an
	// architecture-specific condition code (see the amd64/arm64 Cond*
	// constants), whose target is set via AssignJumpTarget or
	// SetJumpTargetOnNext the same way as CompileJump.
	CompileConditionalJump(cc uint8) Node
	// CompileJumpToMemory emits an indirect jump through [base+offset],
	// the shape the prologue uses to dispatch through
	// Context.Host.Selector.
	CompileJumpToMemory(base Register, offset int64) Node
	// CompileJumpToRegister emits an indirect jump through a register.
	CompileJumpToRegister(reg Register) Node
	// CompileRawBytes emits b verbatim into the instruction stream, used to
	// relocate a guest instruction that needs no fixup.
	CompileRawBytes(b []byte) Node
}

// NewAssembler constructs a fresh, empty AssemblerBase for one translation.
type NewAssembler func() (AssemblerBase, error)
