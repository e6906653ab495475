// Package decode is the guest-decoding half of instruction handling: turning raw
// bytes fetched from the address space being instrumented into a
// structured instruction the register, instinfo and patch packages can
// inspect. DBI engines instrument code running on the same architecture as
// the host, so decode and the asm package's encoder always agree on arch.
package decode

import (
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// Arch identifies the instruction set being decoded.
type Arch int

const (
	AMD64 Arch = iota
	ARM64
)

// Inst is one decoded guest instruction. Exactly one of X86/ARM is set,
// matching Arch. Keeping the concrete decode result (rather than a
// normalized cross-arch operand model) lets the per-arch register and
// patch packages use the disassembler's own operand types directly.
type Inst struct {
	Arch Arch
	Addr uint64
	Len  int
	Raw  []byte
	X86  *x86asm.Inst
	ARM  *arm64asm.Inst
}

// Decode decodes the instruction at the start of code, which must begin at
// guest address addr.
func Decode(code []byte, addr uint64, arch Arch) (Inst, error) {
	switch arch {
	case AMD64:
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			return Inst{}, fmt.Errorf("decode: x86-64 @ 0x%x: %w", addr, err)
		}
		return Inst{Arch: AMD64, Addr: addr, Len: inst.Len, Raw: append([]byte(nil), code[:inst.Len]...), X86: &inst}, nil
	case ARM64:
		inst, err := arm64asm.Decode(code)
		if err != nil {
			return Inst{}, fmt.Errorf("decode: arm64 @ 0x%x: %w", addr, err)
		}
		return Inst{Arch: ARM64, Addr: addr, Len: 4, Raw: append([]byte(nil), code[:4]...), ARM: &inst}, nil
	default:
		return Inst{}, fmt.Errorf("decode: unknown arch %d", arch)
	}
}

// String renders the instruction in GNU/AT&T syntax for disassembly dumps.
func (i Inst) String() string {
	switch i.Arch {
	case AMD64:
		return x86asm.GNUSyntax(*i.X86, i.Addr, nil)
	case ARM64:
		return arm64asm.GNUSyntax(*i.ARM)
	default:
		return "<invalid>"
	}
}

// IsReturn reports whether the instruction is a function return, the
// control-flow shape ExecBroker's transfer detection watches for.
func (i Inst) IsReturn() bool {
	switch i.Arch {
	case AMD64:
		return i.X86.Op == x86asm.RET || i.X86.Op == x86asm.RETF
	case ARM64:
		return i.ARM.Op == arm64asm.RET
	}
	return false
}

// IsCall reports whether the instruction transfers control with an
// implicit return-address push (x86 CALL, AArch64 BL/BLR).
func (i Inst) IsCall() bool {
	switch i.Arch {
	case AMD64:
		return i.X86.Op == x86asm.CALL
	case ARM64:
		return i.ARM.Op == arm64asm.BL || i.ARM.Op == arm64asm.BLR
	}
	return false
}

// IsUnconditionalBranch reports whether the instruction always transfers
// control away from the following instruction (x86 JMP, AArch64 B/BR).
func (i Inst) IsUnconditionalBranch() bool {
	switch i.Arch {
	case AMD64:
		return i.X86.Op == x86asm.JMP
	case ARM64:
		// B.cond decodes as Op==B too; only a B whose first argument is not
		// an arm64asm.Cond is unconditional.
		if i.ARM.Op == arm64asm.B && len(i.ARM.Args) > 0 {
			if _, isCond := i.ARM.Args[0].(arm64asm.Cond); isCond {
				return false
			}
		}
		return i.ARM.Op == arm64asm.B || i.ARM.Op == arm64asm.BR
	}
	return false
}

// IsConditionalBranch reports whether the instruction may or may not
// transfer control depending on flags (x86 Jcc, AArch64 B.cond/CBZ/CBNZ).
func (i Inst) IsConditionalBranch() bool {
	switch i.Arch {
	case AMD64:
		switch i.X86.Op {
		case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JNE,
			x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JO, x86asm.JNO,
			x86asm.JS, x86asm.JNS, x86asm.JP, x86asm.JNP, x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
			return true
		}
	case ARM64:
		switch i.ARM.Op {
		case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
			return true
		case arm64asm.B:
			// B.cond decodes as Op==B with its first argument an
			// arm64asm.Cond carrying the condition field; plain
			// unconditional B has a PCRel in that position instead.
			if len(i.ARM.Args) > 0 {
				_, isCond := i.ARM.Args[0].(arm64asm.Cond)
				return isCond
			}
		}
	}
	return false
}

// BranchCond returns the AArch64 condition field of a B.cond instruction,
// matching the Cond* constants internal/asm/arm64 defines for
// CompileConditionalJump. ok is false for any other instruction.
func (i Inst) BranchCond() (cc uint8, ok bool) {
	if i.Arch != ARM64 || i.ARM.Op != arm64asm.B || len(i.ARM.Args) == 0 {
		return 0, false
	}
	cond, isCond := i.ARM.Args[0].(arm64asm.Cond)
	if !isCond {
		return 0, false
	}
	return cond.Value, true
}

// IsIndirectBranch reports whether the branch target is a register or
// memory operand rather than a PC-relative immediate.
func (i Inst) IsIndirectBranch() bool {
	if i.Arch == AMD64 && (i.X86.Op == x86asm.JMP || i.X86.Op == x86asm.CALL) {
		_, isRel := i.X86.Args[0].(x86asm.Rel)
		return !isRel
	}
	if i.Arch == ARM64 && (i.ARM.Op == arm64asm.BR || i.ARM.Op == arm64asm.BLR) {
		return true
	}
	return false
}

// BranchTarget returns the absolute guest address a direct (PC-relative)
// branch targets, and ok=false for indirect branches or non-branches.
func (i Inst) BranchTarget() (target uint64, ok bool) {
	if i.Arch == AMD64 {
		switch i.X86.Op {
		case x86asm.JMP, x86asm.CALL, x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE,
			x86asm.JE, x86asm.JNE, x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE,
			x86asm.JO, x86asm.JNO, x86asm.JS, x86asm.JNS, x86asm.JP, x86asm.JNP:
			if rel, isRel := i.X86.Args[0].(x86asm.Rel); isRel {
				return uint64(int64(i.Addr) + int64(i.Len) + int64(rel)), true
			}
		}
	}
	if i.Arch == ARM64 {
		switch i.ARM.Op {
		case arm64asm.B, arm64asm.BL:
			// Plain B/BL carry the PCRel as Args[0]; B.cond carries the
			// condition there instead and the PCRel as Args[1].
			for _, arg := range i.ARM.Args {
				if rel, isRel := arg.(arm64asm.PCRel); isRel {
					return uint64(int64(i.Addr) + int64(rel)), true
				}
			}
		}
	}
	return 0, false
}
