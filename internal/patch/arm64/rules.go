// Package arm64 builds the AArch64 PatchRule set. Smaller than the x86-64
// table: AArch64 has no flags-setting prefix byte stream to preserve and
// no legacy call-gate forms, so direct/indirect branch handling and the
// BL/RET pair cover the bulk of control flow.
package arm64

import (
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/vantir/dbicore/internal/asm/decode"
	"github.com/vantir/dbicore/internal/patch"
	arm64reg "github.com/vantir/dbicore/internal/register/arm64"
)

// branchTargetReg returns the GPR index BR/BLR reads its target from.
// AArch64 has no memory-operand branch form, unlike x86, so this is always
// a plain register.
func branchTargetReg(inst decode.Inst) (int, bool) {
	if len(inst.ARM.Args) == 0 {
		return 0, false
	}
	reg, ok := inst.ARM.Args[0].(arm64asm.Reg)
	if !ok {
		return 0, false
	}
	return arm64reg.GPRIndex(reg)
}

// RuleSet is the AArch64 translation rule table.
var RuleSet = patch.RuleSet{
	{
		Name: "direct-branch",
		When: patch.Leaf(func(i decode.Inst) bool {
			return i.Arch == decode.ARM64 && i.ARM.Op == arm64asm.B && !i.IsIndirectBranch()
		}),
		ModifyPC: true,
		Build: func(inst decode.Inst) []patch.Generator {
			target, _ := inst.BranchTarget()
			if cc, ok := inst.BranchCond(); ok {
				// BranchCond's value is the raw AArch64 condition field,
				// the same numbering internal/asm/arm64's Cond* constants
				// use, so it passes straight through to Generator.Cond.
				notTaken := inst.Addr + uint64(inst.Len)
				return []patch.Generator{{Kind: patch.ConditionalExit, Cond: cc, Target: target, NotTaken: notTaken}}
			}
			return []patch.Generator{{Kind: patch.RewriteTarget, Target: target}}
		},
	},
	{
		// CBZ/CBNZ/TBZ/TBNZ test a register against zero (or one of its
		// bits) rather than the condition flags B.cond reads, so they need
		// a compare-then-branch shape ConditionalExit doesn't model. Until
		// that lands (see DESIGN.md) they are treated as always taken,
		// same as the pre-split-fix behavior for every conditional branch.
		// IsConditionalBranch also reports true for B.cond, but the
		// direct-branch rule above already matches every B opcode (cond or
		// not) and is ordered first, so this rule only ever actually sees
		// CBZ/CBNZ/TBZ/TBNZ in practice; the Op != B guard keeps its own
		// predicate honest about that regardless of ordering.
		Name:     "compare-and-branch",
		When:     patch.Leaf(func(i decode.Inst) bool { return i.Arch == decode.ARM64 && i.IsConditionalBranch() && i.ARM.Op != arm64asm.B }),
		ModifyPC: true,
		Build: func(inst decode.Inst) []patch.Generator {
			target, _ := inst.BranchTarget()
			return []patch.Generator{{Kind: patch.RewriteTarget, Target: target}}
		},
	},
	{
		Name:     "indirect-branch",
		When:     patch.Leaf(func(i decode.Inst) bool { return i.IsUnconditionalBranch() && i.IsIndirectBranch() }),
		ModifyPC: true,
		Build: func(inst decode.Inst) []patch.Generator {
			if idx, ok := branchTargetReg(inst); ok {
				return []patch.Generator{{Kind: patch.IndirectExit, GPRIndex: idx}}
			}
			return []patch.Generator{{Kind: patch.DoNotInstrument, Target: inst.Addr}}
		},
	},
	{
		Name:     "bl",
		When:     patch.Leaf(func(i decode.Inst) bool { return i.Arch == decode.ARM64 && i.ARM.Op == arm64asm.BL }),
		ModifyPC: true,
		Build: func(inst decode.Inst) []patch.Generator {
			target, _ := inst.BranchTarget()
			return []patch.Generator{{Kind: patch.SimulateCall, TempID: 0, Target: target}}
		},
	},
	{
		Name:     "blr",
		When:     patch.Leaf(func(i decode.Inst) bool { return i.Arch == decode.ARM64 && i.ARM.Op == arm64asm.BLR }),
		ModifyPC: true,
		Build: func(inst decode.Inst) []patch.Generator {
			idx, ok := branchTargetReg(inst)
			if !ok {
				return []patch.Generator{{Kind: patch.DoNotInstrument, Target: inst.Addr}}
			}
			return []patch.Generator{{Kind: patch.SimulateCall, TempID: 0, Indirect: true, GPRIndex: idx}}
		},
	},
	{
		Name:     "ret",
		When:     patch.Leaf(func(i decode.Inst) bool { return i.Arch == decode.ARM64 && i.ARM.Op == arm64asm.RET }),
		ModifyPC: true,
		Build: func(decode.Inst) []patch.Generator {
			return []patch.Generator{{Kind: patch.SimulateRet}}
		},
	},
	{
		// A32/T32 IT-block semantics never apply under pure A64 decode:
		// arm64asm only ever produces A64. This rule guards Armv8.8's
		// MOPS memory-copy/set instructions instead (see isMOPS).
		Name:     "mops-unsupported",
		When:     patch.Leaf(func(i decode.Inst) bool { return i.Arch == decode.ARM64 && isMOPS(i.ARM.Op) }),
		ModifyPC: true,
		Build: func(inst decode.Inst) []patch.Generator {
			return []patch.Generator{{Kind: patch.DoNotInstrument, Target: inst.Addr}}
		},
	},
	{
		Name: "default-relocate",
		When: patch.Leaf(func(decode.Inst) bool { return true }),
		Build: func(decode.Inst) []patch.Generator {
			return []patch.Generator{{Kind: patch.Passthrough}}
		},
	},
}

// isMOPS reports whether op is one of the Armv8.8 memory-copy/set
// instructions (CPYxx/SETxx). golang.org/x/arch/arm64/arm64asm predates
// Armv8.8 and has no mnemonics for them, so this always returns false
// today; the rule exists so adding MOPS support later only means adding
// entries here, not touching the rule table shape. Refusing to instrument
// MOPS sequences and exiting the VM instead is the behavior this rule gives
// deliberately rather than by accident once decode support lands.
func isMOPS(arm64asm.Op) bool { return false }
