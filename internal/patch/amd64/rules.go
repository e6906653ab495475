// Package amd64 builds the x86-64 PatchRule set: the order-sensitive list
// of rules the translator scans for every decoded instruction (direct
// branches, indirect branches, call/ret, and a final relocate-as-is
// default), expressing each rule as data instead of one type per case.
package amd64

import (
	"golang.org/x/arch/x86/x86asm"

	amd64asm "github.com/vantir/dbicore/internal/asm/amd64"
	"github.com/vantir/dbicore/internal/asm/decode"
	"github.com/vantir/dbicore/internal/patch"
	amd64reg "github.com/vantir/dbicore/internal/register/amd64"
)

// condFor maps a decoded Jcc opcode to the amd64 assembler's Cond*
// constant CompileConditionalJump expects.
func condFor(op x86asm.Op) (uint8, bool) {
	switch op {
	case x86asm.JA:
		return amd64asm.CondA, true
	case x86asm.JAE:
		return amd64asm.CondAE, true
	case x86asm.JB:
		return amd64asm.CondB, true
	case x86asm.JBE:
		return amd64asm.CondBE, true
	case x86asm.JE:
		return amd64asm.CondE, true
	case x86asm.JNE:
		return amd64asm.CondNE, true
	case x86asm.JG:
		return amd64asm.CondG, true
	case x86asm.JGE:
		return amd64asm.CondGE, true
	case x86asm.JL:
		return amd64asm.CondL, true
	case x86asm.JLE:
		return amd64asm.CondLE, true
	case x86asm.JO:
		return amd64asm.CondO, true
	case x86asm.JNO:
		return amd64asm.CondNO, true
	case x86asm.JS:
		return amd64asm.CondS, true
	case x86asm.JNS:
		return amd64asm.CondNS, true
	case x86asm.JP:
		return amd64asm.CondP, true
	case x86asm.JNP:
		return amd64asm.CondNP, true
	}
	return 0, false
}

func isOp(ops ...x86asm.Op) func(decode.Inst) bool {
	set := make(map[x86asm.Op]bool, len(ops))
	for _, o := range ops {
		set[o] = true
	}
	return func(i decode.Inst) bool { return i.Arch == decode.AMD64 && set[i.X86.Op] }
}

// indirectOperand resolves the register/memory operand a JMP or CALL reads
// its runtime target from. Indexed or RIP-relative memory forms fall back
// to ok=false; such targets are rare at the final jump of a computed
// branch (the index arithmetic normally happens in a prior instruction)
// and are a known gap rather than a silent success path, since a
// corrupted target simply crashes the instrumented program exactly as it
// would with no translation at all.
func indirectOperand(inst decode.Inst) (gprIndex int, isMem bool, memOffset int64, ok bool) {
	switch a := inst.X86.Args[0].(type) {
	case x86asm.Reg:
		if idx, found := amd64reg.GPRIndex(a); found {
			return idx, false, 0, true
		}
	case x86asm.Mem:
		if a.Index != 0 {
			break
		}
		if idx, found := amd64reg.GPRIndex(a.Base); found {
			return idx, true, a.Disp, true
		}
	}
	return 0, false, 0, false
}

func indirectGenerator(inst decode.Inst) patch.Generator {
	if idx, isMem, off, ok := indirectOperand(inst); ok {
		return patch.Generator{Kind: patch.IndirectExit, GPRIndex: idx, GPRIsMem: isMem, MemOffset: off}
	}
	return patch.Generator{Kind: patch.DoNotInstrument, Target: inst.Addr}
}

// RuleSet is the x86-64 translation rule table, evaluated top to bottom;
// the last rule always matches and passes the instruction through
// unmodified.
var RuleSet = patch.RuleSet{
	{
		Name: "direct-unconditional-jump",
		When: patch.Leaf(func(i decode.Inst) bool {
			return i.IsUnconditionalBranch() && !i.IsIndirectBranch()
		}),
		ModifyPC: true,
		Build: func(inst decode.Inst) []patch.Generator {
			target, _ := inst.BranchTarget()
			return []patch.Generator{{Kind: patch.RewriteTarget, Target: target}}
		},
	},
	{
		Name: "direct-conditional-jump",
		When: patch.Leaf(func(i decode.Inst) bool {
			return i.IsConditionalBranch() && !i.IsIndirectBranch()
		}),
		ModifyPC: true,
		Build: func(inst decode.Inst) []patch.Generator {
			target, _ := inst.BranchTarget()
			notTaken := inst.Addr + uint64(inst.Len)
			cc, ok := condFor(inst.X86.Op)
			if !ok {
				// JCXZ/JECXZ/JRCXZ test a counter register rather than
				// flags; no Jcc opcode covers them so CompileConditionalJump
				// has nothing to emit. Treat as taken until that gets its
				// own generator kind (see DESIGN.md).
				return []patch.Generator{{Kind: patch.RewriteTarget, Target: target}}
			}
			return []patch.Generator{{Kind: patch.ConditionalExit, Cond: cc, Target: target, NotTaken: notTaken}}
		},
	},
	{
		Name: "indirect-jump",
		When: patch.Leaf(func(i decode.Inst) bool {
			return i.X86 != nil && i.X86.Op == x86asm.JMP && i.IsIndirectBranch()
		}),
		ModifyPC: true,
		Build: func(inst decode.Inst) []patch.Generator {
			return []patch.Generator{indirectGenerator(inst)}
		},
	},
	{
		Name:     "call",
		When:     isOp(x86asm.CALL),
		ModifyPC: true,
		Build: func(inst decode.Inst) []patch.Generator {
			if target, ok := inst.BranchTarget(); ok {
				return []patch.Generator{{Kind: patch.SimulateCall, TempID: 0, Target: target}}
			}
			idx, isMem, off, ok := indirectOperand(inst)
			if !ok {
				return []patch.Generator{{Kind: patch.DoNotInstrument, Target: inst.Addr}}
			}
			return []patch.Generator{{
				Kind: patch.SimulateCall, TempID: 0,
				Indirect: true, GPRIndex: idx, GPRIsMem: isMem, MemOffset: off,
			}}
		},
	},
	{
		Name:     "ret",
		When:     isOp(x86asm.RET, x86asm.RETF),
		ModifyPC: true,
		Build: func(decode.Inst) []patch.Generator {
			return []patch.Generator{{Kind: patch.SimulateRet}}
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
