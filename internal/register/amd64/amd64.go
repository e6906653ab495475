// Package amd64 supplies the x86-64 GPR table and used-register
// classification, grounded on golang.org/x/arch/x86/x86asm's decoded
// operand set (the same decoder internal/asm/decode wraps for translation).
package amd64

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/vantir/dbicore/internal/register"
)

// GPR index order matches execblock's Context.GPR.Regs layout.
const (
	RAX = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	NumGPR
)

// Table is the canonical x86-64 GPR table.
var Table = register.Table{
	Names: []string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"},
}

// family maps every x86asm sub-register width onto its GPR index. Segment,
// x87, MMX, XMM/YMM and control/debug registers are not integer GPRs and
// are absent: UsedGPR only tracks what PatchRule generators can spill.
var family = map[x86asm.Reg]int{
	x86asm.AL: RAX, x86asm.AH: RAX, x86asm.AX: RAX, x86asm.EAX: RAX, x86asm.RAX: RAX,
	x86asm.CL: RCX, x86asm.CH: RCX, x86asm.CX: RCX, x86asm.ECX: RCX, x86asm.RCX: RCX,
	x86asm.DL: RDX, x86asm.DH: RDX, x86asm.DX: RDX, x86asm.EDX: RDX, x86asm.RDX: RDX,
	x86asm.BL: RBX, x86asm.BH: RBX, x86asm.BX: RBX, x86asm.EBX: RBX, x86asm.RBX: RBX,
	x86asm.SPB: RSP, x86asm.SP: RSP, x86asm.ESP: RSP, x86asm.RSP: RSP,
	x86asm.BPB: RBP, x86asm.BP: RBP, x86asm.EBP: RBP, x86asm.RBP: RBP,
	x86asm.SIB: RSI, x86asm.SI: RSI, x86asm.ESI: RSI, x86asm.RSI: RSI,
	x86asm.DIB: RDI, x86asm.DI: RDI, x86asm.EDI: RDI, x86asm.RDI: RDI,
	x86asm.R8B: R8, x86asm.R8W: R8, x86asm.R8L: R8, x86asm.R8: R8,
	x86asm.R9B: R9, x86asm.R9W: R9, x86asm.R9L: R9, x86asm.R9: R9,
	x86asm.R10B: R10, x86asm.R10W: R10, x86asm.R10L: R10, x86asm.R10: R10,
	x86asm.R11B: R11, x86asm.R11W: R11, x86asm.R11L: R11, x86asm.R11: R11,
	x86asm.R12B: R12, x86asm.R12W: R12, x86asm.R12L: R12, x86asm.R12: R12,
	x86asm.R13B: R13, x86asm.R13W: R13, x86asm.R13L: R13, x86asm.R13: R13,
	x86asm.R14B: R14, x86asm.R14W: R14, x86asm.R14L: R14, x86asm.R14: R14,
	x86asm.R15B: R15, x86asm.R15W: R15, x86asm.R15L: R15, x86asm.R15: R15,
}

// GPRIndex reports whether r names an integer GPR and, if so, its index.
func GPRIndex(r x86asm.Reg) (int, bool) {
	i, ok := family[r]
	return i, ok
}

// readOnlyOperand0 lists opcodes whose first Intel-order argument is read,
// not written, despite occupying the conventional destination slot (CMP,
// TEST and the Jcc/CALL/PUSH family that only ever read their operand).
var readOnlyOperand0 = map[x86asm.Op]bool{
	x86asm.CMP: true, x86asm.TEST: true, x86asm.PUSH: true,
	x86asm.CALL: true, x86asm.JMP: true,
}

// twoOperandRMW lists opcodes whose first argument is both read and
// written (ADD dst,src reads dst, adds src, writes dst back).
var twoOperandRMW = map[x86asm.Op]bool{
	x86asm.ADD: true, x86asm.SUB: true, x86asm.AND: true, x86asm.OR: true,
	x86asm.XOR: true, x86asm.ADC: true, x86asm.SBB: true, x86asm.INC: true,
	x86asm.DEC: true, x86asm.SHL: true, x86asm.SHR: true, x86asm.SAR: true,
	x86asm.NOT: true, x86asm.NEG: true, x86asm.XCHG: true,
}

// destOnly lists opcodes whose first argument is pure write (MOV, LEA,
// POP, MOVZX/MOVSX family): the old value of the destination is irrelevant.
var destOnly = map[x86asm.Op]bool{
	x86asm.MOV: true, x86asm.LEA: true, x86asm.POP: true,
	x86asm.MOVZX: true, x86asm.MOVSX: true, x86asm.MOVSXD: true,
}

// UsedGPR classifies inst's register operands conservatively: any opcode
// not covered by the tables above marks every GPR operand Both, the safe
// default the register package documents.
func UsedGPR(inst *x86asm.Inst) register.UsedGPR {
	var u register.UsedGPR
	classify := func(argIdx int, reg x86asm.Reg) {
		idx, ok := GPRIndex(reg)
		if !ok {
			return
		}
		known := readOnlyOperand0[inst.Op] || destOnly[inst.Op] || twoOperandRMW[inst.Op]
		switch {
		case !known:
			u.Set(idx, register.Both)
		case argIdx != 0:
			u.Set(idx, register.Read)
		case readOnlyOperand0[inst.Op]:
			u.Set(idx, register.Read)
		case destOnly[inst.Op]:
			u.Set(idx, register.Written)
		case twoOperandRMW[inst.Op]:
			u.Set(idx, register.Both)
		default:
			u.Set(idx, register.Both)
		}
	}

	for i, arg := range inst.Args {
		if arg == nil {
			continue
		}
		switch a := arg.(type) {
		case x86asm.Reg:
			classify(i, a)
		case x86asm.Mem:
			if a.Base != 0 {
				u.Set(mustIndex(a.Base), register.Read)
			}
			if a.Index != 0 {
				u.Set(mustIndex(a.Index), register.Read)
			}
		}
	}
	fixLLVMUsedGPR(inst, &u)
	return u
}

func mustIndex(r x86asm.Reg) int {
	if i, ok := GPRIndex(r); ok {
		return i
	}
	return -1
}

// fixLLVMUsedGPR applies the corrections the decoded operand list alone
// cannot express: REP-prefixed string instructions implicitly read and
// write RSI/RDI/RCX even though x86asm does not surface them as Args.
func fixLLVMUsedGPR(inst *x86asm.Inst, u *register.UsedGPR) {
	switch inst.Op {
	case x86asm.MOVS, x86asm.CMPS, x86asm.SCAS, x86asm.LODS, x86asm.STOS:
		u.Set(RSI, register.Both)
		u.Set(RDI, register.Both)
		if inst.Prefix.Contains(x86asm.PrefixREP) || inst.Prefix.Contains(x86asm.PrefixREPN) {
			u.Set(RCX, register.Both)
		}
	}
}
