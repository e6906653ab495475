// Package arm64 supplies the AArch64 GPR table and used-register
// classification, grounded on golang.org/x/arch/arm64/arm64asm.
package arm64

import (
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/vantir/dbicore/internal/register"
)

// GPR index order matches execblock's Context.GPR.Regs layout; X30 (the
// link register) and X29 (frame pointer) are ordinary GPRs here rather
// than special-cased.
const NumGPR = 31

// Table is the canonical AArch64 GPR table (X0-X30).
var Table = func() register.Table {
	names := make([]string, NumGPR)
	for i := range names {
		names[i] = "x" + itoa(i)
	}
	return register.Table{Names: names}
}()

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [4]byte
	n := len(buf)
	for i > 0 {
		n--
		buf[n] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[n:])
}

// GPRIndex reports whether r is X0-X30 (or its W-register alias) and, if
// so, its GPR index.
func GPRIndex(r arm64asm.Reg) (int, bool) {
	if r >= arm64asm.X0 && r <= arm64asm.X30 {
		return int(r - arm64asm.X0), true
	}
	if r >= arm64asm.W0 && r <= arm64asm.W30 {
		return int(r - arm64asm.W0), true
	}
	return 0, false
}

// destOnly lists the common opcodes whose first argument is pure write.
var destOnly = map[arm64asm.Op]bool{
	arm64asm.MOV: true, arm64asm.MOVZ: true, arm64asm.MOVN: true,
	arm64asm.MOVK: true, arm64asm.LDR: true, arm64asm.LDRB: true,
	arm64asm.LDRH: true, arm64asm.LDP: true, arm64asm.ADR: true, arm64asm.ADRP: true,
}

// readOnly0 lists opcodes whose first argument is read, not written.
var readOnly0 = map[arm64asm.Op]bool{
	arm64asm.STR: true, arm64asm.STRB: true, arm64asm.STRH: true,
	arm64asm.STP: true, arm64asm.CMP: true, arm64asm.CBZ: true, arm64asm.CBNZ: true,
}

// UsedGPR classifies inst's register operands conservatively, the same
// widen-towards-Both policy internal/register documents.
func UsedGPR(inst *arm64asm.Inst) register.UsedGPR {
	var u register.UsedGPR
	for i, arg := range inst.Args {
		if arg == nil {
			continue
		}
		reg, ok := arg.(arm64asm.Reg)
		if !ok {
			if mo, ok := arg.(arm64asm.MemImmediate); ok {
				if idx, ok := GPRIndex(mo.Base); ok {
					u.Set(idx, register.Read)
				}
				continue
			}
			continue
		}
		idx, ok := GPRIndex(reg)
		if !ok {
			continue
		}
		switch {
		case i != 0:
			u.Set(idx, register.Read)
		case readOnly0[inst.Op]:
			u.Set(idx, register.Read)
		case destOnly[inst.Op]:
			u.Set(idx, register.Written)
		default:
			u.Set(idx, register.Both)
		}
	}
	fixLLVMUsedGPR(inst, &u)
	return u
}

// fixLLVMUsedGPR propagates the implicit link-register write every BL/BLR
// performs, which arm64asm surfaces as a branch target operand rather than
// a destination register.
func fixLLVMUsedGPR(inst *arm64asm.Inst, u *register.UsedGPR) {
	switch inst.Op {
	case arm64asm.BL, arm64asm.BLR:
		u.Set(30, register.Written) // X30, the link register
	}
}
