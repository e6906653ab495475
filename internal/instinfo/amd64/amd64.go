// Package amd64 is the x86-64 memory access table, keyed on the same
// golang.org/x/arch/x86/x86asm decode internal/asm/decode produces.
package amd64

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/vantir/dbicore/internal/instinfo"
)

// operandSize returns the byte width of inst's effective operand, inferred
// from the first register argument in inst.Args (at whatever position),
// or 8 when no argument is a register of a recognized width.
func operandSize(inst *x86asm.Inst) int {
	for _, arg := range inst.Args {
		if r, ok := arg.(x86asm.Reg); ok {
			switch {
			case r >= x86asm.AL && r <= x86asm.R15B:
				return 1
			case r >= x86asm.AX && r <= x86asm.R15W:
				return 2
			case r >= x86asm.EAX && r <= x86asm.R15L:
				return 4
			case r >= x86asm.RAX && r <= x86asm.R15:
				return 8
			case r >= x86asm.X0 && r <= x86asm.X15:
				return 16
			case r >= x86asm.Y0 && r <= x86asm.Y15:
				return 32
			}
		}
	}
	return 8
}

// isStackOperand reports whether mem addresses through RSP or RBP, the
// two bases treated as stack references.
func isStackOperand(mem x86asm.Mem) bool {
	return mem.Base == x86asm.RSP || mem.Base == x86asm.RBP ||
		mem.Base == x86asm.ESP || mem.Base == x86asm.EBP
}

// explicitWriteOnly lists opcodes whose first (memory-capable) operand, if
// a Mem, is written rather than read: MOV and the string stores STOS/MOVS.
var explicitWriteOnly = map[x86asm.Op]bool{
	x86asm.MOV: true, x86asm.STOS: true, x86asm.MOVS: true,
}

// Lookup classifies one decoded instruction's memory access shape.
// Instructions with no memory operand return the zero Access.
func Lookup(inst *x86asm.Inst) instinfo.Access {
	var acc instinfo.Access
	for i, arg := range inst.Args {
		mem, ok := arg.(x86asm.Mem)
		if !ok {
			continue
		}
		size := operandSize(inst)
		stack := isStackOperand(mem)

		write := i == 0 && explicitWriteOnly[inst.Op]
		if write {
			acc.WriteSize = size
			acc.IsStackWrite = stack
		} else {
			acc.ReadSize = size
			acc.IsStackRead = stack
		}
	}
	switch inst.Op {
	case x86asm.PUSH:
		acc.WriteSize = 8
		acc.IsStackWrite = true
	case x86asm.POP:
		acc.ReadSize = 8
		acc.IsStackRead = true
	case x86asm.CALL:
		acc.WriteSize = 8
		acc.IsStackWrite = true
	case x86asm.RET:
		acc.ReadSize = 8
		acc.IsStackRead = true
	case x86asm.CMPXCHG, x86asm.XADD:
		// Atomic read-modify-write through memory: width tracking would
		// require decoding the lock prefix and operand size together,
		// which this table does not attempt yet.
		acc.UnsupportedRW = true
	}
	return acc
}
