// Package arm64 is the AArch64 memory access table, keyed on
// golang.org/x/arch/arm64/arm64asm decode results.
package arm64

import (
	"golang.org/x/arch/arm64/arm64asm"

	"github.com/vantir/dbicore/internal/instinfo"
)

var loadSize = map[arm64asm.Op]int{
	arm64asm.LDRB: 1, arm64asm.LDRH: 2, arm64asm.LDR: 8, arm64asm.LDRSW: 4,
	arm64asm.LDP: 16, arm64asm.LDPSW: 8,
}

var storeSize = map[arm64asm.Op]int{
	arm64asm.STRB: 1, arm64asm.STRH: 2, arm64asm.STR: 8, arm64asm.STP: 16,
}

// Lookup classifies one decoded AArch64 instruction's memory access shape.
func Lookup(inst *arm64asm.Inst) instinfo.Access {
	var acc instinfo.Access

	if size, ok := loadSize[inst.Op]; ok {
		acc.ReadSize = size
		acc.IsStackRead = isSPBased(inst)
	}
	if size, ok := storeSize[inst.Op]; ok {
		acc.WriteSize = size
		acc.IsStackWrite = isSPBased(inst)
	}
	return acc
}

func isSPBased(inst *arm64asm.Inst) bool {
	for _, arg := range inst.Args {
		if mo, ok := arg.(arm64asm.MemImmediate); ok {
			return mo.Base == arm64asm.SP
		}
	}
	return false
}
