package execblock

import (
	"fmt"

	"github.com/vantir/dbicore/internal/asm"
)

// ContextReg is the GPR index reserved, for the lifetime of a VM, to hold
// the running Context's address. Instrumented code executes with real
// host registers standing in for guest registers, running on the real CPU
// and touching Context only at instrumentation points; ContextReg is the
// one register translated code never allocates for guest state, so
// SaveReg/LoadReg generators and the prologue/epilogue can always address
// Context through it.
type ContextReg = int

// BuildPrologueEpilogue assembles the entry trampoline written once per
// ExecBlock at code-arena offset 0: it loads ctxReg with the block's own
// Context address (ctxAddr, the data arena's base, fixed for the block's
// lifetime), restores every guest GPR except ctxReg's own slot from
// Context.GPR.Regs into its host register, and dispatches through
// Host.Selector, the field SelectSeq writes before every Execute() call.
// This is the only restore point: every Execute() call re-enters through
// this one trampoline regardless of which sequence Selector names, so
// guest registers only need loading once per call rather than once per
// sequence. gprCount is the architecture's GPR table size (register.Table.Size);
// toHost maps a GPR index to its host register.
func BuildPrologueEpilogue(newAsm asm.NewAssembler, ctxReg asm.Register, ctxAddr uintptr, selectorOffset int64, gprCount int, toHost func(int) asm.Register) ([]byte, error) {
	a, err := newAsm()
	if err != nil {
		return nil, fmt.Errorf("execblock: new assembler: %w", err)
	}

	a.CompileConstToRegister(int64(ctxAddr), ctxReg)

	ctxGPRIndex := int(ctxReg) - 1
	for i := 0; i < gprCount; i++ {
		if i == ctxGPRIndex {
			continue
		}
		a.CompileMemoryToRegister(ctxReg, int64(GPROffset(i)), toHost(i))
	}

	a.CompileJumpToMemory(ctxReg, selectorOffset)

	code, err := a.Assemble()
	if err != nil {
		return nil, fmt.Errorf("execblock: assemble prologue: %w", err)
	}
	return code, nil
}
