// Package translate is the translation pipeline: the loop that walks a
// guest basic block instruction by instruction, selects a PatchRule for
// each one, asks its generators to emit host code, and hands the
// assembled sequence to the code cache. dbicore.go exposes this operation
// on the public Engine as Translate.
package translate

import (
	"fmt"

	"github.com/vantir/dbicore/internal/asm"
	"github.com/vantir/dbicore/internal/asm/decode"
	"github.com/vantir/dbicore/internal/dbilog"
	"github.com/vantir/dbicore/internal/execblock"
	"github.com/vantir/dbicore/internal/execblockmanager"
	"github.com/vantir/dbicore/internal/instinfo"
	"github.com/vantir/dbicore/internal/patch"
	"github.com/vantir/dbicore/internal/register"
)

// Memory is how the translator reads guest code bytes; callers supply the
// process's own address space (or a test double over a byte slice).
type Memory interface {
	ReadCode(addr uint64, maxLen int) ([]byte, error)
}

// Arch bundles everything the translator needs that varies by target
// architecture: the decoder, the host encoder constructor, the register
// table, the used-GPR classifier, the PatchRule set, and the Context
// field offsets generators address.
type Arch struct {
	Kind          decode.Arch
	NewAssembler  asm.NewAssembler
	Table         *register.Table
	UsedGPR       func(decode.Inst) register.UsedGPR
	Rules         patch.RuleSet
	ToHostReg     patch.HostReg
	ContextReg    asm.Register
	MaxInstrLen   int
	ContextFields patch.ContextFields
	// MemAccess classifies a decoded instruction's memory access shape,
	// cached into InstMetadata so a memory-access callback can consult it
	// without re-decoding. nil is treated as "no memory operands ever".
	MemAccess func(decode.Inst) instinfo.Access
	// SPIndex is the GPR index holding the guest stack pointer, or -1 if
	// this architecture's GPR table does not track one (AArch64's Context
	// here holds X0-X30 only; see LRIndex). ExecBroker's native transfer
	// scans guest stack words starting here.
	SPIndex int
	// LRIndex is the GPR index holding the link register, or -1 on
	// architectures where the return address lives on the stack instead
	// (amd64). ExecBroker's native transfer checks LR before scanning the
	// stack, since a leaf-call return address may never reach memory.
	LRIndex int
}

// Translator owns one architecture's translation pipeline and the code
// cache it writes into.
type Translator struct {
	log     dbilog.Logger
	arch    Arch
	mem     Memory
	manager *execblockmanager.Manager

	maxBlockInstructions int
}

// New constructs a Translator.
func New(log dbilog.Logger, arch Arch, mem Memory, manager *execblockmanager.Manager, maxBlockInstructions int) *Translator {
	if log == nil {
		log = dbilog.Noop
	}
	if maxBlockInstructions <= 0 {
		maxBlockInstructions = 64
	}
	return &Translator{log: log, arch: arch, mem: mem, manager: manager, maxBlockInstructions: maxBlockInstructions}
}

// Translate produces (or reuses, if already cached) a translation for the
// basic block starting at addr and returns the ExecBlock and SeqID
// positioned to run it.
func (t *Translator) Translate(addr uint64) (*execblock.ExecBlock, execblock.SeqID, error) {
	if block, id, ok := t.manager.GetProgrammedExecBlock(addr); ok {
		return block, id, nil
	}

	a, err := t.arch.NewAssembler()
	if err != nil {
		return nil, 0, fmt.Errorf("translate: new assembler: %w", err)
	}

	var instMeta []execblock.InstMetadata
	var anchors []asm.Node
	cur := addr
	terminated := false
	var lastTM *patch.TempManager
	for i := 0; i < t.maxBlockInstructions; i++ {
		code, err := t.mem.ReadCode(cur, t.arch.MaxInstrLen)
		if err != nil {
			return nil, 0, fmt.Errorf("translate: read guest code @ 0x%x: %w", cur, err)
		}
		inst, err := decode.Decode(code, cur, t.arch.Kind)
		if err != nil {
			return nil, 0, fmt.Errorf("translate: %w", err)
		}

		rule, ok := t.arch.Rules.Select(inst)
		if !ok {
			return nil, 0, fmt.Errorf("translate: no matching patch rule for instruction @ 0x%x", cur)
		}

		used := t.arch.UsedGPR(inst)
		// The context register holds Context's address, not guest state,
		// so it is never handed out as a scratch temp.
		used.Set(t.arch.ContextFields.CtxGPRIndex, register.Both)
		tm := patch.NewTempManager(t.arch.Table, used)
		lastTM = tm

		// anchor marks where this instruction's host code begins, read back
		// as its HostOffset once the sequence is assembled.
		anchors = append(anchors, a.CompileNop())
		if err := patch.Generate(rule, inst, a, tm, t.arch.ToHostReg, t.arch.ContextReg, t.arch.ContextFields); err != nil {
			return nil, 0, fmt.Errorf("translate: %w", err)
		}

		var access instinfo.Access
		if t.arch.MemAccess != nil {
			access = t.arch.MemAccess(inst)
		}
		instMeta = append(instMeta, execblock.InstMetadata{
			GuestAddr: cur,
			GuestLen:  inst.Len,
			MemAccess: access,
		})

		cur += uint64(inst.Len)
		if rule.ModifyPC {
			terminated = true
			break
		}
	}

	if !terminated {
		// The block hit maxBlockInstructions without reaching a
		// control-flow instruction of its own; exit to the next guest
		// address so the host driver loop continues the translation from
		// there, the forced split a sequence-length cap triggers.
		if lastTM == nil {
			lastTM = patch.NewTempManager(t.arch.Table, t.arch.UsedGPR(decode.Inst{Arch: t.arch.Kind}))
		}
		patch.ExitTo(a, lastTM, t.arch.ToHostReg, t.arch.ContextReg, t.arch.ContextFields, cur)
	}

	machineCode, err := a.Assemble()
	if err != nil {
		return nil, 0, fmt.Errorf("translate: assemble: %w", err)
	}
	for i, anchor := range anchors {
		instMeta[i].HostOffset = int(anchor.OffsetInBinary())
	}

	id, block, err := t.manager.WriteBasicBlock(machineCode, addr, cur, instMeta)
	if err != nil {
		return nil, 0, err
	}
	return block, id, nil
}
