package patch

import (
	"fmt"

	"github.com/vantir/dbicore/internal/asm"
	"github.com/vantir/dbicore/internal/asm/decode"
)

// HostReg converts a GPR index into the architecture's asm.Register value.
type HostReg func(gprIndex int) asm.Register

// ContextFields supplies the Context byte offsets generators address
// through ctxReg: the guest GPR save area and Host.Selector, kept as plain
// fields here so this package does not import execblock (which itself
// will import patch's output, WriteSequence's []byte).
type ContextFields struct {
	GPROffset      func(gprIndex int) int64
	SelectorOffset int64
	// NextPCOffset is the byte offset of Host.NextGuestPC: control-flow
	// generators write the guest address execution should resume at here
	// before returning to the host driver loop via CompileRet.
	NextPCOffset int64
	// GPRCount is the architecture's GPR table size. Every generator that
	// ends a translated sequence flushes all GPRCount guest registers
	// (except CtxGPRIndex, which holds Context's own address, not guest
	// state) back into Context.GPR.Regs before returning, since ordinary
	// instructions run directly on host registers via Passthrough and never
	// touch Context themselves.
	GPRCount int
	// CtxGPRIndex is ctxReg's own GPR index, skipped by the bulk
	// save/restore the prologue and every sequence exit perform.
	CtxGPRIndex int
}

// Generate appends rule's generators, translating inst, onto a. tm
// supplies scratch registers; toHost maps a TempManager GPR index to the
// architecture's host register; ctxReg is the register holding Context's
// address; fields gives the byte offsets within Context generators write
// through.
//
// A generator that needs a scratch register (GetPCOffset, SimulateCall,
// IndirectExit, exitTo) gets one from tm, which hands out whichever GPR the
// instruction itself does not touch. That GPR still belongs to some other
// unrelated guest value sitting in the host register between instructions,
// so Generate spills it to Context before the rule's generators run and
// reloads it after, once per GPR tm ultimately hands out this call.
func Generate(rule PatchRule, inst decode.Inst, a asm.AssemblerBase, tm *TempManager, toHost HostReg, ctxReg asm.Register, fields ContextFields) error {
	gens := rule.Build(inst)

	// Pre-allocate every scratch temp this generator list will need before
	// emitting anything, so UsedRegisters reflects the full set up front
	// rather than growing as emitOne lazily calls GetTemp.
	seen := map[int]bool{}
	for _, g := range gens {
		for _, id := range tempIDsFor(g) {
			if !seen[id] {
				seen[id] = true
				tm.GetTemp(id)
			}
		}
	}

	for _, gpr := range tm.UsedRegisters() {
		if err := emitOne(Generator{Kind: SaveReg, GPRIndex: gpr}, inst, a, tm, toHost, ctxReg, fields); err != nil {
			return fmt.Errorf("patch: rule %q: spill scratch register: %w", rule.Name, err)
		}
	}

	for _, g := range gens {
		if err := emitOne(g, inst, a, tm, toHost, ctxReg, fields); err != nil {
			return fmt.Errorf("patch: rule %q: %w", rule.Name, err)
		}
	}

	for _, gpr := range tm.UsedRegisters() {
		if err := emitOne(Generator{Kind: LoadReg, GPRIndex: gpr}, inst, a, tm, toHost, ctxReg, fields); err != nil {
			return fmt.Errorf("patch: rule %q: fill scratch register: %w", rule.Name, err)
		}
	}
	return nil
}

// tempIDsFor returns the TempManager ids g's emitOne case allocates, so
// Generate can pre-allocate them before the spill wrapper runs. Negative
// ids are emitOne's own internal scratch slots (exitTo's -1, IndirectExit's
// -2, SimulateCall's indirect-target -3); TempID(0) is the call/ret
// return-address slot every architecture's rule set agrees on.
func tempIDsFor(g Generator) []int {
	switch g.Kind {
	case RewriteTarget, DoNotInstrument, ConditionalExit:
		return []int{-1}
	case GetPCOffset, WriteTemp:
		return []int{g.TempID}
	case SimulateCall:
		if g.Indirect {
			return []int{0, -3}
		}
		return []int{0, -1}
	case SimulateRet:
		return []int{0}
	case IndirectExit:
		return []int{-2}
	default:
		return nil
	}
}

func emitOne(g Generator, inst decode.Inst, a asm.AssemblerBase, tm *TempManager, toHost HostReg, ctxReg asm.Register, fields ContextFields) error {
	switch g.Kind {
	case Passthrough:
		// Relocates the original instruction unchanged: emit its exact
		// guest bytes into the host stream. Safe for any instruction with
		// no PC-relative operand. No displacement is adjusted, so a
		// non-branch instruction with a PC-relative operand (an amd64
		// RIP-relative memory operand, an AArch64 ADR/ADRP or literal
		// load) that reaches here through a rule set's default rule
		// resolves its address against the host copy's location, not the
		// guest original's.
		a.CompileRawBytes(inst.Raw)
		return nil

	case RewriteTarget:
		// A direct branch/jump is being relocated: the original bytes are
		// dropped (their PC-relative displacement no longer applies at the
		// new host address) and replaced with a write of the resolved
		// guest target into Host.NextGuestPC followed by a return to the
		// host driver loop, which re-translates or re-enters the cache at
		// that address.
		exitTo(a, tm, toHost, ctxReg, fields, g.Target)
		return nil

	case GetPCOffset:
		host := toHost(tm.GetTemp(g.TempID))
		a.CompileConstToRegister(int64(inst.Addr), host)
		return nil

	case WriteTemp:
		host := toHost(tm.GetTemp(g.TempID))
		a.CompileRegisterToMemory(host, ctxReg, fields.GPROffset(tm.GetTemp(g.TempID)))
		return nil

	case SimulateCall:
		// Push the real return address into the single-slot call/ret
		// scratch (Host.Selector is free to reuse as a scratch field once
		// the prologue has consumed it to select this sequence), then exit
		// to the call's destination: a compile-time constant for a direct
		// call, or the live register/memory operand for an indirect one.
		retHost := toHost(tm.GetTemp(0))
		a.CompileConstToRegister(int64(inst.Addr)+int64(inst.Len), retHost)
		a.CompileRegisterToMemory(retHost, ctxReg, fields.SelectorOffset)
		if g.Indirect {
			base := toHost(g.GPRIndex)
			target := toHost(tm.GetTemp(-3))
			if g.GPRIsMem {
				a.CompileMemoryToRegister(base, g.MemOffset, target)
			} else {
				a.CompileRegisterToRegister(base, target)
			}
			a.CompileRegisterToMemory(target, ctxReg, fields.NextPCOffset)
			saveGuestGPRs(a, toHost, ctxReg, fields)
			a.CompileRet()
			return nil
		}
		exitTo(a, tm, toHost, ctxReg, fields, g.Target)
		return nil

	case SimulateRet:
		// Pop the return address the matching SimulateCall stashed and
		// exit to it.
		host := toHost(tm.GetTemp(0))
		a.CompileMemoryToRegister(ctxReg, fields.SelectorOffset, host)
		a.CompileRegisterToMemory(host, ctxReg, fields.NextPCOffset)
		saveGuestGPRs(a, toHost, ctxReg, fields)
		a.CompileRet()
		return nil

	case SaveReg:
		host := toHost(g.GPRIndex)
		a.CompileRegisterToMemory(host, ctxReg, fields.GPROffset(g.GPRIndex))
		return nil

	case LoadReg:
		host := toHost(g.GPRIndex)
		a.CompileMemoryToRegister(ctxReg, fields.GPROffset(g.GPRIndex), host)
		return nil

	case DoNotInstrument:
		exitTo(a, tm, toHost, ctxReg, fields, g.Target)
		return nil

	case IndirectExit:
		// The instruction already ran on real registers by the time this
		// sequence reaches here (it is itself part of the sequence, not
		// something that already executed), so the base/target register
		// holds whatever value the guest computed; the only thing left is
		// to read it out into NextGuestPC and return.
		base := toHost(g.GPRIndex)
		host := toHost(tm.GetTemp(-2))
		if g.GPRIsMem {
			a.CompileMemoryToRegister(base, g.MemOffset, host)
		} else {
			a.CompileRegisterToRegister(base, host)
		}
		a.CompileRegisterToMemory(host, ctxReg, fields.NextPCOffset)
		saveGuestGPRs(a, toHost, ctxReg, fields)
		a.CompileRet()
		return nil

	case ConditionalExit:
		// Emit the host's own conditional jump testing g.Cond, then the
		// not-taken exit immediately after it (its natural fallthrough),
		// then point the conditional jump at the taken exit emitted right
		// after that. Ordering matters: SetJumpTargetOnNext resolves cj's
		// target to whatever AddInstruction adds next, so the taken exit
		// must be queued before it is emitted, and the not-taken exit must
		// already have been emitted before the queue call or it would
		// become the resolved target instead of the fallthrough.
		cj := a.CompileConditionalJump(g.Cond)
		exitTo(a, tm, toHost, ctxReg, fields, g.NotTaken)
		a.SetJumpTargetOnNext(cj)
		exitTo(a, tm, toHost, ctxReg, fields, g.Target)
		return nil

	default:
		return fmt.Errorf("unknown generator kind %d", g.Kind)
	}
}

// saveGuestGPRs flushes every guest GPR (skipping CtxGPRIndex, which holds
// Context's own address rather than guest state) into Context.GPR.Regs.
// Ordinary instructions run as Passthrough directly on host registers and
// never touch Context themselves, so every generator that ends a translated
// sequence calls this before CompileRet: it is the only place a guest
// register's value is ever written back, and the shared prologue is the
// only place it is ever read back in (see execblock.BuildPrologueEpilogue).
func saveGuestGPRs(a asm.AssemblerBase, toHost HostReg, ctxReg asm.Register, fields ContextFields) {
	for i := 0; i < fields.GPRCount; i++ {
		if i == fields.CtxGPRIndex {
			continue
		}
		a.CompileRegisterToMemory(toHost(i), ctxReg, fields.GPROffset(i))
	}
}

// exitTo writes target into Context.Host.NextGuestPC through a scratch
// register, flushes guest GPR state, and returns to the host driver loop.
// Every generator that ends a translated sequence (RewriteTarget,
// SimulateCall, DoNotInstrument, and the translator's own end-of-block
// fallthrough) funnels through here so the code arena never needs a shared
// epilogue trampoline: CompileRet returns straight to callAt's Go call site.
func exitTo(a asm.AssemblerBase, tm *TempManager, toHost HostReg, ctxReg asm.Register, fields ContextFields, target uint64) {
	host := toHost(tm.GetTemp(-1))
	a.CompileConstToRegister(int64(target), host)
	a.CompileRegisterToMemory(host, ctxReg, fields.NextPCOffset)
	saveGuestGPRs(a, toHost, ctxReg, fields)
	a.CompileRet()
}

// ExitTo is exported for internal/translate's end-of-block fallthrough path,
// which has no PatchRule generator of its own to attach the exit to.
func ExitTo(a asm.AssemblerBase, tm *TempManager, toHost HostReg, ctxReg asm.Register, fields ContextFields, target uint64) {
	exitTo(a, tm, toHost, ctxReg, fields, target)
}
