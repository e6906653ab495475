// Package dbicore is a dynamic binary instrumentation engine: it
// translates a running program's basic blocks through a code cache one at
// a time, giving registered callbacks a chance to observe or rewrite
// control flow and memory accesses before the translated code runs.
package dbicore

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/vantir/dbicore/internal/asm"
	amd64asm "github.com/vantir/dbicore/internal/asm/amd64"
	arm64asm "github.com/vantir/dbicore/internal/asm/arm64"
	"github.com/vantir/dbicore/internal/asm/decode"
	"github.com/vantir/dbicore/internal/execblock"
	"github.com/vantir/dbicore/internal/execblockmanager"
	"github.com/vantir/dbicore/internal/execbroker"
	"github.com/vantir/dbicore/internal/instinfo"
	amd64instinfo "github.com/vantir/dbicore/internal/instinfo/amd64"
	arm64instinfo "github.com/vantir/dbicore/internal/instinfo/arm64"
	"github.com/vantir/dbicore/internal/patch"
	amd64patch "github.com/vantir/dbicore/internal/patch/amd64"
	arm64patch "github.com/vantir/dbicore/internal/patch/arm64"
	"github.com/vantir/dbicore/internal/procmap"
	"github.com/vantir/dbicore/internal/rangeset"
	"github.com/vantir/dbicore/internal/register"
	amd64reg "github.com/vantir/dbicore/internal/register/amd64"
	arm64reg "github.com/vantir/dbicore/internal/register/arm64"
	"github.com/vantir/dbicore/internal/translate"
)

// CodeCB is called once per freshly translated basic block, before it is
// ever executed.
type CodeCB func(addr uint64)

// MemAccessCB is the signature of a memory-access callback. Translated
// code never calls it: AddMemAccessCB stores callbacks, but no generated
// instruction stream invokes them; see DESIGN.md.
type MemAccessCB func(addr uint64, accessAddr uint64, size int, isWrite bool)

// Engine is the public DBI engine: one code cache, one instrumented-range
// broker, and the translation pipeline for the host's own architecture.
type Engine struct {
	cfg     Config
	arch    translate.Arch
	manager *execblockmanager.Manager
	broker  *execbroker.Broker
	trans   *translate.Translator
	mem     translate.Memory

	codeCBs []CodeCB
	memCBs  []MemAccessCB

	current    *execblock.ExecBlock
	currentSeq execblock.SeqID
	pc         uint64
	running    bool
}

// NewEngine constructs an Engine for the host's own architecture (amd64 or
// arm64; other GOARCH values return an error) using cfg, or NewConfig()'s
// defaults if cfg is nil.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg == nil {
		cfg = NewConfig()
	}

	arch, err := archDescriptor(cfg)
	if err != nil {
		return nil, err
	}

	provider := procmap.NewProvider()
	broker := execbroker.New(cfg.logger(), provider, processMemory{})

	e := &Engine{cfg: cfg, arch: arch, broker: broker}

	e.manager = execblockmanager.New(cfg.logger(), func() (*execblock.ExecBlock, error) {
		return e.newExecBlock(arch)
	})
	e.mem = processMemory{}
	e.trans = translate.New(cfg.logger(), arch, e.mem, e.manager, cfg.maxBlockInstructions())

	if cfg.instrumentAllExecutableMaps() {
		if err := broker.InstrumentAllExecutableMaps(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) newExecBlock(arch translate.Arch) (*execblock.ExecBlock, error) {
	return execblock.New(e.cfg.logger(), e.cfg.codeArenaSize(), e.cfg.dataArenaSize(), arch.NewAssembler, arch.ContextReg, arch.Table.Size(), arch.ToHostReg)
}

// contextFields returns the Context field offsets shared by both
// architectures; Context's layout (internal/execblock) does not vary
// by GOARCH. gprCount and ctxGPRIndex do vary (16 on amd64, 31 on arm64;
// R14 vs X27), so archDescriptor supplies them per arch.
func contextFields(gprCount, ctxGPRIndex int) patch.ContextFields {
	return patch.ContextFields{
		GPROffset:      func(gpr int) int64 { return int64(execblock.GPROffset(gpr)) },
		SelectorOffset: int64(execblock.OffsetSelector),
		NextPCOffset:   int64(execblock.OffsetNextPC),
		GPRCount:       gprCount,
		CtxGPRIndex:    ctxGPRIndex,
	}
}

// archDescriptor builds the translate.Arch for runtime.GOARCH.
func archDescriptor(cfg Config) (translate.Arch, error) {
	switch runtime.GOARCH {
	case "amd64":
		return translate.Arch{
			Kind:         decode.AMD64,
			NewAssembler: amd64asm.New,
			Table:        &amd64reg.Table,
			UsedGPR: func(i decode.Inst) register.UsedGPR {
				if i.X86 == nil {
					return register.UsedGPR{}
				}
				return amd64reg.UsedGPR(i.X86)
			},
			Rules:         amd64patch.RuleSet,
			ToHostReg:     func(gpr int) asm.Register { return amd64asm.Register(gpr) },
			ContextReg:    amd64asm.Register(14), // R14: reserved, never allocated as a translation scratch register
			MaxInstrLen:   15,
			ContextFields: contextFields(amd64reg.Table.Size(), 14),
			MemAccess: func(i decode.Inst) instinfo.Access {
				if i.X86 == nil {
					return instinfo.Access{}
				}
				return amd64instinfo.Lookup(i.X86)
			},
			SPIndex: amd64reg.RSP,
			LRIndex: -1,
		}, nil
	case "arm64":
		return translate.Arch{
			Kind:         decode.ARM64,
			NewAssembler: arm64asm.New,
			Table:        &arm64reg.Table,
			UsedGPR: func(i decode.Inst) register.UsedGPR {
				if i.ARM == nil {
					return register.UsedGPR{}
				}
				return arm64reg.UsedGPR(i.ARM)
			},
			Rules:         arm64patch.RuleSet,
			ToHostReg:     func(gpr int) asm.Register { return arm64asm.Register(gpr) },
			ContextReg:    arm64asm.Register(27), // X27: reserved, never allocated as a translation scratch register
			MaxInstrLen:   4,
			ContextFields: contextFields(arm64reg.Table.Size(), 27),
			MemAccess: func(i decode.Inst) instinfo.Access {
				if i.ARM == nil {
					return instinfo.Access{}
				}
				return arm64instinfo.Lookup(i.ARM)
			},
			// X0-X30 only (see register/arm64's Table); this engine does
			// not track a virtual stack pointer for AArch64, so the native
			// transfer's stack scan relies on LR alone here.
			SPIndex: -1,
			LRIndex: 30,
		}, nil
	default:
		var z translate.Arch
		return z, fmt.Errorf("dbicore: unsupported GOARCH %q", runtime.GOARCH)
	}
}

// AddInstrumentedRange marks [start, end) as code to translate rather than
// execute natively.
func (e *Engine) AddInstrumentedRange(start, end uint64) {
	e.broker.AddInstrumentedRange(rangeOf(start, end))
}

// AddInstrumentedModule resolves name through the process map and
// instruments every executable range it owns.
func (e *Engine) AddInstrumentedModule(name string) error {
	return e.broker.AddInstrumentedModule(name)
}

// AddCodeCB registers cb to run once per freshly translated basic block.
func (e *Engine) AddCodeCB(cb CodeCB) { e.codeCBs = append(e.codeCBs, cb) }

// AddMemAccessCB registers cb. Registered memory-access callbacks are
// stored but never invoked (see MemAccessCB).
func (e *Engine) AddMemAccessCB(cb MemAccessCB) { e.memCBs = append(e.memCBs, cb) }

// Translate produces (or reuses) a cached translation for the basic block
// at addr without executing it.
func (e *Engine) Translate(addr uint64) error {
	_, _, err := e.translateAndCallback(addr)
	return err
}

func (e *Engine) translateAndCallback(addr uint64) (*execblock.ExecBlock, execblock.SeqID, error) {
	_, _, alreadyCached := e.manager.GetProgrammedExecBlock(addr)
	block, id, err := e.trans.Translate(addr)
	if err != nil {
		return nil, 0, err
	}
	if !alreadyCached {
		for _, cb := range e.codeCBs {
			cb(addr)
		}
	}
	return block, id, nil
}

// SetPC positions the Engine to begin (or resume) execution at addr.
func (e *Engine) SetPC(addr uint64) { e.pc = addr; e.running = true }

// Run repeatedly translates and executes basic blocks starting from the
// Engine's current PC. A step that lands on a non-instrumented address
// hands off to native code via ExecBroker and, once that code returns,
// resumes the loop at whatever guest address ExecBroker found on the
// stack to continue instrumenting from; it only stops the Engine when that
// hand-off cannot find a resume point (ErrTransferRefused) or steps
// exceeds 0 and is exhausted. A steps value of 0 means run until stopped.
func (e *Engine) Run(steps int) error {
	if !e.running {
		return ErrNotRunning
	}
	for n := 0; steps == 0 || n < steps; n++ {
		if !e.broker.IsInstrumented(e.pc) {
			sp, lr := e.nativeTransferRegs()
			resume, err := e.broker.TransferExecution(e.pc, sp, lr)
			if err != nil {
				e.running = false
				if errors.Is(err, execbroker.ErrRefused) {
					return ErrTransferRefused
				}
				return err
			}
			e.pc = resume
			continue
		}

		block, id, err := e.translateAndCallback(e.pc)
		if err != nil {
			return err
		}
		if err := block.SelectSeq(id); err != nil {
			return err
		}
		e.current, e.currentSeq = block, id
		block.Execute()
		e.pc = block.Context().Host.NextGuestPC
	}
	return nil
}

// nativeTransferRegs reads the guest stack pointer and (on architectures
// that have one) link register out of the most recently executed block's
// Context, the values TransferExecution scans for an instrumented return
// address. Both are 0 before the first Execute() call, which
// scanForReturn treats as a reliably-failing scan rather than a special
// case.
func (e *Engine) nativeTransferRegs() (sp, lr uint64) {
	if e.current == nil {
		return 0, 0
	}
	regs := e.current.Context().GPR.Regs
	if e.arch.SPIndex >= 0 {
		sp = regs[e.arch.SPIndex]
	}
	if e.arch.LRIndex >= 0 {
		lr = regs[e.arch.LRIndex]
	}
	return sp, lr
}

// Stats returns the code cache's current statistics.
func (e *Engine) Stats() execblockmanager.Stats { return e.manager.Stats() }

// LogStats logs the code cache's current statistics at debug level.
func (e *Engine) LogStats() { e.manager.LogStats() }

func rangeOf(start, end uint64) rangeset.Range { return rangeset.Range{Start: start, End: end} }

// processMemory reads guest code directly out of this process's own
// address space: the engine instruments the program it is linked into.
type processMemory struct{}

func (processMemory) ReadCode(addr uint64, maxLen int) ([]byte, error) {
	if addr == 0 {
		return nil, fmt.Errorf("dbicore: read code at nil address")
	}
	out := make([]byte, maxLen)
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), maxLen)
	copy(out, src)
	return out, nil
}

// ReadWord and WriteWord give execbroker.Broker direct access to the
// guest's own stack words for its native-transfer scan, the same
// instrument-the-linked-process model ReadCode uses.
func (processMemory) ReadWord(addr uint64) (uint64, error) {
	if addr == 0 {
		return 0, fmt.Errorf("dbicore: read stack word at nil address")
	}
	return *(*uint64)(unsafe.Pointer(uintptr(addr))), nil
}

func (processMemory) WriteWord(addr uint64, v uint64) error {
	if addr == 0 {
		return fmt.Errorf("dbicore: write stack word at nil address")
	}
	*(*uint64)(unsafe.Pointer(uintptr(addr))) = v
	return nil
}
