// Package execbroker implements ExecBroker, the boundary
// between instrumented and native execution. It decides whether a given
// guest address is inside code this engine has chosen to instrument, and
// performs the hand-off into native code for addresses that are not.
package execbroker

import (
	"errors"
	"fmt"

	"github.com/vantir/dbicore/internal/dbilog"
	"github.com/vantir/dbicore/internal/execblock"
	"github.com/vantir/dbicore/internal/procmap"
	"github.com/vantir/dbicore/internal/rangeset"
)

// StackMemory reads and writes the guest's own address space.
// TransferExecution uses ReadWord to scan the guest stack for an already-
// instrumented return address; it does not overwrite the slot it finds, and
// nothing in this package calls WriteWord.
type StackMemory interface {
	ReadWord(addr uint64) (uint64, error)
	WriteWord(addr uint64, v uint64) error
}

// StackScanWindow is the number of consecutive 8-byte guest stack slots,
// starting at the guest stack pointer, TransferExecution inspects for the
// first address this engine instruments.
const StackScanWindow = 3

// ErrRefused means TransferExecution found no instrumented address within
// LR or its stack-scan window and refused the transfer rather than guess a
// resume point. dbicore.Engine.Run maps this onto the public
// ErrTransferRefused.
var ErrRefused = errors.New("execbroker: no instrumented return address found to resume at")

// Broker is the ExecBroker: the instrumented-range bookkeeping plus the
// native call-out path.
type Broker struct {
	log          dbilog.Logger
	instrumented *rangeset.Set
	provider     procmap.Provider
	mem          StackMemory

	// transferCount tracks how many times TransferExecution has handed
	// control to native code, exposed for Stats/LogStats parity with
	// execblockmanager.
	transferCount int
}

// New constructs a Broker with no instrumented ranges. provider resolves
// module names to address ranges for AddInstrumentedModule and
// InstrumentAllExecutableMaps; it may be nil if the caller only ever adds
// explicit address ranges. mem gives TransferExecution access to the
// guest's own stack words.
func New(log dbilog.Logger, provider procmap.Provider, mem StackMemory) *Broker {
	if log == nil {
		log = dbilog.Noop
	}
	return &Broker{log: log, instrumented: rangeset.New(), provider: provider, mem: mem}
}

// AddInstrumentedRange marks [r.Start, r.End) as code this engine should
// translate rather than hand off to native execution.
func (b *Broker) AddInstrumentedRange(r rangeset.Range) {
	b.instrumented.Add(r)
}

// RemoveInstrumentedRange marks [r.Start, r.End) as native: addresses in
// it are handed to TransferExecution instead of being translated.
func (b *Broker) RemoveInstrumentedRange(r rangeset.Range) {
	b.instrumented.Remove(r)
}

// AddInstrumentedModule resolves name through the process map and
// instruments every executable range it owns.
func (b *Broker) AddInstrumentedModule(name string) error {
	if b.provider == nil {
		return fmt.Errorf("execbroker: no process-map provider configured")
	}
	mappings, err := b.provider.Module(name)
	if err != nil {
		return fmt.Errorf("execbroker: resolve module %q: %w", name, err)
	}
	for _, m := range mappings {
		b.AddInstrumentedRange(rangeset.Range{Start: m.Start, End: m.End})
	}
	return nil
}

// InstrumentAllExecutableMaps instruments every executable range currently
// mapped into the process, the broadest-scope option Config can select.
func (b *Broker) InstrumentAllExecutableMaps() error {
	if b.provider == nil {
		return fmt.Errorf("execbroker: no process-map provider configured")
	}
	set, err := procmap.ExecutableRanges(b.provider)
	if err != nil {
		return err
	}
	for _, r := range set.Ranges() {
		b.AddInstrumentedRange(r)
	}
	return nil
}

// IsInstrumented reports whether addr falls inside an instrumented range.
func (b *Broker) IsInstrumented(addr uint64) bool {
	return b.instrumented.Contains(addr)
}

// scanForReturn finds the first instrumented address among lr (the
// AArch64 link register; pass 0 on amd64, where the return address lives
// on the stack instead) and the top StackScanWindow words of the guest
// stack at sp. ptr is 0 when the hit was lr rather than a stack slot.
func (b *Broker) scanForReturn(sp, lr uint64) (ptr, orig uint64, found bool) {
	if lr != 0 && b.IsInstrumented(lr) {
		return 0, lr, true
	}
	for i := 0; i < StackScanWindow; i++ {
		addr := sp + uint64(i)*8
		word, err := b.mem.ReadWord(addr)
		if err != nil {
			break
		}
		if b.IsInstrumented(word) {
			return addr, word, true
		}
	}
	return 0, 0, false
}

// TransferExecution hands control to the native code at addr and blocks
// until that code returns, the way a RET out of the last instrumented
// frame into an uninstrumented library function is handled. Because
// translated sequences execute with real host registers standing in for
// guest registers (see internal/execblock's ContextReg documentation), no
// register marshaling happens here: the CPU is already in the exact state
// native code expects, and execblock.CallNative's genuine Go function call
// pushes a real return address, so control comes back to this function the
// moment addr's own native call tree unwinds back onto this same
// physical stack.
//
// What TransferExecution still must supply is the guest address to resume
// instrumented execution at once that happens. sp and lr (0 on
// architectures with no link register) are scanned per ExecBroker's
// contract: the resume point is whichever of lr or the top
// StackScanWindow stack slots already names an instrumented address,
// since that slot holds the return address the guest CALL which led here
// pushed, and addr's own terminal RET consumes exactly that slot off the
// shared stack. If nothing in the window is instrumented, the transfer is
// refused with ErrRefused rather than guessing a resume point.
func (b *Broker) TransferExecution(addr, sp, lr uint64) (uint64, error) {
	_, orig, found := b.scanForReturn(sp, lr)
	if !found {
		return 0, ErrRefused
	}

	b.transferCount++
	b.log.Debugf("execbroker: transferring to native code at 0x%x, resuming at 0x%x", addr, orig)
	execblock.CallNative(uintptr(addr))
	return orig, nil
}

// TransferCount returns how many native call-outs TransferExecution has
// performed, for Stats/LogStats parity with execblockmanager.
func (b *Broker) TransferCount() int { return b.transferCount }
