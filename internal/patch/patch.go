// Package patch implements PatchRule matching and the
// Generator/Condition sum types that turn one decoded guest instruction
// into a relocated host instruction sequence, plus the TempManager that
// hands generators a scratch register to work with. Go has no class
// hierarchy, so both Generator and Condition are modeled as tagged unions
// dispatched with a type switch rather than an interface with many small
// implementations.
package patch

import (
	"github.com/vantir/dbicore/internal/asm"
	"github.com/vantir/dbicore/internal/asm/decode"
	"github.com/vantir/dbicore/internal/register"
)

// Generator produces zero or more host instructions for one guest
// instruction. Kind says which case applies (Passthrough, RewriteTarget,
// GetPCOffset, WriteTemp, SimulateCall, SimulateRet, SaveReg, LoadReg,
// DoNotInstrument, IndirectExit, ConditionalExit) and so which of the
// fields below it reads, modeled as a sum type instead of one small struct
// or method per case.
type Generator struct {
	Kind GeneratorKind

	// GetPCOffset / WriteTemp:
	TempID int // which TempManager slot this generator reads or writes

	// SaveReg / LoadReg: which guest GPR to spill/fill.
	GPRIndex int

	// SimulateCall / RewriteTarget / DoNotInstrument with a
	// statically known destination: the absolute guest address control
	// should resume at.
	Target uint64

	// IndirectExit (and SimulateCall when Indirect is set): which GPR holds
	// the runtime target, or (for the memory form) the base of a
	// [reg+MemOffset] operand.
	GPRIsMem  bool
	MemOffset int64
	// Indirect marks a SimulateCall whose destination is not Target but
	// the register/memory operand GPRIndex/GPRIsMem/MemOffset describe.
	Indirect bool

	// ConditionalExit: the architecture-specific condition code
	// (internal/asm/amd64 or internal/asm/arm64's Cond* constants) the
	// branch tests. Target is the taken destination; NotTaken is the
	// fall-through address when the condition does not hold.
	Cond     uint8
	NotTaken uint64
}

// GeneratorKind enumerates the Generator sum type's cases.
type GeneratorKind int

const (
	// Passthrough relocates the original decoded instruction unchanged.
	Passthrough GeneratorKind = iota
	// RewriteTarget drops the original branch bytes and exits to Target,
	// its resolved guest destination, since the branch's PC-relative
	// displacement no longer applies at the host address.
	RewriteTarget
	// GetPCOffset writes the instruction's own address into TempID.
	GetPCOffset
	// WriteTemp flushes TempManager slot TempID's value into Context.
	WriteTemp
	// SimulateCall emits the host sequence that pushes a return address
	// and transfers to Target, replacing a guest CALL.
	SimulateCall
	// SimulateRet emits the host sequence that pops a return address and
	// transfers to it, replacing a guest RET.
	SimulateRet
	// SaveReg spills guest GPR GPRIndex into Context before the next
	// generator runs.
	SaveReg
	// LoadReg fills guest GPR GPRIndex from Context after the instruction
	// executes.
	LoadReg
	// DoNotInstrument emits a direct exit to Target without running the
	// instruction or any instrumentation callback. The rule sets use it,
	// with Target set to the instruction's own address, for instructions
	// they do not translate (an indirect branch whose operand they cannot
	// resolve, AArch64 MOPS).
	DoNotInstrument
	// IndirectExit reads the runtime branch target out of GPRIndex (a
	// plain register operand) or, if GPRIsMem is set, out of
	// [GPRIndex+MemOffset], and exits there. Used for computed jumps and
	// calls whose destination is not known until the instruction runs.
	IndirectExit
	// ConditionalExit emits the host's own conditional jump testing Cond,
	// landing on an exit to Target when taken and an exit to NotTaken when
	// not, so a guest Jcc/B.cond keeps both of its successors live instead
	// of always following the taken path.
	ConditionalExit
)

// Condition is a small tagged-union expression tree: And/Or combinators
// over leaf predicates evaluated against one decoded instruction.
type Condition struct {
	Kind  ConditionKind
	Sub   []Condition // operands of And/Or
	Match func(decode.Inst) bool
}

type ConditionKind int

const (
	CondLeaf ConditionKind = iota
	CondAnd
	CondOr
)

// Eval evaluates the condition tree against inst.
func (c Condition) Eval(inst decode.Inst) bool {
	switch c.Kind {
	case CondAnd:
		for _, s := range c.Sub {
			if !s.Eval(inst) {
				return false
			}
		}
		return true
	case CondOr:
		for _, s := range c.Sub {
			if s.Eval(inst) {
				return true
			}
		}
		return false
	default:
		return c.Match != nil && c.Match(inst)
	}
}

// And builds a Condition that requires every sub-condition to hold.
func And(conds ...Condition) Condition { return Condition{Kind: CondAnd, Sub: conds} }

// Or builds a Condition that requires any sub-condition to hold.
func Or(conds ...Condition) Condition { return Condition{Kind: CondOr, Sub: conds} }

// Leaf builds a Condition from a plain predicate.
func Leaf(match func(decode.Inst) bool) Condition { return Condition{Kind: CondLeaf, Match: match} }

// PatchRule pairs a Condition with the Generators to run when it matches.
// Build receives the matched instruction so it can resolve a branch's
// actual target (direct, from the instruction's own PC-relative operand, or
// indirect, naming the register/memory operand the target will be read
// from at run time) before Generate emits anything; a rule whose
// generators never depend on inst can ignore the argument and return a
// fixed slice. ModifyPC marks rules whose generators may redirect control
// flow (branch and call/ret rules); the translator consults it to decide
// whether the resulting sequence needs its own exit dispatch rather than
// falling through to the next guest instruction's translation.
type PatchRule struct {
	Name     string
	When     Condition
	Build    func(inst decode.Inst) []Generator
	ModifyPC bool
}

// Match reports whether r applies to inst.
func (r PatchRule) Match(inst decode.Inst) bool { return r.When.Eval(inst) }

// RuleSet is an ordered list of PatchRules; the first match wins, so a
// RuleSet built by this package's arch constructors always ends with a
// mandatory catch-all default rule.
type RuleSet []PatchRule

// Select returns the first matching rule, and false if the RuleSet has no
// default catch-all (a RuleSet built by this package's arch constructors
// always does, so false only happens against a hand-built RuleSet missing one).
func (rs RuleSet) Select(inst decode.Inst) (PatchRule, bool) {
	for _, r := range rs {
		if r.Match(inst) {
			return r, true
		}
	}
	return PatchRule{}, false
}

// TempManager hands out scratch GPRs to generators translating one guest
// instruction, tracking which of the architecture's GPRs the instruction
// itself uses so a temp never collides with a live guest register.
type TempManager struct {
	table *register.Table
	used  register.UsedGPR
	temps map[int]int // TempID -> GPR index
	next  int
}

// NewTempManager builds a TempManager scoped to one instruction's
// translation, seeded with that instruction's used-GPR classification.
func NewTempManager(table *register.Table, used register.UsedGPR) *TempManager {
	return &TempManager{table: table, used: used, temps: make(map[int]int)}
}

// GetTemp returns the GPR index backing TempID, allocating the first GPR
// the instruction does not touch if this is the first request for it. If
// every GPR is live, it falls back to GPR 0 and relies on the caller's
// SaveReg/LoadReg pair to make the spill safe when a basic block is fully
// register-saturated.
func (t *TempManager) GetTemp(tempID int) int {
	if gpr, ok := t.temps[tempID]; ok {
		return gpr
	}
	gpr := t.firstFreeRegister()
	t.temps[tempID] = gpr
	return gpr
}

func (t *TempManager) firstFreeRegister() int {
outer:
	for i := 0; i < t.table.Size(); i++ {
		if t.used.Get(i) != register.Unused {
			continue
		}
		for _, gpr := range t.temps {
			if gpr == i {
				continue outer
			}
		}
		return i
	}
	return 0
}

// UsedRegisters returns the GPR indices this TempManager has already
// handed out, the set Generate's SaveReg/LoadReg wrapping logic
// needs to spill around a generator sequence.
func (t *TempManager) UsedRegisters() []int {
	out := make([]int, 0, len(t.temps))
	for _, gpr := range t.temps {
		out = append(out, gpr)
	}
	return out
}
