// Package arm64 implements the AArch64 host instruction encoder
// (asm.AssemblerBase), wrapping github.com/twitchyliquid64/golang-asm's
// AArch64 backend the same way wazero's own arm64 golang-asm encoder does.
package arm64

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"

	"github.com/vantir/dbicore/internal/asm"
	goasm "github.com/vantir/dbicore/internal/asm/golang_asm"
)

// GPR index -> golang-asm register constant, X0-X30.
var hostReg = [...]int16{
	arm64.REG_R0, arm64.REG_R1, arm64.REG_R2, arm64.REG_R3,
	arm64.REG_R4, arm64.REG_R5, arm64.REG_R6, arm64.REG_R7,
	arm64.REG_R8, arm64.REG_R9, arm64.REG_R10, arm64.REG_R11,
	arm64.REG_R12, arm64.REG_R13, arm64.REG_R14, arm64.REG_R15,
	arm64.REG_R16, arm64.REG_R17, arm64.REG_R18, arm64.REG_R19,
	arm64.REG_R20, arm64.REG_R21, arm64.REG_R22, arm64.REG_R23,
	arm64.REG_R24, arm64.REG_R25, arm64.REG_R26, arm64.REG_R27,
	arm64.REG_R28, arm64.REG_R29, arm64.REG_R30,
}

// Register is the GPR index (0-30) used as an asm.Register value.
func Register(gprIndex int) asm.Register { return asm.Register(gprIndex + 1) }

// Condition codes a PatchRule passes to CompileConditionalJump. Values
// match the AArch64 B.cond condition field (the low 4 bits of the
// instruction word) directly, so a rule can pass a decoded B.cond's
// condition value through unchanged.
const (
	CondEQ uint8 = iota
	CondNE
	CondCS
	CondCC
	CondMI
	CondPL
	CondVS
	CondVC
	CondHI
	CondLS
	CondGE
	CondLT
	CondGT
	CondLE
)

// condOp maps a Cond* constant to the golang-asm opcode for that branch.
var condOp = [...]obj.As{
	CondEQ: arm64.ABEQ,
	CondNE: arm64.ABNE,
	CondCS: arm64.ABCS,
	CondCC: arm64.ABLO,
	CondMI: arm64.ABMI,
	CondPL: arm64.ABPL,
	CondVS: arm64.ABVS,
	CondVC: arm64.ABVC,
	CondHI: arm64.ABHI,
	CondLS: arm64.ABLS,
	CondGE: arm64.ABGE,
	CondLT: arm64.ABLT,
	CondGT: arm64.ABGT,
	CondLE: arm64.ABLE,
}

func reg(r asm.Register) int16 {
	if r == asm.NilRegister {
		return arm64.REGZERO
	}
	return hostReg[int(r)-1]
}

type assembler struct {
	*goasm.BaseAssembler
}

// New constructs the AArch64 host encoder.
func New() (asm.AssemblerBase, error) {
	b, err := goasm.NewBaseAssembler("arm64")
	if err != nil {
		return nil, err
	}
	return &assembler{BaseAssembler: b}, nil
}

func (a *assembler) CompileRet() asm.Node {
	p := a.NewProg()
	p.As = obj.ARET
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileNop() asm.Node {
	p := a.NewProg()
	p.As = arm64.ANOOP
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileConstToRegister(value int64, destination asm.Register) asm.Node {
	p := a.NewProg()
	p.As = arm64.AMOVD
	if value == 0 {
		p.From.Type = obj.TYPE_REG
		p.From.Reg = arm64.REGZERO
	} else {
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = value
	}
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg(destination)
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileRegisterToRegister(from, to asm.Register) asm.Node {
	p := a.NewProg()
	p.As = arm64.AMOVD
	p.From.Type = obj.TYPE_REG
	p.From.Reg = reg(from)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg(to)
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileMemoryToRegister(base asm.Register, offset int64, destination asm.Register) asm.Node {
	p := a.NewProg()
	p.As = arm64.AMOVD
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = reg(base)
	p.From.Offset = offset
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg(destination)
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileRegisterToMemory(source asm.Register, base asm.Register, offset int64) asm.Node {
	p := a.NewProg()
	p.As = arm64.AMOVD
	p.From.Type = obj.TYPE_REG
	p.From.Reg = reg(source)
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = reg(base)
	p.To.Offset = offset
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileAddConstToRegister(value int64, register asm.Register) asm.Node {
	p := a.NewProg()
	p.As = arm64.AADD
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = value
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg(register)
	p.Reg = reg(register)
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileJump() asm.Node {
	p := a.NewProg()
	p.As = arm64.AB
	p.To.Type = obj.TYPE_BRANCH
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileConditionalJump(cc uint8) asm.Node {
	p := a.NewProg()
	p.As = condOp[cc]
	p.To.Type = obj.TYPE_BRANCH
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

// scratchReg is a fixed link-register-adjacent scratch GPR used to stage a
// memory operand before an indirect branch: AArch64 has no single
// instruction that branches through a memory address the way x86's
// JMP [mem] does, so this composes a load followed by a register branch.
const scratchReg = arm64.REG_R16

func (a *assembler) CompileJumpToMemory(base asm.Register, offset int64) asm.Node {
	load := a.NewProg()
	load.As = arm64.AMOVD
	load.From.Type = obj.TYPE_MEM
	load.From.Reg = reg(base)
	load.From.Offset = offset
	load.To.Type = obj.TYPE_REG
	load.To.Reg = scratchReg
	a.AddInstruction(load)

	br := a.NewProg()
	br.As = obj.ARET
	br.To.Type = obj.TYPE_REG
	br.To.Reg = scratchReg
	a.AddInstruction(br)
	return goasm.NewNode(br)
}

func (a *assembler) CompileJumpToRegister(r asm.Register) asm.Node {
	p := a.NewProg()
	p.As = obj.ARET
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg(r)
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

// CompileRawBytes emits b one byte at a time via golang-asm's BYTE
// pseudo-op. AArch64 instructions are 4-byte aligned; callers only ever
// pass a whole 4-byte guest instruction here, so alignment is preserved.
func (a *assembler) CompileRawBytes(b []byte) asm.Node {
	var first asm.Node
	for _, c := range b {
		p := a.NewProg()
		p.As = obj.ABYTE
		p.From.Type = obj.TYPE_CONST
		p.From.Offset = int64(c)
		a.AddInstruction(p)
		if first == nil {
			first = goasm.NewNode(p)
		}
	}
	if first == nil {
		return a.CompileNop()
	}
	return first
}
