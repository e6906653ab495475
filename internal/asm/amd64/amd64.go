// Package amd64 implements the x86-64 host instruction encoder
// (asm.AssemblerBase), wrapping github.com/twitchyliquid64/golang-asm's
// x86 backend the same way wazero's arm64 golang-asm encoder wraps its own
// architecture.
package amd64

import (
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"github.com/vantir/dbicore/internal/asm"
	goasm "github.com/vantir/dbicore/internal/asm/golang_asm"
)

// GPR index -> golang-asm register constant, matching
// internal/register/amd64's RAX..R15 index order.
var hostReg = [...]int16{
	x86.REG_AX, x86.REG_CX, x86.REG_DX, x86.REG_BX,
	x86.REG_SP, x86.REG_BP, x86.REG_SI, x86.REG_DI,
	x86.REG_R8, x86.REG_R9, x86.REG_R10, x86.REG_R11,
	x86.REG_R12, x86.REG_R13, x86.REG_R14, x86.REG_R15,
}

// Register is the GPR index (0-15) used as an asm.Register value.
func Register(gprIndex int) asm.Register { return asm.Register(gprIndex + 1) }

// Condition codes a PatchRule passes to CompileConditionalJump, one per
// x86 Jcc mnemonic. Values are opaque outside this package; rules derive
// them from the decoded Jcc opcode via condFor in internal/patch/amd64.
const (
	CondA uint8 = iota
	CondAE
	CondB
	CondBE
	CondE
	CondNE
	CondG
	CondGE
	CondL
	CondLE
	CondO
	CondNO
	CondS
	CondNS
	CondP
	CondNP
)

// condOp maps a Cond* constant to the golang-asm opcode for that jump.
var condOp = [...]obj.As{
	CondA:  x86.AJHI,
	CondAE: x86.AJCC,
	CondB:  x86.AJCS,
	CondBE: x86.AJLS,
	CondE:  x86.AJEQ,
	CondNE: x86.AJNE,
	CondG:  x86.AJGT,
	CondGE: x86.AJGE,
	CondL:  x86.AJLT,
	CondLE: x86.AJLE,
	CondO:  x86.AJOS,
	CondNO: x86.AJOC,
	CondS:  x86.AJMI,
	CondNS: x86.AJPL,
	CondP:  x86.AJPS,
	CondNP: x86.AJPC,
}

func reg(r asm.Register) int16 {
	if r == asm.NilRegister {
		return 0
	}
	return hostReg[int(r)-1]
}

type assembler struct {
	*goasm.BaseAssembler
}

// New constructs the x86-64 host encoder.
func New() (asm.AssemblerBase, error) {
	b, err := goasm.NewBaseAssembler("amd64")
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
	p.As = obj.ANOP
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileConstToRegister(value int64, destination asm.Register) asm.Node {
	p := a.NewProg()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = value
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg(destination)
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileRegisterToRegister(from, to asm.Register) asm.Node {
	p := a.NewProg()
	p.As = x86.AMOVQ
	p.From.Type = obj.TYPE_REG
	p.From.Reg = reg(from)
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg(to)
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileMemoryToRegister(base asm.Register, offset int64, destination asm.Register) asm.Node {
	p := a.NewProg()
	p.As = x86.AMOVQ
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
	p.As = x86.AMOVQ
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
	p.As = x86.AADDQ
	p.From.Type = obj.TYPE_CONST
	p.From.Offset = value
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg(register)
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileJump() asm.Node {
	p := a.NewProg()
	p.As = obj.AJMP
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

func (a *assembler) CompileJumpToMemory(base asm.Register, offset int64) asm.Node {
	p := a.NewProg()
	p.As = obj.AJMP
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = reg(base)
	p.To.Offset = offset
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

func (a *assembler) CompileJumpToRegister(r asm.Register) asm.Node {
	p := a.NewProg()
	p.As = obj.AJMP
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg(r)
	a.AddInstruction(p)
	return goasm.NewNode(p)
}

// CompileRawBytes emits b one byte at a time via golang-asm's BYTE
// pseudo-op, used to relocate a guest instruction whose encoding needs no
// fixup at its new host address.
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
