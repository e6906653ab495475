// Package golang_asm is the shared golang-asm plumbing both architecture
// encoders (internal/asm/amd64, internal/asm/arm64) build on: a thin
// wrapper around github.com/twitchyliquid64/golang-asm's Builder that
// tracks pending jump-target assignments and offers AssemblerBase's
// jump-table-free subset.
package golang_asm

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"

	"github.com/vantir/dbicore/internal/asm"
)

// Node implements asm.Node for golang-asm library.
type Node struct {
	prog *obj.Prog
}

func NewNode(p *obj.Prog) asm.Node { return &Node{prog: p} }

func (n *Node) String() string { return n.prog.String() }

func (n *Node) OffsetInBinary() uint64 { return uint64(n.prog.Pc) }

func (n *Node) AssignJumpTarget(target asm.Node) {
	b := target.(*Node)
	n.prog.To.SetTarget(b.prog)
}

// BaseAssembler implements the jump-bookkeeping part of AssemblerBase that
// every architecture's encoder shares.
type BaseAssembler struct {
	b                        *goasm.Builder
	setJumpTargetOnNextNodes []asm.Node
}

func NewBaseAssembler(arch string) (*BaseAssembler, error) {
	b, err := goasm.NewBuilder(arch, 1024)
	if err != nil {
		return nil, fmt.Errorf("asm: new builder for %s: %w", arch, err)
	}
	return &BaseAssembler{b: b}, nil
}

func (a *BaseAssembler) Assemble() ([]byte, error) {
	return a.b.Assemble(), nil
}

func (a *BaseAssembler) SetJumpTargetOnNext(nodes ...asm.Node) {
	a.setJumpTargetOnNextNodes = append(a.setJumpTargetOnNextNodes, nodes...)
}

// AddInstruction appends next to the instruction stream and resolves any
// jump targets pending from a prior SetJumpTargetOnNext call.
func (a *BaseAssembler) AddInstruction(next *obj.Prog) {
	a.b.AddInstruction(next)
	for _, node := range a.setJumpTargetOnNextNodes {
		node.(*Node).prog.To.SetTarget(next)
	}
	a.setJumpTargetOnNextNodes = nil
}

// NewProg allocates a fresh instruction for an architecture encoder to fill in.
func (a *BaseAssembler) NewProg() *obj.Prog { return a.b.NewProg() }
