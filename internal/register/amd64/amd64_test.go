package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/vantir/dbicore/internal/register"
)

func TestUsedGPR_MovRegReg(t *testing.T) {
	// mov rax, rbx -- 48 89 d8
	inst, err := x86asm.Decode([]byte{0x48, 0x89, 0xd8}, 64)
	require.NoError(t, err)
	require.Equal(t, x86asm.MOV, inst.Op)

	u := UsedGPR(&inst)
	require.Equal(t, register.Written, u.Get(RAX))
	require.Equal(t, register.Read, u.Get(RBX))
}

func TestUsedGPR_AddIsReadModifyWrite(t *testing.T) {
	// add rax, rbx -- 48 01 d8
	inst, err := x86asm.Decode([]byte{0x48, 0x01, 0xd8}, 64)
	require.NoError(t, err)
	require.Equal(t, x86asm.ADD, inst.Op)

	u := UsedGPR(&inst)
	require.Equal(t, register.Both, u.Get(RAX))
}

func TestGPRIndex_SubRegisterAliases(t *testing.T) {
	for _, r := range []x86asm.Reg{x86asm.AL, x86asm.AX, x86asm.EAX, x86asm.RAX} {
		idx, ok := GPRIndex(r)
		require.True(t, ok)
		require.Equal(t, RAX, idx)
	}
}
