package execblock

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// TestContextOffsets guards the Offset* package variables PatchRule
// generators hardcode into emitted memory operands: if Context's layout
// ever shifts, translated code emitted against a stale offset would
// silently corrupt the wrong field.
func TestContextOffsets(t *testing.T) {
	var c Context
	require.Equal(t, unsafe.Offsetof(c.GPR), OffsetGPR)
	require.Equal(t, unsafe.Offsetof(c.FPR), OffsetFPR)
	require.Equal(t, unsafe.Offsetof(c.Host), OffsetHost)
	require.Equal(t, unsafe.Offsetof(c.Shadow), OffsetShadow)
	require.Equal(t, unsafe.Offsetof(c.ShadowSP), OffsetShadowSP)
	require.Equal(t, unsafe.Offsetof(c.GPR)+unsafe.Offsetof(c.GPR.Regs), OffsetGPRRegs)
	require.Equal(t, unsafe.Offsetof(c.GPR)+unsafe.Offsetof(c.GPR.Flags), OffsetGPRFlags)
	require.Equal(t, unsafe.Offsetof(c.GPR)+unsafe.Offsetof(c.GPR.PC), OffsetGPRPC)
	require.Equal(t, unsafe.Offsetof(c.Host)+unsafe.Offsetof(c.Host.Selector), OffsetSelector)
	require.Equal(t, unsafe.Offsetof(c.Host)+unsafe.Offsetof(c.Host.NextGuestPC), OffsetNextPC)

	require.Equal(t, uintptr(0), GPROffset(0))
	require.Equal(t, GPROffset(0)+8, GPROffset(1))
}
