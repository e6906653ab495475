package execblockmanager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vantir/dbicore/internal/asm/amd64"
	"github.com/vantir/dbicore/internal/execblock"
	"github.com/vantir/dbicore/internal/rangeset"
)

func newTestBlock(t *testing.T) *execblock.ExecBlock {
	t.Helper()
	b, err := execblock.New(nil, 4096, 4096, amd64.New, amd64.Register(14), 16, amd64.Register)
	require.NoError(t, err)
	return b
}

func TestManager_WriteAndFindRegion(t *testing.T) {
	m := New(nil, func() (*execblock.ExecBlock, error) { return newTestBlock(t) })

	id, wroteBlock, err := m.WriteBasicBlock([]byte{0x90, 0x90}, 0x1000, 0x1002, nil)
	require.NoError(t, err)
	require.NotNil(t, wroteBlock)

	r, ok := m.FindRegion(0x1000)
	require.True(t, ok)
	require.Contains(t, r.Blocks, wroteBlock)

	block, gotID, ok := m.GetProgrammedExecBlock(0x1000)
	require.True(t, ok)
	require.Equal(t, id, gotID)
	require.Same(t, wroteBlock, block)
}

func TestManager_SplitSequenceOnMidBlockEntry(t *testing.T) {
	m := New(nil, func() (*execblock.ExecBlock, error) { return newTestBlock(t) })

	instMeta := []execblock.InstMetadata{
		{GuestAddr: 0x4000, GuestLen: 1, HostOffset: 0},
		{GuestAddr: 0x4001, GuestLen: 1, HostOffset: 1},
	}
	origID, wroteBlock, err := m.WriteBasicBlock([]byte{0x90, 0x90}, 0x4000, 0x4002, instMeta)
	require.NoError(t, err)
	origStart, err := wroteBlock.GetSeqStart(origID)
	require.NoError(t, err)

	block, id, ok := m.GetProgrammedExecBlock(0x4001)
	require.True(t, ok)
	require.Same(t, wroteBlock, block)
	require.NotEqual(t, origID, id)

	start, err := block.GetSeqStart(id)
	require.NoError(t, err)
	require.Equal(t, origStart+1, start)

	// A second lookup at the same mid-block address must reuse the split
	// sequence rather than splitting again.
	_, secondID, ok := m.GetProgrammedExecBlock(0x4001)
	require.True(t, ok)
	require.Equal(t, id, secondID)
}

func TestManager_WriteBasicBlockMergesTouchingRegions(t *testing.T) {
	m := New(nil, func() (*execblock.ExecBlock, error) { return newTestBlock(t) })

	_, _, err := m.WriteBasicBlock([]byte{0x90}, 0x5000, 0x5001, nil)
	require.NoError(t, err)
	_, _, err = m.WriteBasicBlock([]byte{0x90}, 0x5001, 0x5002, nil)
	require.NoError(t, err)

	r, ok := m.FindRegion(0x5000)
	require.True(t, ok)
	r2, ok := m.FindRegion(0x5001)
	require.True(t, ok)
	require.Same(t, r, r2)
}

func TestManager_ClearCacheDropsRegion(t *testing.T) {
	m := New(nil, func() (*execblock.ExecBlock, error) { return newTestBlock(t) })
	_, _, err := m.WriteBasicBlock([]byte{0x90}, 0x2000, 0x2001, nil)
	require.NoError(t, err)

	m.ClearCache(rangeset.Range{Start: 0x1000, End: 0x3000})

	_, ok := m.FindRegion(0x2000)
	require.False(t, ok)
	require.Equal(t, 1, m.Stats().CacheInvalidations)
}
