package platform

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateArena(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("arena allocation only implemented for linux in this pack")
	}
	a, err := AllocateArena(4096, ProtRead|ProtWrite|ProtExec)
	require.NoError(t, err)
	defer a.Release()
	require.Len(t, a.Bytes(), 4096)
}

func TestArenaBeginEndWrite(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("arena allocation only implemented for linux in this pack")
	}
	a, err := AllocateArena(4096, ProtRead|ProtExec)
	require.NoError(t, err)
	defer a.Release()

	require.NoError(t, a.BeginWrite())
	a.Bytes()[0] = 0x90
	require.NoError(t, a.EndWrite())
}
