package execbroker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vantir/dbicore/internal/rangeset"
)

type fakeStackMemory struct {
	words map[uint64]uint64
}

func (m *fakeStackMemory) ReadWord(addr uint64) (uint64, error) {
	v, ok := m.words[addr]
	if !ok {
		return 0, errNoSuchWord
	}
	return v, nil
}

func (m *fakeStackMemory) WriteWord(addr uint64, v uint64) error {
	m.words[addr] = v
	return nil
}

var errNoSuchWord = errors.New("execbroker: no such word (test fake)")

func TestBroker_IsInstrumented(t *testing.T) {
	b := New(nil, nil, &fakeStackMemory{words: map[uint64]uint64{}})
	b.AddInstrumentedRange(rangeset.Range{Start: 0x1000, End: 0x2000})

	require.True(t, b.IsInstrumented(0x1500))
	require.False(t, b.IsInstrumented(0x3000))

	b.RemoveInstrumentedRange(rangeset.Range{Start: 0x1500, End: 0x1600})
	require.False(t, b.IsInstrumented(0x1500))
	require.True(t, b.IsInstrumented(0x1000))
}

func TestBroker_ScanForReturn_FindsLR(t *testing.T) {
	b := New(nil, nil, &fakeStackMemory{words: map[uint64]uint64{}})
	b.AddInstrumentedRange(rangeset.Range{Start: 0x4000, End: 0x5000})

	ptr, orig, found := b.scanForReturn(0x7fff0000, 0x4010)
	require.True(t, found)
	require.Equal(t, uint64(0), ptr)
	require.Equal(t, uint64(0x4010), orig)
}

func TestBroker_ScanForReturn_FindsStackSlot(t *testing.T) {
	sp := uint64(0x7fff0000)
	mem := &fakeStackMemory{words: map[uint64]uint64{
		sp:      0x9999, // not instrumented
		sp + 8:  0x4020, // instrumented, second slot
		sp + 16: 0x8888,
	}}
	b := New(nil, nil, mem)
	b.AddInstrumentedRange(rangeset.Range{Start: 0x4000, End: 0x5000})

	ptr, orig, found := b.scanForReturn(sp, 0)
	require.True(t, found)
	require.Equal(t, sp+8, ptr)
	require.Equal(t, uint64(0x4020), orig)
}

func TestBroker_ScanForReturn_Refuses(t *testing.T) {
	sp := uint64(0x7fff0000)
	mem := &fakeStackMemory{words: map[uint64]uint64{
		sp:      0x9999,
		sp + 8:  0x8888,
		sp + 16: 0x7777,
	}}
	b := New(nil, nil, mem)
	b.AddInstrumentedRange(rangeset.Range{Start: 0x4000, End: 0x5000})

	_, _, found := b.scanForReturn(sp, 0x1234)
	require.False(t, found)
}

func TestBroker_AddInstrumentedModule_NoProvider(t *testing.T) {
	b := New(nil, nil, &fakeStackMemory{words: map[uint64]uint64{}})
	err := b.AddInstrumentedModule("libc.so")
	require.Error(t, err)
}
