package rangeset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSet_AddCoalesces(t *testing.T) {
	s := New()
	s.Add(Range{0x1000, 0x2000})
	s.Add(Range{0x3000, 0x4000})
	require.Equal(t, 2, s.Len())

	// Adjacent, touching the end of the first range: must merge into one.
	s.Add(Range{0x2000, 0x3000})
	require.Equal(t, 1, s.Len())
	require.Equal(t, []Range{{0x1000, 0x4000}}, s.Ranges())
}

func TestSet_AddOverlapping(t *testing.T) {
	s := New(Range{0, 10}, Range{20, 30}, Range{40, 50})
	s.Add(Range{5, 25})
	require.Equal(t, []Range{{0, 30}, {40, 50}}, s.Ranges())
}

func TestSet_Contains(t *testing.T) {
	s := New(Range{100, 200})
	require.True(t, s.Contains(100))
	require.True(t, s.Contains(150))
	require.False(t, s.Contains(200))
	require.False(t, s.Contains(50))
}

func TestSet_Remove(t *testing.T) {
	s := New(Range{0, 100})
	s.Remove(Range{40, 60})
	require.Equal(t, []Range{{0, 40}, {60, 100}}, s.Ranges())

	s.Remove(Range{0, 40})
	require.Equal(t, []Range{{60, 100}}, s.Ranges())
}

func TestRange_Overlaps(t *testing.T) {
	a := Range{0, 10}
	require.True(t, a.Overlaps(Range{5, 15}))
	require.False(t, a.Overlaps(Range{10, 20}))
}
