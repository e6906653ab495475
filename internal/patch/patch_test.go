package patch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vantir/dbicore/internal/asm/decode"
	"github.com/vantir/dbicore/internal/register"
)

func tbl(n int) *register.Table {
	names := make([]string, n)
	for i := range names {
		names[i] = "r"
	}
	return &register.Table{Names: names}
}

func TestTempManager_PicksUnusedGPR(t *testing.T) {
	var used register.UsedGPR
	used.Set(0, register.Both)
	used.Set(1, register.Read)

	tm := NewTempManager(tbl(4), used)
	got := tm.GetTemp(0)
	require.Equal(t, 2, got)
	require.Equal(t, got, tm.GetTemp(0)) // stable across repeat requests
}

func TestTempManager_FallsBackWhenSaturated(t *testing.T) {
	var used register.UsedGPR
	for i := 0; i < 4; i++ {
		used.Set(i, register.Both)
	}
	tm := NewTempManager(tbl(4), used)
	require.Equal(t, 0, tm.GetTemp(0))
}

func TestCondition_AndOr(t *testing.T) {
	always := Leaf(func(decode.Inst) bool { return true })
	never := Leaf(func(decode.Inst) bool { return false })

	require.True(t, And(always, always).Eval(decode.Inst{}))
	require.False(t, And(always, never).Eval(decode.Inst{}))
	require.True(t, Or(never, always).Eval(decode.Inst{}))
	require.False(t, Or(never, never).Eval(decode.Inst{}))
}

func TestRuleSet_Select_DefaultCatchAll(t *testing.T) {
	rs := RuleSet{
		{Name: "never", When: Leaf(func(decode.Inst) bool { return false })},
		{Name: "default", When: Leaf(func(decode.Inst) bool { return true })},
	}
	r, ok := rs.Select(decode.Inst{})
	require.True(t, ok)
	require.Equal(t, "default", r.Name)
}
