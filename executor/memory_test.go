package executor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryAccessChaining(t *testing.T) {
	m := NewMemory()
	m.Preload(0x100, 7)

	r1 := m.Read(0x100, 10)
	require.Equal(t, MemoryRecord{Addr: 0x100, Value: 7, PrevValue: 7, Clk: 10, PrevClk: 0}, r1)

	w := m.Write(0x100, 14, 9)
	require.Equal(t, MemoryRecord{Addr: 0x100, Value: 9, PrevValue: 7, Clk: 14, PrevClk: 10}, w)

	r2 := m.Read(0x100, 20)
	require.Equal(t, uint32(9), r2.Value)
	require.Equal(t, uint32(14), r2.PrevClk)

	// Untouched cells read zero at clock zero.
	r3 := m.Read(0x2000, 30)
	require.Equal(t, uint32(0), r3.Value)
	require.Equal(t, uint32(0), r3.PrevClk)
}

func TestMemoryPeekLeavesNoTrace(t *testing.T) {
	m := NewMemory()
	m.Preload(0x100, 7)
	require.Equal(t, uint32(7), m.Peek(0x100))
	require.Equal(t, uint32(0), m.Peek(0x7000))
	require.Zero(t, m.TouchedCount())
	require.Empty(t, m.Touched())
}

func TestMemoryTouchedEnumeration(t *testing.T) {
	m := NewMemory()
	// Spread across pages, written out of order.
	m.Write(0x9000, 5, 3)
	m.Write(0x100, 6, 1)
	m.Write(0x100000, 7, 4)
	m.Read(0x104, 8)

	cells := m.Touched()
	require.Equal(t, 4, m.TouchedCount())
	require.Equal(t, []TouchedCell{
		{Addr: 0x100, Value: 1, Clk: 6},
		{Addr: 0x104, Value: 0, Clk: 8},
		{Addr: 0x9000, Value: 3, Clk: 5},
		{Addr: 0x100000, Value: 4, Clk: 7},
	}, cells)
}
