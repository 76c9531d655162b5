package chips

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/volta-zk/volta/air"
	"github.com/volta-zk/volta/field"
)

func TestByteShiftPrimitives(t *testing.T) {
	lo, carry := byteSll(0x81, 1)
	require.Equal(t, uint8(0x02), lo)
	require.Equal(t, uint8(0x01), carry)

	lo, carry = byteSll(0xFF, 7)
	require.Equal(t, uint8(0x80), lo)
	require.Equal(t, uint8(0x7F), carry)

	lo, carry = byteShr(0x81, 1)
	require.Equal(t, uint8(0x40), lo)
	require.Equal(t, uint8(0x80), carry)

	lo, carry = byteShr(0x5A, 0)
	require.Equal(t, uint8(0x5A), lo)
	require.Equal(t, uint8(0), carry)
}

func TestByteTableMatchesLog(t *testing.T) {
	bl := NewByteLog()
	bl.U8(0x37)
	bl.U8(0x37)
	require.True(t, bl.LTU(3, 5))
	require.False(t, bl.LTU(5, 3))
	require.Equal(t, uint8(0x30), bl.And(0xF0, 0x3C))
	require.Equal(t, uint8(0xFC), bl.Or(0xF0, 0x3C))
	require.Equal(t, uint8(0xCC), bl.Xor(0xF0, 0x3C))
	require.Equal(t, uint8(1), bl.MSB(0x80))

	ch := NewByteChip()
	m := ch.Trace(nil, nil, bl)

	cnt := func(op ByteOp, b, c uint8) field.Felt {
		return m.Get(int(b)<<8|int(c), ch.mult+int(op)-1)
	}
	require.Equal(t, field.NewFelt(2), cnt(ByteU8, 0x37, 0))
	require.Equal(t, field.NewFelt(1), cnt(ByteLTU, 3, 5))
	require.Equal(t, field.NewFelt(1), cnt(ByteLTU, 5, 3))
	require.Equal(t, field.NewFelt(1), cnt(ByteAnd, 0xF0, 0x3C))
	require.Equal(t, field.NewFelt(1), cnt(ByteXor, 0xF0, 0x3C))
	require.Equal(t, field.NewFelt(1), cnt(ByteMSB, 0x80, 0))
	unseen := cnt(ByteU8, 0x38, 0)
	require.True(t, unseen.IsZero())
}

func TestByteTableRows(t *testing.T) {
	ch := NewByteChip()
	m := ch.Preprocessed(nil)
	require.Equal(t, ByteTableHeight, m.Height)

	row := 0xF0<<8 | 0x3C
	require.Equal(t, field.NewFelt(0xF0), m.Get(row, ch.pre.b))
	require.Equal(t, field.NewFelt(0x3C), m.Get(row, ch.pre.c))
	require.Equal(t, field.NewFelt(0x30), m.Get(row, ch.pre.and))
	require.Equal(t, field.NewFelt(0xFC), m.Get(row, ch.pre.or))
	require.Equal(t, field.NewFelt(0xCC), m.Get(row, ch.pre.xor))
	ltu := m.Get(row, ch.pre.ltu)
	require.True(t, ltu.IsZero())
	require.Equal(t, field.NewFelt(1), m.Get(row, ch.pre.msb))

	row = 0x03<<8 | 0x05
	require.Equal(t, field.NewFelt(1), m.Get(row, ch.pre.ltu))

	row = 0x81<<8 | 0x01
	require.Equal(t, field.NewFelt(0x02), m.Get(row, ch.pre.sllLo))
	require.Equal(t, field.NewFelt(0x01), m.Get(row, ch.pre.sllCarry))
	require.Equal(t, field.NewFelt(0x40), m.Get(row, ch.pre.shrLo))
	require.Equal(t, field.NewFelt(0x80), m.Get(row, ch.pre.shrCarry))
}

func TestXorExpr(t *testing.T) {
	f := &air.Frame{Main: make([]field.Ext, 3)}
	two := xorExpr(air.Col(0), air.Col(1))
	three := xor3Expr(air.Col(0), air.Col(1), air.Col(2))
	for v := 0; v < 8; v++ {
		f.Main[0] = field.ExtFromUint64(uint64(v & 1))
		f.Main[1] = field.ExtFromUint64(uint64(v >> 1 & 1))
		f.Main[2] = field.ExtFromUint64(uint64(v >> 2 & 1))
		require.Equal(t, field.ExtFromUint64(uint64(v&1^v>>1&1)), two.Eval(f), "v=%d", v)
		require.Equal(t, field.ExtFromUint64(uint64(v&1^v>>1&1^v>>2&1)), three.Eval(f), "v=%d", v)
	}
}

func TestBitColumnHelpers(t *testing.T) {
	m := air.NewMatrix(32, 1)
	setBits(m, 0, 0, 0xDEADBEEF, 32)
	for i := 0; i < 32; i++ {
		v := m.Get(0, i)
		require.True(t, v.IsZero() || v == field.NewFelt(1), "bit %d", i)
	}

	f := &air.Frame{Main: make([]field.Ext, 32)}
	loadRow(m, 0, f.Main)

	bits := colBits(0, 32)
	require.Equal(t, field.ExtFromUint64(0xEF), bitsByte(bits, 0).Eval(f))
	require.Equal(t, field.ExtFromUint64(0xDE), bitsByte(bits, 3).Eval(f))
	w := bitsWord(bits)
	require.Equal(t, field.ExtFromUint64(0xBE), w[1].Eval(f))
	require.Equal(t, field.ExtFromUint64(0xAD), w[2].Eval(f))
}

func TestSlotFill(t *testing.T) {
	m := air.NewMatrix(2, 8)
	slotFlag(m, 0, 4, func(s int) bool { return s == 0 })
	slotVal(m, 1, 4, func(s int) uint64 { return uint64(10 + s) })

	for row := 0; row < 8; row++ {
		wantFlag := field.NewFelt(0)
		if row%4 == 0 {
			wantFlag = field.NewFelt(1)
		}
		require.Equal(t, wantFlag, m.Get(row, 0), "row %d", row)
		require.Equal(t, field.NewFelt(uint64(10+row%4)), m.Get(row, 1), "row %d", row)
	}
}
