package ltc6804

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPEC15KnownVectors(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want uint16
	}{
		{"WRCFG", []byte{0x00, 0x01}, 0x3D6E},
		{"RDCFG", []byte{0x00, 0x02}, 0x2B0A},
		{"CLRCELL", []byte{0x07, 0x11}, 0xC9C0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PEC15(tc.in))
		})
	}
}

func TestPECTable(t *testing.T) {
	assert.Equal(t, uint16(0x0000), pecTable[0])
	assert.Equal(t, uint16(0xC599), pecTable[1])
}

func TestPECLowBitAlwaysZero(t *testing.T) {
	buf := []byte{0, 0, 0, 0, 0, 0}
	for i := 0; i < 256; i++ {
		buf[i%6] = byte(i * 7)
		require.Zero(t, PEC15(buf)&1)
	}
}

func TestCheckPECDetectsSingleBitFlip(t *testing.T) {
	data := []byte{0x10, 0x27, 0x20, 0x4E, 0x30, 0x75, 0, 0}
	putPEC(data, 6)
	require.True(t, checkPEC(data, 6))
	for i := 0; i < 6*8; i++ {
		data[i/8] ^= 1 << (i % 8)
		assert.False(t, checkPEC(data, 6), "bit %d", i)
		data[i/8] ^= 1 << (i % 8)
	}
}

func TestEncodeCommand(t *testing.T) {
	var b [4]byte
	encodeCommand(b[:], CmdWRCFG, -1)
	assert.Equal(t, [4]byte{0x00, 0x01, 0x3D, 0x6E}, b)

	encodeCommand(b[:], CmdRDCVA, 2)
	assert.Equal(t, byte(0x90), b[0])
	assert.Equal(t, byte(0x04), b[1])
	assert.Equal(t, [2]byte{0x1B, 0x18}, [2]byte{b[2], b[3]})

	code, addr, bc := DecodeCommand([2]byte{b[0], b[1]})
	assert.Equal(t, uint16(CmdRDCVA), code)
	assert.Equal(t, uint8(2), addr)
	assert.False(t, bc)
}

func TestConversionCodes(t *testing.T) {
	// Normal mode, DCP off, all cells: 0x360.
	assert.Equal(t, uint16(0x360), CellConversion(ModeNormal, false, CellsAll))
	assert.Equal(t, uint16(0x370), CellConversion(ModeNormal, true, CellsAll))
	assert.Equal(t, uint16(0x560), AuxConversion(ModeNormal, AuxAll))
	assert.Equal(t, uint16(0x368), OpenWireConversion(ModeNormal, true, false, CellsAll))
	assert.Equal(t, uint16(0x328), OpenWireConversion(ModeNormal, false, false, CellsAll))
}
