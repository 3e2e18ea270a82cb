package ltc6804

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigRegister(t *testing.T) {
	r := DefaultConfigRegister()
	assert.Equal(t, ConfigRegister{0xFC, 0, 0, 0, 0, 0}, r)
	assert.True(t, r.RefOn())
	assert.Equal(t, uint8(0x1F), r.GPIOPulldownOff())
}

func TestConfigRegisterThresholds(t *testing.T) {
	var r ConfigRegister
	r.SetUndervoltage(2000)
	r.SetOvervoltage(5000)

	// VUV = 2.0 V / 1.6 mV - 1 = 1249 (0x4E1); VOV = 5.0 V / 1.6 mV = 3125 (0xC35).
	assert.Equal(t, byte(0xE1), r[1])
	assert.Equal(t, byte(0x54), r[2])
	assert.Equal(t, byte(0xC3), r[3])
	assert.Equal(t, uint32(2000), r.Undervoltage())
	assert.Equal(t, uint32(5000), r.Overvoltage())

	r.SetOvervoltage(1 << 20)
	assert.Equal(t, byte(0xFF), r[3])
	assert.Equal(t, byte(0xF4), r[2], "VUV high nibble untouched")
}

func TestConfigRegisterDischarge(t *testing.T) {
	var r ConfigRegister
	r.SetDischarge(1, true)
	r.SetDischarge(8, true)
	r.SetDischarge(9, true)
	r.SetDischarge(12, true)
	r.SetDischarge(13, true) // ignored
	r.SetDischargeTimeout(0x3)

	assert.Equal(t, byte(0x81), r[4])
	assert.Equal(t, byte(0x39), r[5])
	assert.True(t, r.Discharging(12))
	assert.False(t, r.Discharging(2))
	assert.Equal(t, uint8(3), r.DischargeTimeout())

	r.SetDischarge(8, false)
	assert.Equal(t, byte(0x01), r[4])
}

func TestRangeValid(t *testing.T) {
	assert.True(t, Range{0, 12}.Valid(CellChannels))
	assert.True(t, Range{3, 4}.Valid(CellChannels))
	assert.False(t, Range{4, 4}.Valid(CellChannels))
	assert.False(t, Range{0, 13}.Valid(CellChannels))
	assert.False(t, Range{-1, 2}.Valid(CellChannels))
	assert.Equal(t, 10, Range{0, 10}.Len())
}
