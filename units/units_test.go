package units

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeToVolts(t *testing.T) {
	assert.InDelta(t, 1.0, CodeToVolts(10000), 1e-6)
	assert.InDelta(t, 0.0, CodeToVolts(0), 1e-12)
	assert.InDelta(t, 6.5535, CodeToVolts(0xFFFF), 1e-6)
}

func TestVoltsToCode(t *testing.T) {
	assert.Equal(t, uint16(36000), VoltsToCode(3.6))
	assert.Equal(t, uint16(0), VoltsToCode(-1))
	assert.Equal(t, uint16(0xFFFF), VoltsToCode(100))
	assert.Equal(t, uint16(12345), VoltsToCode(CodeToVolts(12345)))
}

func TestCelsiusAtUnityRatio(t *testing.T) {
	// r = 1 gives 1/A1 Kelvin.
	got := Celsius(1.5, 3.0)
	assert.InDelta(t, 1/DefaultThermistor.A1-272.15, got, 1e-9)
	assert.InDelta(t, 26.0, got, 1e-3)
}

func TestCelsiusMonotonic(t *testing.T) {
	// Higher divider voltage means higher NTC resistance, so colder.
	prev := math.Inf(1)
	for v := 0.2; v < 3.0; v += 0.2 {
		c := Celsius(v, 3.0)
		assert.Less(t, c, prev, "v=%.1f", v)
		prev = c
	}
}

func TestCelsiusGuardsRails(t *testing.T) {
	open := Celsius(3.0, 3.0)
	short := Celsius(0, 3.0)
	noRef := Celsius(1.0, 0)

	for _, c := range []float64{open, short, noRef} {
		assert.False(t, math.IsNaN(c))
		assert.False(t, math.IsInf(c, 0))
	}
	assert.Less(t, open, -50.0)
	assert.Greater(t, short, 100.0)
	assert.Equal(t, open, noRef)
}

func TestCelsiusOffsetTunable(t *testing.T) {
	th := DefaultThermistor
	th.CelsiusOffset = 273.15
	assert.InDelta(t, Celsius(1.5, 3.0)-1, th.Celsius(1.5, 3.0), 1e-9)
}

func TestRatio(t *testing.T) {
	assert.InDelta(t, 1.0, Ratio(1, 2), 1e-12)
	assert.InDelta(t, 0.5, Ratio(1, 3), 1e-12)
	assert.Equal(t, maxRatio, Ratio(3, 3))
	assert.Equal(t, minRatio, Ratio(-0.1, 3))
}
