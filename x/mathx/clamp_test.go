package mathx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(9, 0, 5))
	assert.Equal(t, 0, Clamp(-3, 0, 5))
	assert.Equal(t, 2.5, Clamp(2.5, 5, 0))
	assert.Equal(t, 3, Min(3, 4))
}

func TestRoundTo(t *testing.T) {
	assert.Equal(t, uint16(37123), RoundTo[uint16](371.23*100, 0, math.MaxUint16))
	assert.Equal(t, uint16(math.MaxUint16), RoundTo[uint16](1e9, 0, math.MaxUint16))
	assert.Equal(t, int16(-125), RoundTo[int16](-12.5*10, math.MinInt16, math.MaxInt16))
	assert.Equal(t, int32(math.MinInt32), RoundTo[int32](-1e12, math.MinInt32, math.MaxInt32))
	assert.Equal(t, uint8(0), RoundTo[uint8](math.NaN(), 0, 255))
}
