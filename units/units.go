// Package units converts monitor ADC codes to physical units.
package units

import (
	"math"

	"bmscore-go/x/mathx"
)

// VoltsPerCode is the LSB weight of the monitor ADC (100 µV).
const VoltsPerCode = 100e-6

// CodeToVolts converts a raw cell or GPIO code to volts.
func CodeToVolts(code uint16) float64 { return float64(code) * VoltsPerCode }

// VoltsToCode is the inverse of CodeToVolts, rounded and saturated.
func VoltsToCode(v float64) uint16 {
	return uint16(mathx.Clamp(math.Round(v/VoltsPerCode), 0, math.MaxUint16))
}

// Resistance ratio bounds; a divider reading at or beyond either rail is
// clamped instead of dividing by zero or taking the log of zero.
const (
	minRatio = 1e-3
	maxRatio = 1e3
)

// Thermistor converts a divider voltage to degrees Celsius with a 4-term
// Steinhart-Hart polynomial in ln(R/R25):
//
//	1/T = A1 + B1 ln r + C1 ln² r + D1 ln³ r
//
// The NTC sits on the low side of a divider fed from VREF2, so
// r = V / (Vref - V).
type Thermistor struct {
	A1, B1, C1, D1 float64
	// CelsiusOffset is subtracted from Kelvin. The fielded boards are
	// calibrated against 272.15.
	CelsiusOffset float64
}

// DefaultThermistor matches the 10 kΩ NTC (B25/85 ≈ 3435 K) on the slave boards.
var DefaultThermistor = Thermistor{
	A1:            3.354016e-3,
	B1:            2.569850e-4,
	C1:            2.620131e-6,
	D1:            6.383091e-8,
	CelsiusOffset: 272.15,
}

// Ratio returns the clamped NTC/reference resistance ratio for a divider
// reading v against reference vref.
func Ratio(v, vref float64) float64 {
	if vref <= 0 || v >= vref {
		return maxRatio
	}
	if v <= 0 {
		return minRatio
	}
	return mathx.Clamp(v/(vref-v), minRatio, maxRatio)
}

// Celsius converts a GPIO voltage measured against vref. An open thermistor
// (v at vref) reads very cold and a shorted one very hot, so both trip the
// temperature limits instead of producing NaN.
func (t Thermistor) Celsius(v, vref float64) float64 {
	l := math.Log(Ratio(v, vref))
	inv := t.A1 + l*(t.B1+l*(t.C1+l*t.D1))
	return 1/inv - t.CelsiusOffset
}

// Celsius converts with DefaultThermistor.
func Celsius(v, vref float64) float64 { return DefaultThermistor.Celsius(v, vref) }
