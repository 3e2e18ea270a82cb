package store

import (
	"math"
	"time"

	"bmscore-go/drivers/ltc6804"
)

// Image layout. Multi-byte fields are big-endian; thresholds are signed
// fixed point x100 (volts or degrees Celsius).
const (
	AddrValidity  = 0
	AddrMode      = 1
	AddrSlaves    = 2
	AddrMaxCycle  = 3 // u16 milliseconds
	AddrCellStart = 5
	AddrCellEnd   = 6
	AddrAuxStart  = 7
	AddrAuxEnd    = 8
	AddrUnderVolt = 9
	AddrOverVolt  = 11
	AddrUnderTemp = 13
	AddrOverTemp  = 15
	AddrICConfig  = 17 // 6 bytes
	LayoutSize    = AddrICConfig + ltc6804.GroupBytes

	// ValidMarker in the validity byte selects the stored values. Anything
	// else (erased 0xFF included) selects the compiled-in defaults.
	ValidMarker   = 0xA5
	InvalidMarker = 0xFF
)

// Mode is the operating mode of the pack.
type Mode uint8

const (
	ModeDrive Mode = iota
	ModeCharge
)

func (m Mode) String() string {
	if m == ModeCharge {
		return "charge"
	}
	return "drive"
}

// Settings are the battery parameters, read once at boot and passed by value.
type Settings struct {
	Mode     Mode
	Slaves   int
	MaxCycle time.Duration
	Cells    ltc6804.Range
	Aux      ltc6804.Range

	UnderVoltage, OverVoltage float64 // per cell, volts
	UnderTemp, OverTemp       float64 // Celsius

	IC ltc6804.ConfigRegister
}

// Defaults are used when the store carries no valid image.
func Defaults() Settings {
	ic := ltc6804.DefaultConfigRegister()
	ic.SetUndervoltage(2000)
	ic.SetOvervoltage(5000)
	return Settings{
		Mode:         ModeDrive,
		Slaves:       1,
		MaxCycle:     500 * time.Millisecond,
		Cells:        ltc6804.Range{Start: 0, End: 10},
		Aux:          ltc6804.Range{Start: 0, End: ltc6804.GPIOChannels},
		UnderVoltage: 2,
		OverVoltage:  5,
		UnderTemp:    -10,
		OverTemp:     100,
		IC:           ic,
	}
}

// Validate checks s without modifying it.
func (s Settings) Validate() error {
	switch {
	case s.Mode > ModeCharge:
		return ErrCorrupt
	case s.Slaves < 1 || s.Slaves > ltc6804.MaxAddress+1:
		return ErrCorrupt
	case s.MaxCycle <= 0 || s.MaxCycle > math.MaxUint16*time.Millisecond:
		return ErrCorrupt
	case !s.Cells.Valid(ltc6804.CellChannels) || !s.Aux.Valid(ltc6804.GPIOChannels):
		return ErrCorrupt
	case s.UnderVoltage >= s.OverVoltage || s.UnderTemp >= s.OverTemp:
		return ErrCorrupt
	}
	for _, v := range []float64{s.UnderVoltage, s.OverVoltage, s.UnderTemp, s.OverTemp} {
		if v*100 < math.MinInt16 || v*100 > math.MaxInt16 {
			return ErrCorrupt
		}
	}
	return nil
}

// Load returns the stored settings when the validity byte is set and the
// image validates. With no valid image it writes def to the store and
// returns it. A marked but inconsistent image yields def and ErrCorrupt.
// fromStore reports whether the stored image was used.
func Load(st Store, def Settings) (s Settings, fromStore bool, err error) {
	flag, err := st.Get(AddrValidity)
	if err != nil {
		return def, false, err
	}
	if flag != ValidMarker {
		return def, false, Save(st, def)
	}
	var img [LayoutSize]byte
	for i := range img {
		if img[i], err = st.Get(uint16(i)); err != nil {
			return def, false, err
		}
	}
	s = decode(img)
	if err := s.Validate(); err != nil {
		return def, false, err
	}
	return s, true, nil
}

// Save writes s and then marks the image valid.
func Save(st Store, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	img := encode(s)
	for i := 1; i < LayoutSize; i++ {
		if err := st.Put(uint16(i), img[i]); err != nil {
			return err
		}
	}
	return st.Put(AddrValidity, ValidMarker)
}

// Invalidate clears the validity byte so the next Load restores defaults.
func Invalidate(st Store) error { return st.Put(AddrValidity, InvalidMarker) }

// Dump reads the raw image.
func Dump(st Store) ([]byte, error) {
	out := make([]byte, LayoutSize)
	for i := range out {
		b, err := st.Get(uint16(i))
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func encode(s Settings) (img [LayoutSize]byte) {
	img[AddrValidity] = ValidMarker
	img[AddrMode] = byte(s.Mode)
	img[AddrSlaves] = byte(s.Slaves)
	putU16(img[:], AddrMaxCycle, uint16(s.MaxCycle/time.Millisecond))
	img[AddrCellStart] = byte(s.Cells.Start)
	img[AddrCellEnd] = byte(s.Cells.End)
	img[AddrAuxStart] = byte(s.Aux.Start)
	img[AddrAuxEnd] = byte(s.Aux.End)
	putFixed(img[:], AddrUnderVolt, s.UnderVoltage)
	putFixed(img[:], AddrOverVolt, s.OverVoltage)
	putFixed(img[:], AddrUnderTemp, s.UnderTemp)
	putFixed(img[:], AddrOverTemp, s.OverTemp)
	copy(img[AddrICConfig:], s.IC[:])
	return img
}

func decode(img [LayoutSize]byte) (s Settings) {
	s.Mode = Mode(img[AddrMode])
	s.Slaves = int(img[AddrSlaves])
	s.MaxCycle = time.Duration(u16(img[:], AddrMaxCycle)) * time.Millisecond
	s.Cells = ltc6804.Range{Start: int(img[AddrCellStart]), End: int(img[AddrCellEnd])}
	s.Aux = ltc6804.Range{Start: int(img[AddrAuxStart]), End: int(img[AddrAuxEnd])}
	s.UnderVoltage = fixed(img[:], AddrUnderVolt)
	s.OverVoltage = fixed(img[:], AddrOverVolt)
	s.UnderTemp = fixed(img[:], AddrUnderTemp)
	s.OverTemp = fixed(img[:], AddrOverTemp)
	copy(s.IC[:], img[AddrICConfig:])
	return s
}

func putU16(b []byte, at int, v uint16) { b[at], b[at+1] = byte(v>>8), byte(v) }
func u16(b []byte, at int) uint16       { return uint16(b[at])<<8 | uint16(b[at+1]) }

func putFixed(b []byte, at int, v float64) { putU16(b, at, uint16(int16(math.Round(v*100)))) }
func fixed(b []byte, at int) float64       { return float64(int16(u16(b, at))) / 100 }
