package ltc6804

import "errors"

// Sentinel errors (TinyGo-safe; no fmt).
var (
	ErrPEC            = errors.New("ltc6804: PEC mismatch")
	ErrConfigMismatch = errors.New("ltc6804: config readback mismatch")
	ErrStuckBit       = errors.New("ltc6804: register not cleared")
	ErrOpenWire       = errors.New("ltc6804: open sense wire")
	ErrInvalidConfig  = errors.New("ltc6804: invalid configuration")
	ErrAddress        = errors.New("ltc6804: address out of range")
)

// PECError identifies the IC and read command whose response failed the PEC check.
type PECError struct {
	Addr uint8
	Cmd  uint16
}

func (e *PECError) Error() string        { return ErrPEC.Error() }
func (e *PECError) Is(target error) bool { return target == ErrPEC }

// ConfigMismatch is one IC whose configuration did not read back as written.
type ConfigMismatch struct {
	Addr      uint8
	Want, Got ConfigRegister
}

// Byte returns the index of the first differing byte, or -1.
func (m ConfigMismatch) Byte() int {
	for i := range m.Want {
		if m.Want[i] != m.Got[i] {
			return i
		}
	}
	return -1
}

// ConfigMismatchError lists every IC that failed readback, at most once each.
type ConfigMismatchError struct {
	ICs []ConfigMismatch
}

func (e *ConfigMismatchError) Error() string        { return ErrConfigMismatch.Error() }
func (e *ConfigMismatchError) Is(target error) bool { return target == ErrConfigMismatch }

// Group names a register file.
type Group uint8

const (
	GroupCell Group = iota
	GroupAux
)

func (g Group) String() string {
	if g == GroupAux {
		return "aux"
	}
	return "cell"
}

// StuckBit is one channel that did not read 0xFFFF after a clear.
type StuckBit struct {
	Addr    uint8
	Group   Group
	Channel int
	Got     uint16
}

type StuckBitError struct {
	Bits []StuckBit
}

func (e *StuckBitError) Error() string        { return ErrStuckBit.Error() }
func (e *StuckBitError) Is(target error) bool { return target == ErrStuckBit }

// OpenPin is a C-pin (0..12) whose sense wire looks disconnected.
type OpenPin struct {
	Addr uint8
	Pin  int
}

type OpenWireError struct {
	Pins []OpenPin
}

func (e *OpenWireError) Error() string        { return ErrOpenWire.Error() }
func (e *OpenWireError) Is(target error) bool { return target == ErrOpenWire }
