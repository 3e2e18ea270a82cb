package errcode

import (
	"errors"

	"bmscore-go/drivers/ltc6804"
)

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	InvalidParams Code = "invalid_params"
	Timeout       Code = "timeout"

	// Front-end.
	PECMismatch    Code = "pec_mismatch"
	ConfigMismatch Code = "config_mismatch"
	StuckBit       Code = "stuck_bit"
	OpenWire       Code = "open_wire"

	// Measurements.
	CurrentStale Code = "current_stale"
	OverVoltage  Code = "over_voltage"
	UnderVoltage Code = "under_voltage"
	OverTemp     Code = "over_temp"
	UnderTemp    Code = "under_temp"

	// Supervision.
	CycleOverrun Code = "cycle_overrun"
	Faulted      Code = "faulted"
	StoreInvalid Code = "store_invalid"

	Error Code = "error" // generic fallback
)

// Wire codes carried in the last byte of a fault frame. They stay below 32
// so the box offset (box id * 32) can be added.
var wire = map[Code]byte{
	OK:             0,
	PECMismatch:    1,
	ConfigMismatch: 2,
	StuckBit:       3,
	OpenWire:       4,
	CurrentStale:   5,
	OverVoltage:    6,
	UnderVoltage:   7,
	OverTemp:       8,
	UnderTemp:      9,
	CycleOverrun:   10,
	Faulted:        11,
	InvalidParams:  12,
	StoreInvalid:   13,
	Timeout:        14,
	Error:          31,
}

// Wire returns the fault-frame byte for c (unknown codes map to Error).
func (c Code) Wire() byte {
	if b, ok := wire[c]; ok {
		return b
	}
	return wire[Error]
}

// FromWire is the inverse of Wire after the box offset has been removed.
func FromWire(b byte) Code {
	for c, w := range wire {
		if w == b&0x1F {
			return c
		}
	}
	return Error
}

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return MapDriverErr(err)
}

// MapDriverErr maps low-level driver errors to a Code.
func MapDriverErr(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ltc6804.ErrPEC):
		return PECMismatch
	case errors.Is(err, ltc6804.ErrConfigMismatch):
		return ConfigMismatch
	case errors.Is(err, ltc6804.ErrStuckBit):
		return StuckBit
	case errors.Is(err, ltc6804.ErrOpenWire):
		return OpenWire
	case errors.Is(err, ltc6804.ErrInvalidConfig), errors.Is(err, ltc6804.ErrAddress):
		return InvalidParams
	}
	return Error
}
