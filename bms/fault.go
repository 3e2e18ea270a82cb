package bms

import (
	"errors"
	"fmt"

	"bmscore-go/drivers/ltc6804"
	"bmscore-go/errcode"
)

// FaultKind is the sentinel carried in the first byte of a fault frame.
type FaultKind int8

const (
	KindCritical FaultKind = -10
	KindPEC      FaultKind = -1
	KindCurrent  FaultKind = -2
)

func (k FaultKind) String() string {
	switch k {
	case KindCritical:
		return "critical"
	case KindPEC:
		return "pec"
	case KindCurrent:
		return "current"
	}
	return fmt.Sprintf("kind(%d)", int8(k))
}

// NoIndex marks an Extremum or location field that does not apply.
const NoIndex = -1

// Extremum is a converted value and the flat index it was found at.
type Extremum struct {
	Value float64
	Index int
}

// CriticalFrame is the record handed to the fault handler.
type CriticalFrame struct {
	Kind FaultKind
	Code errcode.Code

	// Location, NoIndex when the fault is not tied to one channel.
	Slave   int
	Channel int
	Raw     uint16

	// Values attached to limit and current faults.
	Volts Extremum
	Temp  Extremum
	Amps  float64

	Err error
}

func (f CriticalFrame) String() string {
	s := fmt.Sprintf("%s/%s", f.Kind, f.Code)
	if f.Slave != NoIndex {
		s += fmt.Sprintf(" slave=%d", f.Slave)
	}
	if f.Channel != NoIndex {
		s += fmt.Sprintf(" ch=%d", f.Channel)
	}
	return s
}

// NewFrame returns a frame with every location and value marked NoIndex.
func NewFrame(kind FaultKind, code errcode.Code) CriticalFrame {
	return CriticalFrame{
		Kind:    kind,
		Code:    code,
		Slave:   NoIndex,
		Channel: NoIndex,
		Volts:   Extremum{Index: NoIndex},
		Temp:    Extremum{Index: NoIndex},
	}
}

// framesFor expands a front-end error into one frame per offending IC,
// channel or pin.
func framesFor(err error) []CriticalFrame {
	var (
		pec   *ltc6804.PECError
		cfg   *ltc6804.ConfigMismatchError
		stuck *ltc6804.StuckBitError
		open  *ltc6804.OpenWireError
	)
	switch {
	case errors.As(err, &pec):
		f := NewFrame(KindPEC, errcode.PECMismatch)
		f.Slave = int(pec.Addr)
		f.Err = err
		return []CriticalFrame{f}
	case errors.As(err, &cfg):
		out := make([]CriticalFrame, 0, len(cfg.ICs))
		for _, ic := range cfg.ICs {
			f := NewFrame(KindCritical, errcode.ConfigMismatch)
			f.Slave = int(ic.Addr)
			f.Channel = ic.Byte()
			f.Err = err
			out = append(out, f)
		}
		return out
	case errors.As(err, &stuck):
		out := make([]CriticalFrame, 0, len(stuck.Bits))
		for _, b := range stuck.Bits {
			f := NewFrame(KindCritical, errcode.StuckBit)
			f.Slave = int(b.Addr)
			f.Channel = b.Channel
			f.Raw = b.Got
			f.Err = err
			out = append(out, f)
		}
		return out
	case errors.As(err, &open):
		out := make([]CriticalFrame, 0, len(open.Pins))
		for _, p := range open.Pins {
			f := NewFrame(KindCritical, errcode.OpenWire)
			f.Slave = int(p.Addr)
			f.Channel = p.Pin
			f.Err = err
			out = append(out, f)
		}
		return out
	}
	f := NewFrame(KindCritical, errcode.Of(err))
	f.Err = err
	return []CriticalFrame{f}
}
