// Package current provides pack current/voltage sources for the BMS: a
// CAN-fed shunt (IVT) and a fixed stand-in for bench work.
package current

import (
	"context"
	"log/slog"
	"sync"

	"bmscore-go/canbus"
)

// Default IVT identifiers.
const (
	CurrentID = 0x521
	VoltageID = 0x522
)

// Invalid is reported for amps and volts after an unrecognised frame.
const Invalid = 999

// Measurement is one tick's view of the sensor.
type Measurement struct {
	Fresh bool
	Amps  float64
	Volts float64
}

// Sensor is a current source polled once per BMS tick. Update may be
// called from the receive path concurrently with Tick.
type Sensor interface {
	canbus.Listener
	Tick() Measurement
}

// IVT decodes the IVT shunt result frames: a signed 32-bit big-endian value
// in milliamps or millivolts at bytes 2..5.
type IVT struct {
	mu    sync.Mutex
	amps  float64
	volts float64
	fresh bool

	ids [2]uint32
	log *slog.Logger
}

// NewIVT returns a sensor on the default identifiers. It starts stale.
func NewIVT(log *slog.Logger) *IVT { return NewIVTWithIDs(CurrentID, VoltageID, log) }

func NewIVTWithIDs(currentID, voltageID uint32, log *slog.Logger) *IVT {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &IVT{ids: [2]uint32{currentID, voltageID}, log: log}
}

func (s *IVT) IDs() []uint32 { return s.ids[:] }

// Update caches the value carried by f and marks the pair fresh. With debug
// logging enabled a frame with any other identifier invalidates both values;
// otherwise it is ignored.
func (s *IVT) Update(f canbus.Frame) {
	v := float64(int32(uint32(f.Data[2])<<24|uint32(f.Data[3])<<16|uint32(f.Data[4])<<8|uint32(f.Data[5]))) * 0.001

	s.mu.Lock()
	defer s.mu.Unlock()
	switch f.ID {
	case s.ids[0]:
		s.amps = v
		s.fresh = true
	case s.ids[1]:
		s.volts = v
		s.fresh = true
	default:
		if !s.log.Enabled(context.Background(), slog.LevelDebug) {
			return
		}
		s.amps, s.volts = Invalid, Invalid
		s.fresh = false
		s.log.Debug("ivt: unexpected frame", "id", f.ID)
	}
}

// Tick reports the cached pair and consumes its freshness: the first Tick
// after an Update is fresh, later ones are stale until the next Update.
func (s *IVT) Tick() Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := Measurement{Fresh: s.fresh, Amps: s.amps, Volts: s.volts}
	s.fresh = false
	return m
}

// Fixed always reports the same fresh values and ignores the bus.
type Fixed struct {
	Amps, Volts float64
}

func NewFixed(amps, volts float64) *Fixed { return &Fixed{Amps: amps, Volts: volts} }

func (*Fixed) IDs() []uint32       { return nil }
func (*Fixed) Update(canbus.Frame) {}
func (s *Fixed) Tick() Measurement { return Measurement{Fresh: true, Amps: s.Amps, Volts: s.Volts} }
