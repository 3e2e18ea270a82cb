// Package telemetry turns BMS values into vehicle-bus frames and handles the
// inbound frames addressed to the box: sibling voltage and configuration
// writes.
package telemetry

import (
	"math"

	"bmscore-go/bms"
	"bmscore-go/canbus"
	"bmscore-go/errcode"
	"bmscore-go/x/mathx"
)

// Boxes share the bus; each one owns a 32-wide slice of the fault code
// byte and of the ack byte.
const (
	MaxBox     = 7
	BoxStride  = 32
	minMaxLen  = 8
	faultLen   = 8
	chargerLen = 7
)

// IDs are the identifiers a box talks on.
type IDs struct {
	MinMax     uint32
	Fault      uint32
	SiblingOut uint32
	SiblingIn  uint32
	Config     uint32
	ConfigAck  uint32
	Charger    uint32
	// Charger uses a 29-bit identifier.
	ChargerExtended bool
}

// DefaultIDs returns the identifiers of box 0 or 1 in a two-box pack.
func DefaultIDs(box uint8) IDs {
	out, in := uint32(0x610), uint32(0x611)
	if box%2 == 1 {
		out, in = in, out
	}
	return IDs{
		MinMax:          0x600 + uint32(box)*0x10 + 0x01,
		Fault:           0x100,
		SiblingOut:      out,
		SiblingIn:       in,
		Config:          0x620 + uint32(box),
		ConfigAck:       0x630,
		Charger:         0x1806E5F4,
		ChargerExtended: true,
	}
}

// VoltageSource is what the min/max frame reads.
type VoltageSource interface {
	MinVolts() bms.Extremum
	MaxVolts() bms.Extremum
}

// Encoder builds the outbound frames of one box.
type Encoder struct {
	IDs IDs
	Box uint8
}

func NewEncoder(box uint8, ids IDs) Encoder { return Encoder{IDs: ids, Box: box} }

// Decivolts quantises v to 0.1 V in one byte, truncating.
func Decivolts(v float64) byte { return byte(mathx.Clamp(v*10, 0, 255)) }

func indexByte(i int) byte { return byte(mathx.Clamp(i, 0, 255)) }

// MinMax carries the lowest cell at buf[2] (index) and buf[3] (0.1 V), and
// the highest at buf[4] and buf[5].
func (e Encoder) MinMax(src VoltageSource) canbus.Frame {
	lo, hi := src.MinVolts(), src.MaxVolts()
	f := canbus.Frame{ID: e.IDs.MinMax, Len: minMaxLen}
	f.Data[2] = indexByte(lo.Index)
	f.Data[3] = Decivolts(lo.Value)
	f.Data[4] = indexByte(hi.Index)
	f.Data[5] = Decivolts(hi.Value)
	return f
}

// codeByte places a wire code in this box's slice of the code space.
func (e Encoder) codeByte(code errcode.Code) byte {
	return code.Wire() + e.Box*BoxStride
}

// FaultSimple is a bare fault code.
func (e Encoder) FaultSimple(code errcode.Code) canbus.Frame {
	f := canbus.Frame{ID: e.IDs.Fault, Len: faultLen}
	f.Data[7] = e.codeByte(code)
	return f
}

// FaultData adds a 32-bit payload at buf[6..3], big-endian.
func (e Encoder) FaultData(code errcode.Code, data uint32) canbus.Frame {
	f := e.FaultSimple(code)
	f.Data[6] = byte(data >> 24)
	f.Data[5] = byte(data >> 16)
	f.Data[4] = byte(data >> 8)
	f.Data[3] = byte(data)
	return f
}

// FaultFull adds an index byte at buf[2].
func (e Encoder) FaultFull(code errcode.Code, data uint32, index byte) canbus.Frame {
	f := e.FaultData(code, data)
	f.Data[2] = index
	return f
}

// Fault encodes a critical frame. buf[0] carries the fault kind. Channel
// faults put slave<<4|channel in the index byte and the raw code in the
// payload; limit faults put the flat index there and the value in
// thousandths; current faults carry milliamps.
func (e Encoder) Fault(c bms.CriticalFrame) canbus.Frame {
	var f canbus.Frame
	switch {
	case c.Volts.Index != bms.NoIndex:
		f = e.FaultFull(c.Code, milli(c.Volts.Value), indexByte(c.Volts.Index))
	case c.Temp.Index != bms.NoIndex:
		f = e.FaultFull(c.Code, milli(c.Temp.Value), indexByte(c.Temp.Index))
	case c.Kind == bms.KindCurrent:
		f = e.FaultData(c.Code, milli(c.Amps))
	case c.Slave != bms.NoIndex && c.Channel != bms.NoIndex:
		f = e.FaultFull(c.Code, uint32(c.Raw), byte(c.Slave&0x0F)<<4|byte(c.Channel&0x0F))
	case c.Slave != bms.NoIndex:
		f = e.FaultFull(c.Code, 0, byte(c.Slave&0x0F)<<4)
	default:
		f = e.FaultSimple(c.Code)
	}
	f.Data[0] = byte(c.Kind)
	return f
}

// milli encodes v as signed thousandths.
func milli(v float64) uint32 {
	return uint32(mathx.RoundTo[int32](v*1000, math.MinInt32, math.MaxInt32))
}

// DecodeFault splits a fault frame into box and code.
func DecodeFault(f canbus.Frame) (box uint8, code errcode.Code, data uint32, index byte) {
	b := f.Data[7]
	data = uint32(f.Data[6])<<24 | uint32(f.Data[5])<<16 | uint32(f.Data[4])<<8 | uint32(f.Data[3])
	return b / BoxStride, errcode.FromWire(b % BoxStride), data, f.Data[2]
}

// Sibling carries the pack voltage, ×100, big-endian in buf[6..7].
func (e Encoder) Sibling(volts float64) canbus.Frame {
	f := canbus.Frame{ID: e.IDs.SiblingOut, Len: 8}
	v := mathx.RoundTo[uint16](volts*100, 0, math.MaxUint16)
	f.Data[6], f.Data[7] = byte(v>>8), byte(v)
	return f
}

// Ack acknowledges a configuration write.
func (e Encoder) Ack() canbus.Frame {
	f := canbus.Frame{ID: e.IDs.ConfigAck, Len: 1}
	f.Data[0] = e.Box * BoxStride
	return f
}

// Charger builds the charger command: 0x80 0x01 0xF4, volts (1 V) and amps
// (0.1 A), both big-endian.
func (e Encoder) Charger(volts, amps float64) canbus.Frame {
	f := canbus.Frame{ID: e.IDs.Charger, Extended: e.IDs.ChargerExtended, Len: chargerLen}
	f.Data[0], f.Data[1], f.Data[2] = 0x80, 0x01, 0xF4
	v := mathx.RoundTo[uint16](volts, 0, math.MaxUint16)
	a := mathx.RoundTo[uint16](amps*10, 0, math.MaxUint16)
	f.Data[3], f.Data[4] = byte(v>>8), byte(v)
	f.Data[5], f.Data[6] = byte(a>>8), byte(a)
	return f
}
