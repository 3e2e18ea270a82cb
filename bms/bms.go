// Package bms owns the cell and temperature caches of a chain of LTC6804
// monitors, runs the startup self-test and turns every measurement cycle into
// published data or a fault.
package bms

import (
	"log/slog"
	"math"
	"sync"

	"bmscore-go/drivers/ltc6804"
	"bmscore-go/errcode"
	"bmscore-go/sensors/current"
	"bmscore-go/store"
	"bmscore-go/units"
)

// ErrFaulted is returned by Tick once a front-end fault has stopped the
// aggregate.
var ErrFaulted error = errcode.Faulted

// FrontEnd is the measurement chain. *ltc6804.Stack implements it.
type FrontEnd interface {
	Len() int
	WriteConfig(reg ltc6804.ConfigRegister) error
	VerifyConfig(reg ltc6804.ConfigRegister) error
	ClearAll() error
	CheckCleared(cells, aux ltc6804.Range) error
	Settle() error
	ConvertAndReadCells(dst []uint16, r ltc6804.Range) error
	ConvertAndReadAux(gpio, ref []uint16, r ltc6804.Range) error
}

// OpenWireDiagnoser is implemented by front ends that can check sense wires.
type OpenWireDiagnoser interface {
	DiagnoseOpenWire(r ltc6804.Range) error
}

// Limits are the pack safety thresholds, checked after every publish.
type Limits struct {
	UnderVoltage, OverVoltage float64 // volts per cell
	UnderTemp, OverTemp       float64 // °C
}

// Params configure New. FrontEnd, Current and OnFault are required.
type Params struct {
	FrontEnd FrontEnd
	Current  current.Sensor
	OnFault  func(CriticalFrame)

	Cells  ltc6804.Range
	Aux    ltc6804.Range
	Config ltc6804.ConfigRegister

	// Nil disables limit checks.
	Limits *Limits

	// Run the open-wire diagnostic during startup when the front end
	// supports it.
	OpenWireCheck bool

	// Conversions; nil selects the package units defaults. A NaN from
	// Celsius marks an unusable sensor and is left out of the extrema.
	Volts   func(code uint16) float64
	Celsius func(v, vref float64) float64

	Logger *slog.Logger
}

// ParamsFrom fills the battery parameters of a Params from stored settings.
func ParamsFrom(s store.Settings) Params {
	return Params{
		Cells:  s.Cells,
		Aux:    s.Aux,
		Config: s.IC,
		Limits: &Limits{
			UnderVoltage: s.UnderVoltage,
			OverVoltage:  s.OverVoltage,
			UnderTemp:    s.UnderTemp,
			OverTemp:     s.OverTemp,
		},
	}
}

// BMS is the battery aggregate. Tick is meant to be driven by one goroutine;
// queries are safe from any goroutine.
type BMS struct {
	mu    sync.RWMutex
	state State

	fe      FrontEnd
	sensor  current.Sensor
	onFault func(CriticalFrame)
	log     *slog.Logger

	n         int
	cellRange ltc6804.Range
	auxRange  ltc6804.Range
	cfg       ltc6804.ConfigRegister
	limits    *Limits
	volts     func(uint16) float64
	celsius   func(v, vref float64) float64
	openWire  bool

	// Published caches.
	cells Matrix
	aux   Matrix
	ref   []uint16
	meas  current.Measurement
	ticks uint64

	// Scratch filled by the front end, copied out only on success.
	cellBuf []uint16
	auxBuf  []uint16
	refBuf  []uint16
}

// New validates p, allocates the caches and runs the startup sequence:
// write config, verify readback, clear, check for stuck bits, optionally
// test for open wires, then one discarded conversion. Any failure is
// reported to OnFault and returned; the aggregate is not usable then.
func New(p Params) (*BMS, error) {
	b, err := build(p)
	if err != nil {
		return nil, err
	}
	if err := b.startup(); err != nil {
		return nil, err
	}
	return b, nil
}

func build(p Params) (*BMS, error) {
	const op = "bms.new"
	switch {
	case p.FrontEnd == nil, p.Current == nil, p.OnFault == nil:
		return nil, &errcode.E{C: errcode.InvalidParams, Op: op, Msg: "front end, current sensor and fault handler are required"}
	case p.FrontEnd.Len() < 1:
		return nil, &errcode.E{C: errcode.InvalidParams, Op: op, Msg: "empty chain"}
	case !p.Cells.Valid(ltc6804.CellChannels):
		return nil, &errcode.E{C: errcode.InvalidParams, Op: op, Msg: "cell range"}
	case !p.Aux.Valid(ltc6804.GPIOChannels):
		return nil, &errcode.E{C: errcode.InvalidParams, Op: op, Msg: "aux range"}
	}
	if p.Volts == nil {
		p.Volts = units.CodeToVolts
	}
	if p.Celsius == nil {
		p.Celsius = units.Celsius
	}
	if p.Logger == nil {
		p.Logger = slog.New(slog.DiscardHandler)
	}
	n := p.FrontEnd.Len()
	return &BMS{
		fe:        p.FrontEnd,
		sensor:    p.Current,
		onFault:   p.OnFault,
		log:       p.Logger,
		n:         n,
		cellRange: p.Cells,
		auxRange:  p.Aux,
		cfg:       p.Config,
		limits:    p.Limits,
		volts:     p.Volts,
		celsius:   p.Celsius,
		openWire:  p.OpenWireCheck,
		cells:     NewMatrix(n, p.Cells.Len()),
		aux:       NewMatrix(n, p.Aux.Len()),
		ref:       make([]uint16, n),
		cellBuf:   make([]uint16, n*p.Cells.Len()),
		auxBuf:    make([]uint16, n*p.Aux.Len()),
		refBuf:    make([]uint16, n),
	}, nil
}

func (b *BMS) startup() error {
	steps := []struct {
		state State
		op    string
		run   func() error
	}{
		{Configuring, "bms.write_config", func() error { return b.fe.WriteConfig(b.cfg) }},
		{Verifying, "bms.verify_config", func() error { return b.fe.VerifyConfig(b.cfg) }},
		{Clearing, "bms.clear", b.fe.ClearAll},
		{SelfTesting, "bms.stuck_bits", func() error { return b.fe.CheckCleared(b.cellRange, b.auxRange) }},
		{SelfTesting, "bms.open_wire", b.checkOpenWire},
		{SelfTesting, "bms.settle", b.fe.Settle},
	}
	for _, s := range steps {
		b.setState(s.state)
		if err := s.run(); err != nil {
			return b.fail(s.op, err)
		}
	}
	b.setState(Ready)
	b.log.Info("front end ready", "slaves", b.n, "cells", b.cellRange.Len(), "aux", b.auxRange.Len())
	return nil
}

func (b *BMS) checkOpenWire() error {
	if !b.openWire {
		return nil
	}
	ow, ok := b.fe.(OpenWireDiagnoser)
	if !ok {
		b.log.Warn("open-wire check requested but front end does not support it")
		return nil
	}
	return ow.DiagnoseOpenWire(b.cellRange)
}

func (b *BMS) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// fail escalates err, moves to Faulted and returns the classified error.
func (b *BMS) fail(op string, err error) error {
	b.setState(Faulted)
	frames := framesFor(err)
	b.log.Error("front end fault", "op", op, "code", string(frames[0].Code), "frames", len(frames), "err", err)
	for _, f := range frames {
		b.onFault(f)
	}
	return &errcode.E{C: frames[0].Code, Op: op, Err: err}
}

// Tick runs one measurement cycle: rewrite config, convert and read cells,
// convert and read aux, poll the current sensor, then publish. Nothing is
// published unless every read passed. A stale current sensor is escalated
// but does not stop the cycle or the aggregate; limit breaches are escalated
// after publishing. Any front-end failure is terminal.
func (b *BMS) Tick() error {
	b.mu.Lock()
	switch b.state {
	case Ready:
	case Faulted:
		b.mu.Unlock()
		return ErrFaulted
	default:
		b.mu.Unlock()
		return &errcode.E{C: errcode.Error, Op: "bms.tick", Msg: "not ready: " + b.state.String()}
	}
	b.state = Ticking
	cfg := b.cfg
	b.mu.Unlock()

	if err := b.fe.WriteConfig(cfg); err != nil {
		return b.fail("bms.tick.write_config", err)
	}
	if err := b.fe.ConvertAndReadCells(b.cellBuf, b.cellRange); err != nil {
		return b.fail("bms.tick.cells", err)
	}
	if err := b.fe.ConvertAndReadAux(b.auxBuf, b.refBuf, b.auxRange); err != nil {
		return b.fail("bms.tick.aux", err)
	}
	m := b.sensor.Tick()

	b.mu.Lock()
	copy(b.cells.data, b.cellBuf)
	copy(b.aux.data, b.auxBuf)
	copy(b.ref, b.refBuf)
	b.meas = m
	b.ticks++
	b.state = Ready
	frames := b.limitFrames()
	b.mu.Unlock()

	if !m.Fresh {
		f := NewFrame(KindCurrent, errcode.CurrentStale)
		f.Amps = m.Amps
		b.log.Warn("current sensor stale", "amps", m.Amps)
		b.onFault(f)
	}
	for _, f := range frames {
		b.log.Warn("limit breached", "code", string(f.Code), "volts", f.Volts.Value, "temp", f.Temp.Value)
		b.onFault(f)
	}
	return nil
}

// limitFrames must be called with b.mu held.
func (b *BMS) limitFrames() []CriticalFrame {
	if b.limits == nil {
		return nil
	}
	var out []CriticalFrame
	add := func(code errcode.Code, v, t Extremum) {
		f := NewFrame(KindCritical, code)
		f.Volts, f.Temp = v, t
		out = append(out, f)
	}
	none := Extremum{Index: NoIndex}
	if v := b.minVolts(); v.Value < b.limits.UnderVoltage {
		add(errcode.UnderVoltage, v, none)
	}
	if v := b.maxVolts(); v.Value > b.limits.OverVoltage {
		add(errcode.OverVoltage, v, none)
	}
	if t := b.minTemp(); t.Value < b.limits.UnderTemp {
		add(errcode.UnderTemp, none, t)
	}
	if t := b.maxTemp(); t.Value > b.limits.OverTemp {
		add(errcode.OverTemp, none, t)
	}
	return out
}

// State returns the lifecycle state.
func (b *BMS) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Ticks counts published cycles.
func (b *BMS) Ticks() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ticks
}

// Slaves returns the chain length.
func (b *BMS) Slaves() int { return b.n }

// CellRange and AuxRange return the selected channel windows.
func (b *BMS) CellRange() ltc6804.Range { return b.cellRange }
func (b *BMS) AuxRange() ltc6804.Range  { return b.auxRange }

// Config returns the configuration rewritten every cycle.
func (b *BMS) Config() ltc6804.ConfigRegister {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// SetConfig replaces the configuration; it takes effect on the next Tick.
func (b *BMS) SetConfig(reg ltc6804.ConfigRegister) {
	b.mu.Lock()
	b.cfg = reg
	b.mu.Unlock()
}

// CellCodes returns a copy of the published cell matrix.
func (b *BMS) CellCodes() Matrix {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cells.Clone()
}

// AuxCodes returns a copy of the published GPIO matrix.
func (b *BMS) AuxCodes() Matrix {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.aux.Clone()
}

// RefCodes returns a copy of the per-slave VREF2 codes.
func (b *BMS) RefCodes() []uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]uint16(nil), b.ref...)
}

// Current returns the measurement taken in the last published cycle.
func (b *BMS) Current() current.Measurement {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meas
}

// CellVolts returns cell idx (flat index) in volts.
func (b *BMS) CellVolts(idx int) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.volts(b.cells.Flat(idx))
}

// Temp returns aux channel idx (flat index) in °C, referenced to its
// slave's VREF2.
func (b *BMS) Temp(idx int) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.temp(idx)
}

func (b *BMS) temp(idx int) float64 {
	slave, _ := b.aux.Split(idx)
	return b.celsius(b.volts(b.aux.Flat(idx)), b.volts(b.ref[slave]))
}

// MinVolts returns the lowest cell in volts. Ties keep the first index.
func (b *BMS) MinVolts() Extremum {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.minVolts()
}

// MaxVolts returns the highest cell in volts. Ties keep the first index.
func (b *BMS) MaxVolts() Extremum {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxVolts()
}

// MinTemp returns the coldest sensor in °C. Ties keep the first index.
func (b *BMS) MinTemp() Extremum {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.minTemp()
}

// MaxTemp returns the hottest sensor in °C. Ties keep the first index.
func (b *BMS) MaxTemp() Extremum {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxTemp()
}

// Codes are compared raw; the conversion is monotonic.
func (b *BMS) minVolts() Extremum {
	idx := 0
	for i, c := range b.cells.data {
		if c < b.cells.data[idx] {
			idx = i
		}
	}
	return Extremum{Value: b.volts(b.cells.data[idx]), Index: idx}
}

func (b *BMS) maxVolts() Extremum {
	idx := 0
	for i, c := range b.cells.data {
		if c > b.cells.data[idx] {
			idx = i
		}
	}
	return Extremum{Value: b.volts(b.cells.data[idx]), Index: idx}
}

// Temperatures are compared converted because each slave has its own
// reference. NaN readings are skipped; if every reading is NaN the result is
// NaN at NoIndex.
func (b *BMS) minTemp() Extremum {
	return b.tempExtremum(func(t, best float64) bool { return t < best })
}

func (b *BMS) maxTemp() Extremum {
	return b.tempExtremum(func(t, best float64) bool { return t > best })
}

func (b *BMS) tempExtremum(better func(t, best float64) bool) Extremum {
	best := Extremum{Value: math.NaN(), Index: NoIndex}
	for i := 0; i < b.aux.Len(); i++ {
		t := b.temp(i)
		if math.IsNaN(t) {
			continue
		}
		if best.Index == NoIndex || better(t, best.Value) {
			best = Extremum{Value: t, Index: i}
		}
	}
	return best
}

// TotalVoltage sums every selected cell in volts.
func (b *BMS) TotalVoltage() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sum float64
	for _, c := range b.cells.data {
		sum += b.volts(c)
	}
	return sum
}
