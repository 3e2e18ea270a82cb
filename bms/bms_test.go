package bms_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmscore-go/bms"
	"bmscore-go/canbus"
	"bmscore-go/drivers/ltc6804"
	"bmscore-go/drivers/ltc6804/ltc6804sim"
	"bmscore-go/errcode"
	"bmscore-go/sensors/current"
	"bmscore-go/store"
	"bmscore-go/units"
)

type faults struct{ got []bms.CriticalFrame }

func (f *faults) handle(c bms.CriticalFrame) { f.got = append(f.got, c) }

type rig struct {
	chain  *ltc6804sim.Chain
	stack  *ltc6804.Stack
	faults *faults
	params bms.Params
}

func newRig(t *testing.T, n int) *rig {
	t.Helper()
	chain := ltc6804sim.New(n)
	chain.FillAll(36000, 15000, 30000)
	stack, err := ltc6804.NewStack(chain.Device(), n)
	require.NoError(t, err)
	f := &faults{}
	return &rig{
		chain:  chain,
		stack:  stack,
		faults: f,
		params: bms.Params{
			FrontEnd: stack,
			Current:  current.NewFixed(12.5, 48),
			OnFault:  f.handle,
			Cells:    ltc6804.Range{Start: 0, End: 10},
			Aux:      ltc6804.Range{Start: 0, End: 5},
			Config:   ltc6804.DefaultConfigRegister(),
		},
	}
}

func (r *rig) start(t *testing.T) *bms.BMS {
	t.Helper()
	b, err := bms.New(r.params)
	require.NoError(t, err)
	require.Empty(t, r.faults.got)
	return b
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	r := newRig(t, 1)
	p := r.params
	p.OnFault = nil
	_, err := bms.New(p)
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))

	p = r.params
	p.Cells = ltc6804.Range{Start: 4, End: 13}
	_, err = bms.New(p)
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))

	p = r.params
	p.Aux = ltc6804.Range{Start: 0, End: 6}
	_, err = bms.New(p)
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))
}

func TestStartupSequence(t *testing.T) {
	r := newRig(t, 2)
	b := r.start(t)
	assert.Equal(t, bms.Ready, b.State())
	assert.Zero(t, b.Ticks())

	cmds := r.chain.Commands()
	require.GreaterOrEqual(t, len(cmds), 5)
	assert.Equal(t, ltc6804sim.Command{Code: ltc6804.CmdWRCFG, Broadcast: true}, cmds[0])
	assert.Equal(t, ltc6804sim.Command{Code: ltc6804.CmdRDCFG, Addr: 0}, cmds[1])
	assert.Equal(t, ltc6804sim.Command{Code: ltc6804.CmdRDCFG, Addr: 1}, cmds[2])
	assert.Equal(t, ltc6804sim.Command{Code: ltc6804.CmdCLRCELL, Broadcast: true}, cmds[3])
	assert.Equal(t, ltc6804sim.Command{Code: ltc6804.CmdCLRAUX, Broadcast: true}, cmds[4])
}

func TestMatrixDimensions(t *testing.T) {
	r := newRig(t, 3)
	r.params.Cells = ltc6804.Range{Start: 2, End: 8}
	r.params.Aux = ltc6804.Range{Start: 1, End: 3}
	b := r.start(t)
	require.NoError(t, b.Tick())

	cells, aux := b.CellCodes(), b.AuxCodes()
	assert.Equal(t, 3, cells.Rows())
	assert.Equal(t, 6, cells.Cols())
	assert.Equal(t, 3, aux.Rows())
	assert.Equal(t, 2, aux.Cols())
	assert.Len(t, b.RefCodes(), 3)
	assert.Equal(t, uint16(36000), cells.At(2, 5))
	assert.Equal(t, uint16(15000), aux.At(1, 1))
}

func TestTickPublishesWindowSlaveMajor(t *testing.T) {
	r := newRig(t, 2)
	r.params.Cells = ltc6804.Range{Start: 1, End: 4}
	b := r.start(t)

	r.chain.SetCell(0, 1, 30001)
	r.chain.SetCell(0, 3, 30003)
	r.chain.SetCell(1, 1, 31001)
	r.chain.SetCell(1, 0, 1) // outside the window
	require.NoError(t, b.Tick())

	assert.Equal(t, []uint16{30001, 36000, 30003, 31001, 36000, 36000}, b.CellCodes().Values())
	assert.Equal(t, []uint16{30000, 30000}, b.RefCodes())
	assert.Equal(t, uint64(1), b.Ticks())
	assert.Equal(t, current.Measurement{Fresh: true, Amps: 12.5, Volts: 48}, b.Current())
}

func TestTickIsIdempotentOnStableInputs(t *testing.T) {
	r := newRig(t, 2)
	b := r.start(t)
	require.NoError(t, b.Tick())
	first, firstAux := b.CellCodes().Values(), b.AuxCodes().Values()
	require.NoError(t, b.Tick())
	assert.Equal(t, first, b.CellCodes().Values())
	assert.Equal(t, firstAux, b.AuxCodes().Values())
	assert.Empty(t, r.faults.got)
}

func TestVoltageExtremaAndTotal(t *testing.T) {
	r := newRig(t, 2)
	b := r.start(t)
	r.chain.SetCell(1, 3, 30000)
	r.chain.SetCell(0, 9, 41000)
	require.NoError(t, b.Tick())

	lo, hi := b.MinVolts(), b.MaxVolts()
	assert.Equal(t, 13, lo.Index)
	assert.InDelta(t, 3.0, lo.Value, 1e-9)
	assert.Equal(t, 9, hi.Index)
	assert.InDelta(t, 4.1, hi.Value, 1e-9)
	assert.InDelta(t, 18*3.6+3.0+4.1, b.TotalVoltage(), 1e-9)
	assert.InDelta(t, 3.0, b.CellVolts(13), 1e-9)
}

func TestExtremaTiesKeepFirstIndex(t *testing.T) {
	r := newRig(t, 2)
	b := r.start(t)
	require.NoError(t, b.Tick())
	assert.Equal(t, 0, b.MinVolts().Index)
	assert.Equal(t, 0, b.MaxVolts().Index)
	assert.Equal(t, 0, b.MinTemp().Index)
	assert.Equal(t, 0, b.MaxTemp().Index)

	r.chain.SetCell(0, 5, 30000)
	r.chain.SetCell(1, 3, 30000)
	require.NoError(t, b.Tick())
	assert.Equal(t, 5, b.MinVolts().Index)
}

func TestExtremaQueriesRepeatBetweenTicks(t *testing.T) {
	r := newRig(t, 2)
	b := r.start(t)
	r.chain.SetCell(0, 2, 33000)
	r.chain.SetCell(1, 7, 33000)
	r.chain.SetCell(1, 1, 40000)
	r.chain.SetAux(1, [ltc6804.AuxChannels]uint16{15000, 18000, 12000, 15000, 15000, 30000})
	require.NoError(t, b.Tick())

	lo, hi := b.MinVolts(), b.MaxVolts()
	assert.Equal(t, lo, b.MinVolts())
	assert.Equal(t, hi, b.MaxVolts())
	assert.Equal(t, 2, lo.Index)
	assert.InDelta(t, 3.3, lo.Value, 1e-9)
	assert.Equal(t, 11, hi.Index)

	cold, hot := b.MinTemp(), b.MaxTemp()
	assert.Equal(t, cold, b.MinTemp())
	assert.Equal(t, hot, b.MaxTemp())
	assert.Equal(t, 6, cold.Index)
	assert.Equal(t, 7, hot.Index)
}

func TestTemperatureExtremaSkipNaN(t *testing.T) {
	r := newRig(t, 2)
	unusable := units.CodeToVolts(10000)
	r.params.Celsius = func(v, vref float64) float64 {
		if v == unusable {
			return math.NaN()
		}
		return units.Celsius(v, vref)
	}
	b := r.start(t)
	r.chain.SetAux(0, [ltc6804.AuxChannels]uint16{10000, 15000, 15000, 15000, 20000, 30000})
	r.chain.SetAux(1, [ltc6804.AuxChannels]uint16{15000, 15000, 12000, 15000, 15000, 30000})
	require.NoError(t, b.Tick())

	cold, hot := b.MinTemp(), b.MaxTemp()
	assert.Equal(t, 4, cold.Index)
	assert.Equal(t, 7, hot.Index)
	assert.False(t, math.IsNaN(cold.Value))
	assert.False(t, math.IsNaN(hot.Value))

	r.chain.FillAll(36000, 10000, 30000)
	require.NoError(t, b.Tick())
	assert.Equal(t, bms.NoIndex, b.MinTemp().Index)
	assert.True(t, math.IsNaN(b.MaxTemp().Value))
}

func TestTemperatureExtrema(t *testing.T) {
	r := newRig(t, 2)
	b := r.start(t)
	r.chain.SetAux(0, [ltc6804.AuxChannels]uint16{15000, 15000, 15000, 15000, 20000, 30000})
	r.chain.SetAux(1, [ltc6804.AuxChannels]uint16{15000, 15000, 10000, 15000, 15000, 30000})
	require.NoError(t, b.Tick())

	cold, hot := b.MinTemp(), b.MaxTemp()
	assert.Equal(t, 4, cold.Index)
	assert.InDelta(t, 10.86, cold.Value, 0.01)
	assert.Equal(t, 7, hot.Index)
	assert.InDelta(t, 42.60, hot.Value, 0.01)
	assert.InDelta(t, 26.0, b.Temp(0), 0.001)
}

func TestConfigMismatchEscalatedOncePerIC(t *testing.T) {
	r := newRig(t, 3)
	r.chain.FlipConfigReadback(1, 4, 0x10)
	r.chain.FlipConfigReadback(2, 1, 0x01)
	r.chain.FlipConfigReadback(2, 3, 0x80)

	_, err := bms.New(r.params)
	require.Error(t, err)
	assert.Equal(t, errcode.ConfigMismatch, errcode.Of(err))
	require.Len(t, r.faults.got, 2)
	for i, want := range []struct{ slave, byte int }{{1, 4}, {2, 1}} {
		f := r.faults.got[i]
		assert.Equal(t, bms.KindCritical, f.Kind)
		assert.Equal(t, errcode.ConfigMismatch, f.Code)
		assert.Equal(t, want.slave, f.Slave)
		assert.Equal(t, want.byte, f.Channel)
	}
}

func TestStuckBitEscalatedWithLocation(t *testing.T) {
	r := newRig(t, 2)
	r.chain.StickCell(0, 3, 0x1234)

	_, err := bms.New(r.params)
	require.Error(t, err)
	assert.ErrorIs(t, err, ltc6804.ErrStuckBit)
	require.Len(t, r.faults.got, 1)
	f := r.faults.got[0]
	assert.Equal(t, errcode.StuckBit, f.Code)
	assert.Equal(t, 0, f.Slave)
	assert.Equal(t, 3, f.Channel)
	assert.Equal(t, uint16(0x1234), f.Raw)
}

func TestOpenWireCheckOnStartup(t *testing.T) {
	r := newRig(t, 2)
	r.params.OpenWireCheck = true
	b := r.start(t)
	assert.Equal(t, bms.Ready, b.State())

	r2 := newRig(t, 2)
	r2.params.OpenWireCheck = true
	r2.chain.OpenWire(1, 4)
	_, err := bms.New(r2.params)
	assert.ErrorIs(t, err, ltc6804.ErrOpenWire)
	require.Len(t, r2.faults.got, 1)
	assert.Equal(t, errcode.OpenWire, r2.faults.got[0].Code)
	assert.Equal(t, 1, r2.faults.got[0].Slave)
	assert.Equal(t, 4, r2.faults.got[0].Channel)
}

func TestPECDuringTickFaultsAndKeepsData(t *testing.T) {
	r := newRig(t, 2)
	b := r.start(t)
	require.NoError(t, b.Tick())

	r.chain.SetCell(0, 0, 30000)
	r.chain.CorruptReads(1, ltc6804.CmdRDCVA, 1)
	err := b.Tick()
	require.Error(t, err)
	assert.Equal(t, errcode.PECMismatch, errcode.Of(err))
	assert.Equal(t, bms.Faulted, b.State())

	require.Len(t, r.faults.got, 1)
	assert.Equal(t, bms.KindPEC, r.faults.got[0].Kind)
	assert.Equal(t, 1, r.faults.got[0].Slave)

	assert.Equal(t, uint16(36000), b.CellCodes().At(0, 0))
	assert.Equal(t, uint64(1), b.Ticks())

	assert.ErrorIs(t, b.Tick(), bms.ErrFaulted)
	assert.Equal(t, errcode.Faulted, errcode.Of(b.Tick()))
	assert.Len(t, r.faults.got, 1)
}

func TestStaleCurrentStillPublishes(t *testing.T) {
	r := newRig(t, 1)
	ivt := current.NewIVT(nil)
	r.params.Current = ivt
	b := r.start(t)

	r.chain.SetCell(0, 2, 33000)
	require.NoError(t, b.Tick())
	assert.Equal(t, bms.Ready, b.State())
	assert.Equal(t, uint16(33000), b.CellCodes().At(0, 2))
	require.Len(t, r.faults.got, 1)
	assert.Equal(t, bms.KindCurrent, r.faults.got[0].Kind)
	assert.Equal(t, errcode.CurrentStale, r.faults.got[0].Code)

	ivt.Update(canbus.Frame{ID: current.CurrentID, Len: 8, Data: [8]byte{0, 0, 0, 0, 0x27, 0x10}})
	require.NoError(t, b.Tick())
	assert.Len(t, r.faults.got, 1)
	assert.InDelta(t, 10.0, b.Current().Amps, 1e-9)
}

func TestLimitBreaches(t *testing.T) {
	r := newRig(t, 2)
	r.params.Limits = &bms.Limits{UnderVoltage: 3.2, OverVoltage: 4.0, UnderTemp: 0, OverTemp: 40}
	b := r.start(t)

	r.chain.SetCell(1, 3, 30000)
	r.chain.SetAux(1, [ltc6804.AuxChannels]uint16{15000, 15000, 10000, 15000, 15000, 30000})
	require.NoError(t, b.Tick())
	assert.Equal(t, bms.Ready, b.State())

	require.Len(t, r.faults.got, 2)
	uv, ot := r.faults.got[0], r.faults.got[1]
	assert.Equal(t, errcode.UnderVoltage, uv.Code)
	assert.Equal(t, 13, uv.Volts.Index)
	assert.Equal(t, bms.NoIndex, uv.Temp.Index)
	assert.Equal(t, errcode.OverTemp, ot.Code)
	assert.Equal(t, 7, ot.Temp.Index)
}

func TestSetConfigAppliedNextTick(t *testing.T) {
	r := newRig(t, 2)
	b := r.start(t)
	reg := ltc6804.DefaultConfigRegister()
	reg.SetDischarge(2, true)
	b.SetConfig(reg)
	assert.NotEqual(t, reg, r.chain.Config(0))

	require.NoError(t, b.Tick())
	assert.Equal(t, reg, r.chain.Config(0))
	assert.Equal(t, reg, r.chain.Config(1))
	assert.Equal(t, reg, b.Config())
}

func TestParamsFromSettings(t *testing.T) {
	p := bms.ParamsFrom(store.Defaults())
	assert.Equal(t, ltc6804.Range{Start: 0, End: 10}, p.Cells)
	require.NotNil(t, p.Limits)
	assert.Equal(t, 2.0, p.Limits.UnderVoltage)
	assert.Equal(t, 100.0, p.Limits.OverTemp)
}
