package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"bmscore-go/bms"
	"bmscore-go/bus"
	"bmscore-go/canbus"
	"bmscore-go/drivers/ltc6804"
	"bmscore-go/drivers/ltc6804/ltc6804sim"
	"bmscore-go/errcode"
	"bmscore-go/sensors/current"
	"bmscore-go/services/config"
	"bmscore-go/store"
	"bmscore-go/telemetry"
	"bmscore-go/types"
)

type stepClock struct {
	t    time.Time
	step time.Duration
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

type rig struct {
	chain  *ltc6804sim.Chain
	tx     *canbus.Capture
	conn   *bus.Connection
	enc    telemetry.Encoder
	faults *Faults
	reader *sdkmetric.ManualReader
	clock  *stepClock
	params Params
}

func newRig(t *testing.T) *rig {
	t.Helper()
	chain := ltc6804sim.New(2)
	chain.FillAll(36000, 15000, 30000)
	stack, err := ltc6804.NewStack(chain.Device(), 2)
	require.NoError(t, err)

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	enc := telemetry.NewEncoder(0, telemetry.DefaultIDs(0))
	tx := &canbus.Capture{}
	conn := bus.NewBus(16).NewConnection("monitor-test")
	faults := NewFaults(enc, tx, conn, meter, nil)

	b, err := bms.New(bms.Params{
		FrontEnd: stack,
		Current:  current.NewFixed(12.5, 48),
		OnFault:  faults.Handle,
		Cells:    ltc6804.Range{Start: 0, End: 10},
		Aux:      ltc6804.Range{Start: 0, End: 5},
		Config:   ltc6804.DefaultConfigRegister(),
	})
	require.NoError(t, err)

	settings := store.Defaults()
	settings.MaxCycle = 100 * time.Millisecond
	clock := &stepClock{t: time.Unix(1700000000, 0), step: 10 * time.Millisecond}

	return &rig{
		chain:  chain,
		tx:     tx,
		conn:   conn,
		enc:    enc,
		faults: faults,
		reader: reader,
		clock:  clock,
		params: Params{
			BMS:      b,
			Faults:   faults,
			Settings: settings,
			Encoder:  enc,
			Tx:       tx,
			Meter:    meter,
			Now:      clock.now,
		},
	}
}

func (r *rig) monitor(t *testing.T) *Monitor {
	t.Helper()
	m, err := New(r.params)
	require.NoError(t, err)
	return m
}

func (r *rig) sum(t *testing.T, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, r.reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			s, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is %T", name, m.Data)
			var total int64
			for _, dp := range s.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func next(t *testing.T, sub *bus.Subscription) *bus.Message {
	t.Helper()
	select {
	case m := <-sub.Channel():
		return m
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting on %s", sub.Topic())
		return nil
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Params{})
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))

	r := newRig(t)
	p := r.params
	p.Rx = canbus.NewLoopback(1)
	_, err = New(p)
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))

	m := r.monitor(t)
	assert.Equal(t, DefaultPeriod, m.Period())
}

func TestCycleSendsTelemetryAndPublishesSnapshot(t *testing.T) {
	r := newRig(t)
	m := r.monitor(t)
	m.conn = r.conn

	require.NoError(t, m.Cycle(context.Background()))

	minmax := r.tx.ByID(r.enc.IDs.MinMax)
	require.Len(t, minmax, 1)
	assert.Equal(t, byte(36), minmax[0].Data[3])
	assert.Equal(t, byte(36), minmax[0].Data[5])

	sibling := r.tx.ByID(r.enc.IDs.SiblingOut)
	require.Len(t, sibling, 1)
	assert.Empty(t, r.tx.ByID(r.enc.IDs.Charger))

	sub := r.conn.Subscribe(types.TopicSnapshot())
	snap, ok := next(t, sub).Payload.(types.Snapshot)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, 2, snap.Slaves)
	assert.Len(t, snap.Cells, 20)
	assert.Len(t, snap.Temps, 10)
	assert.InDelta(t, 3.6, snap.Cells[7], 1e-9)
	assert.InDelta(t, 72.0, snap.TotalVolts, 1e-6)
	assert.InDelta(t, 12.5, snap.Amps, 1e-9)
	assert.True(t, snap.CurrentFresh)
	assert.Equal(t, "drive", snap.Mode)
	assert.InDelta(t, 10.0, snap.CycleMs, 1e-9)
	assert.Equal(t, snap, m.Last())

	assert.Equal(t, int64(1), r.sum(t, "bms_ticks"))
	assert.Zero(t, r.faults.Count())
}

func TestCycleOverrunRaisesFault(t *testing.T) {
	r := newRig(t)
	r.clock.step = 250 * time.Millisecond
	m := r.monitor(t)

	require.NoError(t, m.Cycle(context.Background()))

	require.Equal(t, 1, r.faults.Count())
	last, ok := r.faults.Last()
	require.True(t, ok)
	assert.Equal(t, errcode.CycleOverrun, last.Code)

	frames := r.tx.ByID(r.enc.IDs.Fault)
	require.Len(t, frames, 1)
	box, code, _, _ := telemetry.DecodeFault(frames[0])
	assert.Equal(t, uint8(0), box)
	assert.Equal(t, errcode.CycleOverrun, code)
	assert.Equal(t, byte(0xF6), frames[0].Data[0])

	assert.Equal(t, int64(1), r.sum(t, "bms_cycle_overruns"))
	assert.Equal(t, int64(1), r.sum(t, "bms_faults"))
	// The tick itself still completed.
	assert.Len(t, r.tx.ByID(r.enc.IDs.MinMax), 1)
}

func TestFaultedBMSIsNotTickedAgain(t *testing.T) {
	r := newRig(t)
	m := r.monitor(t)
	m.conn = r.conn
	faultSub := r.conn.Subscribe(types.TopicFault())

	r.chain.CorruptReads(1, ltc6804.CmdRDCVA, 1)
	err := m.Cycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, errcode.PECMismatch, errcode.Of(err))

	ev, ok := next(t, faultSub).Payload.(types.FaultEvent)
	require.True(t, ok)
	assert.Equal(t, "pec_mismatch", ev.Code)
	assert.Equal(t, "pec", ev.Kind)
	assert.Equal(t, 1, ev.Slave)

	stateSub := r.conn.Subscribe(types.TopicState())
	st, ok := next(t, stateSub).Payload.(types.MonitorState)
	require.True(t, ok)
	assert.Equal(t, "faulted", st.Level)
	assert.Equal(t, "pec_mismatch", st.Status)

	r.tx.Reset()
	assert.ErrorIs(t, m.Cycle(context.Background()), errcode.Faulted)
	assert.Empty(t, r.tx.Frames())
	assert.Zero(t, r.sum(t, "bms_ticks"))
}

func TestChargeModeCommandsCharger(t *testing.T) {
	r := newRig(t)
	r.params.Settings.Mode = store.ModeCharge
	r.params.Charger = telemetry.NewCANCharger(r.enc, r.tx, 400, 10)
	m := r.monitor(t)

	require.NoError(t, m.Cycle(context.Background()))
	frames := r.tx.ByID(r.enc.IDs.Charger)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{0x80, 0x01, 0xF4, 0x01, 0x90, 0x00, 0x64}, frames[0].Payload())
}

func TestFaultsEventCarriesLimitValue(t *testing.T) {
	r := newRig(t)
	sub := r.conn.Subscribe(types.TopicFault())

	f := bms.NewFrame(bms.KindCritical, errcode.UnderVoltage)
	f.Volts = bms.Extremum{Value: 2.95, Index: 13}
	r.faults.Handle(f)

	ev, ok := next(t, sub).Payload.(types.FaultEvent)
	require.True(t, ok)
	assert.Equal(t, "under_voltage", ev.Code)
	assert.Equal(t, 13, ev.Index)
	assert.InDelta(t, 2.95, ev.Value, 1e-9)
	assert.Equal(t, -1, ev.Slave)

	frames := r.tx.ByID(r.enc.IDs.Fault)
	require.Len(t, frames, 1)
	_, code, data, index := telemetry.DecodeFault(frames[0])
	assert.Equal(t, errcode.UnderVoltage, code)
	assert.Equal(t, uint32(2950), data)
	assert.Equal(t, byte(13), index)
}

func TestStartRoutesFramesAndFollowsConfig(t *testing.T) {
	r := newRig(t)
	rx := canbus.NewLoopback(8)
	t.Cleanup(func() { _ = rx.Close() })

	sibling := telemetry.NewSiblingBox(r.enc.IDs)
	router := canbus.NewRouter()
	router.Handle(sibling)

	r.params.Rx = rx
	r.params.Router = router
	r.params.Sibling = sibling
	r.params.Period = time.Hour
	r.params.Now = time.Now
	m := r.monitor(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx, r.conn))

	other := telemetry.NewEncoder(1, telemetry.DefaultIDs(1))
	require.NoError(t, rx.Send(other.Sibling(371.23)))
	require.Eventually(t, func() bool {
		_, ok := sibling.Volts()
		return ok
	}, time.Second, 5*time.Millisecond)

	r.conn.Publish(r.conn.NewMessage(types.TopicConfig("monitor"), config.MonitorConfig{PeriodMs: 20}, true))
	require.Eventually(t, func() bool { return m.Period() == 20*time.Millisecond }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.Last().Seq >= 2 }, 2*time.Second, 10*time.Millisecond)

	snap := m.Last()
	assert.True(t, snap.SiblingSeen)
	assert.InDelta(t, 371.23, snap.SiblingVolts, 0.005)

	cancel()
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	sub := r.conn.Subscribe(types.TopicState())
	st, ok := next(t, sub).Payload.(types.MonitorState)
	require.True(t, ok)
	assert.Equal(t, "stopped", st.Level)
}

func TestLoopSurvivesClosedConfigSubscription(t *testing.T) {
	r := newRig(t)
	r.params.Period = 20 * time.Millisecond
	r.params.Now = time.Now
	m := r.monitor(t)

	conn := bus.NewBus(4).NewConnection("monitor")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx, conn))
	conn.Disconnect()

	require.Eventually(t, func() bool { return m.Last().Seq >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, m.Period())

	cancel()
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
