// Package monitor schedules BMS ticks: it enforces the cycle-duration
// ceiling, pushes the per-cycle telemetry onto the vehicle bus, routes
// inbound frames between ticks and publishes snapshots on the internal bus.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"bmscore-go/bms"
	"bmscore-go/bus"
	"bmscore-go/canbus"
	"bmscore-go/errcode"
	"bmscore-go/services/config"
	"bmscore-go/store"
	"bmscore-go/telemetry"
	"bmscore-go/types"
	"bmscore-go/x/logx"
)

const DefaultPeriod = time.Second

// Params wire a monitor. BMS, Faults and Tx are required.
type Params struct {
	BMS      *bms.BMS
	Faults   *Faults
	Settings store.Settings
	Encoder  telemetry.Encoder
	Tx       canbus.Sender

	// Inbound frames are pumped from Rx and dispatched through Router
	// between ticks. Both are optional.
	Rx     canbus.Receiver
	Router *canbus.Router

	Sibling *telemetry.SiblingBox
	Charger telemetry.Charger

	Period time.Duration
	Meter  metric.Meter
	Logger *slog.Logger
	Now    func() time.Time
}

type Monitor struct {
	p   Params
	log *slog.Logger
	in  *instruments
	now func() time.Time

	mu     sync.Mutex
	conn   *bus.Connection
	period time.Duration
	seq    uint64
	last   types.Snapshot
	done   chan struct{}
}

func New(p Params) (*Monitor, error) {
	if p.BMS == nil || p.Faults == nil || p.Tx == nil {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "monitor.New", Err: errors.New("bms, faults and tx are required")}
	}
	if p.Rx != nil && p.Router == nil {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "monitor.New", Err: errors.New("rx without a router")}
	}
	if p.Period <= 0 {
		p.Period = DefaultPeriod
	}
	if p.Charger == nil {
		p.Charger = telemetry.NopCharger{}
	}
	if p.Logger == nil {
		p.Logger = logx.Discard()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Monitor{
		p:      p,
		log:    p.Logger,
		in:     newInstruments(p.Meter, p.Logger),
		now:    p.Now,
		period: p.Period,
		done:   make(chan struct{}),
	}, nil
}

// Period is the current tick interval.
func (m *Monitor) Period() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period
}

// Last returns the most recently published snapshot.
func (m *Monitor) Last() types.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Done is closed once the service loop has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Start runs the service loop until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context, conn *bus.Connection) error {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	var frames chan canbus.Frame
	if m.p.Rx != nil {
		frames = make(chan canbus.Frame, 64)
		go func() {
			if err := canbus.Pump(ctx, m.p.Rx, frames); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Warn("receive pump stopped", logx.Err(err))
			}
		}()
	}
	go m.serviceLoop(ctx, frames)
	return nil
}

func (m *Monitor) serviceLoop(ctx context.Context, frames <-chan canbus.Frame) {
	defer close(m.done)

	var cfgCh <-chan *bus.Message
	if m.conn != nil {
		cfgSub := m.conn.Subscribe(types.TopicConfig("monitor"))
		defer m.conn.Unsubscribe(cfgSub)
		cfgCh = cfgSub.Channel()
	}

	tick := time.NewTicker(m.Period())
	defer tick.Stop()

	m.publishState("running", "")
	m.log.Info("monitor started", "period", m.Period(), "max_cycle", m.p.Settings.MaxCycle)

	for {
		select {
		case <-ctx.Done():
			m.publishState("stopped", "")
			m.log.Info("monitor stopping")
			return
		case <-tick.C:
			_ = m.Cycle(ctx)
		case f := <-frames:
			if !m.p.Router.Dispatch(f) {
				m.log.Debug("unrouted frame", "id", f.ID)
			}
		case msg, ok := <-cfgCh:
			if !ok {
				// Keep ticking at the current period.
				cfgCh = nil
				m.log.Warn("config subscription closed")
				continue
			}
			mc, ok := msg.Payload.(config.MonitorConfig)
			if !ok || mc.Period() <= 0 {
				continue
			}
			m.mu.Lock()
			m.period = mc.Period()
			m.mu.Unlock()
			tick.Reset(mc.Period())
			m.log.Info("tick period set", "period", mc.Period())
		}
	}
}

// Cycle runs one tick and everything hung off it. A faulted BMS is not
// ticked again.
func (m *Monitor) Cycle(ctx context.Context) error {
	b := m.p.BMS
	if b.State() == bms.Faulted {
		return bms.ErrFaulted
	}

	ctx, span := m.in.tracer.Start(ctx, "bms.cycle")
	defer span.End()

	start := m.now()
	err := b.Tick()
	elapsed := m.now().Sub(start)

	ms := float64(elapsed) / float64(time.Millisecond)
	m.in.cycle.Record(ctx, ms)
	span.SetAttributes(attribute.Float64("bms.cycle_ms", ms))

	if ceiling := m.p.Settings.MaxCycle; ceiling > 0 && elapsed > ceiling {
		m.in.overruns.Add(ctx, 1)
		m.log.Warn("cycle overrun", "elapsed", elapsed, "max", ceiling)
		m.p.Faults.Handle(bms.NewFrame(bms.KindCritical, errcode.CycleOverrun))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errcode.Of(err)))
		if b.State() == bms.Faulted {
			m.publishState("faulted", string(errcode.Of(err)))
			m.log.Error("bms faulted", logx.Err(err))
		}
		return err
	}

	m.in.ticks.Add(ctx, 1)
	meas := b.Current()
	total := b.TotalVoltage()
	m.in.packVolts.Record(ctx, total)
	if meas.Fresh {
		m.in.amps.Record(ctx, meas.Amps)
	}

	m.send(m.p.Encoder.MinMax(b))
	m.send(m.p.Encoder.Sibling(total))
	if m.p.Settings.Mode == store.ModeCharge {
		if err := m.p.Charger.Command(); err != nil {
			m.log.Warn("charger command failed", logx.Err(err))
		}
	}

	snap := m.snapshot(ms)
	m.mu.Lock()
	m.last = snap
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		conn.Publish(conn.NewMessage(types.TopicSnapshot(), snap, true))
	}
	return nil
}

func (m *Monitor) send(f canbus.Frame) {
	if err := m.p.Tx.Send(f); err != nil {
		m.log.Warn("frame not sent", "id", f.ID, logx.Err(err))
	}
}

func (m *Monitor) snapshot(cycleMs float64) types.Snapshot {
	b := m.p.BMS
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	cells := make([]float64, b.CellCodes().Len())
	for i := range cells {
		cells[i] = b.CellVolts(i)
	}
	temps := make([]float64, b.AuxCodes().Len())
	for i := range temps {
		temps[i] = b.Temp(i)
	}
	meas := b.Current()

	s := types.Snapshot{
		Box:          m.p.Encoder.Box,
		Seq:          seq,
		TS:           m.now().UnixMilli(),
		Mode:         m.p.Settings.Mode.String(),
		Slaves:       b.Slaves(),
		Cells:        cells,
		Temps:        temps,
		MinCell:      reading(b.MinVolts()),
		MaxCell:      reading(b.MaxVolts()),
		MinTemp:      reading(b.MinTemp()),
		MaxTemp:      reading(b.MaxTemp()),
		TotalVolts:   b.TotalVoltage(),
		Amps:         meas.Amps,
		PackVolts:    meas.Volts,
		CurrentFresh: meas.Fresh,
		CycleMs:      cycleMs,
	}
	if m.p.Sibling != nil {
		s.SiblingVolts, s.SiblingSeen = m.p.Sibling.Volts()
	}
	return s
}

func reading(e bms.Extremum) types.Reading { return types.Reading{Value: e.Value, Index: e.Index} }

func (m *Monitor) publishState(level, status string) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Publish(conn.NewMessage(types.TopicState(), types.MonitorState{
		Level:  level,
		Status: status,
		TS:     m.now().UnixMilli(),
	}, true))
}
