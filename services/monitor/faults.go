package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bmscore-go/bms"
	"bmscore-go/bus"
	"bmscore-go/canbus"
	"bmscore-go/telemetry"
	"bmscore-go/types"
	"bmscore-go/x/logx"
)

// Faults is the fault handler handed to bms.New. Every frame is sent on the
// fault identifier, published on bms/fault and counted.
type Faults struct {
	enc  telemetry.Encoder
	tx   canbus.Sender
	conn *bus.Connection
	log  *slog.Logger
	in   *instruments
	now  func() time.Time

	mu    sync.Mutex
	count int
	last  bms.CriticalFrame
}

// NewFaults builds the handler. conn may be nil when nothing listens on the
// internal bus.
func NewFaults(enc telemetry.Encoder, tx canbus.Sender, conn *bus.Connection, meter metric.Meter, log *slog.Logger) *Faults {
	if log == nil {
		log = logx.Discard()
	}
	return &Faults{
		enc:  enc,
		tx:   tx,
		conn: conn,
		log:  log,
		in:   newInstruments(meter, log),
		now:  time.Now,
	}
}

// Handle escalates one frame. It is safe for concurrent use.
func (h *Faults) Handle(f bms.CriticalFrame) {
	h.mu.Lock()
	h.count++
	h.last = f
	h.mu.Unlock()

	h.in.faults.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("code", string(f.Code)),
		attribute.String("kind", f.Kind.String()),
	))

	level := slog.LevelError
	if f.Kind == bms.KindCurrent {
		level = slog.LevelWarn
	}
	h.log.Log(context.Background(), level, "critical frame", "frame", f.String(), logx.Err(f.Err))

	if h.tx != nil {
		if err := h.tx.Send(h.enc.Fault(f)); err != nil {
			h.log.Warn("fault frame not sent", "code", f.Code, logx.Err(err))
		}
	}
	if h.conn != nil {
		h.conn.Publish(h.conn.NewMessage(types.TopicFault(), h.event(f), false))
	}
}

func (h *Faults) event(f bms.CriticalFrame) types.FaultEvent {
	ev := types.FaultEvent{
		Box:     h.enc.Box,
		Kind:    f.Kind.String(),
		Code:    string(f.Code),
		Slave:   f.Slave,
		Channel: f.Channel,
		Raw:     f.Raw,
		Index:   bms.NoIndex,
		TS:      h.now().UnixMilli(),
	}
	switch {
	case f.Volts.Index != bms.NoIndex:
		ev.Value, ev.Index = f.Volts.Value, f.Volts.Index
	case f.Temp.Index != bms.NoIndex:
		ev.Value, ev.Index = f.Temp.Value, f.Temp.Index
	case f.Kind == bms.KindCurrent:
		ev.Value = f.Amps
	}
	return ev
}

// Count is the number of frames handled so far.
func (h *Faults) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Last returns the most recent frame and whether there was one.
func (h *Faults) Last() (bms.CriticalFrame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.count > 0
}
