package monitor

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"bmscore-go/x/logx"
)

const instrumentationName = "bmscore/monitor"

type instruments struct {
	tracer trace.Tracer

	ticks     metric.Int64Counter
	faults    metric.Int64Counter
	overruns  metric.Int64Counter
	cycle     metric.Float64Histogram
	packVolts metric.Float64Gauge
	amps      metric.Float64Gauge
}

// newInstruments registers the monitor instruments on meter, falling back
// to the global provider. A failed registration is logged and the no-op
// instrument returned by the SDK is kept.
func newInstruments(meter metric.Meter, log *slog.Logger) *instruments {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	in := &instruments{tracer: otel.GetTracerProvider().Tracer(instrumentationName)}

	var err error
	report := func(name string) {
		if err != nil {
			log.Error("failed to create instrument", "name", name, logx.Err(err))
		}
	}

	in.ticks, err = meter.Int64Counter("bms_ticks", metric.WithDescription("completed BMS ticks"))
	report("bms_ticks")
	in.faults, err = meter.Int64Counter("bms_faults", metric.WithDescription("escalated critical frames"))
	report("bms_faults")
	in.overruns, err = meter.Int64Counter("bms_cycle_overruns")
	report("bms_cycle_overruns")
	in.cycle, err = meter.Float64Histogram("bms_cycle_duration",
		metric.WithUnit("ms"),
		metric.WithDescription("time spent in one BMS tick"))
	report("bms_cycle_duration")
	in.packVolts, err = meter.Float64Gauge("bms_total_voltage", metric.WithUnit("V"))
	report("bms_total_voltage")
	in.amps, err = meter.Float64Gauge("bms_current", metric.WithUnit("A"))
	report("bms_current")
	return in
}
