package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bmscore-go/bms"
	"bmscore-go/bus"
	"bmscore-go/canbus"
	"bmscore-go/drivers/ltc6804"
	"bmscore-go/drivers/ltc6804/ltc6804sim"
	"bmscore-go/sensors/current"
	"bmscore-go/services/config"
	"bmscore-go/services/mirror"
	"bmscore-go/services/monitor"
	"bmscore-go/services/recorder"
	"bmscore-go/store"
	"bmscore-go/telemetry"
	"bmscore-go/x/logx"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the BMS and run until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
}

type canPort interface {
	canbus.Sender
	canbus.Receiver
	Close() error
}

func openCAN(cfg config.CANConfig) (canPort, error) {
	switch cfg.Driver {
	case "slcan":
		p, err := canbus.OpenSerial(canbus.SerialConfig{
			Device:      cfg.Device,
			Baud:        cfg.Baud,
			Bitrate:     cfg.Bitrate,
			ReadTimeout: time.Duration(cfg.ReadTimeoutMs) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "loopback":
		return canbus.NewLoopback(64), nil
	}
	return nil, fmt.Errorf("unknown can driver %q", cfg.Driver)
}

func openFrontEnd(cfg config.FrontEndConfig, slaves int) (*ltc6804.Stack, error) {
	if cfg.Driver != "sim" {
		return nil, fmt.Errorf("front end %q needs target hardware", cfg.Driver)
	}
	chain := ltc6804sim.New(slaves)
	chain.FillAll(cfg.CellCode, cfg.GPIOCode, cfg.RefCode)
	return ltc6804.NewStack(chain.Device(), slaves)
}

func newSensor(cfg config.BMSConfig, log *slog.Logger) current.Sensor {
	if cfg.Sensor == "fixed" {
		return current.NewFixed(cfg.FixedAmps, cfg.FixedVolts)
	}
	return current.NewIVT(log.With("component", "ivt"))
}

func run(ctx context.Context, cfg *config.Config) error {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log := logx.New("bmsd", level)

	shutdownOTel, err := setupOTel(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry export: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn("telemetry flush failed", logx.Err(err))
		}
	}()

	st, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	settings, fromStore, err := store.Load(st, store.Defaults())
	if err != nil {
		log.Warn("stored settings rejected, using defaults", logx.Err(err))
	}
	log.Info("settings loaded", "from_store", fromStore, "slaves", settings.Slaves, "mode", settings.Mode)

	stack, err := openFrontEnd(cfg.FrontEnd, settings.Slaves)
	if err != nil {
		return err
	}

	port, err := openCAN(cfg.CAN)
	if err != nil {
		return fmt.Errorf("failed to open CAN: %w", err)
	}
	defer port.Close()

	enc := telemetry.NewEncoder(cfg.BMS.Box, telemetry.DefaultIDs(cfg.BMS.Box))
	sensor := newSensor(cfg.BMS, log)
	sibling := telemetry.NewSiblingBox(enc.IDs)
	router := canbus.NewRouter()
	router.Handle(sensor)
	router.Handle(sibling)
	router.Handle(telemetry.NewConfigurator(st, store.AddrMode, enc, port, log.With("component", "configurator")))

	b := bus.NewBus(64)
	faults := monitor.NewFaults(enc, port, b.NewConnection("faults"), nil, log.With("component", "faults"))

	p := bms.ParamsFrom(settings)
	p.FrontEnd = stack
	p.Current = sensor
	p.OnFault = faults.Handle
	p.OpenWireCheck = cfg.BMS.OpenWireCheck
	p.Logger = log.With("component", "bms")
	core, err := bms.New(p)
	if err != nil {
		log.Error("bms start-up failed", logx.Err(err))
		return err
	}

	if err := config.NewConfigService(cfg).Publish(ctx, b.NewConnection("config")); err != nil {
		return err
	}

	var charger telemetry.Charger = telemetry.NopCharger{}
	if cfg.BMS.ChargeVolts > 0 {
		charger = telemetry.NewCANCharger(enc, port, cfg.BMS.ChargeVolts, cfg.BMS.ChargeAmps)
	}

	mon, err := monitor.New(monitor.Params{
		BMS:      core,
		Faults:   faults,
		Settings: settings,
		Encoder:  enc,
		Tx:       port,
		Rx:       port,
		Router:   router,
		Sibling:  sibling,
		Charger:  charger,
		Period:   cfg.Monitor.Period(),
		Logger:   log.With("component", "monitor"),
	})
	if err != nil {
		return err
	}
	if err := mon.Start(ctx, b.NewConnection("monitor")); err != nil {
		return err
	}

	if m := cfg.Mirror; m != nil {
		client, err := mirror.Dial(m.Endpoint, time.Duration(m.TimeoutMs)*time.Millisecond)
		if err != nil {
			log.Warn("modbus mirror disabled", "endpoint", m.Endpoint, logx.Err(err))
		} else {
			defer client.Close()
			_ = mirror.New(*m, client, log.With("component", "mirror")).Start(ctx, b.NewConnection("mirror"))
		}
	}

	if rc := cfg.Recorder; rc != nil {
		rec, err := recorder.Dial(ctx, *rc, cfg.BMS.Box, log.With("component", "recorder"))
		if err != nil {
			log.Warn("recorder disabled", logx.Err(err))
		} else {
			defer rec.Close()
			log.Info("recording", "session", rec.Session())
			_ = rec.Start(ctx, b.NewConnection("recorder"))
		}
	}

	<-ctx.Done()
	// Closing the port unblocks the receive pump.
	_ = port.Close()
	<-mon.Done()
	log.Info("bmsd stopped")
	return nil
}
