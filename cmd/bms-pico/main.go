//go:build rp2040

// bms-pico runs the BMS on an RP2040: the LTC6804 chain on SPI0, an MCP2515
// CAN controller on SPI1 and the settings in an AT24C32 on I2C0.
package main

import (
	"errors"
	"machine"
	"time"

	"tinygo.org/x/drivers/mcp2515"

	"bmscore-go/bms"
	"bmscore-go/canbus"
	"bmscore-go/drivers/ltc6804"
	"bmscore-go/errcode"
	"bmscore-go/sensors/current"
	"bmscore-go/store"
	"bmscore-go/telemetry"
)

const (
	box    = 0
	period = 250 * time.Millisecond
)

var errExtended = errors.New("mcp2515: extended identifiers not supported")

// mcpPort adapts the MCP2515 to canbus. The driver transmits standard
// identifiers only.
type mcpPort struct{ dev *mcp2515.Device }

func (p mcpPort) Send(f canbus.Frame) error {
	if f.Extended {
		return errExtended
	}
	return p.dev.Tx(f.ID, f.Len, f.Data[:f.Len])
}

// poll dispatches every frame waiting in the receive buffers.
func (p mcpPort) poll(r *canbus.Router) {
	for p.dev.Received() {
		msg, err := p.dev.Rx()
		if err != nil {
			println("can rx:", err.Error())
			return
		}
		f := canbus.Frame{ID: msg.ID, Extended: msg.Ext, Remote: msg.Rtr, Len: msg.Dlc}
		copy(f.Data[:], msg.Data)
		r.Dispatch(f)
	}
}

func halt(what string, err error) {
	for {
		println("fatal:", what, err.Error())
		time.Sleep(time.Second)
	}
}

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("bms-pico: boot")

	if err := machine.SPI0.Configure(machine.SPIConfig{
		Frequency: 1_000_000,
		SCK:       machine.GP18,
		SDO:       machine.GP19,
		SDI:       machine.GP16,
		Mode:      3,
	}); err != nil {
		halt("spi0", err)
	}
	if err := machine.SPI1.Configure(machine.SPIConfig{
		Frequency: 1_000_000,
		SCK:       machine.GP10,
		SDO:       machine.GP11,
		SDI:       machine.GP12,
	}); err != nil {
		halt("spi1", err)
	}
	if err := machine.I2C0.Configure(machine.I2CConfig{
		SDA:       machine.GP4,
		SCL:       machine.GP5,
		Frequency: 400 * machine.KHz,
	}); err != nil {
		halt("i2c0", err)
	}

	st := store.NewEEPROM(machine.I2C0, store.EEPROMConfig{})
	settings, fromStore, err := store.Load(st, store.Defaults())
	if err != nil {
		println("settings rejected, using defaults:", err.Error())
	}
	println("settings from store:", fromStore, "slaves:", settings.Slaves)

	cs := machine.GP17
	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
	dev := ltc6804.New(machine.SPI0, cs)
	if err := dev.Configure(ltc6804.Config{Mode: ltc6804.ModeNormal}); err != nil {
		halt("ltc6804", err)
	}
	stack, err := ltc6804.NewStack(dev, settings.Slaves)
	if err != nil {
		halt("stack", err)
	}

	can := mcp2515.New(machine.SPI1, machine.GP13)
	can.Configure()
	if err := can.Begin(mcp2515.CAN500kBps, mcp2515.Clock8MHz); err != nil {
		halt("mcp2515", err)
	}
	port := mcpPort{dev: can}

	enc := telemetry.NewEncoder(box, telemetry.DefaultIDs(box))
	ivt := current.NewIVT(nil)
	sibling := telemetry.NewSiblingBox(enc.IDs)
	router := canbus.NewRouter()
	router.Handle(ivt)
	router.Handle(sibling)
	router.Handle(telemetry.NewConfigurator(st, store.AddrMode, enc, port, nil))

	onFault := func(f bms.CriticalFrame) {
		println("fault:", f.String())
		if err := port.Send(enc.Fault(f)); err != nil {
			println("fault frame not sent:", err.Error())
		}
	}

	p := bms.ParamsFrom(settings)
	p.FrontEnd = stack
	p.Current = ivt
	p.OnFault = onFault
	p.OpenWireCheck = true
	core, err := bms.New(p)
	if err != nil {
		// Frames already went out; keep serving configuration writes so
		// the pack can be reconfigured without a reflash.
		for {
			port.poll(router)
			time.Sleep(time.Millisecond)
		}
	}
	println("bms ready")

	next := time.Now()
	for {
		port.poll(router)
		if time.Now().Before(next) {
			time.Sleep(time.Millisecond)
			continue
		}
		next = next.Add(period)

		if core.State() == bms.Faulted {
			continue
		}
		start := time.Now()
		err := core.Tick()
		if elapsed := time.Since(start); elapsed > settings.MaxCycle {
			onFault(bms.NewFrame(bms.KindCritical, errcode.CycleOverrun))
		}
		if err != nil {
			println("tick:", err.Error())
			continue
		}
		if err := port.Send(enc.MinMax(core)); err != nil {
			println("minmax:", err.Error())
		}
		if err := port.Send(enc.Sibling(core.TotalVoltage())); err != nil {
			println("sibling:", err.Error())
		}
	}
}
