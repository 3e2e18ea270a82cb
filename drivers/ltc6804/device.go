package ltc6804

import "tinygo.org/x/drivers"

// Device issues single commands on an LTC6804-2 chain. Writes go out in the
// broadcast form; reads are addressed to one IC.
type Device struct {
	bus *Bus
	cfg Config

	// Fixed buffers to avoid per-call heap allocations.
	tx [cmdBytes + FrameBytes]byte
	rx [FrameBytes]byte
}

// New creates a Device. The SPI bus must already be configured; New only
// drives CS high and does not talk to the chain.
func New(spi drivers.SPI, cs Pin) *Device {
	return &Device{
		bus: NewBus(spi, cs),
		cfg: DefaultConfig(),
	}
}

// Configure applies non-hardware options.
func (d *Device) Configure(cfg Config) error {
	if cfg.Mode > ModeFiltered {
		return ErrInvalidConfig
	}
	d.cfg = cfg.withDefaults()
	return nil
}

// Mode returns the configured ADC mode.
func (d *Device) Mode() ADCMode { return d.cfg.Mode }

// WakeSleep wakes every IC in the chain from SLEEP.
func (d *Device) WakeSleep() { d.bus.WakeSleep(d.cfg.WakeDelay, d.cfg.Sleep) }

// WakeIdle wakes the isoSPI ports from IDLE.
func (d *Device) WakeIdle() error { return d.bus.WakeIdle() }

// command sends a bare command in the broadcast form.
func (d *Device) command(code uint16) error {
	encodeCommand(d.tx[:], code, -1)
	return d.bus.Write(d.tx[:cmdBytes])
}

// WriteConfig broadcasts reg to every IC.
func (d *Device) WriteConfig(reg ConfigRegister) error {
	encodeCommand(d.tx[:], CmdWRCFG, -1)
	copy(d.tx[cmdBytes:], reg[:])
	putPEC(d.tx[cmdBytes:], GroupBytes)
	return d.bus.Write(d.tx[:cmdBytes+FrameBytes])
}

// WriteConfigAt writes reg to a single IC.
func (d *Device) WriteConfigAt(addr uint8, reg ConfigRegister) error {
	if addr > MaxAddress {
		return ErrAddress
	}
	encodeCommand(d.tx[:], CmdWRCFG, int(addr))
	copy(d.tx[cmdBytes:], reg[:])
	putPEC(d.tx[cmdBytes:], GroupBytes)
	return d.bus.Write(d.tx[:cmdBytes+FrameBytes])
}

// ReadConfig reads back the configuration group of one IC.
func (d *Device) ReadConfig(addr uint8) (ConfigRegister, error) {
	var reg ConfigRegister
	if err := d.readGroup(addr, CmdRDCFG); err != nil {
		return reg, err
	}
	copy(reg[:], d.rx[:GroupBytes])
	return reg, nil
}

// ClearCells sets every cell register to 0xFFFF.
func (d *Device) ClearCells() error { return d.command(CmdCLRCELL) }

// ClearAux sets every auxiliary register to 0xFFFF.
func (d *Device) ClearAux() error { return d.command(CmdCLRAUX) }

// StartCellConversion starts ADCV on every IC. It does not wait.
func (d *Device) StartCellConversion(ch CellSelect) error {
	return d.command(CellConversion(d.cfg.Mode, d.cfg.DischargePermitted, ch))
}

// StartAuxConversion starts ADAX on every IC. It does not wait.
func (d *Device) StartAuxConversion(ch AuxSelect) error {
	return d.command(AuxConversion(d.cfg.Mode, ch))
}

// StartOpenWire starts ADOW with the pull-up or pull-down current sources.
func (d *Device) StartOpenWire(pullUp bool) error {
	return d.command(OpenWireConversion(d.cfg.Mode, pullUp, d.cfg.DischargePermitted, CellsAll))
}

// WaitCells blocks for one full cell conversion in the configured mode.
func (d *Device) WaitCells() { d.cfg.Sleep(cellConversionTime(d.cfg.Mode)) }

// WaitAux blocks for one full aux conversion in the configured mode.
func (d *Device) WaitAux() { d.cfg.Sleep(auxConversionTime(d.cfg.Mode)) }

// ReadCells reads groups A..D of one IC into dst (cell 1 at index 0).
func (d *Device) ReadCells(addr uint8, dst *[CellChannels]uint16) error {
	for g, code := range cellGroups {
		if err := d.readGroup(addr, code); err != nil {
			return err
		}
		d.unpackCodes(dst[g*codesPerGrp : (g+1)*codesPerGrp])
	}
	return nil
}

// ReadAux reads groups A and B of one IC into dst (GPIO1..5, then VREF2).
func (d *Device) ReadAux(addr uint8, dst *[AuxChannels]uint16) error {
	for g, code := range auxGroups {
		if err := d.readGroup(addr, code); err != nil {
			return err
		}
		d.unpackCodes(dst[g*codesPerGrp : (g+1)*codesPerGrp])
	}
	return nil
}

// readGroup issues an addressed read and validates the data PEC into d.rx.
func (d *Device) readGroup(addr uint8, code uint16) error {
	if addr > MaxAddress {
		return ErrAddress
	}
	encodeCommand(d.tx[:], code, int(addr))
	if err := d.bus.WriteRead(d.tx[:cmdBytes], d.rx[:]); err != nil {
		return err
	}
	if !checkPEC(d.rx[:], GroupBytes) {
		return &PECError{Addr: addr, Cmd: code}
	}
	return nil
}

// unpackCodes decodes little-endian 16-bit codes from d.rx.
func (d *Device) unpackCodes(dst []uint16) {
	for i := range dst {
		dst[i] = uint16(d.rx[2*i]) | uint16(d.rx[2*i+1])<<8
	}
}
