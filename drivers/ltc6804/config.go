package ltc6804

import "time"

// Config controls non-hardware behaviour. Zero values select defaults.
type Config struct {
	// Mode is the ADC mode used for cell, aux and open-wire conversions.
	// Default ModeNormal.
	Mode ADCMode
	// DischargePermitted keeps discharge switches enabled during cell
	// conversions (DCP bit).
	DischargePermitted bool
	// WakeDelay is held with CS low when waking the isoSPI/core from
	// sleep. Default 300 µs (tWAKE).
	WakeDelay time.Duration
	// Sleep is used for wake and conversion waits. Default time.Sleep.
	// Simulated chains pass a no-op.
	Sleep func(time.Duration)
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Mode:      ModeNormal,
		WakeDelay: 300 * time.Microsecond,
		Sleep:     time.Sleep,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Mode == 0 {
		c.Mode = d.Mode
	}
	if c.WakeDelay <= 0 {
		c.WakeDelay = d.WakeDelay
	}
	if c.Sleep == nil {
		c.Sleep = d.Sleep
	}
	return c
}

// Conversion times for all 12 cells (tCYCLE) and for all aux inputs, rounded up.
func cellConversionTime(md ADCMode) time.Duration {
	switch md {
	case ModeFast:
		return 1200 * time.Microsecond
	case ModeFiltered:
		return 202 * time.Millisecond
	default:
		return 2400 * time.Microsecond
	}
}

func auxConversionTime(md ADCMode) time.Duration {
	switch md {
	case ModeFast:
		return 1100 * time.Microsecond
	case ModeFiltered:
		return 202 * time.Millisecond
	default:
		return 2300 * time.Microsecond
	}
}

// ---------------- Configuration register group (CFGR0..CFGR5) ----------------

// ConfigRegister is the 6-byte configuration register group, identical on
// every IC of the stack.
//
//	CFGR0  GPIO5..1 pull-down off (7:3) | REFON (2) | SWTRD (1) | ADCOPT (0)
//	CFGR1  VUV[7:0]
//	CFGR2  VOV[3:0] << 4 | VUV[11:8]
//	CFGR3  VOV[11:4]
//	CFGR4  DCC8..DCC1
//	CFGR5  DCTO[3:0] << 4 | DCC12..DCC9
type ConfigRegister [GroupBytes]byte

const (
	cfgRefOn  = 1 << 2
	cfgSWTRD  = 1 << 1
	cfgADCOPT = 1 << 0
)

// DefaultConfigRegister has all GPIO pull-downs off (so the pins can be
// measured), the reference kept on between conversions, no thresholds and
// no discharge.
func DefaultConfigRegister() ConfigRegister {
	var r ConfigRegister
	r.SetGPIOPulldownOff(0x1F)
	r.SetRefOn(true)
	return r
}

// SetGPIOPulldownOff sets the GPIO1..5 bits from mask bits 0..4. A set bit
// turns the pull-down off.
func (r *ConfigRegister) SetGPIOPulldownOff(mask uint8) {
	r[0] = r[0]&0x07 | (mask&0x1F)<<3
}

func (r ConfigRegister) GPIOPulldownOff() uint8 { return r[0] >> 3 }

func (r *ConfigRegister) SetRefOn(on bool) { setBit(&r[0], cfgRefOn, on) }
func (r ConfigRegister) RefOn() bool       { return r[0]&cfgRefOn != 0 }

func (r *ConfigRegister) SetADCOpt(on bool) { setBit(&r[0], cfgADCOPT, on) }
func (r ConfigRegister) ADCOpt() bool       { return r[0]&cfgADCOPT != 0 }

// SetUndervoltage programs VUV from a threshold in millivolts.
// VUV = V / (16 * 100 µV) - 1, clamped to 12 bits.
func (r *ConfigRegister) SetUndervoltage(mV uint32) {
	code := mV * 10 / 16
	if code > 0 {
		code--
	}
	if code > 0xFFF {
		code = 0xFFF
	}
	r[1] = byte(code)
	r[2] = r[2]&0xF0 | byte(code>>8)&0x0F
}

// Undervoltage returns the programmed VUV threshold in millivolts.
func (r ConfigRegister) Undervoltage() uint32 {
	code := uint32(r[1]) | uint32(r[2]&0x0F)<<8
	return (code + 1) * 16 / 10
}

// SetOvervoltage programs VOV from a threshold in millivolts.
// VOV = V / (16 * 100 µV), clamped to 12 bits.
func (r *ConfigRegister) SetOvervoltage(mV uint32) {
	code := mV * 10 / 16
	if code > 0xFFF {
		code = 0xFFF
	}
	r[2] = r[2]&0x0F | byte(code&0x0F)<<4
	r[3] = byte(code >> 4)
}

// Overvoltage returns the programmed VOV threshold in millivolts.
func (r ConfigRegister) Overvoltage() uint32 {
	code := uint32(r[2]>>4) | uint32(r[3])<<4
	return code * 16 / 10
}

// SetDischarge enables or disables the discharge switch of cell (1..12).
func (r *ConfigRegister) SetDischarge(cell int, on bool) {
	switch {
	case cell >= 1 && cell <= 8:
		setBit(&r[4], 1<<(cell-1), on)
	case cell >= 9 && cell <= 12:
		setBit(&r[5], 1<<(cell-9), on)
	}
}

// Discharging reports whether the discharge switch of cell (1..12) is set.
func (r ConfigRegister) Discharging(cell int) bool {
	switch {
	case cell >= 1 && cell <= 8:
		return r[4]&(1<<(cell-1)) != 0
	case cell >= 9 && cell <= 12:
		return r[5]&(1<<(cell-9)) != 0
	}
	return false
}

// SetDischargeTimeout sets DCTO (0 disables the timer).
func (r *ConfigRegister) SetDischargeTimeout(dcto uint8) {
	r[5] = r[5]&0x0F | (dcto&0x0F)<<4
}

func (r ConfigRegister) DischargeTimeout() uint8 { return r[5] >> 4 }

func setBit(b *byte, mask byte, on bool) {
	if on {
		*b |= mask
	} else {
		*b &^= mask
	}
}
