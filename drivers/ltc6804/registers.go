// Package ltc6804 drives a chain of LTC6804-2 (and pin-compatible LTC6811-2)
// multicell battery monitors over an addressed SPI link.
//
// Every command and every register group carries a 15-bit PEC. Reads that
// fail the PEC check return ErrPEC (wrapped in *PECError); the driver never
// retries on its own.
//
// The package is split in two layers:
//
//	Device  one primitive per command (write/read config, clear, convert, read)
//	Stack   orchestration across total_ic devices plus self-test diagnostics
//
// Drivers avoid fmt and floating point so the package builds under TinyGo.
package ltc6804

// Command codes (11-bit). Addressed commands OR in 0x80|addr<<3 on the high byte.
const (
	CmdWRCFG   = 0x001
	CmdRDCFG   = 0x002
	CmdRDCVA   = 0x004
	CmdRDCVB   = 0x006
	CmdRDCVC   = 0x008
	CmdRDCVD   = 0x00A
	CmdRDAUXA  = 0x00C
	CmdRDAUXB  = 0x00E
	CmdRDSTATA = 0x010
	CmdRDSTATB = 0x012
	CmdCLRCELL = 0x711
	CmdCLRAUX  = 0x712
	CmdCLRSTAT = 0x713
	CmdPLADC   = 0x714
	CmdDIAGN   = 0x715

	CmdADCV = 0x260 // | MD<<7 | DCP<<4 | CH
	CmdADAX = 0x460 // | MD<<7 | CHG
	CmdADOW = 0x228 // | MD<<7 | PUP<<6 | DCP<<4 | CH
	CmdCVST = 0x207 // | MD<<7 | ST<<5
)

// Register group geometry.
const (
	GroupBytes   = 6 // data bytes per register group
	FrameBytes   = GroupBytes + 2
	cmdBytes     = 4 // 2 command + 2 PEC
	codesPerGrp  = 3
	CellChannels = 12
	AuxChannels  = 6 // GPIO1..5 + VREF2
	GPIOChannels = 5
	RefChannel   = 5 // aux slot holding VREF2
	MaxAddress   = 15
)

var cellGroups = [...]uint16{CmdRDCVA, CmdRDCVB, CmdRDCVC, CmdRDCVD}
var auxGroups = [...]uint16{CmdRDAUXA, CmdRDAUXB}

// ADCMode selects the ADC filter corner (MD bits).
type ADCMode uint8

const (
	ModeFast     ADCMode = 1 // 27 kHz
	ModeNormal   ADCMode = 2 // 7 kHz
	ModeFiltered ADCMode = 3 // 26 Hz
)

// CellSelect selects which cells a conversion covers (CH bits).
type CellSelect uint8

const (
	CellsAll CellSelect = iota
	Cells1And7
	Cells2And8
	Cells3And9
	Cells4And10
	Cells5And11
	Cells6And12
)

// AuxSelect selects which auxiliary inputs a conversion covers (CHG bits).
type AuxSelect uint8

const (
	AuxAll AuxSelect = iota
	AuxGPIO1
	AuxGPIO2
	AuxGPIO3
	AuxGPIO4
	AuxGPIO5
	AuxRef2
)

// CellConversion returns the ADCV command code.
func CellConversion(md ADCMode, dcp bool, ch CellSelect) uint16 {
	c := uint16(CmdADCV) | uint16(md&3)<<7 | uint16(ch&7)
	if dcp {
		c |= 1 << 4
	}
	return c
}

// AuxConversion returns the ADAX command code.
func AuxConversion(md ADCMode, chg AuxSelect) uint16 {
	return uint16(CmdADAX) | uint16(md&3)<<7 | uint16(chg&7)
}

// OpenWireConversion returns the ADOW command code.
func OpenWireConversion(md ADCMode, pullUp, dcp bool, ch CellSelect) uint16 {
	c := uint16(CmdADOW) | uint16(md&3)<<7 | uint16(ch&7)
	if pullUp {
		c |= 1 << 6
	}
	if dcp {
		c |= 1 << 4
	}
	return c
}

// encodeCommand writes the 2 command bytes plus PEC into dst[:4].
// addr < 0 selects the broadcast form.
func encodeCommand(dst []byte, code uint16, addr int) {
	hi := byte(code>>8) & 0x07
	if addr >= 0 {
		hi |= 0x80 | byte(addr&0x0F)<<3
	}
	dst[0] = hi
	dst[1] = byte(code)
	putPEC(dst, 2)
}

// DecodeCommand splits a received command header into its code and target
// address. broadcast is true when the address bit is clear.
func DecodeCommand(b [2]byte) (code uint16, addr uint8, broadcast bool) {
	code = uint16(b[0]&0x07)<<8 | uint16(b[1])
	if b[0]&0x80 == 0 {
		return code, 0, true
	}
	return code, (b[0] >> 3) & 0x0F, false
}
