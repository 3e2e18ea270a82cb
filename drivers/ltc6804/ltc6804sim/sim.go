// Package ltc6804sim simulates a chain of LTC6804-2 monitors behind an SPI
// port. It implements drivers.SPI and the chip-select Pin so a real
// ltc6804.Device can run against it on the host, and it can inject the
// faults the stack diagnostics look for.
package ltc6804sim

import (
	"errors"
	"sync"

	"bmscore-go/drivers/ltc6804"
)

var ErrNotSelected = errors.New("ltc6804sim: transfer with CS high")

// Command is one decoded command header seen on the wire.
type Command struct {
	Code      uint16
	Addr      uint8
	Broadcast bool
}

type ic struct {
	cfg   ltc6804.ConfigRegister
	cells [ltc6804.CellChannels]uint16
	aux   [ltc6804.AuxChannels]uint16

	// Values a conversion loads into the registers.
	cellIn [ltc6804.CellChannels]uint16
	auxIn  [ltc6804.AuxChannels]uint16

	cfgXOR    ltc6804.ConfigRegister
	stuckCell map[int]uint16
	stuckAux  map[int]uint16
	open      [ltc6804.CellChannels + 1]bool
}

type corruption struct {
	addr uint8
	code uint16
	n    int
}

// Chain is a simulated daisy chain addressed 0..n-1. Safe for concurrent use.
type Chain struct {
	mu sync.Mutex

	ics      []ic
	selected bool
	frame    []byte
	resp     []byte
	write    *Command

	corrupt []corruption
	log     []Command
	badCmds int
	wakeups int
}

// New returns a chain of n monitors with every register cleared.
func New(n int) *Chain {
	c := &Chain{ics: make([]ic, n)}
	for i := range c.ics {
		fill(c.ics[i].cells[:])
		fill(c.ics[i].aux[:])
	}
	return c
}

func fill(v []uint16) {
	for i := range v {
		v[i] = 0xFFFF
	}
}

// ---------------- Pin ----------------

func (c *Chain) Low() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = true
	c.frame = c.frame[:0]
	c.resp = nil
	c.write = nil
}

func (c *Chain) High() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected && len(c.frame) == 0 {
		c.wakeups++
	}
	if c.write != nil {
		c.applyWrite()
	}
	c.selected = false
	c.write = nil
	c.resp = nil
}

// ---------------- drivers.SPI ----------------

func (c *Chain) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.selected {
		return ErrNotSelected
	}
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		in := byte(0xFF)
		if i < len(w) {
			in = w[i]
		}
		out := c.clock(in)
		if i < len(r) {
			r[i] = out
		}
	}
	return nil
}

func (c *Chain) Transfer(b byte) (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.selected {
		return 0, ErrNotSelected
	}
	return c.clock(b), nil
}

func (c *Chain) clock(in byte) byte {
	pos := len(c.frame)
	c.frame = append(c.frame, in)
	out := byte(0xFF)
	if pos >= 4 && pos-4 < len(c.resp) {
		out = c.resp[pos-4]
	}
	if pos == 3 {
		c.decode()
	}
	return out
}

func (c *Chain) decode() {
	p := ltc6804.PEC15(c.frame[:2])
	if c.frame[2] != byte(p>>8) || c.frame[3] != byte(p) {
		c.badCmds++
		return
	}
	code, addr, bc := ltc6804.DecodeCommand([2]byte{c.frame[0], c.frame[1]})
	cmd := Command{Code: code, Addr: addr, Broadcast: bc}
	c.log = append(c.log, cmd)

	switch code {
	case ltc6804.CmdWRCFG:
		c.write = &cmd
		return
	case ltc6804.CmdRDCFG, ltc6804.CmdRDCVA, ltc6804.CmdRDCVB, ltc6804.CmdRDCVC, ltc6804.CmdRDCVD,
		ltc6804.CmdRDAUXA, ltc6804.CmdRDAUXB:
		c.respond(cmd)
		return
	case ltc6804.CmdCLRCELL:
		for i := range c.ics {
			fill(c.ics[i].cells[:])
		}
		return
	case ltc6804.CmdCLRAUX:
		for i := range c.ics {
			fill(c.ics[i].aux[:])
		}
		return
	}

	switch {
	case code&^0x197 == ltc6804.CmdADCV:
		for i := range c.ics {
			c.ics[i].cells = c.ics[i].cellIn
		}
	case code&^0x187 == ltc6804.CmdADAX:
		for i := range c.ics {
			c.ics[i].aux = c.ics[i].auxIn
		}
	case code&^0x1D7 == ltc6804.CmdADOW:
		pullUp := code&(1<<6) != 0
		for i := range c.ics {
			c.ics[i].openWire(pullUp)
		}
	}
}

// openWire models ADOW: with pull-up an open pin n drags cell n+1 to zero;
// with pull-down cell n+1 keeps its value. C0 and C12 read zero on the
// corresponding pass.
func (x *ic) openWire(pullUp bool) {
	x.cells = x.cellIn
	for pin, open := range x.open {
		if !open {
			continue
		}
		switch {
		case pin == 0 && pullUp:
			x.cells[0] = 0
		case pin == ltc6804.CellChannels && !pullUp:
			x.cells[ltc6804.CellChannels-1] = 0
		case pin > 0 && pin < ltc6804.CellChannels && pullUp:
			x.cells[pin] = 0
		}
	}
}

func (c *Chain) respond(cmd Command) {
	if cmd.Broadcast || int(cmd.Addr) >= len(c.ics) {
		return // nobody drives SDO; the host reads 0xFF and fails the PEC
	}
	x := &c.ics[cmd.Addr]
	var data [ltc6804.FrameBytes]byte
	switch cmd.Code {
	case ltc6804.CmdRDCFG:
		for i := range x.cfg {
			data[i] = x.cfg[i] ^ x.cfgXOR[i]
		}
	case ltc6804.CmdRDCVA, ltc6804.CmdRDCVB, ltc6804.CmdRDCVC, ltc6804.CmdRDCVD:
		g := int(cmd.Code-ltc6804.CmdRDCVA) / 2
		for k := 0; k < 3; k++ {
			ch := g*3 + k
			v := x.cells[ch]
			if s, ok := x.stuckCell[ch]; ok {
				v = s
			}
			data[2*k], data[2*k+1] = byte(v), byte(v>>8)
		}
	case ltc6804.CmdRDAUXA, ltc6804.CmdRDAUXB:
		g := int(cmd.Code-ltc6804.CmdRDAUXA) / 2
		for k := 0; k < 3; k++ {
			ch := g*3 + k
			v := x.aux[ch]
			if s, ok := x.stuckAux[ch]; ok {
				v = s
			}
			data[2*k], data[2*k+1] = byte(v), byte(v>>8)
		}
	}
	p := ltc6804.PEC15(data[:ltc6804.GroupBytes])
	data[6], data[7] = byte(p>>8), byte(p)
	if c.takeCorruption(cmd) {
		data[7] ^= 0x02
	}
	c.resp = data[:]
}

func (c *Chain) takeCorruption(cmd Command) bool {
	for i := range c.corrupt {
		k := &c.corrupt[i]
		if k.n > 0 && k.addr == cmd.Addr && k.code == cmd.Code {
			k.n--
			return true
		}
	}
	return false
}

func (c *Chain) applyWrite() {
	if len(c.frame) != 4+ltc6804.FrameBytes {
		return
	}
	data := c.frame[4:]
	p := ltc6804.PEC15(data[:ltc6804.GroupBytes])
	if data[6] != byte(p>>8) || data[7] != byte(p) {
		c.badCmds++
		return
	}
	var reg ltc6804.ConfigRegister
	copy(reg[:], data[:ltc6804.GroupBytes])
	if c.write.Broadcast {
		for i := range c.ics {
			c.ics[i].cfg = reg
		}
		return
	}
	if int(c.write.Addr) < len(c.ics) {
		c.ics[c.write.Addr].cfg = reg
	}
}
