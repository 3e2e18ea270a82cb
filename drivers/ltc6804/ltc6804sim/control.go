package ltc6804sim

import (
	"time"

	"bmscore-go/drivers/ltc6804"
)

// Len returns the number of simulated monitors.
func (c *Chain) Len() int { return len(c.ics) }

// SetCells sets the codes the next cell conversion of IC addr produces.
func (c *Chain) SetCells(addr int, codes [ltc6804.CellChannels]uint16) {
	c.mu.Lock()
	c.ics[addr].cellIn = codes
	c.mu.Unlock()
}

// SetCell sets a single cell input code.
func (c *Chain) SetCell(addr, ch int, code uint16) {
	c.mu.Lock()
	c.ics[addr].cellIn[ch] = code
	c.mu.Unlock()
}

// SetAux sets the codes the next aux conversion of IC addr produces
// (GPIO1..5, VREF2).
func (c *Chain) SetAux(addr int, codes [ltc6804.AuxChannels]uint16) {
	c.mu.Lock()
	c.ics[addr].auxIn = codes
	c.mu.Unlock()
}

// FillAll sets every cell of every IC to cell and every GPIO to gpio, with
// VREF2 at ref.
func (c *Chain) FillAll(cell, gpio, ref uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.ics {
		for ch := range c.ics[i].cellIn {
			c.ics[i].cellIn[ch] = cell
		}
		for ch := 0; ch < ltc6804.GPIOChannels; ch++ {
			c.ics[i].auxIn[ch] = gpio
		}
		c.ics[i].auxIn[ltc6804.RefChannel] = ref
	}
}

// Config returns the configuration currently held by IC addr.
func (c *Chain) Config(addr int) ltc6804.ConfigRegister {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ics[addr].cfg
}

// FlipConfigReadback XORs byte i of IC addr's config readback with mask.
func (c *Chain) FlipConfigReadback(addr, i int, mask byte) {
	c.mu.Lock()
	c.ics[addr].cfgXOR[i] ^= mask
	c.mu.Unlock()
}

// StickCell forces cell channel ch of IC addr to read v regardless of clears
// and conversions.
func (c *Chain) StickCell(addr, ch int, v uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ics[addr].stuckCell == nil {
		c.ics[addr].stuckCell = make(map[int]uint16)
	}
	c.ics[addr].stuckCell[ch] = v
}

// StickAux is StickCell for the auxiliary file.
func (c *Chain) StickAux(addr, ch int, v uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ics[addr].stuckAux == nil {
		c.ics[addr].stuckAux = make(map[int]uint16)
	}
	c.ics[addr].stuckAux[ch] = v
}

// OpenWire disconnects C-pin (0..12) of IC addr.
func (c *Chain) OpenWire(addr, pin int) {
	c.mu.Lock()
	c.ics[addr].open[pin] = true
	c.mu.Unlock()
}

// CorruptReads makes the next n responses of IC addr to read command code
// carry a bad PEC.
func (c *Chain) CorruptReads(addr uint8, code uint16, n int) {
	c.mu.Lock()
	c.corrupt = append(c.corrupt, corruption{addr: addr, code: code, n: n})
	c.mu.Unlock()
}

// Commands returns every valid command header received so far.
func (c *Chain) Commands() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Command(nil), c.log...)
}

// ResetLog clears the command log.
func (c *Chain) ResetLog() {
	c.mu.Lock()
	c.log = c.log[:0]
	c.mu.Unlock()
}

// BadCommands counts command or write-data frames rejected for a bad PEC.
func (c *Chain) BadCommands() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.badCmds
}

// Wakeups counts CS pulses that carried no data.
func (c *Chain) Wakeups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wakeups
}

// Device returns an ltc6804.Device wired to the chain with waits disabled.
func (c *Chain) Device() *ltc6804.Device {
	d := ltc6804.New(c, c)
	_ = d.Configure(ltc6804.Config{Sleep: func(_ time.Duration) {}})
	return d
}
