package telemetry

import (
	"sync"

	"bmscore-go/canbus"
)

// Charger is commanded once per cycle while the pack is in charge mode.
type Charger interface {
	SetTarget(volts, amps float64)
	Command() error
}

// CANCharger sends the charger command frame.
type CANCharger struct {
	enc Encoder
	tx  canbus.Sender

	mu          sync.Mutex
	volts, amps float64
}

func NewCANCharger(enc Encoder, tx canbus.Sender, volts, amps float64) *CANCharger {
	return &CANCharger{enc: enc, tx: tx, volts: volts, amps: amps}
}

func (c *CANCharger) SetTarget(volts, amps float64) {
	c.mu.Lock()
	c.volts, c.amps = volts, amps
	c.mu.Unlock()
}

func (c *CANCharger) Command() error {
	c.mu.Lock()
	f := c.enc.Charger(c.volts, c.amps)
	c.mu.Unlock()
	return c.tx.Send(f)
}

// NopCharger accepts targets and sends nothing.
type NopCharger struct{}

func (NopCharger) SetTarget(float64, float64) {}
func (NopCharger) Command() error             { return nil }
