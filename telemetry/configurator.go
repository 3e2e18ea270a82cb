package telemetry

import (
	"errors"
	"log/slog"

	"bmscore-go/canbus"
	"bmscore-go/store"
)

// ResetAddress in buf[7] asks for defaults on the next boot.
const ResetAddress = 0xFF

// MaxWrite is the largest payload a configuration frame carries.
const MaxWrite = 6

var (
	ErrWriteCount = errors.New("telemetry: config write count out of range")
	ErrWriteRange = errors.New("telemetry: config write outside store window")
)

// Configurator applies configuration-write frames to the store and acks
// them. Malformed writes are dropped without an ack.
type Configurator struct {
	st   store.Store
	base int
	enc  Encoder
	tx   canbus.Sender
	log  *slog.Logger
}

// NewConfigurator accepts writes to [base, st.Len()). base is normally
// store.AddrMode so the validity byte is only reachable through
// ResetAddress.
func NewConfigurator(st store.Store, base int, enc Encoder, tx canbus.Sender, log *slog.Logger) *Configurator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Configurator{st: st, base: base, enc: enc, tx: tx, log: log}
}

func (c *Configurator) IDs() []uint32 { return []uint32{c.enc.IDs.Config} }

// Apply validates and performs the write carried by f. buf[7] is the
// address, buf[6] the count and the payload runs from buf[5] down to buf[0].
func (c *Configurator) Apply(f canbus.Frame) error {
	addr, n := int(f.Data[7]), int(f.Data[6])
	if addr == ResetAddress {
		return store.Invalidate(c.st)
	}
	if n > MaxWrite {
		return ErrWriteCount
	}
	if addr < c.base || addr+n > c.st.Len() {
		return ErrWriteRange
	}
	for i := 0; i < n; i++ {
		if err := c.st.Put(uint16(addr+i), f.Data[5-i]); err != nil {
			return err
		}
	}
	return nil
}

// Update applies f and sends the ack on success.
func (c *Configurator) Update(f canbus.Frame) {
	if f.ID != c.enc.IDs.Config {
		return
	}
	if err := c.Apply(f); err != nil {
		c.log.Warn("config write dropped", "addr", f.Data[7], "count", f.Data[6], "err", err)
		return
	}
	if err := c.tx.Send(c.enc.Ack()); err != nil {
		c.log.Error("config ack", "err", err)
	}
}
