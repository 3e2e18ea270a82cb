package ltc6804

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Pin is the chip-select output. machine.Pin satisfies it on TinyGo targets.
type Pin interface {
	Low()
	High()
}

var ErrBufferSize = errors.New("ltc6804: transfer larger than buffer")

// maxRead bounds one read block; one addressed register group is 8 bytes.
const maxRead = FrameBytes

// Bus frames SPI transfers with chip select: CS low, transfer, CS high.
// It is the only place that touches the SPI peripheral.
type Bus struct {
	spi drivers.SPI
	cs  Pin

	fill [maxRead]byte // 0xFF clocked out while reading
}

// NewBus returns a transport over an already configured SPI bus
// (mode 3, up to 1 MHz). CS is driven high.
func NewBus(spi drivers.SPI, cs Pin) *Bus {
	b := &Bus{spi: spi, cs: cs}
	for i := range b.fill {
		b.fill[i] = 0xFF
	}
	cs.High()
	return b
}

// TransferByte clocks one byte in a CS frame of its own.
func (b *Bus) TransferByte(w byte) (byte, error) {
	b.cs.Low()
	r, err := b.spi.Transfer(w)
	b.cs.High()
	return r, err
}

// Write sends w in one CS frame.
func (b *Bus) Write(w []byte) error {
	b.cs.Low()
	err := b.spi.Tx(w, nil)
	b.cs.High()
	return err
}

// WriteRead sends w then reads len(r) bytes, all within one CS frame.
func (b *Bus) WriteRead(w, r []byte) error {
	if len(r) > len(b.fill) {
		return ErrBufferSize
	}
	b.cs.Low()
	err := b.spi.Tx(w, nil)
	if err == nil && len(r) > 0 {
		err = b.spi.Tx(b.fill[:len(r)], r)
	}
	b.cs.High()
	return err
}

// WakeSleep holds CS low for d to bring the core out of SLEEP.
func (b *Bus) WakeSleep(d time.Duration, sleep func(time.Duration)) {
	b.cs.Low()
	sleep(d)
	b.cs.High()
	sleep(d)
}

// WakeIdle clocks a dummy byte to bring isoSPI out of IDLE.
func (b *Bus) WakeIdle() error {
	_, err := b.TransferByte(0xFF)
	return err
}
