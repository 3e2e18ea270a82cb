package canbus

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// SLCAN (Lawicel) ASCII framing:
//
//	tiiildd..\r   standard data frame
//	Tiiiiiiiildd..\r  extended data frame
//	riiil\r / Riiiiiiiil\r  remote frames
const (
	slcanCR   = '\r'
	slcanBell = '\a'
)

var ErrBitrate = errors.New("canbus: unsupported slcan bitrate")

var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

const hexDigits = "0123456789ABCDEF"

// AppendSLCAN appends the SLCAN text form of f, including the trailing CR.
func AppendSLCAN(dst []byte, f Frame) []byte {
	tag, idDigits := byte('t'), 3
	if f.Extended {
		tag, idDigits = 'T', 8
	}
	if f.Remote {
		tag -= 't' - 'r'
	}
	dst = append(dst, tag)
	for i := idDigits - 1; i >= 0; i-- {
		dst = append(dst, hexDigits[(f.ID>>(4*uint(i)))&0xF])
	}
	dst = append(dst, '0'+f.Len)
	if !f.Remote {
		for _, b := range f.Payload() {
			dst = append(dst, hexDigits[b>>4], hexDigits[b&0xF])
		}
	}
	return append(dst, slcanCR)
}

// ParseSLCAN decodes one SLCAN frame line (without the CR).
func ParseSLCAN(line []byte) (Frame, error) {
	var f Frame
	if len(line) == 0 {
		return f, ErrFrame
	}
	idDigits := 3
	switch line[0] {
	case 't':
	case 'r':
		f.Remote = true
	case 'T':
		f.Extended, idDigits = true, 8
	case 'R':
		f.Extended, f.Remote, idDigits = true, true, 8
	default:
		return f, ErrFrame
	}
	if len(line) < 1+idDigits+1 {
		return f, ErrFrame
	}
	for _, c := range line[1 : 1+idDigits] {
		n, ok := unhex(c)
		if !ok {
			return f, ErrFrame
		}
		f.ID = f.ID<<4 | uint32(n)
	}
	dlc := line[1+idDigits]
	if dlc < '0' || dlc > '8' {
		return f, ErrFrame
	}
	f.Len = dlc - '0'
	data := line[2+idDigits:]
	if f.Remote {
		data = data[:0]
	} else if len(data) < 2*int(f.Len) {
		return f, ErrFrame
	}
	for i := 0; i < len(data)/2 && i < int(f.Len); i++ {
		hi, ok1 := unhex(data[2*i])
		lo, ok2 := unhex(data[2*i+1])
		if !ok1 || !ok2 {
			return f, ErrFrame
		}
		f.Data[i] = hi<<4 | lo
	}
	if !f.Valid() {
		return f, ErrFrame
	}
	return f, nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// SerialConfig opens an SLCAN adapter on a serial device.
type SerialConfig struct {
	Device string
	Baud   int // line rate; default 115200
	// Bitrate is the CAN bit rate; default 500 kbit/s.
	Bitrate int
	// ReadTimeout of zero makes Receive block until a byte arrives.
	ReadTimeout time.Duration
}

// SLCAN is a Sender/Receiver over an SLCAN adapter.
type SLCAN struct {
	rw io.ReadWriteCloser
	r  *bufio.Reader

	mu   sync.Mutex // serialises writes
	wbuf []byte
	line []byte
}

// OpenSerial opens the device with tarm/serial and puts the adapter on the
// bus at cfg.Bitrate.
func OpenSerial(cfg SerialConfig) (*SLCAN, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.Bitrate == 0 {
		cfg.Bitrate = 500000
	}
	if _, ok := slcanBitrates[cfg.Bitrate]; !ok {
		return nil, ErrBitrate
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, err
	}
	p := NewSLCAN(port)
	if err := p.Open(cfg.Bitrate); err != nil {
		_ = port.Close()
		return nil, err
	}
	return p, nil
}

// NewSLCAN wraps an already opened byte stream.
func NewSLCAN(rw io.ReadWriteCloser) *SLCAN {
	return &SLCAN{rw: rw, r: bufio.NewReaderSize(rw, 256), wbuf: make([]byte, 0, 32)}
}

// Open closes the channel, sets the bit rate and opens it again.
func (p *SLCAN) Open(bitrate int) error {
	code, ok := slcanBitrates[bitrate]
	if !ok {
		return ErrBitrate
	}
	for _, cmd := range [][]byte{{'C', slcanCR}, {'S', code, slcanCR}, {'O', slcanCR}} {
		if err := p.write(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (p *SLCAN) write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.rw.Write(b)
	return err
}

func (p *SLCAN) Send(f Frame) error {
	if !f.Valid() {
		return ErrFrame
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wbuf = AppendSLCAN(p.wbuf[:0], f)
	_, err := p.rw.Write(p.wbuf)
	return err
}

// Receive returns the next frame. Command acknowledgements, status replies,
// error bells and malformed lines are skipped. Not safe for concurrent calls.
func (p *SLCAN) Receive() (Frame, error) {
	for {
		line, err := p.readLine()
		if err != nil {
			return Frame{}, err
		}
		if len(line) == 0 {
			continue
		}
		switch line[0] {
		case 't', 'T', 'r', 'R':
			if f, err := ParseSLCAN(line); err == nil {
				return f, nil
			}
		}
	}
}

func (p *SLCAN) readLine() ([]byte, error) {
	p.line = p.line[:0]
	for {
		c, err := p.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if c == slcanCR || c == slcanBell {
			return p.line, nil
		}
		p.line = append(p.line, c)
	}
}

// Close takes the adapter off the bus and closes the stream.
func (p *SLCAN) Close() error {
	_ = p.write([]byte{'C', slcanCR})
	return p.rw.Close()
}
