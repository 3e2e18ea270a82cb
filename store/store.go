// Package store holds the battery parameters in a small byte-addressed
// non-volatile memory and loads them once at boot into Settings.
package store

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/at24cx"
)

var (
	ErrRange   = errors.New("store: address out of range")
	ErrCorrupt = errors.New("store: stored settings invalid")
)

// Store is a byte-addressed non-volatile memory.
type Store interface {
	Get(addr uint16) (byte, error)
	Put(addr uint16, v byte) error
	Len() int
}

// ---------------- Memory ----------------

// Memory is a RAM-backed store, erased to 0xFF.
type Memory struct {
	mu  sync.Mutex
	buf []byte
}

func NewMemory(size int) *Memory {
	m := &Memory{buf: make([]byte, size)}
	for i := range m.buf {
		m.buf[i] = 0xFF
	}
	return m
}

func (m *Memory) Len() int { return len(m.buf) }

func (m *Memory) Get(addr uint16) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(addr) >= len(m.buf) {
		return 0, ErrRange
	}
	return m.buf[addr], nil
}

func (m *Memory) Put(addr uint16, v byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(addr) >= len(m.buf) {
		return ErrRange
	}
	m.buf[addr] = v
	return nil
}

// ---------------- File ----------------

// File persists the image in a regular file, written through on every Put.
type File struct {
	mu   sync.Mutex
	f    *os.File
	size int
}

// OpenFile opens or creates path as a store of size bytes. New or short
// files are padded with 0xFF.
func OpenFile(path string, size int) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if pad := int64(size) - st.Size(); pad > 0 {
		blank := make([]byte, pad)
		for i := range blank {
			blank[i] = 0xFF
		}
		if _, err := f.WriteAt(blank, st.Size()); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &File{f: f, size: size}, nil
}

func (s *File) Len() int { return s.size }

func (s *File) Get(addr uint16) (byte, error) {
	if int(addr) >= s.size {
		return 0, ErrRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var b [1]byte
	if _, err := s.f.ReadAt(b[:], int64(addr)); err != nil && err != io.EOF {
		return 0, err
	}
	return b[0], nil
}

func (s *File) Put(addr uint16, v byte) error {
	if int(addr) >= s.size {
		return ErrRange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.f.WriteAt([]byte{v}, int64(addr))
	return err
}

func (s *File) Close() error { return s.f.Close() }

// ---------------- EEPROM ----------------

// EEPROMConfig describes an AT24Cxx part.
type EEPROMConfig struct {
	Address uint16 // default at24cx.Address
	Size    int    // bytes; default 4096 (AT24C32)
	// WriteDelay covers the internal write cycle (tWR). Default 5 ms.
	WriteDelay time.Duration
	Sleep      func(time.Duration)
}

// EEPROM is a store on an AT24Cxx over I2C.
type EEPROM struct {
	dev   at24cx.Device
	size  int
	delay time.Duration
	sleep func(time.Duration)
}

func NewEEPROM(bus drivers.I2C, cfg EEPROMConfig) *EEPROM {
	if cfg.Size <= 0 {
		cfg.Size = 4096
	}
	if cfg.WriteDelay <= 0 {
		cfg.WriteDelay = 5 * time.Millisecond
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	dev := at24cx.New(bus)
	if cfg.Address != 0 {
		dev.Address = cfg.Address
	}
	dev.Configure(at24cx.Config{EndRAMAddress: uint16(cfg.Size)})
	return &EEPROM{dev: dev, size: cfg.Size, delay: cfg.WriteDelay, sleep: cfg.Sleep}
}

func (e *EEPROM) Len() int { return e.size }

func (e *EEPROM) Get(addr uint16) (byte, error) {
	if int(addr) >= e.size {
		return 0, ErrRange
	}
	return e.dev.ReadByte(addr)
}

func (e *EEPROM) Put(addr uint16, v byte) error {
	if int(addr) >= e.size {
		return ErrRange
	}
	if err := e.dev.WriteByte(addr, v); err != nil {
		return err
	}
	e.sleep(e.delay)
	return nil
}
