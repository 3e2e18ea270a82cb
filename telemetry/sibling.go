package telemetry

import (
	"sync"

	"bmscore-go/canbus"
)

// SiblingBox caches the pack voltage reported by the other box.
type SiblingBox struct {
	id uint32

	mu    sync.Mutex
	volts float64
	seen  bool
}

func NewSiblingBox(ids IDs) *SiblingBox { return &SiblingBox{id: ids.SiblingIn} }

func (s *SiblingBox) IDs() []uint32 { return []uint32{s.id} }

func (s *SiblingBox) Update(f canbus.Frame) {
	if f.ID != s.id {
		return
	}
	v := float64(uint16(f.Data[6])<<8|uint16(f.Data[7])) * 0.01
	s.mu.Lock()
	s.volts, s.seen = v, true
	s.mu.Unlock()
}

// Volts returns the last reported voltage and whether any was received.
func (s *SiblingBox) Volts() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volts, s.seen
}
