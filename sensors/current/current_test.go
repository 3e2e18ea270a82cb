package current

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmscore-go/canbus"
)

func frame(id uint32, v int32) canbus.Frame {
	f := canbus.Frame{ID: id, Len: 8}
	u := uint32(v)
	f.Data[2], f.Data[3], f.Data[4], f.Data[5] = byte(u>>24), byte(u>>16), byte(u>>8), byte(u)
	return f
}

func TestIVTStartsStale(t *testing.T) {
	s := NewIVT(nil)
	assert.False(t, s.Tick().Fresh)
}

func TestIVTFreshnessIsConsumedOnce(t *testing.T) {
	s := NewIVT(nil)
	s.Update(frame(CurrentID, 12500))
	s.Update(frame(VoltageID, 398200))

	first := s.Tick()
	assert.True(t, first.Fresh)
	assert.InDelta(t, 12.5, first.Amps, 1e-9)
	assert.InDelta(t, 398.2, first.Volts, 1e-9)

	second := s.Tick()
	assert.False(t, second.Fresh)
	assert.Equal(t, first.Amps, second.Amps)
	assert.Equal(t, first.Volts, second.Volts)

	s.Update(frame(CurrentID, 13000))
	assert.True(t, s.Tick().Fresh)
}

func TestIVTSignedCurrent(t *testing.T) {
	s := NewIVT(nil)
	s.Update(frame(CurrentID, -40250))
	assert.InDelta(t, -40.25, s.Tick().Amps, 1e-9)
}

func TestIVTUnknownFrame(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewIVT(log)
	s.Update(frame(CurrentID, 1000))
	s.Update(frame(0x7FF, 1))

	m := s.Tick()
	assert.False(t, m.Fresh)
	assert.Equal(t, float64(Invalid), m.Amps)
	assert.Equal(t, float64(Invalid), m.Volts)
	assert.Contains(t, buf.String(), "unexpected frame")
}

func TestIVTUnknownFrameIgnoredWithoutDebug(t *testing.T) {
	s := NewIVT(nil)
	s.Update(frame(CurrentID, 1000))
	s.Update(frame(0x7FF, 1))

	m := s.Tick()
	assert.True(t, m.Fresh)
	assert.InDelta(t, 1.0, m.Amps, 1e-9)
}

func TestIVTCustomIDsViaRouter(t *testing.T) {
	s := NewIVTWithIDs(0x100, 0x101, nil)
	r := canbus.NewRouter()
	r.Handle(s)
	require.True(t, r.Dispatch(frame(0x101, 24000)))
	assert.InDelta(t, 24.0, s.Tick().Volts, 1e-9)
}

func TestIVTConcurrentUpdateKeepsPairConsistent(t *testing.T) {
	s := NewIVT(nil)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int32(0); i < 2000; i++ {
			s.Update(frame(CurrentID, i))
			s.Update(frame(VoltageID, i))
		}
	}()
	for i := 0; i < 2000; i++ {
		m := s.Tick()
		// volts is written after amps, so it can only trail by one step.
		assert.LessOrEqual(t, m.Volts, m.Amps)
	}
	wg.Wait()
}

func TestFixed(t *testing.T) {
	var s Sensor = NewFixed(3, 400)
	s.Update(frame(CurrentID, 99999))
	for i := 0; i < 3; i++ {
		m := s.Tick()
		assert.True(t, m.Fresh)
		assert.Equal(t, 3.0, m.Amps)
		assert.Equal(t, 400.0, m.Volts)
	}
	assert.Empty(t, s.IDs())
}
