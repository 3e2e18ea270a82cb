// Package mirror copies every published BMS snapshot into a block of Modbus
// holding registers on a remote unit.
//
// Register block, relative to the configured base address:
//
//	0   sequence (low 16 bits)
//	1   mode (0 drive, 1 charge)
//	2   slaves
//	3   flags (bit 0 current fresh, bit 1 sibling seen)
//	4   total cell voltage, 0.1 V
//	5   pack current, 0.1 A, signed
//	6,7   min cell mV, flat index
//	8,9   max cell mV, flat index
//	10,11 min temperature 0.1 °C signed, flat index
//	12,13 max temperature 0.1 °C signed, flat index
//	14  cycle time, ms
//	15  cell count n
//	16            n cell voltages, mV
//	16+n          temperatures, 0.1 °C signed
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"bmscore-go/bus"
	"bmscore-go/services/config"
	"bmscore-go/types"
	"bmscore-go/x/logx"
	"bmscore-go/x/mathx"
)

const (
	HeaderLen = 16
	// MaxWrite is the register limit of one Write Multiple Registers request.
	MaxWrite = 123
)

const (
	FlagCurrentFresh = 1 << 0
	FlagSiblingSeen  = 1 << 1
)

// registerWriter is the single contract the mirror writes through.
type registerWriter interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}

type Mirror struct {
	cfg config.MirrorConfig
	w   registerWriter
	log *slog.Logger
}

func New(cfg config.MirrorConfig, w registerWriter, log *slog.Logger) *Mirror {
	if log == nil {
		log = logx.Discard()
	}
	return &Mirror{cfg: cfg, w: w, log: log}
}

// Encode lays a snapshot out as the register block.
func Encode(s types.Snapshot) []uint16 {
	regs := make([]uint16, HeaderLen, HeaderLen+len(s.Cells)+len(s.Temps))
	regs[0] = uint16(s.Seq)
	if s.Mode == "charge" {
		regs[1] = 1
	}
	regs[2] = uint16(s.Slaves)
	if s.CurrentFresh {
		regs[3] |= FlagCurrentFresh
	}
	if s.SiblingSeen {
		regs[3] |= FlagSiblingSeen
	}
	regs[4] = unsigned(s.TotalVolts * 10)
	regs[5] = signed(s.Amps * 10)
	regs[6], regs[7] = unsigned(s.MinCell.Value*1000), index(s.MinCell.Index)
	regs[8], regs[9] = unsigned(s.MaxCell.Value*1000), index(s.MaxCell.Index)
	regs[10], regs[11] = signed(s.MinTemp.Value*10), index(s.MinTemp.Index)
	regs[12], regs[13] = signed(s.MaxTemp.Value*10), index(s.MaxTemp.Index)
	regs[14] = unsigned(s.CycleMs)
	regs[15] = uint16(len(s.Cells))
	for _, v := range s.Cells {
		regs = append(regs, unsigned(v*1000))
	}
	for _, v := range s.Temps {
		regs = append(regs, signed(v*10))
	}
	return regs
}

func unsigned(v float64) uint16 { return mathx.RoundTo[uint16](v, 0, math.MaxUint16) }

func signed(v float64) uint16 {
	return uint16(mathx.RoundTo[int16](v, math.MinInt16, math.MaxInt16))
}

// index maps NoIndex (-1) to 0xFFFF.
func index(i int) uint16 { return uint16(int16(mathx.Clamp(i, -1, math.MaxInt16))) }

// Write encodes s and writes it in request-sized chunks.
func (m *Mirror) Write(s types.Snapshot) error {
	regs := Encode(s)
	for off := 0; off < len(regs); off += MaxWrite {
		end := mathx.Min(off+MaxWrite, len(regs))
		addr := m.cfg.Address + uint16(off)
		if err := m.w.WriteRegisters(m.cfg.UnitID, addr, regs[off:end]); err != nil {
			return fmt.Errorf("mirror: unit=%d addr=%d: %w", m.cfg.UnitID, addr, err)
		}
	}
	return nil
}

// Start mirrors snapshots from the bus until ctx is done.
func (m *Mirror) Start(ctx context.Context, conn *bus.Connection) error {
	sub := conn.Subscribe(types.TopicSnapshot())
	go func() {
		defer conn.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				s, ok := msg.Payload.(types.Snapshot)
				if !ok {
					continue
				}
				if err := m.Write(s); err != nil {
					m.log.Warn("snapshot not mirrored", "seq", s.Seq, logx.Err(err))
				}
			}
		}
	}()
	return nil
}
