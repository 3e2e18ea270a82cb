package ltc6804

// Range is a half-open channel interval [Start, End).
type Range struct {
	Start, End int
}

func (r Range) Len() int { return r.End - r.Start }

// Valid reports 0 <= Start < End <= max.
func (r Range) Valid(max int) bool {
	return r.Start >= 0 && r.Start < r.End && r.End <= max
}

// Open-wire decision threshold: PU - PD below -400 mV (in 100 µV codes).
const openWireThreshold = -4000

// Stack drives total_ic chained devices, addressed 0..total_ic-1, as one
// logical array.
type Stack struct {
	dev *Device
	n   int

	cells [][CellChannels]uint16
	aux   [][AuxChannels]uint16
	pd    [][CellChannels]uint16
}

// NewStack binds dev to a chain of totalIC monitors.
func NewStack(dev *Device, totalIC int) (*Stack, error) {
	if dev == nil || totalIC < 1 || totalIC > MaxAddress+1 {
		return nil, ErrInvalidConfig
	}
	return &Stack{
		dev:   dev,
		n:     totalIC,
		cells: make([][CellChannels]uint16, totalIC),
		aux:   make([][AuxChannels]uint16, totalIC),
		pd:    make([][CellChannels]uint16, totalIC),
	}, nil
}

func (s *Stack) Len() int        { return s.n }
func (s *Stack) Device() *Device { return s.dev }

// WriteConfig wakes the chain and broadcasts reg. The monitors drop their
// configuration after the watchdog timeout, so this runs every cycle.
func (s *Stack) WriteConfig(reg ConfigRegister) error {
	s.dev.WakeSleep()
	return s.dev.WriteConfig(reg)
}

// ConfigureAll writes reg and verifies it on every IC.
func (s *Stack) ConfigureAll(reg ConfigRegister) error {
	if err := s.WriteConfig(reg); err != nil {
		return err
	}
	return s.VerifyConfig(reg)
}

// VerifyConfig reads the configuration back from every IC and compares the
// 6 data bytes. A PEC failure aborts with *PECError; otherwise every IC that
// differs is reported once in *ConfigMismatchError.
func (s *Stack) VerifyConfig(reg ConfigRegister) error {
	var bad []ConfigMismatch
	for i := 0; i < s.n; i++ {
		got, err := s.dev.ReadConfig(uint8(i))
		if err != nil {
			return err
		}
		if got != reg {
			bad = append(bad, ConfigMismatch{Addr: uint8(i), Want: reg, Got: got})
		}
	}
	if len(bad) > 0 {
		return &ConfigMismatchError{ICs: bad}
	}
	return nil
}

// DiagnoseStuckBits clears both register files and checks the readback.
func (s *Stack) DiagnoseStuckBits(cells, aux Range) error {
	if err := s.ClearAll(); err != nil {
		return err
	}
	return s.CheckCleared(cells, aux)
}

// ClearAll resets the cell then the auxiliary registers to 0xFFFF.
func (s *Stack) ClearAll() error {
	if err := s.dev.ClearCells(); err != nil {
		return err
	}
	return s.dev.ClearAux()
}

// CheckCleared reads both register files and checks that every in-range
// channel, and the reference slot, still holds 0xFFFF.
func (s *Stack) CheckCleared(cells, aux Range) error {
	if !cells.Valid(CellChannels) || !aux.Valid(GPIOChannels) {
		return ErrInvalidConfig
	}
	var stuck []StuckBit
	for i := 0; i < s.n; i++ {
		addr := uint8(i)
		if err := s.dev.ReadCells(addr, &s.cells[i]); err != nil {
			return err
		}
		for ch := cells.Start; ch < cells.End; ch++ {
			if v := s.cells[i][ch]; v != 0xFFFF {
				stuck = append(stuck, StuckBit{Addr: addr, Group: GroupCell, Channel: ch, Got: v})
			}
		}
	}
	for i := 0; i < s.n; i++ {
		addr := uint8(i)
		if err := s.dev.ReadAux(addr, &s.aux[i]); err != nil {
			return err
		}
		for ch := aux.Start; ch < aux.End; ch++ {
			if v := s.aux[i][ch]; v != 0xFFFF {
				stuck = append(stuck, StuckBit{Addr: addr, Group: GroupAux, Channel: ch, Got: v})
			}
		}
		if v := s.aux[i][RefChannel]; v != 0xFFFF {
			stuck = append(stuck, StuckBit{Addr: addr, Group: GroupAux, Channel: RefChannel, Got: v})
		}
	}
	if len(stuck) > 0 {
		return &StuckBitError{Bits: stuck}
	}
	return nil
}

func (s *Stack) convertCells() error {
	if err := s.dev.StartCellConversion(CellsAll); err != nil {
		return err
	}
	s.dev.WaitCells()
	for i := 0; i < s.n; i++ {
		if err := s.dev.ReadCells(uint8(i), &s.cells[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stack) convertAux() error {
	if err := s.dev.StartAuxConversion(AuxAll); err != nil {
		return err
	}
	s.dev.WaitAux()
	for i := 0; i < s.n; i++ {
		if err := s.dev.ReadAux(uint8(i), &s.aux[i]); err != nil {
			return err
		}
	}
	return nil
}

// ConvertAndReadCells converts every cell, reads each IC and, only if every
// read passed, copies channels r of each IC into dst (slave-major).
// len(dst) must be Len()*r.Len().
func (s *Stack) ConvertAndReadCells(dst []uint16, r Range) error {
	if !r.Valid(CellChannels) || len(dst) != s.n*r.Len() {
		return ErrInvalidConfig
	}
	if err := s.convertCells(); err != nil {
		return err
	}
	w := r.Len()
	for i := 0; i < s.n; i++ {
		copy(dst[i*w:(i+1)*w], s.cells[i][r.Start:r.End])
	}
	return nil
}

// ConvertAndReadAux converts GPIO1..5 and VREF2, copies GPIO channels r into
// gpio (slave-major) and each IC's VREF2 code into ref[ic].
func (s *Stack) ConvertAndReadAux(gpio, ref []uint16, r Range) error {
	if !r.Valid(GPIOChannels) || len(gpio) != s.n*r.Len() || len(ref) != s.n {
		return ErrInvalidConfig
	}
	if err := s.convertAux(); err != nil {
		return err
	}
	w := r.Len()
	for i := 0; i < s.n; i++ {
		copy(gpio[i*w:(i+1)*w], s.aux[i][r.Start:r.End])
		ref[i] = s.aux[i][RefChannel]
	}
	return nil
}

// Settle runs one throwaway conversion of both channel groups. The first
// conversion after power-up or a clear is not trusted.
func (s *Stack) Settle() error {
	if err := s.convertCells(); err != nil {
		return err
	}
	return s.convertAux()
}

// DiagnoseOpenWire runs ADOW twice with pull-up and twice with pull-down and
// checks the C-pins spanned by r, C(r.Start) through C(r.End). Pin n (1..11) is open when
// PU(cell n+1) - PD(cell n+1) < -400 mV; C0 is open when PU(cell 1) is zero
// and C12 when PD(cell 12) is zero.
func (s *Stack) DiagnoseOpenWire(r Range) error {
	if !r.Valid(CellChannels) {
		return ErrInvalidConfig
	}
	if err := s.openWirePass(true, s.cells); err != nil {
		return err
	}
	if err := s.openWirePass(false, s.pd); err != nil {
		return err
	}
	var open []OpenPin
	for i := 0; i < s.n; i++ {
		pu, pd := &s.cells[i], &s.pd[i]
		// Cells Start..End-1 sit between pins Start and End, both included.
		for pin := r.Start; pin <= r.End; pin++ {
			var isOpen bool
			switch pin {
			case 0:
				isOpen = pu[0] == 0
			case CellChannels:
				isOpen = pd[CellChannels-1] == 0
			default:
				isOpen = int32(pu[pin])-int32(pd[pin]) < openWireThreshold
			}
			if isOpen {
				open = append(open, OpenPin{Addr: uint8(i), Pin: pin})
			}
		}
	}
	if len(open) > 0 {
		return &OpenWireError{Pins: open}
	}
	return nil
}

func (s *Stack) openWirePass(pullUp bool, dst [][CellChannels]uint16) error {
	for k := 0; k < 2; k++ {
		if err := s.dev.StartOpenWire(pullUp); err != nil {
			return err
		}
		s.dev.WaitCells()
	}
	for i := 0; i < s.n; i++ {
		if err := s.dev.ReadCells(uint8(i), &dst[i]); err != nil {
			return err
		}
	}
	return nil
}
