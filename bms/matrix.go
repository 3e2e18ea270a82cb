package bms

// Matrix is a slave-major grid of raw 16-bit codes: row i holds the selected
// channels of monitor i. Its shape is fixed at construction.
type Matrix struct {
	rows, cols int
	data       []uint16
}

// NewMatrix panics on a non-positive dimension.
func NewMatrix(rows, cols int) Matrix {
	if rows < 1 || cols < 1 {
		panic("bms: matrix dimensions must be positive")
	}
	return Matrix{rows: rows, cols: cols, data: make([]uint16, rows*cols)}
}

func (m Matrix) Rows() int { return m.rows }
func (m Matrix) Cols() int { return m.cols }
func (m Matrix) Len() int  { return len(m.data) }

// At returns the code of channel offset ch on slave i.
func (m Matrix) At(i, ch int) uint16 {
	if i < 0 || i >= m.rows || ch < 0 || ch >= m.cols {
		panic("bms: matrix index out of range")
	}
	return m.data[i*m.cols+ch]
}

// Flat returns the code at flat index idx = slave*Cols()+offset.
func (m Matrix) Flat(idx int) uint16 { return m.data[idx] }

// Split converts a flat index to (slave, channel offset).
func (m Matrix) Split(idx int) (slave, ch int) { return idx / m.cols, idx % m.cols }

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	return Matrix{rows: m.rows, cols: m.cols, data: append([]uint16(nil), m.data...)}
}

// Values returns a copy of the codes in flat order.
func (m Matrix) Values() []uint16 { return append([]uint16(nil), m.data...) }
