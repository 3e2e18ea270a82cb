package ltc6804

// PEC15 polynomial: x^15 + x^14 + x^10 + x^8 + x^7 + x^4 + x^3 + 1.
const (
	pecPoly = 0x4599
	pecSeed = 16
)

var pecTable = buildPECTable()

func buildPECTable() (t [256]uint16) {
	for i := range t {
		rem := uint16(i) << 7
		for bit := 0; bit < 8; bit++ {
			if rem&0x4000 != 0 {
				rem = (rem << 1) ^ pecPoly
			} else {
				rem <<= 1
			}
		}
		t[i] = rem
	}
	return t
}

// PEC15 returns the packet error code for data. The result is already
// shifted left by one, as transmitted on the wire (LSB always zero).
func PEC15(data []byte) uint16 {
	rem := uint16(pecSeed)
	for _, b := range data {
		addr := byte(rem>>7) ^ b
		rem = (rem << 8) ^ pecTable[addr]
	}
	return rem << 1
}

// putPEC appends the PEC of data[:n] big-endian at data[n:n+2].
func putPEC(data []byte, n int) {
	p := PEC15(data[:n])
	data[n] = byte(p >> 8)
	data[n+1] = byte(p)
}

// checkPEC reports whether data[n:n+2] carries the PEC of data[:n].
func checkPEC(data []byte, n int) bool {
	p := PEC15(data[:n])
	return data[n] == byte(p>>8) && data[n+1] == byte(p)
}
