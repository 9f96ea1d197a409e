package permission

import (
	"encoding/binary"
	"errors"
	"math/bits"
)

// ErrInvalidWidth is returned for a mask width other than 64, 128, 256 or
// 512 bits.
var ErrInvalidWidth = errors.New("invalid mask width")

// Mask is a fixed-width permission bitmask. The root bit, when reserved,
// is the highest bit of the mask.
type Mask struct {
	words []uint64
}

// NewMask returns an empty mask of maxBits bits.
func NewMask(maxBits int) (Mask, error) {
	if !validWidth(maxBits) {
		return Mask{}, ErrInvalidWidth
	}
	return Mask{words: make([]uint64, maxBits/64)}, nil
}

func validWidth(maxBits int) bool {
	switch maxBits {
	case 64, 128, 256, 512:
		return true
	}
	return false
}

// Width returns the number of bits.
func (m Mask) Width() int {
	return len(m.words) * 64
}

// Has reports whether bit is set. With rootReserved, a set root bit grants
// every bit.
func (m Mask) Has(bit int, rootReserved bool) bool {
	if bit < 0 || bit >= m.Width() {
		return false
	}
	if rootReserved && m.words[len(m.words)-1]&(1<<63) != 0 {
		return true
	}
	return m.words[bit/64]&(1<<(bit%64)) != 0
}

// Set sets bit. Out of range bits are ignored.
func (m Mask) Set(bit int) {
	if bit < 0 || bit >= m.Width() {
		return
	}
	m.words[bit/64] |= 1 << (bit % 64)
}

// Clear clears bit.
func (m Mask) Clear(bit int) {
	if bit < 0 || bit >= m.Width() {
		return
	}
	m.words[bit/64] &^= 1 << (bit % 64)
}

// Union sets every bit of other in m. Masks of different widths are
// combined over the shorter width.
func (m Mask) Union(other Mask) {
	for i := range min(len(m.words), len(other.words)) {
		m.words[i] |= other.words[i]
	}
}

// Count returns the number of set bits.
func (m Mask) Count() int {
	n := 0
	for _, w := range m.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Clone returns an independent copy.
func (m Mask) Clone() Mask {
	return Mask{words: append([]uint64(nil), m.words...)}
}

// Encode returns the big-endian encoding: 8, 16, 32 or 64 bytes.
func (m Mask) Encode() []byte {
	out := make([]byte, 8*len(m.words))
	for i, w := range m.words {
		binary.BigEndian.PutUint64(out[i*8:], w)
	}
	return out
}

// DecodeMask parses the output of [Mask.Encode].
func DecodeMask(data []byte) (Mask, error) {
	if !validWidth(len(data) * 8) {
		return Mask{}, errors.New("invalid mask size")
	}
	m := Mask{words: make([]uint64, len(data)/8)}
	for i := range m.words {
		m.words[i] = binary.BigEndian.Uint64(data[i*8:])
	}
	return m, nil
}
