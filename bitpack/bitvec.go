package bitpack

import (
	"encoding/binary"
	"fmt"
	"io"
)

// BitVector is an append-only sequence of bits with random access. The
// grammar builder uses it for rule limits and phrase delimiters.
type BitVector struct {
	words []uint64
	n     int
}

// NewBitVector creates an empty bit vector. When n > 0 the vector starts
// with n zero bits.
func NewBitVector(n int) *BitVector {
	return &BitVector{words: make([]uint64, (n+63)/64), n: n}
}

// Len returns the number of bits.
func (b *BitVector) Len() int { return b.n }

// Append adds one bit at the end.
func (b *BitVector) Append(bit bool) {
	if b.n%64 == 0 {
		b.words = append(b.words, 0)
	}
	if bit {
		b.words[b.n/64] |= uint64(1) << (b.n % 64)
	}
	b.n++
}

// Get returns the bit at index i.
func (b *BitVector) Get(i int) bool {
	if i < 0 || i >= b.n {
		panic(fmt.Sprintf("bitpack: bit index %d out of range [0,%d)", i, b.n))
	}
	return b.words[i/64]>>(i%64)&1 != 0
}

// Set writes the bit at index i.
func (b *BitVector) Set(i int, bit bool) {
	if i < 0 || i >= b.n {
		panic(fmt.Sprintf("bitpack: bit index %d out of range [0,%d)", i, b.n))
	}
	if bit {
		b.words[i/64] |= uint64(1) << (i % 64)
	} else {
		b.words[i/64] &^= uint64(1) << (i % 64)
	}
}

// WriteTo serializes the vector as a little-endian uint64 bit count
// followed by the payload words.
func (b *BitVector) WriteTo(w io.Writer) (int64, error) {
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(b.n))
	n, err := w.Write(hdr[:])
	total := int64(n)
	if err != nil {
		return total, err
	}
	nWords := (b.n + 63) / 64
	var cell [8]byte
	for i := 0; i < nWords; i++ {
		binary.LittleEndian.PutUint64(cell[:], b.words[i])
		n, err = w.Write(cell[:])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadBitVector deserializes a vector written by WriteTo.
func ReadBitVector(r io.Reader) (*BitVector, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("bitpack: reading bit vector header: %w", err)
	}
	count := int(binary.LittleEndian.Uint64(hdr[:]))
	b := &BitVector{n: count, words: make([]uint64, (count+63)/64)}
	var cell [8]byte
	for i := range b.words {
		if _, err := io.ReadFull(r, cell[:]); err != nil {
			return nil, fmt.Errorf("bitpack: reading bit vector payload: %w", err)
		}
		b.words[i] = binary.LittleEndian.Uint64(cell[:])
	}
	return b, nil
}
