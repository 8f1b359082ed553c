package phrase

import (
	"fmt"

	"github.com/ddiazdom/LPG/bitpack"
)

// Dictionary is the read-only union of a round's distinct phrases. Phrases
// are laid out in table insertion order, each in text order and closed by
// an end-marker symbol strictly greater than every real symbol; Lim marks
// the end-marker positions. The ranking step suffix-sorts this sequence.
type Dictionary struct {
	Syms      []uint64
	Lim       *bitpack.BitVector
	PhraseAt  []int32 // phrase index at phrase-start positions, -1 elsewhere
	NPhrases  int
	MaxSym    uint64 // highest symbol id existing before the round
	EndMarker uint64 // MaxSym + 1
}

// BuildDictionary concatenates the distinct phrases of the merged table.
// maxSym is the highest symbol id existing before the round; any phrase
// symbol above it violates the terminator invariant of the sort.
func BuildDictionary(t *Table, maxSym uint64) (*Dictionary, error) {
	d := &Dictionary{
		MaxSym:    maxSym,
		EndMarker: maxSym + 1,
		NPhrases:  t.Len(),
	}
	var syms []uint64
	err := t.Range(func(slot int, key []uint64, bits uint32, _ uint64) error {
		syms = Unpack(syms[:0], key, bits, t.Width())
		start := len(d.Syms)
		// keys are stored tail first; the dictionary is in text order
		for i := len(syms) - 1; i >= 0; i-- {
			if syms[i] > maxSym {
				return fmt.Errorf("phrase: symbol %d above round maximum %d", syms[i], maxSym)
			}
			d.Syms = append(d.Syms, syms[i])
		}
		d.Syms = append(d.Syms, d.EndMarker)
		for p := start; p < len(d.Syms); p++ {
			d.PhraseAt = append(d.PhraseAt, -1)
		}
		d.PhraseAt[start] = int32(slot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.Lim = bitpack.NewBitVector(len(d.Syms))
	for i, s := range d.Syms {
		if s == d.EndMarker {
			d.Lim.Set(i, true)
		}
	}
	return d, nil
}

// IsMarker reports whether dictionary position i holds an end-marker.
func (d *Dictionary) IsMarker(i int32) bool { return d.Lim.Get(int(i)) }

// PhraseEnd returns the position of the end-marker closing the phrase that
// contains position i.
func (d *Dictionary) PhraseEnd(i int32) int32 {
	for !d.IsMarker(i) {
		i++
	}
	return i
}
