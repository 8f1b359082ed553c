package induce

import (
	"errors"
	"fmt"

	"github.com/ddiazdom/LPG/bitpack"
	"github.com/ddiazdom/LPG/phrase"
)

// ErrSortInvariant indicates the dictionary sweep found an impossible
// state: a duplicate internal repeat, an untracked repeat or a phrase that
// never received a rank. It always aborts the build. A phrase symbol above
// the round maximum is rejected earlier, by phrase.BuildDictionary, with an
// error of its own.
var ErrSortInvariant = errors.New("induce: dictionary sort invariant violated")

// Rank walks the suffix array of a round's dictionary and assigns one dense
// lexicographic rank per emitted run, as follows: suffixes that match up to
// and including their phrase's end-marker form a run; a run is emitted when
// some member starts a phrase (the run is that phrase) or when its members
// have more than one left context (the run is a maximal internal repeat of
// the dictionary). Emitted runs become grammar rules in rank order, with
// occurrences of internal repeats collapsed to their fresh nonterminal, and
// the rank of every original phrase is folded back into tbl's values as
// (maxSym+rank)<<1 with the low repeat-flag bit preserved.
//
// It returns the number of rules appended to the streams.
func Rank(d *phrase.Dictionary, sa []int32, tbl *phrase.Table, rules *bitpack.IntVector, rLim *bitpack.BitVector) (int, error) {
	ranks := make([]uint64, d.NPhrases)
	phrMarks := bitpack.NewBitVector(len(d.Syms))
	newPhrases := phrase.NewTable(tbl.Width(), 0, "")
	var repStart []int32
	var keyBuf, segBuf []uint64

	sameRun := func(p, q int32) bool {
		for i := int32(0); ; i++ {
			a, b := d.Syms[p+i], d.Syms[q+i]
			if a != b {
				return false
			}
			if a == d.EndMarker {
				return true
			}
		}
	}

	u := 0
	for u < len(sa) {
		p := sa[u]
		if d.IsMarker(p) {
			u++
			continue
		}
		runStart := u
		exists := false
		maximal := false
		prevDummy := p == 0 || d.IsMarker(p-1)
		var prevLeft uint64
		if prevDummy {
			exists = true
			ranks[d.PhraseAt[p]] = uint64(len(repStart) + 1)
		} else {
			prevLeft = d.Syms[p-1]
		}
		v := u + 1
		for v < len(sa) {
			q := sa[v]
			if d.IsMarker(q) || !sameRun(p, q) {
				break
			}
			dummy := q == 0 || d.IsMarker(q-1)
			var left uint64
			if dummy {
				if !exists {
					exists = true
					ranks[d.PhraseAt[q]] = uint64(len(repStart) + 1)
				}
			} else {
				left = d.Syms[q-1]
			}
			if !maximal && (dummy != prevDummy || (!dummy && left != prevLeft)) {
				maximal = true
			}
			prevDummy, prevLeft = dummy, left
			v++
		}
		if exists || maximal {
			if v-runStart > 1 {
				// the run repeats inside the dictionary; track it so the
				// rewrite below can collapse its occurrences
				lim := d.PhraseEnd(p)
				segBuf = segBuf[:0]
				for k := p; k < lim; k++ {
					segBuf = append(segBuf, d.Syms[k])
				}
				var bits uint32
				keyBuf, bits = phrase.PackReversed(keyBuf, segBuf, tbl.Width())
				if _, inserted := newPhrases.Insert(keyBuf, bits, uint64(len(repStart)+1)); !inserted {
					return 0, fmt.Errorf("%w: duplicate repeat run at dictionary position %d", ErrSortInvariant, p)
				}
				for w := runStart; w < v; w++ {
					phrMarks.Set(int(sa[w]), true)
				}
			}
			repStart = append(repStart, p)
		}
		u = v
	}

	// Collapse the dictionary into the grammar, one rule per rank. A
	// position marked as a tracked repeat replaces the rest of the phrase
	// with the repeat's nonterminal; the first position of a rule is
	// emitted as-is so a rule never collapses into itself.
	for _, f := range repStart {
		pos := f
		last := d.IsMarker(pos + 1)
		if err := rules.Append(d.Syms[pos]); err != nil {
			return 0, err
		}
		rLim.Append(last)
		pos++
		for !last {
			if phrMarks.Get(int(pos)) {
				lim := d.PhraseEnd(pos)
				segBuf = segBuf[:0]
				for k := pos; k < lim; k++ {
					segBuf = append(segBuf, d.Syms[k])
				}
				var bits uint32
				keyBuf, bits = phrase.PackReversed(keyBuf, segBuf, tbl.Width())
				slot, ok := newPhrases.Lookup(keyBuf, bits)
				if !ok {
					return 0, fmt.Errorf("%w: untracked repeat at dictionary position %d", ErrSortInvariant, pos)
				}
				if err := rules.Append(d.MaxSym + newPhrases.Value(slot)); err != nil {
					return 0, err
				}
				rLim.Append(true)
				break
			}
			last = d.IsMarker(pos + 1)
			if err := rules.Append(d.Syms[pos]); err != nil {
				return 0, err
			}
			rLim.Append(last)
			pos++
		}
	}

	// Fold the final nonterminal ids back into the phrase table, keeping
	// the low repeat-flag bit for downstream run-length detection.
	err := tbl.Range(func(slot int, _ []uint64, _ uint32, val uint64) error {
		if ranks[slot] == 0 {
			return fmt.Errorf("%w: phrase %d was never ranked", ErrSortInvariant, slot)
		}
		tbl.SetValue(slot, (d.MaxSym+ranks[slot])<<1|val&1)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(repStart), nil
}
