package phrase

import (
	"fmt"
	"sort"
)

// Source is a random-access symbol sequence. Round one reads the input
// bytes; every later round reads the previous round's parse.
type Source interface {
	Cell(i int64) (uint64, error)
	Len() int64
}

// Breaker decides whether the phrase containing position pos must end
// there. Breaks mark string boundaries: in round one they fire on the
// separator symbol, in later rounds on the carried suffix positions, so a
// phrase never spans two strings of the input.
type Breaker interface {
	IsBreak(pos int64, sym uint64) bool
}

// SepBreaker breaks on occurrences of the separator symbol (round one).
type SepBreaker struct {
	Sep uint64
}

// IsBreak reports whether sym is the separator.
func (b SepBreaker) IsBreak(_ int64, sym uint64) bool { return sym == b.Sep }

// PosBreaker breaks on a sorted list of positions: the suffix positions the
// previous round reported (rounds two and later).
type PosBreaker struct {
	Positions []int64
}

// IsBreak reports whether pos is one of the carried suffix positions.
func (b PosBreaker) IsBreak(pos int64, _ uint64) bool {
	i := sort.Search(len(b.Positions), func(i int) bool { return b.Positions[i] >= pos })
	return i < len(b.Positions) && b.Positions[i] == pos
}

// Parser emits locally consistent phrase boundaries over a symbol source.
//
// A position starts a phrase when it follows a break, or when it is an LMS
// position of its string: its symbol is smaller than its predecessor and
// the suffix starting there is smaller than the one starting at the next
// position. Identical substrings therefore parse into identical phrases
// except within a bounded window at their edges.
type Parser struct {
	src Source
	brk Breaker
}

// NewParser creates a parser over src with the round's break rule.
func NewParser(src Source, brk Breaker) *Parser {
	return &Parser{src: src, brk: brk}
}

// isLMS reports whether position j starts a phrase by the LMS rule. The
// caller has already ruled out j == 0 and a break at j-1.
func (p *Parser) isLMS(j int64) (bool, error) {
	prev, err := p.src.Cell(j - 1)
	if err != nil {
		return false, err
	}
	sym, err := p.src.Cell(j)
	if err != nil {
		return false, err
	}
	if prev <= sym {
		return false, nil
	}
	// j is S-type iff the first differing symbol of its equal run, within
	// the string, is larger. A run reaching the string end is L-type.
	n := p.src.Len()
	for k := j; ; k++ {
		if p.brk.IsBreak(k, sym) || k+1 >= n {
			return false, nil
		}
		next, err := p.src.Cell(k + 1)
		if err != nil {
			return false, err
		}
		if next != sym {
			return next > sym, nil
		}
	}
}

// boundaryAt reports whether a phrase may start at position j.
func (p *Parser) boundaryAt(j int64) (bool, error) {
	if j == 0 {
		return true, nil
	}
	prev, err := p.src.Cell(j - 1)
	if err != nil {
		return false, err
	}
	if p.brk.IsBreak(j-1, prev) {
		return true, nil
	}
	return p.isLMS(j)
}

// Parse scans [start, end) and calls emit for every phrase, with the
// phrase's symbols in text order and whether the phrase ended on a break.
// start and end must be phrase boundaries (see Partition). The emitted
// slice is reused between calls.
func (p *Parser) Parse(start, end int64, emit func(syms []uint64, breakEnded bool) error) error {
	if start >= end {
		return nil
	}
	buf := make([]uint64, 0, 64)
	sym, err := p.src.Cell(start)
	if err != nil {
		return err
	}
	buf = append(buf, sym)
	lastBreak := p.brk.IsBreak(start, sym)
	for j := start + 1; j < end; j++ {
		sym, err = p.src.Cell(j)
		if err != nil {
			return err
		}
		cut := lastBreak
		if !cut {
			cut, err = p.isLMS(j)
			if err != nil {
				return err
			}
		}
		if cut {
			if err := emit(buf, lastBreak); err != nil {
				return err
			}
			buf = buf[:0]
		}
		buf = append(buf, sym)
		lastBreak = p.brk.IsBreak(j, sym)
	}
	return emit(buf, lastBreak)
}

// Partition splits the source into at most nRanges contiguous ranges whose
// endpoints are phrase boundaries, so per-range parses concatenate
// losslessly. Ranges are computed by scanning inward from naive offsets
// until a locally decidable boundary is found; short inputs yield fewer
// ranges.
func (p *Parser) Partition(nRanges int) ([][2]int64, error) {
	n := p.src.Len()
	if nRanges < 1 {
		return nil, fmt.Errorf("phrase: need at least one range, got %d", nRanges)
	}
	if n == 0 {
		return nil, nil
	}
	starts := []int64{0}
	chunk := n / int64(nRanges)
	if chunk == 0 {
		chunk = n
	}
	for i := 1; i < nRanges; i++ {
		j := int64(i) * chunk
		if j <= starts[len(starts)-1] {
			continue
		}
		for j < n {
			ok, err := p.boundaryAt(j)
			if err != nil {
				return nil, err
			}
			if ok {
				break
			}
			j++
		}
		if j < n && j > starts[len(starts)-1] {
			starts = append(starts, j)
		}
	}
	ranges := make([][2]int64, 0, len(starts))
	for i, s := range starts {
		e := n
		if i+1 < len(starts) {
			e = starts[i+1]
		}
		ranges = append(ranges, [2]int64{s, e})
	}
	return ranges, nil
}
