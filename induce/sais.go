// Package induce implements the ranking side of a parsing round: an induced
// suffix-array sort over the round's dictionary and the sweep that assigns
// dense lexicographic ranks, extracts maximal internal repeats and rewrites
// the dictionary into grammar rules.
package induce

import (
	"slices"

	"github.com/ddiazdom/LPG/phrase"
)

// lane constrains the integer width the sorter runs on. The alphabet of a
// round decides the narrowest lane that fits it.
type lane interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Sort computes the suffix array of t over the alphabet [0, k). The last
// symbol must be 0, the unique smallest sentinel.
func Sort(t []uint64, k int) []int32 {
	sa := make([]int32, len(t))
	switch {
	case k <= 1<<8:
		sais(narrow[uint8](t), sa, k)
	case k <= 1<<16:
		sais(narrow[uint16](t), sa, k)
	case k <= 1<<32:
		sais(narrow[uint32](t), sa, k)
	default:
		// bucket arrays have one entry per alphabet symbol, so a 64-bit
		// alphabet is first reduced to the ranks of the symbols in t
		alpha := slices.Clone(t)
		slices.Sort(alpha)
		alpha = slices.Compact(alpha)
		ranked := make([]uint64, len(t))
		for i, v := range t {
			r, _ := slices.BinarySearch(alpha, v)
			ranked[i] = uint64(r)
		}
		sais(ranked, sa, len(alpha))
	}
	return sa
}

func narrow[E lane](t []uint64) []E {
	out := make([]E, len(t))
	for i, v := range t {
		out[i] = E(v)
	}
	return out
}

// SortDictionary suffix-sorts the dictionary and returns the array entries
// that point at real dictionary positions, in lexicographic order. The
// dictionary's end-markers sort above every real symbol, so suffixes are
// effectively compared up to their phrase's end.
func SortDictionary(d *phrase.Dictionary) []int32 {
	t := make([]uint64, len(d.Syms)+1)
	for i, s := range d.Syms {
		t[i] = s + 1
	}
	t[len(d.Syms)] = 0
	sa := Sort(t, int(d.EndMarker)+2)
	// sa[0] is the sentinel suffix; the rest point into the dictionary.
	return sa[1:]
}

// sais is the SA-IS induced sorting algorithm. t must end with the unique
// smallest symbol 0; sa must have len(t) entries.
func sais[E lane](t []E, sa []int32, k int) {
	n := len(t)
	switch n {
	case 0:
		return
	case 1:
		sa[0] = 0
		return
	}

	sType := make([]bool, n)
	sType[n-1] = true
	for i := n - 2; i >= 0; i-- {
		sType[i] = t[i] < t[i+1] || (t[i] == t[i+1] && sType[i+1])
	}
	isLMS := func(i int32) bool {
		return i > 0 && sType[i] && !sType[i-1]
	}

	bkt := make([]int32, k)
	for _, c := range t {
		bkt[c]++
	}
	bucketEnds := func(dst []int32) []int32 {
		sum := int32(0)
		for i, c := range bkt {
			sum += c
			dst[i] = sum
		}
		return dst
	}
	bucketStarts := func(dst []int32) []int32 {
		sum := int32(0)
		for i, c := range bkt {
			dst[i] = sum
			sum += c
		}
		return dst
	}
	tmp := make([]int32, k)

	induce := func() {
		starts := bucketStarts(tmp)
		for i := 0; i < n; i++ {
			p := sa[i]
			if p <= 0 {
				continue
			}
			j := p - 1
			if !sType[j] {
				sa[starts[t[j]]] = j
				starts[t[j]]++
			}
		}
		ends := bucketEnds(tmp)
		for i := n - 1; i >= 0; i-- {
			p := sa[i]
			if p <= 0 {
				continue
			}
			j := p - 1
			if sType[j] {
				ends[t[j]]--
				sa[ends[t[j]]] = j
			}
		}
	}

	// Pass one: drop LMS suffixes at their bucket ends and induce, which
	// sorts the LMS substrings.
	for i := range sa {
		sa[i] = -1
	}
	ends := bucketEnds(tmp)
	for i := int32(1); i < int32(n); i++ {
		if isLMS(i) {
			ends[t[i]]--
			sa[ends[t[i]]] = i
		}
	}
	induce()

	// Compact the sorted LMS positions and name their substrings.
	nLMS := 0
	for _, p := range sa {
		if isLMS(p) {
			sa[nLMS] = p
			nLMS++
		}
	}
	names := sa[nLMS:]
	for i := range names {
		names[i] = -1
	}
	lmsEqual := func(a, b int32) bool {
		if a == b {
			return true
		}
		for i := int32(0); ; i++ {
			if int(a+i) >= n || int(b+i) >= n {
				return false
			}
			endA := i > 0 && isLMS(a+i)
			endB := i > 0 && isLMS(b+i)
			if endA && endB {
				return true
			}
			if endA != endB || t[a+i] != t[b+i] {
				return false
			}
		}
	}
	name := int32(0)
	prev := int32(-1)
	for i := 0; i < nLMS; i++ {
		p := sa[i]
		if prev < 0 || !lmsEqual(prev, p) {
			name++
		}
		prev = p
		names[p/2] = name - 1
	}

	// Reduced problem: LMS substring names in text order.
	red := make([]int32, 0, nLMS)
	lmsPos := make([]int32, 0, nLMS)
	for i := int32(1); i < int32(n); i++ {
		if isLMS(i) {
			lmsPos = append(lmsPos, i)
			red = append(red, names[i/2])
		}
	}
	if int(name) < nLMS {
		redT := make([]uint32, nLMS)
		for i, v := range red {
			redT[i] = uint32(v)
		}
		redSA := make([]int32, nLMS)
		sais(redT, redSA, int(name))
		for i := 0; i < nLMS; i++ {
			sa[i] = lmsPos[redSA[i]]
		}
	} else {
		for i := 0; i < nLMS; i++ {
			sa[red[i]] = lmsPos[i]
		}
	}

	// Final pass: place the now fully sorted LMS suffixes and induce.
	lms := make([]int32, nLMS)
	copy(lms, sa[:nLMS])
	for i := range sa {
		sa[i] = -1
	}
	ends = bucketEnds(tmp)
	for i := nLMS - 1; i >= 0; i-- {
		p := lms[i]
		ends[t[p]]--
		sa[ends[t[p]]] = p
	}
	induce()
}
