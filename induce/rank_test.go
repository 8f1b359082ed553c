package induce

import (
	"testing"

	"github.com/ddiazdom/LPG/bitpack"
	"github.com/ddiazdom/LPG/phrase"
	"github.com/stretchr/testify/require"
)

// rankRound runs sort + rank over the given phrases and returns the table,
// the emitted rule bodies and the number of rules.
func rankRound(t *testing.T, maxSym uint64, phrases [][]uint64) (*phrase.Table, [][]uint64, int) {
	t.Helper()
	width := bitpack.WidthFor(maxSym)
	tbl := phrase.NewTable(width, 0, "")
	var key []uint64
	var bits uint32
	for _, p := range phrases {
		key, bits = phrase.PackReversed(key, p, width)
		require.NoError(t, tbl.Add(key, bits))
	}
	d, err := phrase.BuildDictionary(tbl, maxSym)
	require.NoError(t, err)
	sa := SortDictionary(d)

	rules := bitpack.NewIntVector(64)
	rLim := bitpack.NewBitVector(0)
	n, err := Rank(d, sa, tbl, rules, rLim)
	require.NoError(t, err)

	var bodies [][]uint64
	var cur []uint64
	for i := 0; i < rules.Len(); i++ {
		cur = append(cur, rules.Read(i))
		if rLim.Get(i) {
			bodies = append(bodies, cur)
			cur = nil
		}
	}
	require.Nil(t, cur, "rule stream must end on a limit")
	require.Equal(t, n, len(bodies))
	return tbl, bodies, n
}

// expandBody resolves the round's fresh nonterminals back to previous-round
// symbols.
func expandBody(maxSym uint64, bodies [][]uint64, body []uint64) []uint64 {
	var out []uint64
	for _, s := range body {
		if s > maxSym {
			out = append(out, expandBody(maxSym, bodies, bodies[s-maxSym-1])...)
		} else {
			out = append(out, s)
		}
	}
	return out
}

func TestRankSinglePhrase(t *testing.T) {
	tbl, bodies, n := rankRound(t, 255, [][]uint64{{'a', 'b', 'c'}})
	require.Equal(t, 1, n)
	require.Equal(t, [][]uint64{{'a', 'b', 'c'}}, bodies)
	slot, ok := tbl.Lookup(phrase.PackReversed(nil, []uint64{'a', 'b', 'c'}, 8))
	require.True(t, ok)
	require.Equal(t, uint64(256)<<1, tbl.Value(slot)&^uint64(1))
}

func TestRankExpansionsMatchPhrases(t *testing.T) {
	const maxSym = 255
	cases := [][][]uint64{
		{{'a', 'b', '\n'}, {'c', 'd', '\n'}},             // shared "\n" suffix
		{{'a', 'b', 'c'}, {'x', 'b', 'c'}, {'b', 'c'}},   // shared "bc" suffix, also a phrase
		{{'a'}, {'b'}, {'a', 'b'}},                       // unit phrases
		{{'z', 'z', 'z', 'z'}},                           // single run phrase
		{{'t', 'a', 'c', 'o'}, {'o'}, {'c', 'o'}},        // nested suffixes
	}
	for ci, phrases := range cases {
		tbl, bodies, _ := rankRound(t, maxSym, phrases)
		err := tbl.Range(func(slot int, key []uint64, bits uint32, val uint64) error {
			id := val >> 1
			require.Greater(t, id, uint64(maxSym), "case %d", ci)
			body := bodies[id-maxSym-1]
			got := expandBody(maxSym, bodies, body)
			syms := phrase.Unpack(nil, key, bits, tbl.Width())
			want := make([]uint64, 0, len(syms))
			for i := len(syms) - 1; i >= 0; i-- {
				want = append(want, syms[i])
			}
			require.Equal(t, want, got, "case %d slot %d", ci, slot)
			return nil
		})
		require.NoError(t, err)
	}
}

func TestRankIDsAreDenseAndStable(t *testing.T) {
	const maxSym = 300
	phrases := [][]uint64{
		{260, 261, 262},
		{260, 261},
		{299, 262},
		{5, 262},
	}
	_, bodies1, n1 := rankRound(t, maxSym, phrases)
	_, bodies2, n2 := rankRound(t, maxSym, phrases)
	require.Equal(t, n1, n2)
	require.Equal(t, bodies1, bodies2)

	// reversing the discovery order must not change the assigned ranks
	rev := [][]uint64{phrases[3], phrases[2], phrases[1], phrases[0]}
	tblA, bodiesA, _ := rankRound(t, maxSym, phrases)
	tblB, bodiesB, _ := rankRound(t, maxSym, rev)
	require.Equal(t, bodiesA, bodiesB)
	for _, p := range phrases {
		key, bits := phrase.PackReversed(nil, p, tblA.Width())
		slotA, okA := tblA.Lookup(key, bits)
		slotB, okB := tblB.Lookup(key, bits)
		require.True(t, okA)
		require.True(t, okB)
		require.Equal(t, tblA.Value(slotA)>>1, tblB.Value(slotB)>>1)
		// dense: every id lies in (maxSym, maxSym+n]
		require.Greater(t, tblA.Value(slotA)>>1, uint64(maxSym))
		require.LessOrEqual(t, tblA.Value(slotA)>>1, uint64(maxSym+n1))
	}
}

func TestRankRepeatFlagPreserved(t *testing.T) {
	width := bitpack.WidthFor(255)
	tbl := phrase.NewTable(width, 0, "")
	key, bits := phrase.PackReversed(nil, []uint64{'a', 'b'}, width)
	require.NoError(t, tbl.Add(key, bits))
	require.NoError(t, tbl.Add(key, bits)) // repeat sets the flag
	key2, bits2 := phrase.PackReversed(nil, []uint64{'c', 'd'}, width)
	require.NoError(t, tbl.Add(key2, bits2))

	d, err := phrase.BuildDictionary(tbl, 255)
	require.NoError(t, err)
	sa := SortDictionary(d)
	rules := bitpack.NewIntVector(64)
	rLim := bitpack.NewBitVector(0)
	_, err = Rank(d, sa, tbl, rules, rLim)
	require.NoError(t, err)

	slot, _ := tbl.Lookup(key, bits)
	require.Equal(t, uint64(1), tbl.Value(slot)&1)
	slot2, _ := tbl.Lookup(key2, bits2)
	require.Equal(t, uint64(0), tbl.Value(slot2)&1)
}
