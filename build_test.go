package lpg

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.WarnLevel)
	os.Exit(m.Run())
}

// buildGram compresses data through the full pipeline and loads the
// resulting container.
func buildGram(t *testing.T, data []byte, opts ...Option) *Grammar {
	t.Helper()
	g, err := tryBuild(t, data, opts...)
	require.NoError(t, err)
	return g
}

func tryBuild(t *testing.T, data []byte, opts ...Option) (*Grammar, error) {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(in, data, 0o644))
	out := filepath.Join(dir, "input.txt.gram")
	if err := BuildGrammar(in, out, opts...); err != nil {
		return nil, err
	}
	return LoadGrammar(out)
}

// gramBytes returns the serialized container for data.
func gramBytes(t *testing.T, data []byte, opts ...Option) []byte {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(in, data, 0o644))
	out := filepath.Join(dir, "input.txt.gram")
	require.NoError(t, BuildGrammar(in, out, opts...))
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	return raw
}

func fibString(minLen int) []byte {
	a, b := []byte("a"), []byte("ab")
	for len(b) < minLen {
		a, b = b, append(append([]byte(nil), b...), a...)
	}
	return b
}

func randomBytes(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	out := make([]byte, n)
	rng.Read(out)
	return out
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"single byte", []byte("x")},
		{"separator only", []byte("\n")},
		{"separators only", []byte("\n\n\n")},
		{"abc repeated", []byte("abcabcabc")},
		{"equal run", []byte("aaaaaaaa")},
		{"two strings repeated", []byte("ab\ncd\nab\n")},
		{"no trailing separator", []byte("ab\ncd")},
		{"banana lines", bytes.Repeat([]byte("banana\n"), 50)},
		{"fibonacci", fibString(10946)},
		{"random 64KiB", randomBytes(64<<10, 1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := buildGram(t, tc.data)
			got, err := g.Decompress()
			require.NoError(t, err)
			require.Equal(t, tc.data, got)
		})
	}
}

func TestEmptyInputGrammarShape(t *testing.T) {
	g := buildGram(t, nil)
	require.Equal(t, uint64(0), g.C)
	require.Equal(t, g.Sigma+1, g.R) // terminals plus the empty start rule
	require.Equal(t, g.Sigma, g.G)
	got, err := g.Decompress()
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRepeatedPhraseBecomesRule(t *testing.T) {
	g := buildGram(t, []byte("abcabcabc"))
	require.LessOrEqual(t, g.C, uint64(3))
	e, err := newExpander(g)
	require.NoError(t, err)
	found := false
	for id := g.Sigma; id < g.R-1 && !found; id++ {
		exp, err := e.materialize(id, e.length(id))
		require.NoError(t, err)
		found = bytes.Equal(exp, []byte("abc"))
	}
	require.True(t, found, "no nonterminal expands to abc")
}

func TestRunCompression(t *testing.T) {
	g := buildGram(t, []byte("aaaaaaaa"))
	require.Less(t, g.G, 8+g.Sigma, "run of 8 must compress below literal size")
	// the run is captured by a run-length rule
	lo := g.Breaks.Read(int(g.NPRounds))
	hi := g.Breaks.Read(int(g.NPRounds) + 1)
	require.Greater(t, hi, lo, "expected at least one run-length rule")
}

func TestFibonacciGrammarIsSmall(t *testing.T) {
	data := fibString(10946)
	g := buildGram(t, data)
	require.Less(t, g.G, uint64(len(data))/4, "grammar must be far below input size")
	got, err := g.Decompress()
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestRoundBoundariesAreDenseAndMonotone(t *testing.T) {
	for _, data := range [][]byte{
		[]byte("abcabcabc"),
		bytes.Repeat([]byte("the quick brown fox\n"), 40),
		randomBytes(16<<10, 3),
	} {
		g := buildGram(t, data)
		require.Equal(t, uint64(g.Breaks.Len()), g.NPRounds+2)
		require.Equal(t, g.Sigma, g.Breaks.Read(0))
		prev := g.Breaks.Read(0)
		for i := 1; i < g.Breaks.Len(); i++ {
			cur := g.Breaks.Read(i)
			require.GreaterOrEqual(t, cur, prev, "boundaries must not decrease")
			prev = cur
		}
		// the start symbol sits right above the last boundary segment
		require.Equal(t, g.Breaks.Read(g.Breaks.Len()-1)+1, g.R)
	}
}

func TestDeterminism(t *testing.T) {
	data := randomBytes(32<<10, 5)
	a := gramBytes(t, data)
	b := gramBytes(t, data)
	require.Equal(t, a, b, "same input and thread count must give identical containers")
}

func TestThreadInvariance(t *testing.T) {
	data := append(bytes.Repeat([]byte("tangram grammar\n"), 600), randomBytes(8<<10, 8)...)
	one := gramBytes(t, data, WithThreads(1))
	for _, n := range []int{2, 3, 5} {
		many := gramBytes(t, data, WithThreads(n))
		require.Equal(t, one, many, "threads=%d", n)
	}
}

func TestHashBufferSpillMatchesUnbounded(t *testing.T) {
	data := bytes.Repeat([]byte("spill me down to disk, please\n"), 500)
	free := gramBytes(t, data)
	tight := gramBytes(t, data, WithHashBuffer(1<<12), WithThreads(2))
	// a spilling build must produce the same grammar payload; the level and
	// streams are identical byte for byte
	require.Equal(t, free, tight)
}

func TestSuffixPositionsRecoverStrings(t *testing.T) {
	g := buildGram(t, []byte("ab\ncd\nab\n"))
	require.Equal(t, 3, g.NumStrings())
	want := []string{"ab\n", "cd\n", "ab\n"}
	for i, w := range want {
		got, err := g.DecompressString(i)
		require.NoError(t, err)
		require.Equal(t, w, string(got))
	}
	_, err := g.DecompressString(3)
	require.Error(t, err)
}

func TestSuffixPositionsWithoutTrailingSeparator(t *testing.T) {
	g := buildGram(t, []byte("ab\ncd"))
	require.Equal(t, 2, g.NumStrings())
	first, err := g.DecompressString(0)
	require.NoError(t, err)
	require.Equal(t, "ab\n", string(first))
	second, err := g.DecompressString(1)
	require.NoError(t, err)
	require.Equal(t, "cd", string(second))
}

func TestCustomSeparator(t *testing.T) {
	data := []byte("ab|cd|ab|")
	g := buildGram(t, data, WithSeparator('|'))
	require.Equal(t, 3, g.NumStrings())
	got, err := g.Decompress()
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestLevel2Container(t *testing.T) {
	data := bytes.Repeat([]byte("pack me twice\n"), 200)
	g := buildGram(t, data, WithCompressionLevel(2))
	require.Equal(t, uint8(2), g.Level)
	got, err := g.Decompress()
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestUnsupportedLevelRejected(t *testing.T) {
	_, err := tryBuild(t, []byte("abc"), WithCompressionLevel(3))
	require.ErrorIs(t, err, ErrUnsupportedLevel)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.gram")
	require.NoError(t, os.WriteFile(bad, []byte{7, 0, 0}, 0o644))
	_, err = LoadGrammar(bad)
	require.ErrorIs(t, err, ErrUnsupportedLevel)
}

func TestDecompressCommandSemantics(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.txt")
	data := bytes.Repeat([]byte("walk the grammar\n"), 30)
	require.NoError(t, os.WriteFile(in, data, 0o644))
	gram := filepath.Join(dir, "input.txt.gram")
	require.NoError(t, BuildGrammar(in, gram))

	out := filepath.Join(dir, "restored.txt")
	require.NoError(t, Decompress(gram, out, true))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, data, got)
	_, err = os.Stat(gram)
	require.NoError(t, err, "keep must leave the grammar in place")

	require.NoError(t, Decompress(gram, out, false))
	_, err = os.Stat(gram)
	require.True(t, os.IsNotExist(err), "the grammar is removed by default")
}

func TestScratchDirectoryIsRemoved(t *testing.T) {
	scratch := t.TempDir()
	dir := t.TempDir()
	in := filepath.Join(dir, "input.txt")
	require.NoError(t, os.WriteFile(in, bytes.Repeat([]byte("tidy\n"), 100), 0o644))
	require.NoError(t, BuildGrammar(in, filepath.Join(dir, "out.gram"), WithTempDir(scratch)))
	left, err := os.ReadDir(scratch)
	require.NoError(t, err)
	require.Empty(t, left, "all temporary files must be gone")
}

func FuzzRoundTrip(f *testing.F) {
	f.Add([]byte(nil))
	f.Add([]byte("a"))
	f.Add([]byte("abcabcabc"))
	f.Add([]byte("ab\ncd\nab\n"))
	f.Add([]byte("\n\n"))
	f.Add(bytes.Repeat([]byte("xyz"), 100))
	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) > 1<<16 {
			t.Skip("input too large for a fuzz iteration")
		}
		dir := t.TempDir()
		in := filepath.Join(dir, "in")
		if err := os.WriteFile(in, data, 0o644); err != nil {
			t.Fatal(err)
		}
		out := filepath.Join(dir, "in.gram")
		if err := BuildGrammar(in, out); err != nil {
			t.Fatalf("build: %v", err)
		}
		g, err := LoadGrammar(out)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		got, err := g.Decompress()
		if err != nil {
			t.Fatalf("decompress: %v", err)
		}
		if !bytes.Equal(data, got) {
			t.Fatalf("round trip mismatch: %d bytes in, %d bytes out", len(data), len(got))
		}
	})
}
