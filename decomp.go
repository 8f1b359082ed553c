package lpg

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// expCacheEntries bounds the walker's LRU cache of nonterminal
	// expansions.
	expCacheEntries = 512
	// expCacheMaxLen is the largest expansion the cache will hold.
	expCacheMaxLen = 1 << 16
)

// expander materializes grammar symbols. Expansion is a stack walk over the
// rule streams; the expansions of small nonterminals are memoized in an LRU
// cache keyed by id, which turns the repeated subtrees a grammar is made of
// into single buffer copies.
type expander struct {
	g      *Grammar
	cache  *lru.Cache[uint64, []byte]
	expLen []uint64 // memoized expansion lengths, 0 = not yet computed
	stack  []uint64
}

func newExpander(g *Grammar) (*expander, error) {
	cache, err := lru.New[uint64, []byte](expCacheEntries)
	if err != nil {
		return nil, err
	}
	return &expander{g: g, cache: cache, expLen: make([]uint64, g.R)}, nil
}

// length returns the expansion length of id. Run-length bodies may point at
// rules of any round, so the memoization recurses instead of sweeping ids
// in order.
func (e *expander) length(id uint64) uint64 {
	if id < e.g.Sigma {
		return 1
	}
	if e.expLen[id] != 0 {
		return e.expLen[id]
	}
	lo, hi := e.g.rhs(id)
	var n uint64
	if e.g.IsRunLength(id) {
		n = e.length(e.g.Rules.Read(int(lo))) * e.g.Rules.Read(int(lo)+1)
	} else {
		for i := lo; i < hi; i++ {
			n += e.length(e.g.Rules.Read(int(i)))
		}
	}
	e.expLen[id] = n
	return n
}

type byteWriter interface {
	Write(p []byte) (int, error)
	WriteByte(c byte) error
}

// expand writes the expansion of sym to w.
func (e *expander) expand(sym uint64, w byteWriter) error {
	e.stack = append(e.stack[:0], sym)
	for len(e.stack) > 0 {
		s := e.stack[len(e.stack)-1]
		e.stack = e.stack[:len(e.stack)-1]
		if s < e.g.Sigma {
			if err := w.WriteByte(byte(e.g.SymMap.Read(int(s)))); err != nil {
				return err
			}
			continue
		}
		if exp, ok := e.cache.Get(s); ok {
			if _, err := w.Write(exp); err != nil {
				return err
			}
			continue
		}
		if n := e.length(s); n <= expCacheMaxLen {
			exp, err := e.materialize(s, n)
			if err != nil {
				return err
			}
			e.cache.Add(s, exp)
			if _, err := w.Write(exp); err != nil {
				return err
			}
			continue
		}
		lo, hi := e.g.rhs(s)
		if e.g.IsRunLength(s) {
			base := e.g.Rules.Read(int(lo))
			count := e.g.Rules.Read(int(lo) + 1)
			sub := &expander{g: e.g, cache: e.cache, expLen: e.expLen}
			for i := uint64(0); i < count; i++ {
				if err := sub.expand(base, w); err != nil {
					return err
				}
			}
			continue
		}
		for i := hi; i > lo; i-- {
			e.stack = append(e.stack, e.g.Rules.Read(int(i)-1))
		}
	}
	return nil
}

// materialize returns the expansion of sym as a fresh buffer of length n.
// It walks sym's children rather than sym itself, so the cache-miss path in
// expand never re-enters for the same symbol.
func (e *expander) materialize(sym, n uint64) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(n))
	// a fresh walker keeps the caller's stack intact
	sub := &expander{g: e.g, cache: e.cache, expLen: e.expLen}
	lo, hi := e.g.rhs(sym)
	if e.g.IsRunLength(sym) {
		base := e.g.Rules.Read(int(lo))
		count := e.g.Rules.Read(int(lo) + 1)
		for i := uint64(0); i < count; i++ {
			if err := sub.expand(base, &buf); err != nil {
				return nil, err
			}
		}
	} else {
		for i := lo; i < hi; i++ {
			if err := sub.expand(e.g.Rules.Read(int(i)), &buf); err != nil {
				return nil, err
			}
		}
	}
	if uint64(buf.Len()) != n {
		return nil, fmt.Errorf("%w: expansion of %d has length %d, want %d",
			ErrBadContainer, sym, buf.Len(), n)
	}
	return buf.Bytes(), nil
}

// DecompressTo writes the full text encoded by the grammar to w.
func (g *Grammar) DecompressTo(w byteWriter) error {
	e, err := newExpander(g)
	if err != nil {
		return err
	}
	lo, hi := g.rhs(g.Start())
	for i := lo; i < hi; i++ {
		if err := e.expand(g.Rules.Read(int(i)), w); err != nil {
			return err
		}
	}
	return nil
}

// Decompress returns the full text encoded by the grammar.
func (g *Grammar) Decompress() ([]byte, error) {
	var buf bytes.Buffer
	if err := g.DecompressTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecompressString returns string idx of a multi-string text, separator
// included. Each suffix position names the start-rule cell whose expansion
// ends a string, so a string is the expansion of the cells between two
// consecutive suffix positions.
func (g *Grammar) DecompressString(idx int) ([]byte, error) {
	n := g.NumStrings()
	if idx < 0 || idx >= n {
		return nil, fmt.Errorf("string %d out of range [0,%d)", idx, n)
	}
	e, err := newExpander(g)
	if err != nil {
		return nil, err
	}
	start, _ := g.rhs(g.Start())
	from := uint64(0)
	if idx > 0 {
		from = g.SufPos.Read(idx-1) + 1
	}
	to := g.C - 1
	if idx < g.SufPos.Len() {
		to = g.SufPos.Read(idx)
	}
	var buf bytes.Buffer
	for i := from; i <= to; i++ {
		if err := e.expand(g.Rules.Read(int(start+i)), &buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Decompress expands the grammar container at gramPath into outputPath.
// The grammar file is removed on success unless keep is set.
func Decompress(gramPath, outputPath string, keep bool) error {
	g, err := LoadGrammar(gramPath)
	if err != nil {
		return err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	if err := g.DecompressTo(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing output: %w", err)
	}
	if !keep {
		if err := os.Remove(gramPath); err != nil {
			return fmt.Errorf("removing grammar: %w", err)
		}
	}
	return nil
}
