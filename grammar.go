package lpg

import (
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/ddiazdom/LPG/bitpack"
)

// Grammar is the serialized form of a finished build: the packed rule
// streams plus the bookkeeping needed to expand them. Rules are parallel
// index vectors, never a pointer graph: rule id i owns the cells
// [ruleStart[i], ruleStart[i+1]) of the symbol stream.
type Grammar struct {
	Level    uint8
	Sigma    uint64 // number of terminal symbols
	R        uint64 // total rules, terminals and start rule included
	G        uint64 // grammar size: sum of all right-hand sides
	C        uint64 // length of the start rule's right-hand side
	MaxTSym  uint64 // highest terminal symbol
	NPRounds uint64 // number of parsing rounds

	SymMap *bitpack.IntVector // terminal id -> original byte
	Breaks *bitpack.IntVector // round boundary table, NPRounds+2 entries
	Rules  *bitpack.IntVector // rule symbol stream, G cells
	RLim   *bitpack.BitVector // marks the last cell of each right-hand side
	SufPos *bitpack.IntVector // start-rule cells that end an input string

	ruleStart []uint64 // offset of each rule's right-hand side, R+1 entries
}

// assemble packs the builder's streams into a container-ready grammar.
func assemble(level uint8, sigma, maxTSym uint64, b *builder, c uint64, breaks []uint64, sufPos []int64) (*Grammar, error) {
	g := &Grammar{
		Level:    level,
		Sigma:    sigma,
		R:        b.r,
		G:        uint64(b.rules.Len()),
		C:        c,
		MaxTSym:  maxTSym,
		NPRounds: uint64(len(b.roundCounts)),
	}

	g.SymMap = bitpack.NewIntVector(8)
	for i := uint64(0); i < sigma; i++ {
		if err := g.SymMap.Append(i); err != nil {
			return nil, err
		}
	}

	maxBreak := breaks[len(breaks)-1]
	g.Breaks = bitpack.NewIntVector(bitpack.WidthFor(maxBreak))
	for _, v := range breaks {
		if err := g.Breaks.Append(v); err != nil {
			return nil, err
		}
	}

	// the rule stream width covers every id with one spare bit, widened
	// further if a run length needs it
	var maxCell uint64
	for i := 0; i < b.rules.Len(); i++ {
		if v := b.rules.Read(i); v > maxCell {
			maxCell = v
		}
	}
	width := bitpack.WidthFor(g.R) + 1
	if w := bitpack.WidthFor(maxCell); w > width {
		width = w
	}
	g.Rules = bitpack.NewIntVector(width)
	for i := 0; i < b.rules.Len(); i++ {
		if err := g.Rules.Append(b.rules.Read(i)); err != nil {
			return nil, err
		}
	}
	g.RLim = b.rLim

	maxSuf := uint64(0)
	for _, s := range sufPos {
		if uint64(s) > maxSuf {
			maxSuf = uint64(s)
		}
	}
	g.SufPos = bitpack.NewIntVector(bitpack.WidthFor(maxSuf))
	for _, s := range sufPos {
		if err := g.SufPos.Append(uint64(s)); err != nil {
			return nil, err
		}
	}

	if err := g.index(); err != nil {
		return nil, err
	}
	return g, nil
}

// index derives the per-rule offsets from the limit bits.
func (g *Grammar) index() error {
	if uint64(g.Rules.Len()) != g.G || uint64(g.RLim.Len()) != g.G {
		return fmt.Errorf("%w: stream lengths disagree with header", ErrBadContainer)
	}
	g.ruleStart = make([]uint64, g.R+1)
	k := 1
	for i := 0; i < int(g.G); i++ {
		if g.RLim.Get(i) && uint64(k) <= g.R {
			g.ruleStart[k] = uint64(i + 1)
			k++
		}
	}
	// a zero-length start rule has no limit bit of its own
	for ; uint64(k) <= g.R; k++ {
		g.ruleStart[k] = g.G
	}
	return nil
}

// Start returns the start symbol: the last rule of the grammar.
func (g *Grammar) Start() uint64 { return g.R - 1 }

// IsTerminal reports whether id is a terminal symbol.
func (g *Grammar) IsTerminal(id uint64) bool { return id < g.Sigma }

// IsRunLength reports whether id is a run-length rule, whose body is a
// symbol and a repetition count rather than a plain symbol sequence.
func (g *Grammar) IsRunLength(id uint64) bool {
	lo := g.Breaks.Read(int(g.NPRounds))
	hi := g.Breaks.Read(int(g.NPRounds) + 1)
	return id >= lo && id < hi
}

// rhs returns the right-hand side bounds of rule id in the symbol stream.
func (g *Grammar) rhs(id uint64) (uint64, uint64) {
	return g.ruleStart[id], g.ruleStart[id+1]
}

// NumStrings returns how many strings the grammar encodes.
func (g *Grammar) NumStrings() int {
	n := g.SufPos.Len()
	if n == 0 {
		if g.C > 0 {
			return 1
		}
		return 0
	}
	if g.SufPos.Read(n-1) < g.C-1 {
		return n + 1
	}
	return n
}

// Save writes the container to path: the compression-level byte followed
// by the header scalars and the packed vectors, deflated at level 2.
func (g *Grammar) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating container: %w", err)
	}
	if err := g.write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (g *Grammar) write(f io.Writer) error {
	if _, err := f.Write([]byte{g.Level}); err != nil {
		return fmt.Errorf("writing container: %w", err)
	}
	var w io.Writer = f
	var fw *flate.Writer
	if g.Level == 2 {
		var err error
		fw, err = flate.NewWriter(f, flate.DefaultCompression)
		if err != nil {
			return fmt.Errorf("writing container: %w", err)
		}
		w = fw
	}
	var hdr [48]byte
	for i, v := range []uint64{g.Sigma, g.R, g.G, g.C, g.MaxTSym, g.NPRounds} {
		binary.LittleEndian.PutUint64(hdr[i*8:], v)
	}
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("writing container header: %w", err)
	}
	for _, v := range []*bitpack.IntVector{g.SymMap, g.Breaks, g.Rules} {
		if _, err := v.WriteTo(w); err != nil {
			return fmt.Errorf("writing container: %w", err)
		}
	}
	if _, err := g.RLim.WriteTo(w); err != nil {
		return fmt.Errorf("writing container: %w", err)
	}
	if _, err := g.SufPos.WriteTo(w); err != nil {
		return fmt.Errorf("writing container: %w", err)
	}
	if fw != nil {
		if err := fw.Close(); err != nil {
			return fmt.Errorf("writing container: %w", err)
		}
	}
	return nil
}

// LoadGrammar reads a container written by Save.
func LoadGrammar(path string) (*Grammar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	defer f.Close()
	return ReadGrammar(f)
}

// ReadGrammar decodes a container from r.
func ReadGrammar(r io.Reader) (*Grammar, error) {
	var level [1]byte
	if _, err := io.ReadFull(r, level[:]); err != nil {
		return nil, fmt.Errorf("%w: missing level byte", ErrBadContainer)
	}
	g := &Grammar{Level: level[0]}
	var in io.Reader = r
	switch g.Level {
	case 1:
	case 2:
		fr := flate.NewReader(r)
		defer fr.Close()
		in = fr
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedLevel, g.Level)
	}
	var hdr [48]byte
	if _, err := io.ReadFull(in, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrBadContainer)
	}
	g.Sigma = binary.LittleEndian.Uint64(hdr[0:])
	g.R = binary.LittleEndian.Uint64(hdr[8:])
	g.G = binary.LittleEndian.Uint64(hdr[16:])
	g.C = binary.LittleEndian.Uint64(hdr[24:])
	g.MaxTSym = binary.LittleEndian.Uint64(hdr[32:])
	g.NPRounds = binary.LittleEndian.Uint64(hdr[40:])
	var err error
	if g.SymMap, err = bitpack.ReadIntVector(in); err != nil {
		return nil, fmt.Errorf("%w: symbol map: %v", ErrBadContainer, err)
	}
	if g.Breaks, err = bitpack.ReadIntVector(in); err != nil {
		return nil, fmt.Errorf("%w: round boundaries: %v", ErrBadContainer, err)
	}
	if g.Rules, err = bitpack.ReadIntVector(in); err != nil {
		return nil, fmt.Errorf("%w: rule stream: %v", ErrBadContainer, err)
	}
	if g.RLim, err = bitpack.ReadBitVector(in); err != nil {
		return nil, fmt.Errorf("%w: rule limits: %v", ErrBadContainer, err)
	}
	if g.SufPos, err = bitpack.ReadIntVector(in); err != nil {
		return nil, fmt.Errorf("%w: suffix positions: %v", ErrBadContainer, err)
	}
	if uint64(g.Breaks.Len()) != g.NPRounds+2 {
		return nil, fmt.Errorf("%w: boundary table has %d entries, want %d",
			ErrBadContainer, g.Breaks.Len(), g.NPRounds+2)
	}
	if err := g.index(); err != nil {
		return nil, err
	}
	return g, nil
}
