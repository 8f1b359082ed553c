package lpg

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/ddiazdom/LPG/bitpack"
	"github.com/sirupsen/logrus"
)

// BuildGrammar compresses the text at inputPath into a locally consistent
// grammar and writes the serialized container to outputPath.
func BuildGrammar(inputPath, outputPath string, opts ...Option) (err error) {
	cfg := resolveConfig(opts)
	if cfg.Level != 1 && cfg.Level != 2 {
		return fmt.Errorf("%w: %d", ErrUnsupportedLevel, cfg.Level)
	}
	log := logrus.WithField("input", inputPath)

	tmpDir, err := os.MkdirTemp(cfg.TempDir, "lpg-gram-*")
	if err != nil {
		return fmt.Errorf("creating scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil && err == nil {
			err = fmt.Errorf("removing scratch dir: %w", rmErr)
		}
	}()

	textLen, maxByte, sepPositions, err := scanInput(inputPath, cfg.Separator)
	if err != nil {
		return err
	}
	maxTSym := uint64(maxByte)
	if uint64(cfg.Separator) > maxTSym {
		maxTSym = uint64(cfg.Separator)
	}
	sigma := maxTSym + 1

	b := &builder{
		cfg:    cfg,
		tmpDir: tmpDir,
		log:    log,
		rules:  bitpack.NewIntVector(64),
		rLim:   bitpack.NewBitVector(0),
	}
	// terminals are identity rules so every id is uniform downstream
	for i := uint64(0); i < sigma; i++ {
		if err := b.rules.Append(i); err != nil {
			return err
		}
		b.rLim.Append(true)
	}
	b.r = sigma

	log.Info("generating a locally consistent grammar")
	cur, cellSize := inputPath, 1
	sufPos := sepPositions
	if textLen > 0 {
		for roundNo := 1; ; roundNo++ {
			res, err := b.runRound(roundNo, cur, cellSize, sufPos)
			if err != nil {
				return err
			}
			if !res.shrunk {
				break
			}
			if cur != inputPath {
				if err := os.Remove(cur); err != nil {
					return fmt.Errorf("removing previous parse: %w", err)
				}
			}
			cur, cellSize = res.outPath, 8
			sufPos = res.sufPos
		}
	}

	parse, err := readParse(cur, cellSize)
	if err != nil {
		return err
	}

	parse, sufPos, nRL := b.runLengthPass(sigma, parse, sufPos)

	// the final parse becomes the start rule
	for i, s := range parse {
		if err := b.rules.Append(s); err != nil {
			return err
		}
		b.rLim.Append(i == len(parse)-1)
	}
	b.r++

	breaks := []uint64{sigma}
	for _, c := range b.roundCounts {
		breaks = append(breaks, breaks[len(breaks)-1]+c)
	}
	breaks = append(breaks, breaks[len(breaks)-1]+nRL)

	gram, err := assemble(cfg.Level, sigma, maxTSym, b, uint64(len(parse)), breaks, sufPos)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"terminals":         sigma,
		"nonterminals":      gram.R - sigma,
		"grammar_size":      gram.G,
		"compressed_string": gram.C,
	}).Info("locally consistent grammar finished")
	return gram.Save(outputPath)
}

// scanInput sizes the text, finds its highest byte and records the
// positions of the separator, which seed the suffix positions of round one.
func scanInput(path string, sep byte) (int64, byte, []int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 1<<20)
	var n int64
	var maxByte byte
	var seps []int64
	for {
		c, err := r.ReadByte()
		if err == io.EOF {
			return n, maxByte, seps, nil
		}
		if err != nil {
			return 0, 0, nil, fmt.Errorf("scanning input: %w", err)
		}
		if c > maxByte {
			maxByte = c
		}
		if c == sep {
			seps = append(seps, n)
		}
		n++
	}
}

// readParse loads a parse file into memory as plain symbols.
func readParse(path string, cellSize int) ([]uint64, error) {
	rd, err := bitpack.OpenCellReader(path, cellSize)
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	out := make([]uint64, rd.Len())
	for i := range out {
		out[i], err = rd.Cell(int64(i))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// runLengthPass collapses every maximal run of two or more equal symbols,
// in all nonterminal rule bodies and in the final parse, into a fresh
// run-length rule whose body is the symbol and the run length. Runs in the
// parse never extend past a suffix position, so each string boundary keeps
// its own parse cell. It returns the rewritten parse, the remapped suffix
// positions and the number of run-length rules created.
func (b *builder) runLengthPass(sigma uint64, parse []uint64, sufPos []int64) ([]uint64, []int64, uint64) {
	type rlKey struct{ sym, length uint64 }
	pairs := make(map[rlKey]uint64)
	var order []rlKey
	next := b.r
	idFor := func(sym, length uint64) uint64 {
		k := rlKey{sym, length}
		if id, ok := pairs[k]; ok {
			return id
		}
		id := next
		next++
		pairs[k] = id
		order = append(order, k)
		return id
	}

	newRules := bitpack.NewIntVector(64)
	newLim := bitpack.NewBitVector(0)
	emit := func(sym uint64, last bool) {
		_ = newRules.Append(sym) // width 64 cannot overflow
		newLim.Append(last)
	}

	pos := 0
	for ; pos < int(sigma); pos++ {
		emit(b.rules.Read(pos), true)
	}
	var rhs, out []uint64
	for pos < b.rules.Len() {
		rhs = rhs[:0]
		for {
			rhs = append(rhs, b.rules.Read(pos))
			last := b.rLim.Get(pos)
			pos++
			if last {
				break
			}
		}
		out = out[:0]
		for i := 0; i < len(rhs); {
			j := i + 1
			for j < len(rhs) && rhs[j] == rhs[i] {
				j++
			}
			if j-i > 1 {
				out = append(out, idFor(rhs[i], uint64(j-i)))
			} else {
				out = append(out, rhs[i])
			}
			i = j
		}
		for i, s := range out {
			emit(s, i == len(out)-1)
		}
	}

	var newParse []uint64
	var newSuf []int64
	sufIdx := 0
	isSuf := func(i int) bool {
		return sufIdx < len(sufPos) && sufPos[sufIdx] == int64(i)
	}
	for i := 0; i < len(parse); {
		j := i + 1
		for j < len(parse) && parse[j] == parse[i] && !isSuf(j-1) {
			j++
		}
		if j-i > 1 {
			newParse = append(newParse, idFor(parse[i], uint64(j-i)))
		} else {
			newParse = append(newParse, parse[i])
		}
		if isSuf(j - 1) {
			newSuf = append(newSuf, int64(len(newParse)-1))
			sufIdx++
		}
		i = j
	}

	for _, k := range order {
		emit(k.sym, false)
		emit(k.length, true)
	}
	b.rules, b.rLim = newRules, newLim
	b.r += uint64(len(order))
	return newParse, newSuf, uint64(len(order))
}
