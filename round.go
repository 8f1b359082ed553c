package lpg

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ddiazdom/LPG/bitpack"
	"github.com/ddiazdom/LPG/induce"
	"github.com/ddiazdom/LPG/phrase"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// builder carries the state of one grammar construction run. The rule
// streams and the rule count grow monotonically across rounds; everything
// else is per-round scratch.
type builder struct {
	cfg    Config
	tmpDir string
	log    *logrus.Entry

	rules       *bitpack.IntVector // width 64 during the build; repacked at save
	rLim        *bitpack.BitVector
	r           uint64 // total rules so far (terminals included)
	roundCounts []uint64
}

// roundResult reports one parsing round. When shrunk is false the round was
// a no-op: the input already equals its own parse and the pipeline stops.
type roundResult struct {
	shrunk   bool
	outPath  string
	parseLen int64
	sufPos   []int64
	nRules   int
}

type hashWorker struct {
	start, end int64
	nPhrases   int64
	sufPos     []int64 // phrase indexes within the range that end a string
	dumpPath   string
	chunkPath  string
}

// runRound executes one parsing round over inPath: hash the phrases in
// parallel, merge, sort and rank the dictionary, then rewrite the text as
// the round's nonterminals. Every intermediate file lives in a per-round
// scratch directory that is removed on all exit paths.
func (b *builder) runRound(roundNo int, inPath string, cellSize int, sufPos []int64) (res *roundResult, err error) {
	roundDir := filepath.Join(b.tmpDir, fmt.Sprintf("round_%d", roundNo))
	if err := os.MkdirAll(roundDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating round scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(roundDir); rmErr != nil && err == nil {
			err = fmt.Errorf("removing round scratch dir: %w", rmErr)
		}
	}()

	rd, err := bitpack.OpenCellReader(inPath, cellSize)
	if err != nil {
		return nil, err
	}
	n := rd.Len()
	maxSym := b.r - 1
	width := bitpack.WidthFor(maxSym)

	var brk phrase.Breaker
	if roundNo == 1 {
		brk = phrase.SepBreaker{Sep: uint64(b.cfg.Separator)}
	} else {
		brk = phrase.PosBreaker{Positions: sufPos}
	}
	ranges, err := phrase.NewParser(rd, brk).Partition(b.cfg.Threads)
	rd.Close()
	if err != nil {
		return nil, err
	}

	workers := make([]*hashWorker, len(ranges))
	for i, r := range ranges {
		workers[i] = &hashWorker{
			start:     r[0],
			end:       r[1],
			dumpPath:  filepath.Join(roundDir, fmt.Sprintf("phrases_%d", i)),
			chunkPath: filepath.Join(roundDir, fmt.Sprintf("chunk_%d", i)),
		}
	}

	budgetPer := 0
	if b.cfg.HashBuffer > 0 {
		budgetPer = b.cfg.HashBuffer / len(workers)
	}

	b.log.WithField("round", roundNo).Info("computing the phrases in the text")
	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			src, err := bitpack.OpenCellReader(inPath, cellSize)
			if err != nil {
				return err
			}
			defer src.Close()
			tbl := phrase.NewTable(width, budgetPer, w.dumpPath)
			var key []uint64
			err = phrase.NewParser(src, brk).Parse(w.start, w.end, func(syms []uint64, breakEnded bool) error {
				var bits uint32
				key, bits = phrase.PackReversed(key, syms, width)
				if err := tbl.Add(key, bits); err != nil {
					return err
				}
				if breakEnded {
					w.sufPos = append(w.sufPos, w.nPhrases)
				}
				w.nPhrases++
				return nil
			})
			if err != nil {
				return err
			}
			return tbl.Flush()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	global := phrase.NewTable(width, 0, "")
	var totalPhrases int64
	for _, w := range workers {
		if err := global.MergeDump(w.dumpPath); err != nil {
			return nil, err
		}
		if err := os.Remove(w.dumpPath); err != nil {
			return nil, fmt.Errorf("removing dump file: %w", err)
		}
		totalPhrases += w.nPhrases
	}

	if global.Len() == 0 || totalPhrases == n {
		// the parse equals the input; nothing left to compress
		return &roundResult{shrunk: false, parseLen: n}, nil
	}

	b.log.WithFields(logrus.Fields{"round": roundNo, "phrases": global.Len()}).
		Info("assigning identifiers to the phrases")
	dict, err := phrase.BuildDictionary(global, maxSym)
	if err != nil {
		return nil, err
	}
	idxPath := filepath.Join(roundDir, "ht_index")
	if err := global.Unload(idxPath); err != nil {
		return nil, err
	}
	sa := induce.SortDictionary(dict)
	nRules, err := induce.Rank(dict, sa, global, b.rules, b.rLim)
	if err != nil {
		return nil, err
	}
	if err := global.Load(idxPath); err != nil {
		return nil, err
	}
	b.r += uint64(nRules)
	b.roundCounts = append(b.roundCounts, uint64(nRules))

	b.log.WithField("round", roundNo).Info("creating the parse of the text")
	// The rewriting workers only read the global table; no mutation happens
	// until after the join.
	var g2 errgroup.Group
	for _, w := range workers {
		g2.Go(func() error {
			src, err := bitpack.OpenCellReader(inPath, cellSize)
			if err != nil {
				return err
			}
			defer src.Close()
			ids := make([]uint64, 0, w.nPhrases)
			var key []uint64
			err = phrase.NewParser(src, brk).Parse(w.start, w.end, func(syms []uint64, _ bool) error {
				var bits uint32
				key, bits = phrase.PackReversed(key, syms, width)
				slot, ok := global.Lookup(key, bits)
				if !ok {
					return fmt.Errorf("%w: phrase missing from merged table", induce.ErrSortInvariant)
				}
				ids = append(ids, global.Value(slot)>>1)
				return nil
			})
			if err != nil {
				return err
			}
			cw, err := bitpack.CreateCellWriter(w.chunkPath)
			if err != nil {
				return err
			}
			for i := len(ids) - 1; i >= 0; i-- {
				if err := cw.Append(ids[i]); err != nil {
					cw.Close()
					return err
				}
			}
			return cw.Close()
		})
	}
	if err := g2.Wait(); err != nil {
		return nil, err
	}

	outPath := filepath.Join(b.tmpDir, fmt.Sprintf("parse_%d", roundNo))
	out, err := bitpack.CreateCellWriter(outPath)
	if err != nil {
		return nil, err
	}
	var newSuf []int64
	var acc int64
	for _, w := range workers {
		if err := out.AppendReversed(w.chunkPath); err != nil {
			out.Close()
			return nil, err
		}
		if err := os.Remove(w.chunkPath); err != nil {
			out.Close()
			return nil, fmt.Errorf("removing parse chunk: %w", err)
		}
		for _, s := range w.sufPos {
			newSuf = append(newSuf, acc+s)
		}
		acc += w.nPhrases
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	b.log.WithFields(logrus.Fields{
		"round":            roundNo,
		"parse_size":       out.Count(),
		"new_nonterminals": nRules,
	}).Info("round stats")
	return &roundResult{
		shrunk:   true,
		outPath:  outPath,
		parseLen: out.Count(),
		sufPos:   newSuf,
		nRules:   nRules,
	}, nil
}
