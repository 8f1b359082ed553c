package lpg

import (
	"bufio"
	"fmt"
	"os"

	"github.com/ddiazdom/LPG/induce"
)

// BWT returns the Burrows-Wheeler transform of the text encoded by the
// grammar, together with the primary index: the transform row that
// corresponds to the text itself. The text is materialized from the
// grammar and suffix-sorted with the same induced-sorting routine the
// ranking step uses, over the byte alphabet plus a sentinel.
func (g *Grammar) BWT() ([]byte, int, error) {
	text, err := g.Decompress()
	if err != nil {
		return nil, 0, err
	}
	if len(text) == 0 {
		return nil, 0, nil
	}
	t := make([]uint64, len(text)+1)
	for i, c := range text {
		t[i] = uint64(c) + 1
	}
	t[len(text)] = 0
	sa := induce.Sort(t, 257)

	bwt := make([]byte, 0, len(text))
	primary := 0
	for i, p := range sa {
		if p == 0 {
			primary = i
			continue
		}
		bwt = append(bwt, text[p-1])
	}
	if len(bwt) != len(text) {
		return nil, 0, fmt.Errorf("%w: transform is %d bytes, want %d", ErrBadContainer, len(bwt), len(text))
	}
	return bwt, primary, nil
}

// BuildBWT loads the grammar container at gramPath and writes the BWT of
// its text to outputPath. It returns the primary index.
func BuildBWT(gramPath, outputPath string) (int, error) {
	g, err := LoadGrammar(gramPath)
	if err != nil {
		return 0, err
	}
	bwt, primary, err := g.BWT()
	if err != nil {
		return 0, err
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("creating output: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	if _, err := w.Write(bwt); err != nil {
		f.Close()
		return 0, fmt.Errorf("writing transform: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("flushing transform: %w", err)
	}
	return primary, f.Close()
}
