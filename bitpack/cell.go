package bitpack

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// DefaultBufCells is the number of cells a CellReader keeps in memory.
const DefaultBufCells = 1 << 16

// CellReader provides buffered random access to a file of fixed-size cells.
// A cell is either one byte (the original text) or a little-endian uint64
// (the parse of any later round). Reads outside the buffered block reload
// the block containing the requested cell, so mostly-sequential scans touch
// the disk once per block.
type CellReader struct {
	f        *os.File
	cellSize int
	n        int64
	buf      []byte
	bufFirst int64 // index of the first buffered cell
	bufCells int64 // number of valid cells in buf
	capCells int64
}

// OpenCellReader opens path as a stream of cells of cellSize bytes (1 or 8).
func OpenCellReader(path string, cellSize int) (*CellReader, error) {
	if cellSize != 1 && cellSize != 8 {
		return nil, fmt.Errorf("bitpack: unsupported cell size %d", cellSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bitpack: opening cell file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("bitpack: stat cell file: %w", err)
	}
	if st.Size()%int64(cellSize) != 0 {
		f.Close()
		return nil, fmt.Errorf("bitpack: file %s is not a whole number of %d-byte cells", path, cellSize)
	}
	return &CellReader{
		f:        f,
		cellSize: cellSize,
		n:        st.Size() / int64(cellSize),
		buf:      make([]byte, DefaultBufCells*cellSize),
		bufFirst: -1,
		capCells: DefaultBufCells,
	}, nil
}

// Len returns the number of cells in the file.
func (r *CellReader) Len() int64 { return r.n }

// CellSize returns the size of one cell in bytes.
func (r *CellReader) CellSize() int { return r.cellSize }

// Cell returns the value of cell i.
func (r *CellReader) Cell(i int64) (uint64, error) {
	if i < 0 || i >= r.n {
		return 0, fmt.Errorf("bitpack: cell %d out of range [0,%d)", i, r.n)
	}
	if r.bufFirst < 0 || i < r.bufFirst || i >= r.bufFirst+r.bufCells {
		first := i - i%r.capCells
		cells := r.n - first
		if cells > r.capCells {
			cells = r.capCells
		}
		got, err := r.f.ReadAt(r.buf[:cells*int64(r.cellSize)], first*int64(r.cellSize))
		if err != nil && !(err == io.EOF && got == int(cells)*r.cellSize) {
			return 0, fmt.Errorf("bitpack: reading cells at %d: %w", first, err)
		}
		r.bufFirst, r.bufCells = first, cells
	}
	off := (i - r.bufFirst) * int64(r.cellSize)
	if r.cellSize == 1 {
		return uint64(r.buf[off]), nil
	}
	return binary.LittleEndian.Uint64(r.buf[off : off+8]), nil
}

// Close releases the underlying file.
func (r *CellReader) Close() error { return r.f.Close() }

// CellWriter appends little-endian uint64 cells to a file through a buffer.
type CellWriter struct {
	f  *os.File
	w  *bufio.Writer
	n  int64
	p  string
}

// CreateCellWriter creates (or truncates) path as an 8-byte cell stream.
func CreateCellWriter(path string) (*CellWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("bitpack: creating cell file: %w", err)
	}
	return &CellWriter{f: f, w: bufio.NewWriterSize(f, 1<<20), p: path}, nil
}

// Append writes one cell.
func (w *CellWriter) Append(x uint64) error {
	var cell [8]byte
	binary.LittleEndian.PutUint64(cell[:], x)
	if _, err := w.w.Write(cell[:]); err != nil {
		return fmt.Errorf("bitpack: writing cell: %w", err)
	}
	w.n++
	return nil
}

// Count returns the number of cells written so far.
func (w *CellWriter) Count() int64 { return w.n }

// Path returns the file the writer appends to.
func (w *CellWriter) Path() string { return w.p }

// Close flushes and closes the file.
func (w *CellWriter) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("bitpack: flushing cell file: %w", err)
	}
	return w.f.Close()
}

// AppendReversed streams the cells of path into w in reverse file order.
// The join step of a parsing round uses it: each worker writes its chunk of
// the parse back to front, and reading the chunk backwards in buffered
// blocks restores forward order without loading the chunk in memory.
func (w *CellWriter) AppendReversed(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("bitpack: opening chunk: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("bitpack: stat chunk: %w", err)
	}
	if st.Size()%8 != 0 {
		return fmt.Errorf("bitpack: chunk %s is not a whole number of cells", path)
	}
	cells := st.Size() / 8
	const blockCells = int64(DefaultBufCells)
	buf := make([]byte, blockCells*8)
	for rem := cells; rem > 0; {
		n := rem
		if n > blockCells {
			n = blockCells
		}
		got, err := f.ReadAt(buf[:n*8], (rem-n)*8)
		if err != nil && !(err == io.EOF && got == int(n*8)) {
			return fmt.Errorf("bitpack: reading chunk tail: %w", err)
		}
		for i := n - 1; i >= 0; i-- {
			if err := w.Append(binary.LittleEndian.Uint64(buf[i*8 : i*8+8])); err != nil {
				return err
			}
		}
		rem -= n
	}
	return nil
}
