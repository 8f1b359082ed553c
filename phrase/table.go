// Package phrase implements the phrase discovery side of a parsing round:
// a hash table keyed by packed phrase bit-strings, the locally consistent
// parser over byte and integer symbol streams, and the dictionary view the
// ranking step sorts.
package phrase

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	tableMinCap    = 1 << 10
	tableLoad      = 0.8 // grow above this entry/slot ratio
	entryOverhead  = 16  // bytes accounted per entry besides the key words
	slotOverhead   = 4
	fnvOffsetBasis = 14695981039346656037
	fnvPrime       = 1099511628211
)

type entry struct {
	off  uint32 // first word of the key in keyWords
	bits uint32 // key length in bits
	val  uint64
}

// Table is an open-addressed map from packed phrase keys to a value word.
// Keys are the symbols of a phrase in reverse order, packed at a fixed
// per-round width; entries keep their insertion order, which later defines
// the phrase indexes of the round's dictionary.
//
// One Table per hashing worker; no instance is ever shared between
// goroutines. A worker whose table outgrows its byte budget spills the whole
// table to its dump file and continues on a fresh one; MergeDump folds dump
// files back into a single canonical table.
type Table struct {
	width    uint8
	keyWords []uint64
	entries  []entry
	index    []int32 // slot -> entry position, -1 empty
	budget   int
	dumpPath string
	dumped   bool
}

// NewTable creates a table for keys packed at width bits per symbol.
// budget bounds the table's memory in bytes (0 means unbounded); dumpPath
// is the worker's spill file.
func NewTable(width uint8, budget int, dumpPath string) *Table {
	t := &Table{width: width, budget: budget, dumpPath: dumpPath}
	t.index = freshIndex(tableMinCap)
	return t
}

func freshIndex(n int) []int32 {
	idx := make([]int32, n)
	for i := range idx {
		idx[i] = -1
	}
	return idx
}

// Width returns the packed symbol width of the table's keys.
func (t *Table) Width() uint8 { return t.width }

// Len returns the number of distinct keys.
func (t *Table) Len() int { return len(t.entries) }

func keyHash(key []uint64, bits uint32) uint64 {
	h := uint64(fnvOffsetBasis)
	h = (h ^ uint64(bits)) * fnvPrime
	for _, w := range key[:wordsFor(bits)] {
		h = (h ^ (w & 0xffffffff)) * fnvPrime
		h = (h ^ (w >> 32)) * fnvPrime
	}
	return h
}

func wordsFor(bits uint32) int { return int(bits+63) / 64 }

func (t *Table) keyEqual(e entry, key []uint64, bits uint32) bool {
	if e.bits != bits {
		return false
	}
	stored := t.keyWords[e.off : int(e.off)+wordsFor(bits)]
	for i, w := range stored {
		if key[i] != w {
			return false
		}
	}
	return true
}

func (t *Table) findSlot(key []uint64, bits uint32) (int, bool) {
	mask := len(t.index) - 1
	for probe := int(keyHash(key, bits)) & mask; ; probe = (probe + 1) & mask {
		pos := t.index[probe]
		if pos < 0 {
			return probe, false
		}
		if t.keyEqual(t.entries[pos], key, bits) {
			return probe, true
		}
	}
}

// Insert adds key with val when absent. It returns the entry slot and
// whether a new entry was created. The slot stays valid until the table is
// spilled or reset.
func (t *Table) Insert(key []uint64, bits uint32, val uint64) (int, bool) {
	if t.index == nil {
		panic("phrase: insert on unloaded table")
	}
	probe, found := t.findSlot(key, bits)
	if found {
		return int(t.index[probe]), false
	}
	pos := len(t.entries)
	off := len(t.keyWords)
	t.keyWords = append(t.keyWords, key[:wordsFor(bits)]...)
	t.entries = append(t.entries, entry{off: uint32(off), bits: bits, val: val})
	t.index[probe] = int32(pos)
	if float64(len(t.entries)) > tableLoad*float64(len(t.index)) {
		t.rehash(len(t.index) * 2)
	}
	return pos, true
}

// Lookup returns the slot of key, if present.
func (t *Table) Lookup(key []uint64, bits uint32) (int, bool) {
	if t.index == nil {
		panic("phrase: lookup on unloaded table")
	}
	probe, found := t.findSlot(key, bits)
	if !found {
		return 0, false
	}
	return int(t.index[probe]), true
}

// Value returns the value stored at slot.
func (t *Table) Value(slot int) uint64 { return t.entries[slot].val }

// SetValue replaces the value stored at slot.
func (t *Table) SetValue(slot int, val uint64) { t.entries[slot].val = val }

// Key returns the packed key words and bit length stored at slot.
func (t *Table) Key(slot int) ([]uint64, uint32) {
	e := t.entries[slot]
	return t.keyWords[e.off : int(e.off)+wordsFor(e.bits)], e.bits
}

// Range calls fn for every entry in insertion order.
func (t *Table) Range(fn func(slot int, key []uint64, bits uint32, val uint64) error) error {
	for i, e := range t.entries {
		if err := fn(i, t.keyWords[e.off:int(e.off)+wordsFor(e.bits)], e.bits, e.val); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) rehash(capacity int) {
	t.index = freshIndex(capacity)
	mask := capacity - 1
	for pos, e := range t.entries {
		key := t.keyWords[e.off : int(e.off)+wordsFor(e.bits)]
		probe := int(keyHash(key, e.bits)) & mask
		for t.index[probe] >= 0 {
			probe = (probe + 1) & mask
		}
		t.index[probe] = int32(pos)
	}
}

func (t *Table) memBytes() int {
	return len(t.keyWords)*8 + len(t.entries)*entryOverhead + len(t.index)*slotOverhead
}

// Add records one occurrence of a phrase: a first occurrence inserts the
// key with a clear repeat flag, any further occurrence sets the flag. When
// the table exceeds its budget it is spilled to the dump file and reset.
func (t *Table) Add(key []uint64, bits uint32) error {
	slot, inserted := t.Insert(key, bits, 0)
	if !inserted {
		t.SetValue(slot, t.Value(slot)|1)
		return nil
	}
	if t.budget > 0 && t.memBytes() > t.budget {
		return t.Flush()
	}
	return nil
}

// Flush appends every entry to the dump file and resets the table. The
// hashing worker also calls it once at the end of its range so the merge
// step only ever reads dump files.
func (t *Table) Flush() error {
	if t.dumpPath == "" {
		return fmt.Errorf("phrase: table has no dump file")
	}
	f, err := os.OpenFile(t.dumpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("phrase: opening dump file: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	var hdr [4]byte
	var cell [8]byte
	for _, e := range t.entries {
		binary.LittleEndian.PutUint32(hdr[:], e.bits)
		if _, err := w.Write(hdr[:]); err != nil {
			f.Close()
			return fmt.Errorf("phrase: writing dump entry: %w", err)
		}
		for _, word := range t.keyWords[e.off : int(e.off)+wordsFor(e.bits)] {
			binary.LittleEndian.PutUint64(cell[:], word)
			if _, err := w.Write(cell[:]); err != nil {
				f.Close()
				return fmt.Errorf("phrase: writing dump entry: %w", err)
			}
		}
		if err := w.WriteByte(byte(e.val & 1)); err != nil {
			f.Close()
			return fmt.Errorf("phrase: writing dump entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("phrase: flushing dump file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("phrase: closing dump file: %w", err)
	}
	t.dumped = true
	t.keyWords = t.keyWords[:0]
	t.entries = t.entries[:0]
	t.index = freshIndex(tableMinCap)
	return nil
}

// DumpPath returns the worker's dump file, or "" when nothing was spilled.
func (t *Table) DumpPath() string {
	if !t.dumped {
		return ""
	}
	return t.dumpPath
}

// MergeDump folds the entries of a worker dump file into t. A key seen in
// more than one dump, or more than once overall, ends with its repeat flag
// set.
func (t *Table) MergeDump(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("phrase: opening dump file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 1<<20)
	var hdr [4]byte
	var cell [8]byte
	var key []uint64
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("phrase: reading dump entry: %w", err)
		}
		bits := binary.LittleEndian.Uint32(hdr[:])
		nw := wordsFor(bits)
		if cap(key) < nw {
			key = make([]uint64, nw)
		}
		key = key[:nw]
		for i := 0; i < nw; i++ {
			if _, err := io.ReadFull(r, cell[:]); err != nil {
				return fmt.Errorf("phrase: reading dump entry: %w", err)
			}
			key[i] = binary.LittleEndian.Uint64(cell[:])
		}
		flag, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("phrase: reading dump entry: %w", err)
		}
		slot, inserted := t.Insert(key, bits, uint64(flag&1))
		if !inserted {
			t.SetValue(slot, t.Value(slot)|uint64(flag&1)|1)
		}
	}
}

// Unload writes the probe index to path and drops it, freeing its memory
// while the dictionary sort runs. Entry storage stays intact, so Range,
// Value and SetValue keep working.
func (t *Table) Unload(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("phrase: creating index file: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(t.index)))
	if _, err := w.Write(hdr[:]); err != nil {
		f.Close()
		return fmt.Errorf("phrase: writing index: %w", err)
	}
	var cell [4]byte
	for _, pos := range t.index {
		binary.LittleEndian.PutUint32(cell[:], uint32(pos))
		if _, err := w.Write(cell[:]); err != nil {
			f.Close()
			return fmt.Errorf("phrase: writing index: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("phrase: flushing index: %w", err)
	}
	t.index = nil
	return f.Close()
}

// Load restores a probe index written by Unload and removes the file.
func (t *Table) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("phrase: opening index file: %w", err)
	}
	r := bufio.NewReaderSize(f, 1<<20)
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		f.Close()
		return fmt.Errorf("phrase: reading index: %w", err)
	}
	n := int(binary.LittleEndian.Uint64(hdr[:]))
	idx := make([]int32, n)
	var cell [4]byte
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, cell[:]); err != nil {
			f.Close()
			return fmt.Errorf("phrase: reading index: %w", err)
		}
		idx[i] = int32(binary.LittleEndian.Uint32(cell[:]))
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("phrase: closing index file: %w", err)
	}
	t.index = idx
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("phrase: removing index file: %w", err)
	}
	return nil
}

// PackReversed packs syms tail first at width bits per symbol into dst,
// reusing its capacity. It returns the packed words and the bit length.
// The tail of the last word is zeroed so packed keys compare canonically.
func PackReversed(dst []uint64, syms []uint64, width uint8) ([]uint64, uint32) {
	bits := uint32(len(syms)) * uint32(width)
	nw := wordsFor(bits)
	if cap(dst) < nw {
		dst = make([]uint64, nw)
	}
	dst = dst[:nw]
	for i := range dst {
		dst[i] = 0
	}
	bit := uint(0)
	for i := len(syms) - 1; i >= 0; i-- {
		word, off := bit/64, bit%64
		dst[word] |= syms[i] << off
		if off+uint(width) > 64 {
			dst[word+1] |= syms[i] >> (64 - off)
		}
		bit += uint(width)
	}
	return dst, bits
}

// Unpack decodes a packed key into its stored (reversed) symbol order.
func Unpack(dst []uint64, key []uint64, bits uint32, width uint8) []uint64 {
	n := int(bits / uint32(width))
	if cap(dst) < n {
		dst = make([]uint64, n)
	}
	dst = dst[:n]
	mask := ^uint64(0)
	if width < 64 {
		mask = (uint64(1) << width) - 1
	}
	bit := uint(0)
	for i := 0; i < n; i++ {
		word, off := bit/64, bit%64
		x := key[word] >> off
		if off+uint(width) > 64 {
			x |= key[word+1] << (64 - off)
		}
		dst[i] = x & mask
		bit += uint(width)
	}
	return dst
}
