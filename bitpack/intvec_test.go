package bitpack

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntVectorAppendRead(t *testing.T) {
	tests := []struct {
		name  string
		width uint8
		vals  []uint64
	}{
		{"narrow", 3, []uint64{0, 7, 5, 1, 2, 6, 3}},
		{"byte", 8, []uint64{255, 0, 128, 42}},
		{"crosses words", 13, []uint64{8191, 1, 4096, 7777, 0, 123}},
		{"full width", 64, []uint64{^uint64(0), 0, 1 << 63}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := NewIntVector(tc.width)
			for _, x := range tc.vals {
				require.NoError(t, v.Append(x))
			}
			require.Equal(t, len(tc.vals), v.Len())
			for i, x := range tc.vals {
				require.Equal(t, x, v.Read(i), "entry %d", i)
			}
		})
	}
}

func TestIntVectorWidthOverflow(t *testing.T) {
	v := NewIntVector(4)
	require.NoError(t, v.Append(15))
	err := v.Append(16)
	require.ErrorIs(t, err, ErrWidthOverflow)
	require.NoError(t, v.Append(3))
	require.ErrorIs(t, v.Write(0, 16), ErrWidthOverflow)
}

func TestIntVectorWrite(t *testing.T) {
	v := NewIntVector(11)
	for i := uint64(0); i < 100; i++ {
		require.NoError(t, v.Append(i))
	}
	require.NoError(t, v.Write(50, 2047))
	require.Equal(t, uint64(2047), v.Read(50))
	require.Equal(t, uint64(49), v.Read(49))
	require.Equal(t, uint64(51), v.Read(51))
}

func TestIntVectorIterator(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	v := NewIntVector(17)
	want := make([]uint64, 5000)
	for i := range want {
		want[i] = uint64(rng.Intn(1 << 17))
		require.NoError(t, v.Append(want[i]))
	}
	it := v.Iter(100, 4200)
	for i := 100; i < 4200; i++ {
		x, ok := it.Next()
		require.True(t, ok)
		require.Equal(t, want[i], x)
	}
	_, ok := it.Next()
	require.False(t, ok)

	it.Reset(4100)
	x, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, want[4100], x)
}

func TestIntVectorSerializeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, width := range []uint8{1, 7, 8, 13, 32, 64} {
		v := NewIntVector(width)
		mask := ^uint64(0)
		if width < 64 {
			mask = (uint64(1) << width) - 1
		}
		for i := 0; i < 777; i++ {
			require.NoError(t, v.Append(rng.Uint64()&mask))
		}
		var buf bytes.Buffer
		_, err := v.WriteTo(&buf)
		require.NoError(t, err)
		got, err := ReadIntVector(&buf)
		require.NoError(t, err)
		require.Equal(t, v.Len(), got.Len())
		require.Equal(t, v.Width(), got.Width())
		for i := 0; i < v.Len(); i++ {
			require.Equal(t, v.Read(i), got.Read(i))
		}
	}
}

func TestWidthFor(t *testing.T) {
	require.Equal(t, uint8(1), WidthFor(0))
	require.Equal(t, uint8(1), WidthFor(1))
	require.Equal(t, uint8(2), WidthFor(2))
	require.Equal(t, uint8(8), WidthFor(255))
	require.Equal(t, uint8(9), WidthFor(256))
	require.Equal(t, uint8(64), WidthFor(^uint64(0)))
}

func TestBitVector(t *testing.T) {
	b := NewBitVector(0)
	pattern := []bool{true, false, false, true, true, true, false}
	for i := 0; i < 500; i++ {
		b.Append(pattern[i%len(pattern)])
	}
	for i := 0; i < 500; i++ {
		require.Equal(t, pattern[i%len(pattern)], b.Get(i), "bit %d", i)
	}
	b.Set(3, false)
	require.False(t, b.Get(3))
	b.Set(3, true)
	require.True(t, b.Get(3))

	var buf bytes.Buffer
	_, err := b.WriteTo(&buf)
	require.NoError(t, err)
	got, err := ReadBitVector(&buf)
	require.NoError(t, err)
	require.Equal(t, b.Len(), got.Len())
	for i := 0; i < b.Len(); i++ {
		require.Equal(t, b.Get(i), got.Get(i))
	}
}
