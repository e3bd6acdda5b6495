package bitio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteUintRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value uint64
		width int
		order ByteOrder
	}{
		{"byte-be", 0xAB, 8, BigEndian},
		{"short-be", 0x1234, 16, BigEndian},
		{"short-le", 0x1234, 16, LittleEndian},
		{"24bit-be", 0x0A0B0C, 24, BigEndian},
		{"24bit-le", 0x0A0B0C, 24, LittleEndian},
		{"12bit-be", 0x0AB, 12, BigEndian},
		{"12bit-le", 0x0AB, 12, LittleEndian},
		{"zero-width", 0, 0, BigEndian},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWriter()
			w.WriteUint(tc.value, tc.width, tc.order)
			buf := w.Flush()

			r := NewReader(buf)
			got, err := r.ReadUint(tc.width, tc.order)
			require.NoError(t, err)
			require.Equal(t, tc.value, got)
		})
	}
}

// P3: for any W-bit integer N with W a multiple of 8, big-endian and
// little-endian round-trip at arbitrary bit alignment.
func TestEndiannessArbitraryAlignment(t *testing.T) {
	for _, align := range []int{0, 1, 3, 7} {
		for _, order := range []ByteOrder{BigEndian, LittleEndian} {
			w := NewWriter()
			w.SkipBits(align)
			w.WriteUint(0x1A2B3C4D, 32, order)
			buf := w.Flush()

			r := NewReader(buf)
			require.NoError(t, r.SkipBits(align))
			got, err := r.ReadUint(32, order)
			require.NoError(t, err)
			require.Equal(t, uint64(0x1A2B3C4D), got)
		}
	}
}

// P4: SkipBits(a); SkipBits(b) == SkipBits(a+b).
func TestSkipIdempotence(t *testing.T) {
	data := make([]byte, 8)
	for i := range data {
		data[i] = byte(i)
	}

	r1 := NewReader(data)
	require.NoError(t, r1.SkipBits(5))
	require.NoError(t, r1.SkipBits(11))

	r2 := NewReader(data)
	require.NoError(t, r2.SkipBits(16))

	require.Equal(t, r1.Position(), r2.Position())
	b1, err1 := r1.ReadByte()
	b2, err2 := r2.ReadByte()
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.Equal(t, b1, b2)
}

// B3: a zero-bit integer reads as 0 and writes nothing.
func TestZeroBitInteger(t *testing.T) {
	w := NewWriter()
	w.WriteUint(0xFF, 0, BigEndian)
	require.Empty(t, w.Flush())

	r := NewReader([]byte{0x42})
	v, err := r.ReadUint(0, BigEndian)
	require.NoError(t, err)
	require.Equal(t, uint64(0), v)
	require.Equal(t, 0, r.Position())
}

// B4: ReadTextUntil at EOF without finding the terminator returns what was
// read, without error.
func TestReadTextUntilEOF(t *testing.T) {
	r := NewReader([]byte("no-terminator-here"))
	s, err := r.ReadTextUntil(',', "", false)
	require.NoError(t, err)
	require.Equal(t, "no-terminator-here", s)
}

func TestReadTextUntilConsumesTerminator(t *testing.T) {
	r := NewReader([]byte("GTFRI,rest"))
	s, err := r.ReadTextUntil(',', "", true)
	require.NoError(t, err)
	require.Equal(t, "GTFRI", s)
	require.Equal(t, 6, r.Position())

	rest, err := r.ReadTextUntil(0, "", false)
	require.NoError(t, err)
	require.Equal(t, "rest", rest)
}

func TestPeekByteAtEOF(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.ReadByte()
	require.NoError(t, err)
	_, ok := r.PeekByte()
	require.False(t, ok)
}

func TestFallbackPoint(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03})
	r.CreateFallbackPoint()
	_, err := r.ReadByte()
	require.NoError(t, err)
	require.NoError(t, r.RestoreFallbackPoint())
	b, err := r.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(0x01), b)
	r.ClearFallbackPoint()
	require.Error(t, r.RestoreFallbackPoint())
}

func TestBufferUnderflow(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.ReadUint(16, BigEndian)
	require.Error(t, err)
}

func TestChecksumPatch(t *testing.T) {
	w := NewWriter()
	w.WriteByte(0xAA)
	placeholderOffset := w.Position()
	w.WriteShort(0, BigEndian)
	require.NoError(t, w.OverwriteBytes(placeholderOffset, []byte{0x12, 0x34}))
	buf := w.Flush()
	require.Equal(t, []byte{0xAA, 0x12, 0x34}, buf)
}
