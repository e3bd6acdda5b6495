package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRCReferenceVectors(t *testing.T) {
	payload := []byte("123456789")

	require.Equal(t, uint64(0x29B1), ComputeDefault(CRC16CCITTFalse, payload, 0, len(payload)))
	require.Equal(t, uint64(0xBB3D), ComputeDefault(CRC16IBM, payload, 0, len(payload)))
	require.Equal(t, uint64(0xCBF43926), ComputeDefault(CRC32, payload, 0, len(payload)))
}

func TestCRC16XModemOfEmptyIsZero(t *testing.T) {
	got := CRC16CCITTXModem.Compute(nil, 0, 0, 0x0000)
	require.Equal(t, uint64(0x0000), got)
}

func TestBSD8ReferenceVector(t *testing.T) {
	// BSD-8 of "9142656" starting at 0: v = (v>>1) + ((v&1)<<7) + byte,
	// masked to 8 bits, folded left to right over the ASCII bytes.
	got := BSD8.Compute([]byte("9142656"), 0, len("9142656"), 0)
	require.Equal(t, uint64(0xC5), got)
}

func TestReflectInvolution(t *testing.T) {
	for _, w := range []int{1, 7, 8, 16, 32} {
		for _, v := range []uint64{0, 1, 0xAA, 0xFFFFFFFF} {
			v &= maskFor(w)
			require.Equal(t, v, Reflect(Reflect(v, w), w), "width=%d value=%d", w, v)
		}
	}
}

// B5: a checksum range clipped to zero bytes (skipStart+skipEnd >= totalLen)
// yields the algorithm's initial value xor'd with xorOutput.
func TestZeroByteRangeYieldsInitXorXorOut(t *testing.T) {
	got := CRC32.Compute([]byte{0x01, 0x02}, 5, 5, 0xFFFFFFFF)
	require.Equal(t, uint64(0xFFFFFFFF)^uint64(0xFFFFFFFF), got)

	got2 := CRC16CCITTFalse.Compute([]byte{0x01, 0x02}, 10, 1, 0xFFFF)
	require.Equal(t, uint64(0xFFFF), got2)
}

func TestCRC8VariantsDeterministic(t *testing.T) {
	payload := []byte("123456789")
	a := CRC8CCITT.Compute(payload, 0, len(payload), 0)
	b := CRC8CCITT.Compute(payload, 0, len(payload), 0)
	require.Equal(t, a, b)
	require.NotEqual(t, a, CRC8Maxim.Compute(payload, 0, len(payload), 0))
}
