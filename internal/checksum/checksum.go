// Package checksum implements the BSD-8/16 accumulators and the
// parameterized CRC family (spec.md §4.5), each exposed as an immutable
// Algorithm that computes over an arbitrary [start, end) byte range.
package checksum

// Algorithm computes a checksum over data[start:end], seeded with
// startValue. Width reports the algorithm's bit width, used by the
// Checksum binding to size the wire field.
type Algorithm interface {
	Width() int
	// InitialValue is the algorithm's configured start value (0 for the
	// BSD family unless the caller overrides it per spec.md §6).
	InitialValue() uint64
	Compute(data []byte, start, end int, startValue uint64) uint64
}

// ComputeDefault computes using the algorithm's own InitialValue, the
// common case for a Checksum binding.
func ComputeDefault(alg Algorithm, data []byte, start, end int) uint64 {
	return alg.Compute(data, start, end, alg.InitialValue())
}

// clipRange clamps [start, end) to data's bounds the way spec.md B5 expects:
// an out-of-range window (skipStart+skipEnd >= totalLen) degrades to a
// zero-byte computation, not a panic.
func clipRange(data []byte, start, end int) []byte {
	if start < 0 {
		start = 0
	}
	if end > len(data) {
		end = len(data)
	}
	if start >= end {
		return nil
	}
	return data[start:end]
}

// ---- BSD family ----

type bsd struct {
	width int
}

// BSD16 is the 16-bit circular-right-shift-and-add accumulator.
var BSD16 Algorithm = bsd{width: 16}

// BSD8 is the 8-bit variant.
var BSD8 Algorithm = bsd{width: 8}

func (b bsd) Width() int          { return b.width }
func (b bsd) InitialValue() uint64 { return 0 }

func (b bsd) Compute(data []byte, start, end int, startValue uint64) uint64 {
	window := clipRange(data, start, end)
	v := startValue
	if b.width == 16 {
		v &= 0xFFFF
		for _, by := range window {
			v = (v >> 1) + ((v & 1) << 15) + uint64(by)
			v &= 0xFFFF
		}
		return v
	}
	v &= 0xFF
	for _, by := range window {
		v = (v >> 1) + ((v & 1) << 7) + uint64(by)
		v &= 0xFF
	}
	return v
}

// ---- Generic CRC ----

// CRCParams fully parameterizes a CRC algorithm (spec.md §4.5/§6).
type CRCParams struct {
	Width         int
	Polynomial    uint64
	InitialValue  uint64
	ReflectInput  bool
	ReflectOutput bool
	XorOutput     uint64
}

type crc struct {
	params CRCParams
	mask   uint64
}

// NewCRC builds a CRC Algorithm from params. The computation is the
// classic bit-serial LFSR form (one input bit consumed per shift), which
// is correct for any width >= 1, not just byte multiples — it is the
// hardware-shift-register model a table-driven byte-at-a-time CRC is a
// speed optimization of.
func NewCRC(params CRCParams) Algorithm {
	return &crc{params: params, mask: maskFor(params.Width)}
}

func maskFor(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(width)) - 1
}

// Reflect reverses the low n bits of v.
func Reflect(v uint64, n int) uint64 {
	var out uint64
	for i := 0; i < n; i++ {
		if v&(1<<uint(i)) != 0 {
			out |= 1 << uint(n-1-i)
		}
	}
	return out
}

func (c *crc) Width() int           { return c.params.Width }
func (c *crc) InitialValue() uint64 { return c.params.InitialValue }

func (c *crc) Compute(data []byte, start, end int, startValue uint64) uint64 {
	window := clipRange(data, start, end)
	topBit := uint64(1) << uint(c.params.Width-1)
	reg := startValue & c.mask

	for _, raw := range window {
		b := raw
		if c.params.ReflectInput {
			b = byte(Reflect(uint64(raw), 8))
		}
		for i := 0; i < 8; i++ {
			inBit := (uint64(b) >> uint(7-i)) & 1
			reg ^= inBit << uint(c.params.Width-1)
			if reg&topBit != 0 {
				reg = (reg << 1) ^ c.params.Polynomial
			} else {
				reg <<= 1
			}
			reg &= c.mask
		}
	}

	if c.params.ReflectOutput {
		reg = Reflect(reg, c.params.Width)
	}
	return (reg ^ c.params.XorOutput) & c.mask
}

// Standard presets, reference vectors per spec.md §6.
var (
	CRC7 = NewCRC(CRCParams{Width: 7, Polynomial: 0x09, InitialValue: 0x00})

	CRC8CCITT = NewCRC(CRCParams{Width: 8, Polynomial: 0x07, InitialValue: 0x00})

	CRC8Maxim = NewCRC(CRCParams{
		Width: 8, Polynomial: 0x31, InitialValue: 0x00,
		ReflectInput: true, ReflectOutput: true,
	})

	// CRC16CCITTXModem: init 0x0000, no reflect, no xor-out.
	CRC16CCITTXModem = NewCRC(CRCParams{Width: 16, Polynomial: 0x1021, InitialValue: 0x0000})

	// CRC16CCITTFalse: init 0xFFFF, no reflect, no xor-out.
	CRC16CCITTFalse = NewCRC(CRCParams{Width: 16, Polynomial: 0x1021, InitialValue: 0xFFFF})

	// CRC16IBM (ARC): reflected, init 0x0000.
	CRC16IBM = NewCRC(CRCParams{
		Width: 16, Polynomial: 0x8005, InitialValue: 0x0000,
		ReflectInput: true, ReflectOutput: true,
	})

	// CRC32: reflected, init 0xFFFFFFFF, xor-out 0xFFFFFFFF.
	CRC32 = NewCRC(CRCParams{
		Width: 32, Polynomial: 0x04C11DB7, InitialValue: 0xFFFFFFFF,
		ReflectInput: true, ReflectOutput: true, XorOutput: 0xFFFFFFFF,
	})
)
