package codec

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foundryfieldworks/tagwire/internal/binding"
	"github.com/foundryfieldworks/tagwire/internal/bitio"
	"github.com/foundryfieldworks/tagwire/internal/checksum"
	"github.com/foundryfieldworks/tagwire/internal/eval/celeval"
)

func TestIntegerCodecRoundTrip(t *testing.T) {
	b := binding.IntegerBinding{SizeExpr: "16", ByteOrder: bitio.BigEndian}

	w := bitio.NewWriter()
	ectx := &EncodeContext{Writer: w, Evaluator: celeval.New()}
	require.NoError(t, integerCodec{}.Encode(ectx, b, uint64(0x1234)))

	r := bitio.NewReader(w.Flush())
	dctx := &DecodeContext{Reader: r, Evaluator: celeval.New()}
	v, err := integerCodec{}.Decode(dctx, b)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1234), v)
}

func TestIntegerCodecSignedRoundTrip(t *testing.T) {
	b := binding.IntegerBinding{SizeExpr: "8", ByteOrder: bitio.BigEndian, Signed: true}

	w := bitio.NewWriter()
	ectx := &EncodeContext{Writer: w, Evaluator: celeval.New()}
	require.NoError(t, integerCodec{}.Encode(ectx, b, int64(-5)))

	r := bitio.NewReader(w.Flush())
	dctx := &DecodeContext{Reader: r, Evaluator: celeval.New()}
	v, err := integerCodec{}.Decode(dctx, b)
	require.NoError(t, err)
	require.Equal(t, int64(-5), v)
}

func TestIntegerCodecRejectsWrongBinding(t *testing.T) {
	_, err := integerCodec{}.Decode(&DecodeContext{Evaluator: celeval.New()}, binding.BitSetBinding{SizeExpr: "8"})
	require.Error(t, err)
}

func TestBitSetCodecRoundTrip(t *testing.T) {
	b := binding.BitSetBinding{SizeExpr: "4"}
	bits := []bool{true, false, true, true}

	w := bitio.NewWriter()
	require.NoError(t, bitSetCodec{}.Encode(&EncodeContext{Writer: w}, b, bits))

	r := bitio.NewReader(w.Flush())
	dctx := &DecodeContext{Reader: r, Evaluator: celeval.New()}
	got, err := bitSetCodec{}.Decode(dctx, b)
	require.NoError(t, err)
	require.Equal(t, bits, got)
}

func TestStringCodecRoundTrip(t *testing.T) {
	b := binding.StringBinding{SizeExpr: "5", Charset: "ASCII"}

	w := bitio.NewWriter()
	ectx := &EncodeContext{Writer: w, Evaluator: celeval.New()}
	require.NoError(t, stringCodec{}.Encode(ectx, b, "hi"))

	r := bitio.NewReader(w.Flush())
	dctx := &DecodeContext{Reader: r, Evaluator: celeval.New()}
	got, err := stringCodec{}.Decode(dctx, b)
	require.NoError(t, err)
	require.Equal(t, "hi\x00\x00\x00", got)
}

func TestStringCodecEncodeRejectsOversized(t *testing.T) {
	b := binding.StringBinding{SizeExpr: "2", Charset: "ASCII"}
	w := bitio.NewWriter()
	ectx := &EncodeContext{Writer: w, Evaluator: celeval.New()}
	err := stringCodec{}.Encode(ectx, b, "too long")
	require.Error(t, err)
}

func TestStringTerminatedCodecRoundTrip(t *testing.T) {
	b := binding.StringTerminatedBinding{Terminator: ',', Consume: true}

	w := bitio.NewWriter()
	ectx := &EncodeContext{Writer: w}
	require.NoError(t, stringTerminatedCodec{}.Encode(ectx, b, "GTFRI"))

	r := bitio.NewReader(w.Flush())
	dctx := &DecodeContext{Reader: r}
	got, err := stringTerminatedCodec{}.Decode(dctx, b)
	require.NoError(t, err)
	require.Equal(t, "GTFRI", got)
}

type objVariantA struct{ A uint64 }
type objVariantB struct{ B uint64 }

func TestObjectCodecWithoutChoiceDelegatesToDecodeObject(t *testing.T) {
	typeRef := reflect.TypeOf(objVariantA{})
	b := binding.ObjectBinding{TypeRef: typeRef}

	called := false
	dctx := &DecodeContext{
		DecodeObject: func(tr reflect.Type) (interface{}, error) {
			called = true
			require.Equal(t, typeRef, tr)
			return &objVariantA{A: 9}, nil
		},
	}
	v, err := objectCodec{}.Decode(dctx, b)
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, &objVariantA{A: 9}, v)
}

func TestObjectCodecChoiceSelectsAlternativeByPrefix(t *testing.T) {
	aType := reflect.TypeOf(objVariantA{})
	bType := reflect.TypeOf(objVariantB{})
	choice := &binding.ChoiceSpec{
		PrefixSize: 2,
		ByteOrder:  bitio.BigEndian,
		Alternatives: []binding.Alternative{
			{Condition: "prefix == 0", PrefixValue: 0, Type: aType},
			{Condition: "prefix == 1", PrefixValue: 1, Type: bType},
		},
	}
	b := binding.ObjectBinding{Choice: choice}

	w := bitio.NewWriter()
	w.WriteUint(1, 2, bitio.BigEndian)
	r := bitio.NewReader(w.Flush())

	var decodedType reflect.Type
	dctx := &DecodeContext{
		Reader:    r,
		Evaluator: celeval.New(),
		DecodeObject: func(tr reflect.Type) (interface{}, error) {
			decodedType = tr
			return &objVariantB{B: 1}, nil
		},
	}
	_, err := objectCodec{}.Decode(dctx, b)
	require.NoError(t, err)
	require.Equal(t, bType, decodedType)
}

func TestObjectCodecChoiceEncodeWritesPrefixForMatchingType(t *testing.T) {
	aType := reflect.TypeOf(objVariantA{})
	bType := reflect.TypeOf(objVariantB{})
	choice := &binding.ChoiceSpec{
		PrefixSize: 2,
		ByteOrder:  bitio.BigEndian,
		Alternatives: []binding.Alternative{
			{Condition: "prefix == 0", PrefixValue: 0, Type: aType},
			{Condition: "prefix == 1", PrefixValue: 1, Type: bType},
		},
	}
	b := binding.ObjectBinding{Choice: choice}

	w := bitio.NewWriter()
	ectx := &EncodeContext{
		Writer: w,
		EncodeObject: func(tr reflect.Type, value interface{}) error {
			require.Equal(t, bType, tr)
			return nil
		},
	}
	require.NoError(t, objectCodec{}.Encode(ectx, b, objVariantB{B: 1}))

	r := bitio.NewReader(w.Flush())
	prefix, err := r.ReadUint(2, bitio.BigEndian)
	require.NoError(t, err)
	require.Equal(t, uint64(1), prefix)
}

func TestObjectCodecEncodeRejectsUnmatchedValueType(t *testing.T) {
	aType := reflect.TypeOf(objVariantA{})
	choice := &binding.ChoiceSpec{
		PrefixSize:   2,
		Alternatives: []binding.Alternative{{Condition: "prefix == 0", Type: aType}},
	}
	b := binding.ObjectBinding{Choice: choice}
	err := objectCodec{}.Encode(&EncodeContext{Writer: bitio.NewWriter()}, b, "not-a-registered-type")
	require.Error(t, err)
}

func TestArrayPrimitiveCodecRoundTrip(t *testing.T) {
	b := binding.ArrayPrimitiveBinding{ElementBits: 8, ByteOrder: bitio.BigEndian, SizeExpr: "3"}

	w := bitio.NewWriter()
	ectx := &EncodeContext{Writer: w, Evaluator: celeval.New()}
	require.NoError(t, arrayPrimitiveCodec{}.Encode(ectx, b, []uint64{10, 20, 30}))

	r := bitio.NewReader(w.Flush())
	dctx := &DecodeContext{Reader: r, Evaluator: celeval.New()}
	got, err := arrayPrimitiveCodec{}.Decode(dctx, b)
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 20, 30}, got)
}

func TestArrayCodecDecodesEachElementThroughChoice(t *testing.T) {
	aType := reflect.TypeOf(objVariantA{})
	bType := reflect.TypeOf(objVariantB{})
	choice := &binding.ChoiceSpec{
		PrefixSize: 1,
		ByteOrder:  bitio.BigEndian,
		Alternatives: []binding.Alternative{
			{Condition: "prefix == 0", PrefixValue: 0, Type: aType},
			{Condition: "prefix == 1", PrefixValue: 1, Type: bType},
		},
	}
	ab := binding.ArrayBinding{SizeExpr: "2", Choice: choice}

	w := bitio.NewWriter()
	w.WriteUint(0, 1, bitio.BigEndian)
	w.WriteUint(1, 1, bitio.BigEndian)
	r := bitio.NewReader(w.Flush())

	var decodedTypes []reflect.Type
	dctx := &DecodeContext{
		Reader:    r,
		Evaluator: celeval.New(),
		DecodeObject: func(tr reflect.Type) (interface{}, error) {
			decodedTypes = append(decodedTypes, tr)
			return reflect.New(tr).Interface(), nil
		},
	}
	got, err := arrayCodec{}.Decode(dctx, ab)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []reflect.Type{aType, bType}, decodedTypes)
}

func TestListSeparatedCodecMatchesLongestHeader(t *testing.T) {
	short := reflect.TypeOf(objVariantA{})
	long := reflect.TypeOf(objVariantB{})
	choice := binding.SeparatedChoiceSpec{
		Terminator: ',',
		Alternatives: []binding.SeparatedAlternative{
			{HeaderString: "GT", Type: short},
			{HeaderString: "GTFRI", Type: long},
		},
	}
	lb := binding.ListSeparatedBinding{Choice: choice}

	data := []byte("GTFRI,")
	r := bitio.NewReader(data)
	var decoded reflect.Type
	dctx := &DecodeContext{
		Reader: r,
		DecodeObject: func(tr reflect.Type) (interface{}, error) {
			decoded = tr
			return reflect.New(tr).Interface(), nil
		},
	}
	got, err := listSeparatedCodec{}.Decode(dctx, lb)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, long, decoded)
}

func TestListSeparatedCodecRejectsMissingTerminator(t *testing.T) {
	typ := reflect.TypeOf(objVariantA{})
	choice := binding.SeparatedChoiceSpec{
		Terminator:   ',',
		Alternatives: []binding.SeparatedAlternative{{HeaderString: "GT", Type: typ}},
	}
	lb := binding.ListSeparatedBinding{Choice: choice}

	r := bitio.NewReader([]byte("GTx"))
	dctx := &DecodeContext{
		Reader: r,
		DecodeObject: func(tr reflect.Type) (interface{}, error) {
			return reflect.New(tr).Interface(), nil
		},
	}
	_, err := listSeparatedCodec{}.Decode(dctx, lb)
	require.Error(t, err)
}

// TestChecksumDecodeVerifiesCRC32ReferenceVector reproduces spec.md §8
// scenario 4: CRC-32 of "123456789" is 0xCBF43926.
func TestChecksumDecodeVerifiesCRC32ReferenceVector(t *testing.T) {
	payload := []byte("123456789")
	full := append(append([]byte(nil), payload...), 0xCB, 0xF4, 0x39, 0x26)

	b := binding.ChecksumBinding{Algorithm: checksum.CRC32, ByteOrder: bitio.BigEndian, Verify: true, SkipEnd: 4}
	r := bitio.NewReader(full)
	require.NoError(t, r.SkipBits(len(payload)*8))
	dctx := &DecodeContext{Reader: r}

	v, err := DecodeChecksum(dctx, b)
	require.NoError(t, err)
	require.Equal(t, uint64(0xCBF43926), v)
}

func TestChecksumDecodeRejectsMismatch(t *testing.T) {
	payload := []byte("123456789")
	full := append(append([]byte(nil), payload...), 0x00, 0x00, 0x00, 0x00)

	b := binding.ChecksumBinding{Algorithm: checksum.CRC32, ByteOrder: bitio.BigEndian, Verify: true, SkipEnd: 4}
	r := bitio.NewReader(full)
	require.NoError(t, r.SkipBits(len(payload)*8))
	dctx := &DecodeContext{Reader: r}

	_, err := DecodeChecksum(dctx, b)
	require.Error(t, err)
}

func TestEncodeChecksumPlaceholderThenPatchProducesVerifiableChecksum(t *testing.T) {
	b := binding.ChecksumBinding{Algorithm: checksum.CRC16CCITTFalse, ByteOrder: bitio.BigEndian, Verify: true, SkipEnd: 2}

	w := bitio.NewWriter()
	require.NoError(t, w.WriteBytes([]byte("123456789")))
	patch, err := EncodeChecksumPlaceholder(&EncodeContext{Writer: w}, b)
	require.NoError(t, err)

	final := w.Flush()
	require.NoError(t, patch(final))
	patched := w.Bytes()

	r := bitio.NewReader(append(append([]byte(nil), patched...)))
	require.NoError(t, r.SkipBits(9*8))
	dctx := &DecodeContext{Reader: r}
	v, err := DecodeChecksum(dctx, b)
	require.NoError(t, err)
	require.Equal(t, uint64(0x29B1), v)
}

func TestLookupUnsupportedKindReturnsError(t *testing.T) {
	_, err := Lookup(binding.Kind(99))
	require.Error(t, err)
}

func TestLookupReturnsRegisteredCodecForEveryKind(t *testing.T) {
	kinds := []binding.Kind{
		binding.Integer, binding.BitSet, binding.String, binding.StringTerminated,
		binding.Object, binding.ArrayPrimitive, binding.Array, binding.ListSeparated, binding.Checksum,
	}
	for _, k := range kinds {
		c, err := Lookup(k)
		require.NoError(t, err)
		require.NotNil(t, c)
	}
}
