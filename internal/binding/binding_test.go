package binding

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foundryfieldworks/tagwire/internal/bitio"
	"github.com/foundryfieldworks/tagwire/internal/checksum"
	"github.com/foundryfieldworks/tagwire/internal/datatype"
)

type dummy struct{}

var dummyType = reflect.TypeOf(dummy{})

func TestKindStrings(t *testing.T) {
	cases := []struct {
		k    Kind
		want string
	}{
		{Integer, "Integer"},
		{BitSet, "BitSet"},
		{String, "String"},
		{StringTerminated, "StringTerminated"},
		{Object, "Object"},
		{ArrayPrimitive, "ArrayPrimitive"},
		{Array, "Array"},
		{ListSeparated, "ListSeparated"},
		{Checksum, "Checksum"},
		{Kind(99), "Unknown"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.k.String())
	}
}

func TestIntegerBindingValidate(t *testing.T) {
	require.NoError(t, IntegerBinding{SizeExpr: "16", ByteOrder: bitio.BigEndian}.Validate())
	require.Error(t, IntegerBinding{}.Validate())
	require.Equal(t, Integer, IntegerBinding{}.Kind())
}

func TestBitSetBindingValidate(t *testing.T) {
	require.NoError(t, BitSetBinding{SizeExpr: "8"}.Validate())
	require.Error(t, BitSetBinding{}.Validate())
}

func TestStringBindingValidate(t *testing.T) {
	require.NoError(t, StringBinding{SizeExpr: "4", Charset: "ASCII"}.Validate())
	require.Error(t, StringBinding{}.Validate())
}

func TestStringTerminatedBindingNeverRequiresSize(t *testing.T) {
	require.NoError(t, StringTerminatedBinding{Terminator: 0x00}.Validate())
}

func TestArrayPrimitiveBindingValidate(t *testing.T) {
	valid := ArrayPrimitiveBinding{ElementKind: datatype.Byte, ElementBits: 8, SizeExpr: "4"}
	require.NoError(t, valid.Validate())

	require.Error(t, ArrayPrimitiveBinding{ElementKind: datatype.Byte, ElementBits: 8}.Validate())
	require.Error(t, ArrayPrimitiveBinding{ElementKind: datatype.Byte, SizeExpr: "4"}.Validate())
}

func TestObjectBindingRequiresTypeOrChoice(t *testing.T) {
	require.Error(t, ObjectBinding{}.Validate())
	require.NoError(t, ObjectBinding{TypeRef: dummyType}.Validate())
}

func TestArrayBindingValidate(t *testing.T) {
	require.Error(t, ArrayBinding{}.Validate())
	require.Error(t, ArrayBinding{SizeExpr: "3"}.Validate())
	require.NoError(t, ArrayBinding{SizeExpr: "3", TypeRef: dummyType}.Validate())
}

func TestChecksumBindingValidate(t *testing.T) {
	require.Error(t, ChecksumBinding{}.Validate())
	require.NoError(t, ChecksumBinding{Algorithm: checksum.CRC16CCITTFalse}.Validate())
	require.Error(t, ChecksumBinding{Algorithm: checksum.CRC16CCITTFalse, SkipStart: -1}.Validate())
}

// I1: a ChoiceSpec with prefixSize>0 requires every alternative's condition
// to reference "prefix"; with prefixSize==0, none may.
func TestChoiceSpecPrefixInvariant(t *testing.T) {
	withPrefix := ChoiceSpec{
		PrefixSize: 8,
		Alternatives: []Alternative{
			{Condition: "prefix == 1", Type: dummyType},
		},
	}
	require.NoError(t, withPrefix.Validate())

	missingRef := ChoiceSpec{
		PrefixSize: 8,
		Alternatives: []Alternative{
			{Condition: "messageType == 1", Type: dummyType},
		},
	}
	require.Error(t, missingRef.Validate())

	noPrefixButReferenced := ChoiceSpec{
		PrefixSize: 0,
		Alternatives: []Alternative{
			{Condition: "prefix == 1", Type: dummyType},
		},
	}
	require.Error(t, noPrefixButReferenced.Validate())

	noPrefixOK := ChoiceSpec{
		PrefixSize: 0,
		Alternatives: []Alternative{
			{Condition: "messageType == 1", Type: dummyType},
		},
	}
	require.NoError(t, noPrefixOK.Validate())
}

func TestChoiceSpecRejectsOutOfRangePrefixSize(t *testing.T) {
	require.Error(t, ChoiceSpec{PrefixSize: -1}.Validate())
	require.Error(t, ChoiceSpec{PrefixSize: 33}.Validate())
}

func TestChoiceSpecRejectsAlternativeWithNoType(t *testing.T) {
	c := ChoiceSpec{
		PrefixSize:   8,
		Alternatives: []Alternative{{Condition: "prefix == 1"}},
	}
	require.Error(t, c.Validate())
}

func TestSeparatedChoiceSpecValidate(t *testing.T) {
	require.Error(t, SeparatedChoiceSpec{}.Validate())

	ok := SeparatedChoiceSpec{
		Terminator: '\n',
		Alternatives: []SeparatedAlternative{
			{HeaderString: "GTFRI", Type: dummyType},
		},
	}
	require.NoError(t, ok.Validate())

	missingHeader := SeparatedChoiceSpec{
		Terminator:   '\n',
		Alternatives: []SeparatedAlternative{{Type: dummyType}},
	}
	require.Error(t, missingHeader.Validate())

	missingType := SeparatedChoiceSpec{
		Terminator:   '\n',
		Alternatives: []SeparatedAlternative{{HeaderString: "GTFRI"}},
	}
	require.Error(t, missingType.Validate())
}

func TestListSeparatedBindingValidateDelegatesToChoice(t *testing.T) {
	b := ListSeparatedBinding{Choice: SeparatedChoiceSpec{
		Terminator:   '\n',
		Alternatives: []SeparatedAlternative{{HeaderString: "GTFRI", Type: dummyType}},
	}}
	require.NoError(t, b.Validate())
	require.Equal(t, ListSeparated, b.Kind())

	require.Error(t, ListSeparatedBinding{}.Validate())
}
