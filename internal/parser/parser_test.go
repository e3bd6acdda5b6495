package parser

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foundryfieldworks/tagwire/internal/binding"
	"github.com/foundryfieldworks/tagwire/internal/bitio"
	"github.com/foundryfieldworks/tagwire/internal/checksum"
	"github.com/foundryfieldworks/tagwire/internal/dispatch"
	"github.com/foundryfieldworks/tagwire/internal/eval/celeval"
	"github.com/foundryfieldworks/tagwire/internal/template"
)

type ackMessage struct {
	Kind    uint64
	Length  uint64
	Payload []uint64
	Crc     uint64
}

func compileAckTemplate(t *testing.T) *template.Template {
	t.Helper()
	d := template.Descriptor{
		Type: reflect.TypeOf(ackMessage{}),
		Header: &template.HeaderDescriptor{
			Starts: [][]byte{{0xAA}},
		},
		Fields: []template.FieldDescriptor{
			{Name: "Kind", Binding: binding.IntegerBinding{SizeExpr: "8", ByteOrder: bitio.BigEndian}},
			{Name: "Length", Binding: binding.IntegerBinding{SizeExpr: "8", ByteOrder: bitio.BigEndian}},
			{
				Name: "Payload",
				Binding: binding.ArrayPrimitiveBinding{
					ElementBits: 8,
					ByteOrder:   bitio.BigEndian,
					SizeExpr:    "int(self.Length)",
				},
			},
			{
				Name: "Crc",
				Binding: binding.ChecksumBinding{
					Algorithm: checksum.CRC16CCITTFalse,
					ByteOrder: bitio.BigEndian,
					Verify:    true,
					SkipEnd:   2,
				},
			},
		},
	}
	tmpl, err := template.Compile(d)
	require.NoError(t, err)
	return tmpl
}

func TestComposeThenParseRoundTrips(t *testing.T) {
	tmpl := compileAckTemplate(t)
	reg := dispatch.NewRegistry()
	p := New(reg, celeval.New())
	require.NoError(t, p.RegisterTemplate(tmpl))

	msg := &ackMessage{Kind: 1, Length: 3, Payload: []uint64{10, 20, 30}}
	composed := p.Compose(msg)
	require.NoError(t, composed.Err)
	require.NotEmpty(t, composed.Bytes)
	require.Equal(t, byte(0xAA), composed.Bytes[0])

	resp := p.Parse(composed.Bytes)
	require.Len(t, resp.Messages, 1)
	require.NoError(t, resp.Messages[0].Err)

	got, ok := resp.Messages[0].Object.(*ackMessage)
	require.True(t, ok)
	require.Equal(t, uint64(1), got.Kind)
	require.Equal(t, uint64(3), got.Length)
	require.Equal(t, []uint64{10, 20, 30}, got.Payload)
	require.NotZero(t, got.Crc)
}

func TestParseDetectsChecksumMismatch(t *testing.T) {
	tmpl := compileAckTemplate(t)
	reg := dispatch.NewRegistry()
	p := New(reg, celeval.New())
	require.NoError(t, p.RegisterTemplate(tmpl))

	msg := &ackMessage{Kind: 1, Length: 2, Payload: []uint64{5, 6}}
	composed := p.Compose(msg)
	require.NoError(t, composed.Err)

	corrupted := append([]byte(nil), composed.Bytes...)
	corrupted[2] ^= 0xFF // flip the first payload byte

	resp := p.Parse(corrupted)
	require.Len(t, resp.Messages, 1)
	require.Error(t, resp.Messages[0].Err)
}

func TestObjectChoiceByPrefixSelectsAlternative(t *testing.T) {
	type variantA struct{ A uint64 }
	type variantB struct{ B uint64 }
	type envelope struct {
		Payload interface{}
	}

	aType := reflect.TypeOf(variantA{})
	bType := reflect.TypeOf(variantB{})

	aTmpl, err := template.Compile(template.Descriptor{
		Type: aType,
		Fields: []template.FieldDescriptor{
			{Name: "A", Binding: binding.IntegerBinding{SizeExpr: "8", ByteOrder: bitio.BigEndian}},
		},
	})
	require.NoError(t, err)
	bTmpl, err := template.Compile(template.Descriptor{
		Type: bType,
		Fields: []template.FieldDescriptor{
			{Name: "B", Binding: binding.IntegerBinding{SizeExpr: "8", ByteOrder: bitio.BigEndian}},
		},
	})
	require.NoError(t, err)

	envTmpl, err := template.Compile(template.Descriptor{
		Type: reflect.TypeOf(envelope{}),
		Fields: []template.FieldDescriptor{
			{
				Name: "Payload",
				Binding: binding.ObjectBinding{
					Choice: &binding.ChoiceSpec{
						PrefixSize: 2,
						ByteOrder:  bitio.BigEndian,
						Alternatives: []binding.Alternative{
							{Condition: "prefix == 1", PrefixValue: 1, Type: aType},
							{Condition: "prefix == 2", PrefixValue: 2, Type: bType},
						},
					},
				},
			},
		},
	})
	require.NoError(t, err)

	reg := dispatch.NewRegistry()
	p := New(reg, celeval.New())
	require.NoError(t, p.RegisterTemplate(aTmpl))
	require.NoError(t, p.RegisterTemplate(bTmpl))
	require.NoError(t, p.RegisterTemplate(envTmpl))

	composed := p.Compose(&envelope{Payload: variantB{B: 7}})
	require.NoError(t, composed.Err)

	// envelope declares no header, so it is reached the way a nested choice
	// field is in practice: through the lower-level reader-driven entry
	// point rather than header-based dispatch.
	decoded, err := p.decodeWithReader(envTmpl, bitio.NewReader(composed.Bytes))
	require.NoError(t, err)

	got, ok := decoded.(*envelope)
	require.True(t, ok)
	b, ok := got.Payload.(*variantB)
	require.True(t, ok)
	require.Equal(t, uint64(7), b.B)
}
