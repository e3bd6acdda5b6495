// Package codec dispatches a compiled binding.Binding to the bit-level
// reader/writer operations that actually move bytes (spec.md §4.7). Each
// Codec works purely in "wire value" terms (uint64/int64/*big.Int/string/
// []uint64/[]bool/[]interface{}) — the convert package is what bridges a
// wire value to and from the Go struct field's own type.
package codec

import (
	"reflect"

	"github.com/foundryfieldworks/tagwire/internal/binding"
	"github.com/foundryfieldworks/tagwire/internal/bitio"
	"github.com/foundryfieldworks/tagwire/internal/checksum"
	"github.com/foundryfieldworks/tagwire/internal/codecerr"
	"github.com/foundryfieldworks/tagwire/internal/eval"
)

// DecodeContext carries everything a Codec needs to decode one field,
// including a callback to recurse into a nested template (Object/Array
// bindings) without the codec package importing the parser package that
// drives the overall field loop.
type DecodeContext struct {
	Reader       *bitio.Reader
	Evaluator    eval.Evaluator
	RootObject   interface{}
	DecodeObject func(t reflect.Type) (interface{}, error)
}

// EncodeContext is DecodeContext's encode-side mirror.
type EncodeContext struct {
	Writer       *bitio.Writer
	Evaluator    eval.Evaluator
	RootObject   interface{}
	EncodeObject func(t reflect.Type, value interface{}) error
}

// Codec decodes/encodes exactly one binding.Kind's wire shape.
type Codec interface {
	Decode(ctx *DecodeContext, b binding.Binding) (interface{}, error)
	Encode(ctx *EncodeContext, b binding.Binding, value interface{}) error
}

// Lookup returns the Codec registered for kind. The dispatch table is a
// fixed, closed set mirroring binding.Kind — there is no open registration
// path, matching the Binding sum type it dispatches on.
func Lookup(kind binding.Kind) (Codec, error) {
	c, ok := registry[kind]
	if !ok {
		return nil, codecerr.New(codecerr.Codec, "unsupported-type", "no codec registered for binding kind "+kind.String())
	}
	return c, nil
}

var registry = map[binding.Kind]Codec{
	binding.Integer:          integerCodec{},
	binding.BitSet:           bitSetCodec{},
	binding.String:           stringCodec{},
	binding.StringTerminated: stringTerminatedCodec{},
	binding.Object:           objectCodec{},
	binding.ArrayPrimitive:   arrayPrimitiveCodec{},
	binding.Array:            arrayCodec{},
	binding.ListSeparated:    listSeparatedCodec{},
	binding.Checksum:         checksumCodec{},
}

func wrongBinding(kind binding.Kind) error {
	return codecerr.New(codecerr.Codec, "unsupported-type", "codec received mismatched binding for kind "+kind.String())
}

// ---- Integer ----

type integerCodec struct{}

func (integerCodec) Decode(ctx *DecodeContext, b binding.Binding) (interface{}, error) {
	ib, ok := b.(binding.IntegerBinding)
	if !ok {
		return nil, wrongBinding(binding.Integer)
	}
	n, err := ctx.Evaluator.EvaluateSize(ib.SizeExpr, ctx.RootObject)
	if err != nil {
		return nil, err
	}
	if n > 64 {
		return ctx.Reader.ReadBigInteger(n, ib.ByteOrder, ib.Signed)
	}
	if ib.Signed {
		return ctx.Reader.ReadInt(n, ib.ByteOrder)
	}
	return ctx.Reader.ReadUint(n, ib.ByteOrder)
}

func (integerCodec) Encode(ctx *EncodeContext, b binding.Binding, value interface{}) error {
	ib, ok := b.(binding.IntegerBinding)
	if !ok {
		return wrongBinding(binding.Integer)
	}
	n, err := ctx.Evaluator.EvaluateSize(ib.SizeExpr, ctx.RootObject)
	if err != nil {
		return err
	}
	switch v := value.(type) {
	case uint64:
		ctx.Writer.WriteUint(v, n, ib.ByteOrder)
	case int64:
		ctx.Writer.WriteInt(v, n, ib.ByteOrder)
	default:
		return codecerr.Newf(codecerr.Encode, "value-cast", "Integer codec received unsupported wire type %T", value)
	}
	return nil
}

// ---- BitSet ----

type bitSetCodec struct{}

func (bitSetCodec) Decode(ctx *DecodeContext, b binding.Binding) (interface{}, error) {
	bb, ok := b.(binding.BitSetBinding)
	if !ok {
		return nil, wrongBinding(binding.BitSet)
	}
	n, err := ctx.Evaluator.EvaluateSize(bb.SizeExpr, ctx.RootObject)
	if err != nil {
		return nil, err
	}
	return ctx.Reader.ReadBits(n)
}

func (bitSetCodec) Encode(ctx *EncodeContext, b binding.Binding, value interface{}) error {
	if _, ok := b.(binding.BitSetBinding); !ok {
		return wrongBinding(binding.BitSet)
	}
	bits, ok := value.([]bool)
	if !ok {
		return codecerr.Newf(codecerr.Encode, "value-cast", "BitSet codec received unsupported wire type %T", value)
	}
	ctx.Writer.WriteBits(bits)
	return nil
}

// ---- String ----

type stringCodec struct{}

func (stringCodec) Decode(ctx *DecodeContext, b binding.Binding) (interface{}, error) {
	sb, ok := b.(binding.StringBinding)
	if !ok {
		return nil, wrongBinding(binding.String)
	}
	n, err := ctx.Evaluator.EvaluateSize(sb.SizeExpr, ctx.RootObject)
	if err != nil {
		return nil, err
	}
	return ctx.Reader.ReadText(n, sb.Charset)
}

func (stringCodec) Encode(ctx *EncodeContext, b binding.Binding, value interface{}) error {
	sb, ok := b.(binding.StringBinding)
	if !ok {
		return wrongBinding(binding.String)
	}
	n, err := ctx.Evaluator.EvaluateSize(sb.SizeExpr, ctx.RootObject)
	if err != nil {
		return err
	}
	s, ok := value.(string)
	if !ok {
		return codecerr.Newf(codecerr.Encode, "value-cast", "String codec received unsupported wire type %T", value)
	}
	padded := []byte(s)
	if len(padded) > n {
		return codecerr.Newf(codecerr.Encode, "bad-size", "string %q exceeds declared size %d", s, n)
	}
	for len(padded) < n {
		padded = append(padded, 0)
	}
	return ctx.Writer.WriteBytes(padded)
}

// ---- StringTerminated ----

type stringTerminatedCodec struct{}

func (stringTerminatedCodec) Decode(ctx *DecodeContext, b binding.Binding) (interface{}, error) {
	sb, ok := b.(binding.StringTerminatedBinding)
	if !ok {
		return nil, wrongBinding(binding.StringTerminated)
	}
	return ctx.Reader.ReadTextUntil(sb.Terminator, sb.Charset, sb.Consume)
}

func (stringTerminatedCodec) Encode(ctx *EncodeContext, b binding.Binding, value interface{}) error {
	sb, ok := b.(binding.StringTerminatedBinding)
	if !ok {
		return wrongBinding(binding.StringTerminated)
	}
	s, ok := value.(string)
	if !ok {
		return codecerr.Newf(codecerr.Encode, "value-cast", "StringTerminated codec received unsupported wire type %T", value)
	}
	if err := ctx.Writer.WriteText(s, sb.Charset); err != nil {
		return err
	}
	ctx.Writer.WriteByte(sb.Terminator)
	return nil
}

// ---- Object (with optional prefix choice) ----

type objectCodec struct{}

// resolveAlternative reads the prefix (if any) and returns the first
// matching alternative's type.
func resolveAlternative(ctx *DecodeContext, c *binding.ChoiceSpec) (reflect.Type, error) {
	var prefix uint64
	if c.PrefixSize > 0 {
		v, err := ctx.Reader.ReadUint(c.PrefixSize, c.ByteOrder)
		if err != nil {
			return nil, err
		}
		prefix = v
		ctx.Evaluator.AddToContext(binding.PrefixVar, prefix)
		defer ctx.Evaluator.Remove(binding.PrefixVar)
	}
	for _, alt := range c.Alternatives {
		ok, err := ctx.Evaluator.EvaluateBoolean(alt.Condition, ctx.RootObject)
		if err != nil {
			return nil, err
		}
		if ok {
			return alt.Type, nil
		}
	}
	if c.DefaultType != nil {
		return c.DefaultType, nil
	}
	return nil, codecerr.Newf(codecerr.Decode, "no-match", "no choice alternative matched prefix 0x%x", prefix)
}

func resolveAlternativeForValue(c *binding.ChoiceSpec, value interface{}) (*binding.Alternative, error) {
	t := reflect.TypeOf(value)
	for i := range c.Alternatives {
		if c.Alternatives[i].Type == t {
			return &c.Alternatives[i], nil
		}
	}
	if c.DefaultType != nil && c.DefaultType == t {
		return &binding.Alternative{Type: t}, nil
	}
	return nil, codecerr.Newf(codecerr.Encode, "no-match", "no choice alternative matches value type %s", t)
}

func (objectCodec) Decode(ctx *DecodeContext, b binding.Binding) (interface{}, error) {
	ob, ok := b.(binding.ObjectBinding)
	if !ok {
		return nil, wrongBinding(binding.Object)
	}
	if ob.Choice == nil {
		return ctx.DecodeObject(ob.TypeRef)
	}
	t, err := resolveAlternative(ctx, ob.Choice)
	if err != nil {
		return nil, err
	}
	return ctx.DecodeObject(t)
}

func (objectCodec) Encode(ctx *EncodeContext, b binding.Binding, value interface{}) error {
	ob, ok := b.(binding.ObjectBinding)
	if !ok {
		return wrongBinding(binding.Object)
	}
	if ob.Choice == nil {
		return ctx.EncodeObject(ob.TypeRef, value)
	}
	alt, err := resolveAlternativeForValue(ob.Choice, value)
	if err != nil {
		return err
	}
	if ob.Choice.PrefixSize > 0 {
		ctx.Writer.WriteUint(alt.PrefixValue, ob.Choice.PrefixSize, ob.Choice.ByteOrder)
	}
	return ctx.EncodeObject(alt.Type, value)
}

// ---- ArrayPrimitive ----

type arrayPrimitiveCodec struct{}

func (arrayPrimitiveCodec) Decode(ctx *DecodeContext, b binding.Binding) (interface{}, error) {
	ab, ok := b.(binding.ArrayPrimitiveBinding)
	if !ok {
		return nil, wrongBinding(binding.ArrayPrimitive)
	}
	n, err := ctx.Evaluator.EvaluateSize(ab.SizeExpr, ctx.RootObject)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		v, err := ctx.Reader.ReadUint(ab.ElementBits, ab.ByteOrder)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (arrayPrimitiveCodec) Encode(ctx *EncodeContext, b binding.Binding, value interface{}) error {
	ab, ok := b.(binding.ArrayPrimitiveBinding)
	if !ok {
		return wrongBinding(binding.ArrayPrimitive)
	}
	elems, ok := value.([]uint64)
	if !ok {
		return codecerr.Newf(codecerr.Encode, "value-cast", "ArrayPrimitive codec received unsupported wire type %T", value)
	}
	for _, v := range elems {
		ctx.Writer.WriteUint(v, ab.ElementBits, ab.ByteOrder)
	}
	return nil
}

// ---- Array (of objects) ----

type arrayCodec struct{}

func (arrayCodec) Decode(ctx *DecodeContext, b binding.Binding) (interface{}, error) {
	ab, ok := b.(binding.ArrayBinding)
	if !ok {
		return nil, wrongBinding(binding.Array)
	}
	n, err := ctx.Evaluator.EvaluateSize(ab.SizeExpr, ctx.RootObject)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, n)
	for i := 0; i < n; i++ {
		var t reflect.Type
		if ab.Choice != nil {
			t, err = resolveAlternative(ctx, ab.Choice)
			if err != nil {
				return nil, err
			}
		} else {
			t = ab.TypeRef
		}
		elem, err := ctx.DecodeObject(t)
		if err != nil {
			return nil, err
		}
		out[i] = elem
	}
	return out, nil
}

func (arrayCodec) Encode(ctx *EncodeContext, b binding.Binding, value interface{}) error {
	ab, ok := b.(binding.ArrayBinding)
	if !ok {
		return wrongBinding(binding.Array)
	}
	elems, ok := value.([]interface{})
	if !ok {
		return codecerr.Newf(codecerr.Encode, "value-cast", "Array codec received unsupported wire type %T", value)
	}
	for _, elem := range elems {
		t := ab.TypeRef
		if ab.Choice != nil {
			alt, err := resolveAlternativeForValue(ab.Choice, elem)
			if err != nil {
				return err
			}
			if ab.Choice.PrefixSize > 0 {
				ctx.Writer.WriteUint(alt.PrefixValue, ab.Choice.PrefixSize, ab.Choice.ByteOrder)
			}
			t = alt.Type
		}
		if err := ctx.EncodeObject(t, elem); err != nil {
			return err
		}
	}
	return nil
}

// ---- ListSeparated ----

type listSeparatedCodec struct{}

func matchHeaderString(ctx *DecodeContext, alts []binding.SeparatedAlternative, charset string) (*binding.SeparatedAlternative, bool) {
	best := -1
	bestLen := 0
	for i, alt := range alts {
		ctx.Reader.CreateFallbackPoint()
		peeked, err := ctx.Reader.ReadText(len(alt.HeaderString), charset)
		ctx.Reader.RestoreFallbackPoint()
		if err != nil {
			continue
		}
		if peeked == alt.HeaderString && len(alt.HeaderString) > bestLen {
			best = i
			bestLen = len(alt.HeaderString)
		}
	}
	if best < 0 {
		return nil, false
	}
	return &alts[best], true
}

func (listSeparatedCodec) Decode(ctx *DecodeContext, b binding.Binding) (interface{}, error) {
	lb, ok := b.(binding.ListSeparatedBinding)
	if !ok {
		return nil, wrongBinding(binding.ListSeparated)
	}
	var out []interface{}
	for {
		if ctx.Reader.Remaining() == 0 {
			break
		}
		alt, found := matchHeaderString(ctx, lb.Choice.Alternatives, lb.Choice.Charset)
		if !found {
			break
		}
		if _, err := ctx.Reader.ReadText(len(alt.HeaderString), lb.Choice.Charset); err != nil {
			return nil, err
		}
		elem, err := ctx.DecodeObject(alt.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, elem)
		if ctx.Reader.Remaining() == 0 {
			break
		}
		term, err := ctx.Reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if term != lb.Choice.Terminator {
			return nil, codecerr.New(codecerr.Decode, "no-match", "ListSeparated element missing terminator")
		}
	}
	return out, nil
}

func (listSeparatedCodec) Encode(ctx *EncodeContext, b binding.Binding, value interface{}) error {
	lb, ok := b.(binding.ListSeparatedBinding)
	if !ok {
		return wrongBinding(binding.ListSeparated)
	}
	elems, ok := value.([]interface{})
	if !ok {
		return codecerr.Newf(codecerr.Encode, "value-cast", "ListSeparated codec received unsupported wire type %T", value)
	}
	for _, elem := range elems {
		t := reflect.TypeOf(elem)
		var alt *binding.SeparatedAlternative
		for i := range lb.Choice.Alternatives {
			if lb.Choice.Alternatives[i].Type == t {
				alt = &lb.Choice.Alternatives[i]
				break
			}
		}
		if alt == nil {
			return codecerr.Newf(codecerr.Encode, "no-match", "no ListSeparated alternative matches value type %s", t)
		}
		if err := ctx.Writer.WriteText(alt.HeaderString, lb.Choice.Charset); err != nil {
			return err
		}
		if err := ctx.EncodeObject(alt.Type, elem); err != nil {
			return err
		}
		ctx.Writer.WriteByte(lb.Choice.Terminator)
	}
	return nil
}

// ---- Checksum ----

// checksumCodec implements the generic Codec contract; its Encode writes
// the value it is given as-is and computes no checksum. The parser instead
// writes a placeholder via EncodeChecksumPlaceholder below and patches it
// once the covered range has been written.
type checksumCodec struct{}

func (checksumCodec) Decode(ctx *DecodeContext, b binding.Binding) (interface{}, error) {
	return DecodeChecksum(ctx, b)
}

// DecodeChecksum reads the checksum field's wire value and, if Verify is
// set, recomputes the algorithm over the full buffer's [SkipStart, len-
// SkipEnd) range and rejects a mismatch.
func DecodeChecksum(ctx *DecodeContext, b binding.Binding) (interface{}, error) {
	cb, ok := b.(binding.ChecksumBinding)
	if !ok {
		return nil, wrongBinding(binding.Checksum)
	}
	width := cb.Algorithm.Width()
	val, err := ctx.Reader.ReadUint(width, cb.ByteOrder)
	if err != nil {
		return nil, err
	}
	if cb.Verify {
		data := ctx.Reader.Bytes()
		end := len(data) - cb.SkipEnd
		computed := checksum.ComputeDefault(cb.Algorithm, data, cb.SkipStart, end)
		if computed != val {
			return nil, codecerr.Newf(codecerr.Decode, "checksum", "checksum mismatch: got 0x%x, computed 0x%x", val, computed)
		}
	}
	return val, nil
}

func (checksumCodec) Encode(ctx *EncodeContext, b binding.Binding, value interface{}) error {
	cb, ok := b.(binding.ChecksumBinding)
	if !ok {
		return wrongBinding(binding.Checksum)
	}
	v, ok := value.(uint64)
	if !ok {
		return codecerr.Newf(codecerr.Encode, "value-cast", "Checksum codec received unsupported wire type %T", value)
	}
	ctx.Writer.WriteUint(v, cb.Algorithm.Width(), cb.ByteOrder)
	return nil
}

// ChecksumPatch, returned by EncodeChecksumPlaceholder, recomputes and
// overwrites the placeholder once the rest of the message has been
// written (spec.md §4.11's write-zero/compute/overwrite sequence).
type ChecksumPatch func(finalBytes []byte) error

// EncodeChecksumPlaceholder writes a zero placeholder for the checksum
// field and returns a closure the caller invokes once the remainder of the
// message (and anything SkipEnd excludes) has also been written.
func EncodeChecksumPlaceholder(ctx *EncodeContext, b binding.Binding) (ChecksumPatch, error) {
	cb, ok := b.(binding.ChecksumBinding)
	if !ok {
		return nil, wrongBinding(binding.Checksum)
	}
	offset := ctx.Writer.Position()
	width := cb.Algorithm.Width()
	ctx.Writer.WriteUint(0, width, cb.ByteOrder)

	widthBytes := (width + 7) / 8

	return func(finalBytes []byte) error {
		end := len(finalBytes) - cb.SkipEnd
		computed := checksum.ComputeDefault(cb.Algorithm, finalBytes, cb.SkipStart, end)
		tmp := bitio.NewWriter()
		tmp.WriteUint(computed, width, cb.ByteOrder)
		patch := tmp.Flush()
		if len(patch) != widthBytes {
			return codecerr.New(codecerr.Encode, "checksum", "checksum width is not byte-aligned")
		}
		return ctx.Writer.OverwriteBytes(offset, patch)
	}, nil
}
