// Package binding defines the closed set of wire-shape binding kinds
// (spec.md §3) as a tagged-variant sum type: one concrete struct per kind,
// all implementing the Binding marker interface so the codec dispatch
// table (package codec) can switch on Kind() instead of an open class
// hierarchy of annotations.
package binding

import (
	"reflect"

	"github.com/foundryfieldworks/tagwire/internal/checksum"
	"github.com/foundryfieldworks/tagwire/internal/codecerr"
	"github.com/foundryfieldworks/tagwire/internal/datatype"
	"github.com/foundryfieldworks/tagwire/internal/eval"
	"github.com/foundryfieldworks/tagwire/internal/bitio"
)

// Kind discriminates the closed set of binding shapes.
type Kind int

const (
	Integer Kind = iota
	BitSet
	String
	StringTerminated
	Object
	ArrayPrimitive
	Array
	ListSeparated
	Checksum
)

func (k Kind) String() string {
	switch k {
	case Integer:
		return "Integer"
	case BitSet:
		return "BitSet"
	case String:
		return "String"
	case StringTerminated:
		return "StringTerminated"
	case Object:
		return "Object"
	case ArrayPrimitive:
		return "ArrayPrimitive"
	case Array:
		return "Array"
	case ListSeparated:
		return "ListSeparated"
	case Checksum:
		return "Checksum"
	default:
		return "Unknown"
	}
}

// Binding is the marker interface every binding-kind struct implements.
type Binding interface {
	Kind() Kind
	// Validate checks the binding's own structural invariants (sizes,
	// charset names, choice/prefix consistency) at template-load time,
	// raising codecerr.Annotation on failure.
	Validate() error
}

// PrefixVar is the well-known context-variable name an alternative's
// condition may reference to read the just-decoded choice prefix
// (spec.md §3 ChoiceSpec).
const PrefixVar = "prefix"

func annotationErr(reason, msg string) *codecerr.Error {
	return codecerr.New(codecerr.Annotation, reason, msg)
}

// ---- Integer ----

// IntegerBinding reads/writes a bit-packed integer of a runtime-evaluated
// size.
type IntegerBinding struct {
	SizeExpr  string
	ByteOrder bitio.ByteOrder
	// Signed defaults to false; per spec.md's open question, the engine
	// exposes both paths and the template compiler defaults Signed to
	// true only when the declared Go field type is itself signed.
	Signed bool
}

func (IntegerBinding) Kind() Kind { return Integer }

func (b IntegerBinding) Validate() error {
	if eval.IsBlank(b.SizeExpr) {
		return annotationErr("bad-size", "Integer binding requires a size expression")
	}
	return nil
}

// ---- BitSet ----

// BitSetBinding reads/writes a raw little-endian-ordered bit set of a
// runtime-evaluated size.
type BitSetBinding struct {
	SizeExpr string
}

func (BitSetBinding) Kind() Kind { return BitSet }

func (b BitSetBinding) Validate() error {
	if eval.IsBlank(b.SizeExpr) {
		return annotationErr("bad-size", "BitSet binding requires a size expression")
	}
	return nil
}

// ---- String (fixed size) ----

// StringBinding reads/writes a fixed-size, charset-decoded string.
type StringBinding struct {
	SizeExpr string
	Charset  string
}

func (StringBinding) Kind() Kind { return String }

func (b StringBinding) Validate() error {
	if eval.IsBlank(b.SizeExpr) {
		return annotationErr("bad-size", "String binding requires a size expression")
	}
	return nil
}

// ---- StringTerminated ----

// StringTerminatedBinding reads/writes a string up to a terminator byte.
type StringTerminatedBinding struct {
	Terminator byte
	Consume    bool
	Charset    string
}

func (StringTerminatedBinding) Kind() Kind { return StringTerminated }

func (StringTerminatedBinding) Validate() error { return nil }

// ---- Choice (shared by Object/Array) ----

// Alternative is one discriminated choice: a condition (which may
// reference the decoded prefix via PrefixVar), the literal prefix value
// written on encode when the condition is prefix-derived, and the Go type
// to recurse into.
type Alternative struct {
	Condition   string
	PrefixValue uint64
	Type        reflect.Type
}

// ChoiceSpec is spec.md §3's prefix-based object discriminator.
type ChoiceSpec struct {
	PrefixSize   int // bits, 0..32
	ByteOrder    bitio.ByteOrder
	Alternatives []Alternative
	DefaultType  reflect.Type // nil if none declared
}

func referencesPrefix(condition string) bool {
	return containsIdentifier(condition, PrefixVar)
}

func containsIdentifier(haystack, ident string) bool {
	for i := 0; i+len(ident) <= len(haystack); i++ {
		if haystack[i:i+len(ident)] != ident {
			continue
		}
		before := byte(0)
		if i > 0 {
			before = haystack[i-1]
		}
		after := byte(0)
		if i+len(ident) < len(haystack) {
			after = haystack[i+len(ident)]
		}
		if !isIdentChar(before) && !isIdentChar(after) {
			return true
		}
	}
	return false
}

func isIdentChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// Validate enforces I1: when prefixSize>0 every alternative must reference
// the prefix variable, and when prefixSize==0 none may.
func (c ChoiceSpec) Validate() error {
	if c.PrefixSize < 0 || c.PrefixSize > 32 {
		return annotationErr("bad-prefix-size", "choice prefixSize must be within [0,32]")
	}
	for _, alt := range c.Alternatives {
		refs := referencesPrefix(alt.Condition)
		if c.PrefixSize > 0 && !refs {
			return annotationErr("prefix-mismatch", "alternative condition must reference the prefix when prefixSize>0: "+alt.Condition)
		}
		if c.PrefixSize == 0 && refs {
			return annotationErr("prefix-mismatch", "alternative condition may not reference the prefix when prefixSize==0: "+alt.Condition)
		}
		if alt.Type == nil {
			return annotationErr("missing-type", "choice alternative has no type")
		}
	}
	return nil
}

// ---- Object ----

// ObjectBinding recursively decodes a nested template, optionally
// polymorphic via Choice.
type ObjectBinding struct {
	TypeRef reflect.Type // used when Choice is nil
	Choice  *ChoiceSpec
}

func (ObjectBinding) Kind() Kind { return Object }

func (b ObjectBinding) Validate() error {
	if b.Choice == nil && b.TypeRef == nil {
		return annotationErr("missing-type", "Object binding requires a type or a choice")
	}
	if b.Choice != nil {
		return b.Choice.Validate()
	}
	return nil
}

// ---- ArrayPrimitive ----

// ArrayPrimitiveBinding reads/writes a fixed-width-element primitive array
// (e.g. []byte, []uint16) with a runtime-evaluated element count.
type ArrayPrimitiveBinding struct {
	ElementKind  datatype.Kind
	ElementBits  int
	SizeExpr     string
	ByteOrder    bitio.ByteOrder
}

func (ArrayPrimitiveBinding) Kind() Kind { return ArrayPrimitive }

func (b ArrayPrimitiveBinding) Validate() error {
	if eval.IsBlank(b.SizeExpr) {
		return annotationErr("bad-size", "ArrayPrimitive binding requires a size expression")
	}
	if b.ElementBits <= 0 {
		return annotationErr("bad-size", "ArrayPrimitive element width must be positive")
	}
	return nil
}

// ---- Array (of objects) ----

// ArrayBinding reads/writes a fixed-count array of (optionally
// polymorphic) sub-objects.
type ArrayBinding struct {
	TypeRef  reflect.Type
	SizeExpr string
	Choice   *ChoiceSpec
}

func (ArrayBinding) Kind() Kind { return Array }

func (b ArrayBinding) Validate() error {
	if eval.IsBlank(b.SizeExpr) {
		return annotationErr("bad-size", "Array binding requires a size expression")
	}
	if b.Choice == nil && b.TypeRef == nil {
		return annotationErr("missing-type", "Array binding requires an element type or a choice")
	}
	if b.Choice != nil {
		return b.Choice.Validate()
	}
	return nil
}

// ---- ListSeparated ----

// SeparatedAlternative is one ListSeparated choice, matched by a literal
// header string rather than a bit-packed prefix.
type SeparatedAlternative struct {
	Condition    string
	HeaderString string
	Type         reflect.Type
}

// SeparatedChoiceSpec is spec.md §3's terminator-delimited choice.
type SeparatedChoiceSpec struct {
	Terminator   byte
	Charset      string
	Alternatives []SeparatedAlternative
}

func (c SeparatedChoiceSpec) Validate() error {
	if len(c.Alternatives) == 0 {
		return annotationErr("missing-type", "ListSeparated binding requires at least one alternative")
	}
	for _, alt := range c.Alternatives {
		if alt.Type == nil {
			return annotationErr("missing-type", "ListSeparated alternative has no type")
		}
		if alt.HeaderString == "" {
			return annotationErr("missing-type", "ListSeparated alternative has no header string")
		}
	}
	return nil
}

// ListSeparatedBinding repeats {headerString, object} pairs separated by a
// terminator byte, stopping when the next header matches no alternative.
type ListSeparatedBinding struct {
	Choice SeparatedChoiceSpec
}

func (ListSeparatedBinding) Kind() Kind { return ListSeparated }

func (b ListSeparatedBinding) Validate() error { return b.Choice.Validate() }

// ---- Checksum ----

// ChecksumBinding reads/writes the message's single checksum field over a
// declared byte range, verifying it on decode per spec.md's resolved open
// question.
type ChecksumBinding struct {
	Algorithm checksum.Algorithm
	SkipStart int
	SkipEnd   int
	ByteOrder bitio.ByteOrder
	Verify    bool
}

func (ChecksumBinding) Kind() Kind { return Checksum }

func (b ChecksumBinding) Validate() error {
	if b.Algorithm == nil {
		return annotationErr("missing-algorithm", "Checksum binding requires an algorithm")
	}
	if b.SkipStart < 0 || b.SkipEnd < 0 {
		return annotationErr("bad-size", "Checksum skipStart/skipEnd must be non-negative")
	}
	return nil
}
