// Package template compiles a language-neutral Descriptor (spec.md §6) into
// an immutable Template: an ordered field list with pre-resolved reflect
// accessors, ready for the codec/dispatch/parser packages to drive without
// re-walking annotations on every message.
package template

import (
	"reflect"

	"github.com/foundryfieldworks/tagwire/internal/binding"
	"github.com/foundryfieldworks/tagwire/internal/codecerr"
	"github.com/foundryfieldworks/tagwire/internal/convert"
)

// SkipKind discriminates the two skip shapes spec.md §4.6 allows.
type SkipKind int

const (
	SkipByBits SkipKind = iota
	SkipUntilTerminator
)

// SkipParams describes one pre-field skip: either a fixed/evaluated bit run,
// or a run up to (and optionally consuming) a terminator byte.
type SkipParams struct {
	Kind       SkipKind
	SizeExpr   string // SkipByBits
	Terminator byte   // SkipUntilTerminator
	Consume    bool   // SkipUntilTerminator
	Condition  string // blank means unconditional
}

// ContextParam is a name bound into the evaluator's context stack before a
// field's binding codec runs, and popped after (spec.md §4.3/§4.11).
type ContextParam struct {
	Name string
	Expr string
}

// PostProcess overrides a field's value by expression, independent of (or
// in place of) its wire binding (spec.md §4.9).
type PostProcess struct {
	Condition   string // blank means unconditional
	ValueDecode string // applied after decode; blank means no override
	ValueEncode string // applied before encode; blank means no override
}

// Field is one compiled template field: its wire binding (nil for a
// pure-expression field), control annotations, and a pre-resolved accessor
// into the Go struct it populates.
type Field struct {
	Name      string
	Index     []int // reflect.Value.FieldByIndex path within the template's Type
	FieldType reflect.Type

	Binding   binding.Binding // nil for evaluated-only fields
	Skips     []SkipParams
	Condition string // blank means unconditional presence

	ContextParameters []ContextParam

	Converter convert.Selector
	Validator convert.Validator

	PostProcess *PostProcess
}

// Get reads the field's current value out of obj (obj must be the
// addressable struct value the template describes).
func (f *Field) Get(obj reflect.Value) reflect.Value {
	return obj.FieldByIndex(f.Index)
}

// IsEvaluatedOnly reports whether this field carries no wire binding at all
// and is populated purely by PostProcess.ValueDecode (spec.md §4.9).
func (f *Field) IsEvaluatedOnly() bool {
	return f.Binding == nil
}

// Header is the template's optional framing: one or more equal-meaning
// start sequences (I5: all distinct across a registry), an optional literal
// end sequence, and the charset used to interpret ASCII-framed headers.
type Header struct {
	Starts  [][]byte
	End     []byte
	Charset string
}

// Template is the compiled, immutable result of Compile. Fields preserves
// declaration order (I3); EvaluatedFields/PostProcessFields/ChecksumField
// are precomputed views over Fields for the decode/encode pipeline.
type Template struct {
	Type   reflect.Type
	Header *Header
	Fields []*Field

	EvaluatedFields   []*Field
	PostProcessFields []*Field
	ChecksumField     *Field
}

func tmplErr(reason, msg string) *codecerr.Error {
	return codecerr.New(codecerr.Annotation, reason, msg)
}

// Compile validates a Descriptor against invariants I1-I4 and builds the
// immutable Template the rest of the engine consumes. I5 (header-start
// uniqueness) is a cross-template invariant enforced by the dispatch
// registry at Register time, not here.
func Compile(d Descriptor) (*Template, error) {
	if d.Type == nil || d.Type.Kind() != reflect.Struct {
		return nil, tmplErr("bad-type", "template descriptor requires a struct type")
	}
	if len(d.Fields) == 0 {
		return nil, tmplErr("no-fields", "template declares no fields")
	}

	t := &Template{Type: d.Type}

	if d.Header != nil {
		if len(d.Header.Starts) == 0 {
			return nil, tmplErr("bad-header", "template header requires at least one start sequence")
		}
		seen := map[string]bool{}
		for _, s := range d.Header.Starts {
			key := string(s)
			if seen[key] {
				return nil, tmplErr("duplicate-start", "template header declares the same start sequence twice")
			}
			seen[key] = true
		}
		t.Header = &Header{Starts: d.Header.Starts, End: d.Header.End, Charset: d.Header.Charset}
	}

	var checksumCount int
	for _, fd := range d.Fields {
		f, err := compileField(d.Type, fd)
		if err != nil {
			return nil, err.(*codecerr.Error).WithField(d.Type.Name(), fd.Name)
		}
		t.Fields = append(t.Fields, f)

		if f.PostProcess != nil {
			t.PostProcessFields = append(t.PostProcessFields, f)
			if f.IsEvaluatedOnly() {
				t.EvaluatedFields = append(t.EvaluatedFields, f)
			}
		}
		if f.Binding != nil && f.Binding.Kind() == binding.Checksum {
			checksumCount++
			if checksumCount > 1 {
				return nil, tmplErr("multiple-checksums", "template declares more than one Checksum field").WithField(d.Type.Name(), fd.Name)
			}
			t.ChecksumField = f
		}
	}

	hasBinding := false
	for _, f := range t.Fields {
		if f.Binding != nil {
			hasBinding = true
			break
		}
	}
	if !hasBinding {
		return nil, tmplErr("no-binding", "template declares no field with a wire binding")
	}

	return t, nil
}

func compileField(structType reflect.Type, fd FieldDescriptor) (*Field, error) {
	if fd.Name == "" {
		return nil, tmplErr("missing-name", "field has no name")
	}
	goName := fd.GoFieldName
	if goName == "" {
		goName = fd.Name
	}
	sf, ok := structType.FieldByName(goName)
	if !ok {
		return nil, tmplErr("missing-struct-field", "no Go struct field named "+goName)
	}

	if fd.Binding != nil {
		if err := fd.Binding.Validate(); err != nil {
			return nil, err
		}
	} else if fd.PostProcess == nil || fd.PostProcess.ValueDecode == "" {
		return nil, tmplErr("empty-field", "field has neither a binding nor a post-process decode expression")
	}

	f := &Field{
		Name:               fd.Name,
		Index:              sf.Index,
		FieldType:          sf.Type,
		Binding:            fd.Binding,
		Skips:              fd.Skips,
		Condition:          fd.Condition,
		ContextParameters:  fd.ContextParameters,
		Converter:          fd.Converter,
		Validator:          fd.Validator,
		PostProcess:        fd.PostProcess,
	}
	if ib, ok := fd.Binding.(binding.IntegerBinding); ok && !ib.Signed {
		switch sf.Type.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			ib.Signed = true
			f.Binding = ib
		}
	}
	return f, nil
}
