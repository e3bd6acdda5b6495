package template

import (
	"reflect"

	"github.com/foundryfieldworks/tagwire/internal/binding"
	"github.com/foundryfieldworks/tagwire/internal/convert"
)

// HeaderDescriptor is the language-neutral input form of Header.
type HeaderDescriptor struct {
	Starts  [][]byte
	End     []byte
	Charset string
}

// FieldDescriptor is the language-neutral input form of Field, as produced
// by a template-pack loader (package templatepack) instead of by scanning
// annotated source — the core never inspects Go struct tags itself.
type FieldDescriptor struct {
	Name        string
	GoFieldName string // defaults to Name when blank

	Binding binding.Binding // nil for an evaluated-only field

	Skips     []SkipParams
	Condition string

	ContextParameters []ContextParam

	Converter convert.Selector
	Validator convert.Validator

	PostProcess *PostProcess
}

// Descriptor is the full language-neutral schema Compile consumes.
type Descriptor struct {
	Type   reflect.Type
	Header *HeaderDescriptor
	Fields []FieldDescriptor
}
