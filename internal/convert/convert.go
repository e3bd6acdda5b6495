// Package convert implements the Converter/Validator registry (spec.md
// §4.4): bidirectional wire<->field transforms, post-decode invariants, and
// condition-based converter selection.
package convert

import (
	"github.com/foundryfieldworks/tagwire/internal/codecerr"
)

// Converter maps between a field's wire representation and its field
// representation. Decode runs on the way in, Encode on the way out.
type Converter interface {
	Decode(wire interface{}) (field interface{}, err error)
	Encode(field interface{}) (wire interface{}, err error)
}

// Validator checks a post-decode (or pre-encode) invariant on a field value.
type Validator interface {
	IsValid(value interface{}) (bool, error)
}

// NullConverter is the identity converter, used when a field declares none.
var NullConverter Converter = nullConverter{}

type nullConverter struct{}

func (nullConverter) Decode(wire interface{}) (interface{}, error) { return wire, nil }
func (nullConverter) Encode(field interface{}) (interface{}, error) { return field, nil }

// NullValidator always passes.
var NullValidator Validator = nullValidator{}

type nullValidator struct{}

func (nullValidator) IsValid(interface{}) (bool, error) { return true, nil }

// ConditionEvaluator is the minimal slice of eval.Evaluator a Selector
// needs: evaluating a boolean condition against the root object.
type ConditionEvaluator interface {
	EvaluateBoolean(expr string, rootObject interface{}) (bool, error)
}

// Alternative pairs a selector condition with the converter it selects.
type Alternative struct {
	Condition string
	Converter Converter
}

// Selector picks the first Alternative whose condition holds against the
// root object, per spec.md §4.4 step 1. An empty Selector falls back to a
// single fixed Converter.
type Selector struct {
	Alternatives []Alternative
	Fallback     Converter
}

// Select evaluates alternatives in order and returns the first match's
// converter, or the fallback if none match (or there are no alternatives).
func (s Selector) Select(ev ConditionEvaluator, rootObject interface{}) (Converter, error) {
	for _, alt := range s.Alternatives {
		ok, err := ev.EvaluateBoolean(alt.Condition, rootObject)
		if err != nil {
			return nil, err
		}
		if ok {
			return alt.Converter, nil
		}
	}
	if s.Fallback != nil {
		return s.Fallback, nil
	}
	return NullConverter, nil
}

// DecodeField runs the full decode-side pipeline: selected converter, then
// validator, per spec.md §4.4 step 2.
func DecodeField(ev ConditionEvaluator, rootObject interface{}, sel Selector, validator Validator, wire interface{}) (interface{}, error) {
	if validator == nil {
		validator = NullValidator
	}
	c, err := sel.Select(ev, rootObject)
	if err != nil {
		return nil, err
	}
	field, err := c.Decode(wire)
	if err != nil {
		return nil, codecerr.Wrap(codecerr.Codec, "value-cast", err, "converter decode failed")
	}
	ok, err := validator.IsValid(field)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, codecerr.Newf(codecerr.Decode, "validation", "validator rejected value %v", field)
	}
	return field, nil
}

// EncodeField runs the full encode-side pipeline: validator, then selected
// converter, per spec.md §4.4 step 3.
func EncodeField(ev ConditionEvaluator, rootObject interface{}, sel Selector, validator Validator, field interface{}) (interface{}, error) {
	if validator == nil {
		validator = NullValidator
	}
	ok, err := validator.IsValid(field)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, codecerr.Newf(codecerr.Encode, "validation", "validator rejected value %v", field)
	}
	c, err := sel.Select(ev, rootObject)
	if err != nil {
		return nil, err
	}
	wire, err := c.Encode(field)
	if err != nil {
		return nil, codecerr.Wrap(codecerr.Codec, "value-cast", err, "converter encode failed")
	}
	return wire, nil
}

// Func adapts a pair of plain functions to the Converter interface, the way
// most templates in practice only need a one-off mapping.
type Func struct {
	DecodeFn func(interface{}) (interface{}, error)
	EncodeFn func(interface{}) (interface{}, error)
}

func (f Func) Decode(wire interface{}) (interface{}, error) { return f.DecodeFn(wire) }
func (f Func) Encode(field interface{}) (interface{}, error) { return f.EncodeFn(field) }

// ValidatorFunc adapts a plain predicate to the Validator interface.
type ValidatorFunc func(interface{}) (bool, error)

func (f ValidatorFunc) IsValid(v interface{}) (bool, error) { return f(v) }
