// Package parser drives the field-by-field decode/encode loop (spec.md
// §4.11) over a compiled template.Template: skip handling, per-field
// condition gating, context-parameter scoping, codec dispatch, converter/
// validator application, post-process overrides, and checksum placeholder
// patching. It also owns top-level message framing: locating which
// template a buffer belongs to and resynchronizing after a decode failure.
package parser

import (
	"bytes"
	"reflect"

	"github.com/foundryfieldworks/tagwire/internal/binding"
	"github.com/foundryfieldworks/tagwire/internal/bitio"
	"github.com/foundryfieldworks/tagwire/internal/codec"
	"github.com/foundryfieldworks/tagwire/internal/codecerr"
	"github.com/foundryfieldworks/tagwire/internal/convert"
	"github.com/foundryfieldworks/tagwire/internal/dispatch"
	"github.com/foundryfieldworks/tagwire/internal/eval"
	"github.com/foundryfieldworks/tagwire/internal/template"
)

// Parser binds a header-keyed template registry to an Evaluator and drives
// decode/encode for every template it knows about, including nested
// (header-less) object types reached only through an Object/Array binding.
type Parser struct {
	registry   *dispatch.Registry
	evaluator  eval.Evaluator
	byType     map[reflect.Type]*template.Template
}

// New builds a Parser over reg (top-level, headered templates) and ev.
func New(reg *dispatch.Registry, ev eval.Evaluator) *Parser {
	return &Parser{registry: reg, evaluator: ev, byType: map[reflect.Type]*template.Template{}}
}

// RegisterType associates t (a nested object type reached only via an
// Object/Array/ListSeparated binding, never dispatched by header) with its
// compiled template.
func (p *Parser) RegisterType(t reflect.Type, tmpl *template.Template) {
	p.byType[t] = tmpl
}

// RegisterTemplate registers tmpl for both type-based lookup (nested
// bindings, Compose) and, if it declares a Header, header-based dispatch.
func (p *Parser) RegisterTemplate(tmpl *template.Template) error {
	p.RegisterType(tmpl.Type, tmpl)
	if tmpl.Header != nil {
		return p.registry.Register(tmpl)
	}
	return nil
}

// TemplateNames returns the Go type name of every template registered with
// the parser, for status/inspection surfaces that list known message kinds.
func (p *Parser) TemplateNames() []string {
	names := make([]string, 0, len(p.byType))
	for t := range p.byType {
		names = append(names, t.Name())
	}
	return names
}

// TemplateByName returns the template registered under the given Go type
// name, if any.
func (p *Parser) TemplateByName(name string) (*template.Template, bool) {
	for t, tmpl := range p.byType {
		if t.Name() == name {
			return tmpl, true
		}
	}
	return nil, false
}

func (p *Parser) templateForType(t reflect.Type) (*template.Template, error) {
	if tmpl, ok := p.byType[t]; ok {
		return tmpl, nil
	}
	return nil, codecerr.Newf(codecerr.Template, "no-match", "no template registered for type %s", t)
}

// DecodedMessage is one entry of a ParseResponse: either a populated Object
// at Offset, or an Err describing why decoding failed there.
type DecodedMessage struct {
	Offset int
	Object interface{}
	Err    error
}

// ParseResponse is the ordered outcome of scanning an entire buffer.
type ParseResponse struct {
	Messages []DecodedMessage
}

// Parse scans data for consecutive messages, recovering from a decode
// failure by resynchronizing at the next plausible header start (spec.md's
// scanner semantics) rather than aborting the whole buffer.
func (p *Parser) Parse(data []byte) ParseResponse {
	var resp ParseResponse
	offset := 0
	for offset < len(data) {
		tmpl, err := p.registry.MatchTemplate(data[offset:])
		if err != nil {
			resp.Messages = append(resp.Messages, DecodedMessage{Offset: offset, Err: err})
			next := p.registry.FindNextMessageIndex(data, offset)
			if next < 0 {
				break
			}
			offset = next
			continue
		}

		r := bitio.NewReader(data[offset:])
		obj, decErr := p.decodeWithReader(tmpl, r)
		resp.Messages = append(resp.Messages, DecodedMessage{Offset: offset, Object: obj, Err: decErr})
		if decErr != nil {
			next := p.registry.FindNextMessageIndex(data, offset)
			if next < 0 {
				break
			}
			offset = next
			continue
		}
		consumed := r.Position()
		if consumed <= 0 {
			break
		}
		offset += consumed
	}
	return resp
}

// ComposeResponse is the outcome of encoding a single object.
type ComposeResponse struct {
	Bytes []byte
	Err   error
}

// Compose encodes obj (a pointer to, or value of, a registered template
// type) back into bytes.
func (p *Parser) Compose(obj interface{}) ComposeResponse {
	t := reflect.TypeOf(obj)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	tmpl, err := p.templateForType(t)
	if err != nil {
		return ComposeResponse{Err: err}
	}
	w := bitio.NewWriter()
	if err := p.encodeWithWriter(tmpl, w, obj); err != nil {
		return ComposeResponse{Err: err}
	}
	return ComposeResponse{Bytes: w.Flush()}
}

// ---- shared field-loop machinery ----

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}
	return v
}

func (p *Parser) decodeWithReader(tmpl *template.Template, r *bitio.Reader) (interface{}, error) {
	ptr := reflect.New(tmpl.Type)
	obj := ptr.Elem()
	root := ptr.Interface()

	if tmpl.Header != nil {
		if err := consumeHeaderStart(r, tmpl.Header); err != nil {
			return nil, err
		}
	}

	dctx := &codec.DecodeContext{
		Reader:     r,
		Evaluator:  p.evaluator,
		RootObject: root,
		DecodeObject: func(t reflect.Type) (interface{}, error) {
			sub, err := p.templateForType(t)
			if err != nil {
				return nil, err
			}
			return p.decodeWithReader(sub, r)
		},
	}

	for _, f := range tmpl.Fields {
		if err := p.applySkips(dctx.Evaluator, root, r, f.Skips); err != nil {
			return nil, fieldErr(tmpl, f, err)
		}

		present := true
		if f.Condition != "" {
			ok, err := p.evaluator.EvaluateBoolean(f.Condition, root)
			if err != nil {
				return nil, fieldErr(tmpl, f, err)
			}
			present = ok
		}
		if !present {
			continue
		}

		pushed := p.pushContext(root, f.ContextParameters)

		fieldValue, err := p.decodeField(dctx, tmpl, f, obj)
		p.popContext(pushed)
		if err != nil {
			return nil, fieldErr(tmpl, f, err)
		}
		if fieldValue == noValue {
			continue
		}
		target := indirect(obj.FieldByIndex(f.Index))
		if err := assignValue(target, fieldValue); err != nil {
			return nil, fieldErr(tmpl, f, err)
		}
	}

	if tmpl.Header != nil && len(tmpl.Header.End) > 0 {
		if err := consumeHeaderEnd(r, tmpl.Header); err != nil {
			return nil, err
		}
	}

	return root, nil
}

var noValue = struct{}{}

func (p *Parser) decodeField(dctx *codec.DecodeContext, tmpl *template.Template, f *template.Field, obj reflect.Value) (interface{}, error) {
	var wire interface{}
	if f.Binding != nil {
		var err error
		if f.Binding.Kind() == binding.Checksum {
			wire, err = codec.DecodeChecksum(dctx, f.Binding)
		} else {
			c, lerr := codec.Lookup(f.Binding.Kind())
			if lerr != nil {
				return nil, lerr
			}
			wire, err = c.Decode(dctx, f.Binding)
		}
		if err != nil {
			return nil, err
		}
	}

	var fieldValue interface{} = wire
	if f.Binding != nil {
		v, err := convert.DecodeField(p.evaluator, dctx.RootObject, f.Converter, f.Validator, wire)
		if err != nil {
			return nil, err
		}
		fieldValue = v
	}

	if f.PostProcess != nil && f.PostProcess.ValueDecode != "" {
		runOverride := true
		if f.PostProcess.Condition != "" {
			ok, err := p.evaluator.EvaluateBoolean(f.PostProcess.Condition, dctx.RootObject)
			if err != nil {
				return nil, err
			}
			runOverride = ok
		}
		if runOverride {
			v, err := p.evaluator.Evaluate(f.PostProcess.ValueDecode, dctx.RootObject, f.FieldType)
			if err != nil {
				return nil, err
			}
			fieldValue = v
		}
	}

	if f.Binding == nil && (f.PostProcess == nil || f.PostProcess.ValueDecode == "") {
		return noValue, nil
	}
	return fieldValue, nil
}

func (p *Parser) encodeWithWriter(tmpl *template.Template, w *bitio.Writer, obj interface{}) error {
	rv := reflect.ValueOf(obj)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	root := obj

	if tmpl.Header != nil && len(tmpl.Header.Starts) > 0 {
		if err := w.WriteBytes(tmpl.Header.Starts[0]); err != nil {
			return err
		}
	}

	ectx := &codec.EncodeContext{
		Writer:     w,
		Evaluator:  p.evaluator,
		RootObject: root,
		EncodeObject: func(t reflect.Type, value interface{}) error {
			sub, err := p.templateForType(t)
			if err != nil {
				return err
			}
			return p.encodeWithWriter(sub, w, value)
		},
	}

	var pendingPatch codec.ChecksumPatch

	for _, f := range tmpl.Fields {
		p.writeSkipPadding(w, p.evaluator, root, f.Skips)

		present := true
		if f.Condition != "" {
			ok, err := p.evaluator.EvaluateBoolean(f.Condition, root)
			if err != nil {
				return fieldErr(tmpl, f, err)
			}
			present = ok
		}
		if !present {
			continue
		}

		pushed := p.pushContext(root, f.ContextParameters)
		err := p.encodeField(ectx, tmpl, f, rv, &pendingPatch)
		p.popContext(pushed)
		if err != nil {
			return fieldErr(tmpl, f, err)
		}
	}

	if pendingPatch != nil {
		if err := pendingPatch(w.Bytes()); err != nil {
			return err
		}
	}

	if tmpl.Header != nil && len(tmpl.Header.End) > 0 {
		if err := w.WriteBytes(tmpl.Header.End); err != nil {
			return err
		}
	}
	return nil
}

func consumeHeaderStart(r *bitio.Reader, h *template.Header) error {
	remaining := r.Bytes()[r.Position():]
	best := -1
	for _, s := range h.Starts {
		if bytes.HasPrefix(remaining, s) && len(s) > best {
			best = len(s)
		}
	}
	if best < 0 {
		return codecerr.New(codecerr.Decode, "no-match", "buffer does not begin with a declared header start")
	}
	return r.SkipBits(best * 8)
}

func consumeHeaderEnd(r *bitio.Reader, h *template.Header) error {
	remaining := r.Bytes()[r.Position():]
	if !bytes.HasPrefix(remaining, h.End) {
		return codecerr.New(codecerr.Decode, "no-match", "buffer does not carry the declared header end sequence")
	}
	return r.SkipBits(len(h.End) * 8)
}

func (p *Parser) encodeField(ectx *codec.EncodeContext, tmpl *template.Template, f *template.Field, obj reflect.Value, pendingPatch *codec.ChecksumPatch) error {
	if f.Binding == nil {
		return nil
	}

	fieldValue := indirect(obj.FieldByIndex(f.Index)).Interface()

	if f.PostProcess != nil && f.PostProcess.ValueEncode != "" {
		runOverride := true
		if f.PostProcess.Condition != "" {
			ok, err := p.evaluator.EvaluateBoolean(f.PostProcess.Condition, ectx.RootObject)
			if err != nil {
				return err
			}
			runOverride = ok
		}
		if runOverride {
			v, err := p.evaluator.Evaluate(f.PostProcess.ValueEncode, ectx.RootObject, f.FieldType)
			if err != nil {
				return err
			}
			fieldValue = v
		}
	}

	wire, err := convert.EncodeField(p.evaluator, ectx.RootObject, f.Converter, f.Validator, fieldValue)
	if err != nil {
		return err
	}

	if f.Binding.Kind() == binding.Checksum {
		patch, err := codec.EncodeChecksumPlaceholder(ectx, f.Binding)
		if err != nil {
			return err
		}
		*pendingPatch = patch
		return nil
	}

	c, err := codec.Lookup(f.Binding.Kind())
	if err != nil {
		return err
	}
	return c.Encode(ectx, f.Binding, wire)
}

func (p *Parser) applySkips(ev eval.Evaluator, root interface{}, r *bitio.Reader, skips []template.SkipParams) error {
	for _, s := range skips {
		if s.Condition != "" {
			ok, err := ev.EvaluateBoolean(s.Condition, root)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
		}
		switch s.Kind {
		case template.SkipByBits:
			n, err := ev.EvaluateSize(s.SizeExpr, root)
			if err != nil {
				return err
			}
			if err := r.SkipBits(n); err != nil {
				return err
			}
		case template.SkipUntilTerminator:
			if _, err := r.ReadTextUntil(s.Terminator, "", s.Consume); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Parser) writeSkipPadding(w *bitio.Writer, ev eval.Evaluator, root interface{}, skips []template.SkipParams) {
	for _, s := range skips {
		if s.Kind != template.SkipByBits {
			continue
		}
		if s.Condition != "" {
			ok, err := ev.EvaluateBoolean(s.Condition, root)
			if err != nil || !ok {
				continue
			}
		}
		n, err := ev.EvaluateSize(s.SizeExpr, root)
		if err != nil {
			continue
		}
		w.SkipBits(n)
	}
}

func (p *Parser) pushContext(root interface{}, params []template.ContextParam) []string {
	pushed := make([]string, 0, len(params))
	for _, cp := range params {
		v, err := p.evaluator.Evaluate(cp.Expr, root, nil)
		if err != nil {
			continue
		}
		p.evaluator.AddToContext(cp.Name, v)
		pushed = append(pushed, cp.Name)
	}
	return pushed
}

func (p *Parser) popContext(pushed []string) {
	for i := len(pushed) - 1; i >= 0; i-- {
		p.evaluator.Remove(pushed[i])
	}
}

func fieldErr(tmpl *template.Template, f *template.Field, err error) error {
	if ce, ok := err.(*codecerr.Error); ok {
		return ce.WithField(tmpl.Type.Name(), f.Name)
	}
	return err
}

func assignValue(target reflect.Value, value interface{}) error {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(target.Type()) {
		target.Set(rv)
		return nil
	}
	if rv.Type().ConvertibleTo(target.Type()) {
		target.Set(rv.Convert(target.Type()))
		return nil
	}
	return codecerr.Newf(codecerr.Decode, "value-cast", "cannot assign %s into field of type %s", rv.Type(), target.Type())
}
