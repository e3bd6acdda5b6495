// Package celeval is a concrete eval.Evaluator built on Google's Common
// Expression Language (cel-go). It is not part of the CORE codec engine —
// spec.md treats the expression language as an external collaborator — but
// it is the evaluator the gateway and templatepack layers wire up, so that
// template conditions, sizes and post-process expressions are ordinary CEL:
// `prefix == 1`, `self.MessageLength - 2`, `self.DeviceTypeCode in [1, 2]`.
package celeval

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/foundryfieldworks/tagwire/internal/codecerr"
	"github.com/foundryfieldworks/tagwire/internal/datatype"
	"github.com/foundryfieldworks/tagwire/internal/eval"
)

// Evaluator implements eval.Evaluator on top of a per-expression cel.Program
// cache, since spec.md §4.3 expects size/condition expressions to be
// evaluated once per field per message with negligible overhead.
type Evaluator struct {
	mu      sync.Mutex
	context map[string][]interface{}
	cache   map[string]cel.Program
}

// New returns an Evaluator with an empty context stack.
func New() *Evaluator {
	return &Evaluator{
		context: make(map[string][]interface{}),
		cache:   make(map[string]cel.Program),
	}
}

// AddToContext pushes name->value onto the scope stack.
func (e *Evaluator) AddToContext(name string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.context[name] = append(e.context[name], value)
}

// Remove pops the most recent binding for name, if any.
func (e *Evaluator) Remove(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stack := e.context[name]
	if len(stack) == 0 {
		return
	}
	e.context[name] = stack[:len(stack)-1]
}

func (e *Evaluator) activation(rootObject interface{}) map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	vars := map[string]interface{}{eval.SelfKey: toCelValue(rootObject)}
	for name, stack := range e.context {
		if len(stack) > 0 {
			vars[name] = toCelValue(stack[len(stack)-1])
		}
	}
	return vars
}

func (e *Evaluator) program(expr string, varNames []string) (cel.Program, error) {
	key := expr + "|" + strings.Join(varNames, ",")

	e.mu.Lock()
	if p, ok := e.cache[key]; ok {
		e.mu.Unlock()
		return p, nil
	}
	e.mu.Unlock()

	opts := make([]cel.EnvOption, 0, len(varNames))
	for _, name := range varNames {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[key] = prg
	e.mu.Unlock()
	return prg, nil
}

func exprError(expr string, err error) *codecerr.Error {
	return codecerr.Wrap(codecerr.Codec, "expression", err, "evaluating "+expr)
}

func (e *Evaluator) evalRaw(expr string, rootObject interface{}) (interface{}, error) {
	vars := e.activation(rootObject)
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)

	prg, err := e.program(expr, names)
	if err != nil {
		return nil, exprError(expr, err)
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, exprError(expr, err)
	}
	return out.Value(), nil
}

// EvaluateBoolean implements eval.Evaluator.
func (e *Evaluator) EvaluateBoolean(expr string, rootObject interface{}) (bool, error) {
	if eval.IsBlank(expr) {
		return true, nil
	}
	v, err := e.evalRaw(expr, rootObject)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, codecerr.Newf(codecerr.Codec, "expression", "expression %q did not evaluate to a boolean", expr)
	}
	return b, nil
}

// EvaluateSize implements eval.Evaluator.
func (e *Evaluator) EvaluateSize(expr string, rootObject interface{}) (int, error) {
	if eval.IsBlank(expr) {
		return 0, nil
	}
	v, err := e.evalRaw(expr, rootObject)
	if err != nil {
		return 0, err
	}
	n, err := toInt(v)
	if err != nil {
		return 0, codecerr.Wrap(codecerr.Codec, "expression", err, "expression "+expr+" did not evaluate to a size")
	}
	if n < 0 {
		return 0, codecerr.Newf(codecerr.Codec, "expression", "expression %q evaluated to a negative size %d", expr, n)
	}
	return n, nil
}

// Evaluate implements eval.Evaluator, coercing through datatype.Cast when
// expectedType is a datatype.Kind.
func (e *Evaluator) Evaluate(expr string, rootObject interface{}, expectedType interface{}) (interface{}, error) {
	v, err := e.evalRaw(expr, rootObject)
	if err != nil {
		return nil, err
	}
	if kind, ok := expectedType.(datatype.Kind); ok {
		return datatype.Cast(v, kind)
	}
	return v, nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, codecerr.Newf(codecerr.Codec, "expression", "cannot interpret %T as a size", v)
	}
}

// toCelValue recursively lowers Go values (including structs, via
// reflection) into the maps/slices/primitives CEL's dynamic type system
// understands, so templates can write `self.DeviceTypeCode` without the
// engine needing to declare a proto/struct schema up front.
func toCelValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		out := make(map[string]interface{}, rv.NumField())
		t := rv.Type()
		for i := 0; i < rv.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" { // unexported
				continue
			}
			out[f.Name] = toCelValue(rv.Field(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		for _, k := range rv.MapKeys() {
			out[toCelKeyString(k)] = toCelValue(rv.MapIndex(k).Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Bytes()
		}
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = toCelValue(rv.Index(i).Interface())
		}
		return out
	default:
		return rv.Interface()
	}
}

func toCelKeyString(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprintf("%v", k.Interface())
}
