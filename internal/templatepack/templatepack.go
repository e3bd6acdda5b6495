// Package templatepack loads declarative YAML template descriptions from
// disk and compiles them into template.Template values, so a deployment
// can add or revise message formats by dropping in a file rather than
// recompiling the gateway binary.
package templatepack

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/foundryfieldworks/tagwire/internal/binding"
	"github.com/foundryfieldworks/tagwire/internal/bitio"
	"github.com/foundryfieldworks/tagwire/internal/checksum"
	"github.com/foundryfieldworks/tagwire/internal/datatype"
	"github.com/foundryfieldworks/tagwire/internal/template"
)

// packFile is the top-level YAML document: a named revision containing one
// or more message definitions.
type packFile struct {
	Namespace string          `yaml:"namespace"`
	Revision  string          `yaml:"revision"`
	Messages  []messageSpec   `yaml:"messages"`
}

type messageSpec struct {
	Name   string      `yaml:"name"`
	Header *headerSpec `yaml:"header"`
	Fields []fieldSpec `yaml:"fields"`
}

type headerSpec struct {
	Starts  []string `yaml:"starts"` // hex strings, e.g. "FE"
	End     string   `yaml:"end"`
	Charset string   `yaml:"charset"`
}

type fieldSpec struct {
	Name    string `yaml:"name"`
	GoField string `yaml:"goField"`
	// DataKind selects the Go field type: byte, short, integer, long,
	// float, double, biginteger, bigdecimal, string, bitset.
	DataKind string `yaml:"kind"`

	// Binding selects the wire shape: integer, bitset, string,
	// stringTerminated, object, arrayPrimitive, checksum. Object/array
	// choice-based polymorphism is not expressible in a pack file; use a
	// Go-level template.Descriptor literal for those messages instead.
	Binding string `yaml:"binding"`

	SizeExpr  string `yaml:"size"`
	ByteOrder string `yaml:"byteOrder"` // big, little
	Signed    bool   `yaml:"signed"`
	Charset   string `yaml:"charset"`

	Terminator int  `yaml:"terminator"`
	Consume    bool `yaml:"consume"`

	ElementKind string `yaml:"elementKind"`
	ElementBits int    `yaml:"elementBits"`

	ObjectRef string `yaml:"objectRef"` // name of another message in this pack

	ChecksumAlgorithm string `yaml:"checksumAlgorithm"`
	SkipStart         int    `yaml:"skipStart"`
	SkipEnd           int    `yaml:"skipEnd"`
	Verify            bool   `yaml:"verify"`

	Condition string `yaml:"condition"`
}

var kindToGoType = map[string]reflect.Type{
	"byte":       reflect.TypeOf(int8(0)),
	"short":      reflect.TypeOf(int16(0)),
	"integer":    reflect.TypeOf(int32(0)),
	"long":       reflect.TypeOf(int64(0)),
	"float":      reflect.TypeOf(float32(0)),
	"double":     reflect.TypeOf(float64(0)),
	"biginteger": reflect.TypeOf((*big.Int)(nil)),
	"bigdecimal": reflect.TypeOf((*big.Float)(nil)),
	"string":     reflect.TypeOf(""),
	"bitset":     reflect.TypeOf([]byte(nil)),
}

var checksumAlgorithms = map[string]checksum.Algorithm{
	"crc7":             checksum.CRC7,
	"crc8ccitt":        checksum.CRC8CCITT,
	"crc8maxim":        checksum.CRC8Maxim,
	"crc16ccittxmodem": checksum.CRC16CCITTXModem,
	"crc16ccittfalse":  checksum.CRC16CCITTFalse,
	"crc16ibm":         checksum.CRC16IBM,
	"crc32":            checksum.CRC32,
}

func parseByteOrder(s string) bitio.ByteOrder {
	if strings.EqualFold(s, "little") {
		return bitio.LittleEndian
	}
	return bitio.BigEndian
}

func parseHexBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string %q", s)
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b int
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, fmt.Errorf("invalid hex byte in %q: %w", s, err)
		}
		out[i] = byte(b)
	}
	return out, nil
}

// Load reads and compiles every message in a single YAML pack file.
// Messages may reference each other via objectRef only in declaration
// order — a message can only embed or array-wrap a message declared
// earlier in the same file.
func Load(path string) ([]*template.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("templatepack: read %s: %w", path, err)
	}

	var pf packFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("templatepack: parse %s: %w", path, err)
	}

	builder := &packBuilder{types: make(map[string]reflect.Type)}
	templates := make([]*template.Template, 0, len(pf.Messages))

	for _, m := range pf.Messages {
		tmpl, err := builder.build(m)
		if err != nil {
			return nil, fmt.Errorf("templatepack: message %q in %s: %w", m.Name, path, err)
		}
		templates = append(templates, tmpl)
	}

	return templates, nil
}

// LoadDir loads every *.yaml / *.yml pack file in dir, in lexical filename
// order, and returns their combined templates.
func LoadDir(dir string) ([]*template.Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("templatepack: read dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*template.Template
	for _, name := range names {
		tmpls, err := Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, tmpls...)
	}
	return out, nil
}

// packBuilder accumulates the Go struct types it constructs within one
// pack file so later messages can reference earlier ones by name.
type packBuilder struct {
	types map[string]reflect.Type
}

func (b *packBuilder) build(m messageSpec) (*template.Template, error) {
	if m.Name == "" {
		return nil, fmt.Errorf("message has no name")
	}

	structFields := make([]reflect.StructField, 0, len(m.Fields))
	for _, fs := range m.Fields {
		if fs.Name == "" {
			return nil, fmt.Errorf("field has no name")
		}
		goName := fs.GoField
		if goName == "" {
			goName = strings.ToUpper(fs.Name[:1]) + fs.Name[1:]
		}
		goType, err := b.fieldGoType(fs)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fs.Name, err)
		}
		structFields = append(structFields, reflect.StructField{
			Name: goName,
			Type: goType,
		})
	}

	structType := reflect.StructOf(structFields)
	b.types[m.Name] = structType

	desc := template.Descriptor{Type: structType}

	if m.Header != nil {
		hd := &template.HeaderDescriptor{Charset: m.Header.Charset}
		for _, s := range m.Header.Starts {
			raw, err := parseHexBytes(s)
			if err != nil {
				return nil, fmt.Errorf("header start: %w", err)
			}
			hd.Starts = append(hd.Starts, raw)
		}
		if m.Header.End != "" {
			raw, err := parseHexBytes(m.Header.End)
			if err != nil {
				return nil, fmt.Errorf("header end: %w", err)
			}
			hd.End = raw
		}
		desc.Header = hd
	}

	for i, fs := range m.Fields {
		goName := structFields[i].Name
		fd := template.FieldDescriptor{
			Name:        fs.Name,
			GoFieldName: goName,
			Condition:   fs.Condition,
		}

		bnd, err := b.fieldBinding(fs)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", fs.Name, err)
		}
		fd.Binding = bnd

		desc.Fields = append(desc.Fields, fd)
	}

	return template.Compile(desc)
}

func (b *packBuilder) fieldGoType(fs fieldSpec) (reflect.Type, error) {
	if fs.Binding == "object" {
		ref, ok := b.types[fs.ObjectRef]
		if !ok {
			return nil, fmt.Errorf("objectRef %q not yet defined (object messages must be declared before their users)", fs.ObjectRef)
		}
		return ref, nil
	}
	if fs.Binding == "arrayPrimitive" {
		elem, ok := kindToGoType[strings.ToLower(fs.ElementKind)]
		if !ok {
			return nil, fmt.Errorf("unknown elementKind %q", fs.ElementKind)
		}
		return reflect.SliceOf(elem), nil
	}

	kind := strings.ToLower(fs.DataKind)
	if kind == "" {
		kind = "integer"
	}
	goType, ok := kindToGoType[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", fs.DataKind)
	}
	return goType, nil
}

func (b *packBuilder) fieldBinding(fs fieldSpec) (binding.Binding, error) {
	switch strings.ToLower(fs.Binding) {
	case "", "integer":
		return binding.IntegerBinding{
			SizeExpr:  fs.SizeExpr,
			ByteOrder: parseByteOrder(fs.ByteOrder),
			Signed:    fs.Signed,
		}, nil
	case "bitset":
		return binding.BitSetBinding{SizeExpr: fs.SizeExpr}, nil
	case "string":
		return binding.StringBinding{SizeExpr: fs.SizeExpr, Charset: fs.Charset}, nil
	case "stringterminated":
		return binding.StringTerminatedBinding{
			Terminator: byte(fs.Terminator),
			Consume:    fs.Consume,
			Charset:    fs.Charset,
		}, nil
	case "arrayprimitive":
		elemKind, ok := datatypeKind(fs.ElementKind)
		if !ok {
			return nil, fmt.Errorf("unknown elementKind %q", fs.ElementKind)
		}
		return binding.ArrayPrimitiveBinding{
			ElementKind: elemKind,
			ElementBits: fs.ElementBits,
			SizeExpr:    fs.SizeExpr,
			ByteOrder:   parseByteOrder(fs.ByteOrder),
		}, nil
	case "object":
		ref, ok := b.types[fs.ObjectRef]
		if !ok {
			return nil, fmt.Errorf("objectRef %q not yet defined", fs.ObjectRef)
		}
		return binding.ObjectBinding{TypeRef: ref}, nil
	case "checksum":
		alg, ok := checksumAlgorithms[strings.ToLower(fs.ChecksumAlgorithm)]
		if !ok {
			return nil, fmt.Errorf("unknown checksum algorithm %q", fs.ChecksumAlgorithm)
		}
		return binding.ChecksumBinding{
			Algorithm: alg,
			SkipStart: fs.SkipStart,
			SkipEnd:   fs.SkipEnd,
			ByteOrder: parseByteOrder(fs.ByteOrder),
			Verify:    fs.Verify,
		}, nil
	default:
		return nil, fmt.Errorf("unknown binding kind %q", fs.Binding)
	}
}

func datatypeKind(s string) (datatype.Kind, bool) {
	switch strings.ToLower(s) {
	case "byte":
		return datatype.Byte, true
	case "short":
		return datatype.Short, true
	case "integer":
		return datatype.Integer, true
	case "long":
		return datatype.Long, true
	case "float":
		return datatype.Float, true
	case "double":
		return datatype.Double, true
	case "biginteger":
		return datatype.BigInteger, true
	case "bigdecimal":
		return datatype.BigDecimal, true
	case "string":
		return datatype.String, true
	case "bitset":
		return datatype.BitSet, true
	default:
		return 0, false
	}
}
