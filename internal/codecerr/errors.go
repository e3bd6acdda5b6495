// Package codecerr defines the closed error taxonomy raised by the
// template-directed codec engine (annotation/template/codec/decode/encode/
// data errors), each carrying enough structured context to identify the
// offending template type and field without parsing a message string.
package codecerr

import "fmt"

// Kind is one of the closed error categories the engine can raise.
type Kind int

const (
	// Annotation marks an invalid template definition caught at load time.
	Annotation Kind = iota
	// Template marks a dispatch/registry error (no match, duplicate key, uncodeable type).
	Template
	// Codec marks an unsupported wire type or expression evaluation failure.
	Codec
	// Decode marks a failure while turning bytes into a populated object.
	Decode
	// Encode marks a failure while turning an object into bytes.
	Encode
	// Data marks an out-of-range value at a public boundary (e.g. an unknown lookup code).
	Data
)

func (k Kind) String() string {
	switch k {
	case Annotation:
		return "AnnotationError"
	case Template:
		return "TemplateError"
	case Codec:
		return "CodecError"
	case Decode:
		return "DecodeError"
	case Encode:
		return "EncodeError"
	case Data:
		return "DataError"
	default:
		return "UnknownError"
	}
}

// Error is the single error type for the engine; Kind discriminates the
// taxonomy instead of a proliferation of error types.
type Error struct {
	Kind   Kind
	Reason string // short machine-checkable sub-reason, e.g. "no-match", "buffer-underflow"
	Msg    string

	// TemplateType and FieldName are populated whenever the error happens
	// while processing a specific template/field; both are empty at
	// load-time errors that are not field-scoped.
	TemplateType string
	FieldName    string

	Cause error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.TemplateType != "" {
		s += " [" + e.TemplateType
		if e.FieldName != "" {
			s += "." + e.FieldName
		}
		s += "]"
	}
	s += ": " + e.Msg
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind and Reason,
// allowing callers to use errors.Is(err, codecerr.New(codecerr.Decode, "checksum", "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Reason == "" {
		return true
	}
	return t.Reason == e.Reason
}

// New builds a plain *Error with no field context.
func New(kind Kind, reason, msg string) *Error {
	return &Error{Kind: kind, Reason: reason, Msg: msg}
}

// Newf builds a plain *Error with a formatted message.
func Newf(kind Kind, reason, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// WithField returns a copy of e scoped to the given template type and field name.
func (e *Error) WithField(templateType, fieldName string) *Error {
	cp := *e
	cp.TemplateType = templateType
	cp.FieldName = fieldName
	return &cp
}

// Wrap builds a new *Error around an underlying cause.
func Wrap(kind Kind, reason string, cause error, msg string) *Error {
	return &Error{Kind: kind, Reason: reason, Msg: msg, Cause: cause}
}
