package webapi

import (
	"reflect"

	"github.com/foundryfieldworks/tagwire/internal/template"
)

// newOfType allocates a new zero value of tmpl's Go type, returning a
// pointer suitable for json.Unmarshal and Parser.Compose.
func newOfType(tmpl *template.Template) interface{} {
	return reflect.New(tmpl.Type).Interface()
}

// typeNameOf returns the concrete Go type name behind a decoded message's
// interface{} value (which Parser.Parse always returns as a pointer).
func typeNameOf(v interface{}) string {
	if v == nil {
		return ""
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
