package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Fields is a loosely typed bag of named values. Every accessor reports
// absence explicitly; a missing key and a value of the wrong type both
// return ok=false.
type Fields map[string]any

// Get returns the raw value stored under name.
func (f Fields) Get(name string) (any, bool) {
	v, ok := f[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Has reports whether name holds a non-nil value.
func (f Fields) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

// String returns the string stored under name.
func (f Fields) String(name string) (string, bool) {
	v, ok := f.Get(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// NonEmpty returns the string stored under name if it is not empty.
func (f Fields) NonEmpty(name string) (string, bool) {
	s, ok := f.String(name)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Strings returns a list of strings stored under name. Lists decoded from
// JSON ([]any) are accepted as long as every element is a string.
func (f Fields) Strings(name string) ([]string, bool) {
	v, ok := f.Get(name)
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// Time returns the timestamp stored under name. RFC 3339 strings, as
// produced by a JSON round trip, are parsed.
func (f Fields) Time(name string) (time.Time, bool) {
	v, ok := f.Get(name)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

// Int returns the integer stored under name.
func (f Fields) Int(name string) (int64, bool) {
	v, ok := f.Get(name)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), t == float64(int64(t))
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	}
	return 0, false
}

// Bool returns the boolean stored under name.
func (f Fields) Bool(name string) (bool, bool) {
	v, ok := f.Get(name)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Set stores v under name, allocating the bag if needed. A nil v removes
// the key.
func (f *Fields) Set(name string, v any) {
	if v == nil {
		f.Delete(name)
		return
	}
	if *f == nil {
		*f = make(Fields)
	}
	(*f)[name] = v
}

// Delete removes name from the bag.
func (f *Fields) Delete(name string) {
	if *f != nil {
		delete(*f, name)
	}
}

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// FieldType is the declared type of an extension field.
type FieldType string

// Supported field types.
const (
	TypeString FieldType = "string"
	TypeText   FieldType = "text"
	TypeTime   FieldType = "time"
	TypeInt    FieldType = "int"
	TypeBool   FieldType = "bool"
)

// Schema lists extension-contributed fields per record kind.
type Schema map[Kind]map[string]FieldType

// Add declares a field, failing when it was declared with a different type.
func (s Schema) Add(kind Kind, name string, typ FieldType) error {
	fields, ok := s[kind]
	if !ok {
		fields = make(map[string]FieldType)
		s[kind] = fields
	}
	if prev, ok := fields[name]; ok && prev != typ {
		return fmt.Errorf("field %s.%s declared as %s and %s", kind, name, prev, typ)
	}
	fields[name] = typ
	return nil
}

// Merge adds every field of other to s.
func (s Schema) Merge(other Schema) error {
	for kind, fields := range other {
		for name, typ := range fields {
			if err := s.Add(kind, name, typ); err != nil {
				return err
			}
		}
	}
	return nil
}

// Has reports whether the field is declared.
func (s Schema) Has(kind Kind, name string) bool {
	_, ok := s[kind][name]
	return ok
}
