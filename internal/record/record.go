// Package record defines the ordered field/value document that flows from the
// relational source into the search index.
package record

import (
	"bytes"
	"fmt"
	"io"

	"github.com/elliotchance/orderedmap/v2"
	jsoniter "github.com/json-iterator/go"
	"go.elastic.co/fastjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// decodeJSON keeps numbers as json.Number so 64-bit ids and big integers
// survive a decode/encode cycle unchanged.
var decodeJSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Record is an ordered mapping from field name to value. Field order is the
// column order of the producing query and is kept when encoding to JSON.
type Record struct {
	fields *orderedmap.OrderedMap[string, any]
}

// New returns an empty Record.
func New() *Record {
	return &Record{fields: orderedmap.NewOrderedMap[string, any]()}
}

// FromColumns builds a Record from parallel column and value slices, as
// produced by a database/sql scan. Values are normalized with NormalizeValue.
func FromColumns(columns []string, values []any) *Record {
	r := New()
	for i, col := range columns {
		var v any
		if i < len(values) {
			v = values[i]
		}
		r.fields.Set(col, NormalizeValue(v))
	}
	return r
}

// Set adds or replaces a field. New fields are appended at the end.
func (r *Record) Set(key string, value any) {
	r.fields.Set(key, value)
}

// Get returns the value of a field.
func (r *Record) Get(key string) (any, bool) {
	return r.fields.Get(key)
}

// Delete removes a field and reports whether it was present.
func (r *Record) Delete(key string) bool {
	return r.fields.Delete(key)
}

// Rename moves the value of from to the key to, keeping its position.
// It reports false when from does not exist. An existing field named to is
// overwritten.
func (r *Record) Rename(from, to string) bool {
	if from == to {
		_, ok := r.fields.Get(from)
		return ok
	}
	if _, ok := r.fields.Get(from); !ok {
		return false
	}

	renamed := orderedmap.NewOrderedMap[string, any]()
	for el := r.fields.Front(); el != nil; el = el.Next() {
		switch el.Key {
		case from:
			renamed.Set(to, el.Value)
		case to:
			// dropped, replaced by the renamed field
		default:
			renamed.Set(el.Key, el.Value)
		}
	}
	r.fields = renamed
	return true
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return r.fields.Len()
}

// Fields returns the field names in order.
func (r *Record) Fields() []string {
	keys := make([]string, 0, r.fields.Len())
	for el := r.fields.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Key)
	}
	return keys
}

// Range calls fn for every field in order until fn returns false.
func (r *Record) Range(fn func(key string, value any) bool) {
	for el := r.fields.Front(); el != nil; el = el.Next() {
		if !fn(el.Key, el.Value) {
			return
		}
	}
}

// MarshalJSON encodes the record as a JSON object with fields in order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var w fastjson.Writer
	if err := r.encode(&w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// WriteTo writes the JSON encoding of the record to w.
func (r *Record) WriteTo(w io.Writer) (int64, error) {
	var jw fastjson.Writer
	if err := r.encode(&jw); err != nil {
		return 0, err
	}
	n, err := w.Write(jw.Bytes())
	return int64(n), err
}

func (r *Record) encode(w *fastjson.Writer) error {
	w.RawByte('{')
	first := true
	for el := r.fields.Front(); el != nil; el = el.Next() {
		if !first {
			w.RawByte(',')
		}
		first = false
		w.String(el.Key)
		w.RawByte(':')

		value, err := json.Marshal(el.Value)
		if err != nil {
			return &EncodeError{Field: el.Key, Err: err}
		}
		w.RawBytes(value)
	}
	w.RawByte('}')
	return nil
}

// UnmarshalJSON decodes a JSON object into the record keeping key order.
// Numbers are kept as json.Number.
func (r *Record) UnmarshalJSON(data []byte) error {
	iter := jsoniter.ParseBytes(decodeJSON, data)
	fields := orderedmap.NewOrderedMap[string, any]()
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		fields.Set(key, it.Read())
		return true
	})
	if iter.Error != nil {
		return fmt.Errorf("failed to decode record: %w", iter.Error)
	}
	r.fields = fields
	return nil
}

// String returns the JSON encoding, or an empty object on failure.
func (r *Record) String() string {
	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		return "{}"
	}
	return buf.String()
}

// EncodeError is returned when a field value cannot be encoded as JSON.
type EncodeError struct {
	Field string
	Err   error
}

func (e *EncodeError) Error() string {
	return "failed to encode field " + e.Field + ": " + e.Err.Error()
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}
