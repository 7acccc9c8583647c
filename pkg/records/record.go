package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Record is an ordered mapping from column name to Value. Lookups are
// case-insensitive; the first spelling a name was set with is kept.
type Record struct {
	names []string
	vals  []Value
	index map[string]int
}

// New returns an empty record with room for n columns.
func New(n int) *Record {
	return &Record{
		names: make([]string, 0, n),
		vals:  make([]Value, 0, n),
		index: make(map[string]int, n),
	}
}

// FromMap builds a record from a decoded JSON object. Keys are sorted so the
// resulting column order is deterministic.
func FromMap(m map[string]any) *Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := New(len(keys))
	for _, k := range keys {
		r.Set(k, FromAny(m[k]))
	}
	return r
}

// DecodeJSON parses a JSON object into a record, preserving the document's
// key order and decoding numbers exactly.
func DecodeJSON(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("records: decode: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("records: decode: expected JSON object, got %v", tok)
	}
	r := New(8)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("records: decode: %w", err)
		}
		key, _ := kt.(string)
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("records: decode %q: %w", key, err)
		}
		r.Set(key, FromAny(raw))
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("records: decode: %w", err)
	}
	return r, nil
}

func key(name string) string { return strings.ToUpper(name) }

// Set assigns v to name, appending the column when it is new.
func (r *Record) Set(name string, v Value) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	k := key(name)
	if i, ok := r.index[k]; ok {
		r.vals[i] = v
		return
	}
	r.index[k] = len(r.names)
	r.names = append(r.names, name)
	r.vals = append(r.vals, v)
}

// Get returns the value for name and whether the column exists.
func (r *Record) Get(name string) (Value, bool) {
	if r == nil {
		return Null, false
	}
	i, ok := r.index[key(name)]
	if !ok {
		return Null, false
	}
	return r.vals[i], true
}

// Value returns the value for name, or Null when absent.
func (r *Record) Value(name string) Value {
	v, _ := r.Get(name)
	return v
}

// Has reports whether name is a column of r.
func (r *Record) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the column names in insertion order.
func (r *Record) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}

// Each calls fn for every column in order.
func (r *Record) Each(fn func(name string, v Value)) {
	if r == nil {
		return
	}
	for i, n := range r.names {
		fn(n, r.vals[i])
	}
}

// Clone returns an independent copy of r.
func (r *Record) Clone() *Record {
	c := New(r.Len())
	r.Each(func(n string, v Value) { c.Set(n, v) })
	return c
}

// MarshalJSON writes the record as a JSON object in column order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := r.vals[i].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler via DecodeJSON.
func (r *Record) UnmarshalJSON(b []byte) error {
	d, err := DecodeJSON(b)
	if err != nil {
		return err
	}
	*r = *d
	return nil
}
