package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Field is a single named column value
type Field struct {
	Name  string
	Value interface{}
}

// Row is an ordered mapping of column name to value. Nested objects are
// represented as Row values as well.
type Row []Field

// RowFromMap builds a Row from an unordered map. Keys are sorted so the
// result is deterministic. Nested maps are converted recursively.
func RowFromMap(m map[string]interface{}) Row {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	row := make(Row, 0, len(m))
	for _, name := range names {
		value := m[name]
		if nested, ok := value.(map[string]interface{}); ok {
			value = RowFromMap(nested)
		}
		row = append(row, Field{Name: name, Value: value})
	}
	return row
}

// AsRow converts v to a Row when it is a Row or a map
func AsRow(v interface{}) (Row, bool) {
	switch t := v.(type) {
	case Row:
		return t, true
	case map[string]interface{}:
		return RowFromMap(t), true
	default:
		return nil, false
	}
}

// Get returns the value of the named field
func (r Row) Get(name string) (interface{}, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Names returns the field names in order
func (r Row) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

// Clone returns a shallow copy of the row. A nil row stays nil.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Set returns the row with name set to value, replacing an existing field in
// place or appending a new one.
func (r Row) Set(name string, value interface{}) Row {
	for i, f := range r {
		if f.Name == name {
			r[i].Value = value
			return r
		}
	}
	return append(r, Field{Name: name, Value: value})
}

// Without returns a copy of the row with the named fields removed
func (r Row) Without(names ...string) Row {
	out := make(Row, 0, len(r))
	for _, f := range r {
		drop := false
		for _, name := range names {
			if f.Name == name {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, f)
		}
	}
	return out
}

// Map returns the row as an unordered map, converting nested rows too
func (r Row) Map() map[string]interface{} {
	if r == nil {
		return nil
	}
	m := make(map[string]interface{}, len(r))
	for _, f := range r {
		if nested, ok := f.Value.(Row); ok {
			m[f.Name] = nested.Map()
			continue
		}
		m[f.Name] = f.Value
	}
	return m
}

// UnmarshalJSON decodes a JSON object keeping the field order. Integral
// numbers decode to int64, other numbers to float64.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeJSONValue(dec)
	if err != nil {
		return err
	}
	if v == nil {
		*r = nil
		return nil
	}
	row, ok := v.(Row)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*r = row
	return nil
}

func decodeJSONValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			row := Row{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				name, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("invalid object key: %v", keyTok)
				}
				value, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				row = row.Set(name, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return row, nil
		case '[':
			list := []interface{}{}
			for dec.More() {
				value, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return f, nil
	default:
		return t, nil
	}
}
