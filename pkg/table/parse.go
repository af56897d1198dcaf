package table

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedShape = errors.New("unsupported tabular json shape")

// object keeps JSON key order, which maps lose.
type object struct {
	keys []string
	vals map[string]interface{}
}

// Parse reads tabular JSON in any of the shapes data tools emit:
//   - records: [{"a": 1, "b": 2}, ...]
//   - split:   {"columns": ["a", "b"], "data": [[1, 2], ...]}
//   - dict:    {"a": [1, ...], "b": [2, ...]} or {"a": {"0": 1}, "b": {"0": 2}}
//
// Single-quoted pseudo JSON is retried with double quotes.
func Parse(raw string) (*Frame, error) {
	v, err := decodeOrdered(raw)
	if err != nil && strings.Contains(raw, "'") {
		v, err = decodeOrdered(strings.ReplaceAll(raw, "'", "\""))
	}
	if err != nil {
		return nil, fmt.Errorf("parse tabular json: %w", err)
	}

	var f *Frame
	switch x := v.(type) {
	case []interface{}:
		f, err = fromRecords(x)
	case *object:
		if x.has("columns") && x.has("data") {
			f, err = fromSplit(x)
		} else if inner, ok := singleWrapped(x); ok {
			f, err = fromRecords(inner)
		} else {
			f, err = fromDict(x)
		}
	default:
		err = ErrUnsupportedShape
	}
	if err != nil {
		return nil, err
	}
	if f.Len() == 0 {
		return nil, ErrEmpty
	}
	return f, nil
}

func (o *object) has(k string) bool {
	_, ok := o.vals[k]
	return ok
}

// singleWrapped unwraps {"rows": [{...}, ...]} style envelopes.
func singleWrapped(o *object) ([]interface{}, bool) {
	if len(o.keys) != 1 {
		return nil, false
	}
	arr, ok := o.vals[o.keys[0]].([]interface{})
	if !ok || len(arr) == 0 {
		return nil, false
	}
	if _, isObj := arr[0].(*object); !isObj {
		return nil, false
	}
	return arr, true
}

func fromRecords(rows []interface{}) (*Frame, error) {
	var columns []string
	seen := map[string]bool{}
	records := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		o, ok := r.(*object)
		if !ok {
			return nil, fmt.Errorf("%w: records must be objects", ErrUnsupportedShape)
		}
		for _, k := range o.keys {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
		records = append(records, o.vals)
	}
	return fromScalarRecords(columns, records)
}

func fromScalarRecords(columns []string, records []map[string]interface{}) (*Frame, error) {
	for _, r := range records {
		for k, v := range r {
			r[k] = scalar(v)
		}
	}
	return FromRecords(columns, records), nil
}

func fromSplit(o *object) (*Frame, error) {
	rawCols, ok := o.vals["columns"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: columns must be an array", ErrUnsupportedShape)
	}
	columns := make([]string, len(rawCols))
	for i, c := range rawCols {
		columns[i] = Format(scalar(c))
	}
	rows, ok := o.vals["data"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: data must be an array", ErrUnsupportedShape)
	}
	data := make(map[string][]interface{}, len(columns))
	for _, r := range rows {
		cells, ok := r.([]interface{})
		if !ok || len(cells) != len(columns) {
			return nil, fmt.Errorf("%w: row width does not match columns", ErrUnsupportedShape)
		}
		for i, c := range columns {
			data[c] = append(data[c], scalar(cells[i]))
		}
	}
	if len(rows) == 0 {
		for _, c := range columns {
			data[c] = []interface{}{}
		}
	}
	return New(columns, data)
}

func fromDict(o *object) (*Frame, error) {
	data := make(map[string][]interface{}, len(o.keys))
	for _, k := range o.keys {
		switch col := o.vals[k].(type) {
		case []interface{}:
			vals := make([]interface{}, len(col))
			for i, v := range col {
				vals[i] = scalar(v)
			}
			data[k] = vals
		case *object:
			vals := make([]interface{}, len(col.keys))
			for i, idx := range col.keys {
				vals[i] = scalar(col.vals[idx])
			}
			data[k] = vals
		default:
			return nil, fmt.Errorf("%w: column %q is not a sequence", ErrUnsupportedShape, k)
		}
	}
	return New(o.keys, data)
}

// scalar flattens nested values to text so every cell is printable.
func scalar(v interface{}) interface{} {
	switch x := v.(type) {
	case *object, []interface{}:
		b, err := json.Marshal(plain(x))
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return x
	}
}

func plain(v interface{}) interface{} {
	switch x := v.(type) {
	case *object:
		m := make(map[string]interface{}, len(x.keys))
		for _, k := range x.keys {
			m[k] = plain(x.vals[k])
		}
		return m
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	default:
		return x
	}
}

func decodeOrdered(raw string) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(raw))))
	dec.UseNumber()
	v, err := readValue(dec)
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after json value")
	}
	return v, nil
}

func readValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			o := &object{vals: map[string]interface{}{}}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T", kt)
				}
				val, err := readValue(dec)
				if err != nil {
					return nil, err
				}
				if _, dup := o.vals[key]; !dup {
					o.keys = append(o.keys, key)
				}
				o.vals[key] = val
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return o, nil
		case '[':
			arr := []interface{}{}
			for dec.More() {
				val, err := readValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String(), nil
		}
		return f, nil
	default:
		return t, nil
	}
}
