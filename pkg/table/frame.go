// Package table holds the small column-ordered data frame the visualization
// pipeline and harmonization handler share.
package table

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var ErrEmpty = errors.New("table has no rows")

// Frame is a column-ordered table. Values are float64, string, bool or nil.
type Frame struct {
	columns []string
	data    map[string][]interface{}
	rows    int
}

// New builds a frame from ordered columns; every column must have equal length.
func New(columns []string, data map[string][]interface{}) (*Frame, error) {
	f := &Frame{columns: append([]string(nil), columns...), data: make(map[string][]interface{}, len(columns))}
	for i, c := range columns {
		vals, ok := data[c]
		if !ok {
			return nil, fmt.Errorf("column %q has no data", c)
		}
		if i == 0 {
			f.rows = len(vals)
		} else if len(vals) != f.rows {
			return nil, fmt.Errorf("column %q has %d values, want %d", c, len(vals), f.rows)
		}
		f.data[c] = append([]interface{}(nil), vals...)
	}
	return f, nil
}

// FromRecords builds a frame from row maps using the given column order.
func FromRecords(columns []string, records []map[string]interface{}) *Frame {
	data := make(map[string][]interface{}, len(columns))
	for _, c := range columns {
		col := make([]interface{}, len(records))
		for i, r := range records {
			col[i] = normalize(r[c])
		}
		data[c] = col
	}
	f, _ := New(columns, data)
	return f
}

func (f *Frame) Columns() []string {
	return append([]string(nil), f.columns...)
}

func (f *Frame) Len() int {
	return f.rows
}

func (f *Frame) HasColumn(name string) bool {
	_, ok := f.data[name]
	return ok
}

// Column returns a copy of the named column, or nil.
func (f *Frame) Column(name string) []interface{} {
	col, ok := f.data[name]
	if !ok {
		return nil
	}
	return append([]interface{}(nil), col...)
}

// Value returns the cell at row i.
func (f *Frame) Value(name string, i int) interface{} {
	col := f.data[name]
	if i < 0 || i >= len(col) {
		return nil
	}
	return col[i]
}

// Floats returns the numeric view of a column; ok is false when any non-nil
// value is not numeric. Nil cells become NaN.
func (f *Frame) Floats(name string) ([]float64, bool) {
	col, found := f.data[name]
	if !found {
		return nil, false
	}
	out := make([]float64, len(col))
	for i, v := range col {
		switch x := v.(type) {
		case float64:
			out[i] = x
		case nil:
			out[i] = math.NaN()
		default:
			return nil, false
		}
	}
	return out, true
}

// Strings renders a column as text.
func (f *Frame) Strings(name string) []string {
	col := f.data[name]
	out := make([]string, len(col))
	for i, v := range col {
		out[i] = Format(v)
	}
	return out
}

// IsNumeric reports whether every non-nil value in the column is a number
// and at least one is present.
func (f *Frame) IsNumeric(name string) bool {
	seen := false
	for _, v := range f.data[name] {
		switch v.(type) {
		case float64:
			seen = true
		case nil:
		default:
			return false
		}
	}
	return seen
}

// NumericColumns lists numeric columns in frame order.
func (f *Frame) NumericColumns() []string {
	var out []string
	for _, c := range f.columns {
		if f.IsNumeric(c) {
			out = append(out, c)
		}
	}
	return out
}

// WithColumn returns a copy with an added or replaced column.
func (f *Frame) WithColumn(name string, values []interface{}) (*Frame, error) {
	if len(f.columns) > 0 && len(values) != f.rows {
		return nil, fmt.Errorf("column %q has %d values, want %d", name, len(values), f.rows)
	}
	cols := f.Columns()
	if !f.HasColumn(name) {
		cols = append(cols, name)
	}
	data := make(map[string][]interface{}, len(cols))
	for k, v := range f.data {
		data[k] = v
	}
	data[name] = values
	return New(cols, data)
}

// WithRowIndex prepends a 0-based integer column called name.
func (f *Frame) WithRowIndex(name string) *Frame {
	idx := make([]interface{}, f.rows)
	for i := range idx {
		idx[i] = float64(i)
	}
	cols := append([]string{name}, f.columns...)
	data := make(map[string][]interface{}, len(cols))
	for k, v := range f.data {
		data[k] = v
	}
	data[name] = idx
	out, _ := New(cols, data)
	return out
}

// Head returns up to n rows as records.
func (f *Frame) Head(n int) []map[string]interface{} {
	if n > f.rows {
		n = f.rows
	}
	out := make([]map[string]interface{}, n)
	for i := 0; i < n; i++ {
		row := make(map[string]interface{}, len(f.columns))
		for _, c := range f.columns {
			row[c] = f.data[c][i]
		}
		out[i] = row
	}
	return out
}

// Records returns every row as a map.
func (f *Frame) Records() []map[string]interface{} {
	return f.Head(f.rows)
}

// DTypes names the storage type of each column the way data tools print it.
func (f *Frame) DTypes() map[string]string {
	out := make(map[string]string, len(f.columns))
	for _, c := range f.columns {
		out[c] = f.dtype(c)
	}
	return out
}

func (f *Frame) dtype(c string) string {
	if f.IsNumeric(c) {
		for _, v := range f.data[c] {
			if x, ok := v.(float64); ok && x != math.Trunc(x) {
				return "float64"
			}
		}
		return "int64"
	}
	allBool := len(f.data[c]) > 0
	for _, v := range f.data[c] {
		if _, ok := v.(bool); !ok {
			allBool = false
			break
		}
	}
	if allBool {
		return "bool"
	}
	return "object"
}

// Stats is the per-column numeric summary.
type Stats struct {
	Count float64 `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Q25   float64 `json:"25%"`
	Q50   float64 `json:"50%"`
	Q75   float64 `json:"75%"`
	Max   float64 `json:"max"`
}

// Describe summarizes numeric columns. NaN cells are skipped.
func (f *Frame) Describe() map[string]Stats {
	out := map[string]Stats{}
	for _, c := range f.NumericColumns() {
		vals, _ := f.Floats(c)
		var xs []float64
		for _, v := range vals {
			if !math.IsNaN(v) {
				xs = append(xs, v)
			}
		}
		if len(xs) == 0 {
			continue
		}
		sort.Float64s(xs)
		var sum float64
		for _, x := range xs {
			sum += x
		}
		mean := sum / float64(len(xs))
		var ss float64
		for _, x := range xs {
			ss += (x - mean) * (x - mean)
		}
		std := math.NaN()
		if len(xs) > 1 {
			std = math.Sqrt(ss / float64(len(xs)-1))
		}
		out[c] = Stats{
			Count: float64(len(xs)),
			Mean:  mean,
			Std:   std,
			Min:   xs[0],
			Q25:   quantile(xs, 0.25),
			Q50:   quantile(xs, 0.5),
			Q75:   quantile(xs, 0.75),
			Max:   xs[len(xs)-1],
		}
	}
	return out
}

// quantile uses linear interpolation over sorted xs.
func quantile(xs []float64, q float64) float64 {
	pos := q * float64(len(xs)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return xs[lo]
	}
	return xs[lo] + (xs[hi]-xs[lo])*(pos-float64(lo))
}

// Format renders one cell for CSV and labels.
func Format(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	default:
		return fmt.Sprint(x)
	}
}
