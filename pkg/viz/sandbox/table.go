package sandbox

import (
	"math"
	"sort"

	"bioinsight-be/pkg/table"
)

// Table is the read-only view of a frame that chart scripts see.
type Table struct {
	f *table.Frame
}

func NewTable(f *table.Frame) *Table {
	return &Table{f: f}
}

func (t *Table) Columns() []string { return t.f.Columns() }

func (t *Table) Len() int { return t.f.Len() }

func (t *Table) Has(col string) bool { return t.f.HasColumn(col) }

// Col returns raw cells.
func (t *Table) Col(col string) []interface{} { return t.f.Column(col) }

// Str renders a column as text.
func (t *Table) Str(col string) []string { return t.f.Strings(col) }

// Num returns a numeric column; non-numeric cells become NaN.
func (t *Table) Num(col string) []float64 {
	if vals, ok := t.f.Floats(col); ok {
		return vals
	}
	raw := t.f.Column(col)
	out := make([]float64, len(raw))
	for i, v := range raw {
		if x, ok := v.(float64); ok {
			out[i] = x
			continue
		}
		out[i] = math.NaN()
	}
	return out
}

// Counts tallies distinct values of col, most frequent first.
func (t *Table) Counts(col string) ([]string, []float64) {
	counts := map[string]float64{}
	var order []string
	for _, v := range t.f.Strings(col) {
		if _, ok := counts[v]; !ok {
			order = append(order, v)
		}
		counts[v]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	vals := make([]float64, len(order))
	for i, k := range order {
		vals[i] = counts[k]
	}
	return order, vals
}

// Sum totals val grouped by key, in first-seen key order.
func (t *Table) Sum(key, val string) ([]string, []float64) {
	return t.group(key, val, false)
}

// Mean averages val grouped by key, in first-seen key order.
func (t *Table) Mean(key, val string) ([]string, []float64) {
	return t.group(key, val, true)
}

func (t *Table) group(key, val string, mean bool) ([]string, []float64) {
	keys := t.f.Strings(key)
	vals := t.Num(val)
	sums := map[string]float64{}
	counts := map[string]float64{}
	var order []string
	for i, k := range keys {
		if _, ok := sums[k]; !ok {
			order = append(order, k)
		}
		if i < len(vals) && !math.IsNaN(vals[i]) {
			sums[k] += vals[i]
			counts[k]++
		}
	}
	out := make([]float64, len(order))
	for i, k := range order {
		out[i] = sums[k]
		if mean {
			if counts[k] == 0 {
				out[i] = math.NaN()
			} else {
				out[i] = sums[k] / counts[k]
			}
		}
	}
	return order, out
}
