package table

import (
	"fmt"
	"math"
)

// Melt unpivots valueVars into (varName, valueName) pairs, keeping idVars.
// Rows are emitted variable-major, matching the usual long-form layout.
func (f *Frame) Melt(idVars, valueVars []string, varName, valueName string) (*Frame, error) {
	for _, c := range append(append([]string(nil), idVars...), valueVars...) {
		if !f.HasColumn(c) {
			return nil, fmt.Errorf("melt: unknown column %q", c)
		}
	}
	cols := append(append([]string(nil), idVars...), varName, valueName)
	data := make(map[string][]interface{}, len(cols))
	for _, v := range valueVars {
		for i := 0; i < f.rows; i++ {
			for _, id := range idVars {
				data[id] = append(data[id], f.data[id][i])
			}
			data[varName] = append(data[varName], v)
			data[valueName] = append(data[valueName], f.data[v][i])
		}
	}
	for _, c := range cols {
		if data[c] == nil {
			data[c] = []interface{}{}
		}
	}
	return New(cols, data)
}

// Matrix is a pivoted numeric grid. Z[i][j] belongs to row label Y[i] and
// column label X[j]; missing cells are NaN.
type Matrix struct {
	X []string
	Y []string
	Z [][]float64
}

// Pivot spreads a long frame into a matrix keyed by index (rows) and
// columns. Labels keep first-seen order. Duplicate cells take the mean.
func (f *Frame) Pivot(index, columns, values string) (*Matrix, error) {
	for _, c := range []string{index, columns, values} {
		if !f.HasColumn(c) {
			return nil, fmt.Errorf("pivot: unknown column %q", c)
		}
	}
	vals, ok := f.Floats(values)
	if !ok {
		return nil, fmt.Errorf("pivot: column %q is not numeric", values)
	}

	rowLabels := f.Strings(index)
	colLabels := f.Strings(columns)
	rowPos, colPos := map[string]int{}, map[string]int{}
	m := &Matrix{}
	for i := 0; i < f.rows; i++ {
		if _, ok := rowPos[rowLabels[i]]; !ok {
			rowPos[rowLabels[i]] = len(m.Y)
			m.Y = append(m.Y, rowLabels[i])
		}
		if _, ok := colPos[colLabels[i]]; !ok {
			colPos[colLabels[i]] = len(m.X)
			m.X = append(m.X, colLabels[i])
		}
	}

	sums := make([][]float64, len(m.Y))
	counts := make([][]int, len(m.Y))
	for r := range sums {
		sums[r] = make([]float64, len(m.X))
		counts[r] = make([]int, len(m.X))
	}
	for i := 0; i < f.rows; i++ {
		if math.IsNaN(vals[i]) {
			continue
		}
		r, c := rowPos[rowLabels[i]], colPos[colLabels[i]]
		sums[r][c] += vals[i]
		counts[r][c]++
	}

	m.Z = make([][]float64, len(m.Y))
	for r := range m.Z {
		m.Z[r] = make([]float64, len(m.X))
		for c := range m.Z[r] {
			if counts[r][c] == 0 {
				m.Z[r][c] = math.NaN()
				continue
			}
			m.Z[r][c] = sums[r][c] / float64(counts[r][c])
		}
	}
	return m, nil
}
