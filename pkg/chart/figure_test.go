package chart

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFigureJSON(t *testing.T) {
	fig := New("Expression").
		Add(Bar("TP53", []string{"a", "b"}, []float64{1, 2})).
		Axes("sample", "value")

	require.NoError(t, fig.Validate())
	b, err := fig.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"data": [{"type": "bar", "name": "TP53", "x": ["a", "b"], "y": [1, 2]}],
		"layout": {"title": "Expression", "xaxis": {"title": "sample"}, "yaxis": {"title": "value"}}
	}`, string(b))
}

func TestGridNaNEncodesAsNull(t *testing.T) {
	tr := Heatmap([]string{"x"}, []string{"a", "b"}, [][]float64{{1.5}, {math.NaN()}}, "RdBu", Float(-4), Float(4))
	b, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"z":[[1.5],[null]]`)
	assert.Contains(t, string(b), `"zmin":-4`)

	var back Trace
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, math.IsNaN(back.Z[1][0]))
}

func TestValidate_Empty(t *testing.T) {
	assert.ErrorIs(t, New("x").Validate(), ErrEmptyFigure)
	var nilFig *Figure
	assert.ErrorIs(t, nilFig.Validate(), ErrEmptyFigure)
}
