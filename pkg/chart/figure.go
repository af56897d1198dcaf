// Package chart is a plotly-compatible figure model. Figures marshal to the
// {"data": [...], "layout": {...}} JSON that plotly front ends render.
package chart

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

var ErrEmptyFigure = errors.New("figure has no traces")

type Figure struct {
	Data   []*Trace `json:"data"`
	Layout Layout   `json:"layout"`
}

type Layout struct {
	Title   string `json:"title,omitempty"`
	XAxis   *Axis  `json:"xaxis,omitempty"`
	YAxis   *Axis  `json:"yaxis,omitempty"`
	Barmode string `json:"barmode,omitempty"`
}

type Axis struct {
	Title string `json:"title,omitempty"`
}

type Trace struct {
	Type        string      `json:"type"`
	Name        string      `json:"name,omitempty"`
	Mode        string      `json:"mode,omitempty"`
	X           interface{} `json:"x,omitempty"`
	Y           interface{} `json:"y,omitempty"`
	Z           Grid        `json:"z,omitempty"`
	Labels      []string    `json:"labels,omitempty"`
	Values      []float64   `json:"values,omitempty"`
	Orientation string      `json:"orientation,omitempty"`
	Colorscale  string      `json:"colorscale,omitempty"`
	Zmin        *float64    `json:"zmin,omitempty"`
	Zmax        *float64    `json:"zmax,omitempty"`
}

// Grid is a numeric matrix whose NaN cells encode as null.
type Grid [][]float64

func (g Grid) MarshalJSON() ([]byte, error) {
	if g == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range g {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		for j, v := range row {
			if j > 0 {
				buf.WriteByte(',')
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				buf.WriteString("null")
				continue
			}
			buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		buf.WriteByte(']')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (g *Grid) UnmarshalJSON(b []byte) error {
	var raw [][]*float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Grid, len(raw))
	for i, row := range raw {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			if v == nil {
				out[i][j] = math.NaN()
				continue
			}
			out[i][j] = *v
		}
	}
	*g = out
	return nil
}

// New starts an empty figure with a title.
func New(title string) *Figure {
	return &Figure{Layout: Layout{Title: title}}
}

func (f *Figure) Add(traces ...*Trace) *Figure {
	f.Data = append(f.Data, traces...)
	return f
}

func (f *Figure) Axes(xTitle, yTitle string) *Figure {
	f.Layout.XAxis = &Axis{Title: xTitle}
	f.Layout.YAxis = &Axis{Title: yTitle}
	return f
}

func (f *Figure) Stack() *Figure {
	f.Layout.Barmode = "stack"
	return f
}

func (f *Figure) Group() *Figure {
	f.Layout.Barmode = "group"
	return f
}

func (f *Figure) Validate() error {
	if f == nil || len(f.Data) == 0 {
		return ErrEmptyFigure
	}
	return nil
}

func (f *Figure) JSON() ([]byte, error) {
	return json.Marshal(f)
}
