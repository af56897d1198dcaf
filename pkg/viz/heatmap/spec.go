package heatmap

import (
	"strings"

	"bioinsight-be/pkg/table"
)

// Spec is the declarative chart description exported with the data.
type Spec struct {
	Source         Source         `json:"source"`
	Transformation []interface{}  `json:"transformation"`
	Representation Representation `json:"representation"`
}

type Source struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

type Representation struct {
	Mark    string    `json:"mark"`
	Mapping []Mapping `json:"mapping"`
	Layout  Layout    `json:"layout"`
}

type Mapping struct {
	Encoding string `json:"encoding"`
	Field    string `json:"field"`
	Type     string `json:"type"`
	Scale    *Scale `json:"scale,omitempty"`
}

type Scale struct {
	Colorscale string   `json:"colorscale"`
	Zmin       *float64 `json:"zmin,omitempty"`
	Zmax       *float64 `json:"zmax,omitempty"`
}

type Layout struct {
	Title      string `json:"title"`
	XAxisTitle string `json:"xaxis_title"`
	YAxisTitle string `json:"yaxis_title"`
}

// Fields are the long-form columns bound to x, y and color.
type Fields struct {
	X     string
	Y     string
	Color string
}

// InferFields prefers the canonical long-form names and otherwise falls back
// to the first, second and last columns.
func InferFields(f *table.Frame) Fields {
	cols := f.Columns()
	pick := func(preferred string, fallback int) string {
		if f.HasColumn(preferred) {
			return preferred
		}
		if len(cols) == 0 {
			return ""
		}
		if fallback < 0 {
			return cols[len(cols)-1]
		}
		if fallback >= len(cols) {
			fallback = len(cols) - 1
		}
		return cols[fallback]
	}
	return Fields{
		X:     pick(IndexColumn, 0),
		Y:     pick(VarColumn, 1),
		Color: pick(ValueColumn, -1),
	}
}

// BuildSpec binds fields to a heatmap representation over dataURL.
func BuildSpec(dataURL string, fields Fields, title, colorscale string, zmin, zmax *float64) Spec {
	xType := "nominal"
	if strings.Contains(fields.X, "Index") {
		xType = "ordinal"
	}
	return Spec{
		Source:         Source{Name: "heatmap_source", Source: dataURL},
		Transformation: []interface{}{},
		Representation: Representation{
			Mark: "heatmap",
			Mapping: []Mapping{
				{Encoding: "x", Field: fields.X, Type: xType},
				{Encoding: "y", Field: fields.Y, Type: "nominal"},
				{
					Encoding: "color",
					Field:    fields.Color,
					Type:     "quantitative",
					Scale:    &Scale{Colorscale: colorscale, Zmin: zmin, Zmax: zmax},
				},
			},
			Layout: Layout{Title: title, XAxisTitle: fields.X, YAxisTitle: fields.Y},
		},
	}
}

// binding looks up the mapping for one encoding.
func (s Spec) binding(encoding string) (Mapping, bool) {
	for _, m := range s.Representation.Mapping {
		if m.Encoding == encoding {
			return m, true
		}
	}
	return Mapping{}, false
}
