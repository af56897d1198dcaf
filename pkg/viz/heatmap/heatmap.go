// Package heatmap reshapes wide expression tables to long form, exports the
// long data plus a declarative spec, and draws the figure from that spec.
package heatmap

import (
	"context"
	"encoding/json"
	"fmt"

	"bioinsight-be/internal/tracer"
	"bioinsight-be/pkg/chart"
	"bioinsight-be/pkg/storage"
	"bioinsight-be/pkg/table"

	"github.com/google/uuid"
)

const (
	IndexColumn = "Sample_Index"
	VarColumn   = "Gene"
	ValueColumn = "Expression"

	defaultTitle      = "Heatmap"
	defaultColorscale = "RdBu"
)

// metadataColumns are never melted into the value axis.
var metadataColumns = map[string]bool{
	"sample_id":         true,
	IndexColumn:         true,
	"case_submitter_id": true,
	"tumor_stage":       true,
	"tumor_grade":       true,
	"primary_diagnosis": true,
	"morphology":        true,
}

// Builder runs the heatmap sub-pipeline against a blob store.
type Builder struct {
	store storage.BlobStore
	newID func() string
}

func NewBuilder(store storage.BlobStore) *Builder {
	return &Builder{store: store, newID: func() string { return uuid.NewString() }}
}

// ToLong adds a row index when missing and melts numeric, non-metadata
// columns into Gene/Expression pairs.
func ToLong(wide *table.Frame) (*table.Frame, error) {
	if !wide.HasColumn(IndexColumn) {
		wide = wide.WithRowIndex(IndexColumn)
	}
	var values []string
	for _, c := range wide.Columns() {
		if !metadataColumns[c] && wide.IsNumeric(c) {
			values = append(values, c)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("heatmap: no numeric value columns")
	}
	return wide.Melt([]string{IndexColumn}, values, VarColumn, ValueColumn)
}

// Build exports the long-form data and spec and returns the drawn figure
// with both URLs.
func (b *Builder) Build(ctx context.Context, wide *table.Frame) (*chart.Artifact, error) {
	long, err := ToLong(wide)
	if err != nil {
		return nil, err
	}

	id := b.newID()
	dataKey := fmt.Sprintf("udi/%s_heatmap.csv", id)
	specKey := fmt.Sprintf("udi/%s_heatmap_udi_spec.json", id)

	csvBytes, err := long.CSV()
	if err != nil {
		return nil, fmt.Errorf("heatmap: encode csv: %w", err)
	}
	stepCtx, end := tracer.Step(ctx, "viz.heatmap.upload_csv")
	dataRes, err := b.store.Put(stepCtx, csvBytes, dataKey, storage.MimeCSV)
	end(err)
	if err != nil {
		return nil, fmt.Errorf("heatmap: upload data: %w", err)
	}

	spec := BuildSpec(dataRes.URL, InferFields(long), defaultTitle, defaultColorscale, chart.Float(-4), chart.Float(4))
	specBytes, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("heatmap: encode spec: %w", err)
	}
	stepCtx, end = tracer.Step(ctx, "viz.heatmap.upload_spec")
	specRes, err := b.store.Put(stepCtx, specBytes, specKey, storage.MimeJSON)
	end(err)
	if err != nil {
		return nil, fmt.Errorf("heatmap: upload spec: %w", err)
	}

	fig, err := Draw(spec, long)
	if err != nil {
		return nil, err
	}
	return &chart.Artifact{Figure: fig, SpecURL: specRes.URL, DataURL: dataRes.URL}, nil
}

// Draw pivots the long frame using the spec's bindings: rows by y, columns
// by x, cells from color.
func Draw(spec Spec, long *table.Frame) (*chart.Figure, error) {
	x, okX := spec.binding("x")
	y, okY := spec.binding("y")
	color, okC := spec.binding("color")
	if !okX || !okY || !okC {
		return nil, fmt.Errorf("heatmap: spec is missing an x, y or color binding")
	}

	m, err := long.Pivot(y.Field, x.Field, color.Field)
	if err != nil {
		return nil, fmt.Errorf("heatmap: %w", err)
	}

	colorscale := "Viridis"
	var zmin, zmax *float64
	if color.Scale != nil {
		if color.Scale.Colorscale != "" {
			colorscale = color.Scale.Colorscale
		}
		zmin, zmax = color.Scale.Zmin, color.Scale.Zmax
	}

	layout := spec.Representation.Layout
	title := layout.Title
	if title == "" {
		title = defaultTitle
	}
	xTitle, yTitle := layout.XAxisTitle, layout.YAxisTitle
	if xTitle == "" {
		xTitle = x.Field
	}
	if yTitle == "" {
		yTitle = y.Field
	}

	fig := chart.New(title).
		Add(chart.Heatmap(m.X, m.Y, m.Z, colorscale, zmin, zmax)).
		Axes(xTitle, yTitle)
	return fig, nil
}
