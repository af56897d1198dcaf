package viz

import (
	"context"
	"testing"
	"time"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/llm/llmtest"
	"bioinsight-be/pkg/storage"
	"bioinsight-be/pkg/viz/heatmap"
	"bioinsight-be/pkg/viz/sandbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type urlStore struct{}

func (urlStore) Put(_ context.Context, _ []byte, key, _ string) (storage.PutResult, error) {
	return storage.PutResult{URL: "mem://" + key}, nil
}

const genes = `[{"gene": "TP53", "count": 12}, {"gene": "EGFR", "count": 7}]`

const goodScript = "```go\npackage main\n\nimport (\n\t\"bioinsight/chart\"\n\t\"bioinsight/data\"\n)\n\n" +
	"var Fig = chart.New(\"Counts\").Add(chart.Bar(\"count\", data.DF.Str(\"gene\"), data.DF.Num(\"count\")))\n```"

const pairScript = "package main\n\nimport (\n\t\"bioinsight/chart\"\n\t\"bioinsight/data\"\n)\n\n" +
	"var Fig = chart.New(\"Both\").Add(\n\tchart.Bar(\"a\", data.DF1.Str(\"gene\"), data.DF1.Num(\"count\")),\n" +
	"\tchart.Bar(\"b\", data.DF2.Str(\"gene\"), data.DF2.Num(\"count\")),\n).Group()\n"

func newRenderer(fake *llmtest.Fake) *Renderer {
	return NewRenderer(fake, nil, sandbox.NewRunner(5*time.Second), heatmap.NewBuilder(urlStore{}), logger.NewNopLogger())
}

func TestRender_TooManyTablesSkipsLLM(t *testing.T) {
	fake := llmtest.NewFake()
	r := newRenderer(fake)

	art, err := r.Render(context.Background(), []string{genes, genes, genes}, "plot counts")
	require.ErrorIs(t, err, ErrRender)
	assert.Nil(t, art)
	assert.Empty(t, fake.Calls())
}

func TestRender_NoTables(t *testing.T) {
	fake := llmtest.NewFake()
	_, err := newRenderer(fake).Render(context.Background(), nil, "plot counts")
	require.ErrorIs(t, err, ErrRender)
	assert.Empty(t, fake.Calls())
}

func TestRender_GenerateReflectExecute(t *testing.T) {
	fake := llmtest.NewFake().
		On("You answered with the Go script", goodScript).
		On("Write a Go chart script", "package main // draft")
	r := newRenderer(fake)

	art, err := r.Render(context.Background(), []string{genes}, "bar chart of counts per gene")
	require.NoError(t, err)
	require.NotNil(t, art.Figure)
	assert.Equal(t, "Counts", art.Figure.Layout.Title)
	assert.Empty(t, art.SpecURL)

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0], `data.DF columns: ["gene","count"]`)
	assert.Contains(t, calls[1], "package main // draft")
}

func TestRender_InvalidScriptReturnsSentinel(t *testing.T) {
	fake := llmtest.NewFake().
		On("You answered with the Go script", "package main\n\nvar Fig = chart.New(").
		On("Write a Go chart script", "draft")
	r := newRenderer(fake)

	art, err := r.Render(context.Background(), []string{genes}, "bar chart")
	require.ErrorIs(t, err, ErrRender)
	assert.Nil(t, art)
}

func TestRender_UnparseableTable(t *testing.T) {
	fake := llmtest.NewFake()
	_, err := newRenderer(fake).Render(context.Background(), []string{"not a table"}, "bar chart")
	require.ErrorIs(t, err, ErrRender)
	assert.Empty(t, fake.Calls())
}

func TestRender_HeatmapBypassesGenerator(t *testing.T) {
	fake := llmtest.NewFake()
	r := newRenderer(fake)

	wide := `[{"sample_id": "S1", "TP53": 1.1, "EGFR": 0.3}, {"sample_id": "S2", "TP53": -0.4, "EGFR": 2.2}]`
	art, err := r.Render(context.Background(), []string{wide}, "Show me a heat-map of expression")
	require.NoError(t, err)
	assert.NotNil(t, art.Figure)
	assert.NotEmpty(t, art.SpecURL)
	assert.NotEmpty(t, art.DataURL)
	assert.Empty(t, fake.Calls())
}

func TestRender_TwoTables(t *testing.T) {
	fake := llmtest.NewFake().
		On("You answered with the Go script", pairScript).
		On("using both tables", "draft")
	r := newRenderer(fake)

	art, err := r.Render(context.Background(), []string{genes, genes}, "compare counts")
	require.NoError(t, err)
	require.Len(t, art.Figure.Data, 2)
	assert.Equal(t, "group", art.Figure.Layout.Barmode)
}

func TestIsHeatmapRequest(t *testing.T) {
	for _, q := range []string{"heatmap please", "a Heat Map", "heat-map of genes"} {
		assert.True(t, IsHeatmapRequest(q), q)
	}
	assert.False(t, IsHeatmapRequest("bar chart of heat shock proteins"))
}

func TestCleanScript(t *testing.T) {
	assert.Equal(t, "package main\n", CleanScript("```go\npackage main\n```"))
	assert.Equal(t, "package main\n", CleanScript("go\npackage main"))
}
