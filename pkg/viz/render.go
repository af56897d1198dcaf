// Package viz turns a source's tabular result into a chart: an LLM writes a
// chart script, a second pass reviews it, and the sandbox runs it.
package viz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/internal/tracer"
	"bioinsight-be/pkg/chart"
	"bioinsight-be/pkg/llm"
	"bioinsight-be/pkg/llm/structured"
	"bioinsight-be/pkg/table"
	"bioinsight-be/pkg/viz/heatmap"
	"bioinsight-be/pkg/viz/sandbox"

	"go.opentelemetry.io/otel/attribute"
)

// RenderFailed is the sentinel code reported when no chart could be made.
const RenderFailed = -1

// ErrRender carries the RenderFailed sentinel. Callers fall back to the
// text-only answer when they see it.
var ErrRender = errors.New("render failed (-1)")

// MaxTables bounds how many tables one chart may combine.
const MaxTables = 2

var heatmapRe = regexp.MustCompile(`(?i)heat[\s\-]?map`)

// IsHeatmapRequest reports whether the query asks for a heatmap.
func IsHeatmapRequest(query string) bool {
	return heatmapRe.MatchString(query)
}

// Renderer runs the generate, reflect and execute pipeline.
type Renderer struct {
	coder    llm.LLMProvider
	reviewer llm.LLMProvider
	runner   *sandbox.Runner
	heatmaps *heatmap.Builder
	logger   logger.ILogger
}

// NewRenderer wires the pipeline. coder writes scripts; reviewer runs the
// reflection pass and may be the same provider.
func NewRenderer(coder, reviewer llm.LLMProvider, runner *sandbox.Runner, heatmaps *heatmap.Builder, log logger.ILogger) *Renderer {
	if reviewer == nil {
		reviewer = coder
	}
	return &Renderer{coder: coder, reviewer: reviewer, runner: runner, heatmaps: heatmaps, logger: log}
}

// Render converts tables (JSON text, one per dataset) into a chart artifact.
// Every failure is reported as ErrRender.
func (r *Renderer) Render(ctx context.Context, tables []string, query string) (art *chart.Artifact, err error) {
	ctx, end := tracer.Step(ctx, "viz.render", attribute.Int("tables", len(tables)))
	defer func() { end(err) }()

	switch {
	case len(tables) > MaxTables:
		r.logger.Warn("VIZ", "Too many datasets for one chart", map[string]interface{}{"tables": len(tables)})
		return nil, fmt.Errorf("%w: %d datasets, at most %d supported", ErrRender, len(tables), MaxTables)
	case len(tables) == 0:
		r.logger.Warn("VIZ", "No datasets to chart", nil)
		return nil, fmt.Errorf("%w: no datasets", ErrRender)
	case len(tables) == 2:
		return r.renderPair(ctx, tables[0], tables[1], query)
	}

	frame, err := table.Parse(tables[0])
	if err != nil {
		r.logger.Warn("VIZ", "Dataset could not be parsed", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	if IsHeatmapRequest(query) {
		r.logger.Info("VIZ", "Heatmap requested, using heatmap pipeline", nil)
		art, err := r.heatmaps.Build(ctx, frame)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRender, err)
		}
		return art, nil
	}

	prompt := singlePrompt(frame, query, r.runner.AllowedImports())
	fig, err := r.generateAndRun(ctx, prompt, sandbox.Tables{"DF": sandbox.NewTable(frame)})
	if err != nil {
		return nil, err
	}
	return &chart.Artifact{Figure: fig}, nil
}

func (r *Renderer) renderPair(ctx context.Context, raw1, raw2, query string) (*chart.Artifact, error) {
	df1, err1 := table.Parse(raw1)
	df2, err2 := table.Parse(raw2)
	if err := errors.Join(err1, err2); err != nil {
		r.logger.Warn("VIZ", "One or both datasets could not be parsed", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}

	prompt := pairPrompt(df1, df2, query, r.runner.AllowedImports())
	fig, err := r.generateAndRun(ctx, prompt, sandbox.Tables{
		"DF1": sandbox.NewTable(df1),
		"DF2": sandbox.NewTable(df2),
	})
	if err != nil {
		return nil, err
	}
	return &chart.Artifact{Figure: fig}, nil
}

func (r *Renderer) generateAndRun(ctx context.Context, prompt string, tables sandbox.Tables) (*chart.Figure, error) {
	genCtx, end := tracer.Step(ctx, "viz.generate")
	code, err := r.coder.Chat(genCtx, []llm.Message{
		{Role: llm.RoleSystem, Content: coderSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	})
	end(err)
	if err != nil {
		r.logger.Warn("VIZ", "Script generation failed", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("%w: generate: %v", ErrRender, err)
	}

	reflCtx, end := tracer.Step(ctx, "viz.reflect")
	reviewed, err := r.reviewer.Chat(reflCtx, []llm.Message{
		{Role: llm.RoleSystem, Content: reviewerSystemPrompt},
		{Role: llm.RoleUser, Content: reflectionPrompt(prompt, code)},
	})
	end(err)
	if err != nil {
		r.logger.Warn("VIZ", "Script reflection failed", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("%w: reflect: %v", ErrRender, err)
	}
	script := CleanScript(reviewed)

	runCtx, end := tracer.Step(ctx, "viz.execute")
	fig, err := r.runner.Run(runCtx, script, tables)
	end(err)
	if err != nil {
		r.logger.Warn("VIZ", "Script execution failed", map[string]interface{}{
			"error":  err.Error(),
			"script": logger.Truncate(script, 500),
		})
		return nil, fmt.Errorf("%w: execute: %v", ErrRender, err)
	}
	r.logger.Info("VIZ", "Chart generated", map[string]interface{}{"traces": len(fig.Data)})
	return fig, nil
}

// CleanScript strips markdown fences and language tags the model adds anyway.
func CleanScript(s string) string {
	s = structured.StripFences(s)
	s = strings.TrimPrefix(s, "go\n")
	return strings.TrimSpace(s) + "\n"
}

func summarize(name string, f *table.Frame) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s has %d rows.\n", name, f.Len())
	fmt.Fprintf(&sb, "%s columns: %s\n", name, mustJSON(f.Columns()))
	fmt.Fprintf(&sb, "%s dtypes: %s\n", name, mustJSON(f.DTypes()))
	fmt.Fprintf(&sb, "%s describe: %s\n", name, mustJSON(f.Describe()))
	fmt.Fprintf(&sb, "%s head: %s\n", name, mustJSON(f.Head(5)))
	return sb.String()
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
