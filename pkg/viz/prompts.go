package viz

import (
	"fmt"
	"strings"

	"bioinsight-be/pkg/table"
)

const coderSystemPrompt = "You are an expert Go developer who writes chart scripts. Output only Go source code."

const reviewerSystemPrompt = "Your task is to review a Go chart script, find any bugs or rule violations, " +
	"and respond with the corrected script only."

const scriptAPI = `Script API:
- data.DF (or data.DF1 and data.DF2) is a *data.Table with methods:
    Columns() []string, Len() int, Has(col string) bool,
    Str(col string) []string, Num(col string) []float64, Col(col string) []interface{},
    Counts(col string) ([]string, []float64), Sum(key, val string) ([]string, []float64),
    Mean(key, val string) ([]string, []float64)
- chart.New(title string) *chart.Figure with methods Add(traces ...*chart.Trace), Axes(xTitle, yTitle string),
  Stack(), Group()
- Traces: chart.Bar(name, x, y), chart.HBar(name, x, y), chart.Scatter(name, x, y), chart.Line(name, x, y),
  chart.Histogram(name, x), chart.Box(name, y), chart.Pie(labels []string, values []float64),
  chart.Heatmap(x, y []string, z [][]float64, colorscale string, zmin, zmax *float64), chart.Float(v) *float64`

func rules(imports []string) string {
	return fmt.Sprintf(`Rules:
1. The file MUST start with "package main".
2. You MUST declare a package-level variable named Fig of type *chart.Figure, e.g. var Fig = build().
3. Import only: %s.
4. Use the exact column names given. Do not guess column names.
5. Do not print anything and do not block or wait for input.
6. NEVER output markdown backticks.`, strings.Join(imports, ", "))
}

func singlePrompt(f *table.Frame, query string, imports []string) string {
	var sb strings.Builder
	sb.WriteString("The table is available as data.DF.\n")
	sb.WriteString(summarize("data.DF", f))
	sb.WriteString("\n")
	sb.WriteString(scriptAPI)
	sb.WriteString("\n\n")
	sb.WriteString(rules(imports))
	sb.WriteString("\n\nWrite a Go chart script for this request: ")
	sb.WriteString(query)
	return sb.String()
}

func pairPrompt(df1, df2 *table.Frame, query string, imports []string) string {
	var sb strings.Builder
	sb.WriteString("The tables are available as data.DF1 and data.DF2.\n")
	sb.WriteString(summarize("data.DF1", df1))
	sb.WriteString(summarize("data.DF2", df2))
	sb.WriteString("\n")
	sb.WriteString(scriptAPI)
	sb.WriteString("\n\n")
	sb.WriteString(rules(imports))
	sb.WriteString("\n\nWrite a Go chart script using both tables for this request: ")
	sb.WriteString(query)
	return sb.String()
}

func reflectionPrompt(request, code string) string {
	return fmt.Sprintf(`The user was asking: %s

You answered with the Go script:
%s

Check that the script compiles, follows every rule and answers the request.
Do not use backticks. Respond with the corrected Go script only.`, request, code)
}
