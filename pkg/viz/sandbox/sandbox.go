// Package sandbox runs generated chart scripts in a yaegi interpreter that
// can only see an allow-listed slice of the standard library, the chart
// builders, and the tables handed to it.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"reflect"
	"strconv"
	"strings"
	"testing/fstest"
	"time"

	"bioinsight-be/pkg/chart"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

const (
	// OutputVar is the package-level variable a script must assign.
	OutputVar = "Fig"

	chartImport = "bioinsight/chart"
	dataImport  = "bioinsight/data"
)

var (
	ErrForbiddenImport = errors.New("forbidden import")
	ErrNoFigure        = errors.New("script did not assign a figure")
	ErrTimeout         = errors.New("script exceeded its time quota")
)

var defaultAllowed = []string{
	"fmt", "math", "sort", "strconv", "strings",
}

// Runner executes chart scripts. It is safe for concurrent use; every run
// gets a fresh interpreter.
type Runner struct {
	allowed map[string]bool
	symbols interp.Exports
	timeout time.Duration
}

func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	allowed := map[string]bool{chartImport: true, dataImport: true}
	for _, p := range defaultAllowed {
		allowed[p] = true
	}

	symbols := interp.Exports{}
	for key, syms := range stdlib.Symbols {
		if allowed[importPath(key)] {
			symbols[key] = syms
		}
	}
	symbols[chartImport+"/chart"] = chartSymbols()

	return &Runner{allowed: allowed, symbols: symbols, timeout: timeout}
}

// Tables binds names visible to scripts as data.<Name>.
type Tables map[string]*Table

// Run evaluates src with the given tables and returns the figure assigned
// to Fig. Any compile error, runtime panic, forbidden import or timeout is
// returned as an error; it never panics.
func (r *Runner) Run(ctx context.Context, src string, tables Tables) (fig *chart.Figure, err error) {
	if err := r.checkImports(src); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	i := interp.New(interp.Options{
		Stdout:               io.Discard,
		Stderr:               io.Discard,
		Env:                  []string{},
		SourcecodeFilesystem: fstest.MapFS{},
	})
	if err := i.Use(r.symbols); err != nil {
		return nil, fmt.Errorf("load symbols: %w", err)
	}
	if err := i.Use(interp.Exports{dataImport + "/data": dataSymbols(tables)}); err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}

	type result struct {
		fig *chart.Figure
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("script panicked: %v", p)}
			}
		}()
		if _, err := i.EvalWithContext(ctx, src); err != nil {
			done <- result{err: fmt.Errorf("evaluate script: %w", err)}
			return
		}
		v, err := i.EvalWithContext(ctx, "main."+OutputVar)
		if err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrNoFigure, err)}
			return
		}
		f, ok := v.Interface().(*chart.Figure)
		if !ok {
			done <- result{err: fmt.Errorf("%w: %s has type %s", ErrNoFigure, OutputVar, v.Type())}
			return
		}
		if err := f.Validate(); err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrNoFigure, err)}
			return
		}
		done <- result{fig: f}
	}()

	select {
	case res := <-done:
		return res.fig, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

func (r *Runner) checkImports(src string) error {
	file, err := parser.ParseFile(token.NewFileSet(), "chart.go", src, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("parse script: %w", err)
	}
	if file.Name == nil || file.Name.Name != "main" {
		return fmt.Errorf("parse script: package must be main")
	}
	var forbidden []string
	for _, imp := range file.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil || !r.allowed[p] {
			forbidden = append(forbidden, imp.Path.Value)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("%w: %s", ErrForbiddenImport, strings.Join(forbidden, ", "))
	}
	return nil
}

// AllowedImports lists what a script may import, for prompts.
func (r *Runner) AllowedImports() []string {
	out := []string{chartImport, dataImport}
	out = append(out, defaultAllowed...)
	return out
}

func importPath(symbolKey string) string {
	if i := strings.LastIndex(symbolKey, "/"); i > 0 {
		return symbolKey[:i]
	}
	return symbolKey
}

func chartSymbols() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Figure":    reflect.ValueOf((*chart.Figure)(nil)),
		"Trace":     reflect.ValueOf((*chart.Trace)(nil)),
		"Layout":    reflect.ValueOf((*chart.Layout)(nil)),
		"Axis":      reflect.ValueOf((*chart.Axis)(nil)),
		"New":       reflect.ValueOf(chart.New),
		"Bar":       reflect.ValueOf(chart.Bar),
		"HBar":      reflect.ValueOf(chart.HBar),
		"Scatter":   reflect.ValueOf(chart.Scatter),
		"Line":      reflect.ValueOf(chart.Line),
		"Histogram": reflect.ValueOf(chart.Histogram),
		"Box":       reflect.ValueOf(chart.Box),
		"Pie":       reflect.ValueOf(chart.Pie),
		"Heatmap":   reflect.ValueOf(chart.Heatmap),
		"Float":     reflect.ValueOf(chart.Float),
	}
}

func dataSymbols(tables Tables) map[string]reflect.Value {
	syms := map[string]reflect.Value{
		"Table": reflect.ValueOf((*Table)(nil)),
	}
	for name, t := range tables {
		t := t
		syms[name] = reflect.ValueOf(&t).Elem()
	}
	return syms
}
