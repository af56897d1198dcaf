package chart

func Bar(name string, x, y interface{}) *Trace {
	return &Trace{Type: "bar", Name: name, X: x, Y: y}
}

func HBar(name string, x, y interface{}) *Trace {
	return &Trace{Type: "bar", Name: name, X: x, Y: y, Orientation: "h"}
}

func Scatter(name string, x, y interface{}) *Trace {
	return &Trace{Type: "scatter", Mode: "markers", Name: name, X: x, Y: y}
}

func Line(name string, x, y interface{}) *Trace {
	return &Trace{Type: "scatter", Mode: "lines+markers", Name: name, X: x, Y: y}
}

func Histogram(name string, x interface{}) *Trace {
	return &Trace{Type: "histogram", Name: name, X: x}
}

func Box(name string, y interface{}) *Trace {
	return &Trace{Type: "box", Name: name, Y: y}
}

func Pie(labels []string, values []float64) *Trace {
	return &Trace{Type: "pie", Labels: labels, Values: values}
}

// Heatmap builds a heatmap trace with an optional fixed color range.
func Heatmap(x, y []string, z [][]float64, colorscale string, zmin, zmax *float64) *Trace {
	return &Trace{Type: "heatmap", X: x, Y: y, Z: Grid(z), Colorscale: colorscale, Zmin: zmin, Zmax: zmax}
}

// Float returns a pointer for optional numeric fields.
func Float(v float64) *float64 {
	return &v
}

// Artifact is what a turn carries for display: an in-memory figure and,
// when the data was exported, the spec and data URLs.
type Artifact struct {
	Figure  *Figure `json:"figure,omitempty"`
	SpecURL string  `json:"spec_url,omitempty"`
	DataURL string  `json:"data_url,omitempty"`
}
