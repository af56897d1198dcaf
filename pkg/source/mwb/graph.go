package mwb

import "sort"

// Node names of the mesh.
const (
	Router   = "router"
	Compound = "compound"
	Gene     = "gene"
	Metstat  = "metstat"
	Moverz   = "moverz"
	Protein  = "protein"
	Refmet   = "refmet"
	Study    = "study"
	General  = "general"
)

// Graph is the directed hand-off graph. Every context node may return to
// the router; other edges are declared explicitly.
type Graph map[string][]string

// DefaultGraph lets the router reach every context node and links context
// nodes whose identifiers feed each other.
func DefaultGraph() Graph {
	return Graph{
		Router:   {Compound, Gene, Metstat, Moverz, Protein, Refmet, Study, General},
		Compound: {Router, Refmet, Study},
		Refmet:   {Router, Compound, Metstat},
		Gene:     {Router, Protein},
		Protein:  {Router, Gene},
		Moverz:   {Router, Compound, Refmet},
		Metstat:  {Router, Study, Refmet},
		Study:    {Router, Metstat, Compound},
		General:  {Router, Study},
	}
}

func (g Graph) Allowed(from, to string) bool {
	for _, n := range g[from] {
		if n == to {
			return true
		}
	}
	return false
}

func (g Graph) Targets(from string) []string {
	out := append([]string(nil), g[from]...)
	sort.Strings(out)
	return out
}
