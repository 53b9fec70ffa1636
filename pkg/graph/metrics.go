package graph

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/driftline/vestige/pkg/models"
)

// Edge is one resolved reference: the scope that used a symbol and the
// symbol it used.
type Edge struct {
	From SymbolID
	To   SymbolID
	Kind models.ReferenceKind
}

// NodeMetric is the computed importance of one symbol in the resolved
// reference graph.
type NodeMetric struct {
	QualifiedName string            `json:"qualified_name" toon:"qualified_name"`
	Kind          models.SymbolKind `json:"kind" toon:"kind"`
	File          string            `json:"file" toon:"file"`
	PageRank      float64           `json:"pagerank" toon:"pagerank"`
	InDegree      int               `json:"in_degree" toon:"in_degree"`
	OutDegree     int               `json:"out_degree" toon:"out_degree"`
}

// MetricsSummary aggregates over the resolved reference graph.
type MetricsSummary struct {
	Nodes      int     `json:"nodes" toon:"nodes"`
	Edges      int     `json:"edges" toon:"edges"`
	AvgDegree  float64 `json:"avg_degree" toon:"avg_degree"`
	Density    float64 `json:"density" toon:"density"`
	CycleCount int     `json:"cycle_count" toon:"cycle_count"`
	IsCyclic   bool    `json:"is_cyclic" toon:"is_cyclic"`
}

// Metrics holds per-node rankings and graph-level aggregates.
type Metrics struct {
	Nodes   []NodeMetric   `json:"nodes" toon:"nodes"`
	Cycles  [][]string     `json:"cycles,omitempty" toon:"cycles,omitempty"`
	Summary MetricsSummary `json:"summary" toon:"summary"`
}

// toGonum builds a directed gonum graph over the edge endpoints. Interned
// ids double as gonum node ids. Self edges are dropped; simple graphs
// reject them and resolution already discards self-references.
func (g *Graph) toGonum(edges []Edge) (*simple.DirectedGraph, []SymbolID) {
	dg := simple.NewDirectedGraph()
	seen := make(map[SymbolID]bool)
	var ids []SymbolID

	add := func(id SymbolID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
			dg.AddNode(simple.Node(int64(id)))
		}
	}

	for _, e := range edges {
		add(e.From)
		add(e.To)
		if e.From != e.To {
			dg.SetEdge(simple.Edge{F: simple.Node(int64(e.From)), T: simple.Node(int64(e.To))})
		}
	}
	return dg, ids
}

// CalculateMetrics ranks the symbols participating in resolved edges.
// PageRank runs on the directed reference graph; nodes come back sorted by
// rank, ties broken by qualified name.
func (g *Graph) CalculateMetrics(edges []Edge) *Metrics {
	m := &Metrics{Nodes: make([]NodeMetric, 0)}
	if len(edges) == 0 {
		return m
	}

	dg, ids := g.toGonum(edges)

	inDegree := make(map[SymbolID]int, len(ids))
	outDegree := make(map[SymbolID]int, len(ids))
	for _, e := range edges {
		inDegree[e.To]++
		outDegree[e.From]++
	}

	rank := network.PageRank(dg, 0.85, 1e-6)

	for _, id := range ids {
		sym, ok := g.SymbolAt(id)
		if !ok {
			continue
		}
		m.Nodes = append(m.Nodes, NodeMetric{
			QualifiedName: sym.QualifiedName,
			Kind:          sym.Kind,
			File:          sym.File,
			PageRank:      rank[int64(id)],
			InDegree:      inDegree[id],
			OutDegree:     outDegree[id],
		})
	}
	sort.Slice(m.Nodes, func(i, j int) bool {
		if m.Nodes[i].PageRank != m.Nodes[j].PageRank {
			return m.Nodes[i].PageRank > m.Nodes[j].PageRank
		}
		return m.Nodes[i].QualifiedName < m.Nodes[j].QualifiedName
	})

	m.Cycles = g.cyclesFrom(dg)

	m.Summary.Nodes = len(m.Nodes)
	m.Summary.Edges = len(edges)
	m.Summary.CycleCount = len(m.Cycles)
	m.Summary.IsCyclic = len(m.Cycles) > 0

	total := 0
	for _, nm := range m.Nodes {
		total += nm.InDegree + nm.OutDegree
	}
	if len(m.Nodes) > 0 {
		m.Summary.AvgDegree = float64(total) / float64(len(m.Nodes))
	}
	if len(m.Nodes) > 1 {
		maxEdges := len(m.Nodes) * (len(m.Nodes) - 1)
		m.Summary.Density = float64(len(edges)) / float64(maxEdges)
	}
	return m
}

// Cycles returns groups of symbols that reference each other, largest
// group first.
func (g *Graph) Cycles(edges []Edge) [][]string {
	if len(edges) == 0 {
		return nil
	}
	dg, _ := g.toGonum(edges)
	return g.cyclesFrom(dg)
}

func (g *Graph) cyclesFrom(dg *simple.DirectedGraph) [][]string {
	var cycles [][]string
	for _, scc := range topo.TarjanSCC(dg) {
		if len(scc) < 2 {
			continue
		}
		names := make([]string, 0, len(scc))
		for _, n := range scc {
			if sym, ok := g.SymbolAt(SymbolID(n.ID())); ok {
				names = append(names, sym.QualifiedName)
			}
		}
		sort.Strings(names)
		cycles = append(cycles, names)
	}
	sort.Slice(cycles, func(i, j int) bool {
		if len(cycles[i]) != len(cycles[j]) {
			return len(cycles[i]) > len(cycles[j])
		}
		return cycles[i][0] < cycles[j][0]
	})
	return cycles
}

// MermaidOptions bounds diagram size.
type MermaidOptions struct {
	MaxNodes  int
	MaxEdges  int
	Direction string
}

// DefaultMermaidOptions returns limits that keep diagrams renderable.
func DefaultMermaidOptions() MermaidOptions {
	return MermaidOptions{MaxNodes: 50, MaxEdges: 150, Direction: "TD"}
}

// ToMermaid renders the resolved reference graph as a Mermaid flowchart.
// When the graph exceeds the limits, high-rank nodes survive pruning.
func (g *Graph) ToMermaid(edges []Edge, opts MermaidOptions) string {
	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}

	var b strings.Builder
	b.WriteString("graph " + direction + "\n")
	if len(edges) == 0 {
		return b.String()
	}

	dg, ids := g.toGonum(edges)
	rank := network.PageRank(dg, 0.85, 1e-6)
	sort.Slice(ids, func(i, j int) bool {
		ri, rj := rank[int64(ids[i])], rank[int64(ids[j])]
		if ri != rj {
			return ri > rj
		}
		return ids[i] < ids[j]
	})
	if opts.MaxNodes > 0 && len(ids) > opts.MaxNodes {
		ids = ids[:opts.MaxNodes]
	}
	kept := make(map[SymbolID]bool, len(ids))
	for _, id := range ids {
		kept[id] = true
	}

	for _, id := range ids {
		sym, ok := g.SymbolAt(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "    s%d[\"%s\"]\n", id, escapeLabel(sym.QualifiedName))
	}

	type edgeKey struct {
		from, to SymbolID
		kind     models.ReferenceKind
	}
	seen := make(map[edgeKey]bool)
	count := 0
	for _, e := range edges {
		if e.From == e.To || !kept[e.From] || !kept[e.To] {
			continue
		}
		key := edgeKey{e.From, e.To, e.Kind}
		if seen[key] {
			continue
		}
		seen[key] = true
		if opts.MaxEdges > 0 && count >= opts.MaxEdges {
			break
		}
		fmt.Fprintf(&b, "    s%d %s s%d\n", e.From, edgeArrow(e.Kind), e.To)
		count++
	}

	return b.String()
}

// edgeArrow returns the Mermaid arrow notation for a reference kind.
func edgeArrow(kind models.ReferenceKind) string {
	switch kind {
	case models.RefDirectCall:
		return "-->|calls|"
	case models.RefAttribute:
		return "-->|attribute|"
	case models.RefDecorator:
		return "-->|decorated by|"
	case models.RefStringLiteral:
		return "-.->|string|"
	case models.RefImport:
		return "-.->|imports|"
	default:
		return "-->"
	}
}

// escapeLabel escapes characters that break Mermaid labels.
func escapeLabel(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '&':
			b.WriteString("&amp;")
		case '"':
			b.WriteString("&quot;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '|':
			b.WriteString("&#124;")
		case '[':
			b.WriteString("&#91;")
		case ']':
			b.WriteString("&#93;")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
