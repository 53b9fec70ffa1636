// Package graph stores extracted symbols and references and answers the
// lookups resolution needs. Symbols are interned to dense uint32 ids so the
// resolution pass can track liveness in bitmaps instead of name sets.
package graph

import (
	"fmt"
	"strings"

	"github.com/driftline/vestige/pkg/models"
)

// SymbolID is the interned id of a symbol. Ids are assigned in insertion
// order and stay stable until the owning file is removed or replaced.
type SymbolID uint32

// fileEntry holds the symbols and references contributed by one file.
type fileEntry struct {
	symbols []SymbolID
	refs    []models.Reference
}

// Graph is the aggregation structure for one analysis run or watch session.
// It is not safe for concurrent use; callers serialize access.
type Graph struct {
	symbols []models.Symbol
	alive   []bool

	files map[string]*fileEntry
	order []string

	byQualified map[string][]SymbolID
	byTail      map[string][]SymbolID

	refCount int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		files:       make(map[string]*fileEntry),
		byQualified: make(map[string][]SymbolID),
		byTail:      make(map[string][]SymbolID),
	}
}

// AddFile records a file's symbols and references. Adding a path that is
// already tracked replaces its previous contents in place. A qualified name
// that is already bound keeps the later definition and reports a warning.
func (g *Graph) AddFile(path string, symbols []models.Symbol, references []models.Reference) []models.Warning {
	if _, ok := g.files[path]; ok {
		g.dropFile(path)
	} else {
		g.order = append(g.order, path)
	}

	entry := &fileEntry{refs: references}
	var warnings []models.Warning

	for _, sym := range symbols {
		id := SymbolID(len(g.symbols))

		if prior, ok := g.ByQualified(sym.QualifiedName); ok {
			prev := g.symbols[prior]
			warnings = append(warnings, models.Warning{
				Kind:    models.WarnAmbiguousName,
				File:    sym.File,
				Line:    sym.Line,
				Message: fmt.Sprintf("%s shadows earlier definition at %s:%d", sym.QualifiedName, prev.File, prev.Line),
			})
		}

		g.symbols = append(g.symbols, sym)
		g.alive = append(g.alive, true)
		entry.symbols = append(entry.symbols, id)

		g.byQualified[sym.QualifiedName] = append(g.byQualified[sym.QualifiedName], id)
		tail := tailSegment(sym.QualifiedName)
		g.byTail[tail] = append(g.byTail[tail], id)
	}

	g.files[path] = entry
	g.refCount += len(references)
	return warnings
}

// UpdateFile replaces a file's contents, keeping its position in file order.
func (g *Graph) UpdateFile(path string, symbols []models.Symbol, references []models.Reference) []models.Warning {
	return g.AddFile(path, symbols, references)
}

// RemoveFile drops a file and everything it contributed.
func (g *Graph) RemoveFile(path string) {
	if _, ok := g.files[path]; !ok {
		return
	}
	g.dropFile(path)
	for i, p := range g.order {
		if p == path {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// dropFile unindexes a file's symbols without touching file order.
func (g *Graph) dropFile(path string) {
	entry := g.files[path]
	for _, id := range entry.symbols {
		g.alive[id] = false
		sym := g.symbols[id]

		g.byQualified[sym.QualifiedName] = removeID(g.byQualified[sym.QualifiedName], id)
		if len(g.byQualified[sym.QualifiedName]) == 0 {
			delete(g.byQualified, sym.QualifiedName)
		}

		tail := tailSegment(sym.QualifiedName)
		g.byTail[tail] = removeID(g.byTail[tail], id)
		if len(g.byTail[tail]) == 0 {
			delete(g.byTail, tail)
		}
	}
	g.refCount -= len(entry.refs)
	delete(g.files, path)
}

// Symbols returns all symbols in file order, then definition order.
func (g *Graph) Symbols() []models.Symbol {
	out := make([]models.Symbol, 0, g.symbolCount())
	for _, path := range g.order {
		for _, id := range g.files[path].symbols {
			out = append(out, g.symbols[id])
		}
	}
	return out
}

// SymbolIDs returns the ids of all symbols in file order, then definition
// order. The order matches Symbols.
func (g *Graph) SymbolIDs() []SymbolID {
	out := make([]SymbolID, 0, g.symbolCount())
	for _, path := range g.order {
		out = append(out, g.files[path].symbols...)
	}
	return out
}

// SymbolAt returns the symbol for an id.
func (g *Graph) SymbolAt(id SymbolID) (models.Symbol, bool) {
	if int(id) >= len(g.symbols) || !g.alive[id] {
		return models.Symbol{}, false
	}
	return g.symbols[id], true
}

// ByQualified returns the id bound to an exact qualified name. When a name
// was defined more than once the latest definition wins.
func (g *Graph) ByQualified(name string) (SymbolID, bool) {
	ids := g.byQualified[name]
	if len(ids) == 0 {
		return 0, false
	}
	return ids[len(ids)-1], true
}

// CandidatesByTail returns every symbol whose qualified name ends in the
// given terminal segment, in definition order.
func (g *Graph) CandidatesByTail(name string) []SymbolID {
	ids := g.byTail[name]
	if len(ids) == 0 {
		return nil
	}
	out := make([]SymbolID, len(ids))
	copy(out, ids)
	return out
}

// References returns all references in file order, then observation order.
func (g *Graph) References() []models.Reference {
	out := make([]models.Reference, 0, g.refCount)
	for _, path := range g.order {
		out = append(out, g.files[path].refs...)
	}
	return out
}

// Files returns the tracked paths in insertion order.
func (g *Graph) Files() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// FileCount returns the number of tracked files.
func (g *Graph) FileCount() int {
	return len(g.files)
}

func (g *Graph) symbolCount() int {
	n := 0
	for _, entry := range g.files {
		n += len(entry.symbols)
	}
	return n
}

// Stats summarizes graph contents.
type Stats struct {
	Files            int            `json:"files" toon:"files"`
	Symbols          int            `json:"symbols" toon:"symbols"`
	References       int            `json:"references" toon:"references"`
	SymbolsByKind    map[string]int `json:"symbols_by_kind" toon:"symbols_by_kind"`
	ReferencesByKind map[string]int `json:"references_by_kind" toon:"references_by_kind"`
}

// Stats computes totals by kind for the current graph contents.
func (g *Graph) Stats() Stats {
	st := Stats{
		Files:            len(g.files),
		SymbolsByKind:    make(map[string]int),
		ReferencesByKind: make(map[string]int),
	}
	for _, path := range g.order {
		entry := g.files[path]
		st.Symbols += len(entry.symbols)
		for _, id := range entry.symbols {
			st.SymbolsByKind[string(g.symbols[id].Kind)]++
		}
		st.References += len(entry.refs)
		for _, ref := range entry.refs {
			st.ReferencesByKind[string(ref.Kind)]++
		}
	}
	return st
}

// tailSegment returns the text after the last dot, or the whole name.
func tailSegment(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

func removeID(ids []SymbolID, id SymbolID) []SymbolID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
