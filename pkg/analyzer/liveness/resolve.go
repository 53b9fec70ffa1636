package liveness

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/driftline/vestige/pkg/graph"
	"github.com/driftline/vestige/pkg/models"
)

// resolution is the computed liveness state for one graph snapshot.
type resolution struct {
	live  *roaring.Bitmap
	just  map[graph.SymbolID]*models.Justification
	kinds map[graph.SymbolID]models.SymbolKind // decorator kind overrides
	edges []graph.Edge

	g         *graph.Graph
	moduleSym map[string]graph.SymbolID // file -> module symbol id
}

// resolve computes live/dead for every symbol in the graph: decorator
// applications first, then the suppression rules, then direct references,
// then the string index. The first marking wins the justification.
func resolve(g *graph.Graph, rules *ruleSet) *resolution {
	r := &resolution{
		live:      roaring.New(),
		just:      make(map[graph.SymbolID]*models.Justification),
		kinds:     make(map[graph.SymbolID]models.SymbolKind),
		g:         g,
		moduleSym: make(map[string]graph.SymbolID),
	}

	ids := g.SymbolIDs()
	syms := g.Symbols()
	moduleOf := make(map[string]string) // file -> module qualified name
	for i, sym := range syms {
		if sym.Kind == models.KindModule {
			moduleOf[sym.File] = sym.QualifiedName
			r.moduleSym[sym.File] = ids[i]
		}
	}

	refs := g.References()

	// Decorator applications resolve before suppression; the
	// used-by-decorator-chain rule and the decorator kind hang off them.
	decoratorUse := make(map[graph.SymbolID]*models.Reference)
	for i, ref := range refs {
		if ref.Kind != models.RefDecorator {
			continue
		}
		for _, id := range resolveTargets(g, moduleOf, ref) {
			sym, ok := g.SymbolAt(id)
			if !ok || isSelfRef(ref.Scope, sym.QualifiedName) {
				continue
			}
			r.kinds[id] = models.KindDecorator
			if _, seen := decoratorUse[id]; !seen {
				decoratorUse[id] = &refs[i]
			}
			r.addEdge(ref, id)
		}
	}

	sup := newSuppressor(rules, g)
	for i, sym := range syms {
		if j := sup.evaluate(sym, decoratorUse[ids[i]]); j != nil {
			r.markLive(ids[i], j)
		}
	}

	for _, ref := range refs {
		switch ref.Kind {
		case models.RefDirectCall, models.RefAttribute, models.RefImport:
		default:
			continue
		}
		for _, id := range resolveTargets(g, moduleOf, ref) {
			sym, ok := g.SymbolAt(id)
			if !ok || isSelfRef(ref.Scope, sym.QualifiedName) {
				continue
			}
			r.addEdge(ref, id)
			r.markLive(id, &models.Justification{
				Reason: models.ReasonDirectReference,
				Detail: fmt.Sprintf("%s of %s", ref.Kind, ref.Target),
				File:   ref.File,
				Line:   ref.Line,
			})
		}
	}

	if rules.StringReferences {
		r.resolveStrings(rules, refs)
	}
	return r
}

// markLive adds a symbol to the live set. Only the first witness keeps its
// justification.
func (r *resolution) markLive(id graph.SymbolID, j *models.Justification) {
	if r.live.CheckedAdd(uint32(id)) {
		r.just[id] = j
	}
}

// addEdge appends a resolved reference to the edge list, attributing
// module-level references to the file's module symbol.
func (r *resolution) addEdge(ref models.Reference, to graph.SymbolID) {
	var from graph.SymbolID
	var ok bool
	if ref.Scope != "" {
		from, ok = r.g.ByQualified(ref.Scope)
	} else {
		from, ok = r.moduleSym[ref.File]
	}
	if !ok || from == to {
		return
	}
	r.edges = append(r.edges, graph.Edge{From: from, To: to, Kind: ref.Kind})
}

// resolveTargets maps one reference to symbol ids: the exact qualified name
// first, then the name qualified by the referencing file's module, then any
// symbol sharing the final segment. The last step is liberal on purpose; a
// name match anywhere counts as use.
func resolveTargets(g *graph.Graph, moduleOf map[string]string, ref models.Reference) []graph.SymbolID {
	if id, ok := g.ByQualified(ref.Target); ok {
		return []graph.SymbolID{id}
	}
	if mod := moduleOf[ref.File]; mod != "" {
		if id, ok := g.ByQualified(mod + "." + ref.Target); ok {
			return []graph.SymbolID{id}
		}
	}
	return g.CandidatesByTail(tail(ref.Target))
}

// isSelfRef reports whether a use site lies inside the body of the symbol
// it resolved to. Recursion is not evidence of use.
func isSelfRef(scope, qualified string) bool {
	return scope == qualified || strings.HasPrefix(scope, qualified+".")
}

// resolveStrings matches collected string literals against qualified names.
func (r *resolution) resolveStrings(rules *ruleSet, refs []models.Reference) {
	byTail := make(map[string][]*models.Reference)
	for i, ref := range refs {
		if ref.Kind == models.RefStringLiteral {
			t := tail(ref.Target)
			byTail[t] = append(byTail[t], &refs[i])
		}
	}
	if len(byTail) == 0 {
		return
	}

	ids := r.g.SymbolIDs()
	for i, sym := range r.g.Symbols() {
		for _, ref := range byTail[sym.Name] {
			if !suffixMatch(ref.Target, sym.QualifiedName, rules.MinSuffixSegments) {
				continue
			}
			r.addEdge(*ref, ids[i])
			r.markLive(ids[i], &models.Justification{
				Reason: models.ReasonStringReference,
				Detail: fmt.Sprintf("named by string %q", ref.Target),
				File:   ref.File,
				Line:   ref.Line,
			})
		}
	}
}

// suffixMatch reports whether the shorter dotted name is a segment suffix
// of the longer one, agreeing on at least min segments. A string written
// relative to a package root still matches the fully qualified symbol.
func suffixMatch(s, qualified string, min int) bool {
	a := strings.Split(s, ".")
	b := strings.Split(qualified, ".")
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < min {
		return false
	}
	for i := 1; i <= n; i++ {
		if a[len(a)-i] != b[len(b)-i] {
			return false
		}
	}
	return true
}
