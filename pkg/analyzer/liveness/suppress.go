package liveness

import (
	"fmt"

	"github.com/driftline/vestige/pkg/graph"
	"github.com/driftline/vestige/pkg/models"
)

// classShape caches the per-class facts the lifecycle rule needs.
type classShape struct {
	sym       models.Symbol
	knownBase string // first declared base matching the known-base set
	asyncName string // first async lifecycle-named method
	entryDec  string // first class decorator matching the entry-point set
}

// matches reports whether the class looks like a framework component:
// it inherits a known base, declares a base and an async lifecycle method,
// or is registered through an entry-point decorator.
func (c *classShape) matches() bool {
	if c.knownBase != "" || c.entryDec != "" {
		return true
	}
	return c.asyncName != "" && len(c.sym.Bases) > 0
}

// suppressor evaluates the closed suppression rule set against the symbol
// table. Rules are additive: each one can only mark a symbol live, in the
// fixed order protocol-method, lifecycle-shape, entry-decorator,
// used-by-decorator-chain.
type suppressor struct {
	rules   *ruleSet
	classes map[string]*classShape
}

func newSuppressor(rules *ruleSet, g *graph.Graph) *suppressor {
	s := &suppressor{rules: rules, classes: make(map[string]*classShape)}
	syms := g.Symbols()
	for _, sym := range syms {
		if sym.Kind != models.KindClass {
			continue
		}
		shape := &classShape{sym: sym}
		shape.knownBase, _ = rules.matchKnownBase(sym.Bases)
		for _, d := range sym.Decorators {
			if m, ok := rules.matchEntryDecorator(d); ok {
				shape.entryDec = m
				break
			}
		}
		s.classes[sym.QualifiedName] = shape
	}
	for _, sym := range syms {
		if sym.Kind != models.KindMethod || !sym.Async || !rules.lifecycle[sym.Name] {
			continue
		}
		if shape, ok := s.classes[sym.Scope]; ok && shape.asyncName == "" {
			shape.asyncName = sym.Name
		}
	}
	return s
}

// evaluate returns the suppression justification for one symbol, or nil.
// decoratorUse is the first decorator-application reference resolving to
// the symbol, when one exists.
func (s *suppressor) evaluate(sym models.Symbol, decoratorUse *models.Reference) *models.Justification {
	if sym.Protocol {
		return &models.Justification{
			Reason: models.ReasonProtocolMethod,
			Detail: fmt.Sprintf("%s is invoked implicitly by the runtime", sym.Name),
			File:   sym.File,
			Line:   sym.Line,
		}
	}

	if sym.Kind == models.KindMethod && s.rules.lifecycle[sym.Name] {
		if shape, ok := s.classes[sym.Scope]; ok && shape.matches() {
			return &models.Justification{
				Reason: models.ReasonLifecycleShape,
				Detail: s.shapeDetail(sym.Name+" method of", shape),
				File:   sym.File,
				Line:   sym.Line,
			}
		}
	}
	if sym.Kind == models.KindClass {
		// A class with the framework shape is kept even when nothing in the
		// tree references it; the framework drives it from outside. Its
		// verdict does not depend on what happened to its methods.
		if shape, ok := s.classes[sym.QualifiedName]; ok && shape.entryDec == "" && shape.matches() {
			return &models.Justification{
				Reason: models.ReasonLifecycleShape,
				Detail: s.shapeDetail("framework component", shape),
				File:   sym.File,
				Line:   sym.Line,
			}
		}
	}

	for _, d := range sym.Decorators {
		if m, ok := s.rules.matchEntryDecorator(d); ok {
			return &models.Justification{
				Reason: models.ReasonEntryDecorator,
				Detail: fmt.Sprintf("decorated with @%s", m),
				File:   sym.File,
				Line:   sym.Line,
			}
		}
	}

	if decoratorUse != nil {
		return &models.Justification{
			Reason: models.ReasonDecoratorChain,
			Detail: fmt.Sprintf("applied as a decorator in %s", decoratorUse.File),
			File:   decoratorUse.File,
			Line:   decoratorUse.Line,
		}
	}
	return nil
}

func (s *suppressor) shapeDetail(prefix string, shape *classShape) string {
	switch {
	case shape.knownBase != "":
		return fmt.Sprintf("%s %s, which inherits %s", prefix, shape.sym.Name, shape.knownBase)
	case shape.asyncName != "":
		return fmt.Sprintf("%s %s, which declares a base and an async %s method", prefix, shape.sym.Name, shape.asyncName)
	default:
		return fmt.Sprintf("%s %s, registered via @%s", prefix, shape.sym.Name, shape.entryDec)
	}
}
