// Package liveness implements the dead-symbol engine: per-file extraction,
// aggregation into a reference graph, suppression rules, and liveness
// resolution. A symbol is live when it is directly referenced, suppressed
// by a framework rule, or named by a string in a module-level data
// structure; everything else reportable is dead.
package liveness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/driftline/vestige/internal/cache"
	"github.com/driftline/vestige/internal/fileproc"
	"github.com/driftline/vestige/pkg/analyzer"
	"github.com/driftline/vestige/pkg/graph"
	"github.com/driftline/vestige/pkg/models"
	"github.com/driftline/vestige/pkg/parser"
)

// Analyzer finds defined-but-unreferenced Python symbols.
type Analyzer struct {
	rules       *ruleSet
	workers     int
	maxFileSize int64
	root        string
	cache       *cache.Cache
	verdicts    bool

	mu       sync.Mutex
	parser   *parser.Parser
	graph    *graph.Graph
	files    []string // input order of the current session
	warnings []models.Warning
	edges    []graph.Edge
}

var _ analyzer.FileAnalyzer[*models.Analysis] = (*Analyzer)(nil)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithRules sets the suppression and resolution rules.
func WithRules(r Rules) Option {
	return func(a *Analyzer) { a.rules = newRuleSet(r) }
}

// WithWorkers caps extraction parallelism. 0 means 2x NumCPU.
func WithWorkers(n int) Option {
	return func(a *Analyzer) { a.workers = n }
}

// WithMaxFileSize skips files larger than the limit. 0 disables the check.
func WithMaxFileSize(n int64) Option {
	return func(a *Analyzer) { a.maxFileSize = n }
}

// WithRoot sets the directory module paths are derived from.
func WithRoot(root string) Option {
	return func(a *Analyzer) { a.root = root }
}

// WithCache reuses extraction records for files whose bytes are unchanged.
func WithCache(c *cache.Cache) Option {
	return func(a *Analyzer) { a.cache = c }
}

// WithVerdicts includes the full per-symbol verdict list in the result.
func WithVerdicts(v bool) Option {
	return func(a *Analyzer) { a.verdicts = v }
}

// New creates an Analyzer. Progress, when wanted, comes from the
// analyzer.Tracker installed in the Analyze context.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		rules:  newRuleSet(DefaultRules()),
		parser: parser.New(),
		graph:  graph.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs the full pipeline over the given files. The dead set follows
// the input order, then source position.
func (a *Analyzer) Analyze(ctx context.Context, files []string) (*models.Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.graph = graph.New()
	a.files = append([]string(nil), files...)
	a.warnings = nil

	if len(files) == 0 {
		return a.assemble(), nil
	}

	extracts, perrs := fileproc.MapFilesN(ctx, files, a.workers, a.maxFileSize, a.extractFile)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.warnings = parseWarnings(files, perrs)

	// Aggregation is sequential and input-ordered: collision detection
	// needs a total order over definitions.
	for _, ex := range extracts {
		a.warnings = append(a.warnings, a.graph.AddFile(ex.Path, ex.Symbols, ex.References)...)
	}

	return a.assemble(), nil
}

// UpdateFile re-extracts one file and merges it into the graph. The next
// Resolve call reflects the change. A file that no longer parses drops out
// of the graph and leaves a parse-error warning, like in a full run.
func (a *Analyzer) UpdateFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.maxFileSize > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() > a.maxFileSize {
			return fmt.Errorf("file size %d exceeds limit %d", info.Size(), a.maxFileSize)
		}
	}

	ex, err := a.extractFile(a.parser, path)
	a.dropWarnings(path)
	if err != nil {
		a.graph.RemoveFile(path)
		var perr *parser.ParseError
		if errors.As(err, &perr) {
			a.warnings = append(a.warnings, models.Warning{
				Kind:    models.WarnParseError,
				File:    path,
				Line:    perr.Line,
				Message: perr.Message,
			})
			return nil
		}
		return err
	}

	if !a.tracked(path) {
		a.files = append(a.files, path)
	}
	a.warnings = append(a.warnings, a.graph.UpdateFile(ex.Path, ex.Symbols, ex.References)...)
	return nil
}

// RemoveFile drops a deleted file's symbols and references.
func (a *Analyzer) RemoveFile(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.graph.RemoveFile(path)
	a.dropWarnings(path)
	for i, f := range a.files {
		if f == path {
			a.files = append(a.files[:i], a.files[i+1:]...)
			break
		}
	}
	if a.cache != nil {
		_ = a.cache.Invalidate(path)
	}
}

// Resolve recomputes verdicts from the current graph without re-reading any
// files.
func (a *Analyzer) Resolve() *models.Analysis {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assemble()
}

// Graph exposes the aggregated reference graph of the last analysis.
func (a *Analyzer) Graph() *graph.Graph {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.graph
}

// Edges exposes the resolved edge list of the last analysis.
func (a *Analyzer) Edges() []graph.Edge {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]graph.Edge(nil), a.edges...)
}

// Close releases the parser.
func (a *Analyzer) Close() {
	a.parser.Close()
}

// extractFile parses one file and collects its symbols and references,
// consulting the cache when configured.
func (a *Analyzer) extractFile(psr *parser.Parser, path string) (*fileExtract, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var hash string
	if a.cache != nil {
		// The root participates in the hash: module paths derive from it.
		hash = cache.HashBytes(append([]byte(a.root+"\x00"), source...))
		if data, ok := a.cache.GetWithHash(path, hash); ok {
			var ex fileExtract
			if err := json.Unmarshal(data, &ex); err == nil {
				return &ex, nil
			}
		}
	}

	res, err := psr.Parse(source, path)
	if err != nil {
		return nil, err
	}
	defer res.Tree.Close()

	ex := extract(res, modulePath(a.root, path), a.rules.ProtocolMethod)

	if a.cache != nil {
		if data, err := json.Marshal(ex); err == nil {
			_ = a.cache.SetWithHash(path, hash, data)
		}
	}
	return ex, nil
}

// assemble runs suppression and resolution over the current graph and
// builds the result.
func (a *Analyzer) assemble() *models.Analysis {
	res := resolve(a.graph, a.rules)
	a.edges = res.edges

	analysis := &models.Analysis{
		Root:        a.root,
		DeadSymbols: []models.DeadSymbol{},
		Warnings:    append([]models.Warning(nil), a.warnings...),
		Summary:     models.NewSummary(),
	}

	sum := &analysis.Summary
	sum.TotalFiles = len(a.files)
	sum.TotalReferences = len(a.graph.References())
	for _, w := range a.warnings {
		if w.Kind == models.WarnParseError {
			sum.FilesFailed++
		}
	}

	ids := a.graph.SymbolIDs()
	for i, sym := range a.graph.Symbols() {
		id := ids[i]
		live := res.live.Contains(uint32(id))
		j := res.just[id]
		if k, ok := res.kinds[id]; ok {
			sym.Kind = k
		}
		sum.TotalSymbols++

		if sym.Reportable {
			sum.ReportableSymbols++
			switch {
			case live:
				sum.LiveSymbols++
				switch j.Reason {
				case models.ReasonProtocolMethod, models.ReasonLifecycleShape,
					models.ReasonEntryDecorator, models.ReasonDecoratorChain:
					sum.Suppressed++
				case models.ReasonStringReference:
					sum.StringReferenced++
				}
			default:
				d := models.DeadSymbol{
					QualifiedName: sym.QualifiedName,
					Kind:          sym.Kind,
					File:          sym.File,
					Line:          sym.Line,
					Column:        sym.Column,
					ContextHash:   sym.ContextHash,
				}
				analysis.DeadSymbols = append(analysis.DeadSymbols, d)
				sum.AddDeadSymbol(d)
			}
		}
		if a.verdicts {
			analysis.Verdicts = append(analysis.Verdicts, models.SymbolVerdict{
				Symbol:        sym,
				Live:          live,
				Justification: j,
			})
		}
	}
	sum.CalculatePercentage()
	return analysis
}

func (a *Analyzer) tracked(path string) bool {
	for _, f := range a.files {
		if f == path {
			return true
		}
	}
	return false
}

func (a *Analyzer) dropWarnings(path string) {
	out := a.warnings[:0]
	for _, w := range a.warnings {
		if w.File != path {
			out = append(out, w)
		}
	}
	a.warnings = out
}

// parseWarnings converts per-file extraction failures into warnings ordered
// by input position.
func parseWarnings(files []string, perrs *fileproc.ProcessingErrors) []models.Warning {
	if perrs == nil {
		return nil
	}
	pos := make(map[string]int, len(files))
	for i, f := range files {
		pos[f] = i
	}
	errs := append([]fileproc.ProcessingError(nil), perrs.Errors...)
	sort.SliceStable(errs, func(i, j int) bool {
		return pos[errs[i].Path] < pos[errs[j].Path]
	})

	out := make([]models.Warning, 0, len(errs))
	for _, pe := range errs {
		w := models.Warning{Kind: models.WarnParseError, File: pe.Path, Message: pe.Err.Error()}
		var perr *parser.ParseError
		if errors.As(pe.Err, &perr) {
			w.Line = perr.Line
			w.Message = perr.Message
		}
		out = append(out, w)
	}
	return out
}
