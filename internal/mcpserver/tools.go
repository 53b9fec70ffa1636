package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	toon "github.com/toon-format/toon-go"

	"github.com/driftline/vestige/internal/cache"
	"github.com/driftline/vestige/internal/output"
	"github.com/driftline/vestige/internal/scanner"
	"github.com/driftline/vestige/pkg/analyzer/liveness"
	"github.com/driftline/vestige/pkg/config"
	"github.com/driftline/vestige/pkg/graph"
	"github.com/driftline/vestige/pkg/models"
)

// AnalyzeInput carries the arguments every tool shares.
type AnalyzeInput struct {
	Paths  []string `json:"paths,omitempty" jsonschema:"Directories or files to analyze. The working directory when empty."`
	Format string   `json:"format,omitempty" jsonschema:"Output encoding: toon (default), json, or markdown."`
}

// DeadcodeInput adds dead-symbol report options.
type DeadcodeInput struct {
	AnalyzeInput
	MinSuffixSegments int `json:"min_suffix_segments,omitempty" jsonschema:"Minimum dotted segments a string literal must share with a symbol to count as a reference. Default 1."`
}

// ExplainInput selects a single symbol to explain.
type ExplainInput struct {
	AnalyzeInput
	Symbol string `json:"symbol" jsonschema:"Symbol name to explain, ideally fully qualified (e.g. app.handlers.process). A bare name works when unambiguous."`
}

// GraphStatsInput adds reference-graph options.
type GraphStatsInput struct {
	AnalyzeInput
	Top int `json:"top,omitempty" jsonschema:"Number of top-ranked symbols to include. Default 10."`
}

func getPaths(input AnalyzeInput) []string {
	if len(input.Paths) > 0 {
		return input.Paths
	}
	return []string{"."}
}

// getFormat defaults to toon rather than text: tool output goes to a model,
// not a terminal.
func getFormat(input AnalyzeInput) output.Format {
	switch strings.ToLower(input.Format) {
	case "json":
		return output.FormatJSON
	case "markdown", "md":
		return output.FormatMarkdown
	}
	return output.FormatTOON
}

func renderPayload(data any, format output.Format) (string, error) {
	if format == output.FormatJSON {
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil
	}

	out, err := toon.Marshal(data, toon.WithIndent(2))
	if err != nil {
		return "", err
	}
	if format == output.FormatMarkdown {
		return "```\n" + string(out) + "\n```", nil
	}
	return string(out), nil
}

func textResult(text string, isErr bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isErr,
	}
}

func toolResult(data any, format output.Format) (*mcp.CallToolResult, any, error) {
	text, err := renderPayload(data, format)
	if err != nil {
		return nil, nil, err
	}
	return textResult(capToBudget(text), false), nil, nil
}

func toolError(msg string) (*mcp.CallToolResult, any, error) {
	return textResult("Error: "+msg, true), nil, nil
}

// capToBudget truncates tool output that would blow the client's context
// window. The cut lands on a line boundary so toon output stays parseable
// up to the truncation notice.
func capToBudget(text string) string {
	if output.WithinBudget(text, output.DefaultBudget) {
		return text
	}
	limit := output.DefaultBudget * int(output.CharsPerToken)
	cut := text[:limit]
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		cut = cut[:i]
	}
	return cut + fmt.Sprintf("\n[output truncated: ~%s tokens estimated, budget %s; narrow the paths to see everything]",
		output.FormatTokenCount(output.EstimateTokens(text)),
		output.FormatTokenCount(output.DefaultBudget))
}

// runAnalysis scans the paths and runs the liveness engine over them. The
// returned analyzer still owns the graph; the caller must Close it.
func runAnalysis(ctx context.Context, paths []string, minSuffix int, verdicts bool) (*liveness.Analyzer, *models.Analysis, error) {
	cfg, err := config.LoadOrDefault()
	if err != nil {
		return nil, nil, err
	}
	if minSuffix > 0 {
		cfg.Rules.MinSuffixSegments = minSuffix
	}
	rules, err := liveness.RulesFromConfig(cfg.Rules)
	if err != nil {
		return nil, nil, err
	}

	scn := scanner.New(scanner.WithConfig(cfg))
	scanResult, err := scn.Scan(paths)
	if err != nil {
		return nil, nil, err
	}
	if len(scanResult.Files) == 0 {
		return nil, nil, errors.New("no Python files found")
	}

	opts := []liveness.Option{
		liveness.WithRules(rules),
		liveness.WithRoot(scanResult.Dir),
		liveness.WithWorkers(cfg.Analysis.Workers),
		liveness.WithMaxFileSize(cfg.Analysis.MaxFileSize),
		liveness.WithVerdicts(verdicts),
	}
	if c, err := cache.New(cache.ResolveDir(cfg.Cache.Dir, scanResult.Dir), cfg.Cache.TTL, cfg.Cache.Enabled); err == nil {
		opts = append(opts, liveness.WithCache(c))
	}

	a := liveness.New(opts...)
	result, err := a.Analyze(ctx, scanResult.Files)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, result, nil
}

func handleAnalyzeDeadcode(ctx context.Context, req *mcp.CallToolRequest, input DeadcodeInput) (*mcp.CallToolResult, any, error) {
	paths := getPaths(input.AnalyzeInput)
	format := getFormat(input.AnalyzeInput)

	a, result, err := runAnalysis(ctx, paths, input.MinSuffixSegments, false)
	if err != nil {
		return toolError(err.Error())
	}
	defer a.Close()

	return toolResult(result, format)
}

func handleExplainSymbol(ctx context.Context, req *mcp.CallToolRequest, input ExplainInput) (*mcp.CallToolResult, any, error) {
	if input.Symbol == "" {
		return toolError("symbol is required")
	}

	paths := getPaths(input.AnalyzeInput)
	format := getFormat(input.AnalyzeInput)

	a, result, err := runAnalysis(ctx, paths, 0, true)
	if err != nil {
		return toolError(err.Error())
	}
	defer a.Close()

	verdict, candidates := findVerdict(result.Verdicts, input.Symbol)
	if verdict == nil {
		if len(candidates) > 0 {
			return toolError(fmt.Sprintf("symbol %q is ambiguous: %s", input.Symbol, strings.Join(candidates, ", ")))
		}
		return toolError(fmt.Sprintf("symbol %q not found; use the fully qualified dotted name", input.Symbol))
	}
	return toolResult(verdict, format)
}

// findVerdict resolves a name the way the engine resolves references: an
// exact qualified match wins, otherwise a unique dotted-suffix match.
func findVerdict(verdicts []models.SymbolVerdict, name string) (*models.SymbolVerdict, []string) {
	var hit *models.SymbolVerdict
	var suffixMatches []string
	for i := range verdicts {
		v := &verdicts[i]
		if v.Symbol.QualifiedName == name {
			return v, nil
		}
		if strings.HasSuffix(v.Symbol.QualifiedName, "."+name) {
			if hit == nil {
				hit = v
			}
			suffixMatches = append(suffixMatches, v.Symbol.QualifiedName)
		}
	}
	if len(suffixMatches) == 1 {
		return hit, nil
	}
	return nil, suffixMatches
}

func handleGraphStats(ctx context.Context, req *mcp.CallToolRequest, input GraphStatsInput) (*mcp.CallToolResult, any, error) {
	paths := getPaths(input.AnalyzeInput)
	format := getFormat(input.AnalyzeInput)

	a, result, err := runAnalysis(ctx, paths, 0, false)
	if err != nil {
		return toolError(err.Error())
	}
	defer a.Close()

	top := input.Top
	if top <= 0 {
		top = 10
	}

	g := a.Graph()
	metrics := g.CalculateMetrics(a.Edges())
	nodes := metrics.Nodes
	if len(nodes) > top {
		nodes = nodes[:top]
	}

	out := struct {
		Stats       graph.Stats          `json:"stats" toon:"stats"`
		TopSymbols  []graph.NodeMetric   `json:"top_symbols" toon:"top_symbols"`
		Cycles      [][]string           `json:"cycles,omitempty" toon:"cycles,omitempty"`
		Graph       graph.MetricsSummary `json:"graph" toon:"graph"`
		DeadSymbols int                  `json:"dead_symbols" toon:"dead_symbols"`
	}{g.Stats(), nodes, metrics.Cycles, metrics.Summary, result.Summary.DeadCount}

	return toolResult(out, format)
}
