package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/driftline/vestige/internal/output"
	"github.com/driftline/vestige/internal/progress"
	"github.com/driftline/vestige/internal/scanner"
	"github.com/driftline/vestige/pkg/analyzer"
	"github.com/driftline/vestige/pkg/analyzer/liveness"
	"github.com/driftline/vestige/pkg/graph"
	"github.com/driftline/vestige/pkg/models"
	"github.com/driftline/vestige/pkg/watch"
)

var (
	version = "dev"
	commit  = "none"    //nolint:unused // set via ldflags at build time
	date    = "unknown" //nolint:unused // set via ldflags at build time
)

func main() {
	app := &cli.App{
		Name:     "vestige",
		Usage:    "Dead code detection for Python",
		Version:  version,
		Metadata: make(map[string]interface{}),
		Description: `Vestige resolves every reference in a Python codebase and reports the
definitions nothing reaches. Framework entry points, lifecycle methods, and
string-referenced symbols stay live, each with a justification.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (TOML, YAML, or JSON)",
				EnvVars: []string{"VESTIGE_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "Disable colored output",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose output",
			},
			&cli.StringFlag{
				Name:  "pprof",
				Usage: "Enable pprof profiling and write to specified prefix (creates <prefix>.cpu.pprof and <prefix>.mem.pprof)",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("no-color") {
				color.NoColor = true
			}
			if pprofPrefix := c.String("pprof"); pprofPrefix != "" {
				cpuFile, err := os.Create(pprofPrefix + ".cpu.pprof")
				if err != nil {
					return fmt.Errorf("failed to create CPU profile: %w", err)
				}
				if err := pprof.StartCPUProfile(cpuFile); err != nil {
					cpuFile.Close()
					return fmt.Errorf("failed to start CPU profile: %w", err)
				}
				// Store file handle for cleanup
				c.App.Metadata["pprofCPU"] = cpuFile
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if pprofPrefix := c.String("pprof"); pprofPrefix != "" {
				pprof.StopCPUProfile()
				if cpuFile, ok := c.App.Metadata["pprofCPU"].(*os.File); ok {
					cpuFile.Close()
					color.Green("CPU profile written to %s.cpu.pprof", pprofPrefix)
				}

				memFile, err := os.Create(pprofPrefix + ".mem.pprof")
				if err != nil {
					return fmt.Errorf("failed to create memory profile: %w", err)
				}
				defer memFile.Close()

				runtime.GC() // Get up-to-date statistics
				if err := pprof.WriteHeapProfile(memFile); err != nil {
					return fmt.Errorf("failed to write memory profile: %w", err)
				}
				color.Green("Memory profile written to %s.mem.pprof", pprofPrefix)
			}
			return nil
		},
		Commands: []*cli.Command{
			reportCmd(),
			symbolsCmd(),
			graphCmd(),
			watchCmd(),
			baselineCmd(),
			initCmd(),
			configCmd(),
			mcpCmd(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func reportCmd() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Aliases:   []string{"dead"},
		Usage:     "Report symbols no reference reaches",
		ArgsUsage: "[path...]",
		Flags: append(outputFlags(),
			&cli.IntFlag{
				Name:  "min-suffix",
				Usage: "Minimum trailing segments a string reference must match (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Include the full verdict table, live symbols included",
			},
			&cli.StringFlag{
				Name:  "baseline",
				Usage: "Suppress dead symbols accepted by a baseline file",
			},
			&cli.BoolFlag{
				Name:  "fail-on-dead",
				Usage: "Exit nonzero when dead symbols remain",
			},
		),
		Action: runReportCmd,
	}
}

func runReportCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if minSuffix := c.Int("min-suffix"); minSuffix > 0 {
		cfg.Rules.MinSuffixSegments = minSuffix
	}
	verbose := c.Bool("verbose") || cfg.Output.Verbose

	scan, err := scanner.New(scanner.WithConfig(cfg)).Scan(getPaths(c))
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if len(scan.Files) == 0 {
		color.Yellow("No Python files found")
		return nil
	}

	engine, err := newEngine(cfg, scan, c.Bool("no-cache"), liveness.WithVerdicts(c.Bool("all")))
	if err != nil {
		return err
	}
	defer engine.Close()

	start := time.Now()
	bar := progress.NewTracker("Analyzing Python sources...", len(scan.Files))
	tracker := analyzer.NewTracker(bar.Observe)
	tracker.SetTotal(len(scan.Files))
	analysis, err := engine.Analyze(analyzer.WithTracker(c.Context, tracker), scan.Files)
	if err != nil {
		bar.FinishError(err)
		return fmt.Errorf("analysis failed: %w", err)
	}
	bar.FinishSuccess()

	accepted := 0
	if baselinePath := c.String("baseline"); baselinePath != "" {
		b, err := models.LoadBaseline(baselinePath)
		if err != nil {
			return err
		}
		kept := b.Filter(analysis.DeadSymbols)
		accepted = len(analysis.DeadSymbols) - len(kept)
		analysis.DeadSymbols = kept
		analysis.Summary.DeadCount = len(kept)
		if analysis.Summary.ReportableSymbols > 0 {
			analysis.Summary.DeadPercentage = float64(len(kept)) / float64(analysis.Summary.ReportableSymbols) * 100
		}
	}

	formatter, err := newFormatter(c, cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	if formatter.Format() == output.FormatJSON || formatter.Format() == output.FormatTOON {
		if err := formatter.Output(analysis); err != nil {
			return err
		}
	} else if err := renderReport(c, formatter, analysis, accepted, verbose); err != nil {
		return err
	}

	if verbose {
		fmt.Printf("\nAnalyzed %d files in %s\n", len(scan.Files), time.Since(start).Round(time.Millisecond))
		if data, err := json.Marshal(analysis); err == nil {
			fmt.Printf("Report payload: ~%s tokens as JSON\n",
				output.FormatTokenCount(output.EstimateTokens(string(data))))
		}
	}

	if c.Bool("fail-on-dead") && len(analysis.DeadSymbols) > 0 {
		return fmt.Errorf("%d dead symbols found", len(analysis.DeadSymbols))
	}
	return nil
}

func renderReport(c *cli.Context, formatter *output.Formatter, analysis *models.Analysis, accepted int, verbose bool) error {
	if len(analysis.DeadSymbols) > 0 {
		var rows [][]string
		for _, d := range analysis.DeadSymbols {
			rows = append(rows, []string{
				fmt.Sprintf("%s:%d", relPath(analysis.Root, d.File), d.Line),
				d.QualifiedName,
				string(d.Kind),
			})
		}
		table := output.NewTable(
			"Dead Symbols",
			[]string{"Location", "Symbol", "Kind"},
			rows,
			nil,
			nil,
		)
		if err := formatter.Output(table); err != nil {
			return err
		}
	} else {
		formatter.Success("No dead symbols found")
	}

	if c.Bool("all") {
		if err := formatter.Output(verdictTable(analysis)); err != nil {
			return err
		}
	}

	printWarnings(formatter, analysis.Warnings)

	s := analysis.Summary
	w := formatter.Writer()
	pct := output.PercentColor(s.DeadPercentage, fmt.Sprintf("%.1f%%", s.DeadPercentage))
	fmt.Fprintf(w, "\nSummary: %d dead of %d reportable symbols across %d files (%s dead)\n",
		s.DeadCount, s.ReportableSymbols, s.TotalFiles, pct)
	if accepted > 0 {
		fmt.Fprintf(w, "Baseline: %d accepted symbols suppressed\n", accepted)
	}
	if verbose {
		direct := s.LiveSymbols - s.Suppressed - s.StringReferenced
		fmt.Fprintf(w, "Kept: %d directly referenced, %d framework-suppressed, %d string-referenced\n",
			direct, s.Suppressed, s.StringReferenced)
	}
	return nil
}

func verdictTable(analysis *models.Analysis) *output.Table {
	var rows [][]string
	for _, v := range analysis.Verdicts {
		verdict := color.RedString("dead")
		reason := ""
		if v.Live {
			verdict = color.GreenString("live")
			if v.Justification != nil {
				reason = output.ReasonColor(v.Justification.Reason, string(v.Justification.Reason))
			}
		}
		rows = append(rows, []string{
			v.Symbol.QualifiedName,
			string(v.Symbol.Kind),
			verdict,
			reason,
		})
	}
	return output.NewTable(
		"Symbol Verdicts",
		[]string{"Symbol", "Kind", "Verdict", "Reason"},
		rows,
		nil,
		nil,
	)
}

func printWarnings(formatter *output.Formatter, warnings []models.Warning) {
	if len(warnings) == 0 || formatter.Format() != output.FormatText {
		return
	}
	fmt.Println()
	color.Yellow("Warnings (%d):", len(warnings))
	for _, w := range warnings {
		if w.Line > 0 {
			fmt.Printf("  - %s:%d %s\n", w.File, w.Line, truncate(w.Message, 100))
		} else {
			fmt.Printf("  - %s: %s\n", w.File, truncate(w.Message, 100))
		}
	}
}

func symbolsCmd() *cli.Command {
	return &cli.Command{
		Name:      "symbols",
		Usage:     "List every symbol with its liveness verdict",
		ArgsUsage: "[path...]",
		Flags: append(outputFlags(),
			&cli.StringFlag{
				Name:  "why",
				Usage: "Show the verdict for one symbol (qualified name)",
			},
		),
		Action: runSymbolsCmd,
	}
}

func runSymbolsCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	scan, err := scanner.New(scanner.WithConfig(cfg)).Scan(getPaths(c))
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if len(scan.Files) == 0 {
		color.Yellow("No Python files found")
		return nil
	}

	engine, err := newEngine(cfg, scan, c.Bool("no-cache"), liveness.WithVerdicts(true))
	if err != nil {
		return err
	}
	defer engine.Close()

	bar := progress.NewTracker("Analyzing Python sources...", len(scan.Files))
	tracker := analyzer.NewTracker(bar.Observe)
	tracker.SetTotal(len(scan.Files))
	analysis, err := engine.Analyze(analyzer.WithTracker(c.Context, tracker), scan.Files)
	if err != nil {
		bar.FinishError(err)
		return fmt.Errorf("analysis failed: %w", err)
	}
	bar.FinishSuccess()

	if name := c.String("why"); name != "" {
		return explainVerdict(analysis, name)
	}

	formatter, err := newFormatter(c, cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	if formatter.Format() == output.FormatJSON || formatter.Format() == output.FormatTOON {
		return formatter.Output(analysis)
	}

	if err := formatter.Output(verdictTable(analysis)); err != nil {
		return err
	}
	printWarnings(formatter, analysis.Warnings)

	s := analysis.Summary
	fmt.Fprintf(formatter.Writer(), "\nSummary: %d symbols, %d live, %d dead\n",
		s.TotalSymbols, s.LiveSymbols, s.DeadCount)
	return nil
}

// explainVerdict prints the liveness verdict and evidence for one symbol.
func explainVerdict(analysis *models.Analysis, name string) error {
	verdict, candidates := lookupVerdict(analysis.Verdicts, name)
	if verdict == nil {
		if len(candidates) > 0 {
			return fmt.Errorf("%q is ambiguous, candidates: %s", name, strings.Join(candidates, ", "))
		}
		return fmt.Errorf("symbol %q not found", name)
	}

	loc := fmt.Sprintf("%s:%d", relPath(analysis.Root, verdict.Symbol.File), verdict.Symbol.Line)
	if !verdict.Live {
		color.Red("%s (%s at %s) is dead: no evidence found", verdict.Symbol.QualifiedName, verdict.Symbol.Kind, loc)
		return nil
	}

	color.Green("%s (%s at %s) is live", verdict.Symbol.QualifiedName, verdict.Symbol.Kind, loc)
	if j := verdict.Justification; j != nil {
		if j.File != "" {
			fmt.Printf("  %s: %s (%s:%d)\n", j.Reason, j.Detail, relPath(analysis.Root, j.File), j.Line)
		} else {
			fmt.Printf("  %s: %s\n", j.Reason, j.Detail)
		}
	}
	return nil
}

// lookupVerdict resolves a name the way the engine resolves references: an
// exact qualified match wins, otherwise a unique dotted-suffix match.
func lookupVerdict(verdicts []models.SymbolVerdict, name string) (*models.SymbolVerdict, []string) {
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

func graphCmd() *cli.Command {
	return &cli.Command{
		Name:      "graph",
		Aliases:   []string{"dag"},
		Usage:     "Reference graph statistics and diagrams",
		ArgsUsage: "[path...]",
		Flags: append(outputFlags(),
			&cli.IntFlag{
				Name:  "top",
				Value: 10,
				Usage: "Show top N symbols by PageRank",
			},
			&cli.BoolFlag{
				Name:  "mermaid",
				Usage: "Emit a Mermaid diagram instead of statistics",
			},
		),
		Action: runGraphCmd,
	}
}

func runGraphCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	scan, err := scanner.New(scanner.WithConfig(cfg)).Scan(getPaths(c))
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if len(scan.Files) == 0 {
		color.Yellow("No Python files found")
		return nil
	}

	engine, err := newEngine(cfg, scan, c.Bool("no-cache"))
	if err != nil {
		return err
	}
	defer engine.Close()

	bar := progress.NewTracker("Building reference graph...", len(scan.Files))
	tracker := analyzer.NewTracker(bar.Observe)
	tracker.SetTotal(len(scan.Files))
	if _, err := engine.Analyze(analyzer.WithTracker(c.Context, tracker), scan.Files); err != nil {
		bar.FinishError(err)
		return fmt.Errorf("analysis failed: %w", err)
	}
	bar.FinishSuccess()

	g := engine.Graph()
	edges := engine.Edges()

	formatter, err := newFormatter(c, cfg)
	if err != nil {
		return err
	}
	defer formatter.Close()

	if c.Bool("mermaid") {
		fmt.Fprintln(formatter.Writer(), g.ToMermaid(edges, graph.DefaultMermaidOptions()))
		return nil
	}

	metrics := g.CalculateMetrics(edges)

	if formatter.Format() == output.FormatJSON || formatter.Format() == output.FormatTOON {
		return formatter.Output(struct {
			Stats   graph.Stats    `json:"stats" toon:"stats"`
			Metrics *graph.Metrics `json:"metrics" toon:"metrics"`
		}{g.Stats(), metrics})
	}

	w := formatter.Writer()
	stats := g.Stats()
	formatter.Info("Graph Metrics:")
	fmt.Fprintf(w, "  Files: %d\n", stats.Files)
	fmt.Fprintf(w, "  Symbols: %d\n", stats.Symbols)
	fmt.Fprintf(w, "  References: %d\n", stats.References)
	fmt.Fprintf(w, "  Avg Degree: %.2f\n", metrics.Summary.AvgDegree)
	fmt.Fprintf(w, "  Density: %.4f\n", metrics.Summary.Density)

	nodes := metrics.Nodes
	if top := c.Int("top"); len(nodes) > top {
		nodes = nodes[:top]
	}
	if len(nodes) > 0 {
		var rows [][]string
		for _, n := range nodes {
			rows = append(rows, []string{
				n.QualifiedName,
				string(n.Kind),
				fmt.Sprintf("%.4f", n.PageRank),
				fmt.Sprintf("%d", n.InDegree),
				fmt.Sprintf("%d", n.OutDegree),
			})
		}
		table := output.NewTable(
			fmt.Sprintf("Top %d Symbols by PageRank", len(rows)),
			[]string{"Symbol", "Kind", "PageRank", "In", "Out"},
			rows,
			nil,
			nil,
		)
		fmt.Fprintln(w)
		if err := formatter.Output(table); err != nil {
			return err
		}
	}

	if len(metrics.Cycles) > 0 {
		fmt.Fprintln(w)
		if formatter.Colored() {
			color.Yellow("Reference cycles (%d):", len(metrics.Cycles))
		} else {
			fmt.Fprintf(w, "Reference cycles (%d):\n", len(metrics.Cycles))
		}
		for _, cycle := range metrics.Cycles {
			fmt.Fprintf(w, "  - %s\n", strings.Join(cycle, " -> "))
		}
	}
	return nil
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Re-analyze on file changes and report verdict deltas",
		ArgsUsage: "[path...]",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "debounce",
				Value: 500 * time.Millisecond,
				Usage: "Quiet period before re-analysis",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Disable the extraction cache",
			},
		},
		Action: runWatchCmd,
	}
}

func runWatchCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	root, err := filepath.Abs(getPaths(c)[0])
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	scan, err := scanner.New(scanner.WithConfig(cfg)).Scan([]string{root})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	engine, err := newEngine(cfg, scan, c.Bool("no-cache"))
	if err != nil {
		return err
	}
	defer engine.Close()

	analysis, err := engine.Analyze(c.Context, scan.Files)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	fmt.Printf("Initial state: %d files, %d dead symbols\n\n", analysis.Summary.TotalFiles, len(analysis.DeadSymbols))

	watcher, err := watch.NewWatcher(root, cfg, c.Duration("debounce"))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Stop()

	// Flushes arrive on watcher goroutines; the delta state needs a lock.
	var mu sync.Mutex
	dead := deadSet(analysis)
	watcher.SetCallback(func(path string, removed bool) {
		mu.Lock()
		defer mu.Unlock()

		if removed {
			engine.RemoveFile(path)
		} else if err := engine.UpdateFile(context.Background(), path); err != nil {
			color.Red("Update failed: %v", err)
			return
		}
		next := engine.Resolve()
		dead = printDeltas(dead, next)
	})

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nStopping watch...")
		cancel()
	}()

	if err := watcher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func deadSet(analysis *models.Analysis) map[string]bool {
	set := make(map[string]bool, len(analysis.DeadSymbols))
	for _, d := range analysis.DeadSymbols {
		set[d.QualifiedName] = true
	}
	return set
}

// printDeltas reports dead-set changes since the previous resolution and
// returns the new dead set.
func printDeltas(prev map[string]bool, analysis *models.Analysis) map[string]bool {
	curr := deadSet(analysis)
	for _, d := range analysis.DeadSymbols {
		if !prev[d.QualifiedName] {
			color.Red("  newly dead: %s (%s:%d)", d.QualifiedName, relPath(analysis.Root, d.File), d.Line)
		}
	}
	var revived []string
	for name := range prev {
		if !curr[name] {
			revived = append(revived, name)
		}
	}
	sort.Strings(revived)
	for _, name := range revived {
		color.Green("  newly live: %s", name)
	}
	fmt.Printf("  dead symbols: %d\n", len(curr))
	return curr
}

func baselineCmd() *cli.Command {
	return &cli.Command{
		Name:      "baseline",
		Usage:     "Accept the current dead set so future reports stay quiet",
		ArgsUsage: "[path...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Value:   "vestige-baseline.yaml",
				Usage:   "Baseline file path",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite an existing baseline",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Disable the extraction cache",
			},
		},
		Action: runBaselineCmd,
	}
}

func runBaselineCmd(c *cli.Context) error {
	outputPath := c.String("output")
	if _, err := os.Stat(outputPath); err == nil && !c.Bool("force") {
		return fmt.Errorf("baseline %q already exists (use --force to overwrite)", outputPath)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	scan, err := scanner.New(scanner.WithConfig(cfg)).Scan(getPaths(c))
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if len(scan.Files) == 0 {
		color.Yellow("No Python files found")
		return nil
	}

	engine, err := newEngine(cfg, scan, c.Bool("no-cache"))
	if err != nil {
		return err
	}
	defer engine.Close()

	bar := progress.NewTracker("Analyzing Python sources...", len(scan.Files))
	tracker := analyzer.NewTracker(bar.Observe)
	tracker.SetTotal(len(scan.Files))
	analysis, err := engine.Analyze(analyzer.WithTracker(c.Context, tracker), scan.Files)
	if err != nil {
		bar.FinishError(err)
		return fmt.Errorf("analysis failed: %w", err)
	}
	bar.FinishSuccess()

	// Paths go into the file relative to the analysis root so the baseline
	// can be committed.
	entries := make([]models.DeadSymbol, len(analysis.DeadSymbols))
	copy(entries, analysis.DeadSymbols)
	for i := range entries {
		entries[i].File = relPath(analysis.Root, entries[i].File)
	}

	b := models.NewBaseline(entries)
	if err := models.WriteBaseline(outputPath, b); err != nil {
		return fmt.Errorf("failed to write baseline: %w", err)
	}
	color.Green("Wrote %s (%d accepted symbols)", outputPath, len(b.Symbols))
	return nil
}
