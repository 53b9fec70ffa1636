package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/driftline/vestige/internal/cache"
	"github.com/driftline/vestige/internal/output"
	"github.com/driftline/vestige/internal/scanner"
	"github.com/driftline/vestige/pkg/analyzer/liveness"
	"github.com/driftline/vestige/pkg/config"
)

// outputFlags returns the flags shared by every analysis command.
func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format: text, json, markdown, toon",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write output to file",
		},
		&cli.BoolFlag{
			Name:  "no-cache",
			Usage: "Disable the extraction cache",
		},
	}
}

// getPaths returns positional args, defaulting to ["."]. Flag tokens the
// parser left in the argument list (anything after the first positional)
// are filtered out along with their values.
func getPaths(c *cli.Context) []string {
	args := c.Args().Slice()
	var paths []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "-") {
			if !strings.Contains(arg, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				i++
			}
			continue
		}
		paths = append(paths, arg)
	}
	if len(paths) == 0 {
		return []string{"."}
	}
	return paths
}

// getTrailingFlag resolves a string flag that may appear after positional
// arguments, where the parser no longer picks it up. The last occurrence
// wins; parsed flag values and then defaultValue are the fallbacks.
func getTrailingFlag(c *cli.Context, name, short, defaultValue string) string {
	long, shrt := "--"+name, "-"+short
	value := ""
	args := c.Args().Slice()
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == long || arg == shrt:
			if i+1 < len(args) {
				value = args[i+1]
				i++
			}
		case strings.HasPrefix(arg, long+"="):
			value = strings.TrimPrefix(arg, long+"=")
		case strings.HasPrefix(arg, shrt+"="):
			value = strings.TrimPrefix(arg, shrt+"=")
		}
	}
	if value != "" {
		return value
	}
	if v := c.String(name); v != "" {
		return v
	}
	return defaultValue
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// relPath shows path relative to the analysis root when it is inside it.
func relPath(root, path string) string {
	if root == "" {
		return path
	}
	if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

// loadConfig resolves configuration, honoring the global --config flag.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.LoadOrDefault()
}

// newEngine builds a liveness analyzer from configuration and a scan result.
// The cache is anchored under the scan root so per-project caches stay in
// the project.
func newEngine(cfg *config.Config, scan *scanner.Result, noCache bool, extra ...liveness.Option) (*liveness.Analyzer, error) {
	rules, err := liveness.RulesFromConfig(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}

	opts := []liveness.Option{
		liveness.WithRules(rules),
		liveness.WithRoot(scan.Dir),
		liveness.WithWorkers(cfg.Analysis.Workers),
		liveness.WithMaxFileSize(cfg.Analysis.MaxFileSize),
	}
	if !noCache && cfg.Cache.Enabled {
		if ch, err := cache.New(cache.ResolveDir(cfg.Cache.Dir, scan.Dir), cfg.Cache.TTL, true); err == nil {
			opts = append(opts, liveness.WithCache(ch))
		}
	}
	return liveness.New(append(opts, extra...)...), nil
}

// newFormatter builds a formatter from command flags, falling back to
// configured output settings.
func newFormatter(c *cli.Context, cfg *config.Config) (*output.Formatter, error) {
	format := output.ParseFormat(getTrailingFlag(c, "format", "f", cfg.Output.Format))
	colored := !c.Bool("no-color") && cfg.Output.Color
	return output.NewFormatter(format, getTrailingFlag(c, "output", "o", ""), colored)
}
