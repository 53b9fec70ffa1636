package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/driftline/vestige/pkg/config"
	"github.com/driftline/vestige/pkg/models"
)

// TestGetPaths verifies path handling from CLI arguments.
func TestGetPaths(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "no args defaults to current dir",
			args:     []string{},
			expected: []string{"."},
		},
		{
			name:     "single path",
			args:     []string{"/foo/bar"},
			expected: []string{"/foo/bar"},
		},
		{
			name:     "multiple paths",
			args:     []string{"/foo", "/bar"},
			expected: []string{"/foo", "/bar"},
		},
		{
			name:     "filters out flags",
			args:     []string{"/foo", "-f", "json", "/bar"},
			expected: []string{"/foo", "/bar"},
		},
		{
			name:     "filters out format flag",
			args:     []string{"/foo", "--format", "json"},
			expected: []string{"/foo"},
		},
		{
			name:     "filters out equals form",
			args:     []string{"/foo", "--format=json", "/bar"},
			expected: []string{"/foo", "/bar"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &cli.App{
				Action: func(c *cli.Context) error {
					result := getPaths(c)
					if len(result) != len(tt.expected) {
						t.Errorf("getPaths() = %v, want %v", result, tt.expected)
						return nil
					}
					for i := range result {
						if result[i] != tt.expected[i] {
							t.Errorf("getPaths()[%d] = %q, want %q", i, result[i], tt.expected[i])
						}
					}
					return nil
				},
			}
			args := append([]string{"test"}, tt.args...)
			_ = app.Run(args)
		})
	}
}

// TestGetTrailingFlag verifies trailing flag parsing.
func TestGetTrailingFlag(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		flagName     string
		shortName    string
		defaultValue string
		expected     string
	}{
		{
			name:         "no flag returns default",
			args:         []string{},
			flagName:     "format",
			shortName:    "f",
			defaultValue: "text",
			expected:     "text",
		},
		{
			name:         "long flag with space",
			args:         []string{"--format", "json"},
			flagName:     "format",
			shortName:    "f",
			defaultValue: "text",
			expected:     "json",
		},
		{
			name:         "short flag with space",
			args:         []string{"-f", "markdown"},
			flagName:     "format",
			shortName:    "f",
			defaultValue: "text",
			expected:     "markdown",
		},
		{
			name:         "long flag with equals",
			args:         []string{"--format=toon"},
			flagName:     "format",
			shortName:    "f",
			defaultValue: "text",
			expected:     "toon",
		},
		{
			name:         "short flag with equals",
			args:         []string{"-f=json"},
			flagName:     "format",
			shortName:    "f",
			defaultValue: "text",
			expected:     "json",
		},
		{
			name:         "trailing flag after positional",
			args:         []string{".", "-f", "json"},
			flagName:     "format",
			shortName:    "f",
			defaultValue: "text",
			expected:     "json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &cli.App{
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    tt.flagName,
						Aliases: []string{tt.shortName},
						Value:   tt.defaultValue,
					},
				},
				Action: func(c *cli.Context) error {
					result := getTrailingFlag(c, tt.flagName, tt.shortName, tt.defaultValue)
					if result != tt.expected {
						t.Errorf("getTrailingFlag() = %q, want %q", result, tt.expected)
					}
					return nil
				},
			}
			args := append([]string{"test"}, tt.args...)
			_ = app.Run(args)
		})
	}
}

// TestTruncate verifies string truncation.
func TestTruncate(t *testing.T) {
	tests := []struct {
		in       string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly ten..", 13, "exactly ten.."},
		{"this is a longer string", 10, "this is..."},
		{"ab", 1, "a"},
	}

	for _, tt := range tests {
		if got := truncate(tt.in, tt.maxLen); got != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.expected)
		}
	}
}

// TestOutputFlags verifies the output flags are correctly defined.
func TestOutputFlags(t *testing.T) {
	flags := outputFlags()

	if len(flags) != 3 {
		t.Errorf("outputFlags() returned %d flags, want 3", len(flags))
	}

	flagNames := make(map[string]bool)
	for _, f := range flags {
		for _, name := range f.Names() {
			flagNames[name] = true
		}
	}

	required := []string{"format", "f", "output", "o", "no-cache"}
	for _, name := range required {
		if !flagNames[name] {
			t.Errorf("outputFlags() missing flag %q", name)
		}
	}
}

// TestRelPath verifies path display shortening.
func TestRelPath(t *testing.T) {
	tests := []struct {
		root     string
		path     string
		expected string
	}{
		{"/proj", "/proj/pkg/app.py", "pkg/app.py"},
		{"/proj", "/other/app.py", "/other/app.py"},
		{"", "/proj/app.py", "/proj/app.py"},
	}

	for _, tt := range tests {
		if got := relPath(tt.root, tt.path); got != tt.expected {
			t.Errorf("relPath(%q, %q) = %q, want %q", tt.root, tt.path, got, tt.expected)
		}
	}
}

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

// runCommand builds a fresh app per invocation so flag state cannot leak
// between runs.
func runCommand(cmd func() *cli.Command, args ...string) error {
	app := &cli.App{
		Name:     "vestige",
		Metadata: make(map[string]interface{}),
		Commands: []*cli.Command{cmd()},
	}
	return app.Run(append([]string{"vestige"}, args...))
}

const fixtureSource = `def used():
    return 1


def unused():
    return 2


def main():
    used()
`

// TestReportCommandE2E tests the report command end-to-end.
func TestReportCommandE2E(t *testing.T) {
	tmpDir := t.TempDir()
	writeFixture(t, tmpDir, "app.py", fixtureSource)
	outPath := filepath.Join(tmpDir, "report.json")

	err := runCommand(reportCmd, "report", "-f", "json", "-o", outPath, tmpDir)
	if err != nil {
		t.Fatalf("report command failed: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("report output not written: %v", err)
	}
	var analysis models.Analysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		t.Fatalf("report output is not valid JSON: %v", err)
	}
	if len(analysis.DeadSymbols) != 1 || analysis.DeadSymbols[0].QualifiedName != "app.unused" {
		t.Errorf("dead symbols = %+v, want app.unused only", analysis.DeadSymbols)
	}
}

// TestReportFailOnDead verifies the nonzero-exit path and its baseline escape.
func TestReportFailOnDead(t *testing.T) {
	tmpDir := t.TempDir()
	writeFixture(t, tmpDir, "app.py", fixtureSource)

	err := runCommand(reportCmd, "report", "--fail-on-dead", "-f", "json", "-o", filepath.Join(tmpDir, "r1.json"), tmpDir)
	if err == nil {
		t.Fatal("report --fail-on-dead should fail when dead symbols remain")
	}
	if !strings.Contains(err.Error(), "dead symbols found") {
		t.Errorf("error = %v", err)
	}

	baselinePath := filepath.Join(tmpDir, "baseline.yaml")
	b := &models.Baseline{
		Version: models.BaselineVersion,
		Symbols: []models.BaselineEntry{{QualifiedName: "app.unused", Kind: models.KindFunction, File: "app.py"}},
	}
	if err := models.WriteBaseline(baselinePath, b); err != nil {
		t.Fatalf("failed to write baseline: %v", err)
	}

	err = runCommand(reportCmd, "report", "--fail-on-dead", "--baseline", baselinePath, "-f", "json", "-o", filepath.Join(tmpDir, "r2.json"), tmpDir)
	if err != nil {
		t.Fatalf("baseline should suppress the only dead symbol: %v", err)
	}
}

// TestSymbolsCommandE2E tests the symbols command and its --why lookup.
func TestSymbolsCommandE2E(t *testing.T) {
	tmpDir := t.TempDir()
	writeFixture(t, tmpDir, "app.py", fixtureSource)

	if err := runCommand(symbolsCmd, "symbols", "-f", "json", "-o", filepath.Join(tmpDir, "symbols.json"), tmpDir); err != nil {
		t.Fatalf("symbols command failed: %v", err)
	}

	if err := runCommand(symbolsCmd, "symbols", "--why", "app.used", tmpDir); err != nil {
		t.Fatalf("symbols --why failed for a known symbol: %v", err)
	}

	err := runCommand(symbolsCmd, "symbols", "--why", "app.missing", tmpDir)
	if err == nil {
		t.Fatal("symbols --why should fail for an unknown symbol")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v", err)
	}
}

// TestGraphCommandE2E tests the graph command end-to-end.
func TestGraphCommandE2E(t *testing.T) {
	tmpDir := t.TempDir()
	writeFixture(t, tmpDir, "util.py", "def parse(raw):\n    return raw\n")
	writeFixture(t, tmpDir, "main.py", "from util import parse\n\nparse(\"x\")\n")

	if err := runCommand(graphCmd, "graph", "-f", "json", "-o", filepath.Join(tmpDir, "graph.json"), tmpDir); err != nil {
		t.Fatalf("graph command failed: %v", err)
	}

	if err := runCommand(graphCmd, "graph", "--mermaid", "-o", filepath.Join(tmpDir, "graph.mmd"), tmpDir); err != nil {
		t.Fatalf("graph --mermaid failed: %v", err)
	}
	diagram, err := os.ReadFile(filepath.Join(tmpDir, "graph.mmd"))
	if err != nil {
		t.Fatalf("mermaid output not written: %v", err)
	}
	if !strings.Contains(string(diagram), "graph TD") {
		t.Errorf("mermaid output = %q", diagram)
	}
}

// TestBaselineCommandE2E tests baseline writing and the overwrite guard.
func TestBaselineCommandE2E(t *testing.T) {
	tmpDir := t.TempDir()
	writeFixture(t, tmpDir, "app.py", fixtureSource)
	baselinePath := filepath.Join(tmpDir, "vestige-baseline.yaml")

	if err := runCommand(baselineCmd, "baseline", "-o", baselinePath, tmpDir); err != nil {
		t.Fatalf("baseline command failed: %v", err)
	}

	b, err := models.LoadBaseline(baselinePath)
	if err != nil {
		t.Fatalf("baseline not readable: %v", err)
	}
	if len(b.Symbols) != 1 || b.Symbols[0].QualifiedName != "app.unused" {
		t.Errorf("baseline symbols = %+v, want app.unused only", b.Symbols)
	}
	if b.Symbols[0].File != "app.py" {
		t.Errorf("baseline file path = %q, want relative app.py", b.Symbols[0].File)
	}

	err = runCommand(baselineCmd, "baseline", "-o", baselinePath, tmpDir)
	if err == nil {
		t.Fatal("baseline should refuse to overwrite without --force")
	}

	if err := runCommand(baselineCmd, "baseline", "--force", "-o", baselinePath, tmpDir); err != nil {
		t.Fatalf("baseline --force failed: %v", err)
	}
}

// TestInitCommandE2E verifies the generated config round-trips through Load.
func TestInitCommandE2E(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "vestige.toml")

	if err := runCommand(initCmd, "init", "-o", cfgPath); err != nil {
		t.Fatalf("init command failed: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.Rules.MinSuffixSegments != config.DefaultConfig().Rules.MinSuffixSegments {
		t.Error("generated config lost rule defaults")
	}

	err = runCommand(initCmd, "init", "-o", cfgPath)
	if err == nil {
		t.Fatal("init should refuse to overwrite without --force")
	}

	if err := runCommand(initCmd, "init", "--force", "-o", cfgPath); err != nil {
		t.Fatalf("init --force failed: %v", err)
	}
}

// TestNoFilesError verifies commands handle empty directories gracefully.
func TestNoFilesError(t *testing.T) {
	tmpDir := t.TempDir()

	if err := runCommand(reportCmd, "report", tmpDir); err != nil {
		t.Fatalf("empty directory should not error: %v", err)
	}
}

// TestVersionVariable verifies version variables are defined.
func TestVersionVariable(t *testing.T) {
	// These are set via ldflags at build time
	if version == "" {
		t.Error("version variable should have a default value")
	}
}
