// Package config loads and validates vestige configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration options for vestige.
type Config struct {
	// Analysis settings
	Analysis AnalysisConfig `koanf:"analysis" toml:"analysis"`

	// Liveness rule tuning
	Rules RulesConfig `koanf:"rules" toml:"rules"`

	// File exclusion patterns
	Exclude ExcludeConfig `koanf:"exclude" toml:"exclude"`

	// Cache settings
	Cache CacheConfig `koanf:"cache" toml:"cache"`

	// Output settings
	Output OutputConfig `koanf:"output" toml:"output"`
}

// AnalysisConfig controls how the analysis runs.
type AnalysisConfig struct {
	// Workers is the extraction worker count. 0 means 2x NumCPU.
	Workers int `koanf:"workers" toml:"workers"`
	// MaxFileSize is the per-file byte limit. Files above it are skipped
	// with a warning. 0 disables the limit.
	MaxFileSize int64 `koanf:"max_file_size" toml:"max_file_size"`
	// IncludeVerdicts reports live symbols alongside dead ones.
	IncludeVerdicts bool `koanf:"include_verdicts" toml:"include_verdicts"`
}

// RulesConfig tunes the liveness rules.
type RulesConfig struct {
	// EntryPointDecorators lists decorators that mark a definition as a
	// framework entry point. Dotted entries match the full decorator
	// expression, bare entries match its final segment.
	EntryPointDecorators []string `koanf:"entry_point_decorators" toml:"entry_point_decorators"`
	// LifecycleMethodNames lists method names frameworks invoke by
	// convention.
	LifecycleMethodNames []string `koanf:"lifecycle_method_names" toml:"lifecycle_method_names"`
	// KnownBaseClasses lists base classes whose subclasses are treated as
	// framework-managed. Matched against the final segment of the base
	// expression.
	KnownBaseClasses []string `koanf:"known_base_classes" toml:"known_base_classes"`
	// ProtocolMethodPattern is a regular expression for protocol method
	// names.
	ProtocolMethodPattern string `koanf:"protocol_method_pattern" toml:"protocol_method_pattern"`
	// MinSuffixSegments is how many trailing segments of a qualified name
	// a string reference must match.
	MinSuffixSegments int `koanf:"min_suffix_segments" toml:"min_suffix_segments"`
	// StringReferences toggles scanning module-level data structures for
	// dotted name strings.
	StringReferences bool `koanf:"string_references" toml:"string_references"`
}

// ExcludeConfig defines file exclusion patterns.
type ExcludeConfig struct {
	// Patterns use gitignore syntax.
	Patterns []string `koanf:"patterns" toml:"patterns"`
	// Gitignore also applies the repository's .gitignore files.
	Gitignore bool `koanf:"use_gitignore" toml:"use_gitignore"`
}

// CacheConfig controls extraction caching.
type CacheConfig struct {
	Enabled bool   `koanf:"enabled" toml:"enabled"`
	Dir     string `koanf:"dir" toml:"dir"`
	TTL     int    `koanf:"ttl" toml:"ttl"` // TTL in hours
}

// OutputConfig controls output formatting.
type OutputConfig struct {
	Format  string `koanf:"format" toml:"format"` // text, json, toon, markdown
	Color   bool   `koanf:"color" toml:"color"`
	Verbose bool   `koanf:"verbose" toml:"verbose"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{MaxFileSize: 1 << 20},
		Rules: RulesConfig{
			EntryPointDecorators: []string{
				"app.get", "app.post", "app.put", "app.delete", "app.patch",
				"app.route", "app.websocket",
				"router.get", "router.post", "router.put", "router.delete", "router.patch",
				"route", "fixture", "task", "command", "validator", "receiver",
			},
			LifecycleMethodNames: []string{
				"dispatch", "process_request", "process_response",
				"process_exception", "process_view", "handle",
				"filter", "emit", "format", "render",
			},
			KnownBaseClasses: []string{
				"BaseHTTPMiddleware", "BaseMiddleware", "Middleware",
				"MiddlewareMixin", "Filter", "Handler", "Formatter",
				"Protocol", "TestCase", "BaseModel", "BaseSettings",
			},
			ProtocolMethodPattern: `^__\w+__$`,
			MinSuffixSegments:     1,
			StringReferences:      true,
		},
		Exclude: ExcludeConfig{
			Patterns: []string{
				".git/",
				"__pycache__/",
				".venv/",
				"venv/",
				".tox/",
				".eggs/",
				"*.egg-info/",
				".mypy_cache/",
				".pytest_cache/",
				".ruff_cache/",
				"build/",
				"dist/",
				"node_modules/",
			},
			Gitignore: true,
		},
		Cache:  CacheConfig{Enabled: true, Dir: ".vestige/cache", TTL: 24},
		Output: OutputConfig{Format: "text", Color: true},
	}
}

// Load reads and validates a config file. The format follows the file
// extension; unrecognized extensions are parsed as TOML.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
		return nil, err
	}

	if err := validateRaw(k.Raw()); err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if err := validateRules(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	case ".json":
		return json.Parser()
	}
	return toml.Parser()
}

func validateRules(path string, cfg *Config) error {
	if _, err := regexp.Compile(cfg.Rules.ProtocolMethodPattern); err != nil {
		return &ValidationError{Path: path, Err: fmt.Errorf("rules.protocol_method_pattern: %w", err)}
	}
	if cfg.Rules.MinSuffixSegments < 1 {
		return &ValidationError{Path: path, Err: fmt.Errorf("rules.min_suffix_segments must be at least 1, got %d", cfg.Rules.MinSuffixSegments)}
	}
	return nil
}

// LoadOrDefault loads config from the nearest standard location, or returns
// defaults when no config file exists. A config file that fails to parse or
// validate is an error, not a fallback to defaults.
func LoadOrDefault() (*Config, error) {
	var names []string
	for _, stem := range []string{"vestige", ".vestige"} {
		for _, ext := range []string{".toml", ".yaml", ".yml", ".json"} {
			names = append(names, stem+ext)
		}
	}

	for _, dir := range []string{".", ".vestige"} {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return Load(path)
			}
		}
	}
	return DefaultConfig(), nil
}

// ShouldExclude reports whether a path matches an exclude pattern. This is a
// lightweight per-component check used for quick filtering; the scanner
// applies full gitignore semantics.
func (c *Config) ShouldExclude(path string) bool {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for _, pattern := range c.Exclude.Patterns {
		p := strings.TrimSuffix(pattern, "/")
		for _, part := range parts {
			if matched, _ := filepath.Match(p, part); matched {
				return true
			}
		}
	}
	return false
}

// ValidationError indicates a config file that parsed but failed validation.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	return "invalid config " + e.Path + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
