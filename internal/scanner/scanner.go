// Package scanner discovers Python source files for analysis.
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/driftline/vestige/pkg/config"
	"github.com/driftline/vestige/pkg/parser"
)

// Result contains the outcome of a scan.
type Result struct {
	// Files holds the discovered Python files as absolute paths, in
	// deterministic walk order.
	Files []string
	// Dir is the absolute path of the first scanned directory. Analysis
	// uses it as the base for module path derivation.
	Dir string
	// RepoRoot is the git repository root containing Dir, or empty when
	// the scan ran outside a repository.
	RepoRoot string
}

// Scanner finds Python files under one or more paths, honoring config
// exclude patterns and .gitignore files.
type Scanner struct {
	cfg      *config.Config
	matchers []gitignore.Matcher
	base     string
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithConfig sets the configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Scanner) {
		s.cfg = cfg
	}
}

// New creates a scanner. Without options it loads the nearest config file
// or falls back to defaults.
func New(opts ...Option) *Scanner {
	cfg, _ := config.LoadOrDefault()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Scanner{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan walks the given paths and returns all Python files found. Paths may
// be directories or individual files; an empty slice means the current
// directory. Duplicate discoveries keep their first position.
func (s *Scanner) Scan(paths []string) (*Result, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	result := &Result{}
	seen := make(map[string]bool)

	for i, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, &PathError{Path: path, Err: err}
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return nil, &PathError{Path: path, Err: err}
		}

		if i == 0 {
			if info.IsDir() {
				result.Dir = absPath
			} else {
				result.Dir = filepath.Dir(absPath)
			}
			result.RepoRoot = FindGitRoot(result.Dir)
		}

		if !info.IsDir() {
			ok, err := s.ScanFile(absPath)
			if err != nil {
				return nil, &ScanError{Path: path, Err: err}
			}
			if ok && !seen[absPath] {
				seen[absPath] = true
				result.Files = append(result.Files, absPath)
			}
			continue
		}

		found, err := s.ScanDir(absPath)
		if err != nil {
			return nil, &ScanError{Path: path, Err: err}
		}
		for _, f := range found {
			if !seen[f] {
				seen[f] = true
				result.Files = append(result.Files, f)
			}
		}
	}

	return result, nil
}

// ScanDir recursively walks a directory for Python files.
// Uses filepath.WalkDir and validates that symlinked paths stay within the
// root directory.
func (s *Scanner) ScanDir(root string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, err
	}

	s.loadExcludePatterns(absRoot)

	files := make([]string, 0, 1024)
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if resolved, err := filepath.EvalSymlinks(path); err != nil || !isWithinRoot(resolved, absRoot) {
				return skipEntry(d)
			}
		}

		if d.IsDir() {
			if d.Name() == ".git" || s.isExcluded(path, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if s.isExcluded(path, false) || parser.DetectLanguage(path) != parser.LangPython {
			return nil
		}
		files = append(files, path)
		return nil
	})

	return files, walkErr
}

// skipEntry prunes an entry from a walk without failing it.
func skipEntry(d fs.DirEntry) error {
	if d.IsDir() {
		return filepath.SkipDir
	}
	return nil
}

// ScanFile reports whether a single file should be analyzed.
func (s *Scanner) ScanFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}

	if s.matchers == nil {
		s.loadExcludePatterns(filepath.Dir(path))
	}
	if s.isExcluded(path, false) {
		return false, nil
	}

	return parser.DetectLanguage(path) != parser.LangUnknown, nil
}

// loadExcludePatterns combines config exclude patterns with .gitignore files
// found in the repository containing root. Config patterns use gitignore
// syntax. Matching is anchored at the repository root when one exists so
// that nested .gitignore domains line up.
func (s *Scanner) loadExcludePatterns(root string) {
	var patterns []gitignore.Pattern

	s.base = root
	for _, pattern := range s.cfg.Exclude.Patterns {
		patterns = append(patterns, gitignore.ParsePattern(pattern, nil))
	}

	if s.cfg.Exclude.Gitignore {
		if gitRoot := FindGitRoot(root); gitRoot != "" {
			s.base = gitRoot
			fsys := osfs.New(gitRoot)
			if gitPatterns, err := gitignore.ReadPatterns(fsys, nil); err == nil {
				patterns = append(patterns, gitPatterns...)
			}
		}
	}

	s.matchers = nil
	if len(patterns) > 0 {
		s.matchers = append(s.matchers, gitignore.NewMatcher(patterns))
	}
}

// isExcluded checks if a path matches any exclusion pattern.
func (s *Scanner) isExcluded(path string, isDir bool) bool {
	if len(s.matchers) == 0 {
		return false
	}

	rel, err := filepath.Rel(s.base, path)
	if err != nil {
		rel = path
	}
	pathParts := strings.Split(rel, string(filepath.Separator))
	for _, m := range s.matchers {
		if m.Match(pathParts, isDir) {
			return true
		}
	}
	return false
}

// isWithinRoot reports whether path stays inside root once made absolute and
// cleaned. Symlink targets that escape the root fail this check.
func isWithinRoot(path, root string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	abs, root = filepath.Clean(abs), filepath.Clean(root)
	return abs == root || strings.HasPrefix(abs, root+string(filepath.Separator))
}

// FindGitRoot resolves the root of the git worktree containing path.
// Returns empty string when path is not inside a repository.
func FindGitRoot(path string) string {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	wt, err := repo.Worktree()
	if err != nil {
		return ""
	}
	return wt.Filesystem.Root()
}

// FilterBySize drops files larger than maxSize bytes, along with files that
// cannot be stat'ed. The second return is the number dropped. A maxSize of
// zero or less disables filtering.
func FilterBySize(files []string, maxSize int64) ([]string, int) {
	if maxSize <= 0 {
		return files, 0
	}

	kept := make([]string, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || info.Size() > maxSize {
			continue
		}
		kept = append(kept, f)
	}
	return kept, len(files) - len(kept)
}

// PathError indicates an invalid scan path.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return "invalid path " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// ScanError indicates a scanning failure.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return "failed to scan " + e.Path + ": " + e.Err.Error()
}

func (e *ScanError) Unwrap() error {
	return e.Err
}
