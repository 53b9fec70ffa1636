package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/driftline/vestige/pkg/config"
)

// writeGitDir lays out the skeleton a fresh `git init` produces, enough for
// repository detection to succeed.
func writeGitDir(t *testing.T, dir string) {
	t.Helper()
	gitDir := filepath.Join(dir, ".git")
	for _, sub := range []string{"objects/info", "objects/pack", "refs/heads", "refs/tags"} {
		if err := os.MkdirAll(filepath.Join(gitDir, sub), 0o755); err != nil {
			t.Fatalf("creating %s: %v", sub, err)
		}
	}
	head := []byte("ref: refs/heads/main\n")
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), head, 0o644); err != nil {
		t.Fatalf("writing HEAD: %v", err)
	}
	cfg := []byte("[core]\n\trepositoryformatversion = 0\n\tfilemode = true\n\tbare = false\n")
	if err := os.WriteFile(filepath.Join(gitDir, "config"), cfg, 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating directory for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// scanDir runs ScanDir under the given config and fails the test on error.
func scanDir(t *testing.T, cfg *config.Config, dir string) []string {
	t.Helper()
	result, err := New(WithConfig(cfg)).ScanDir(dir)
	if err != nil {
		t.Fatalf("ScanDir() error: %v", err)
	}
	return result
}

// relSet maps scan results to root-relative paths for membership checks.
func relSet(t *testing.T, root string, files []string) map[string]bool {
	t.Helper()
	set := make(map[string]bool, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			t.Fatalf("Rel(%s, %s): %v", root, f, err)
		}
		set[rel] = true
	}
	return set
}

func TestNew(t *testing.T) {
	s := New()
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.cfg == nil {
		t.Error("scanner config should not be nil")
	}

	cfg := config.DefaultConfig()
	s = New(WithConfig(cfg))
	if s.cfg != cfg {
		t.Error("scanner config should be the provided config")
	}
}

func TestScanDir(t *testing.T) {
	tmpDir := t.TempDir()

	files := map[string]string{
		"main.py":          "x = 1\n",
		"app.pyi":          "x: int\n",
		"util/helpers.py":  "def helper():\n    pass\n",
		"util/notes.txt":   "hello\n",
		"web/handlers.pyw": "y = 2\n",
	}
	for name, content := range files {
		writeFile(t, tmpDir, name, content)
	}

	result := scanDir(t, config.DefaultConfig(), tmpDir)
	if len(result) != 4 {
		t.Errorf("ScanDir() found %d files, want 4: %v", len(result), result)
	}

	found := relSet(t, tmpDir, result)
	for _, name := range []string{"main.py", "app.pyi", filepath.Join("util", "helpers.py"), filepath.Join("web", "handlers.pyw")} {
		if !found[name] {
			t.Errorf("File %s was not found", name)
		}
	}
	if found[filepath.Join("util", "notes.txt")] {
		t.Error("notes.txt should not be picked up")
	}
}

func TestScanDirDeterministicOrder(t *testing.T) {
	tmpDir := t.TempDir()

	for _, name := range []string{"b.py", "a.py", "sub/z.py", "sub/a.py"} {
		writeFile(t, tmpDir, name, "x = 1\n")
	}

	first := scanDir(t, config.DefaultConfig(), tmpDir)
	second := scanDir(t, config.DefaultConfig(), tmpDir)

	if len(first) != 4 || len(second) != 4 {
		t.Fatalf("expected 4 files in both scans, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("scan order differs at %d: %q vs %q", i, first[i], second[i])
		}
	}

	// WalkDir yields lexical order.
	wantOrder := []string{"a.py", "b.py", filepath.Join("sub", "a.py"), filepath.Join("sub", "z.py")}
	for i, f := range first {
		rel, _ := filepath.Rel(tmpDir, f)
		if rel != wantOrder[i] {
			t.Errorf("position %d: got %s, want %s", i, rel, wantOrder[i])
		}
	}
}

func TestScanDirExcludesDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	for _, dir := range []string{"__pycache__", ".venv", ".git", "node_modules"} {
		writeFile(t, tmpDir, filepath.Join(dir, "file.py"), "x = 1\n")
	}
	writeFile(t, tmpDir, "main.py", "x = 1\n")

	result := scanDir(t, config.DefaultConfig(), tmpDir)
	if len(result) != 1 {
		t.Errorf("ScanDir() found %d files, want 1 (excluded dirs should be skipped): %v", len(result), result)
	}
}

func TestScanDirCustomExcludePattern(t *testing.T) {
	tmpDir := t.TempDir()

	writeFile(t, tmpDir, "main.py", "x = 1\n")
	writeFile(t, tmpDir, "generated_pb.py", "x = 1\n")

	cfg := config.DefaultConfig()
	cfg.Exclude.Patterns = append(cfg.Exclude.Patterns, "generated_*.py")

	result := scanDir(t, cfg, tmpDir)
	if len(result) != 1 {
		t.Fatalf("ScanDir() found %d files, want 1: %v", len(result), result)
	}
	if filepath.Base(result[0]) != "main.py" {
		t.Errorf("expected main.py to survive, got %s", result[0])
	}
}

func TestScanDirWithGitignore(t *testing.T) {
	tmpDir := t.TempDir()
	writeGitDir(t, tmpDir)

	writeFile(t, tmpDir, ".gitignore", "skipme/\n")
	writeFile(t, tmpDir, "main.py", "x = 1\n")
	writeFile(t, tmpDir, filepath.Join("skipme", "skip.py"), "x = 1\n")
	writeFile(t, tmpDir, filepath.Join("src", "app.py"), "x = 1\n")

	cfg := config.DefaultConfig()
	cfg.Exclude.Gitignore = true

	found := relSet(t, tmpDir, scanDir(t, cfg, tmpDir))
	if !found["main.py"] {
		t.Error("Should find main.py")
	}
	if !found[filepath.Join("src", "app.py")] {
		t.Error("Should find src/app.py")
	}
	if found[filepath.Join("skipme", "skip.py")] {
		t.Error("skipme/skip.py should be excluded by .gitignore")
	}
}

func TestScanDirDisabledGitignore(t *testing.T) {
	tmpDir := t.TempDir()
	writeGitDir(t, tmpDir)

	writeFile(t, tmpDir, ".gitignore", "ignored/\n")
	writeFile(t, tmpDir, filepath.Join("ignored", "file.py"), "x = 1\n")

	cfg := config.DefaultConfig()
	cfg.Exclude.Gitignore = false

	found := relSet(t, tmpDir, scanDir(t, cfg, tmpDir))
	if !found[filepath.Join("ignored", "file.py")] {
		t.Error("With gitignore disabled, should find files in 'ignored' directory")
	}
}

func TestScan(t *testing.T) {
	tmpDir := t.TempDir()

	writeFile(t, tmpDir, "pkg/a.py", "x = 1\n")
	writeFile(t, tmpDir, "pkg/b.py", "x = 1\n")
	single := writeFile(t, tmpDir, "standalone.py", "x = 1\n")

	s := New(WithConfig(config.DefaultConfig()))

	t.Run("directory and file paths", func(t *testing.T) {
		result, err := s.Scan([]string{filepath.Join(tmpDir, "pkg"), single})
		if err != nil {
			t.Fatalf("Scan() error: %v", err)
		}
		if len(result.Files) != 3 {
			t.Errorf("Scan() found %d files, want 3", len(result.Files))
		}
		if result.Dir != filepath.Join(tmpDir, "pkg") {
			t.Errorf("Dir = %q, want %q", result.Dir, filepath.Join(tmpDir, "pkg"))
		}
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		result, err := s.Scan([]string{tmpDir, filepath.Join(tmpDir, "pkg")})
		if err != nil {
			t.Fatalf("Scan() error: %v", err)
		}
		if len(result.Files) != 3 {
			t.Errorf("Scan() found %d files, want 3 (no duplicates)", len(result.Files))
		}
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := s.Scan([]string{filepath.Join(tmpDir, "does-not-exist")})
		if err == nil {
			t.Fatal("Scan() should fail on a missing path")
		}
		if _, ok := err.(*PathError); !ok {
			t.Errorf("expected *PathError, got %T", err)
		}
	})

	t.Run("repo root outside git", func(t *testing.T) {
		result, err := s.Scan([]string{tmpDir})
		if err != nil {
			t.Fatalf("Scan() error: %v", err)
		}
		if result.RepoRoot != "" {
			t.Errorf("RepoRoot should be empty outside a repository, got %q", result.RepoRoot)
		}
	})
}

func TestScanFile(t *testing.T) {
	tmpDir := t.TempDir()
	s := New(WithConfig(config.DefaultConfig()))

	tests := []struct {
		name     string
		filename string
		content  string
		want     bool
	}{
		{"python file", "script.py", "x = 1\n", true},
		{"stub file", "types.pyi", "x: int\n", true},
		{"text file", "readme.txt", "hello\n", false},
		{"directory", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tmpDir
			if tt.filename != "" {
				path = writeFile(t, tmpDir, tt.filename, tt.content)
			}

			got, err := s.ScanFile(path)
			if err != nil {
				t.Fatalf("ScanFile() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ScanFile(%s) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestScanFileNonExistent(t *testing.T) {
	s := New(WithConfig(config.DefaultConfig()))
	if _, err := s.ScanFile("/nonexistent/path/file.py"); err == nil {
		t.Error("ScanFile() should return error for non-existent file")
	}
}

func TestScanDirEmptyDirectory(t *testing.T) {
	result := scanDir(t, config.DefaultConfig(), t.TempDir())
	if len(result) != 0 {
		t.Errorf("ScanDir() on empty dir returned %d files, want 0", len(result))
	}
}

func TestFilterBySize(t *testing.T) {
	tmpDir := t.TempDir()

	smallFile := writeFile(t, tmpDir, "small.py", "x = 1\n")
	largeFile := writeFile(t, tmpDir, "large.py", strings.Repeat("x", 1024))

	t.Run("no limit", func(t *testing.T) {
		filtered, skipped := FilterBySize([]string{smallFile, largeFile}, 0)
		if len(filtered) != 2 || skipped != 0 {
			t.Errorf("FilterBySize(0) = %d files, %d skipped; want 2, 0", len(filtered), skipped)
		}
	})

	t.Run("negative limit", func(t *testing.T) {
		filtered, skipped := FilterBySize([]string{smallFile, largeFile}, -1)
		if len(filtered) != 2 || skipped != 0 {
			t.Errorf("FilterBySize(-1) = %d files, %d skipped; want 2, 0", len(filtered), skipped)
		}
	})

	t.Run("with limit", func(t *testing.T) {
		filtered, skipped := FilterBySize([]string{smallFile, largeFile}, 100)
		if len(filtered) != 1 || skipped != 1 {
			t.Fatalf("FilterBySize(100) = %d files, %d skipped; want 1, 1", len(filtered), skipped)
		}
		if filtered[0] != smallFile {
			t.Errorf("FilterBySize should keep small file, got %s", filtered[0])
		}
	})

	t.Run("with stat error", func(t *testing.T) {
		nonExistent := filepath.Join(tmpDir, "nonexistent.py")
		filtered, skipped := FilterBySize([]string{smallFile, nonExistent}, 100)
		if len(filtered) != 1 || skipped != 1 {
			t.Errorf("FilterBySize = %d files, %d skipped; want 1, 1", len(filtered), skipped)
		}
	})
}

func TestIsWithinRoot(t *testing.T) {
	root := t.TempDir()

	inside := []string{root, filepath.Join(root, "subdir", "file.py")}
	for _, path := range inside {
		if !isWithinRoot(path, root) {
			t.Errorf("isWithinRoot(%q, %q) = false, want true", path, root)
		}
	}

	// Sibling dirs sharing a prefix must not count as inside.
	outside := []string{"/some/other/path", filepath.Dir(root), root + "2/file.py"}
	for _, path := range outside {
		if isWithinRoot(path, root) {
			t.Errorf("isWithinRoot(%q, %q) = true, want false", path, root)
		}
	}
}

func TestFindGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	if got := FindGitRoot(tmpDir); got != "" {
		t.Errorf("FindGitRoot() on non-git dir should return empty string, got %q", got)
	}

	writeGitDir(t, tmpDir)
	if got := FindGitRoot(tmpDir); got != tmpDir {
		t.Errorf("FindGitRoot() should return %q, got %q", tmpDir, got)
	}

	subDir := filepath.Join(tmpDir, "src", "pkg")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatalf("creating subdir: %v", err)
	}
	if got := FindGitRoot(subDir); got != tmpDir {
		t.Errorf("FindGitRoot() from subdir should return %q, got %q", tmpDir, got)
	}
}

func TestScanDirWithSymlinks(t *testing.T) {
	tmpDir := t.TempDir()
	realFile := writeFile(t, tmpDir, "real.py", "x = 1\n")

	if err := os.Symlink(realFile, filepath.Join(tmpDir, "link.py")); err != nil {
		t.Skip("Symlinks not supported on this system")
	}

	if result := scanDir(t, config.DefaultConfig(), tmpDir); len(result) < 1 {
		t.Errorf("ScanDir() should find at least the real file, got %d files", len(result))
	}
}

func TestScanDirWithUnresolvableSymlink(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.Symlink("/nonexistent/path/file.py", filepath.Join(tmpDir, "dangling.py")); err != nil {
		t.Skip("Symlinks not supported on this system")
	}
	writeFile(t, tmpDir, "real.py", "x = 1\n")

	if result := scanDir(t, config.DefaultConfig(), tmpDir); len(result) != 1 {
		t.Errorf("ScanDir() should find 1 file (skipping dangling symlink), got %d", len(result))
	}
}

func TestScanDirWithSymlinkDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, filepath.Join("real", "file.py"), "x = 1\n")

	outsideDir := t.TempDir()
	writeFile(t, outsideDir, "outside.py", "x = 1\n")

	if err := os.Symlink(outsideDir, filepath.Join(tmpDir, "linked")); err != nil {
		t.Skip("Symlinks not supported on this system")
	}

	for _, f := range scanDir(t, config.DefaultConfig(), tmpDir) {
		if filepath.Base(f) == "outside.py" {
			t.Error("ScanDir() should not follow symlinks outside the root directory")
		}
	}
}
