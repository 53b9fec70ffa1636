// Package analyzer defines the contract shared by file-based analyzers and
// the progress plumbing used while they run.
package analyzer

import "context"

// FileAnalyzer is implemented by analyzers that process a set of files into
// a single result.
type FileAnalyzer[T any] interface {
	// Analyze processes the files and returns the result. The context is
	// used for cancellation and progress reporting.
	Analyze(ctx context.Context, files []string) (T, error)

	// Close releases any resources held by the analyzer.
	Close()
}
