// Package fileproc runs per-file work across a bounded worker pool.
package fileproc

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/driftline/vestige/pkg/analyzer"
	"github.com/driftline/vestige/pkg/parser"
	"github.com/sourcegraph/conc/pool"
)

// ProcessingError ties a failure to the file that caused it.
type ProcessingError struct {
	Path string
	Err  error
}

func (e ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying error for errors.Is and errors.As.
func (e ProcessingError) Unwrap() error {
	return e.Err
}

// ProcessingErrors accumulates per-file failures from concurrent workers.
type ProcessingErrors struct {
	mu     sync.Mutex
	Errors []ProcessingError
}

// Add records a failure. Safe for concurrent use.
func (e *ProcessingErrors) Add(path string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Errors = append(e.Errors, ProcessingError{Path: path, Err: err})
}

// HasErrors reports whether any failure was recorded.
func (e *ProcessingErrors) HasErrors() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Errors) > 0
}

func (e *ProcessingErrors) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch n := len(e.Errors); n {
	case 0:
		return "no errors"
	case 1:
		return e.Errors[0].Error()
	default:
		return fmt.Sprintf("%d files failed to process (first: %v)", n, e.Errors[0])
	}
}

// Unwrap returns nil; the collection has no single underlying error.
func (e *ProcessingErrors) Unwrap() error {
	return nil
}

// DefaultWorkerMultiplier scales NumCPU when no worker count is configured.
// Parsing mixes file I/O with CGO calls, so 2x keeps cores busy.
const DefaultWorkerMultiplier = 2

// Workers resolves a configured worker count. Values <= 0 default to
// 2x NumCPU.
func Workers(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU() * DefaultWorkerMultiplier
}

func poolSize(n, files int) int {
	n = Workers(n)
	if n > files {
		n = files
	}
	return n
}

// runner holds the shared state of one parallel pass. Each worker writes
// only its own result slot, so the slices need no lock.
type runner[T any] struct {
	vals    []T
	done    []bool
	errs    *ProcessingErrors
	tracker *analyzer.Tracker
}

func newRunner[T any](ctx context.Context, files []string) *runner[T] {
	return &runner[T]{
		vals:    make([]T, len(files)),
		done:    make([]bool, len(files)),
		errs:    &ProcessingErrors{},
		tracker: analyzer.TrackerFromContext(ctx),
	}
}

func (r *runner[T]) tick(path string) {
	if r.tracker != nil {
		r.tracker.Tick(path)
	}
}

func (r *runner[T]) fail(path string, err error) {
	r.errs.Add(path, err)
	r.tick(path)
}

func (r *runner[T]) keep(i int, v T) {
	r.vals[i] = v
	r.done[i] = true
}

// collect drops the slots of failed files, preserving input order.
func (r *runner[T]) collect() ([]T, *ProcessingErrors) {
	out := make([]T, 0, len(r.vals))
	for i, ok := range r.done {
		if ok {
			out = append(out, r.vals[i])
		}
	}
	if r.errs.HasErrors() {
		return out, r.errs
	}
	return out, nil
}

// MapFiles processes files in parallel, calling fn for each file with a
// parser borrowed from a per-worker pool. Results are returned in the order
// of the input files; entries for files that failed are omitted.
// Progress is reported through the tracker carried by ctx, if any.
func MapFiles[T any](ctx context.Context, files []string, fn func(*parser.Parser, string) (T, error)) ([]T, *ProcessingErrors) {
	return MapFilesN(ctx, files, 0, 0, fn)
}

// MapFilesWithSizeLimit is MapFiles with a per-file size limit. Files larger
// than maxBytes are skipped and recorded as errors. maxBytes <= 0 disables
// the check.
func MapFilesWithSizeLimit[T any](ctx context.Context, files []string, maxBytes int64, fn func(*parser.Parser, string) (T, error)) ([]T, *ProcessingErrors) {
	return MapFilesN(ctx, files, 0, maxBytes, fn)
}

// MapFilesN processes files with a configurable worker count and optional
// per-file size limit. maxWorkers <= 0 defaults to 2x NumCPU.
func MapFilesN[T any](ctx context.Context, files []string, maxWorkers int, maxBytes int64, fn func(*parser.Parser, string) (T, error)) ([]T, *ProcessingErrors) {
	if len(files) == 0 {
		return nil, nil
	}
	workers := poolSize(maxWorkers, len(files))

	// Parsers are pooled per worker rather than created per file; parser
	// construction crosses the CGO boundary.
	parsers := make(chan *parser.Parser, workers)
	for range workers {
		parsers <- parser.New()
	}
	defer func() {
		close(parsers)
		for psr := range parsers {
			psr.Close()
		}
	}()

	run := newRunner[T](ctx, files)
	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx)
	for i, path := range files {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				run.fail(path, err)
				return err
			}
			if maxBytes > 0 {
				if err := checkSize(path, maxBytes); err != nil {
					run.fail(path, err)
					return nil
				}
			}

			psr := <-parsers
			defer func() { parsers <- psr }()

			v, err := fn(psr, path)
			run.tick(path)
			if err != nil {
				run.errs.Add(path, err)
				return nil // individual file errors don't stop the pool
			}
			run.keep(i, v)
			return nil
		})
	}
	_ = p.Wait() // context errors are already captured per file

	return run.collect()
}

func checkSize(path string, maxBytes int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > maxBytes {
		return fmt.Errorf("file size %d exceeds limit %d", info.Size(), maxBytes)
	}
	return nil
}

// ForEachFile processes files in parallel without a parser; use it for work
// that only reads bytes. Results come back in input order with failed
// entries omitted.
func ForEachFile[T any](ctx context.Context, files []string, fn func(string) (T, error)) ([]T, *ProcessingErrors) {
	return ForEachFileN(ctx, files, 0, fn)
}

// ForEachFileN is ForEachFile with a configurable worker count.
// maxWorkers <= 0 defaults to 2x NumCPU.
func ForEachFileN[T any](ctx context.Context, files []string, maxWorkers int, fn func(string) (T, error)) ([]T, *ProcessingErrors) {
	if len(files) == 0 {
		return nil, nil
	}

	run := newRunner[T](ctx, files)
	p := pool.New().WithMaxGoroutines(poolSize(maxWorkers, len(files))).WithContext(ctx)
	for i, path := range files {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				run.fail(path, err)
				return err
			}
			v, err := fn(path)
			run.tick(path)
			if err != nil {
				run.errs.Add(path, err)
				return nil
			}
			run.keep(i, v)
			return nil
		})
	}
	_ = p.Wait()

	return run.collect()
}
