package analyzer

import (
	"context"
	"sync/atomic"
)

// ProgressFunc receives progress updates: current is the number of items
// completed so far, total the number expected, and path the item that just
// finished.
type ProgressFunc func(current, total int, path string)

// Tracker counts completed work items and relays each completion to a
// callback. It is safe for concurrent use.
type Tracker struct {
	total    atomic.Int32
	current  atomic.Int32
	callback ProgressFunc
}

// NewTracker returns a tracker that invokes callback on every Tick.
func NewTracker(callback ProgressFunc) *Tracker {
	return &Tracker{callback: callback}
}

// SetTotal sets the expected item count, replacing any previous total.
func (t *Tracker) SetTotal(n int) {
	t.total.Store(int32(n))
}

// Add grows the expected item count by n. Useful when work is discovered
// incrementally.
func (t *Tracker) Add(n int) {
	t.total.Add(int32(n))
}

// Tick records one completed item and notifies the callback.
func (t *Tracker) Tick(path string) {
	done := t.current.Add(1)
	if t.callback == nil {
		return
	}
	t.callback(int(done), int(t.total.Load()), path)
}

// Current returns the number of completed items.
func (t *Tracker) Current() int {
	return int(t.current.Load())
}

// Total returns the expected item count.
func (t *Tracker) Total() int {
	return int(t.total.Load())
}

type trackerKey struct{}

// WithTracker attaches a progress tracker to the context. Processing layers
// retrieve it with TrackerFromContext.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// TrackerFromContext returns the tracker attached to ctx, or nil.
func TrackerFromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}
