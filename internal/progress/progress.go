// Package progress renders terminal progress for long-running analysis.
package progress

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Tracker wraps a progress bar for an analysis run.
type Tracker struct {
	bar   *progressbar.ProgressBar
	label string
}

func newBar(total int, label string, extra ...progressbar.Option) *progressbar.ProgressBar {
	opts := append([]progressbar.Option{
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(label),
	}, extra...)
	return progressbar.NewOptions(total, opts...)
}

// NewSpinner creates a spinner for work with no known total, like the
// initial source scan or a watch session waiting for changes.
func NewSpinner(label string) *Tracker {
	bar := newBar(-1, label,
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionClearOnFinish(),
	)
	return &Tracker{bar: bar, label: label}
}

// NewTracker creates a progress bar sized to the number of files to analyze.
func NewTracker(label string, total int) *Tracker {
	theme := progressbar.Theme{Saucer: "=", SaucerHead: ">", SaucerPadding: " ", BarStart: "[", BarEnd: "]"}
	bar := newBar(total, label,
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(theme),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionUseANSICodes(true),
	)
	return &Tracker{bar: bar, label: label}
}

// Tick advances the bar by one item.
func (t *Tracker) Tick() {
	t.bar.Add(1)
}

// Observe advances the bar by one completed file. The signature matches the
// analyzer progress callback, so a bar can back an analysis run directly.
// The total is re-checked on every call because watch sessions discover
// files after the bar is created.
func (t *Tracker) Observe(current, total int, path string) {
	if total > 0 && total != t.bar.GetMax() {
		t.bar.ChangeMax(total)
	}
	t.bar.Add(1)
}

// Describe replaces the bar label in place.
func (t *Tracker) Describe(label string) {
	t.label = label
	t.bar.Describe(label)
}

func (t *Tracker) finish() {
	t.bar.Finish()
	t.bar.Clear()
}

// FinishSuccess clears the bar without printing anything.
func (t *Tracker) FinishSuccess() {
	t.finish()
}

// FinishSkipped clears the bar and notes on stderr why the step was skipped.
func (t *Tracker) FinishSkipped(reason string) {
	t.finish()
	fmt.Fprintf(os.Stderr, "  %s skipped (%s)\n", t.label, reason)
}

// FinishError clears the bar and reports the failure on stderr.
func (t *Tracker) FinishError(err error) {
	t.finish()
	fmt.Fprintf(os.Stderr, "  %s error: %v\n", t.label, err)
}
