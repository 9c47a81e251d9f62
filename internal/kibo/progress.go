package kibo

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// isStderrTTY implements the Auto branch of ShouldShowProgress, grounded
// on original_source/src/progress.rs's ProgressConfig::should_show_progress
// (Rust's atty::is(Stream::Stderr)); github.com/mattn/go-isatty is the
// ecosystem-standard Go equivalent, sourced from
// cristian1one-virtual-vectorfs's dependency tree.
func isStderrTTY() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

// Timer measures wall-clock duration for a single command invocation.
type Timer struct{ start time.Time }

// NewTimer starts a timer.
func NewTimer(now time.Time) *Timer { return &Timer{start: now} }

// ElapsedString formats duration since start the way
// original_source/src/progress.rs's Timer::elapsed_string does.
func (t *Timer) ElapsedString(now time.Time) string {
	return now.Sub(t.start).Round(10 * time.Millisecond).String()
}

// ByteProgress drives a byte-based progress bar during save/load's
// parallel stage, grounded on original_source/src/progress.rs's
// ByteProgress, realized with github.com/schollz/progressbar/v3 (sourced
// from kraklabs-cie / cristian1one-virtual-vectorfs) in place of
// indicatif.
type ByteProgress struct {
	bar     *progressbar.ProgressBar
	enabled bool
}

// NewByteProgress creates a progress tracker for a transfer of totalBytes,
// shown only when show is true.
func NewByteProgress(totalBytes int64, show bool) *ByteProgress {
	if !show {
		return &ByteProgress{enabled: false}
	}
	bar := progressbar.NewOptions64(totalBytes,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return &ByteProgress{bar: bar, enabled: true}
}

// Add advances the bar by n bytes.
func (p *ByteProgress) Add(n int64) {
	if p.enabled {
		_ = p.bar.Add64(n)
	}
}

// Finish clears the bar.
func (p *ByteProgress) Finish() {
	if p.enabled {
		_ = p.bar.Finish()
	}
}

// Spinner drives an indeterminate spinner for setup/verification phases
// where total byte count is not yet known.
type Spinner struct {
	bar     *progressbar.ProgressBar
	enabled bool
}

// NewSpinner starts a labeled spinner, shown only when show is true.
func NewSpinner(label string, show bool) *Spinner {
	if !show {
		return &Spinner{enabled: false}
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(label),
		progressbar.OptionSpinnerType(14),
	)
	return &Spinner{bar: bar, enabled: true}
}

// Finish clears the spinner.
func (s *Spinner) Finish() {
	if s.enabled {
		_ = s.bar.Finish()
	}
}
