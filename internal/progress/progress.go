// Package progress aggregates hashing progress from parallel workers.
package progress

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
)

const updateInterval = 50 * time.Millisecond

// Reporter accumulates bytes-read and bytes-to-read across workers.
//
// Both counters are atomic adds, so deltas may arrive in any order; the
// ratio is monotone with respect to arriving deltas but an individual
// snapshot of the pair need not be consistent. That is acceptable for a
// progress display.
type Reporter struct {
	read   atomic.Int64
	toRead atomic.Int64
	bar    *Bar
}

// NewReporter creates a reporter rendering through the given bar.
// A nil bar is replaced by a disabled one.
func NewReporter(bar *Bar) *Reporter {
	if bar == nil {
		bar = New(false, -1)
	}
	return &Reporter{bar: bar}
}

// AddToRead grows the planned byte total.
func (r *Reporter) AddToRead(n int64) {
	r.toRead.Add(n)
	r.bar.Describe(r)
}

// AddRead records completed reads.
func (r *Reporter) AddRead(n int64) {
	r.read.Add(n)
	r.bar.Describe(r)
}

// Read returns the bytes read so far.
func (r *Reporter) Read() int64 { return r.read.Load() }

// ToRead returns the bytes planned so far.
func (r *Reporter) ToRead() int64 { return r.toRead.Load() }

func (r *Reporter) String() string {
	read := r.read.Load()
	toRead := r.toRead.Load()
	pct := 0.0
	if toRead > 0 {
		pct = float64(read) / float64(toRead) * 100
	}
	return fmt.Sprintf("Hashed %s of %s (%.0f%%)",
		humanize.IBytes(uint64(read)), humanize.IBytes(uint64(toRead)), pct)
}

// Finish completes the underlying bar.
func (r *Reporter) Finish() {
	r.bar.Finish(r)
}

// Bar wraps progressbar with enabled/disabled handling.
// All methods are no-ops when disabled.
type Bar struct {
	bar *progressbar.ProgressBar
}

// New creates a progress bar.
// If enabled=false, returns a Bar where all methods are no-ops.
// Use total=-1 for spinner mode, or total>0 for determinate progress.
func New(enabled bool, total int64) *Bar {
	if !enabled {
		return &Bar{}
	}

	opts := []progressbar.Option{
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(updateInterval),
		progressbar.OptionClearOnFinish(),
	}

	if total < 0 {
		// Spinner mode
		opts = append(opts,
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetElapsedTime(false),
		)
		return &Bar{bar: progressbar.NewOptions(-1, opts...)}
	}

	// Progress bar mode
	opts = append(opts, progressbar.OptionSetWidth(40))
	return &Bar{bar: progressbar.NewOptions64(total, opts...)}
}

// Set sets the progress bar to a specific value.
func (b *Bar) Set(n uint64) {
	if b.bar != nil {
		_ = b.bar.Set64(int64(n))
	}
}

// Describe updates the progress bar description.
func (b *Bar) Describe(s fmt.Stringer) {
	if b.bar != nil {
		b.bar.Describe(s.String())
	}
}

// Finish completes the progress bar and prints a final message.
func (b *Bar) Finish(s fmt.Stringer) {
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(os.Stderr, "✔ "+s.String())
	}
}
