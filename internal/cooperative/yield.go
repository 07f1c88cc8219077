// Package cooperative provides a small yield helper used by long-running
// scans (L3 decay sweeps, recall, incremental code-index updates) so a
// single operation cannot monopolize the engine's goroutines or ignore
// cancellation for long stretches (spec §5).
package cooperative

import (
	"context"
	"runtime"
	"time"
)

// Every is the item-count checkpoint at which Yielder.Maybe yields control.
const Every = 20

// Interval is the minimum wall-clock spacing between yields.
const Interval = 50 * time.Millisecond

// Yielder tracks progress through a batch loop and periodically hands
// control back to the scheduler via runtime.Gosched, while also
// observing context cancellation.
type Yielder struct {
	count    int
	lastYield time.Time
}

// New returns a ready-to-use Yielder.
func New() *Yielder {
	return &Yielder{lastYield: time.Now()}
}

// Maybe increments the processed-item counter and yields if either Every
// items have passed or Interval has elapsed since the last yield. It
// returns ctx.Err() if the context was cancelled.
func (y *Yielder) Maybe(ctx context.Context) error {
	y.count++
	if y.count < Every && time.Since(y.lastYield) < Interval {
		return ctx.Err()
	}
	y.count = 0
	y.lastYield = time.Now()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	// Relinquish the goroutine's timeslice so other work (including
	// cancellation delivery) gets a chance to run.
	runtime.Gosched()
	return ctx.Err()
}
