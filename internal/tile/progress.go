package tile

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// progressBar renders an in-place terminal progress bar for the run. It
// refreshes at a fixed interval and supports concurrent Increment calls from
// multiple worker goroutines. Progress is reported by processed-anchor count
// against the total anchor count (not per-zoom-level tile count, since the
// scheduler no longer processes one zoom level at a time); an optional
// counter of tiles handed to the sink is folded into the same line.
type progressBar struct {
	total     int64
	processed atomic.Int64
	commits   *atomic.Int64
	label     string
	barWidth  int
	start     time.Time
	done      chan struct{}
	mu        sync.Mutex
}

// SetCommitCounter attaches a counter that the scheduler increments after
// every successful sink Put, so a single bar shows both anchors warped and
// tiles written.
func (pb *progressBar) SetCommitCounter(c *atomic.Int64) {
	pb.commits = c
}

func newProgressBar(label string, total int64) *progressBar {
	pb := &progressBar{
		total:    total,
		label:    label,
		barWidth: 30,
		start:    time.Now(),
		done:     make(chan struct{}),
	}
	go pb.run()
	return pb
}

// Increment marks one more item as processed. Safe for concurrent use.
func (pb *progressBar) Increment() {
	pb.processed.Add(1)
}

// Finish stops the refresh loop and prints the final bar state with a newline.
func (pb *progressBar) Finish() {
	close(pb.done)
	pb.draw()
	fmt.Fprint(os.Stderr, "\n")
}

func (pb *progressBar) run() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-pb.done:
			return
		case <-ticker.C:
			pb.draw()
		}
	}
}

func (pb *progressBar) draw() {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	processed := pb.processed.Load()
	total := pb.total

	var frac float64
	if total > 0 {
		frac = float64(processed) / float64(total)
	}
	if frac > 1 {
		frac = 1
	}

	filled := int(float64(pb.barWidth) * frac)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.barWidth-filled)

	elapsed := time.Since(pb.start)
	rate := float64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(processed) / secs
	}

	commitStr := ""
	if pb.commits != nil {
		commitStr = fmt.Sprintf("  %d tiles written", pb.commits.Load())
	}

	fmt.Fprintf(os.Stderr, "\r%s [%s] %3.0f%%  %d/%d anchors  %.0f/s%s  %s\033[K",
		pb.label, bar, frac*100, processed, total, rate, commitStr, formatDuration(elapsed))
}

// formatDuration formats a duration concisely (e.g. "1m23s", "45s", "0s").
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) - m*60
	return fmt.Sprintf("%dm%02ds", m, s)
}
