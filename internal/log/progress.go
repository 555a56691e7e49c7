package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ProgressIndicator draws a single-line progress bar for batch runs
type ProgressIndicator struct {
	mu        sync.Mutex
	out       io.Writer
	name      string
	total     int
	current   int
	failed    int
	startTime time.Time
	frame     int
	showETA   bool
	now       func() time.Time
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewProgressIndicator creates a new progress indicator writing to out
func NewProgressIndicator(out io.Writer, name string, total int, showETA bool) *ProgressIndicator {
	return &ProgressIndicator{
		out:       out,
		name:      name,
		total:     total,
		startTime: time.Now(),
		showETA:   showETA,
		now:       time.Now,
	}
}

// Done records one finished item; failed items are counted separately
func (pi *ProgressIndicator) Done(failed bool) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	pi.current++
	if failed {
		pi.failed++
	}
	pi.frame = (pi.frame + 1) % len(spinnerFrames)
	fmt.Fprint(pi.out, pi.render())
}

// Finish completes the progress indicator
func (pi *ProgressIndicator) Finish() {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	duration := pi.now().Sub(pi.startTime).Round(time.Millisecond)
	if pi.failed > 0 {
		fmt.Fprintf(pi.out, "\r\033[K%s completed (%d items, %d failed, %v)\n", pi.name, pi.total, pi.failed, duration)
		return
	}
	fmt.Fprintf(pi.out, "\r\033[K%s completed (%d items, %v)\n", pi.name, pi.total, duration)
}

// render builds the current progress line
func (pi *ProgressIndicator) render() string {
	var output strings.Builder

	// Clear line and return to beginning
	output.WriteString("\r\033[K")
	output.WriteString(spinnerFrames[pi.frame])
	output.WriteString(" ")
	output.WriteString(pi.name)

	if pi.total > 0 {
		percentage := float64(pi.current) / float64(pi.total) * 100
		barWidth := 20
		filled := min(barWidth, barWidth*pi.current/pi.total)

		output.WriteString(" [")
		output.WriteString(strings.Repeat("█", filled))
		output.WriteString(strings.Repeat("░", barWidth-filled))
		fmt.Fprintf(&output, "] %d/%d (%.1f%%)", pi.current, pi.total, percentage)
	}

	if pi.showETA && pi.total > 0 && pi.current > 0 && pi.current < pi.total {
		elapsed := pi.now().Sub(pi.startTime)
		perItem := elapsed / time.Duration(pi.current)
		eta := perItem * time.Duration(pi.total-pi.current)
		fmt.Fprintf(&output, " ETA: %v", eta.Round(time.Second))
	}

	if pi.failed > 0 {
		fmt.Fprintf(&output, " - %d failed", pi.failed)
	}
	return output.String()
}
