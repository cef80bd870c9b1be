package importer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ProgressCallback defines the interface for progress reporting
type ProgressCallback interface {
	Update(written, total int)
	Finish()
}

// ProgressReporter draws a measurement write progress bar
type ProgressReporter struct {
	writer    io.Writer
	written   int
	total     int
	startTime time.Time
}

// NewProgressReporter creates a new progress reporter
func NewProgressReporter(w io.Writer) *ProgressReporter {
	return &ProgressReporter{
		writer:    w,
		startTime: time.Now(),
	}
}

// Update redraws the bar after a batch
func (p *ProgressReporter) Update(written, total int) {
	p.written, p.total = written, total
	if total <= 0 {
		return
	}

	pct := float64(written) / float64(total) * 100

	// Draw progress bar (50 chars wide)
	barWidth := 50
	filled := min(int(float64(barWidth)*float64(written)/float64(total)), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	// Calculate ETA
	eta := time.Duration(0)
	if elapsed := time.Since(p.startTime); written > 0 {
		rate := float64(written) / elapsed.Seconds()
		eta = time.Duration(float64(total-written)/rate) * time.Second
	}

	_, _ = fmt.Fprintf(p.writer, "\r[%s] %3.0f%% (%s/%s rows) ETA: %s",
		bar, pct, humanize.Comma(int64(written)), humanize.Comma(int64(total)), eta.Round(time.Second))
}

// Finish completes the progress display
func (p *ProgressReporter) Finish() {
	elapsed := time.Since(p.startTime)
	_, _ = fmt.Fprintf(p.writer, "\nCompleted: wrote %s measurements in %s\n",
		humanize.Comma(int64(p.written)), elapsed.Round(time.Millisecond))
}
