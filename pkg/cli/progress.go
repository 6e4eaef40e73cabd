package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter reports progress for long-running commands.
type ProgressReporter interface {
	Start(total int64)
	Update(current int64)
	Finish()
	Error(err error)
}

const (
	// renderInterval throttles redraws between Start and Finish.
	renderInterval = 100 * time.Millisecond
	barWidth       = 30
)

// Progress draws a single-line bar. With an unknown total it prints a
// running count instead.
type Progress struct {
	mu      sync.Mutex
	w       io.Writer
	label   string
	total   int64
	current int64
	started time.Time
	drawn   time.Time
	now     func() time.Time
}

// NewProgressReporter returns a Progress writing to w (stderr when nil).
func NewProgressReporter(w io.Writer, label string) ProgressReporter {
	if w == nil {
		w = os.Stderr
	}
	if label == "" {
		label = "Progress"
	}
	return &Progress{w: w, label: label, now: time.Now}
}

func (p *Progress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.current = 0
	p.started = p.now()
	p.draw()
}

func (p *Progress) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current
	if p.now().Sub(p.drawn) < renderInterval && (p.total <= 0 || current < p.total) {
		return
	}
	p.draw()
}

func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total > 0 {
		p.current = p.total
	}
	p.draw()
	fmt.Fprintln(p.w)
}

func (p *Progress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\n✗ Error: %v\n", err)
}

func (p *Progress) draw() {
	p.drawn = p.now()
	elapsed := p.drawn.Sub(p.started)
	if p.total <= 0 {
		fmt.Fprintf(p.w, "\r%s: %d done (%s)", p.label, p.current, elapsed.Truncate(time.Second))
		return
	}

	frac := min(float64(p.current)/float64(p.total), 1)
	filled := int(frac * barWidth)
	fmt.Fprintf(p.w, "\r%s: [%s%s] %3.0f%% (%d/%d)%s",
		p.label,
		strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled),
		frac*100, p.current, p.total, eta(elapsed, frac))
}

// eta extrapolates the remaining time from the rate so far.
func eta(elapsed time.Duration, frac float64) string {
	if frac <= 0 || frac >= 1 || elapsed < time.Second {
		return ""
	}
	remaining := time.Duration(float64(elapsed) * (1 - frac) / frac)
	return " eta " + remaining.Round(time.Second).String()
}
