// Package progress provides "N of M done" sinks for fan-out batches: a
// terminal progress bar and a structured-log fallback.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/Sternrassler/fanout/pkg/logging"
)

const (
	// DefaultBarWidth is used when the terminal width is unknown.
	DefaultBarWidth = 40

	// DefaultLogInterval throttles LogSink output.
	DefaultLogInterval = time.Second
)

// Sink receives one Increment per finished item and one Finish at the end.
type Sink interface {
	Increment()
	Finish()
}

// Auto returns a BarSink when stderr is a terminal and a LogSink otherwise.
func Auto(label string, total int) Sink {
	fd := int(os.Stderr.Fd())
	if !term.IsTerminal(fd) {
		return NewLogSink(logging.NewLogger("progress"), label, total)
	}

	width := DefaultBarWidth
	if w, _, err := term.GetSize(fd); err == nil {
		width = min(max(w-len(label)-24, 10), 60)
	}
	return NewBarSink(os.Stderr, label, total, width)
}

// BarSink redraws a single-line bar on every tick.
type BarSink struct {
	out   io.Writer
	bar   progress.Model
	label string
	total int
	done  int
}

// NewBarSink creates a bar of the given width writing to out.
func NewBarSink(out io.Writer, label string, total, width int) *BarSink {
	if width <= 0 {
		width = DefaultBarWidth
	}
	return &BarSink{
		out:   out,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(width)),
		label: label,
		total: total,
	}
}

// Increment records one finished item and redraws.
func (s *BarSink) Increment() {
	s.done++
	s.render()
}

// Finish draws the final state and ends the line.
func (s *BarSink) Finish() {
	s.render()
	fmt.Fprintln(s.out)
}

// Done returns the number of recorded items.
func (s *BarSink) Done() int { return s.done }

func (s *BarSink) render() {
	fmt.Fprintf(s.out, "\r%s %s %d/%d", s.label, s.bar.ViewAs(fraction(s.done, s.total)), s.done, s.total)
}

// LogSink logs progress at most once per interval, plus the last item.
type LogSink struct {
	logger   zerolog.Logger
	label    string
	total    int
	done     int
	interval time.Duration
	start    time.Time
	lastLog  time.Time
}

// NewLogSink creates a log-based sink.
func NewLogSink(logger zerolog.Logger, label string, total int) *LogSink {
	return &LogSink{
		logger:   logger,
		label:    label,
		total:    total,
		interval: DefaultLogInterval,
		start:    time.Now(),
	}
}

// WithInterval changes how often progress is logged.
func (s *LogSink) WithInterval(d time.Duration) *LogSink {
	s.interval = d
	return s
}

// Increment records one finished item.
func (s *LogSink) Increment() {
	s.done++
	if s.done == s.total || time.Since(s.lastLog) >= s.interval {
		s.lastLog = time.Now()
		s.logger.Info().
			Str("label", s.label).
			Int("done", s.done).
			Int("total", s.total).
			Float64("progress_pct", fraction(s.done, s.total)*100).
			Msg("Fan-out progress")
	}
}

// Finish logs the summary line.
func (s *LogSink) Finish() {
	s.logger.Info().
		Str("label", s.label).
		Int("done", s.done).
		Int("total", s.total).
		Dur("elapsed", time.Since(s.start).Round(time.Millisecond)).
		Msg("Fan-out progress complete")
}

// Done returns the number of recorded items.
func (s *LogSink) Done() int { return s.done }

func fraction(done, total int) float64 {
	if total <= 0 {
		return 1
	}
	return float64(done) / float64(total)
}
