// Package progress displays the progress of scoring large lists of variants on the command-line.
package progress

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// Style of the progress bar. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version, if the terminal supports it.
var Style = progressbar.ThemeASCII

var summaryStyle = lipgloss.NewStyle().PaddingLeft(6).Faint(true)

// Bar tracks the number of variants scored out of a total.
// It is safe for concurrent use.
type Bar struct {
	mu      sync.Mutex
	bar     *progressbar.ProgressBar
	out     io.Writer
	term    *termenv.Output
	isTTY   bool
	total   int
	done    int
	start   time.Time
	stopped bool
}

// New creates a progress bar for total variants written to w.
func New(w io.Writer, total int, description string) *Bar {
	b := &Bar{
		out:   w,
		term:  termenv.NewOutput(w),
		total: total,
		start: time.Now(),
	}
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("variants"),
		progressbar.OptionSetTheme(Style),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	// termenv falls back to the Ascii profile when w is not a terminal.
	b.isTTY = b.term.Profile != termenv.Ascii
	if b.isTTY {
		b.term.HideCursor()
	}
	return b
}

// Add reports n more variants scored.
func (b *Bar) Add(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped || n <= 0 {
		return
	}
	b.done += n
	_ = b.bar.Add(n)
}

// Done returns the number of variants reported so far.
func (b *Bar) Done() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Finish stops the bar and prints a one-line summary. It can be called more than once.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	if b.done >= b.total {
		_ = b.bar.Finish()
	}
	if b.isTTY {
		b.term.ShowCursor()
	}
	elapsed := time.Since(b.start)
	fmt.Fprintln(b.out)
	fmt.Fprintln(b.out, summaryStyle.Render(Summary(b.done, elapsed)))
}

// Summary formats the count of scored variants and the throughput.
func Summary(count int, elapsed time.Duration) string {
	rate := 0.0
	if elapsed > 0 {
		rate = float64(count) / elapsed.Seconds()
	}
	return fmt.Sprintf("scored %s variants in %s (%s variants/s)",
		humanize.Comma(int64(count)), FormatDuration(elapsed), humanize.FtoaWithDigits(rate, 1))
}

var durationRegexp = regexp.MustCompile(`(\d+\.?\d*)([µa-z]+)`)

// FormatDuration pretty prints duration without a long list of decimal points.
func FormatDuration(d time.Duration) string {
	s := d.String()
	matches := durationRegexp.FindStringSubmatch(s)
	if len(matches) != 3 || matches[0] != s {
		return s
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, matches[2])
}
