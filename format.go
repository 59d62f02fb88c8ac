package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	units "github.com/docker/go-units"

	"github.com/tonimelisma/resourcectl/internal/transfer"
)

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	if !cc.Flags.Quiet {
		fmt.Fprintf(cc.Err, format, args...)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// formatSize returns a human-readable binary size string (e.g. "1.5MiB").
func formatSize(bytes int64) string {
	return units.BytesSize(float64(bytes))
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// formatAge renders how long ago t was, e.g. "3 hours ago".
func formatAge(t time.Time) string {
	return units.HumanDuration(time.Since(t)) + " ago"
}

// printTable writes aligned columns to w. headers and each row must have the
// same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// progressLine renders upload progress on a single terminal line. Lines of
// concurrent uploads share the terminal, so each render is one atomic write.
type progressLine struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	last    time.Time
}

// progressInterval throttles terminal redraws.
const progressInterval = 200 * time.Millisecond

func newProgressLine(cc *CLIContext) *progressLine {
	return &progressLine{w: cc.Err, enabled: !cc.Flags.Quiet && isTerminal(cc.Err)}
}

// forPath returns a transfer.ProgressFunc that labels updates with path.
// It returns nil when progress rendering is disabled.
func (p *progressLine) forPath(path string) transfer.ProgressFunc {
	if !p.enabled {
		return nil
	}

	return func(pr transfer.Progress) {
		p.mu.Lock()
		defer p.mu.Unlock()

		done := pr.BytesTransferred >= pr.BytesTotal
		if !done && time.Since(p.last) < progressInterval {
			return
		}

		p.last = time.Now()

		pct := 100.0
		if pr.BytesTotal > 0 {
			pct = float64(pr.BytesTransferred) * 100 / float64(pr.BytesTotal)
		}

		fmt.Fprintf(p.w, "\r\033[K%s  %s / %s  %.0f%%",
			path, formatSize(pr.BytesTransferred), formatSize(pr.BytesTotal), pct)

		if done {
			fmt.Fprintln(p.w)
		}
	}
}
