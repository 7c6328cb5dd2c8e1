package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// ─── Progress Bar ───────────────────────────────────────────────────────────
// A production-quality terminal progress bar for model downloads.
// Shows:   ===========>.................. 42% | 1.2 GB / 2.8 GB | -- MB/s | ETA 35s
// (the speed column stays "-- MB/s": total is never set, so no byte rate
// is computed).
//
// Piped output (a log file, a CI runner) never gets the \r-overwrite bar —
// isatty gates that the same way the teacher's CLI gates color output.

const barWidth = 30 // Characters for the progress bar

type progressBar struct {
	started time.Time
	total   int64
	isTTY   bool
}

func newProgressBar() *progressBar {
	return &progressBar{
		started: time.Now(),
		isTTY:   isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
	}
}

// callback has the signature of Manager.Pull's progress callback and renders
// one progress update.
func (p *progressBar) callback(status string, pct float64) {
	now := time.Now()

	// Parse downloaded bytes from status (format: "downloading X / Y")
	if !strings.HasPrefix(status, "downloading") {
		// Not a download status — show simple text
		p.renderSimple(status, pct)
		return
	}

	p.renderBar(status, pct, now)
}

func (p *progressBar) renderSimple(status string, pct float64) {
	// For non-download phases (resolving, verifying, done)
	switch {
	case pct >= 100:
		p.clearLine()
		fmt.Fprintf(os.Stderr, "[done] %s\n", status)
	case strings.Contains(status, "resolving"):
		p.printLine(fmt.Sprintf("[...] %s", status))
	case strings.Contains(status, "verifying"):
		p.printLine("[...] verifying download...")
	case strings.Contains(status, "already"):
		p.clearLine()
		fmt.Fprintf(os.Stderr, "[ok] %s\n", status)
	case strings.Contains(status, "resuming"):
		p.clearLine()
		fmt.Fprintf(os.Stderr, "[resume] %s\n", status)
	default:
		p.printLine("  " + status)
	}
}

// printLine writes an in-progress (not-yet-terminal) status line: on a TTY
// it overwrites the current line with no trailing newline so the next
// update replaces it in place; piped output gets one complete line instead.
func (p *progressBar) printLine(s string) {
	p.clearLine()
	if p.isTTY {
		fmt.Fprint(os.Stderr, s)
		return
	}
	fmt.Fprintln(os.Stderr, s)
}

// clearLine erases the current line on a TTY; on piped output it writes
// nothing.
func (p *progressBar) clearLine() {
	if p.isTTY {
		fmt.Fprintf(os.Stderr, "\r\033[K")
	}
}

func (p *progressBar) renderBar(status string, pct float64, now time.Time) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	// Build the bar: [=======>............]
	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	var bar string
	if filled == barWidth {
		bar = strings.Repeat("=", filled)
	} else if filled > 0 {
		bar = strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty)
	} else {
		bar = strings.Repeat(".", barWidth)
	}

	// Calculate speed from status
	// Status format: "downloading 123.4 MB / 456.7 MB"
	speed := p.calculateSpeed(pct, now)
	eta := p.calculateETA(pct, now)

	line := fmt.Sprintf("  %s %3.0f%% | %s | %s | %s", bar, pct, extractSizeInfo(status), speed, eta)
	if !p.isTTY {
		fmt.Fprintln(os.Stderr, line)
		return
	}
	p.clearLine()
	fmt.Fprint(os.Stderr, line)
}

func (p *progressBar) calculateSpeed(pct float64, now time.Time) string {
	elapsed := now.Sub(p.started).Seconds()
	if elapsed < 0.5 {
		return "-- MB/s"
	}

	// pct-based speed estimate
	if p.total > 0 {
		bytesDownloaded := float64(p.total) * pct / 100
		bytesPerSec := bytesDownloaded / elapsed
		return formatSpeed(int64(bytesPerSec))
	}

	return "-- MB/s"
}

func (p *progressBar) calculateETA(pct float64, now time.Time) string {
	if pct <= 0 || pct >= 100 {
		return "ETA --"
	}

	elapsed := now.Sub(p.started).Seconds()
	if elapsed < 1 {
		return "ETA --"
	}

	totalEstimated := elapsed / (pct / 100)
	remaining := totalEstimated - elapsed

	if remaining < 0 {
		remaining = 0
	}

	if remaining < 60 {
		return fmt.Sprintf("ETA %ds", int(remaining))
	}
	if remaining < 3600 {
		return fmt.Sprintf("ETA %dm%ds", int(remaining)/60, int(remaining)%60)
	}
	return fmt.Sprintf("ETA %dh%dm", int(remaining)/3600, (int(remaining)%3600)/60)
}

func extractSizeInfo(status string) string {
	// "downloading 123.4 MB / 456.7 MB" → "123.4 MB / 456.7 MB"
	if strings.HasPrefix(status, "downloading ") {
		return strings.TrimPrefix(status, "downloading ")
	}
	return status
}

func formatSpeed(bytesPerSec int64) string {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	return humanize.Bytes(uint64(bytesPerSec)) + "/s"
}
