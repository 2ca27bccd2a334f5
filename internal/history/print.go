package history

import (
	"fmt"
	"io"
	"time"
)

// PrintSummary writes a health table of at most limit tests (0 for all).
func PrintSummary(w io.Writer, health []TestHealth, limit int, now time.Time) {
	fmt.Fprintf(w, "\n--- Test History Summary ---\n")
	if len(health) == 0 {
		fmt.Fprintln(w, "no recorded runs")
		return
	}

	fmt.Fprintf(w, "%-40s %-5s %-10s %-7s %-15s %-8s %s\n",
		"Test", "Grade", "Pass/Run", "Rate", "Last Run", "Streak", "Last")

	for i, h := range health {
		if limit > 0 && i >= limit {
			fmt.Fprintf(w, "... %d more\n", len(health)-limit)
			break
		}
		fmt.Fprintf(w, "%-40s %-5s %-10s %-7s %-15s %-8d %s\n",
			h.Test,
			h.Grade,
			fmt.Sprintf("%d/%d", h.PassCount, h.TotalRuns),
			fmt.Sprintf("%.0f%%", h.PassRate*100),
			relative(h.LastRun, now),
			h.Streak,
			h.LastVerdict,
		)
	}
}

func relative(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	since := now.Sub(t).Round(time.Minute)
	if since < time.Minute {
		return "just now"
	}
	return fmt.Sprintf("%v ago", since)
}
