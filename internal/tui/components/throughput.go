package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/jfoltran/pgreplicate/internal/metrics"
)

var throughputValueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))

// RenderThroughput renders the event-rate and per-kind tallies.
func RenderThroughput(snap metrics.Snapshot, width int) string {
	eventsPerSec := throughputValueStyle.Render(fmt.Sprintf("%.0f events/s", snap.EventsPerSec))
	total := throughputValueStyle.Render(formatCount(snap.TotalEvents))

	c := snap.Counts
	breakdown := fmt.Sprintf("I:%d U:%d D:%d T:%d", c.Insert, c.Update, c.Delete, c.Truncate)

	errStr := ""
	if snap.ErrorCount > 0 {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
		errStr = fmt.Sprintf("  Errors: %s", errStyle.Render(fmt.Sprintf("%d", snap.ErrorCount)))
	}

	return fmt.Sprintf("  %s  |  Total: %s (%s)%s",
		eventsPerSec, total, breakdown, errStr)
}
