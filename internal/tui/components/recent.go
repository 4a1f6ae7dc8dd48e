package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jfoltran/pgreplicate/internal/metrics"
)

var (
	recentHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6"))
	recentTimeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	recentInsertStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	recentUpdateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	recentDeleteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	recentOtherStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
)

// RenderRecent renders the most recent decoded change events, newest last.
func RenderRecent(snap metrics.Snapshot, width, maxRows int) string {
	if len(snap.Recent) == 0 {
		return "  No events observed yet"
	}

	var b strings.Builder

	header := fmt.Sprintf("  %-10s %-8s %s", "Time", "Kind", "Table")
	b.WriteString(recentHeaderStyle.Render(header))
	b.WriteByte('\n')

	entries := snap.Recent
	if maxRows > 0 && len(entries) > maxRows {
		entries = entries[len(entries)-maxRows:]
	}

	for i, e := range entries {
		ts := recentTimeStyle.Render(e.Time.Format("15:04:05"))
		kind := kindStyle(e.Kind).Render(e.Kind)
		table := e.Table
		if table == "" {
			table = "-"
		}

		line := fmt.Sprintf("  %-10s %-8s %s", ts, kind, table)
		b.WriteString(line)
		if i < len(entries)-1 {
			b.WriteByte('\n')
		}
	}

	return b.String()
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func kindStyle(kind string) lipgloss.Style {
	switch kind {
	case "insert":
		return recentInsertStyle
	case "update":
		return recentUpdateStyle
	case "delete":
		return recentDeleteStyle
	default:
		return recentOtherStyle
	}
}
