package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"hospos/app"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9E9E9E")).Width(12)
	alertStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E53935"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2A3850")).
			Padding(0, 1)
)

// renderReport formats the end-of-run summary.
func renderReport(r app.Report, runErr error) string {
	var b strings.Builder
	row := func(label, format string, args ...any) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(fmt.Sprintf(format, args...))
		b.WriteByte('\n')
	}

	b.WriteString(titleStyle.Render("hospos run summary"))
	b.WriteByte('\n')
	row("Ticks", "%d (%ds)", r.Ticks, r.Uptime)
	row("Switches", "%d", r.Switches)
	row("Memory", "%d/%d bytes in %d blocks", r.MemUsed, r.MemTotal, r.Blocks)
	row("Messages", "%d sent, %d received, %d acks", r.Bus.Sent, r.Bus.Received, r.Bus.Acks)
	row("Errors", "%d", r.Errors)

	names := make([]string, 0, len(r.Saved))
	for name := range r.Saved {
		names = append(names, name)
	}
	sort.Strings(names)
	saved := make([]string, 0, len(names))
	for _, name := range names {
		saved = append(saved, fmt.Sprintf("%s=%d", name, r.Saved[name]))
	}
	if len(saved) == 0 {
		saved = append(saved, "none")
	}
	row("Saved", "%s", strings.Join(saved, " "))

	for _, t := range r.Tasks {
		row("Task", "%d %-10s %-7s cpu=%d", t.ID, t.Name, t.State, t.CPUTime)
	}
	for _, a := range r.Alerts {
		b.WriteString(labelStyle.Render("Alert"))
		b.WriteString(alertStyle.Render(a))
		b.WriteByte('\n')
	}
	if runErr != nil {
		b.WriteString(errStyle.Render("Halted: " + runErr.Error()))
		b.WriteByte('\n')
	}
	return boxStyle.Render(strings.TrimSuffix(b.String(), "\n")) + "\n"
}
