package launcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-rig-launcher/internal/metrics"
)

// =============================================================================
// Color Palette
// =============================================================================

var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan
	colorSuccess   = lipgloss.Color("#10B981") // Green
	colorError     = lipgloss.Color("#EF4444") // Red
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	sectionStyle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	bannerBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 2)
)

// =============================================================================
// Banner
// =============================================================================

// FormatBanner renders the startup banner.
func FormatBanner(version, rigID, subjectID string) string {
	lines := []string{
		titleStyle.Render("go-rig-launcher " + version),
	}
	if rigID != "" {
		lines = append(lines, mutedStyle.Render("rig:     ")+rigID)
	}
	if subjectID != "" {
		lines = append(lines, mutedStyle.Render("subject: ")+subjectID)
	}
	return bannerBoxStyle.Render(strings.Join(lines, "\n")) + "\n"
}

// =============================================================================
// Exit summary
// =============================================================================

// summaryData carries everything the exit summary displays.
type summaryData struct {
	SessionName  string
	OutputFolder string
	Phase        Phase
	Attempts     int
	ModuleStats  metrics.Percentiles
	AttemptStats metrics.Percentiles
	Duration     time.Duration
	MetricsAddr  string
	Failed       bool
	FailureCause string
}

// FormatExitSummary renders the end-of-run report.
func FormatExitSummary(d summaryData) string {
	var b strings.Builder

	rule := mutedStyle.Render(strings.Repeat("─", 67))

	b.WriteString("\n")
	b.WriteString(rule + "\n")
	b.WriteString(titleStyle.Render("                    go-rig-launcher Session Summary") + "\n")
	b.WriteString(rule + "\n")

	status := successStyle.Render("completed")
	if d.Failed {
		status = errorStyle.Render("FAILED (" + d.FailureCause + ")")
	}
	fmt.Fprintf(&b, "Status:                 %s\n", status)
	fmt.Fprintf(&b, "Final Phase:            %s\n", d.Phase)
	if d.SessionName != "" {
		fmt.Fprintf(&b, "Session:                %s\n", d.SessionName)
	}
	if d.OutputFolder != "" {
		fmt.Fprintf(&b, "Output Folder:          %s\n", d.OutputFolder)
	}
	fmt.Fprintf(&b, "Run Duration:           %s\n", formatDuration(d.Duration))
	b.WriteString("\n")

	if d.Attempts > 0 {
		b.WriteString(sectionStyle.Render("Acquisition") + "\n")
		fmt.Fprintf(&b, "  Attempts:             %d\n", d.Attempts)
		if d.AttemptStats.Count > 0 {
			fmt.Fprintf(&b, "  Attempt P50:          %s\n", formatDuration(d.AttemptStats.P50))
			fmt.Fprintf(&b, "  Attempt Max:          %s\n", formatDuration(d.AttemptStats.Max))
		}
		b.WriteString("\n")
	}

	if d.ModuleStats.Count > 0 {
		b.WriteString(sectionStyle.Render("Pipeline Modules") + "\n")
		fmt.Fprintf(&b, "  Modules Run:          %d\n", d.ModuleStats.Count)
		fmt.Fprintf(&b, "  Duration P50:         %s\n", formatDuration(d.ModuleStats.P50))
		fmt.Fprintf(&b, "  Duration P95:         %s\n", formatDuration(d.ModuleStats.P95))
		b.WriteString("\n")
	}

	if d.MetricsAddr != "" {
		fmt.Fprintf(&b, "%s\n", mutedStyle.Render("Metrics endpoint was: http://"+d.MetricsAddr+"/metrics"))
	}
	b.WriteString(rule + "\n")

	return b.String()
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
