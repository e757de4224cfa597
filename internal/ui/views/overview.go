package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/lazyclaw/lazyops/internal/ui/styles"
)

// OverviewData is everything the overview tab shows for one instance
type OverviewData struct {
	Profile       models.InstanceProfile
	Channels      []models.ChannelStatus
	Breaker       string
	LastError     error
	LastFetched   time.Time
	Opportunities int
	Jobs          []models.Job
	Runs          []models.PipelineRun
	Mock          bool
}

// OverviewView displays the overview tab content
type OverviewView struct {
	width  int
	height int
	data   OverviewData
}

// NewOverviewView creates a new overview view
func NewOverviewView() *OverviewView {
	return &OverviewView{}
}

// SetSize sets the view dimensions
func (v *OverviewView) SetSize(width, height int) {
	v.width = width
	v.height = height
}

// SetData updates the view data
func (v *OverviewView) SetData(data OverviewData) {
	v.data = data
}

// View renders the overview
func (v *OverviewView) View() string {
	d := v.data
	var lines []string

	lines = append(lines, styles.HelpSection.Render("Backend"))
	name := d.Profile.Name
	if d.Mock {
		name += styles.Muted.Render(" [mock]")
	}
	lines = append(lines, "  Name:    "+name)
	lines = append(lines, "  URL:     "+d.Profile.BaseURL)
	if d.Profile.SessionID != "" {
		lines = append(lines, "  Session: "+d.Profile.SessionID)
	}
	api := styles.BadgeOK.Render("OK")
	switch {
	case d.Breaker == "open":
		api = styles.BadgeError.Render("BREAKER OPEN")
	case d.LastError != nil:
		api = styles.BadgeWarning.Render("ERROR")
	case d.LastFetched.IsZero():
		api = styles.BadgeMuted.Render("PENDING")
	}
	lines = append(lines, "  API:     "+api)
	if d.LastError != nil {
		lines = append(lines, "  Error:   "+styles.LogError.Render(truncate(d.LastError.Error(), v.width-12)))
	}
	if !d.LastFetched.IsZero() {
		lines = append(lines, "  Fetched: "+FormatAge(time.Since(d.LastFetched))+" ago")
	}

	lines = append(lines, styles.HelpSection.Render("Channels"))
	if len(d.Channels) == 0 {
		lines = append(lines, styles.Muted.Render("  none"))
	}
	for _, s := range d.Channels {
		lines = append(lines, "  "+ChannelLine(s))
	}

	lines = append(lines, styles.HelpSection.Render("Jobs"))
	lines = append(lines, "  "+jobSummary(d.Jobs))
	for _, j := range lastJobs(d.Jobs, 5) {
		line := fmt.Sprintf("  %s %-24s %s", jobBadge(j.State), truncate(j.Name, 24), styles.Muted.Render(j.Queue))
		if j.Error != "" {
			line += " " + styles.LogError.Render(truncate(j.Error, 40))
		}
		lines = append(lines, line)
	}

	lines = append(lines, styles.HelpSection.Render("Pipelines"))
	if len(d.Runs) == 0 {
		lines = append(lines, styles.Muted.Render("  no runs"))
	}
	for _, r := range d.Runs {
		lines = append(lines, fmt.Sprintf("  %-20s stage %s  %s", truncate(r.Pipeline, 20), styles.LabelValueHighlight.Render(r.Stage), r.Status))
	}

	lines = append(lines, styles.HelpSection.Render("Board"))
	lines = append(lines, fmt.Sprintf("  %d opportunities", d.Opportunities))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// ChannelLine renders the status of one realtime channel
func ChannelLine(s models.ChannelStatus) string {
	badge := styles.Health(s.Health()).Render(fmt.Sprintf("[%s]", s.Label()))
	line := fmt.Sprintf("%s %-9s", badge, s.Channel)
	switch {
	case s.State == models.ChannelClosed && !s.NextRetry.IsZero() && !s.Degraded:
		line += styles.Muted.Render(fmt.Sprintf(" attempt %d, retry in %s", s.Attempt, FormatAge(time.Until(s.NextRetry))))
	case !s.LastActivity.IsZero():
		line += styles.Muted.Render(" last activity " + FormatAge(time.Since(s.LastActivity)) + " ago")
	}
	return line
}

func jobSummary(jobs []models.Job) string {
	counts := map[models.JobState]int{}
	for _, j := range jobs {
		counts[j.State]++
	}
	return fmt.Sprintf("%d queued, %d running, %d completed, %s",
		counts[models.JobQueued], counts[models.JobRunning], counts[models.JobCompleted],
		failedCount(counts[models.JobFailed]))
}

func failedCount(n int) string {
	s := fmt.Sprintf("%d failed", n)
	if n > 0 {
		return styles.LogError.Render(s)
	}
	return s
}

func lastJobs(jobs []models.Job, n int) []models.Job {
	if len(jobs) <= n {
		return jobs
	}
	return jobs[len(jobs)-n:]
}

func jobBadge(state models.JobState) string {
	switch state {
	case models.JobCompleted:
		return styles.StatusOK.Render("●")
	case models.JobFailed:
		return styles.StatusDown.Render("●")
	case models.JobRunning:
		return styles.StatusDegraded.Render("●")
	default:
		return styles.Muted.Render("○")
	}
}

// FormatAge formats a duration as a short human string
func FormatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func truncate(s string, maxLen int) string {
	if maxLen <= 3 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Toasts renders the live toasts, newest last
func Toasts(toasts []models.Toast) string {
	if len(toasts) == 0 {
		return ""
	}
	rendered := make([]string, 0, len(toasts))
	for _, t := range toasts {
		body := styles.LabelValueHighlight.Render(t.Title)
		if t.Body != "" {
			body += "\n" + strings.TrimSpace(t.Body)
		}
		rendered = append(rendered, styles.Toast(t.Kind).Render(body))
	}
	return lipgloss.JoinVertical(lipgloss.Right, rendered...)
}
