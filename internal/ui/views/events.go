package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/lazyclaw/lazyops/internal/ui/styles"
)

// EventsView displays the merged event log of one instance
type EventsView struct {
	viewport viewport.Model
	events   []models.Event
	follow   bool
	width    int
	height   int
}

// NewEventsView creates a new events view
func NewEventsView(width, height int) *EventsView {
	return &EventsView{
		viewport: viewport.New(width, height),
		follow:   true,
		width:    width,
		height:   height,
	}
}

// SetSize updates the view dimensions
func (v *EventsView) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.viewport.Width = width
	v.viewport.Height = height
	v.updateContent()
}

// SetEvents replaces the rendered events, oldest first
func (v *EventsView) SetEvents(events []models.Event) {
	v.events = events
	v.updateContent()
}

// Len returns the number of rendered events
func (v *EventsView) Len() int {
	return len(v.events)
}

// ToggleFollow toggles follow mode
func (v *EventsView) ToggleFollow() {
	v.follow = !v.follow
	if v.follow {
		v.viewport.GotoBottom()
	}
}

// SetFollow sets follow mode
func (v *EventsView) SetFollow(follow bool) {
	v.follow = follow
}

// IsFollowing returns whether follow mode is enabled
func (v *EventsView) IsFollowing() bool {
	return v.follow
}

// ScrollUp scrolls n lines and leaves follow mode
func (v *EventsView) ScrollUp(n int) {
	v.follow = false
	v.viewport.LineUp(n)
}

// ScrollDown scrolls n lines
func (v *EventsView) ScrollDown(n int) {
	v.viewport.LineDown(n)
}

// GotoTop jumps to the oldest event
func (v *EventsView) GotoTop() {
	v.follow = false
	v.viewport.GotoTop()
}

// GotoBottom jumps to the newest event
func (v *EventsView) GotoBottom() {
	v.viewport.GotoBottom()
}

func (v *EventsView) updateContent() {
	lines := make([]string, 0, len(v.events))
	for _, ev := range v.events {
		lines = append(lines, FormatEvent(ev))
	}
	v.viewport.SetContent(strings.Join(lines, "\n"))
	if v.follow {
		v.viewport.GotoBottom()
	}
}

// FormatEvent renders one event as a log line
func FormatEvent(ev models.Event) string {
	sev := ev.Severity.Normalize()
	ts := ev.Timestamp.Local().Format("15:04:05")
	msg := ev.Message
	if msg == "" {
		msg = ev.Type
	}
	return fmt.Sprintf("%s %s %-8s %-22s %s",
		styles.Muted.Render(ts),
		styles.Severity(sev).Render(fmt.Sprintf("%-8s", strings.ToUpper(string(sev)))),
		string(ev.Category),
		ev.Type,
		styles.Severity(sev).Render(msg),
	)
}

// View renders the events view
func (v *EventsView) View() string {
	if len(v.events) == 0 {
		return styles.Muted.Render("No events yet")
	}
	return v.viewport.View()
}
