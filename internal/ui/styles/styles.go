package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/lazyclaw/lazyops/internal/models"
)

// Colors
var (
	ColorPrimary        = lipgloss.Color("#5DADE2")
	ColorSecondary      = lipgloss.Color("#82E0AA")
	ColorWarning        = lipgloss.Color("#F4D03F")
	ColorError          = lipgloss.Color("#E74C3C")
	ColorMuted          = lipgloss.Color("#7F8C8D")
	ColorForeground     = lipgloss.Color("#ECF0F1")
	ColorHealthOK       = lipgloss.Color("#2ECC71")
	ColorHealthDegraded = lipgloss.Color("#F39C12")
	ColorHealthDown     = lipgloss.Color("#E74C3C")
	ColorDarkBg         = lipgloss.Color("#2C3E50")
)

// Text Styles
var (
	Muted     = lipgloss.NewStyle().Foreground(ColorMuted)
	Secondary = lipgloss.NewStyle().Foreground(ColorSecondary)
	Primary   = lipgloss.NewStyle().Foreground(ColorPrimary)
)

// Pane styles
var (
	PaneBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted)

	FocusedPaneBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorPrimary)

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Padding(0, 1)
)

// Tab styles
var (
	ActiveTab = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorDarkBg).
			Padding(0, 2)

	InactiveTab = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Padding(0, 2)
)

// Status badge styles
var (
	StatusOK = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHealthOK)

	StatusDegraded = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHealthDegraded)

	StatusDown = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHealthDown)
)

// Bottom bar styles
var (
	BottomBar = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Background(ColorDarkBg).
			Padding(0, 1)

	HintKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary)

	HintDesc = lipgloss.NewStyle().
			Foreground(ColorMuted)

	InputPrompt = lipgloss.NewStyle().Foreground(ColorPrimary)
)

// Event severity styles
var (
	LogDebug = lipgloss.NewStyle().Foreground(ColorMuted)
	LogInfo  = lipgloss.NewStyle().Foreground(ColorForeground)
	LogOK    = lipgloss.NewStyle().Foreground(ColorHealthOK)
	LogWarn  = lipgloss.NewStyle().Foreground(ColorWarning)
	LogError = lipgloss.NewStyle().Foreground(ColorError)
	LogCrit  = lipgloss.NewStyle().Bold(true).Foreground(ColorError)
)

// Help overlay styles
var (
	HelpOverlay = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(ColorPrimary).
			Padding(1, 2)

	HelpTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			MarginBottom(1)

	HelpSection = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary).
			MarginTop(1)
)

// Instance list styles
var (
	SelectedItem = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorDarkBg)

	UnselectedItem = lipgloss.NewStyle().
			Foreground(ColorForeground)
)

// Board styles
var (
	Column = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorMuted).
		Padding(0, 1)

	ColumnFocused = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorPrimary).
			Padding(0, 1)

	ColumnTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	CardSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary).
			Background(ColorDarkBg)

	// Pending shows a card whose write has not been confirmed yet
	CardPending = lipgloss.NewStyle().
			Italic(true).
			Foreground(ColorHealthDegraded)
)

// Badge styles
var (
	BadgeOK = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(ColorHealthOK).
		Padding(0, 1)

	BadgeWarning = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(ColorHealthDegraded).
			Padding(0, 1)

	BadgeError = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(ColorHealthDown).
			Padding(0, 1)

	BadgeMuted = lipgloss.NewStyle().
			Foreground(ColorForeground).
			Background(ColorMuted).
			Padding(0, 1)
)

// Label styles
var (
	LabelKey = lipgloss.NewStyle().
			Foreground(ColorMuted)

	LabelValueHighlight = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorPrimary)
)

// Toast styles
var (
	toastBase = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Width(40)

	ToastSuccess = toastBase.BorderForeground(ColorHealthOK)
	ToastWarning = toastBase.BorderForeground(ColorWarning)
	ToastError   = toastBase.BorderForeground(ColorError)
	ToastInfo    = toastBase.BorderForeground(ColorPrimary)
)

// Severity returns the style for an event severity
func Severity(s models.Severity) lipgloss.Style {
	switch s {
	case models.SeverityDebug:
		return LogDebug
	case models.SeveritySuccess:
		return LogOK
	case models.SeverityWarning:
		return LogWarn
	case models.SeverityError:
		return LogError
	case models.SeverityCritical:
		return LogCrit
	default:
		return LogInfo
	}
}

// Toast returns the frame for a toast kind
func Toast(kind models.ToastKind) lipgloss.Style {
	switch kind {
	case models.ToastSuccess:
		return ToastSuccess
	case models.ToastWarning:
		return ToastWarning
	case models.ToastError:
		return ToastError
	default:
		return ToastInfo
	}
}

// Health returns the badge text style for a channel health level
func Health(level models.HealthLevel) lipgloss.Style {
	switch level {
	case models.HealthOK:
		return StatusOK
	case models.HealthDegraded:
		return StatusDegraded
	default:
		return StatusDown
	}
}
