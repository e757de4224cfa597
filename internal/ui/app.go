package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lazyclaw/lazyops/internal/cache"
	"github.com/lazyclaw/lazyops/internal/config"
	"github.com/lazyclaw/lazyops/internal/gateway"
	"github.com/lazyclaw/lazyops/internal/logging"
	"github.com/lazyclaw/lazyops/internal/models"
	"github.com/lazyclaw/lazyops/internal/notify"
	"github.com/lazyclaw/lazyops/internal/realtime"
	"github.com/lazyclaw/lazyops/internal/state"
	"github.com/lazyclaw/lazyops/internal/ui/keys"
	"github.com/lazyclaw/lazyops/internal/ui/styles"
	"github.com/lazyclaw/lazyops/internal/ui/views"
	"github.com/rs/zerolog"
)

// AppMode represents the current mode of the application
type AppMode int

const (
	ModeNormal AppMode = iota
	ModeHelp
	ModeSearch
)

// FocusedPane represents which pane has focus
type FocusedPane int

const (
	PaneInstances FocusedPane = iota
	PaneDetails
)

// Tab represents the available detail tabs
type Tab int

const (
	TabOverview Tab = iota
	TabEvents
	TabBoard
)

var allTabs = []Tab{TabOverview, TabEvents, TabBoard}

func (t Tab) String() string {
	names := []string{"Overview", "Events", "Board"}
	if int(t) >= 0 && int(t) < len(names) {
		return names[t]
	}
	return "Unknown"
}

// Event log filter cycles
var (
	categoryCycle = []models.Category{"", models.CategoryJob, models.CategoryPipeline, models.CategorySession}
	severityCycle = []models.Severity{"", models.SeverityWarning, models.SeverityError, models.SeverityCritical}
)

const mutationTimeout = 15 * time.Second

// App is the main application model
type App struct {
	config *config.Config

	// UI state
	mode             AppMode
	focusedPane      FocusedPane
	activeTab        Tab
	width            int
	height           int
	selectedInstance int

	keys keys.KeyMap

	// Sub-models
	searchInput textinput.Model
	overview    *views.OverviewView
	events      *views.EventsView
	board       *views.BoardView

	// One live instance per configured profile; nil where opening failed
	instances []*gateway.Instance
	openErrs  map[string]error

	queue   *notify.Queue
	toasts  []models.Toast
	toastCh chan struct{}
	done    chan struct{}

	eventQuery realtime.Query
	mockMode   bool
	logger     zerolog.Logger
}

// NewApp creates a new application instance and opens one backend
// instance per configured profile. Nothing connects until Init.
func NewApp(cfg *config.Config, uiState *state.State, mockMode bool) *App {
	ti := textinput.New()
	ti.Placeholder = "Filter events..."
	ti.CharLimit = 100

	app := &App{
		config:      cfg,
		mode:        ModeNormal,
		focusedPane: PaneInstances,
		keys:        keys.DefaultKeyMap(),
		searchInput: ti,
		overview:    views.NewOverviewView(),
		events:      views.NewEventsView(80, 20),
		board:       views.NewBoardView(),
		openErrs:    make(map[string]error),
		toastCh:     make(chan struct{}, 1),
		done:        make(chan struct{}),
		mockMode:    mockMode,
		logger:      logging.With("ui").Logger(),
	}
	app.applyState(uiState)

	opts := append(cfg.QueueOptions(), notify.WithOnChange(func([]models.Toast) { app.signalToasts() }))
	app.queue = notify.NewQueue(opts...)

	for _, profile := range cfg.Instances {
		inst, err := gateway.OpenInstance(profile, cfg.InstanceOptions(app.queue))
		if err != nil {
			app.logger.Error().Err(err).Str("instance", profile.Name).Msg("Failed to open instance")
			app.openErrs[profile.Name] = err
		}
		app.instances = append(app.instances, inst)
	}
	if app.selectedInstance >= len(app.instances) {
		app.selectedInstance = 0
	}
	app.syncSelected()
	return app
}

func (a *App) applyState(st *state.State) {
	if st == nil {
		st = state.DefaultState()
	}
	if t := Tab(st.ActiveTab); t >= TabOverview && t <= TabBoard {
		a.activeTab = t
	}
	for i, profile := range a.config.Instances {
		if profile.Name == st.SelectedInstance {
			a.selectedInstance = i
		}
	}
	a.eventQuery.Category = models.Category(st.EventCategory)
	a.eventQuery.MinSeverity = models.Severity(st.MinSeverity)
	a.events.SetFollow(st.EventFollow)
	a.board.SetColumn(st.BoardColumn)
	a.width = st.WindowWidth
	a.height = st.WindowHeight
}

// GetState returns the current UI state for persistence
func (a *App) GetState() *state.State {
	col, _ := a.board.Cursor()
	st := &state.State{
		ActiveTab:     int(a.activeTab),
		EventCategory: string(a.eventQuery.Category),
		MinSeverity:   string(a.eventQuery.MinSeverity),
		EventFollow:   a.events.IsFollowing(),
		BoardColumn:   col,
		WindowWidth:   a.width,
		WindowHeight:  a.height,
	}
	if a.selectedInstance < len(a.config.Instances) {
		st.SelectedInstance = a.config.Instances[a.selectedInstance].Name
	}
	return st
}

// Close disconnects every instance and drops live toasts
func (a *App) Close() {
	select {
	case <-a.done:
		return
	default:
		close(a.done)
	}
	for _, inst := range a.instances {
		if inst != nil {
			inst.Close()
		}
	}
	a.queue.Close()
}

// instanceMsg wraps an update from the instance at index
type instanceMsg struct {
	index int
	msg   any
}

// cardMovedMsg reports the outcome of a board move started from the UI
type cardMovedMsg struct {
	index  int
	result cache.Result
	err    error
}

// RefreshTickMsg triggers periodic refetch of stale collections
type RefreshTickMsg struct{}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	var cmds []tea.Cmd
	for i, inst := range a.instances {
		if inst == nil {
			continue
		}
		inst.Start()
		cmds = append(cmds, a.listen(i), a.refresh(i, false))
	}
	cmds = append(cmds, a.waitForToasts(), a.scheduleRefresh())
	return tea.Batch(cmds...)
}

// current returns the selected instance, or nil
func (a *App) current() *gateway.Instance {
	if a.selectedInstance < 0 || a.selectedInstance >= len(a.instances) {
		return nil
	}
	return a.instances[a.selectedInstance]
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.updateViewportSizes()

	case tea.KeyMsg:
		return a, a.handleKey(msg)

	case instanceMsg:
		a.handleInstanceMsg(msg.index, msg.msg)
		cmds = append(cmds, a.listen(msg.index))

	case cardMovedMsg:
		if msg.err != nil && msg.result.Outcome == cache.OutcomeRolledBack {
			a.queue.Push(notify.Spec{
				Kind:  models.ToastError,
				Title: "Move reverted",
				Body:  msg.err.Error(),
			})
		}
		if msg.index == a.selectedInstance {
			a.syncBoard()
		}

	case gateway.ToastsMsg:
		a.toasts = msg.Toasts
		cmds = append(cmds, a.waitForToasts())

	case gateway.RefreshedMsg:
		if msg.Err != nil {
			a.logger.Warn().Err(msg.Err).Str("instance", msg.Instance).Msg("Refresh failed")
		}
		a.syncSelected()

	case RefreshTickMsg:
		for i, inst := range a.instances {
			if inst != nil {
				cmds = append(cmds, a.refresh(i, true))
			}
		}
		cmds = append(cmds, a.scheduleRefresh())
	}

	return a, tea.Batch(cmds...)
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	if a.mode == ModeHelp {
		if key.Matches(msg, a.keys.Escape) || key.Matches(msg, a.keys.Help) || msg.String() == "q" {
			a.mode = ModeNormal
		}
		return nil
	}

	if a.mode == ModeSearch {
		switch {
		case key.Matches(msg, a.keys.Escape):
			a.mode = ModeNormal
			a.searchInput.Reset()
			a.eventQuery.Text = ""
			a.syncEvents()
			return nil
		case key.Matches(msg, a.keys.Enter):
			a.mode = ModeNormal
			a.eventQuery.Text = strings.TrimSpace(a.searchInput.Value())
			a.syncEvents()
			return nil
		}
		var cmd tea.Cmd
		a.searchInput, cmd = a.searchInput.Update(msg)
		return cmd
	}

	switch {
	case key.Matches(msg, a.keys.Quit):
		return tea.Quit

	case key.Matches(msg, a.keys.Help):
		a.mode = ModeHelp

	case key.Matches(msg, a.keys.Search):
		a.mode = ModeSearch
		a.activeTab = TabEvents
		a.searchInput.SetValue(a.eventQuery.Text)
		a.searchInput.Focus()
		return textinput.Blink

	case key.Matches(msg, a.keys.Tab), key.Matches(msg, a.keys.ShiftTab):
		if a.focusedPane == PaneInstances {
			a.focusedPane = PaneDetails
		} else {
			a.focusedPane = PaneInstances
		}

	case key.Matches(msg, a.keys.Tab1):
		a.activeTab = TabOverview
	case key.Matches(msg, a.keys.Tab2):
		a.activeTab = TabEvents
		a.syncEvents()
	case key.Matches(msg, a.keys.Tab3):
		a.activeTab = TabBoard
		a.syncBoard()

	case key.Matches(msg, a.keys.ToggleFollow):
		a.events.ToggleFollow()

	case key.Matches(msg, a.keys.Category):
		a.eventQuery.Category = nextInCycle(categoryCycle, a.eventQuery.Category)
		a.syncEvents()

	case key.Matches(msg, a.keys.Severity):
		a.eventQuery.MinSeverity = nextInCycle(severityCycle, a.eventQuery.MinSeverity)
		a.syncEvents()

	case key.Matches(msg, a.keys.Dismiss):
		for _, t := range a.queue.Toasts() {
			a.queue.Dismiss(t.ID)
		}

	case key.Matches(msg, a.keys.Reconnect):
		if inst := a.current(); inst != nil {
			a.logger.Info().Str("instance", inst.Name()).Msg("Manual reconnect")
			inst.Reconnect()
		}

	case key.Matches(msg, a.keys.Refresh):
		if a.current() != nil {
			return a.refresh(a.selectedInstance, false)
		}

	case key.Matches(msg, a.keys.MoveLeft), key.Matches(msg, a.keys.MoveRight):
		if a.activeTab != TabBoard {
			return nil
		}
		return a.moveSelectedCard(key.Matches(msg, a.keys.MoveRight))

	case key.Matches(msg, a.keys.Up):
		a.navigate(-1)
	case key.Matches(msg, a.keys.Down):
		a.navigate(1)

	case key.Matches(msg, a.keys.Left):
		if a.focusedPane == PaneDetails && a.activeTab == TabBoard {
			a.board.Left()
		}
	case key.Matches(msg, a.keys.Right):
		if a.focusedPane == PaneDetails && a.activeTab == TabBoard {
			a.board.Right()
		}

	case key.Matches(msg, a.keys.PageUp):
		if a.activeTab == TabEvents {
			a.events.ScrollUp(a.eventsHeight())
		}
	case key.Matches(msg, a.keys.PageDown):
		if a.activeTab == TabEvents {
			a.events.ScrollDown(a.eventsHeight())
		}
	case key.Matches(msg, a.keys.Home):
		if a.activeTab == TabEvents {
			a.events.GotoTop()
		}
	case key.Matches(msg, a.keys.End):
		if a.activeTab == TabEvents {
			a.events.GotoBottom()
		}

	case key.Matches(msg, a.keys.Enter):
		if a.focusedPane == PaneInstances {
			a.focusedPane = PaneDetails
		}
	}
	return nil
}

// navigate moves within the focused pane
func (a *App) navigate(delta int) {
	if a.focusedPane == PaneInstances {
		next := a.selectedInstance + delta
		if next >= 0 && next < len(a.instances) {
			a.selectedInstance = next
			a.syncSelected()
		}
		return
	}
	switch a.activeTab {
	case TabEvents:
		if delta < 0 {
			a.events.ScrollUp(1)
		} else {
			a.events.ScrollDown(1)
		}
	case TabBoard:
		if delta < 0 {
			a.board.Up()
		} else {
			a.board.Down()
		}
	}
}

func nextInCycle[T comparable](cycle []T, current T) T {
	for i, v := range cycle {
		if v == current {
			return cycle[(i+1)%len(cycle)]
		}
	}
	return cycle[0]
}

// moveSelectedCard moves the card under the cursor one column. The store
// shows the move straight away and the cursor follows the card; the
// result arrives as cardMovedMsg.
func (a *App) moveSelectedCard(right bool) tea.Cmd {
	inst := a.current()
	if inst == nil {
		return nil
	}
	card, ok := a.board.Selected()
	if !ok {
		return nil
	}
	target := card.Status.Prev()
	if right {
		target = card.Status.Next()
	}
	if target == card.Status {
		return nil
	}

	index := a.selectedInstance
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), mutationTimeout)
		defer cancel()
		res, err := inst.MoveOpportunity(ctx, card.ID, target)
		return cardMovedMsg{index: index, result: res, err: err}
	}
}

func (a *App) handleInstanceMsg(index int, msg any) {
	selected := index == a.selectedInstance
	switch msg := msg.(type) {
	case gateway.ChannelStatusMsg:
		if msg.Status.Degraded && !msg.Status.Polling && msg.Status.State == models.ChannelClosed {
			a.logger.Warn().Str("instance", msg.Instance).Str("channel", msg.Status.Channel).Msg("Channel offline")
		}
		if selected {
			a.syncOverview()
		}
	case gateway.EventMsg:
		if selected {
			a.syncEvents()
		}
	case gateway.CacheChangedMsg:
		if selected {
			a.syncBoard()
			a.syncOverview()
		}
	case gateway.MutationResultMsg:
		if selected {
			a.syncBoard()
		}
	}
}

// syncSelected rebuilds every view from the selected instance
func (a *App) syncSelected() {
	a.syncOverview()
	a.syncEvents()
	a.syncBoard()
}

func (a *App) syncOverview() {
	inst := a.current()
	if inst == nil {
		a.overview.SetData(views.OverviewData{})
		return
	}
	client := inst.Client()
	data := views.OverviewData{
		Profile:     inst.Profile(),
		Channels:    inst.Statuses(),
		Breaker:     client.BreakerState(),
		LastError:   client.LastError(),
		LastFetched: client.LastFetched(),
		Mock:        a.mockMode,
	}
	if opps, err := inst.Opportunities(); err == nil {
		data.Opportunities = len(opps)
	}
	if jobs, err := inst.Jobs(); err == nil {
		data.Jobs = jobs
	}
	if runs, err := inst.PipelineRuns(); err == nil {
		data.Runs = runs
	}
	a.overview.SetData(data)
}

func (a *App) syncEvents() {
	inst := a.current()
	if inst == nil {
		a.events.SetEvents(nil)
		return
	}
	var merged []models.Event
	for _, ch := range inst.Channels() {
		merged = append(merged, ch.Log().Filter(a.eventQuery)...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	a.events.SetEvents(merged)
}

func (a *App) syncBoard() {
	inst := a.current()
	if inst == nil {
		a.board.SetOpportunities(nil, nil)
		return
	}
	opps, err := inst.Opportunities()
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to read board from cache")
		return
	}
	pending := make(map[string]bool)
	for _, o := range opps {
		if inst.Store().IsSpeculative(cache.Key(gateway.KindOpportunity, o.ID)) {
			pending[o.ID] = true
		}
	}
	a.board.SetOpportunities(opps, pending)
}

// View implements tea.Model
func (a *App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	if a.mode == ModeHelp {
		return a.renderHelp()
	}

	return a.renderMainLayout()
}

func (a *App) renderMainLayout() string {
	toasts := views.Toasts(a.toasts)
	toastHeight := 0
	if toasts != "" {
		toastHeight = lipgloss.Height(toasts)
	}

	leftWidth := 25
	rightWidth := a.width - leftWidth - 4
	contentHeight := a.height - 4 - toastHeight
	if contentHeight < 5 {
		contentHeight = 5
	}

	leftPane := a.renderInstancesPane(leftWidth, contentHeight)
	rightPane := a.renderDetailsPane(rightWidth, contentHeight)
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	parts := []string{mainContent}
	if toasts != "" {
		parts = append(parts, lipgloss.PlaceHorizontal(a.width, lipgloss.Right, toasts))
	}
	if a.mode == ModeSearch {
		parts = append(parts, a.renderSearchBar())
	}
	parts = append(parts, a.renderBottomBar())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a *App) renderInstancesPane(width, height int) string {
	style := styles.PaneBorder
	if a.focusedPane == PaneInstances {
		style = styles.FocusedPaneBorder
	}
	style = style.Width(width).Height(height)

	title := styles.TitleStyle.Render("Instances")

	var lines []string
	if len(a.config.Instances) == 0 {
		lines = append(lines, styles.Muted.Render("No instances configured"))
		lines = append(lines, styles.Muted.Render("Run with --mock to try it"))
	}
	for i, profile := range a.config.Instances {
		var badge string
		if i < len(a.instances) && a.instances[i] != nil {
			badge = instanceBadge(a.instances[i].Statuses())
		} else {
			badge = styles.StatusDown.Render("[ERR]")
		}
		line := badge + " " + profile.Name
		if i == a.selectedInstance {
			lines = append(lines, styles.SelectedItem.Render(line))
		} else {
			lines = append(lines, styles.UnselectedItem.Render(line))
		}
	}

	return style.Render(lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")))
}

// instanceBadge summarises every channel of an instance
func instanceBadge(statuses []models.ChannelStatus) string {
	live, polling, offline := 0, 0, 0
	for _, s := range statuses {
		switch {
		case s.State == models.ChannelOpen:
			live++
		case s.Polling:
			polling++
		case s.Degraded:
			offline++
		}
	}
	switch {
	case len(statuses) > 0 && live == len(statuses):
		return styles.StatusOK.Render("[LIVE]")
	case offline > 0:
		return styles.StatusDown.Render("[OFF]")
	case polling > 0:
		return styles.StatusDegraded.Render("[POLL]")
	default:
		return styles.StatusDegraded.Render("[...]")
	}
}

func (a *App) renderDetailsPane(width, height int) string {
	style := styles.PaneBorder
	if a.focusedPane == PaneDetails {
		style = styles.FocusedPaneBorder
	}
	style = style.Width(width).Height(height)

	tabs := a.renderTabs()

	var content string
	if a.current() == nil {
		content = styles.Muted.Render("No instance selected")
		if a.selectedInstance < len(a.config.Instances) {
			if err := a.openErrs[a.config.Instances[a.selectedInstance].Name]; err != nil {
				content = styles.LogError.Render(err.Error())
			}
		}
	} else {
		switch a.activeTab {
		case TabOverview:
			content = a.overview.View()
		case TabEvents:
			content = lipgloss.JoinVertical(lipgloss.Left, a.renderEventFilter(), a.events.View())
		case TabBoard:
			content = a.board.View()
		}
	}

	return style.Render(lipgloss.JoinVertical(lipgloss.Left, tabs, content))
}

func (a *App) renderTabs() string {
	var tabs []string
	for _, t := range allTabs {
		label := fmt.Sprintf("%d %s", int(t)+1, t)
		if t == a.activeTab {
			tabs = append(tabs, styles.ActiveTab.Render(label))
		} else {
			tabs = append(tabs, styles.InactiveTab.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (a *App) renderEventFilter() string {
	q := a.eventQuery
	category := "all"
	if q.Category != "" {
		category = string(q.Category)
	}
	severity := "any"
	if q.MinSeverity != "" {
		severity = string(q.MinSeverity) + "+"
	}
	parts := []string{
		styles.LabelKey.Render("category ") + category,
		styles.LabelKey.Render("severity ") + severity,
	}
	if q.Text != "" {
		parts = append(parts, styles.LabelKey.Render("match ")+q.Text)
	}
	if a.events.IsFollowing() {
		parts = append(parts, styles.Secondary.Render("following"))
	}
	parts = append(parts, styles.Muted.Render(fmt.Sprintf("%d events", a.events.Len())))
	return strings.Join(parts, "  ")
}

func (a *App) renderBottomBar() string {
	hints := []string{
		styles.HintKey.Render("q") + styles.HintDesc.Render(":quit"),
		styles.HintKey.Render("?") + styles.HintDesc.Render(":help"),
		styles.HintKey.Render("1-3") + styles.HintDesc.Render(":tabs"),
		styles.HintKey.Render("r") + styles.HintDesc.Render(":reconnect"),
		styles.HintKey.Render("R") + styles.HintDesc.Render(":refresh"),
	}
	if a.activeTab == TabBoard {
		hints = append(hints, styles.HintKey.Render("H/L")+styles.HintDesc.Render(":move card"))
	}
	if a.activeTab == TabEvents {
		hints = append(hints, styles.HintKey.Render("/ c s")+styles.HintDesc.Render(":filter"))
	}

	return styles.BottomBar.Width(a.width).Render(strings.Join(hints, "  "))
}

func (a *App) renderSearchBar() string {
	prompt := styles.InputPrompt.Render("Filter: ")
	return prompt + a.searchInput.View()
}

func (a *App) renderHelp() string {
	help := styles.HelpTitle.Render("lazyops Help") + "\n"

	sections := []string{"Navigation", "Panes", "Tabs", "Events", "Board", "Actions"}
	for i, group := range a.keys.FullHelp() {
		if i < len(sections) {
			help += styles.HelpSection.Render(sections[i]) + "\n"
		}
		for _, b := range group {
			h := b.Help()
			help += fmt.Sprintf("  %-12s %s\n", h.Key, h.Desc)
		}
	}
	help += "\n" + styles.Muted.Render("Press esc or ? to close")

	overlay := styles.HelpOverlay.Render(help)
	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, overlay)
}

func (a *App) eventsHeight() int {
	h := a.height - 9
	if h < 3 {
		h = 3
	}
	return h
}

func (a *App) updateViewportSizes() {
	rightWidth := a.width - 25 - 6
	a.events.SetSize(rightWidth, a.eventsHeight())
	a.overview.SetSize(rightWidth, a.height-6)
	a.board.SetSize(rightWidth, a.height-6)
}

// listen waits for the next update of the instance at index
func (a *App) listen(index int) tea.Cmd {
	inst := a.instances[index]
	return func() tea.Msg {
		select {
		case msg := <-inst.Updates():
			return instanceMsg{index: index, msg: msg}
		case <-inst.Done():
			return nil
		}
	}
}

// signalToasts is the queue observer. It may run on timer goroutines.
func (a *App) signalToasts() {
	select {
	case a.toastCh <- struct{}{}:
	default:
	}
}

func (a *App) waitForToasts() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-a.toastCh:
			return gateway.ToastsMsg{Toasts: a.queue.Toasts()}
		case <-a.done:
			return nil
		}
	}
}

func (a *App) refresh(index int, staleOnly bool) tea.Cmd {
	inst := a.instances[index]
	timeout := a.config.HTTP.Timeout * 3
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		var err error
		if staleOnly {
			err = inst.RefreshStale(ctx)
		} else {
			err = inst.Refresh(ctx)
		}
		return gateway.RefreshedMsg{Instance: inst.Name(), Err: err}
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	interval := time.Duration(a.config.UI.RefreshMs) * time.Millisecond
	return tea.Tick(interval, func(time.Time) tea.Msg {
		return RefreshTickMsg{}
	})
}
