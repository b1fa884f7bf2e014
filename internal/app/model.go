package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/jwulff/quill/internal/auth"
	"github.com/jwulff/quill/internal/capture"
	"github.com/jwulff/quill/internal/media"
	"github.com/jwulff/quill/internal/query"
	"github.com/jwulff/quill/internal/recording"
	"github.com/jwulff/quill/internal/ui"
	"github.com/jwulff/quill/internal/workflow"

	tea "github.com/charmbracelet/bubbletea"
)

const (
	remoteTimeout   = 30 * time.Second
	finalizeTimeout = 10 * time.Second
)

// PanelFocus tracks which panel has keyboard focus.
type PanelFocus int

const (
	FocusCapture PanelFocus = iota
	FocusHistory
)

type inputMode int

const (
	modeNone inputMode = iota
	modeSearch
	modeTitle
	modeRename
)

// Deps are the collaborators the TUI drives.
type Deps struct {
	Session      *capture.Session
	Store        *recording.Store
	Orchestrator *workflow.Orchestrator
	Auth         auth.Provider
	Locale       language.Tag
	Log          *zap.SugaredLogger
}

// Model is the root bubbletea model for the quill TUI.
type Model struct {
	session *capture.Session
	store   *recording.Store
	orch    *workflow.Orchestrator
	auth    auth.Provider
	log     *zap.SugaredLogger

	// Capture
	snap           capture.Snapshot
	title          string
	saving         bool
	currentID      string
	currentSummary string

	// History
	view       *query.View
	selected   int
	deletingID string
	loaded     bool

	// Text input
	mode     inputMode
	input    string
	renameID string

	// UI state
	focusedPanel PanelFocus
	width        int
	height       int

	errorMessage   string
	errorTransient bool
	statusText     string
}

// New creates a Model over d.
func New(d Deps) Model {
	log := d.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return Model{
		session:      d.Session,
		store:        d.Store,
		orch:         d.Orchestrator,
		auth:         d.Auth,
		log:          log,
		snap:         d.Session.Snapshot(),
		view:         query.NewView(d.Locale),
		focusedPanel: FocusCapture,
		statusText:   "Loading recordings...",
	}
}

// Init loads the collection and starts the capture clock and the summary
// listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		fetchCmd(m.store, m.auth),
		captureTickCmd(),
		waitForSummaryCmd(m.orch.Events()),
	)
}

// fetchCmd loads the signed-in user's recordings.
func fetchCmd(store *recording.Store, authp auth.Provider) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
		defer cancel()
		owner, _ := authp.CurrentUser()
		_, err := store.Fetch(ctx, owner)
		return RecordingsLoadedMsg{Err: err}
	}
}

// startCmd acquires the microphone. It blocks until the device answers.
func startCmd(session *capture.Session) tea.Cmd {
	return func() tea.Msg {
		return CaptureStartedMsg{Err: session.Start(context.Background())}
	}
}

// stopCmd stops the capture and waits for the asset to be finalized.
func stopCmd(session *capture.Session) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()
		_, err := session.Stop(ctx)
		return CaptureStoppedMsg{Err: err}
	}
}

func captureTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return CaptureTickMsg{}
	})
}

// saveCmd uploads the finished capture and dispatches its summary.
func saveCmd(orch *workflow.Orchestrator, title string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
		defer cancel()
		rec, err := orch.SaveFromCapture(ctx, title)
		return SavedMsg{Recording: rec, Err: err}
	}
}

func deleteCmd(store *recording.Store, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
		defer cancel()
		return DeletedMsg{ID: id, Err: store.Delete(ctx, id)}
	}
}

func renameCmd(store *recording.Store, id, title string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
		defer cancel()
		err := store.Update(ctx, id, recording.Patch{Title: recording.StringPtr(title)})
		return RenamedMsg{ID: id, Err: err}
	}
}

func summarizeCmd(orch *workflow.Orchestrator, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
		defer cancel()
		return SummarizeRequestedMsg{ID: id, Err: orch.Summarize(ctx, id)}
	}
}

// waitForSummaryCmd blocks until the orchestrator reports a finished summary.
func waitForSummaryCmd(events <-chan workflow.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return summaryStreamClosedMsg{}
		}
		return SummaryMsg{Event: ev}
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case RecordingsLoadedMsg:
		m.loaded = true
		m.statusText = ""
		m.clampSelection()
		if msg.Err != nil {
			return m, m.transientError(msg.Err.Error())
		}
		return m, nil

	case CaptureStartedMsg:
		m.snap = m.session.Snapshot()
		var acqErr *capture.AcquireError
		switch {
		case msg.Err == nil:
			m.currentID = ""
			m.currentSummary = ""
			m.clearError()
		case errors.Is(msg.Err, capture.ErrCancelled), errors.Is(msg.Err, capture.ErrBusy):
		case errors.As(msg.Err, &acqErr):
			m.errorMessage = acqErr.Guidance()
			m.errorTransient = false
		default:
			return m, m.transientError(msg.Err.Error())
		}
		return m, nil

	case CaptureStoppedMsg:
		m.snap = m.session.Snapshot()
		if msg.Err != nil && !errors.Is(msg.Err, capture.ErrBusy) && !errors.Is(msg.Err, capture.ErrNotRecording) {
			return m, m.transientError(msg.Err.Error())
		}
		return m, nil

	case CaptureTickMsg:
		m.snap = m.session.Snapshot()
		return m, captureTickCmd()

	case SavedMsg:
		m.saving = false
		if msg.Err != nil {
			return m, m.transientError(msg.Err.Error())
		}
		m.currentID = msg.Recording.ID
		m.currentSummary = ""
		m.title = ""
		m.clampSelection()
		return m, nil

	case DeletedMsg:
		if m.deletingID == msg.ID {
			m.deletingID = ""
		}
		if msg.Err == nil || errors.Is(msg.Err, recording.ErrNotFound) {
			m.view.Forget(msg.ID)
			if m.currentID == msg.ID {
				m.currentID = ""
				m.currentSummary = ""
			}
		}
		m.clampSelection()
		if msg.Err != nil {
			return m, m.transientError(msg.Err.Error())
		}
		return m, nil

	case RenamedMsg:
		if msg.Err != nil {
			return m, m.transientError(msg.Err.Error())
		}
		return m, nil

	case SummarizeRequestedMsg:
		if msg.Err != nil {
			return m, m.transientError(msg.Err.Error())
		}
		return m, nil

	case SummaryMsg:
		cmd := m.handleSummary(msg.Event)
		return m, tea.Batch(cmd, waitForSummaryCmd(m.orch.Events()))

	case summaryStreamClosedMsg:
		return m, nil

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.clearError()
		}
		return m, nil
	}

	return m, nil
}

// handleSummary records a finished summary and returns any resulting command.
func (m *Model) handleSummary(ev workflow.Event) tea.Cmd {
	if ev.RecordingID == m.currentID && ev.Summary != "" {
		m.currentSummary = ev.Summary
	}
	switch {
	case ev.Err == nil:
		return nil
	case ev.Summary == "":
		return m.transientError(fmt.Sprintf("Summary failed: %v", ev.Err))
	default:
		return m.transientError(fmt.Sprintf("Summary not saved, shown locally: %v", ev.Err))
	}
}

func (m *Model) transientError(text string) tea.Cmd {
	m.errorMessage = text
	m.errorTransient = true
	return clearTransientErrorCmd()
}

func (m *Model) clearError() {
	m.errorMessage = ""
	m.errorTransient = false
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode != modeNone {
		return m.handleInput(msg)
	}

	switch msg.String() {
	case KeyQuit, "Q", KeyCtrlC:
		m.session.Reset()
		return m, tea.Quit

	case KeyTab:
		if m.focusedPanel == FocusCapture {
			m.focusedPanel = FocusHistory
		} else {
			m.focusedPanel = FocusCapture
		}
		return m, nil
	}

	if m.focusedPanel == FocusCapture {
		return m.handleCaptureKey(msg)
	}
	return m.handleHistoryKey(msg)
}

func (m Model) handleCaptureKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeySpace:
		switch m.session.State() {
		case capture.Recording, capture.Acquiring:
			return m, stopCmd(m.session)
		default:
			m.snap.State = capture.Acquiring
			return m, startCmd(m.session)
		}

	case KeyReset:
		m.session.Reset()
		m.snap = m.session.Snapshot()
		m.currentID = ""
		m.currentSummary = ""
		m.title = ""
		m.clearError()
		return m, nil

	case KeySave:
		if m.saving {
			return m, nil
		}
		if m.snap.State != capture.Stopped || m.snap.Asset == nil {
			return m, m.transientError(workflow.ErrNoAsset.Error())
		}
		if m.currentID != "" {
			return m, m.transientError("Already saved. Press r to record again.")
		}
		m.saving = true
		return m, saveCmd(m.orch, m.title)

	case KeyTitle:
		m.mode = modeTitle
		m.input = m.title
		return m, nil
	}
	return m, nil
}

func (m Model) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	items := m.visible()

	switch msg.String() {
	case KeyDown, "down":
		if m.selected < len(items)-1 {
			m.selected++
		}

	case KeyUp, "up":
		if m.selected > 0 {
			m.selected--
		}

	case KeyEnter:
		if m.selected < len(items) {
			m.view.Toggle(items[m.selected].ID)
		}

	case KeySearch:
		m.mode = modeSearch
		m.input = m.view.Search

	case KeySort:
		m.view.CycleSort()

	case KeyFilter:
		m.view.CycleFilter()
		m.clampSelection()

	case KeyDelete:
		if m.deletingID != "" || m.selected >= len(items) {
			return m, nil
		}
		m.deletingID = items[m.selected].ID
		return m, deleteCmd(m.store, m.deletingID)

	case KeyRename:
		if m.selected < len(items) {
			m.mode = modeRename
			m.renameID = items[m.selected].ID
			m.input = items[m.selected].Title
		}

	case KeySave:
		if m.selected < len(items) {
			return m, summarizeCmd(m.orch, items[m.selected].ID)
		}
	}
	return m, nil
}

// handleInput edits the active text field. Search is applied as it is typed.
func (m Model) handleInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.session.Reset()
		return m, tea.Quit

	case tea.KeyEsc:
		if m.mode == modeSearch {
			m.view.Search = ""
			m.clampSelection()
		}
		m.mode = modeNone
		m.input = ""
		return m, nil

	case tea.KeyEnter:
		return m.commitInput()

	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}

	case tea.KeySpace:
		m.input += " "

	case tea.KeyRunes:
		m.input += string(msg.Runes)

	default:
		return m, nil
	}

	if m.mode == modeSearch {
		m.view.Search = m.input
		m.selected = 0
	}
	return m, nil
}

func (m Model) commitInput() (tea.Model, tea.Cmd) {
	mode, raw := m.mode, m.input
	text := strings.TrimSpace(raw)
	m.mode = modeNone
	m.input = ""

	switch mode {
	case modeSearch:
		m.view.Search = raw
		m.clampSelection()
	case modeTitle:
		m.title = text
	case modeRename:
		id := m.renameID
		m.renameID = ""
		if text != "" {
			return m, renameCmd(m.store, id, text)
		}
	}
	return m, nil
}

// visible is the history projection. It is recomputed on every use so that it
// always reflects the store.
func (m Model) visible() []recording.Recording {
	return m.view.Apply(m.store.Items())
}

func (m *Model) clampSelection() {
	n := len(m.visible())
	if m.selected >= n {
		m.selected = max(0, n-1)
	}
}

func (m Model) capturePanelWidth() int {
	if m.width == 0 {
		return 36
	}
	return max(28, m.width*40/100)
}

func (m Model) historyPanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width-m.capturePanelWidth()-3)
}

func (m Model) contentHeight() int {
	if m.height == 0 {
		return 20
	}
	// header, status, two dividers, error, input, footer
	reserved := 8
	return max(5, m.height-reserved)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderMainContent())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}
	if m.mode != modeNone {
		sections = append(sections, m.renderInput())
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("QUILL")
	if user, ok := m.auth.CurrentUser(); ok {
		return title + ui.DimStyle.Render("  "+user)
	}
	return title + ui.DimStyle.Render("  signed out")
}

func (m Model) renderStatusBar() string {
	var dot string
	switch m.snap.State {
	case capture.Recording:
		dot = ui.RecordingDotStyle.Render("● REC") + " " + ui.ElapsedStyle.Render(media.FormatDuration(m.snap.Elapsed))
	case capture.Acquiring:
		dot = ui.SpinnerStyle.Render("◌ WAITING FOR MIC")
	case capture.Stopped:
		dot = ui.ReadyDotStyle.Render("■ READY") + " " + ui.ElapsedStyle.Render(media.FormatDuration(m.snap.Elapsed))
	case capture.Failed:
		dot = ui.ErrorStyle.Render("✕ FAILED")
	default:
		dot = ui.IdleDotStyle.Render("○ IDLE")
	}

	var saving string
	if m.saving {
		saving = "  " + ui.SpinnerStyle.Render("⟳ Saving")
	}
	var status string
	if m.statusText != "" {
		status = "  " + ui.DimStyle.Render(m.statusText)
	}
	return dot + saving + status
}

func (m Model) renderMainContent() string {
	captureW := m.capturePanelWidth()
	historyW := m.historyPanelWidth()
	contentH := m.contentHeight()

	left := strings.Split(m.renderCapturePanel(captureW, contentH), "\n")
	right := strings.Split(m.renderHistoryPanel(historyW, contentH), "\n")
	divider := ui.DividerStyle.Render("│")

	rows := make([]string, 0, contentH)
	for i := 0; i < contentH; i++ {
		l := strings.Repeat(" ", captureW)
		if i < len(left) {
			l = left[i]
		}
		r := ""
		if i < len(right) {
			r = right[i]
		}
		rows = append(rows, l+divider+r)
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderCapturePanel(width, height int) string {
	lines := []string{padRight(m.panelTitle("CAPTURE", FocusCapture), width)}

	title := m.title
	if title == "" {
		title = ui.DimStyle.Render(recording.DefaultTitle)
	}
	lines = append(lines, "  Title: "+title)
	lines = append(lines, "")

	switch m.snap.State {
	case capture.Idle:
		if m.currentID == "" {
			lines = append(lines, ui.DimStyle.Render("  Press Space to start recording"))
		}
	case capture.Acquiring:
		lines = append(lines, ui.DimStyle.Render("  Requesting microphone..."))
	case capture.Recording:
		lines = append(lines, "  Recording "+media.FormatDuration(m.snap.Elapsed))
		lines = append(lines, ui.DimStyle.Render("  Press Space to stop"))
	case capture.Stopped:
		if m.currentID == "" {
			lines = append(lines, fmt.Sprintf("  Captured %s", media.FormatDuration(m.snap.Elapsed)))
			lines = append(lines, ui.DimStyle.Render("  Press s to save & summarize"))
		}
	case capture.Failed:
		if m.snap.Failure != nil {
			for _, wl := range wrapText(m.snap.Failure.Guidance(), max(10, width-4)) {
				lines = append(lines, ui.ErrorTextStyle.Render("  "+wl))
			}
		}
	}

	if m.currentID != "" {
		rec, _ := m.store.Get(m.currentID)
		lines = append(lines, ui.BadgeStyle.Render("  ✓ Saved")+" "+rec.Title)
		summary := m.currentSummary
		if summary == "" && rec.Summary != nil {
			summary = *rec.Summary
		}
		switch {
		case m.orch.Pending(m.currentID):
			lines = append(lines, ui.SpinnerStyle.Render("  ⟳ Summarizing…"))
		case summary != "":
			lines = append(lines, "")
			for _, wl := range wrapText(summary, max(10, width-4)) {
				lines = append(lines, ui.SummaryStyle.Render("  "+wl))
			}
		}
	}

	return fitPanel(lines, width, height)
}

func (m Model) renderHistoryPanel(width, height int) string {
	items := m.visible()

	header := m.panelTitle(fmt.Sprintf("HISTORY (%d)", len(items)), FocusHistory) +
		ui.DimStyle.Render(fmt.Sprintf("  %s · %s", m.view.Sort, m.view.Filter))
	if m.view.Search != "" {
		header += ui.InputStyle.Render("  /" + m.view.Search)
	}
	lines := []string{header}

	switch {
	case !m.loaded:
		lines = append(lines, ui.DimStyle.Render("  Loading..."))
	case len(items) == 0 && len(m.store.Items()) == 0:
		lines = append(lines, ui.DimStyle.Render("  No recordings yet"))
	case len(items) == 0:
		lines = append(lines, ui.DimStyle.Render("  Nothing matches"))
	}

	for i, rec := range items {
		expanded := m.view.Expanded == rec.ID
		marker := "▸"
		if expanded {
			marker = "▾"
		}
		meta := rec.CreatedAt.Local().Format("Jan 2 15:04")
		if rec.DurationSeconds != nil {
			meta += " · " + media.FormatDuration(*rec.DurationSeconds)
		}

		var line string
		switch {
		case rec.ID == m.deletingID:
			line = "  " + marker + " " + ui.DeletingStyle.Render(rec.Title) + ui.DimStyle.Render("  deleting...")
		case i == m.selected && m.focusedPanel == FocusHistory:
			line = ui.SelectedStyle.Render("> "+marker+" "+rec.Title) + "  " + ui.DimStyle.Render(meta)
		default:
			line = "  " + marker + " " + rec.Title + "  " + ui.DimStyle.Render(meta)
		}
		lines = append(lines, truncateToWidth(line, width))

		if !expanded {
			continue
		}
		switch {
		case m.orch.Pending(rec.ID):
			lines = append(lines, ui.SpinnerStyle.Render("    ⟳ Summarizing…"))
		case rec.HasSummary():
			for _, wl := range wrapText(*rec.Summary, max(10, width-6)) {
				lines = append(lines, ui.DimStyle.Render("    "+wl))
			}
		default:
			lines = append(lines, ui.DimStyle.Render("    No summary yet. Press s to summarize."))
		}
	}

	return fitPanel(lines, width, height)
}

func (m Model) panelTitle(text string, panel PanelFocus) string {
	if m.focusedPanel == panel {
		return ui.PanelTitleActiveStyle.Render(text)
	}
	return ui.PanelTitleStyle.Render(text)
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderInput() string {
	var label string
	switch m.mode {
	case modeSearch:
		label = "Search: "
	case modeTitle:
		label = "Title: "
	case modeRename:
		label = "Rename: "
	}
	return ui.FooterKeyStyle.Render(label) + ui.InputStyle.Render(m.input+"▌")
}

func (m Model) renderFooter() string {
	key := func(k, desc string) string {
		return ui.FooterKeyStyle.Render(k) + ui.FooterDescStyle.Render(" "+desc)
	}

	var parts []string
	if m.mode != modeNone {
		parts = append(parts, key("Enter", "Done"), key("Esc", "Cancel"))
		return strings.Join(parts, "  ")
	}

	if m.focusedPanel == FocusCapture {
		if m.snap.State == capture.Recording {
			parts = append(parts, key("Space", "Stop"))
		} else {
			parts = append(parts, key("Space", "Record"))
		}
		parts = append(parts, key("t", "Title"), key("s", "Save"), key("r", "Reset"))
	} else {
		parts = append(parts,
			key("j/k", "Nav"),
			key("Enter", "Expand"),
			key("/", "Search"),
			key("o", "Sort"),
			key("f", "Filter"),
			key("e", "Rename"),
			key("s", "Summarize"),
			key("d", "Delete"),
		)
	}
	parts = append(parts, key("Tab", "Focus"), key("q", "Quit"))
	return strings.Join(parts, "  ")
}

// Helpers

func fitPanel(lines []string, width, height int) string {
	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for i, l := range lines {
		lines[i] = padRight(l, width)
	}
	return strings.Join(lines, "\n")
}

func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncateToWidth(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			switch {
			case current == "":
				current = word
			case len(current)+1+len(word) <= width:
				current += " " + word
			default:
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
