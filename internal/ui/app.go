// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/shuklaaditya846/local-lm/internal/control"
	"github.com/shuklaaditya846/local-lm/internal/settings"
	"github.com/shuklaaditya846/local-lm/internal/ui/styles"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	userLabelStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(styles.Purple).
				Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	noticeStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	uiErrorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose)
)

// =============================================================================
// MESSAGES
// =============================================================================

// eventMsg delivers one controller event to the update loop.
type eventMsg control.Event

// modelLoadedMsg signals that the initial LoadModel finished.
type modelLoadedMsg struct {
	err error
}

// =============================================================================
// APP
// =============================================================================

// App bridges the Controller and the Bubble Tea program.
type App struct {
	cfg    *settings.Settings
	ctrl   *control.Controller
	events chan control.Event
}

// New creates the TUI front-end. Wire its Notify method into the
// Controller at construction, then Bind the controller.
func New(cfg *settings.Settings) *App {
	return &App{
		cfg:    cfg,
		events: make(chan control.Event, 256),
	}
}

// Bind attaches the controller.
func (a *App) Bind(ctrl *control.Controller) {
	a.ctrl = ctrl
}

// Notify is the controller event callback. Token events only trigger a
// redraw (the transcript renders from the session itself), so dropping
// one under backpressure is harmless.
func (a *App) Notify(ev control.Event) {
	select {
	case a.events <- ev:
	default:
		if ev.Kind != control.EventToken {
			a.events <- ev
		}
	}
}

// Run starts the Bubble Tea program and blocks until exit.
func (a *App) Run() error {
	m := newModel(a)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()

	// Keep draining so a late controller event (the shutdown save, a
	// straggling stream) can never block Notify after the program exits.
	go func() {
		for range a.events {
		}
	}()
	return err
}

// waitForEvent re-arms the event bridge for the next controller event.
func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-a.events)
	}
}

// =============================================================================
// MODEL
// =============================================================================

type model struct {
	app *App

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	width  int
	height int
	ready  bool

	state  control.State
	notice string
	err    error
}

func newModel(a *App) model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Prompt = "> "
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(styles.Cyan)

	return model{
		app:   a,
		input: ti,
		spin:  sp,
		state: control.StateModelLoading,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spin.Tick,
		textinput.Blink,
		m.app.waitForEvent(),
		func() tea.Msg {
			return modelLoadedMsg{err: m.app.ctrl.LoadModel(context.Background())}
		},
	)
}

// =============================================================================
// UPDATE
// =============================================================================

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chrome := 4 // header, input, status, spacing
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-chrome)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - chrome
		}
		m.refreshTranscript()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.state == control.StateGenerating {
				m.app.ctrl.Stop()
				return m, nil
			}
			return m, tea.Quit

		case "ctrl+n":
			m.app.ctrl.StartNewSession()
			m.err = nil
			m.refreshTranscript()
			return m, nil

		case "enter":
			return m.submit()
		}

	case eventMsg:
		m.applyEvent(control.Event(msg))
		cmds = append(cmds, m.app.waitForEvent())

	case modelLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// submit sends the typed message.
func (m model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if m.state != control.StateReady {
		return m, nil
	}

	m.input.Reset()
	m.err = nil

	ctrl := m.app.ctrl
	return m, func() tea.Msg {
		if err := ctrl.Send(context.Background(), text); err != nil {
			return eventMsg(control.Event{Kind: control.EventError, Err: err})
		}
		return nil
	}
}

// applyEvent folds one controller event into the view state.
func (m *model) applyEvent(ev control.Event) {
	switch ev.Kind {
	case control.EventState:
		m.state = ev.State

	case control.EventToken, control.EventDone, control.EventTitle, control.EventSession:
		m.refreshTranscript()

	case control.EventError:
		m.err = ev.Err

	case control.EventNotice:
		m.notice = ev.Notice
	}
}

// refreshTranscript re-renders the conversation into the viewport and
// keeps it pinned to the bottom.
func (m *model) refreshTranscript() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// =============================================================================
// VIEW
// =============================================================================

func (m model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusView())
	return b.String()
}

func (m model) headerView() string {
	title := m.app.ctrl.Active().Title()
	return headerStyle.Render("localm") + "  " + statusStyle.Render(title)
}

// statusView renders the bottom status bar, padded to the full width.
func (m model) statusView() string {
	var left string
	switch {
	case m.err != nil:
		left = uiErrorStyle.Render(fmt.Sprintf("error: %v", m.err))
	case m.state == control.StateGenerating:
		left = m.spin.View() + statusStyle.Render("generating... (ctrl+c to stop)")
	case m.state == control.StateModelLoading:
		left = m.spin.View() + statusStyle.Render("loading "+m.app.cfg.Engine.Model+"...")
	case m.notice != "":
		left = noticeStyle.Render(m.notice)
	default:
		left = statusStyle.Render("ready")
	}

	right := statusStyle.Render(m.app.cfg.Engine.Model + " | ctrl+n new | ctrl+c quit")

	// UNICODE: runewidth keeps the padding correct for wide glyphs
	pad := m.width - runewidth.StringWidth(stripANSI(left)) - runewidth.StringWidth(stripANSI(right))
	if pad < 1 {
		pad = 1
	}
	return left + strings.Repeat(" ", pad) + right
}

// stripANSI removes escape sequences for width measurement.
func stripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// renderTranscript renders the active session for the viewport.
func (m model) renderTranscript() string {
	sess := m.app.ctrl.Active()
	entries := sess.Snapshot()
	if len(entries) == 0 {
		return statusStyle.Render("\n  Start the conversation by typing a message below.\n")
	}

	width := m.viewport.Width - 2
	if width < 20 {
		width = 20
	}
	body := lipgloss.NewStyle().Width(width).PaddingLeft(2)

	var b strings.Builder
	for _, e := range entries {
		if e.IsUser() {
			b.WriteString(userLabelStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(body.Render(e.UserText))
		} else {
			b.WriteString(assistantLabelStyle.Render("Assistant"))
			b.WriteString("\n")
			text := e.ResponseText
			if text == "" {
				text = "..."
			}
			b.WriteString(body.Render(text))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}
