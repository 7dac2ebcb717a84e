// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/llmchat/internal/engine"
	"github.com/jeranaias/llmchat/internal/model"
	"github.com/jeranaias/llmchat/internal/ui/render"
	"github.com/jeranaias/llmchat/internal/ui/styles"
)

// =============================================================================
// LAYOUT CONSTANTS
// =============================================================================

const (
	headerHeight = 3
	inputLines   = 3
	inputHeight  = inputLines + 2 // border
	statusHeight = 1

	// InputCharLimit bounds a single message typed in the screen.
	InputCharLimit = 16000
)

// =============================================================================
// MODEL
// =============================================================================

// Options configures a Model.
type Options struct {
	Conversation Conversation
	Theme        *styles.Theme

	Markdown  bool
	Watermark bool

	// ModelName reports the configured model for the header. Optional.
	ModelName func() string

	// ExportDir receives ctrl+e exports. Default: current directory.
	ExportDir string
}

// Model is the Bubble Tea model of the chat screen.
type Model struct {
	conv        Conversation
	theme       *styles.Theme
	renderer    *render.Renderer
	keys        KeyMap
	modelNameFn func() string
	exportDir   string

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	transcript model.Transcript
	pending    bool
	modelName  string
	status     string

	width, height int
	ready         bool

	watermark   bool
	placeholder string
	rng         *rand.Rand
}

// New creates the chat screen model.
func New(opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme()
	}
	keys := DefaultKeyMap()

	ta := textarea.New()
	ta.CharLimit = InputCharLimit
	ta.ShowLineNumbers = false
	ta.Prompt = ""
	ta.SetHeight(inputLines)
	ta.KeyMap.InsertNewline = keys.Newline
	ta.FocusedStyle.Placeholder = theme.Placeholder
	ta.BlurredStyle.Placeholder = theme.Placeholder
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Spinner

	m := Model{
		conv:        opts.Conversation,
		theme:       theme,
		renderer:    render.New(opts.Markdown, theme.GlamourStyle(), theme.ChromaStyle()),
		keys:        keys,
		modelNameFn: opts.ModelName,
		exportDir:   opts.ExportDir,
		viewport:    viewport.New(0, 0),
		input:       ta,
		spinner:     sp,
		watermark:   opts.Watermark,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	m.nextPlaceholder()
	return m
}

// Init loads the first snapshot and starts the cursor and spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.refresh())
}

// Transcript returns the last snapshot the screen drew.
func (m Model) Transcript() model.Transcript {
	return m.transcript
}

// Status returns the current status bar message.
func (m Model) Status() string {
	return m.status
}

// Input returns the text in the input box.
func (m Model) Input() string {
	return m.input.Value()
}

// Placeholder returns the input placeholder in use.
func (m Model) Placeholder() string {
	return m.placeholder
}

func (m *Model) refresh() tea.Cmd {
	return refreshCmd(m.conv, m.modelNameFn)
}

func (m *Model) nextPlaceholder() {
	if m.watermark {
		m.placeholder = pickSuggestion(m.rng, m.placeholder)
	} else {
		m.placeholder = DefaultPlaceholder
	}
	m.input.Placeholder = m.placeholder
}

// =============================================================================
// UPDATE
// =============================================================================

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.ready = true
		m.syncContent()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case EngineEventMsg:
		if msg.Event.Kind == engine.EventSettingsChanged {
			m.status = "Settings updated"
		}
		return m, m.refresh()

	case ActivateMsg:
		m.status = "Brought to front"
		return m, m.input.Focus()

	case transcriptMsg:
		m.transcript = msg.transcript
		m.pending = msg.pending
		if msg.modelName != "" {
			m.modelName = msg.modelName
		}
		m.syncContent()
		return m, nil

	case actionResultMsg:
		m.handleActionResult(msg)
		return m, m.refresh()

	case exportResultMsg:
		if msg.err != nil {
			m.status = "export failed: " + msg.err.Error()
		} else {
			m.status = "Exported to " + msg.path
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.pending {
			m.syncContent()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Submit):
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		if m.pending {
			m.status = "Wait for the reply or press esc to cancel"
			return m, nil
		}
		m.input.Reset()
		m.nextPlaceholder()
		m.pending = true
		m.status = ""
		return m, submitCmd(m.conv, text)

	case key.Matches(msg, m.keys.Cancel):
		if !m.pending {
			return m, nil
		}
		m.status = "Cancelling..."
		return m, cancelCmd(m.conv)

	case key.Matches(msg, m.keys.Clear):
		if m.pending {
			m.status = "Cannot clear while a reply is streaming"
			return m, nil
		}
		return m, clearCmd(m.conv)

	case key.Matches(msg, m.keys.Export):
		return m, exportCmd(m.transcript, m.modelName, m.exportDir)

	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleActionResult(msg actionResultMsg) {
	if msg.err != nil {
		m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		if msg.action == "submit" {
			m.pending = m.conv.IsPending()
		}
		return
	}
	if msg.action == "clear" {
		m.status = "Conversation cleared"
	}
}

// layout sizes the components after a resize.
func (m *Model) layout() {
	vpHeight := m.height - headerHeight - inputHeight - statusHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = m.width
	m.viewport.Height = vpHeight

	inputWidth := m.width - 2
	if inputWidth < 1 {
		inputWidth = 1
	}
	m.input.SetWidth(inputWidth)

	bodyWidth := m.width - 2
	if bodyWidth < render.MinWidth {
		bodyWidth = render.MinWidth
	}
	m.renderer.SetWidth(bodyWidth)
}

// syncContent redraws the transcript, following the tail if the view was
// already at the bottom.
func (m *Model) syncContent() {
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if follow {
		m.viewport.GotoBottom()
	}
}
