// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/llmchat/internal/engine"
	"github.com/jeranaias/llmchat/internal/model"
	"github.com/jeranaias/llmchat/internal/util"
)

const emptyHint = "Start a conversation. Type a message below and press enter."

// View renders the screen.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.theme.InputBorder.Render(m.input.View()),
		m.renderStatus(),
	)
}

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("llmchat")
	if m.modelName != "" {
		title += " " + m.theme.HeaderModel.Render("· "+m.modelName)
	}
	w := m.width - 2
	if w < 1 {
		w = 1
	}
	return m.theme.Header.Width(w).Render(title)
}

// renderStatus builds the bar as plain text first so truncation never
// cuts an escape sequence.
func (m Model) renderStatus() string {
	var state string
	if m.pending {
		state = m.theme.StatusPending.Render(m.spinner.View() + " streaming")
	} else {
		state = m.theme.StatusReady.Render("ready")
	}

	var hints []string
	for _, b := range m.keys.ShortHelp() {
		hints = append(hints, m.theme.ShortcutKey.Render(b.Help().Key)+" "+m.theme.ShortcutDesc.Render(b.Help().Desc))
	}

	left := state
	if m.status != "" {
		avail := m.width - lipgloss.Width(state) - 3
		if avail > 0 {
			left += " | " + util.TruncateWidth(m.status, avail)
		}
	}
	right := strings.Join(hints, "  ")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		right = ""
		gap = m.width - lipgloss.Width(left)
		if gap < 0 {
			gap = 0
		}
	}
	return m.theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

// renderTranscript draws every turn for the viewport.
func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 {
		return m.theme.EmptyHint.Render(emptyHint)
	}

	var b strings.Builder
	last := len(m.transcript) - 1
	for i, turn := range m.transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderLabel(turn.Role))
		b.WriteString("\n")

		switch {
		case turn.Role == model.RoleAssistant && turn.Content == "" && i == last && m.pending:
			b.WriteString(m.theme.TurnBody.Render(m.spinner.View() + " thinking..."))
		case turn.Role == model.RoleAssistant:
			b.WriteString(m.renderAssistant(turn.Content))
		default:
			b.WriteString(m.theme.TurnBody.Width(m.bodyWidth()).Render(turn.Content))
		}
	}
	return b.String()
}

func (m Model) renderLabel(role model.Role) string {
	switch role {
	case model.RoleUser:
		return m.theme.UserLabel.Render(role.DisplayName())
	case model.RoleAssistant:
		return m.theme.AssistantLabel.Render(role.DisplayName())
	default:
		return m.theme.SystemLabel.Render(role.DisplayName())
	}
}

func (m Model) renderAssistant(content string) string {
	body, markers := splitMarkers(content)

	var parts []string
	if body != "" {
		parts = append(parts, m.theme.TurnBody.Render(m.renderer.Render(body)))
	}
	for _, mk := range markers {
		if mk == engine.CancelledMarker {
			parts = append(parts, m.theme.TurnBody.Render(m.theme.Cancelled.Render(mk)))
		} else {
			parts = append(parts, m.theme.ErrorMarker.Width(m.bodyWidth()).Render(mk))
		}
	}
	return strings.Join(parts, "\n")
}

func (m Model) bodyWidth() int {
	w := m.width - 2
	if w < 1 {
		w = 1
	}
	return w
}

// splitMarkers separates trailing error and cancellation lines from the
// assistant's prose so they are not run through markdown.
func splitMarkers(content string) (string, []string) {
	lines := strings.Split(content, "\n")
	end := len(lines)
	for end > 0 {
		l := strings.TrimSpace(lines[end-1])
		if !isMarker(l) {
			break
		}
		end--
	}
	var markers []string
	for _, l := range lines[end:] {
		markers = append(markers, strings.TrimSpace(l))
	}
	return strings.TrimRight(strings.Join(lines[:end], "\n"), "\n"), markers
}

func isMarker(line string) bool {
	return line == engine.CancelledMarker ||
		(strings.HasPrefix(line, "[Error") && strings.HasSuffix(line, "]"))
}
