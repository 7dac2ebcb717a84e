// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components of the chat screen.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	ColorProfile termenv.Profile

	// Header
	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderModel lipgloss.Style

	// Transcript
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	SystemLabel    lipgloss.Style
	TurnBody       lipgloss.Style
	ErrorMarker    lipgloss.Style
	Cancelled      lipgloss.Style
	EmptyHint      lipgloss.Style

	// Input
	InputBorder lipgloss.Style
	Placeholder lipgloss.Style

	// Status bar
	StatusBar     lipgloss.Style
	StatusPending lipgloss.Style
	StatusReady   lipgloss.Style
	ShortcutKey   lipgloss.Style
	ShortcutDesc  lipgloss.Style

	Spinner lipgloss.Style
}

// NewTheme detects the terminal and builds the styles.
func NewTheme() *Theme {
	return newTheme(termenv.ColorProfile(), termenv.HasDarkBackground())
}

// NewPlainTheme returns a theme without colors, for tests and dumb terminals.
func NewPlainTheme() *Theme {
	return newTheme(termenv.Ascii, true)
}

func newTheme(profile termenv.Profile, dark bool) *Theme {
	t := &Theme{IsDark: dark, ColorProfile: profile}
	t.initStyles()
	return t
}

// GlamourStyle names the glamour style matching the background.
func (t *Theme) GlamourStyle() string {
	if t.ColorProfile == termenv.Ascii {
		return "notty"
	}
	if t.IsDark {
		return "dark"
	}
	return "light"
}

// ChromaStyle names the chroma style matching the background.
func (t *Theme) ChromaStyle() string {
	if t.IsDark {
		return "monokai"
	}
	return "github"
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Purple).
		Padding(0, 1)

	t.HeaderTitle = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.HeaderModel = lipgloss.NewStyle().Foreground(TextSecondary).Italic(true)

	t.UserLabel = lipgloss.NewStyle().Bold(true).Foreground(UserLabel)
	t.AssistantLabel = lipgloss.NewStyle().Bold(true).Foreground(AssistantLabel)
	t.SystemLabel = lipgloss.NewStyle().Bold(true).Foreground(SystemLabel)
	t.TurnBody = lipgloss.NewStyle().Foreground(TextPrimary).PaddingLeft(2)
	t.ErrorMarker = lipgloss.NewStyle().Foreground(Rose).PaddingLeft(2)
	t.Cancelled = lipgloss.NewStyle().Foreground(Amber).Italic(true)
	t.EmptyHint = lipgloss.NewStyle().Foreground(TextMuted).Italic(true).Padding(1, 2)

	t.InputBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay)
	t.Placeholder = lipgloss.NewStyle().Foreground(TextMuted)

	t.StatusBar = lipgloss.NewStyle().Foreground(TextSecondary).Background(SurfaceDim)
	t.StatusPending = lipgloss.NewStyle().Bold(true).Foreground(Amber)
	t.StatusReady = lipgloss.NewStyle().Bold(true).Foreground(Emerald)
	t.ShortcutKey = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.ShortcutDesc = lipgloss.NewStyle().Foreground(TextMuted)

	t.Spinner = lipgloss.NewStyle().Foreground(Purple)
}
