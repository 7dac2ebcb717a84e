// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// IsTTY returns true if stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY returns true if stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Mode is the owner's interactive surface.
type Mode int

const (
	// ModeHeadless runs without a surface until signalled.
	ModeHeadless Mode = iota
	// ModeREPL is the line-mode prompt.
	ModeREPL
	// ModeTUI is the full-screen chat.
	ModeTUI
)

// String returns the mode name for logs.
func (m Mode) String() string {
	switch m {
	case ModeREPL:
		return "repl"
	case ModeTUI:
		return "tui"
	default:
		return "headless"
	}
}

// SelectMode picks a surface from the terminal state.
func SelectMode(stdinTTY, stdoutTTY, plain bool) Mode {
	switch {
	case !stdinTTY:
		return ModeHeadless
	case plain || !stdoutTTY:
		return ModeREPL
	default:
		return ModeTUI
	}
}

// ColorProfile returns Ascii when colors are unwanted. NO_COLOR wins.
func ColorProfile(plain bool) termenv.Profile {
	if plain || os.Getenv("NO_COLOR") != "" || !IsStdoutTTY() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
