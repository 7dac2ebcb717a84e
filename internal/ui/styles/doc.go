// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the colors and lipgloss styles of the llmchat TUI.
//
// Colors are lipgloss.AdaptiveColor values so they follow the terminal's
// light or dark background. NewTheme detects the color profile with
// termenv once at startup.
package styles
