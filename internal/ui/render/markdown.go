// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/llmchat/internal/logging"
)

// MinWidth is the narrowest wrap width used.
const MinWidth = 20

// Renderer renders turn content at a given width. It is safe for
// concurrent use.
type Renderer struct {
	markdown    bool
	glamourName string
	chromaName  string

	mu    sync.Mutex
	width int
	term  *glamour.TermRenderer
}

// New creates a renderer. glamourStyle and chromaStyle are standard style
// names (see styles.Theme).
func New(markdown bool, glamourStyle, chromaStyle string) *Renderer {
	return &Renderer{
		markdown:    markdown,
		glamourName: glamourStyle,
		chromaName:  chromaStyle,
		width:       80,
	}
}

// SetMarkdown switches markdown rendering on or off.
func (r *Renderer) SetMarkdown(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markdown = on
}

// SetWidth changes the wrap width. The glamour renderer is rebuilt lazily.
func (r *Renderer) SetWidth(width int) {
	if width < MinWidth {
		width = MinWidth
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if width != r.width {
		r.width = width
		r.term = nil
	}
}

// Render returns content ready for display. Rendering failures fall back to
// the plain path.
func (r *Renderer) Render(content string) string {
	if content == "" {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.markdown {
		return HighlightFences(content, r.chromaName)
	}

	term, err := r.termRenderer()
	if err != nil {
		logging.Warn.Printf("markdown renderer unavailable: %v", err)
		return HighlightFences(content, r.chromaName)
	}
	out, err := term.Render(content)
	if err != nil {
		return HighlightFences(content, r.chromaName)
	}
	return strings.Trim(out, "\n")
}

func (r *Renderer) termRenderer() (*glamour.TermRenderer, error) {
	if r.term != nil {
		return r.term, nil
	}
	term, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.glamourName),
		glamour.WithWordWrap(r.width),
	)
	if err != nil {
		return nil, err
	}
	r.term = term
	return term, nil
}
