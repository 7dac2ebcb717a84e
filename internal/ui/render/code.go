// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
)

// =============================================================================
// FENCED CODE BLOCKS
// =============================================================================

// HighlightFences highlights ``` fenced blocks and leaves other lines as
// they are. An unclosed fence (common mid-stream) is highlighted up to the
// end of the text.
func HighlightFences(text, style string) string {
	lines := strings.Split(text, "\n")
	var result []string
	var codeLines []string
	var language string
	inCode := false

	flush := func() {
		result = append(result, Highlight(strings.Join(codeLines, "\n"), language, style))
		codeLines = nil
		language = ""
	}

	for _, line := range lines {
		fence := strings.HasPrefix(strings.TrimSpace(line), "```")
		switch {
		case fence && inCode:
			flush()
			inCode = false
		case fence:
			language = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "```"))
			inCode = true
		case inCode:
			codeLines = append(codeLines, line)
		default:
			result = append(result, line)
		}
	}
	if inCode && len(codeLines) > 0 {
		flush()
	}
	return strings.Join(result, "\n")
}

// =============================================================================
// SYNTAX HIGHLIGHTING
// =============================================================================

// Highlight colors code for a 256-color terminal. The lexer is picked by
// language name, then by content analysis. Failures return code unchanged.
func Highlight(code, language, style string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	s := chromaStyles.Get(style)
	if s == nil {
		s = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, s, iterator); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}
