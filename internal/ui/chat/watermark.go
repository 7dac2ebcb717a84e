// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "math/rand"

// DefaultPlaceholder is shown when watermark suggestions are disabled.
const DefaultPlaceholder = "Type a message..."

// Suggestions are example prompts shown as the empty input's placeholder.
var Suggestions = []string{
	"写一首关于夏夜的诗",
	"将 'Good morning' 翻译成西班牙语",
	"解释什么是黑洞",
	"给我推荐一部科幻电影",
	"Write a haiku about a summer night",
	"Explain what a black hole is",
	"Recommend a science fiction film",
	"How do I get started with Go?",
}

// pickSuggestion returns a random suggestion, avoiding an immediate repeat
// of prev when there is a choice.
func pickSuggestion(rng *rand.Rand, prev string) string {
	if len(Suggestions) == 0 {
		return DefaultPlaceholder
	}
	s := Suggestions[rng.Intn(len(Suggestions))]
	if s == prev && len(Suggestions) > 1 {
		s = Suggestions[(rng.Intn(len(Suggestions)-1)+indexOf(prev)+1)%len(Suggestions)]
	}
	return s
}

func indexOf(s string) int {
	for i, v := range Suggestions {
		if v == s {
			return i
		}
	}
	return 0
}
