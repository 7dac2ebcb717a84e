// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether r is a role the completion API understands.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ParseRole normalizes a stored role name. Unknown names report false.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// =============================================================================
// TURN
// =============================================================================

// Turn is a single message in the conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewUserTurn creates a user turn.
func NewUserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// NewAssistantTurn creates an assistant turn.
func NewAssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is the ordered conversation history, oldest turn first.
type Transcript []Turn

// Len returns the number of turns.
func (t Transcript) Len() int {
	return len(t)
}

// Last returns a pointer to the newest turn, or nil when empty.
// The pointer aliases the transcript's backing array.
func (t Transcript) Last() *Turn {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// Clone returns an independent copy. Turn contents are strings, so a shallow
// element copy is enough.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return Transcript{}
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// Alternates reports whether the transcript is strictly user, assistant,
// user, assistant... starting with a user turn.
func (t Transcript) Alternates() bool {
	for i, turn := range t {
		want := RoleUser
		if i%2 == 1 {
			want = RoleAssistant
		}
		if turn.Role != want {
			return false
		}
	}
	return true
}

// Sanitize drops turns with an unknown role. Used on data read from disk.
func (t Transcript) Sanitize() Transcript {
	out := make(Transcript, 0, len(t))
	for _, turn := range t {
		if r, ok := ParseRole(string(turn.Role)); ok {
			turn.Role = r
			out = append(out, turn)
		}
	}
	return out
}
