// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat is the full-screen terminal front-end of llmchat.

It is a Bubble Tea program that draws the owner's transcript and forwards
user actions to the conversation engine. It never mutates the transcript
itself.

# Engine Wiring

Update must not block, so every engine call (submit, clear, cancel,
snapshot) runs inside a tea.Cmd. A pump goroutine relays engine change
notifications and follower activations into the program with
Program.Send; each notification triggers a fresh Snapshot.

# Key Bindings

	enter       submit the input
	alt+enter   newline in the input
	esc         cancel the streaming response
	ctrl+l      clear the conversation (not while streaming)
	ctrl+e      export the conversation as Markdown
	pgup/pgdn   scroll
	ctrl+c      quit
*/
package chat
