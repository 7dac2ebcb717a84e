// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/llmchat/internal/engine"
	"github.com/jeranaias/llmchat/internal/export"
	"github.com/jeranaias/llmchat/internal/model"
)

// =============================================================================
// MESSAGES
// =============================================================================

// EngineEventMsg relays an engine change notification.
type EngineEventMsg struct {
	Event engine.Event
}

// ActivateMsg is sent when another launch asks this one to come forward.
type ActivateMsg struct{}

// transcriptMsg carries a fresh snapshot.
type transcriptMsg struct {
	transcript model.Transcript
	pending    bool
	modelName  string
}

// actionResultMsg reports the outcome of a submit or clear.
type actionResultMsg struct {
	action string
	err    error
}

var errStreaming = errors.New("a reply is streaming")

// exportResultMsg reports where an export was written.
type exportResultMsg struct {
	path string
	err  error
}

// =============================================================================
// COMMANDS
// =============================================================================

// Conversation is the part of the engine the screen drives.
type Conversation interface {
	SubmitTurn(text string) error
	Clear() error
	Cancel()
	IsPending() bool
	Snapshot() model.Transcript
}

func refreshCmd(conv Conversation, modelName func() string) tea.Cmd {
	return func() tea.Msg {
		msg := transcriptMsg{
			transcript: conv.Snapshot(),
			pending:    conv.IsPending(),
		}
		if modelName != nil {
			msg.modelName = modelName()
		}
		return msg
	}
}

func submitCmd(conv Conversation, text string) tea.Cmd {
	return func() tea.Msg {
		return actionResultMsg{action: "submit", err: conv.SubmitTurn(text)}
	}
}

// clearCmd refuses to clear during a cycle. A delivery can start one
// between the check and the call, so a rejected clear is recovered too.
func clearCmd(conv Conversation) tea.Cmd {
	return func() (msg tea.Msg) {
		if conv.IsPending() {
			return actionResultMsg{action: "clear", err: errStreaming}
		}
		defer func() {
			if r := recover(); r != nil {
				msg = actionResultMsg{action: "clear", err: errStreaming}
			}
		}()
		return actionResultMsg{action: "clear", err: conv.Clear()}
	}
}

func cancelCmd(conv Conversation) tea.Cmd {
	return func() tea.Msg {
		conv.Cancel()
		return nil
	}
}

func exportCmd(turns model.Transcript, modelName, dir string) tea.Cmd {
	return func() tea.Msg {
		opts := export.DefaultOptions()
		if dir != "" {
			opts.OutputDir = dir
		}
		path, err := export.ExportToFile(export.NewConversation(turns, modelName), export.NewMarkdownExporter(opts), opts)
		return exportResultMsg{path: path, err: err}
	}
}
