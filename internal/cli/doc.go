// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli is the command-line entry point of llmchat.
//
// A plain launch arbitrates for the instance lease. The owner shows the
// full-screen chat when stdin and stdout are terminals, a line-mode REPL
// when --plain is given or only stdin is a terminal, and runs headless
// otherwise. A follower forwards its arguments to the owner and exits.
//
// # Usage
//
//	llmchat [flags] [message ...]
//	llmchat config show
//	llmchat config keys
//	llmchat config get <key>
//	llmchat config set <key> <value>
//	llmchat config set-key
//
// The config commands edit settings.toml directly and never take the
// lease; a running owner picks the change up through its file watcher.
//
// # REPL Commands
//
//	/help       list commands
//	/clear      clear the conversation
//	/export     write the conversation to <state>/exports
//	/settings   print the effective settings
//	/quit       exit
package cli
