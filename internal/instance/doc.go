// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package instance decides which llmchat process owns the conversation.
//
// The first process to take the Instance Lease (an exclusive OS lock on
// <dir>/<name>.lock) becomes the owner. Every later launch is a follower:
// it looks up the owner's advertised endpoint, forwards its launch input
// and exits. The operating system drops the lock when the owner dies, so a
// crashed owner never blocks the next launch.
//
// # Files
//
//	<dir>/<name>.lock      lease, holds the owner's PID for diagnostics
//	<dir>/<name>.endpoint  JSON {addr, token, pid} written by the owner
package instance
