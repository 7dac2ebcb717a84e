// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversation turns.
//
// # Key Types
//
//   - Role: author of a turn (user, assistant, system)
//   - Turn: one message with role and content
//   - Transcript: ordered sequence of turns, oldest first
//
// A Transcript is owned by exactly one goroutine (the conversation engine).
// Everything handed to renderers or storage is a Clone.
package model
