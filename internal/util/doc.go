// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across llmchat.
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//
// String Utilities:
//   - TruncateWidth: display-width aware truncation for status lines
//   - FirstLine: first non-blank line of a block of text
//
// # Usage
//
//	// Persist state without ever exposing a half-written file
//	err := util.AtomicWriteFile(path, data, 0600)
package util
