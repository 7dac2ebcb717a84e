// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns assistant turn content into terminal text.
//
// With markdown enabled the whole turn goes through glamour. Without it the
// text is shown as-is except for fenced code blocks, which are highlighted
// with chroma. Error markers are never rendered as markdown so brackets
// and status codes stay readable.
package render
