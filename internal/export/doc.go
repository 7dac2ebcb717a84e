// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a transcript to a Markdown or JSON file.
//
// Exports are snapshots: they are taken from the engine's Snapshot and
// never touch the persisted transcript.
package export
