// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the conversation transcript.
//
// # Key Types
//
//   - Store: load/save contract shared by all backends
//   - FileStore: chathistory.json, written atomically
//   - SQLiteStore: chathistory.db via the pure Go SQLite driver
//
// # Failure Policy
//
// Load never fails. A missing, unreadable or corrupt transcript is logged
// and loads as empty, and a corrupt file is moved aside with a ".corrupt"
// suffix so it can be inspected. Save returns errors for the caller to log.
//
// # Usage
//
//	store, err := storage.Open(settings.Storage.Backend, dir)
//	turns := store.Load()
//	err = store.Save(turns)
package storage
