// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine owns the conversation transcript and runs one
// request/response cycle per user turn.
//
// # Concurrency Model
//
// The Engine is a mailbox: a single owner goroutine drains one inbox
// channel and is the only code that touches the transcript. Each event
// source posts a message to that inbox:
//   - interactive submissions and forwarded deliveries (SubmitTurn)
//   - clearing and cancellation (Clear, Cancel)
//   - settings changes (UpdateSettings)
//   - streamed fragments and stream completion, posted by the worker
//     goroutine that runs the completion request
//
// The transcript needs no locks because of this. Fragments are applied in
// the order the worker read them off the wire.
//
// # Persistence
//
// The store is written once per finished cycle (success, error or user
// cancellation) and on Clear, never per fragment. A cycle cut short by
// Close is discarded without a write.
package engine
