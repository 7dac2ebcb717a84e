// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app wires the core together for one process launch.
//
// Run arbitrates for the instance lease. A follower forwards its launch
// input to the owner and returns. The owner loads settings, opens the
// transcript store, starts the engine and the delivery receiver,
// advertises its endpoint, submits its own launch input and then runs the
// interactive surface (or waits headless until cancelled).
//
// Shutdown undoes those steps in reverse order. It runs from a deferred
// call, so a panic in the surface still withdraws the endpoint and
// releases the lease.
package app
