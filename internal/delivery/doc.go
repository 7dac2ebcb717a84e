// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package delivery carries launch input from a follower process to the
// owner.
//
// The owner runs a Server on a loopback port and advertises its address
// and a per-run bearer token through the instance package. A follower
// resolves that endpoint and makes one POST with its payload. Delivery is
// fire-and-forget: no queue, no retry, no reply body the follower acts on.
//
// Endpoints:
//   - POST /deliver - payload in the body; empty payload only activates
//   - GET  /health  - liveness, behind the same auth
//
// Every request passes through the middleware chain:
//
//	Recovery -> Logging -> Auth -> RateLimit -> BodyLimit -> handler
package delivery
