// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud streams chat completions from an OpenAI-compatible API.
//
// One request is issued per conversation turn. The server-sent event body
// is decoded line by line and every content delta is handed to a callback
// as soon as it arrives.
//
// # Key Types
//
//   - Client: HTTP client for {baseURL}/chat/completions
//   - Request: endpoint, credentials, model and message history for one call
//   - Fragment: one piece of streamed output (content or a bracketed error)
//   - SSEReader: incremental reader for "data: " event lines
//
// # Error Reporting
//
// Failures are delivered twice: as a bracketed Fragment the conversation
// records verbatim, and as the Go error returned by Stream.
//
//   - Non-2xx status: Fatal fragment with status and body, *APIError
//   - Transport fault: Fatal fragment, *StreamError carrying partial content
//   - Malformed event JSON: DecodeError fragment, the stream continues
//
// # Usage
//
//	client := cloud.NewClient()
//	err := client.Stream(ctx, cloud.Request{
//	    BaseURL:  settings.BaseURL,
//	    APIKey:   settings.APIKey,
//	    Model:    settings.ModelName,
//	    Messages: cloud.MessagesFromTranscript(turns),
//	}, func(f cloud.Fragment) { fmt.Print(f.Text) })
//
// # Security
//
// API keys are never logged, and TLS 1.2 is the minimum accepted version.
package cloud
