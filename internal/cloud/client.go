// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/llmchat/internal/logging"
	"github.com/jeranaias/llmchat/internal/model"
)

// Configuration constants for the completion API.
const (
	// CompletionsPath is appended to the configured base URL.
	CompletionsPath = "/chat/completions"

	// MaxErrorBodySize bounds how much of an error response is quoted back.
	// SECURITY: prevents a hostile endpoint from exhausting memory.
	MaxErrorBodySize = 64 * 1024

	// DefaultUserAgent identifies llmchat to the API.
	DefaultUserAgent = "llmchat/1.0"
)

// User-visible markers for configuration problems. The conversation engine
// writes these without contacting the network.
const (
	MsgMissingAPIKey  = "[Error: API Key is not configured in settings.]"
	MsgMissingBaseURL = "[Error: Base URL is not configured in settings.]"
)

// sharedStreamingClient is used for every completion request.
// No overall timeout: a stream may legitimately run for minutes, and the
// request context carries cancellation.
// PERFORMANCE: connection pooling across turns.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// Error variables for common failures.
var (
	// ErrNotConfigured indicates the request has no base URL to send to.
	ErrNotConfigured = errors.New("completion endpoint not configured")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// APIError is a non-success HTTP response. No content was streamed.
type APIError struct {
	Status int
	Reason string
	Body   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed with status code %d (%s)", e.Status, e.Reason)
}

// Marker renders the error the way it is recorded in the conversation.
func (e *APIError) Marker() string {
	return fmt.Sprintf("[Error: API request failed with status code %d (%s). Details: %s]",
		e.Status, e.Reason, e.Body)
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatMessage represents a single message in the request history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesFromTranscript converts turns to the wire format.
func MessagesFromTranscript(turns model.Transcript) []ChatMessage {
	out := make([]ChatMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, ChatMessage{Role: string(t.Role), Content: t.Content})
	}
	return out
}

// chatRequest is the JSON body of a completion request.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// Request describes one completion call.
type Request struct {
	BaseURL  string
	APIKey   string
	Model    string
	Messages []ChatMessage
}

// endpoint joins the base URL and the completions path, tolerating a
// trailing slash on the base.
func (r Request) endpoint() string {
	return strings.TrimRight(r.BaseURL, "/") + CompletionsPath
}

// =============================================================================
// CLIENT
// =============================================================================

// Streamer is implemented by anything that can stream a completion.
// The conversation engine depends on this rather than on *Client.
type Streamer interface {
	Stream(ctx context.Context, req Request, emit func(Fragment)) error
}

// Client issues streaming completion requests.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the shared pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: sharedStreamingClient,
		userAgent:  DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newRequest builds the HTTP request for req.
func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	body, err := json.Marshal(chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, req.APIKey)
	return httpReq, nil
}

// setHeaders sets content negotiation and, when a key is configured, auth.
func (c *Client) setHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", c.userAgent)
}

// logRequest logs an API request without headers or body.
// SECURITY: headers carry the key and bodies carry the conversation.
func logRequest(req *http.Request) {
	logging.Info.Printf("API Request: %s %s%s", req.Method, req.URL.Host, req.URL.Path)
}

// logResponse logs the status and how long the headers took.
func logResponse(resp *http.Response, duration time.Duration) {
	logging.Info.Printf("API Response: %s (%v)", resp.Status, duration)
}

// handleErrorResponse reads a bounded error body and builds an APIError.
func handleErrorResponse(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
	return &APIError{
		Status: resp.StatusCode,
		Reason: http.StatusText(resp.StatusCode),
		Body:   strings.TrimSpace(string(body)),
	}
}
