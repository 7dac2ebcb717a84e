// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxLineSize is the largest single event line accepted (1MB). Longer lines
// are reported as decode errors and skipped.
const MaxLineSize = 1024 * 1024

// doneSentinel terminates the event stream.
const doneSentinel = "[DONE]"

// =============================================================================
// STREAMING TYPES
// =============================================================================

// FragmentKind classifies a Fragment.
type FragmentKind int

const (
	// FragmentContent is model output.
	FragmentContent FragmentKind = iota

	// FragmentDecodeError marks one unparseable event. The stream continues.
	FragmentDecodeError

	// FragmentFatal marks a failure that ended the stream.
	FragmentFatal
)

// String returns a short name for logs.
func (k FragmentKind) String() string {
	switch k {
	case FragmentContent:
		return "content"
	case FragmentDecodeError:
		return "decode_error"
	case FragmentFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Fragment is one incremental piece of the assistant's response. Error
// fragments carry a bracketed marker meant to be shown in the conversation.
type Fragment struct {
	Kind FragmentKind
	Text string
}

// IsError reports whether the fragment is an error marker.
func (f Fragment) IsError() bool {
	return f.Kind != FragmentContent
}

// StreamError is a transport failure after the response started,
// preserving any content received before it.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// transportMarker renders a transport fault for the conversation.
func transportMarker(err error) string {
	return fmt.Sprintf("[Error: request failed: %v]", err)
}

// decodeMarker renders a per-line parse failure for the conversation.
func decodeMarker(err error) string {
	return fmt.Sprintf("[Error parsing JSON delta: %v]", err)
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader yields the payload of each "data:" line as it arrives.
//
// Completion APIs send one JSON object per data line, so lines are not
// grouped into multi-line events; each is handled on its own. Comments,
// "event:" and "id:" fields are skipped.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader creates a new SSE reader from an io.Reader. At most
// MaxLineSize bytes of a line are buffered.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReaderSize(r, MaxLineSize+2),
	}
}

// ErrLineTooLong is returned for a data line longer than MaxLineSize.
var ErrLineTooLong = fmt.Errorf("event line exceeds %d bytes", MaxLineSize)

// Next returns the next data payload with surrounding whitespace trimmed.
// It returns io.EOF at the end of the body. ErrLineTooLong is not fatal;
// the rest of the oversized line is discarded and the caller may keep
// reading.
func (s *SSEReader) Next() ([]byte, error) {
	for {
		line, err := s.reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			s.discardLine()
			return nil, ErrLineTooLong
		}
		if len(line) == 0 && err != nil {
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if data, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			return bytes.Clone(bytes.TrimSpace(data)), nil
		}

		// A final line without a newline is handled above; after it, stop.
		if err != nil {
			return nil, err
		}
	}
}

// discardLine skips through the next newline without buffering the line.
func (s *SSEReader) discardLine() {
	for {
		_, err := s.reader.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return
		}
	}
}

// =============================================================================
// DELTA EXTRACTION
// =============================================================================

// extractDelta returns choices[0].delta.content. Events without that path
// (role announcements, finish reasons, usage reports) yield "".
func extractDelta(data []byte) (string, error) {
	var event any
	if err := json.Unmarshal(data, &event); err != nil {
		return "", err
	}

	root, ok := event.(map[string]any)
	if !ok {
		return "", nil
	}
	choices, ok := root["choices"].([]any)
	if !ok || len(choices) == 0 {
		return "", nil
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", nil
	}
	delta, ok := choice["delta"].(map[string]any)
	if !ok {
		return "", nil
	}
	content, _ := delta["content"].(string)
	return content, nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// Stream performs one streaming completion request. emit is called on the
// calling goroutine, in wire order, for every content delta and error marker.
//
// Stream returns nil when the stream ends with [DONE] or a clean EOF,
// ctx.Err() when cancelled (no fragment is emitted for cancellation),
// *APIError for a non-success status and *StreamError for a transport fault.
func (c *Client) Stream(ctx context.Context, req Request, emit func(Fragment)) error {
	if strings.TrimSpace(req.BaseURL) == "" {
		emit(Fragment{Kind: FragmentFatal, Text: MsgMissingBaseURL})
		return ErrNotConfigured
	}

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		emit(Fragment{Kind: FragmentFatal, Text: transportMarker(err)})
		return err
	}

	logRequest(httpReq)
	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		emit(Fragment{Kind: FragmentFatal, Text: transportMarker(err)})
		return &StreamError{Err: err}
	}
	defer resp.Body.Close()
	logResponse(resp, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := handleErrorResponse(resp)
		emit(Fragment{Kind: FragmentFatal, Text: apiErr.Marker()})
		return apiErr
	}

	return processStream(ctx, resp.Body, emit)
}

// processStream reads events until [DONE], EOF, cancellation or a fault.
func processStream(ctx context.Context, body io.Reader, emit func(Fragment)) error {
	reader := NewSSEReader(body)
	var partial strings.Builder

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, ErrLineTooLong) {
				emit(Fragment{Kind: FragmentDecodeError, Text: decodeMarker(err)})
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			emit(Fragment{Kind: FragmentFatal, Text: transportMarker(err)})
			return &StreamError{Partial: partial.String(), Err: err}
		}

		if len(data) == 0 {
			continue
		}
		if strings.EqualFold(string(data), doneSentinel) {
			return nil
		}

		content, err := extractDelta(data)
		if err != nil {
			emit(Fragment{Kind: FragmentDecodeError, Text: decodeMarker(err)})
			continue
		}
		if content == "" {
			continue
		}
		partial.WriteString(content)
		emit(Fragment{Kind: FragmentContent, Text: content})
	}
}
