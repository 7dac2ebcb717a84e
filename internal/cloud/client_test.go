// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/llmchat/internal/logging"
	"github.com/jeranaias/llmchat/internal/model"
)

func TestMain(m *testing.M) {
	logging.Discard()
	os.Exit(m.Run())
}

// collect gathers emitted fragments.
type collect struct {
	frags []Fragment
}

func (c *collect) emit(f Fragment) { c.frags = append(c.frags, f) }

func (c *collect) text() string {
	var b strings.Builder
	for _, f := range c.frags {
		b.WriteString(f.Text)
	}
	return b.String()
}

// sseServer serves body as an event stream.
func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func request(baseURL string) Request {
	return Request{
		BaseURL:  baseURL,
		APIKey:   "sk-test",
		Model:    "test-model",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}
}

// =============================================================================
// STREAM DECODING TESTS
// =============================================================================

func TestStream_ConcatenatesDeltas(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"B\"}}]}\n" +
		"data: [DONE]\n"
	srv := sseServer(t, body)

	var c collect
	err := NewClient().Stream(context.Background(), request(srv.URL), c.emit)
	require.NoError(t, err)
	assert.Equal(t, "AB", c.text())
	for _, f := range c.frags {
		assert.Equal(t, FragmentContent, f.Kind)
	}
}

func TestStream_IgnoresEventsWithoutContent(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
		": keep-alive comment\n\n" +
		"event: message\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"choices\":[]}\n\n" +
		"data: {\"usage\":{\"total_tokens\":3}}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":null}}]}\n\n" +
		"data: [1,2,3]\n\n" +
		"data: [DONE]\n\n"
	srv := sseServer(t, body)

	var c collect
	require.NoError(t, NewClient().Stream(context.Background(), request(srv.URL), c.emit))
	require.Len(t, c.frags, 1)
	assert.Equal(t, Fragment{Kind: FragmentContent, Text: "Hi"}, c.frags[0])
}

func TestStream_MalformedLineDoesNotAbort(t *testing.T) {
	body := "data: {not json\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n" +
		"data: [DONE]\n"
	srv := sseServer(t, body)

	var c collect
	require.NoError(t, NewClient().Stream(context.Background(), request(srv.URL), c.emit))
	require.Len(t, c.frags, 2)
	assert.Equal(t, FragmentDecodeError, c.frags[0].Kind)
	assert.True(t, strings.HasPrefix(c.frags[0].Text, "[Error parsing JSON delta: "))
	assert.True(t, strings.HasSuffix(c.frags[0].Text, "]"))
	assert.Equal(t, "ok", c.frags[1].Text)
}

func TestStream_StopsAtDone(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n" +
		"data: [done]\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n"
	srv := sseServer(t, body)

	var c collect
	require.NoError(t, NewClient().Stream(context.Background(), request(srv.URL), c.emit))
	assert.Equal(t, "x", c.text())
}

func TestStream_EOFWithoutDoneIsCompletion(t *testing.T) {
	srv := sseServer(t, "data: {\"choices\":[{\"delta\":{\"content\":\"tail\"}}]}")

	var c collect
	require.NoError(t, NewClient().Stream(context.Background(), request(srv.URL), c.emit))
	assert.Equal(t, "tail", c.text())
}

// =============================================================================
// ERROR PATH TESTS
// =============================================================================

func TestStream_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, "unauthorized")
	}))
	defer srv.Close()

	var c collect
	err := NewClient().Stream(context.Background(), request(srv.URL), c.emit)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Body)

	require.Len(t, c.frags, 1)
	assert.Equal(t, FragmentFatal, c.frags[0].Kind)
	assert.Equal(t, "[Error: API request failed with status code 401 (Unauthorized). Details: unauthorized]", c.frags[0].Text)
}

func TestStream_TransportFault(t *testing.T) {
	// Reserve a port, then close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	var c collect
	err = NewClient().Stream(context.Background(), request("http://"+addr), c.emit)

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	require.Len(t, c.frags, 1)
	assert.Equal(t, FragmentFatal, c.frags[0].Kind)
	assert.True(t, strings.HasPrefix(c.frags[0].Text, "[Error: request failed: "))
}

func TestStream_MidStreamFaultKeepsPartial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n")
		w.(http.Flusher).Flush()
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			conn.Close()
		}
	}))
	defer srv.Close()

	var c collect
	err := NewClient().Stream(context.Background(), request(srv.URL), c.emit)

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "par", streamErr.Partial)
	require.NotEmpty(t, c.frags)
	assert.Equal(t, "par", c.frags[0].Text)
	assert.Equal(t, FragmentFatal, c.frags[len(c.frags)-1].Kind)
}

func TestStream_MissingBaseURL(t *testing.T) {
	var c collect
	err := NewClient().Stream(context.Background(), request(""), c.emit)
	assert.ErrorIs(t, err, ErrNotConfigured)
	require.Len(t, c.frags, 1)
	assert.Equal(t, MsgMissingBaseURL, c.frags[0].Text)
}

func TestStream_CancelledContext(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	var c collect
	done := make(chan error, 1)
	go func() { done <- NewClient().Stream(ctx, request(srv.URL), c.emit) }()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stream did not return after cancellation")
	}
	for _, f := range c.frags {
		assert.False(t, f.IsError(), "cancellation must not emit error markers")
	}
}

// =============================================================================
// REQUEST SHAPE TESTS
// =============================================================================

func TestStream_RequestShape(t *testing.T) {
	var (
		gotPath   string
		gotAuth   string
		gotAccept string
		gotBody   chatRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	req := request(srv.URL + "/v1/")
	req.Messages = MessagesFromTranscript(model.Transcript{
		model.NewUserTurn("q"),
		model.NewAssistantTurn("a"),
		model.NewUserTurn("q2"),
	})

	var c collect
	require.NoError(t, NewClient().Stream(context.Background(), req, c.emit))

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Contains(t, gotAccept, "text/event-stream")
	assert.Contains(t, gotAccept, "application/json")
	assert.Equal(t, "test-model", gotBody.Model)
	assert.True(t, gotBody.Stream)
	assert.Equal(t, []ChatMessage{
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "a"},
		{Role: "user", Content: "q2"},
	}, gotBody.Messages)
}

func TestStream_NoAuthHeaderWithoutKey(t *testing.T) {
	var hadAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadAuth = r.Header["Authorization"]
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	req := request(srv.URL)
	req.APIKey = ""
	var c collect
	require.NoError(t, NewClient().Stream(context.Background(), req, c.emit))
	assert.False(t, hadAuth)
}

// =============================================================================
// SSE READER TESTS
// =============================================================================

func TestSSEReader_Lines(t *testing.T) {
	r := NewSSEReader(strings.NewReader("id: 1\r\ndata: one\r\n\r\ndata:two\n: comment\ndata: three"))

	var got []string
	for {
		data, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, string(data))
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestSSEReader_LineTooLongIsRecoverable(t *testing.T) {
	long := "data: " + strings.Repeat("x", MaxLineSize+1) + "\n"
	r := NewSSEReader(strings.NewReader(long + "data: next\n"))

	_, err := r.Next()
	assert.ErrorIs(t, err, ErrLineTooLong)
	data, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "next", string(data))
}

// repeatReader yields n copies of b.
type repeatReader struct {
	b byte
	n int
}

func (r *repeatReader) Read(p []byte) (int, error) {
	if r.n == 0 {
		return 0, io.EOF
	}
	if len(p) > r.n {
		p = p[:r.n]
	}
	for i := range p {
		p[i] = r.b
	}
	r.n -= len(p)
	return len(p), nil
}

func TestSSEReader_LineTooLongStaysBounded(t *testing.T) {
	const lineSize = 64 * MaxLineSize
	body := io.MultiReader(
		strings.NewReader("data: "),
		&repeatReader{b: 'x', n: lineSize},
		strings.NewReader("\ndata: next\n"),
	)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)

	r := NewSSEReader(body)
	_, err := r.Next()
	assert.ErrorIs(t, err, ErrLineTooLong)
	data, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "next", string(data))

	runtime.ReadMemStats(&after)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(8*MaxLineSize),
		"an oversized line is skipped without buffering it")
}

func TestClient_RequestLogsUseInfoLogger(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	t.Cleanup(logging.Discard)

	req := httptest.NewRequest(http.MethodPost, "https://api.example.com/v1/chat/completions", nil)
	logRequest(req)

	assert.Contains(t, buf.String(), "[INFO]")
	assert.Contains(t, buf.String(), "API Request: POST api.example.com/v1/chat/completions")
}

func TestFragmentKind_String(t *testing.T) {
	assert.Equal(t, "content", FragmentContent.String())
	assert.Equal(t, "decode_error", FragmentDecodeError.String())
	assert.Equal(t, "fatal", FragmentFatal.String())
}
