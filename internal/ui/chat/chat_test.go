// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/llmchat/internal/engine"
	"github.com/jeranaias/llmchat/internal/model"
	"github.com/jeranaias/llmchat/internal/ui/styles"
)

// fakeConversation records calls made by the screen.
type fakeConversation struct {
	mu         sync.Mutex
	submitted  []string
	clears     int
	cancels    int
	pending    bool
	transcript model.Transcript
	clearPanic bool
}

func (f *fakeConversation) SubmitTurn(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	f.transcript = append(f.transcript, model.NewUserTurn(text), model.NewAssistantTurn(""))
	f.pending = true
	return nil
}

func (f *fakeConversation) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearPanic {
		panic("clear while pending")
	}
	f.clears++
	f.transcript = nil
	return nil
}

func (f *fakeConversation) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeConversation) IsPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

func (f *fakeConversation) Snapshot() model.Transcript {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transcript.Clone()
}

func newTestModel(t *testing.T, conv Conversation) Model {
	t.Helper()
	m := New(Options{
		Conversation: conv,
		Theme:        styles.NewPlainTheme(),
		ModelName:    func() string { return "test-model" },
	})
	return update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func updateCmd(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeText(t *testing.T, m Model, s string) Model {
	t.Helper()
	return update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

var enter = tea.KeyMsg{Type: tea.KeyEnter}

// =============================================================================
// INPUT TESTS
// =============================================================================

func TestSubmit_SendsInputAndClearsBox(t *testing.T) {
	conv := &fakeConversation{}
	m := typeText(t, newTestModel(t, conv), "hi")
	require.Equal(t, "hi", m.Input())

	m, cmd := updateCmd(t, m, enter)
	require.NotNil(t, cmd)
	assert.Empty(t, m.Input())

	msg := cmd()
	assert.Equal(t, []string{"hi"}, conv.submitted)

	m, cmd = updateCmd(t, m, msg)
	require.NotNil(t, cmd, "a submit result refreshes the transcript")
	m = update(t, m, cmd())
	assert.Len(t, m.Transcript(), 2)
	assert.Contains(t, m.View(), "hi")
}

func TestSubmit_BlankInputIgnored(t *testing.T) {
	conv := &fakeConversation{}
	m := typeText(t, newTestModel(t, conv), "   ")

	_, cmd := updateCmd(t, m, enter)
	assert.Nil(t, cmd)
	assert.Empty(t, conv.submitted)
}

func TestSubmit_RefusedWhilePending(t *testing.T) {
	conv := &fakeConversation{}
	m := newTestModel(t, conv)
	m = update(t, m, transcriptMsg{pending: true})
	m = typeText(t, m, "again")

	m, cmd := updateCmd(t, m, enter)
	assert.Nil(t, cmd)
	assert.Equal(t, "again", m.Input(), "input is kept for later")
	assert.Contains(t, m.Status(), "Wait")
}

func TestCancel_OnlyWhilePending(t *testing.T) {
	conv := &fakeConversation{}
	m := newTestModel(t, conv)
	esc := tea.KeyMsg{Type: tea.KeyEsc}

	_, cmd := updateCmd(t, m, esc)
	assert.Nil(t, cmd)

	m = update(t, m, transcriptMsg{pending: true})
	_, cmd = updateCmd(t, m, esc)
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, 1, conv.cancels)
}

// =============================================================================
// CLEAR TESTS
// =============================================================================

func TestClear_BlockedWhilePending(t *testing.T) {
	conv := &fakeConversation{}
	m := newTestModel(t, conv)
	m = update(t, m, transcriptMsg{pending: true})

	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	assert.Nil(t, cmd)
	assert.Contains(t, m.Status(), "Cannot clear")
	assert.Zero(t, conv.clears)
}

func TestClear_WhenIdle(t *testing.T) {
	conv := &fakeConversation{transcript: model.Transcript{
		model.NewUserTurn("q"), model.NewAssistantTurn("a"),
	}}
	m := newTestModel(t, conv)

	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	require.NotNil(t, cmd)
	m = update(t, m, cmd())
	assert.Equal(t, 1, conv.clears)
	assert.Equal(t, "Conversation cleared", m.Status())
}

func TestClearCmd_RecoversRejectedClear(t *testing.T) {
	conv := &fakeConversation{clearPanic: true}
	msg := clearCmd(conv)()

	res, ok := msg.(actionResultMsg)
	require.True(t, ok)
	assert.ErrorIs(t, res.err, errStreaming)
}

// =============================================================================
// RENDERING TESTS
// =============================================================================

func TestView_ShowsTurnsAndMarkers(t *testing.T) {
	m := newTestModel(t, &fakeConversation{})
	m = update(t, m, transcriptMsg{
		transcript: model.Transcript{
			model.NewUserTurn("hello there"),
			model.NewAssistantTurn("partial answer\n[Cancelled]"),
		},
		modelName: "test-model",
	})

	view := m.View()
	assert.Contains(t, view, "llmchat")
	assert.Contains(t, view, "test-model")
	assert.Contains(t, view, "hello there")
	assert.Contains(t, view, "partial answer")
	assert.Contains(t, view, "[Cancelled]")
}

func TestView_EmptyTranscriptHint(t *testing.T) {
	m := newTestModel(t, &fakeConversation{})
	assert.Contains(t, m.View(), "Start a conversation")
}

func TestView_LoadingBeforeSize(t *testing.T) {
	m := New(Options{Conversation: &fakeConversation{}, Theme: styles.NewPlainTheme()})
	assert.Equal(t, "Loading...", m.View())
}

func TestSplitMarkers(t *testing.T) {
	tests := []struct {
		name    string
		content string
		body    string
		markers []string
	}{
		{"plain", "just text", "just text", nil},
		{"cancelled", "par\n[Cancelled]", "par", []string{"[Cancelled]"}},
		{"error", "half\n[Error: boom]", "half", []string{"[Error: boom]"}},
		{"marker only", "[Error: API request failed]", "", []string{"[Error: API request failed]"}},
		{"inline decode marker kept", "a[Error parsing JSON delta: x]b", "a[Error parsing JSON delta: x]b", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, markers := splitMarkers(tt.content)
			assert.Equal(t, tt.body, body)
			assert.Equal(t, tt.markers, markers)
		})
	}
}

// =============================================================================
// ENGINE WIRING TESTS
// =============================================================================

func TestEngineEvent_Refreshes(t *testing.T) {
	conv := &fakeConversation{transcript: model.Transcript{model.NewUserTurn("from elsewhere")}}
	m := newTestModel(t, conv)

	m, cmd := updateCmd(t, m, EngineEventMsg{Event: engine.Event{Kind: engine.EventChanged}})
	require.NotNil(t, cmd)
	m = update(t, m, cmd())
	require.Len(t, m.Transcript(), 1)
	assert.Contains(t, m.View(), "from elsewhere")
}

func TestActivate_SetsStatus(t *testing.T) {
	m := newTestModel(t, &fakeConversation{})
	m = update(t, m, ActivateMsg{})
	assert.Equal(t, "Brought to front", m.Status())
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (r *recordingSender) Send(msg tea.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestPump_RelaysUntilEventsClose(t *testing.T) {
	events := make(chan engine.Event, 1)
	activations := make(chan struct{}, 1)
	s := &recordingSender{}

	done := make(chan struct{})
	go func() {
		Pump(context.Background(), s, events, activations)
		close(done)
	}()

	events <- engine.Event{Kind: engine.EventCleared}
	activations <- struct{}{}
	require.Eventually(t, func() bool { return s.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	close(events)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pump did not return after events closed")
	}
}

func TestExport_WritesMarkdown(t *testing.T) {
	dir := t.TempDir()
	m := New(Options{
		Conversation: &fakeConversation{},
		Theme:        styles.NewPlainTheme(),
		ExportDir:    dir,
	})
	m = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m = update(t, m, transcriptMsg{transcript: model.Transcript{
		model.NewUserTurn("q"), model.NewAssistantTurn("a"),
	}})

	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlE})
	require.NotNil(t, cmd)
	m = update(t, m, cmd())
	assert.Contains(t, m.Status(), "Exported to "+dir)
}

func TestExport_EmptyReportsError(t *testing.T) {
	m := New(Options{Conversation: &fakeConversation{}, Theme: styles.NewPlainTheme(), ExportDir: t.TempDir()})
	m = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})

	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlE})
	require.NotNil(t, cmd)
	m = update(t, m, cmd())
	assert.Contains(t, m.Status(), "export failed")
}

// =============================================================================
// WATERMARK TESTS
// =============================================================================

func TestPlaceholder_Watermark(t *testing.T) {
	m := New(Options{Conversation: &fakeConversation{}, Theme: styles.NewPlainTheme(), Watermark: true})
	assert.Contains(t, Suggestions, m.Placeholder())

	m = New(Options{Conversation: &fakeConversation{}, Theme: styles.NewPlainTheme()})
	assert.Equal(t, DefaultPlaceholder, m.Placeholder())
}

func TestPlaceholder_ChangesAfterSubmit(t *testing.T) {
	m := New(Options{Conversation: &fakeConversation{}, Theme: styles.NewPlainTheme(), Watermark: true})
	m = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	before := m.Placeholder()

	m = typeText(t, m, "x")
	m = update(t, m, enter)
	assert.NotEqual(t, before, m.Placeholder())
	assert.Contains(t, Suggestions, m.Placeholder())
}
