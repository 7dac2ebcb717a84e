// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jeranaias/llmchat/internal/cloud"
	"github.com/jeranaias/llmchat/internal/config"
	"github.com/jeranaias/llmchat/internal/logging"
	"github.com/jeranaias/llmchat/internal/model"
	"github.com/jeranaias/llmchat/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmpty is returned by SubmitTurn for blank input.
	ErrEmpty = errors.New("empty input")

	// ErrPending is returned by SubmitTurn while a response is streaming.
	ErrPending = errors.New("a response is already pending")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine closed")

	errClearWhilePending = errors.New("engine: Clear called while a response is pending")
)

// CancelledMarker is appended to a turn the user cancelled.
const CancelledMarker = "[Cancelled]"

// inboxSize bounds how far event sources can run ahead of the owner loop.
const inboxSize = 64

// =============================================================================
// MAILBOX MESSAGES
// =============================================================================

type message interface{ isMessage() }

type submitMsg struct {
	text  string
	reply chan error
}

type clearMsg struct {
	reply chan error
}

type cancelMsg struct{}

type settingsMsg struct {
	settings config.Settings
}

type snapshotMsg struct {
	reply chan model.Transcript
}

type fragmentMsg struct {
	cycle string
	frag  cloud.Fragment
}

type completeMsg struct {
	cycle string
	err   error
}

func (submitMsg) isMessage()   {}
func (clearMsg) isMessage()    {}
func (cancelMsg) isMessage()   {}
func (settingsMsg) isMessage() {}
func (snapshotMsg) isMessage() {}
func (fragmentMsg) isMessage() {}
func (completeMsg) isMessage() {}

// cycle is the bookkeeping for one in-flight response.
type cycle struct {
	id            string
	index         int // position of the pending assistant turn
	cancel        context.CancelFunc
	userCancelled bool
	sawFatal      bool
}

// =============================================================================
// ENGINE
// =============================================================================

// Options configures a new Engine.
type Options struct {
	Store    storage.Store
	Streamer cloud.Streamer
	Settings config.Settings
}

// Engine owns the transcript. All methods are safe for concurrent use.
type Engine struct {
	store    storage.Store
	streamer cloud.Streamer

	inbox chan message
	quit  chan struct{}
	done  chan struct{}

	pending atomic.Bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	workers    sync.WaitGroup
	closeOnce  sync.Once

	subsMu  sync.Mutex
	subs    map[int]chan Event
	nextSub int

	// Owned by the run goroutine.
	transcript model.Transcript
	settings   config.Settings
	current    *cycle
	closing    bool
}

// New loads the persisted transcript and starts the owner loop.
func New(opts Options) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:      opts.Store,
		streamer:   opts.Streamer,
		inbox:      make(chan message, inboxSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		rootCtx:    ctx,
		rootCancel: cancel,
		subs:       make(map[int]chan Event),
		transcript: opts.Store.Load().Clone(),
		settings:   opts.Settings,
	}
	logging.Info.Printf("engine started with %d turns", e.transcript.Len())
	go e.run()
	return e
}

// SubmitTurn appends a user turn plus an empty assistant turn and starts a
// response cycle. It returns before any network I/O.
func (e *Engine) SubmitTurn(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmpty
	}
	reply := make(chan error, 1)
	if !e.post(submitMsg{text: text, reply: reply}) {
		return ErrClosed
	}
	return e.await(reply)
}

// Clear empties the transcript and persists the empty state. Calling Clear
// while a response is pending is a programming error and panics.
func (e *Engine) Clear() error {
	reply := make(chan error, 1)
	if !e.post(clearMsg{reply: reply}) {
		return ErrClosed
	}
	err := e.await(reply)
	if errors.Is(err, errClearWhilePending) {
		panic(err.Error())
	}
	return err
}

// IsPending reports whether a response cycle is in flight.
func (e *Engine) IsPending() bool {
	return e.pending.Load()
}

// Snapshot returns a deep copy of the transcript.
func (e *Engine) Snapshot() model.Transcript {
	reply := make(chan model.Transcript, 1)
	if !e.post(snapshotMsg{reply: reply}) {
		return e.transcript.Clone()
	}
	select {
	case t := <-reply:
		return t
	case <-e.done:
		return e.transcript.Clone()
	}
}

// UpdateSettings replaces the settings used by subsequent cycles. A cycle
// already in flight keeps the settings it started with.
func (e *Engine) UpdateSettings(s config.Settings) {
	e.post(settingsMsg{settings: s})
}

// Cancel stops the in-flight cycle, if any. The partial response is kept
// with a cancellation marker and persisted.
func (e *Engine) Cancel() {
	e.post(cancelMsg{})
}

// Close cancels any in-flight cycle without persisting it, waits for the
// worker and owner goroutines and closes subscriber channels.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
		<-e.done
		e.workers.Wait()

		e.subsMu.Lock()
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
		e.subsMu.Unlock()
		logging.Info.Printf("engine closed")
	})
}

// post hands msg to the owner loop. It reports false once the loop is gone.
func (e *Engine) post(msg message) bool {
	select {
	case e.inbox <- msg:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrClosed
	}
}

// =============================================================================
// OWNER LOOP
// =============================================================================

func (e *Engine) run() {
	defer close(e.done)

	quit := e.quit
	for {
		if e.closing && e.current == nil {
			return
		}
		select {
		case <-quit:
			quit = nil
			e.closing = true
			e.rootCancel()
		case msg := <-e.inbox:
			e.handle(msg)
		}
	}
}

func (e *Engine) handle(msg message) {
	switch m := msg.(type) {
	case submitMsg:
		m.reply <- e.handleSubmit(m.text)
	case clearMsg:
		m.reply <- e.handleClear()
	case cancelMsg:
		if e.current != nil {
			e.current.userCancelled = true
			e.current.cancel()
		}
	case settingsMsg:
		e.settings = m.settings
		e.publish(Event{Kind: EventSettingsChanged})
	case snapshotMsg:
		m.reply <- e.transcript.Clone()
	case fragmentMsg:
		e.handleFragment(m.cycle, m.frag)
	case completeMsg:
		e.handleComplete(m.cycle, m.err)
	}
}

func (e *Engine) handleSubmit(text string) error {
	if e.closing {
		return ErrClosed
	}
	if e.current != nil {
		return ErrPending
	}

	e.transcript = append(e.transcript, model.NewUserTurn(text), model.NewAssistantTurn(""))
	e.publish(Event{Kind: EventChanged})
	e.startCycle()
	return nil
}

func (e *Engine) handleClear() error {
	if e.closing {
		return ErrClosed
	}
	if e.current != nil {
		return errClearWhilePending
	}
	e.transcript = model.Transcript{}
	e.persist()
	e.publish(Event{Kind: EventCleared})
	e.publish(Event{Kind: EventChanged})
	return nil
}

// =============================================================================
// RESPONSE CYCLE
// =============================================================================

// startCycle runs one request for the pending assistant turn at the end of
// the transcript.
func (e *Engine) startCycle() {
	index := e.transcript.Len() - 1
	history := e.transcript[:index].Clone()
	settings := e.settings

	if marker := configMarker(settings); marker != "" {
		logging.Warn.Printf("response not requested: %s", marker)
		e.transcript[index].Content = marker
		e.persist()
		e.publish(Event{Kind: EventChanged})
		return
	}

	ctx, cancel := context.WithCancel(e.rootCtx)
	c := &cycle{
		id:     uuid.NewString(),
		index:  index,
		cancel: cancel,
	}
	e.current = c
	e.setPending(true)

	req := cloud.Request{
		BaseURL:  settings.BaseURL,
		APIKey:   settings.APIKey,
		Model:    settings.ModelName,
		Messages: cloud.MessagesFromTranscript(history),
	}
	logging.Info.Printf("cycle %s started: model=%s history=%d", c.id, req.Model, len(req.Messages))

	e.workers.Add(1)
	go e.stream(ctx, c.id, req)
}

// configMarker returns the conversation marker for settings that cannot
// make a request, or "".
func configMarker(s config.Settings) string {
	switch {
	case strings.TrimSpace(s.APIKey) == "":
		return cloud.MsgMissingAPIKey
	case strings.TrimSpace(s.BaseURL) == "":
		return cloud.MsgMissingBaseURL
	default:
		return ""
	}
}

// stream is the worker goroutine. Every fragment and the final result go
// through the inbox so the owner loop applies them in order.
func (e *Engine) stream(ctx context.Context, id string, req cloud.Request) {
	defer e.workers.Done()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("streamer panic: %v", r)
			}
		}()
		err = e.streamer.Stream(ctx, req, func(f cloud.Fragment) {
			e.postFromWorker(fragmentMsg{cycle: id, frag: f})
		})
	}()
	e.postFromWorker(completeMsg{cycle: id, err: err})
}

// postFromWorker cannot block forever: the owner loop keeps draining the
// inbox until the current cycle has completed.
func (e *Engine) postFromWorker(msg message) {
	select {
	case e.inbox <- msg:
	case <-e.done:
	}
}

func (e *Engine) handleFragment(id string, f cloud.Fragment) {
	c := e.current
	if c == nil || c.id != id {
		return
	}
	turn := &e.transcript[c.index]
	if f.IsError() {
		logging.Warn.Printf("cycle %s: %s fragment: %s", id, f.Kind, f.Text)
	}
	if f.Kind == cloud.FragmentFatal {
		c.sawFatal = true
		appendMarker(turn, f.Text)
	} else {
		turn.Content += f.Text
	}
	e.publish(Event{Kind: EventChanged})
}

func (e *Engine) handleComplete(id string, err error) {
	c := e.current
	if c == nil || c.id != id {
		return
	}
	e.current = nil
	c.cancel()
	defer e.setPending(false)

	turn := &e.transcript[c.index]
	switch {
	case c.userCancelled:
		logging.Info.Printf("cycle %s cancelled by user", c.id)
		appendMarker(turn, CancelledMarker)

	case e.closing && errors.Is(err, context.Canceled):
		logging.Info.Printf("cycle %s abandoned at shutdown", c.id)
		return

	case err != nil:
		logging.Warn.Printf("cycle %s failed: %v", c.id, err)
		if !c.sawFatal {
			appendMarker(turn, fmt.Sprintf("[Error: %v]", err))
		}

	case turn.Content == "":
		logging.Info.Printf("cycle %s finished with no content", c.id)
		e.transcript = e.transcript[:c.index]
		e.publish(Event{Kind: EventChanged})
		return

	default:
		logging.Info.Printf("cycle %s finished: %d chars", c.id, len(turn.Content))
	}

	e.persist()
	e.publish(Event{Kind: EventChanged})
}

// appendMarker adds an error or status marker after any partial content.
func appendMarker(turn *model.Turn, marker string) {
	if turn.Content != "" && !strings.HasSuffix(turn.Content, "\n") {
		turn.Content += "\n"
	}
	turn.Content += marker
}

// persist writes the transcript. Failures are logged; the in-memory
// transcript stays authoritative.
func (e *Engine) persist() {
	if err := e.store.Save(e.transcript.Clone()); err != nil {
		logging.Error.Printf("saving transcript: %v", err)
	}
}

func (e *Engine) setPending(p bool) {
	if e.pending.Swap(p) != p {
		e.publish(Event{Kind: EventPendingChanged, Pending: p})
	}
}
