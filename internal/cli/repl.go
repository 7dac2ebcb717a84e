// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/llmchat/internal/app"
	"github.com/jeranaias/llmchat/internal/config"
	"github.com/jeranaias/llmchat/internal/engine"
	"github.com/jeranaias/llmchat/internal/export"
	"github.com/jeranaias/llmchat/internal/logging"
	"github.com/jeranaias/llmchat/internal/model"
)

// HistoryFileName holds REPL input history inside the state directory.
const HistoryFileName = "input_history"

// ExportDirName holds exported conversations inside the state directory.
const ExportDirName = "exports"

// followPoll bounds how long the REPL waits between transcript checks when
// no change notification arrives.
const followPoll = 250 * time.Millisecond

// =============================================================================
// INTERFACES
// =============================================================================

// Conversation is the part of the engine the REPL drives.
type Conversation interface {
	SubmitTurn(text string) error
	Clear() error
	IsPending() bool
	Snapshot() model.Transcript
	Subscribe() (<-chan engine.Event, func())
}

// LineReader reads one line of input. *liner.State satisfies it.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// =============================================================================
// REPL
// =============================================================================

// REPL is the line-mode front-end.
type REPL struct {
	conv     Conversation
	reader   LineReader
	out      io.Writer
	settings func() *config.Settings

	// ExportDir receives /export files. Default: current directory.
	ExportDir string

	// SetSetting persists one edited setting for /set. Nil disables /set.
	SetSetting func(key, value string) error

	// shown counts turns printed in full; partial is how many bytes of
	// the turn after them have been printed.
	shown    int
	partial  int
	labelled bool
}

// NewREPL creates a REPL. settings may be nil.
func NewREPL(conv Conversation, reader LineReader, out io.Writer, settings func() *config.Settings) *REPL {
	return &REPL{conv: conv, reader: reader, out: out, settings: settings}
}

// Run reads input until /quit, end of input, or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	events, unsubscribe := r.conv.Subscribe()
	defer unsubscribe()

	fmt.Fprintln(r.out, welcomeStyle.Render("llmchat")+" "+infoStyle.Render("type /help for commands"))

	for {
		r.follow(ctx, events)
		if ctx.Err() != nil {
			return nil
		}

		input, err := r.reader.Prompt(promptStyle.Render("> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line := strings.TrimSpace(input)
		if line == "" {
			continue
		}
		r.reader.AppendHistory(input)

		if strings.HasPrefix(line, "/") {
			if quit := r.command(line); quit {
				return nil
			}
			continue
		}
		r.submit(input)
	}
}

func (r *REPL) submit(text string) {
	if err := r.conv.SubmitTurn(text); err != nil {
		fmt.Fprintln(r.out, warningStyle.Render("Not sent: "+err.Error()))
		return
	}
	// The user turn is already on screen as the prompt line.
	if snap := r.conv.Snapshot(); len(snap) > 0 {
		r.reset()
		r.shown = len(snap) - 1
	}
}

// command runs a slash command and reports whether to quit.
func (r *REPL) command(line string) bool {
	name := strings.ToLower(strings.Fields(line)[0])
	switch name {
	case "/quit", "/q", "/exit":
		return true
	case "/help", "/h":
		fmt.Fprintln(r.out, infoStyle.Render("/clear     clear the conversation"))
		fmt.Fprintln(r.out, infoStyle.Render("/export    write the conversation to a file (md or json)"))
		fmt.Fprintln(r.out, infoStyle.Render("/settings  print the effective settings"))
		fmt.Fprintln(r.out, infoStyle.Render("/set k v   change and save a setting (see 'llmchat config keys')"))
		fmt.Fprintln(r.out, infoStyle.Render("/quit      exit"))
	case "/clear", "/c":
		if r.conv.IsPending() {
			fmt.Fprintln(r.out, warningStyle.Render("Cannot clear while a reply is streaming."))
			return false
		}
		if err := r.conv.Clear(); err != nil {
			fmt.Fprintln(r.out, warningStyle.Render("Clear failed: "+err.Error()))
			return false
		}
		r.reset()
		fmt.Fprintln(r.out, infoStyle.Render("Conversation cleared."))
	case "/export":
		format := ""
		if fields := strings.Fields(line); len(fields) > 1 {
			format = fields[1]
		}
		r.export(format)
	case "/settings":
		if r.settings == nil {
			return false
		}
		fmt.Fprint(r.out, r.settings().String())
	case "/set":
		r.set(strings.Fields(line)[1:])
	default:
		fmt.Fprintln(r.out, warningStyle.Render("Unknown command "+name+"; try /help"))
	}
	return false
}

func (r *REPL) set(args []string) {
	if r.SetSetting == nil {
		fmt.Fprintln(r.out, warningStyle.Render("Settings cannot be changed here."))
		return
	}
	if len(args) < 2 {
		fmt.Fprintln(r.out, warningStyle.Render("Usage: /set <key> <value>"))
		return
	}
	key, value := args[0], strings.Join(args[1:], " ")
	if err := r.SetSetting(key, value); err != nil {
		fmt.Fprintln(r.out, warningStyle.Render("Not saved: "+err.Error()))
		return
	}
	fmt.Fprintln(r.out, infoStyle.Render("Saved "+key+"."))
}

func (r *REPL) export(format string) {
	opts := export.DefaultOptions()
	if r.ExportDir != "" {
		opts.OutputDir = r.ExportDir
	}
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		fmt.Fprintln(r.out, warningStyle.Render(err.Error()))
		return
	}
	modelName := ""
	if r.settings != nil {
		modelName = r.settings().ModelName
	}
	path, err := export.ExportToFile(export.NewConversation(r.conv.Snapshot(), modelName), exporter, opts)
	if err != nil {
		fmt.Fprintln(r.out, warningStyle.Render("Export failed: "+err.Error()))
		return
	}
	fmt.Fprintln(r.out, infoStyle.Render("Exported to "+path))
}

// follow prints transcript growth until no cycle is pending.
func (r *REPL) follow(ctx context.Context, events <-chan engine.Event) {
	for {
		pending := r.conv.IsPending()
		r.printNew()
		if !pending {
			return
		}
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-time.After(followPoll):
		}
	}
}

// printNew writes whatever part of the transcript has not been printed.
// Pending is read first: once it is false the snapshot is final.
func (r *REPL) printNew() {
	pending := r.conv.IsPending()
	snap := r.conv.Snapshot()
	if len(snap) < r.shown {
		r.reset()
	}

	for i := r.shown; i < len(snap); i++ {
		turn := snap[i]
		if r.partial > len(turn.Content) {
			r.partial = 0
		}
		if !r.labelled {
			fmt.Fprint(r.out, r.label(turn.Role))
			r.labelled = true
		}
		fmt.Fprint(r.out, turn.Content[r.partial:])

		if i == len(snap)-1 && pending && turn.Role == model.RoleAssistant {
			r.partial = len(turn.Content)
			return
		}
		fmt.Fprint(r.out, "\n\n")
		r.shown++
		r.partial = 0
		r.labelled = false
	}
}

func (r *REPL) reset() {
	r.shown, r.partial, r.labelled = 0, 0, false
}

func (r *REPL) label(role model.Role) string {
	if role == model.RoleUser {
		return userLabelStyle.Render(role.DisplayName()+":") + " "
	}
	return assistantLabelStyle.Render(role.DisplayName()+":") + " "
}

// =============================================================================
// SURFACE
// =============================================================================

// RunREPL is the line-mode app.Surface.
func RunREPL(ctx context.Context, o *app.Owner) error {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(true)

	historyPath := filepath.Join(o.Dir(), HistoryFileName)
	if f, err := os.Open(historyPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			line.WriteHistory(f)
			f.Close()
		} else {
			logging.Warn.Printf("saving input history: %v", err)
		}
		line.Close()
	}()

	go func() {
		for range o.Activations() {
			logging.Info.Printf("activation received")
		}
	}()

	repl := NewREPL(o.Engine(), line, os.Stdout, o.Settings)
	repl.ExportDir = filepath.Join(o.Dir(), ExportDirName)
	repl.SetSetting = o.SetSetting

	// liner cannot be interrupted, so a signal returns without waiting for
	// the prompt.
	done := make(chan error, 1)
	go func() { done <- repl.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}
