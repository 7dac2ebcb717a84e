// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides the leveled loggers used across llmchat.
//
// The TUI owns stdout, so everything is written to a log file in the state
// directory. --verbose mirrors the file to stderr. The standard library's
// default logger is redirected as well, since request middleware logs
// through log.Printf.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the log file inside the state directory.
const FileName = "llmchat.log"

const flags = log.LstdFlags | log.Lshortfile

var (
	Info  = log.New(os.Stderr, "[INFO]\t", flags)
	Warn  = log.New(os.Stderr, "[WARN]\t", flags)
	Error = log.New(os.Stderr, "[ERROR]\t", flags)

	mu      sync.Mutex
	current io.Closer
)

// Setup points every logger at <dir>/llmchat.log. When verbose is set the
// output is also copied to stderr. The returned func closes the file.
func Setup(dir string, verbose bool) (func(), error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return func() {}, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return func() {}, fmt.Errorf("failed to open log file: %w", err)
	}

	var w io.Writer = f
	if verbose {
		w = io.MultiWriter(f, os.Stderr)
	}
	SetOutput(w)

	mu.Lock()
	current = f
	mu.Unlock()

	return func() {
		mu.Lock()
		defer mu.Unlock()
		if current == f {
			SetOutput(os.Stderr)
			current = nil
		}
		f.Close()
	}, nil
}

// SetOutput redirects all loggers, including the standard logger.
func SetOutput(w io.Writer) {
	Info.SetOutput(w)
	Warn.SetOutput(w)
	Error.SetOutput(w)
	log.SetOutput(w)
}

// Discard silences all logging. Used by tests and the config subcommand.
func Discard() {
	SetOutput(io.Discard)
}
