// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/llmchat/internal/logging"
	"github.com/jeranaias/llmchat/internal/model"
)

// Store is the durable transcript.
type Store interface {
	// Load returns the persisted transcript, or an empty one if nothing
	// usable is stored. It never returns nil.
	Load() model.Transcript

	// Save replaces the persisted transcript with turns.
	Save(turns model.Transcript) error

	// Close releases backend resources.
	Close() error
}

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Open creates the store selected by backend ("json" or "sqlite") in dir.
func Open(backend, dir string) (Store, error) {
	switch strings.ToLower(backend) {
	case "", "json":
		return NewFileStore(filepath.Join(dir, FileName)), nil
	case "sqlite":
		return NewSQLiteStore(filepath.Join(dir, DBFileName))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// quarantine moves an unreadable file aside so the next save does not
// destroy evidence of what went wrong.
func quarantine(path string) {
	dest := path + ".corrupt"
	if _, err := os.Stat(dest); err == nil {
		dest = fmt.Sprintf("%s.%d.corrupt", path, time.Now().Unix())
	}
	if err := os.Rename(path, dest); err != nil {
		logging.Warn.Printf("could not move corrupt transcript %s aside: %v", path, err)
		return
	}
	logging.Warn.Printf("corrupt transcript moved to %s", dest)
}
