// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/llmchat/internal/logging"
	"github.com/jeranaias/llmchat/internal/model"
	"github.com/jeranaias/llmchat/internal/util"
)

// FileName is the JSON transcript file inside the state directory.
const FileName = "chathistory.json"

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps the transcript as a JSON array of {role, content}.
type FileStore struct {
	// Path is the transcript file.
	Path string
}

// NewFileStore creates a store backed by path. Nothing is read until Load.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the transcript. Missing or corrupt files load as empty.
func (s *FileStore) Load() model.Transcript {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn.Printf("transcript unreadable, starting empty: %v", err)
		}
		return model.Transcript{}
	}

	var turns model.Transcript
	if err := json.Unmarshal(data, &turns); err != nil {
		logging.Warn.Printf("transcript %s is corrupt, starting empty: %v", s.Path, err)
		quarantine(s.Path)
		return model.Transcript{}
	}
	return turns.Sanitize()
}

// Save writes the whole transcript atomically.
// RELIABILITY: atomic write with fsync, a crash leaves the previous transcript
func (s *FileStore) Save(turns model.Transcript) error {
	if turns == nil {
		turns = model.Transcript{}
	}
	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(s.Path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

// Close is a no-op; FileStore holds no open handles.
func (s *FileStore) Close() error {
	return nil
}
