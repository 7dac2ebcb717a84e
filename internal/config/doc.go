// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads, validates and persists llmchat session settings.
//
// # Key Types
//
//   - Settings: api key, base URL, model, start-hidden flag and sections
//   - Watcher: reloads settings when the file is edited externally
//
// # Configuration Precedence
//
// Settings are loaded from (in order of precedence):
//   - Environment variables (LLMCHAT_*, plus .env files via LoadDotEnv)
//   - <dir>/settings.toml
//   - <dir>/settings.json (format written by earlier releases)
//   - Built-in defaults
//
// A malformed or invalid file never stops startup. Load returns defaults
// together with an error describing what was wrong.
//
// # Usage
//
//	s, err := config.Load(dir)
//	if err != nil {
//	    logging.Warn.Printf("settings: %v", err)
//	}
//	_ = s.Set("model_name", "Qwen/Qwen2.5-72B-Instruct")
//	err = config.Save(dir, s)
package config
