// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package instance

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jeranaias/llmchat/internal/util"
)

// ErrOwnerNotFound means no usable owner endpoint is advertised.
var ErrOwnerNotFound = errors.New("no owner endpoint advertised")

// Endpoint is where the owner's delivery receiver listens.
type Endpoint struct {
	Addr  string `json:"addr"`
	Token string `json:"token"`
	PID   int    `json:"pid"`
}

// URL returns the http URL for path on this endpoint.
func (e Endpoint) URL(path string) string {
	return "http://" + e.Addr + path
}

// EndpointPath returns the advertisement file for name in dir.
func EndpointPath(dir, name string) string {
	return filepath.Join(dir, name+".endpoint")
}

// Advertise publishes ep for followers. The file holds the bearer token, so
// it is written atomically with owner-only permissions.
func Advertise(dir, name string, ep Endpoint) error {
	if err := validateName(name); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ep, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding endpoint: %w", err)
	}
	if err := util.AtomicWriteFile(EndpointPath(dir, name), data, 0o600); err != nil {
		return fmt.Errorf("advertising endpoint: %w", err)
	}
	return nil
}

// Resolve reads the owner's endpoint. A missing, unreadable or malformed
// file yields ErrOwnerNotFound.
func Resolve(dir, name string) (Endpoint, error) {
	if err := validateName(name); err != nil {
		return Endpoint{}, err
	}
	data, err := os.ReadFile(EndpointPath(dir, name))
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrOwnerNotFound, err)
	}

	var ep Endpoint
	if err := json.Unmarshal(data, &ep); err != nil {
		return Endpoint{}, fmt.Errorf("%w: malformed endpoint file: %v", ErrOwnerNotFound, err)
	}
	if ep.Addr == "" || ep.Token == "" {
		return Endpoint{}, fmt.Errorf("%w: incomplete endpoint file", ErrOwnerNotFound)
	}
	return ep, nil
}

// Withdraw removes the advertisement. A missing file is not an error.
func Withdraw(dir, name string) error {
	err := os.Remove(EndpointPath(dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("withdrawing endpoint: %w", err)
	}
	return nil
}
