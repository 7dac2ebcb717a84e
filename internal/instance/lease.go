// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/jeranaias/llmchat/internal/logging"
)

var (
	// ErrLeaseHeld means another live process owns the lease.
	ErrLeaseHeld = errors.New("instance lease is held by another process")

	// ErrInvalidName is returned for lease names that are not plain file names.
	ErrInvalidName = errors.New("invalid instance name")

	// errLocked is what the platform lock reports on contention.
	errLocked = errors.New("file is locked")
)

// Lease is a held Instance Lease. The zero value is not usable.
type Lease struct {
	path string
	file *os.File
	once sync.Once
	err  error
}

// AcquireLease takes the lease for name in dir without blocking. It returns
// ErrLeaseHeld when another process holds it.
func AcquireLease(dir, name string) (*Lease, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	path := filepath.Join(dir, name+".lock")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lease file: %w", err)
	}

	if err := lockFile(f); err != nil {
		f.Close()
		if errors.Is(err, errLocked) {
			return nil, ErrLeaseHeld
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	// The PID is informational only; ownership is the lock itself.
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	logging.Info.Printf("instance lease acquired: %s", path)
	return &Lease{path: path, file: f}, nil
}

// Path returns the lock file path.
func (l *Lease) Path() string {
	return l.path
}

// Release unlocks and closes the lease file. It is safe to call more than
// once. The lock file itself is left in place: removing it would let two
// processes lock different inodes under the same name.
func (l *Lease) Release() error {
	l.once.Do(func() {
		unlockErr := unlockFile(l.file)
		closeErr := l.file.Close()
		l.err = errors.Join(unlockErr, closeErr)
		logging.Info.Printf("instance lease released: %s", l.path)
	})
	return l.err
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\:`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
