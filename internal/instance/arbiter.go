// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package instance

import (
	"errors"
)

// DefaultName is the lease name used when none is configured.
const DefaultName = "llmchat"

// Role is the part a process plays after arbitration.
type Role int

const (
	// RoleOwner holds the lease and the conversation.
	RoleOwner Role = iota

	// RoleFollower forwards its input to the owner and exits.
	RoleFollower
)

// String returns the role name for logs.
func (r Role) String() string {
	if r == RoleOwner {
		return "owner"
	}
	return "follower"
}

// Outcome is the result of arbitration. Lease is set only for owners and
// must be released on exit.
type Outcome struct {
	Role  Role
	Lease *Lease
}

// IsOwner reports whether this process won the lease.
func (o Outcome) IsOwner() bool {
	return o.Role == RoleOwner
}

// Arbiter decides ownership for one state directory and lease name.
type Arbiter struct {
	Dir  string
	Name string
}

// NewArbiter returns an Arbiter for dir, using DefaultName when name is empty.
func NewArbiter(dir, name string) Arbiter {
	if name == "" {
		name = DefaultName
	}
	return Arbiter{Dir: dir, Name: name}
}

// Arbitrate tries to take the lease. A lease already held elsewhere yields
// a follower outcome, not an error; only real failures (unwritable state
// directory, bad name) are returned.
func (a Arbiter) Arbitrate() (Outcome, error) {
	lease, err := AcquireLease(a.Dir, a.Name)
	switch {
	case err == nil:
		return Outcome{Role: RoleOwner, Lease: lease}, nil
	case errors.Is(err, ErrLeaseHeld):
		return Outcome{Role: RoleFollower}, nil
	default:
		return Outcome{}, err
	}
}
