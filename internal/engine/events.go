// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

// EventKind identifies a change notification.
type EventKind int

const (
	// EventChanged means the transcript changed. Re-read it with Snapshot.
	EventChanged EventKind = iota

	// EventPendingChanged means a cycle started or finished.
	EventPendingChanged

	// EventCleared means the transcript was emptied.
	EventCleared

	// EventSettingsChanged means new settings were applied.
	EventSettingsChanged
)

// String returns a short name for logs.
func (k EventKind) String() string {
	switch k {
	case EventChanged:
		return "changed"
	case EventPendingChanged:
		return "pending_changed"
	case EventCleared:
		return "cleared"
	case EventSettingsChanged:
		return "settings_changed"
	default:
		return "unknown"
	}
}

// Event is a change notification. Events carry no transcript data.
type Event struct {
	Kind    EventKind
	Pending bool // set for EventPendingChanged
}

// subscriberBuffer is how many events a subscriber may lag before
// notifications are dropped.
const subscriberBuffer = 64

// Subscribe returns a channel of change notifications and a function that
// unsubscribes. Slow subscribers miss events rather than stall the engine.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	e.subsMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subsMu.Unlock()

	unsubscribe := func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
	return ch, unsubscribe
}

func (e *Engine) publish(ev Event) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
