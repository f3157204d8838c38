// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proctrack

import "context"

// EventKind distinguishes process lifecycle events.
type EventKind int

const (
	// Created reports a new process, or one already running when the
	// watcher started.
	Created EventKind = iota

	// Exited reports that a process is gone.
	Exited

	// Seeded is sent once, after the Created events for every process
	// that was running when the watcher started.
	Seeded

	// Reparented reports a new parent for a running process, typically
	// init or a subreaper after the original parent exited.
	Reparented
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Exited:
		return "exited"
	case Seeded:
		return "seeded"
	case Reparented:
		return "reparented"
	default:
		return "unknown"
	}
}

// Event is one process lifecycle notification. PID and ParentPID are
// zero for Seeded.
type Event struct {
	Kind      EventKind
	PID       int
	ParentPID int
}

// Watcher streams process events. Watch sends a Created event for every
// running process, then Seeded, then Created, Reparented and Exited
// events as they happen, until ctx is cancelled. It returns nil on cancellation.
type Watcher interface {
	Watch(ctx context.Context, events chan<- Event) error
}
