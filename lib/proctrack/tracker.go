// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proctrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/devproxy/lib/clock"
)

// NotFound is the root pid TryGetAuthRoot returns when no auth root is
// found.
const NotFound = -1

// eventBuffer absorbs bursts such as the initial seed without blocking
// the watcher on every send.
const eventBuffer = 1024

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Watcher supplies process events. Required.
	Watcher Watcher

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// RetryTimeout bounds how long one missing hop of an ancestry walk
	// is retried. Defaults to 10s.
	RetryTimeout time.Duration

	// RetryInterval is the pause between retries. Defaults to 100ms.
	RetryInterval time.Duration
}

// Tracker maintains the process table from a Watcher's events.
type Tracker struct {
	watcher       Watcher
	clock         clock.Clock
	logger        *slog.Logger
	retryTimeout  time.Duration
	retryInterval time.Duration

	table     Table
	ready     chan struct{}
	readyOnce sync.Once
}

// NewTracker creates a Tracker. Call Run to start consuming events.
func NewTracker(config TrackerConfig) (*Tracker, error) {
	if config.Watcher == nil {
		return nil, errors.New("process tracker requires a watcher")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RetryTimeout == 0 {
		config.RetryTimeout = 10 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = 100 * time.Millisecond
	}
	return &Tracker{
		watcher:       config.Watcher,
		clock:         config.Clock,
		logger:        config.Logger,
		retryTimeout:  config.RetryTimeout,
		retryInterval: config.RetryInterval,
		ready:         make(chan struct{}),
	}, nil
}

// Run starts the watcher and applies its events until ctx is cancelled
// or the watcher fails. It returns nil on cancellation.
func (t *Tracker) Run(ctx context.Context) error {
	events := make(chan Event, eventBuffer)
	group, groupContext := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := t.watcher.Watch(groupContext, events); err != nil {
			return fmt.Errorf("watching processes: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		for {
			select {
			case <-groupContext.Done():
				return nil
			case event := <-events:
				t.apply(event)
			}
		}
	})

	return group.Wait()
}

func (t *Tracker) apply(event Event) {
	switch event.Kind {
	case Created:
		t.table.Insert(NewProcess(event.PID, event.ParentPID))
	case Reparented:
		t.table.Reparent(event.PID, event.ParentPID)
	case Exited:
		t.table.Remove(event.PID)
	case Seeded:
		t.readyOnce.Do(func() {
			t.logger.Info("process table seeded", "processes", t.table.Len())
			close(t.ready)
		})
	}
}

// Ready is closed once every process running at startup is tracked.
func (t *Tracker) Ready() <-chan struct{} {
	return t.ready
}

// Table exposes the underlying table for inspection.
func (t *Tracker) Table() *Table {
	return &t.table
}

// TrySetAuthRoot marks pid as an auth root. It returns false if pid is
// not tracked yet; callers are expected to retry.
func (t *Tracker) TrySetAuthRoot(pid int) bool {
	if !t.table.SetAuthRoot(pid) {
		return false
	}
	t.logger.Info("auth root registered", "pid", pid)
	return true
}

// TryGetAuthRoot walks the ancestry of pid and returns the nearest
// ancestor (or pid itself) marked as an auth root. Each hop that is not
// tracked yet is retried until the retry timeout; a hop still missing
// then ends the walk. Pid 0 ends the walk, as does a cycle.
//
// Returns (NotFound, false) when no auth root is found or ctx is
// cancelled.
func (t *Tracker) TryGetAuthRoot(ctx context.Context, pid int) (int, bool) {
	visited := make(map[int]struct{})
	for current := pid; current != 0; {
		if _, seen := visited[current]; seen {
			t.logger.Warn("process ancestry cycle", "pid", pid, "repeated", current)
			return NotFound, false
		}
		visited[current] = struct{}{}

		process, ok := t.waitFor(ctx, current)
		if !ok {
			t.logger.Debug("ancestry walk ended at untracked process", "pid", pid, "missing", current)
			return NotFound, false
		}
		if process.IsAuthRoot() {
			return current, true
		}
		current = process.ParentPID()
	}
	return NotFound, false
}

// waitFor returns the tracked process for pid, retrying until the retry
// timeout elapses on the injected clock.
func (t *Tracker) waitFor(ctx context.Context, pid int) (*Process, bool) {
	deadline := t.clock.Now().Add(t.retryTimeout)
	for {
		if process, ok := t.table.Get(pid); ok {
			return process, true
		}
		if !t.clock.Now().Before(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-t.clock.After(t.retryInterval):
		}
	}
}
