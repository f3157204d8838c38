// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proctrack

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/procfs"

	"github.com/bureau-foundation/devproxy/lib/clock"
)

// ProcfsWatcherConfig configures a ProcfsWatcher.
type ProcfsWatcherConfig struct {
	// ProcRoot is the procfs mount point. Defaults to /proc.
	ProcRoot string

	// Interval between scans. Defaults to 200ms.
	Interval time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ProcfsWatcher is a Watcher that scans /proc and reports the
// difference between consecutive scans. A process is identified by its
// pid and start time, so a reused pid produces Exited then Created.
// Processes that live for less than one interval may go unseen.
type ProcfsWatcher struct {
	fs       procfs.FS
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

type processKey struct {
	pid       int
	startTime uint64
}

type snapshot map[int]snapshotEntry

type snapshotEntry struct {
	key       processKey
	parentPID int
}

// NewProcfsWatcher opens the procfs mount and returns a watcher over it.
func NewProcfsWatcher(config ProcfsWatcherConfig) (*ProcfsWatcher, error) {
	if config.ProcRoot == "" {
		config.ProcRoot = procfs.DefaultMountPoint
	}
	if config.Interval == 0 {
		config.Interval = 200 * time.Millisecond
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	fs, err := procfs.NewFS(config.ProcRoot)
	if err != nil {
		return nil, fmt.Errorf("opening procfs at %s: %w", config.ProcRoot, err)
	}
	return &ProcfsWatcher{
		fs:       fs,
		interval: config.Interval,
		clock:    config.Clock,
		logger:   config.Logger,
	}, nil
}

// Watch implements Watcher.
func (w *ProcfsWatcher) Watch(ctx context.Context, events chan<- Event) error {
	previous, err := w.scan()
	if err != nil {
		return err
	}
	for _, entry := range previous.ordered() {
		if !send(ctx, events, Event{Kind: Created, PID: entry.key.pid, ParentPID: entry.parentPID}) {
			return nil
		}
	}
	if !send(ctx, events, Event{Kind: Seeded}) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.clock.After(w.interval):
		}

		current, err := w.scan()
		if err != nil {
			// Transient; keep the previous snapshot and try again.
			w.logger.Warn("process scan failed", "error", err)
			continue
		}
		for _, event := range diff(previous, current) {
			if !send(ctx, events, event) {
				return nil
			}
		}
		previous = current
	}
}

func (w *ProcfsWatcher) scan() (snapshot, error) {
	procs, err := w.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	result := make(snapshot, len(procs))
	for _, proc := range procs {
		stat, err := proc.Stat()
		if err != nil {
			// Exited between the listing and the read.
			continue
		}
		result[proc.PID] = snapshotEntry{
			key:       processKey{pid: proc.PID, startTime: stat.Starttime},
			parentPID: stat.PPID,
		}
	}
	return result, nil
}

// ordered returns the entries oldest first, so parents precede their
// children.
func (s snapshot) ordered() []snapshotEntry {
	entries := make([]snapshotEntry, 0, len(s))
	for _, entry := range s {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].key.startTime != entries[j].key.startTime {
			return entries[i].key.startTime < entries[j].key.startTime
		}
		return entries[i].key.pid < entries[j].key.pid
	})
	return entries
}

// diff reports exits before creations so a reused pid is removed before
// its new process is inserted. A surviving process whose parent changed
// is reported as Reparented.
func diff(previous, current snapshot) []Event {
	var events []Event
	for _, entry := range previous.ordered() {
		if now, ok := current[entry.key.pid]; !ok || now.key != entry.key {
			events = append(events, Event{Kind: Exited, PID: entry.key.pid})
		}
	}
	for _, entry := range current.ordered() {
		before, ok := previous[entry.key.pid]
		switch {
		case !ok || before.key != entry.key:
			events = append(events, Event{Kind: Created, PID: entry.key.pid, ParentPID: entry.parentPID})
		case before.parentPID != entry.parentPID:
			events = append(events, Event{Kind: Reparented, PID: entry.key.pid, ParentPID: entry.parentPID})
		}
	}
	return events
}

func send(ctx context.Context, events chan<- Event, event Event) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
