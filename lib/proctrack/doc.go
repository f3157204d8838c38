// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package proctrack keeps a live table of the host's processes and
// their parents, and answers whether a process descends from an "auth
// root": a process a local user explicitly marked as trusted.
//
// A [Watcher] produces process lifecycle [Event]s. [ProcfsWatcher]
// polls /proc; tests supply their own. The [Tracker] runs the watcher
// on one goroutine that only sends events, and applies them to its
// [Table] on another, so OS events have a single writer. Lookups and
// auth-root marking run concurrently with that writer.
//
// Notifications lag process creation, so [Tracker.TryGetAuthRoot]
// retries each missing hop of the ancestry walk for a bounded time
// before giving up. Any auth-root ancestor is sufficient: trust covers
// the whole subtree below the marked process, with no depth limit.
package proctrack
