// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proctrack

import (
	"sync"
	"sync/atomic"
)

// Process is one tracked process. Its parent follows the kernel: when
// the parent exits the process is reparented and the table is told.
type Process struct {
	PID int

	parentPID atomic.Int64
	authRoot  atomic.Bool
}

// NewProcess returns an untrusted process with the given parent.
func NewProcess(pid, parentPID int) *Process {
	process := &Process{PID: pid}
	process.parentPID.Store(int64(parentPID))
	return process
}

// ParentPID returns the current parent process id.
func (p *Process) ParentPID() int {
	return int(p.parentPID.Load())
}

// IsAuthRoot reports whether the process has been marked trusted.
func (p *Process) IsAuthRoot() bool {
	return p.authRoot.Load()
}

// Table maps process ids to tracked processes. Operations on distinct
// keys do not contend.
type Table struct {
	processes sync.Map // int -> *Process
}

// Insert adds p, replacing any earlier process with the same id.
func (t *Table) Insert(p *Process) {
	t.processes.Store(p.PID, p)
}

// Remove drops pid. Removing an unknown pid is a no-op.
func (t *Table) Remove(pid int) {
	t.processes.Delete(pid)
}

// Get returns the process tracked under pid.
func (t *Table) Get(pid int) (*Process, bool) {
	value, ok := t.processes.Load(pid)
	if !ok {
		return nil, false
	}
	return value.(*Process), true
}

// SetAuthRoot marks pid trusted. Returns false if pid is not tracked.
func (t *Table) SetAuthRoot(pid int) bool {
	process, ok := t.Get(pid)
	if !ok {
		return false
	}
	process.authRoot.Store(true)
	return true
}

// Reparent records a new parent for pid, keeping its auth-root mark.
// Returns false if pid is not tracked.
func (t *Table) Reparent(pid, parentPID int) bool {
	process, ok := t.Get(pid)
	if !ok {
		return false
	}
	process.parentPID.Store(int64(parentPID))
	return true
}

// Len counts tracked processes.
func (t *Table) Len() int {
	count := 0
	t.processes.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
