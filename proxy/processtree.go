// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"strconv"

	"github.com/bureau-foundation/devproxy/lib/sockowner"
)

// AuthRootFinder finds the nearest registered auth root among a
// process and its ancestors. *proctrack.Tracker implements it.
type AuthRootFinder interface {
	TryGetAuthRoot(ctx context.Context, pid int) (int, bool)
}

// ProcessTreePlugin authenticates connections opened by a descendant
// of a registered auth root. It never rejects: a process outside every
// trusted tree may still present a password.
type ProcessTreePlugin struct {
	correlator sockowner.Correlator
	roots      AuthRootFinder
}

func NewProcessTreePlugin(correlator sockowner.Correlator, roots AuthRootFinder) *ProcessTreePlugin {
	return &ProcessTreePlugin{correlator: correlator, roots: roots}
}

func (p *ProcessTreePlugin) Name() string { return "ProcessTree" }

func (p *ProcessTreePlugin) Authenticate(ctx context.Context, session *Session) (AuthResult, string) {
	pid, found := p.correlator.Owner(session.ClientAddr)
	if !found {
		return NoOpinion, "ConnectionNotFound"
	}
	root, found := p.roots.TryGetAuthRoot(ctx, pid)
	if !found {
		return NoOpinion, "NoAuthRootForProcessId=" + strconv.Itoa(pid)
	}
	return Authenticated, "RootProcessId=" + strconv.Itoa(root)
}
