// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"fmt"
	"log/slog"
)

// AuthResult is an auth plugin's verdict on a session.
type AuthResult int

const (
	// NoOpinion lets the next plugin decide.
	NoOpinion AuthResult = iota

	// Authenticated admits the session and ends the chain.
	Authenticated

	// Rejected refuses the session and ends the chain.
	Rejected
)

func (r AuthResult) String() string {
	switch r {
	case NoOpinion:
		return "NoOpinion"
	case Authenticated:
		return "Authenticated"
	case Rejected:
		return "Rejected"
	default:
		return fmt.Sprintf("AuthResult(%d)", int(r))
	}
}

// AuthPlugin decides whether a session may use the proxy. The note it
// returns is recorded in the session's audit trail whatever the result.
type AuthPlugin interface {
	Name() string
	Authenticate(ctx context.Context, session *Session) (AuthResult, string)
}

// authenticate runs the chain in order until a plugin answers something
// other than NoOpinion, and records the outcome on the session's current
// axis. A session nobody authenticates is unauthenticated.
func authenticate(ctx context.Context, plugins []AuthPlugin, session *Session, logger *slog.Logger) {
	for _, plugin := range plugins {
		result, note := runAuthPlugin(ctx, plugin, session, logger)
		session.AddAuthNote(plugin.Name(), result.String()+"_"+note)
		switch result {
		case Authenticated:
			session.SetAuthenticated(true)
			return
		case Rejected:
			session.SetAuthenticated(false)
			return
		}
	}
	session.SetAuthenticated(false)
}

func runAuthPlugin(ctx context.Context, plugin AuthPlugin, session *Session, logger *slog.Logger) (result AuthResult, note string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("auth plugin panicked",
				"plugin", plugin.Name(),
				"session", session.ID,
				"panic", recovered,
			)
			result, note = NoOpinion, "PluginFailed"
		}
	}()
	return plugin.Authenticate(ctx, session)
}
