// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import "context"

// TunnelPlugin carries the authentication of a CONNECT over to the
// requests sent inside its decrypted tunnel. Those requests cannot
// carry proxy credentials of their own.
type TunnelPlugin struct{}

func (TunnelPlugin) Name() string { return "Tunnel" }

func (TunnelPlugin) Authenticate(_ context.Context, session *Session) (AuthResult, string) {
	if !session.InTunnel() {
		return NoOpinion, "NotInTunnel"
	}
	if !session.TunnelAuthenticated() {
		return NoOpinion, "ConnectNotAuthenticated"
	}
	return Authenticated, "ConnectAuthenticated"
}
