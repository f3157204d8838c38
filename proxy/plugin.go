// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import "context"

// RequestResult tells the orchestrator how to continue after a plugin's
// request phase.
type RequestResult int

const (
	// RequestContinue runs the next plugin.
	RequestContinue RequestResult = iota

	// RequestStop ends the request phase. Plugins after this one do not see
	// the request, and only this one and those before it see the
	// response.
	RequestStop
)

// ResponseResult tells the orchestrator how to continue after a
// plugin's response phase.
type ResponseResult int

const (
	// ResponseContinue runs the previous plugin.
	ResponseContinue ResponseResult = iota

	// ResponseStop ends the response phase.
	ResponseStop

	// ResponseRetry resends the request and ends the response phase.
	ResponseRetry
)

// RequestPlugin inspects or rewrites traffic of authenticated sessions.
// Plugins see requests in chain order and responses in reverse order,
// starting from the last plugin whose request phase ran.
type RequestPlugin interface {
	Name() string

	// IsHostRelevant reports whether the plugin needs to see the
	// decrypted traffic of host. A CONNECT to a host no plugin finds
	// relevant is passed through opaquely.
	IsHostRelevant(host string) bool

	BeforeRequest(ctx context.Context, session *Session) (RequestResult, error)
	BeforeResponse(ctx context.Context, session *Session) (ResponseResult, error)
}
