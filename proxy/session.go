// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/bureau-foundation/devproxy/mitm"
)

// AuthNote records why one auth plugin did or did not authenticate a
// session.
type AuthNote struct {
	Plugin string
	Note   string
}

// Session is the per-flow state kept by the Orchestrator. For a CONNECT
// tunnel one Session serves the tunnel and every request inside it; a
// plain request has a Session of its own.
//
// The engine runs the hooks of one flow sequentially, so a Session is
// never accessed concurrently.
type Session struct {
	ID         string
	ClientAddr netip.AddrPort

	connectAuthenticated bool
	requestAuthenticated bool

	authNotes  []AuthNote
	pluginData map[string]any

	// lastPlugin indexes the request plugin whose request phase ran
	// last for the current request, or -1.
	lastPlugin int

	tunnel   *mitm.Tunnel
	exchange *mitm.Exchange
	request  *http.Request
}

func newSession(flow *mitm.Flow) *Session {
	return &Session{
		ID:         flow.ID,
		ClientAddr: flow.ClientAddr,
		pluginData: make(map[string]any),
		lastPlugin: -1,
	}
}

func (s *Session) bindTunnel(tunnel *mitm.Tunnel) {
	s.tunnel = tunnel
	s.exchange = nil
	s.request = tunnel.Request
}

func (s *Session) bindExchange(exchange *mitm.Exchange) {
	s.exchange = exchange
	s.request = exchange.Request
}

// Request is the request the session is currently handling: the
// CONNECT during tunnel setup, otherwise the HTTP request.
func (s *Session) Request() *http.Request {
	return s.request
}

// Response is the response to the current request, or nil before one
// exists.
func (s *Session) Response() *http.Response {
	if s.exchange == nil {
		return nil
	}
	return s.exchange.Response
}

// Host returns the target host of the current request without a port.
func (s *Session) Host() string {
	if s.request == nil {
		return ""
	}
	if host := s.request.URL.Hostname(); host != "" {
		return host
	}
	host, _, err := net.SplitHostPort(s.request.Host)
	if err != nil {
		return s.request.Host
	}
	return host
}

// IsConnect reports whether the current request is a CONNECT.
func (s *Session) IsConnect() bool {
	return s.request != nil && s.request.Method == http.MethodConnect
}

// InTunnel reports whether the current request arrived inside a
// decrypted tunnel.
func (s *Session) InTunnel() bool {
	return s.exchange != nil && s.exchange.InTunnel()
}

// TunnelAuthenticated reports whether the CONNECT that opened the
// session's tunnel was authenticated.
func (s *Session) TunnelAuthenticated() bool {
	return s.connectAuthenticated
}

// IsAuthenticated reports the authentication state of the axis the
// current request belongs to: CONNECT or plain request.
func (s *Session) IsAuthenticated() bool {
	if s.IsConnect() {
		return s.connectAuthenticated
	}
	return s.requestAuthenticated
}

// SetAuthenticated sets the state of the current request's axis only.
func (s *Session) SetAuthenticated(authenticated bool) {
	if s.IsConnect() {
		s.connectAuthenticated = authenticated
		return
	}
	s.requestAuthenticated = authenticated
}

// AddAuthNote appends to the session's audit trail.
func (s *Session) AddAuthNote(plugin, note string) {
	s.authNotes = append(s.authNotes, AuthNote{Plugin: plugin, Note: note})
}

// AuthNotes returns the audit trail in the order it was recorded.
func (s *Session) AuthNotes() []AuthNote {
	return append([]AuthNote(nil), s.authNotes...)
}

// LastPlugin returns the index of the request plugin whose request
// phase ran last, or -1.
func (s *Session) LastPlugin() int {
	return s.lastPlugin
}

// Respond answers the current request locally instead of forwarding
// it. During tunnel setup it refuses the tunnel with resp.
func (s *Session) Respond(resp *http.Response) {
	if s.exchange != nil {
		s.exchange.Respond(resp)
		return
	}
	if s.tunnel != nil {
		s.tunnel.Deny(resp)
	}
}

// Responded reports whether the current request was answered locally.
func (s *Session) Responded() bool {
	if s.exchange != nil {
		return s.exchange.Responded()
	}
	return s.tunnel != nil && s.tunnel.Denied()
}

// Resubmit asks for the current request to be sent again once the
// response phase finishes.
func (s *Session) Resubmit() {
	if s.exchange != nil {
		s.exchange.Resubmit()
	}
}

// SessionData returns the value a plugin stored under key, if it has
// type T.
func SessionData[T any](s *Session, key string) (T, bool) {
	value, ok := s.pluginData[key].(T)
	return value, ok
}

// SetSessionData stores a plugin's value under key, by convention the
// plugin's Name.
func SetSessionData(s *Session, key string, value any) {
	s.pluginData[key] = value
}
