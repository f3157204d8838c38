// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"net/http"
	"testing"
)

func TestSessionAuthenticationAxesAreIndependent(t *testing.T) {
	flow := newFlow()
	session := newSession(flow)

	session.bindTunnel(newTunnel(flow, "example.com:443"))
	if !session.IsConnect() {
		t.Fatal("IsConnect() = false for a bound CONNECT")
	}
	session.SetAuthenticated(true)

	session.bindExchange(newExchange(flow, http.MethodGet, "https://example.com/"))
	if session.IsAuthenticated() {
		t.Fatal("authenticating the CONNECT authenticated the request axis")
	}
	if !session.TunnelAuthenticated() {
		t.Fatal("TunnelAuthenticated() = false after the CONNECT was authenticated")
	}

	session.SetAuthenticated(true)
	session.bindTunnel(newTunnel(flow, "example.com:443"))
	session.SetAuthenticated(false)

	session.bindExchange(newExchange(flow, http.MethodGet, "https://example.com/"))
	if !session.IsAuthenticated() {
		t.Fatal("clearing the CONNECT axis cleared the request axis")
	}
}

func TestSessionHost(t *testing.T) {
	tests := []struct {
		method string
		target string
		want   string
	}{
		{http.MethodGet, "http://example.com/path?q=1", "example.com"},
		{http.MethodGet, "http://example.com:8080/", "example.com"},
		{http.MethodGet, "http://[::1]:8080/", "::1"},
		{http.MethodConnect, "example.com:443", "example.com"},
	}
	for _, test := range tests {
		session := sessionFor(test.method, test.target)
		if got := session.Host(); got != test.want {
			t.Errorf("Host() for %s %s = %q, want %q", test.method, test.target, got, test.want)
		}
	}
}

func TestSessionData(t *testing.T) {
	session := sessionFor(http.MethodGet, "http://example.com/")

	if _, ok := SessionData[int](session, "missing"); ok {
		t.Fatal("SessionData found a key that was never set")
	}

	SetSessionData(session, "counter", 3)
	if value, ok := SessionData[int](session, "counter"); !ok || value != 3 {
		t.Fatalf("SessionData[int] = %d, %v; want 3, true", value, ok)
	}
	if _, ok := SessionData[string](session, "counter"); ok {
		t.Fatal("SessionData[string] accepted an int value")
	}
}

func TestSessionAuthNotesAreCopied(t *testing.T) {
	session := sessionFor(http.MethodGet, "http://example.com/")
	session.AddAuthNote("A", "NoOpinion_first")

	notes := session.AuthNotes()
	notes[0].Note = "changed"

	if got := session.AuthNotes()[0].Note; got != "NoOpinion_first" {
		t.Fatalf("AuthNotes() exposed internal storage: note = %q", got)
	}
}
