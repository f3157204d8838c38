// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"net/http"
	"slices"
	"testing"
)

func TestAuthenticateChain(t *testing.T) {
	tests := []struct {
		name              string
		plugins           []stubAuthPlugin
		wantCalls         []string
		wantNotes         []string
		wantAuthenticated bool
	}{
		{
			name: "first decisive plugin wins",
			plugins: []stubAuthPlugin{
				{name: "A", result: NoOpinion, note: "a"},
				{name: "B", result: Authenticated, note: "b"},
				{name: "C", result: Rejected, note: "c"},
			},
			wantCalls:         []string{"A", "B"},
			wantNotes:         []string{"NoOpinion_a", "Authenticated_b"},
			wantAuthenticated: true,
		},
		{
			name: "rejection stops the chain",
			plugins: []stubAuthPlugin{
				{name: "A", result: Rejected, note: "a"},
				{name: "B", result: Authenticated, note: "b"},
			},
			wantCalls: []string{"A"},
			wantNotes: []string{"Rejected_a"},
		},
		{
			name: "nobody decides",
			plugins: []stubAuthPlugin{
				{name: "A", result: NoOpinion, note: "a"},
				{name: "B", result: NoOpinion, note: "b"},
			},
			wantCalls: []string{"A", "B"},
			wantNotes: []string{"NoOpinion_a", "NoOpinion_b"},
		},
		{
			name: "panic counts as no opinion",
			plugins: []stubAuthPlugin{
				{name: "A", panics: true},
				{name: "B", result: Authenticated, note: "b"},
			},
			wantCalls:         []string{"A", "B"},
			wantNotes:         []string{"NoOpinion_PluginFailed", "Authenticated_b"},
			wantAuthenticated: true,
		},
		{
			name: "empty chain",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			log := &callLog{}
			var plugins []AuthPlugin
			for index := range test.plugins {
				test.plugins[index].log = log
				plugins = append(plugins, &test.plugins[index])
			}

			session := sessionFor(http.MethodGet, "http://example.com/")
			authenticate(context.Background(), plugins, session, discardLogger)

			if got := log.list(); !slices.Equal(got, test.wantCalls) {
				t.Errorf("calls = %v, want %v", got, test.wantCalls)
			}
			var notes []string
			for _, note := range session.AuthNotes() {
				notes = append(notes, note.Note)
			}
			if !slices.Equal(notes, test.wantNotes) {
				t.Errorf("notes = %v, want %v", notes, test.wantNotes)
			}
			if session.IsAuthenticated() != test.wantAuthenticated {
				t.Errorf("IsAuthenticated() = %v, want %v", session.IsAuthenticated(), test.wantAuthenticated)
			}
		})
	}
}

func TestAuthResultString(t *testing.T) {
	for result, want := range map[AuthResult]string{
		NoOpinion:     "NoOpinion",
		Authenticated: "Authenticated",
		Rejected:      "Rejected",
		AuthResult(9): "AuthResult(9)",
	} {
		if got := result.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestTunnelPluginOutsideTunnel(t *testing.T) {
	session := sessionFor(http.MethodGet, "http://example.com/")
	result, note := TunnelPlugin{}.Authenticate(context.Background(), session)
	if result != NoOpinion || note != "NotInTunnel" {
		t.Fatalf("Authenticate() = %v, %q; want NoOpinion, NotInTunnel", result, note)
	}
}
