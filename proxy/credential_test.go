// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/bureau-foundation/devproxy/lib/password"
)

func TestCredentialHeaderPlugin(t *testing.T) {
	const token = "s3cret-token"
	encode := func(value string) string {
		return base64.StdEncoding.EncodeToString([]byte(value))
	}

	tests := []struct {
		name        string
		header      string
		wantResult  AuthResult
		wantNote    string
		wantRemoved bool
	}{
		{
			name:       "missing header",
			wantResult: NoOpinion,
			wantNote:   "NoHeader",
		},
		{
			name:       "unknown scheme",
			header:     "Digest abc",
			wantResult: NoOpinion,
			wantNote:   "UnknownAuthScheme=Digest",
		},
		{
			name:        "basic user and password",
			header:      "Basic " + encode("user:"+token),
			wantResult:  Authenticated,
			wantNote:    "PasswordMatch_BLAKE3=" + password.Hash(token),
			wantRemoved: true,
		},
		{
			name:        "basic password only",
			header:      "Basic " + encode(token),
			wantResult:  Authenticated,
			wantNote:    "PasswordMatch_BLAKE3=" + password.Hash(token),
			wantRemoved: true,
		},
		{
			name:        "password given as user name",
			header:      "Basic " + encode(token + ":"),
			wantResult:  Authenticated,
			wantNote:    "UserMatch_BLAKE3=" + password.Hash(token),
			wantRemoved: true,
		},
		{
			name:        "scheme is case-insensitive",
			header:      "bAsIc " + encode("user:"+token),
			wantResult:  Authenticated,
			wantNote:    "PasswordMatch_BLAKE3=" + password.Hash(token),
			wantRemoved: true,
		},
		{
			name:        "bearer",
			header:      "Bearer " + encode(token),
			wantResult:  Authenticated,
			wantNote:    "PasswordMatch_BLAKE3=" + password.Hash(token),
			wantRemoved: true,
		},
		{
			name:       "wrong password",
			header:     "Basic " + encode("user:guess"),
			wantResult: Rejected,
			wantNote:   "BLAKE3(ProvidedPassword)=" + password.Hash("guess"),
		},
		{
			name:       "undecodable basic",
			header:     "Basic !!!",
			wantResult: Rejected,
			wantNote:   "InvalidBase64",
		},
		{
			name:       "undecodable bearer",
			header:     "Bearer " + token,
			wantResult: Rejected,
			wantNote:   "InvalidBase64",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			plugin := NewProxyAuthorizationPlugin(password.Fixed(token))
			session := sessionFor(http.MethodGet, "http://example.com/")
			if test.header != "" {
				session.Request().Header.Set("Proxy-Authorization", test.header)
			}

			result, note := plugin.Authenticate(context.Background(), session)
			if result != test.wantResult || note != test.wantNote {
				t.Fatalf("Authenticate() = %v, %q; want %v, %q", result, note, test.wantResult, test.wantNote)
			}
			removed := session.Request().Header.Get("Proxy-Authorization") == ""
			if test.header != "" && removed != test.wantRemoved {
				t.Fatalf("header removed = %v, want %v", removed, test.wantRemoved)
			}
		})
	}
}

func TestAuthorizationPluginReadsAuthorization(t *testing.T) {
	plugin := NewAuthorizationPlugin(password.Fixed("token"))
	if plugin.Name() != "AuthorizationHeader" {
		t.Fatalf("Name() = %q", plugin.Name())
	}

	session := sessionFor(http.MethodGet, "http://example.com/")
	session.Request().SetBasicAuth("user", "token")
	session.Request().Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:other")))

	result, _ := plugin.Authenticate(context.Background(), session)
	if result != Authenticated {
		t.Fatalf("result = %v, want Authenticated", result)
	}
	if session.Request().Header.Get("Authorization") != "" {
		t.Fatal("Authorization header was not removed")
	}
	if session.Request().Header.Get("Proxy-Authorization") == "" {
		t.Fatal("Proxy-Authorization header was touched")
	}
}
