// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/bureau-foundation/devproxy/lib/password"
)

// CredentialHeaderPlugin authenticates sessions that present the
// current proxy password in a request header.
//
// Two schemes are understood, case-insensitively:
//
//	Basic  base64(user:password) or base64(password)
//	Bearer base64(password)
//
// A matching header is removed before the request travels further.
// The password may also be given as the user name.
type CredentialHeaderPlugin struct {
	name      string
	header    string
	passwords password.Provider
}

// NewCredentialHeaderPlugin returns a plugin called name that reads
// header.
func NewCredentialHeaderPlugin(name, header string, passwords password.Provider) *CredentialHeaderPlugin {
	return &CredentialHeaderPlugin{name: name, header: header, passwords: passwords}
}

// NewProxyAuthorizationPlugin reads Proxy-Authorization, the header
// HTTP clients send to proxies.
func NewProxyAuthorizationPlugin(passwords password.Provider) *CredentialHeaderPlugin {
	return NewCredentialHeaderPlugin("ProxyAuthorizationHeader", "Proxy-Authorization", passwords)
}

// NewAuthorizationPlugin reads Authorization, for clients that cannot
// be configured with proxy credentials.
func NewAuthorizationPlugin(passwords password.Provider) *CredentialHeaderPlugin {
	return NewCredentialHeaderPlugin("AuthorizationHeader", "Authorization", passwords)
}

func (p *CredentialHeaderPlugin) Name() string { return p.name }

func (p *CredentialHeaderPlugin) Authenticate(_ context.Context, session *Session) (AuthResult, string) {
	request := session.Request()
	value := strings.TrimSpace(request.Header.Get(p.header))
	if value == "" {
		return NoOpinion, "NoHeader"
	}

	scheme, encoded, _ := strings.Cut(value, " ")
	var user, secret string
	switch strings.ToLower(scheme) {
	case "basic":
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return Rejected, "InvalidBase64"
		}
		var found bool
		user, secret, found = strings.Cut(string(decoded), ":")
		if !found {
			user, secret = "", user
		}
	case "bearer":
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return Rejected, "InvalidBase64"
		}
		secret = string(decoded)
	default:
		return NoOpinion, "UnknownAuthScheme=" + scheme
	}

	if p.passwords.Check(secret) {
		request.Header.Del(p.header)
		return Authenticated, "PasswordMatch_BLAKE3=" + password.Hash(secret)
	}
	if user != "" && p.passwords.Check(user) {
		request.Header.Del(p.header)
		return Authenticated, "UserMatch_BLAKE3=" + password.Hash(user)
	}
	return Rejected, "BLAKE3(ProvidedPassword)=" + password.Hash(secret)
}
