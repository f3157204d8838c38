// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package password

import (
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

// tokenLength is the number of hex characters kept from a digest.
const tokenLength = 16

// Provider hands out the current password and verifies candidates.
type Provider interface {
	Current() string
	Check(candidate string) bool
}

// Fixed is a Provider with a single constant password.
type Fixed string

// Current returns the configured password.
func (f Fixed) Current() string { return string(f) }

// Check reports whether candidate equals the configured password.
func (f Fixed) Check(candidate string) bool {
	return equal(string(f), candidate)
}

// Token derives the password for the generation starting at t.
func Token(secret string, t time.Time) string {
	hasher := blake3.New()
	hasher.Write([]byte(secret))
	hasher.Write([]byte(t.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(hasher.Sum(nil))[:tokenLength]
}

// Hash returns a short digest of value suitable for audit notes, so
// that credentials never appear in response headers or logs in clear.
func Hash(value string) string {
	digest := blake3.Sum256([]byte(value))
	return hex.EncodeToString(digest[:])[:tokenLength]
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
