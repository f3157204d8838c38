// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package password provides the secrets local clients present to the
// proxy in Proxy-Authorization and Authorization headers.
//
// [Fixed] compares against one configured value. [Rotating] derives a
// new token every rotation interval from a base secret and the
// interval's start time, and keeps accepting each token for a
// configurable lifetime after it has been superseded, so clients that
// cached an older token keep working. Two instances configured with the
// same base secret derive the same tokens, which lets a restarted proxy
// accept tokens handed out by its predecessor.
//
// Tokens authenticate local traffic only. The derivation resists other
// unprivileged users on the same host guessing the current token, not
// offline attack.
package password
