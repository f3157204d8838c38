// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds connection plumbing shared by the proxy engine:
// the byte relay used for tunnels that are not decrypted, and the
// classification of errors that mean "the peer went away".
package netutil
