// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc implements the local control channel between the devproxy
// server and its command-line clients.
//
// Each frame is a 4-byte little-endian length followed by that many
// bytes of UTF-8 text. A request frame carries a JSON-encoded [Message];
// the response frame carries a plain string. One connection may carry
// several request/response pairs, processed strictly in order.
//
// The channel is a Unix domain socket readable only by the current user
// (mode 0600). On Linux the server also checks the peer's uid with
// SO_PEERCRED and drops connections from other users.
package ipc
