// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mitm is the forward proxy engine: it accepts client
// connections, forwards plain HTTP requests upstream, and handles
// CONNECT tunnels either by relaying bytes untouched or by terminating
// TLS with a certificate issued by a local [Authority] and forwarding
// the decrypted requests.
//
// Policy lives outside the engine. A [Hooks] implementation sees every
// CONNECT before and after it is accepted, and every request and
// response, and may deny tunnels, skip decryption, answer requests
// locally, or ask for a request to be sent again.
//
// Every client session is a [Flow]. A CONNECT tunnel is one flow shared
// by all requests inside it; a plain request is a flow of its own. The
// hooks keep per-session state in [Flow.UserData].
package mitm
