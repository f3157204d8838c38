// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy decides which local traffic DevProxy lets through and
// which extensions see it.
//
// The [Orchestrator] implements the engine hooks of package mitm. For
// each client session it keeps a [Session], runs the authentication
// chain of [AuthPlugin]s until one of them decides, and then runs the
// [RequestPlugin] chain forward before a request is forwarded and
// backward, from the last plugin that ran, before the response reaches
// the client.
//
// Authentication has two independent axes. A CONNECT tunnel is
// authenticated once when it is opened; each request sent through the
// proxy, including requests inside a decrypted tunnel, is authenticated
// on its own. [TunnelPlugin] carries an authenticated tunnel over to
// the requests inside it.
//
// A session that no plugin authenticates gets a 407 challenge carrying
// one X-DevProxy-AuthToProxy-<plugin> header per evaluated plugin, so
// users can see why they were refused.
//
// [Server] assembles the engine listeners, the process tracker and the
// local control channel into one service.
package proxy
