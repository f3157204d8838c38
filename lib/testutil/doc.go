// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for DevProxy packages.
//
// [SocketDir] creates a short temporary directory in /tmp for Unix
// domain sockets, whose paths are limited to 108 bytes (sun_path), a
// limit t.TempDir() can exceed.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout pattern so individual tests do not call
// time.After directly. They are the only place in the test suite that
// waits on the wall clock.
//
// All helpers call t.Fatalf on failure.
package testutil
