// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sockowner finds the local process that owns a TCP connection,
// given the connection's local endpoint as seen from the other side.
// The proxy uses it to learn which process is behind a client address.
//
// Lookups read the kernel's live socket tables on every call; nothing
// is cached because connections come and go between calls. On hosts
// without procfs every lookup reports not found.
package sockowner
