// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the DevProxy build version for --version
// output and the startup log line.
//
// Release builds stamp the variables with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/devproxy/lib/version.Version=1.4.0 \
//	    -X github.com/bureau-foundation/devproxy/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Unstamped builds fall back to the VCS settings the Go toolchain
// embeds in the binary.
package version
