// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers for the devproxy binary:
// reporting a fatal error before the structured logger exists, and
// translating a child's exit status into our own.
package process
