// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultSocketPath returns $XDG_RUNTIME_DIR/devproxy.sock, falling back
// to a per-user name in the temporary directory.
func DefaultSocketPath() string {
	if runtimeDirectory := os.Getenv("XDG_RUNTIME_DIR"); runtimeDirectory != "" {
		return filepath.Join(runtimeDirectory, "devproxy.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("devproxy-%d.sock", os.Getuid()))
}
