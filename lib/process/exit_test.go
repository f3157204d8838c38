// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"os/exec"
	"testing"
)

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Fatalf("ExitCode(nil) = %d, want 0", got)
	}
	if got := ExitCode(errors.New("exec: not found")); got != 1 {
		t.Fatalf("ExitCode(start failure) = %d, want 1", got)
	}

	err := exec.Command("/bin/sh", "-c", "exit 7").Run()
	if err == nil {
		t.Fatal("expected a non-nil error from a failing child")
	}
	if got := ExitCode(err); got != 7 {
		t.Fatalf("ExitCode(child exit 7) = %d, want 7", got)
	}
}
