// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package ipc

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// checkPeer rejects connections from processes of another user.
func checkPeer(conn net.Conn) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("accessing socket: %w", err)
	}

	var credentials *unix.Ucred
	var credentialsErr error
	if err := raw.Control(func(fd uintptr) {
		credentials, credentialsErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return fmt.Errorf("accessing socket: %w", err)
	}
	if credentialsErr != nil {
		return fmt.Errorf("reading peer credentials: %w", credentialsErr)
	}
	if int(credentials.Uid) != os.Getuid() {
		return fmt.Errorf("peer pid %d runs as uid %d, not %d", credentials.Pid, credentials.Uid, os.Getuid())
	}
	return nil
}
