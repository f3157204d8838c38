// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package ipc

import "net"

// checkPeer relies on the socket file mode alone.
func checkPeer(net.Conn) error { return nil }
