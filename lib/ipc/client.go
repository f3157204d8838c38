// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"fmt"
	"net"
	"time"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// callTimeout applies when ctx carries no deadline. It exceeds the
// server's longest command (auth root registration retries for 10s).
const callTimeout = 45 * time.Second

// Call sends message to the server at socketPath and returns its
// response text.
func Call(ctx context.Context, socketPath string, message Message) (string, error) {
	request, err := encodeMessage(message)
	if err != nil {
		return "", err
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return "", fmt.Errorf("connecting to devproxy at %s: %w", socketPath, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(callTimeout)
	}
	conn.SetDeadline(deadline)

	// Unblock the read if ctx is cancelled first.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := WriteFrame(conn, request); err != nil {
		return "", fmt.Errorf("sending %q: %w", message.Command, err)
	}
	reply, err := ReadFrame(conn)
	if err != nil {
		return "", fmt.Errorf("reading %q response: %w", message.Command, err)
	}
	return reply, nil
}
