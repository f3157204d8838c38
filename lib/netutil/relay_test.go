// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
)

func TestRelayCopiesBothDirections(t *testing.T) {
	clientSide, relayClient := net.Pipe()
	relayUpstream, upstreamSide := net.Pipe()

	done := make(chan RelayStats, 1)
	go func() {
		stats, err := Relay(relayClient, nil, relayUpstream)
		if err != nil {
			t.Errorf("Relay: %v", err)
		}
		done <- stats
	}()

	go func() {
		buffer := make([]byte, 5)
		if _, err := io.ReadFull(upstreamSide, buffer); err != nil {
			t.Errorf("upstream read: %v", err)
			return
		}
		upstreamSide.Write(bytes.ToUpper(buffer))
		upstreamSide.Close()
	}()

	if _, err := clientSide.Write([]byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	reply, err := io.ReadAll(clientSide)
	if err != nil && !IsExpectedCloseError(err) {
		t.Fatalf("client read: %v", err)
	}
	if string(reply) != "HELLO" {
		t.Fatalf("reply = %q, want %q", reply, "HELLO")
	}

	stats := <-done
	if stats.ClientToUpstream != 5 || stats.UpstreamToClient != 5 {
		t.Fatalf("stats = %+v, want 5 bytes each way", stats)
	}
}

func TestRelayForwardsBufferedClientBytes(t *testing.T) {
	_, relayClient := net.Pipe()
	relayUpstream, upstreamSide := net.Pipe()

	go Relay(relayClient, strings.NewReader("early"), relayUpstream)

	buffer := make([]byte, 5)
	if _, err := io.ReadFull(upstreamSide, buffer); err != nil {
		t.Fatalf("upstream read: %v", err)
	}
	if string(buffer) != "early" {
		t.Fatalf("upstream got %q, want %q", buffer, "early")
	}
	upstreamSide.Close()
}

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read: %w", io.EOF), true},
		{"closed", net.ErrClosed, true},
		{"broken pipe", syscall.EPIPE, true},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"other", fmt.Errorf("tls: bad certificate"), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsExpectedCloseError(test.err); got != test.want {
				t.Fatalf("IsExpectedCloseError(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}
