// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"io"
	"net"
)

// RelayStats counts the bytes moved in each direction by Relay.
type RelayStats struct {
	ClientToUpstream int64
	UpstreamToClient int64
}

type relayResult struct {
	fromClient bool
	bytes      int64
	err        error
}

// Relay copies bytes between client and upstream until either side
// finishes, then closes both connections so the other direction
// unblocks. clientReader is read instead of client so that bytes
// already buffered while parsing the CONNECT request are not lost.
//
// The returned error is nil when the relay ended through normal
// teardown (see IsExpectedCloseError).
func Relay(client net.Conn, clientReader io.Reader, upstream net.Conn) (RelayStats, error) {
	if clientReader == nil {
		clientReader = client
	}
	results := make(chan relayResult, 2)

	go func() {
		n, err := io.Copy(upstream, clientReader)
		results <- relayResult{fromClient: true, bytes: n, err: err}
	}()
	go func() {
		n, err := io.Copy(client, upstream)
		results <- relayResult{bytes: n, err: err}
	}()

	first := <-results
	client.Close()
	upstream.Close()
	second := <-results

	var stats RelayStats
	for _, result := range []relayResult{first, second} {
		if result.fromClient {
			stats.ClientToUpstream = result.bytes
		} else {
			stats.UpstreamToClient = result.bytes
		}
	}

	if first.err != nil && !IsExpectedCloseError(first.err) {
		return stats, first.err
	}
	return stats, nil
}
