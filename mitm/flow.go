// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mitm

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Hooks is called by the engine at each stage of a client session. The
// engine calls hooks for one flow sequentially.
type Hooks interface {
	// TunnelConnectRequest runs when a CONNECT arrives. It may Deny the
	// tunnel or clear Decrypt.
	TunnelConnectRequest(ctx context.Context, tunnel *Tunnel)

	// TunnelConnectResponse runs before the 200 reply to an accepted
	// CONNECT is written. Headers added to Tunnel.Header are sent with
	// it.
	TunnelConnectResponse(ctx context.Context, tunnel *Tunnel)

	// Request runs before a request is forwarded. If it calls Respond
	// the request is not forwarded and Response is not called.
	Request(ctx context.Context, exchange *Exchange)

	// Response runs after the upstream response (or the engine's own
	// error response) is received and before it is written to the
	// client.
	Response(ctx context.Context, exchange *Exchange)
}

// Flow is the state of one client session.
type Flow struct {
	ID         string
	ClientAddr netip.AddrPort

	// UserData is owned by the Hooks implementation.
	UserData any
}

func newFlow(conn net.Conn) *Flow {
	flow := &Flow{ID: uuid.NewString()}
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		flow.ClientAddr = tcp.AddrPort()
	}
	return flow
}

// Tunnel is a CONNECT request under consideration.
type Tunnel struct {
	Flow    *Flow
	Request *http.Request

	// Decrypt selects TLS interception. It starts true.
	Decrypt bool

	// Header is added to the 200 response that opens the tunnel.
	Header http.Header

	denial *http.Response
}

// Deny refuses the tunnel and sends resp to the client instead.
func (t *Tunnel) Deny(resp *http.Response) {
	t.denial = resp
}

// Denied reports whether Deny was called.
func (t *Tunnel) Denied() bool {
	return t.denial != nil
}

// Host returns the CONNECT target without its port.
func (t *Tunnel) Host() string {
	return hostOnly(t.Request.Host)
}

// Exchange is one request and, once known, its response.
type Exchange struct {
	Flow     *Flow
	Request  *http.Request
	Response *http.Response

	inTunnel  bool
	responded bool
	resubmit  bool
}

// Respond answers the request locally.
func (e *Exchange) Respond(resp *http.Response) {
	e.Response = resp
	e.responded = true
}

// Responded reports whether Respond was called.
func (e *Exchange) Responded() bool {
	return e.responded
}

// Resubmit asks the engine to send the request again once the current
// hook returns. The engine honors a bounded number of resubmissions.
func (e *Exchange) Resubmit() {
	e.resubmit = true
}

// InTunnel reports whether the request arrived inside a decrypted
// CONNECT tunnel.
func (e *Exchange) InTunnel() bool {
	return e.inTunnel
}

// NewResponse builds a complete response to req with a text body.
func NewResponse(req *http.Request, status int, header http.Header, body string) *http.Response {
	if header == nil {
		header = make(http.Header)
	}
	if body != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
		Close:         strings.EqualFold(header.Get("Connection"), "close"),
	}
}

func hostOnly(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return strings.Trim(hostport, "[]")
	}
	return host
}
