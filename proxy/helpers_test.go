// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync"

	"github.com/bureau-foundation/devproxy/mitm"
)

var discardLogger = slog.New(slog.DiscardHandler)

// callLog records plugin calls. Engine hooks run on connection
// goroutines, so access is locked.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type stubAuthPlugin struct {
	name   string
	result AuthResult
	note   string
	panics bool
	log    *callLog
}

func (p *stubAuthPlugin) Name() string { return p.name }

func (p *stubAuthPlugin) Authenticate(context.Context, *Session) (AuthResult, string) {
	if p.log != nil {
		p.log.add(p.name)
	}
	if p.panics {
		panic("stub auth plugin failure")
	}
	return p.result, p.note
}

func allowAll() *stubAuthPlugin {
	return &stubAuthPlugin{name: "AllowAll", result: Authenticated, note: "test"}
}

// stubRequestPlugin records its calls as "<name>.request" and
// "<name>.response".
type stubRequestPlugin struct {
	name     string
	relevant bool
	log      *callLog

	requestResult RequestResult
	requestErr    error
	requestPanics bool
	// respondStatus, when set, answers the request locally.
	respondStatus int

	// responseResults are returned in order, then ResponseContinue.
	mu              sync.Mutex
	responseResults []ResponseResult
	responseErr     error
	responsePanics  bool
}

func (p *stubRequestPlugin) Name() string { return p.name }

func (p *stubRequestPlugin) IsHostRelevant(string) bool { return p.relevant }

func (p *stubRequestPlugin) BeforeRequest(_ context.Context, session *Session) (RequestResult, error) {
	p.log.add(p.name + ".request")
	if p.requestPanics {
		panic("stub request plugin failure")
	}
	if p.requestErr != nil {
		return RequestContinue, p.requestErr
	}
	if p.respondStatus != 0 {
		session.Respond(mitm.NewResponse(session.Request(), p.respondStatus, nil, "local\n"))
	}
	return p.requestResult, nil
}

func (p *stubRequestPlugin) BeforeResponse(context.Context, *Session) (ResponseResult, error) {
	p.log.add(p.name + ".response")
	if p.responsePanics {
		panic("stub response plugin failure")
	}
	if p.responseErr != nil {
		return ResponseContinue, p.responseErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responseResults) == 0 {
		return ResponseContinue, nil
	}
	result := p.responseResults[0]
	p.responseResults = p.responseResults[1:]
	return result, nil
}

var errStubPlugin = errors.New("stub plugin error")

// fixedCorrelator attributes every connection to one pid.
type fixedCorrelator struct {
	pid   int
	found bool
}

func (c fixedCorrelator) Owner(netip.AddrPort) (int, bool) { return c.pid, c.found }

// mapRoots answers TryGetAuthRoot from a map of pid to root pid.
type mapRoots map[int]int

func (m mapRoots) TryGetAuthRoot(_ context.Context, pid int) (int, bool) {
	root, ok := m[pid]
	if !ok {
		return -1, false
	}
	return root, true
}

func newFlow() *mitm.Flow {
	return &mitm.Flow{ID: "flow-1", ClientAddr: netip.MustParseAddrPort("127.0.0.1:50000")}
}

// newExchange binds a request for target to flow.
func newExchange(flow *mitm.Flow, method, target string) *mitm.Exchange {
	return &mitm.Exchange{Flow: flow, Request: httptest.NewRequest(method, target, nil)}
}

func newTunnel(flow *mitm.Flow, hostport string) *mitm.Tunnel {
	return &mitm.Tunnel{
		Flow:    flow,
		Request: httptest.NewRequest(http.MethodConnect, hostport, nil),
		Decrypt: true,
		Header:  make(http.Header),
	}
}

// sessionFor returns a Session bound to a fresh request.
func sessionFor(method, target string) *Session {
	flow := newFlow()
	session := newSession(flow)
	session.bindExchange(newExchange(flow, method, target))
	return session
}
