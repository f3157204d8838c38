// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bureau-foundation/devproxy/mitm"
)

// OrchestratorConfig holds the plugin chains. Order is significant in
// both.
type OrchestratorConfig struct {
	AuthPlugins    []AuthPlugin
	RequestPlugins []RequestPlugin

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Orchestrator drives authentication and the request plugin chain from
// the engine's hooks.
type Orchestrator struct {
	authPlugins    []AuthPlugin
	requestPlugins []RequestPlugin
	logger         *slog.Logger
}

var _ mitm.Hooks = (*Orchestrator)(nil)

// NewOrchestrator creates an Orchestrator. Both chains may be empty; an
// empty auth chain refuses every session.
func NewOrchestrator(config OrchestratorConfig) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		authPlugins:    config.AuthPlugins,
		requestPlugins: config.RequestPlugins,
		logger:         logger,
	}
}

// session returns the Session stored in the flow, creating it on the
// first hook.
func (o *Orchestrator) session(flow *mitm.Flow) *Session {
	if session, ok := flow.UserData.(*Session); ok {
		return session
	}
	session := newSession(flow)
	flow.UserData = session
	return session
}

// TunnelConnectRequest authenticates the CONNECT and decides whether
// the tunnel is decrypted.
func (o *Orchestrator) TunnelConnectRequest(ctx context.Context, tunnel *mitm.Tunnel) {
	session := o.session(tunnel.Flow)
	session.bindTunnel(tunnel)

	if !session.IsAuthenticated() {
		authenticate(ctx, o.authPlugins, session, o.logger)
	}
	if !session.IsAuthenticated() {
		o.logger.Info("tunnel refused",
			"session", session.ID,
			"client", session.ClientAddr,
			"host", tunnel.Request.Host,
		)
		tunnel.Deny(challengeResponse(tunnel.Request, session.authNotes))
		return
	}

	tunnel.Decrypt = o.isHostRelevant(tunnel.Host())
}

// TunnelConnectResponse adds the auth notes to the reply that opens a
// decrypted tunnel. Tunnels passed through opaquely are left alone.
func (o *Orchestrator) TunnelConnectResponse(ctx context.Context, tunnel *mitm.Tunnel) {
	if !tunnel.Decrypt {
		return
	}
	session := o.session(tunnel.Flow)
	session.bindTunnel(tunnel)
	if !session.IsAuthenticated() {
		panic(fmt.Sprintf("decrypting unauthenticated tunnel to %s (session %s)", tunnel.Request.Host, session.ID))
	}
	addAuthNotes(tunnel.Header, session.authNotes)
}

// Request authenticates the request and runs the request phase of the
// plugin chain.
func (o *Orchestrator) Request(ctx context.Context, exchange *mitm.Exchange) {
	session := o.session(exchange.Flow)
	session.bindExchange(exchange)
	session.lastPlugin = -1

	if !session.IsAuthenticated() {
		authenticate(ctx, o.authPlugins, session, o.logger)
	}
	if !session.IsAuthenticated() {
		o.logger.Info("request refused",
			"session", session.ID,
			"client", session.ClientAddr,
			"method", exchange.Request.Method,
			"url", exchange.Request.URL.String(),
		)
		exchange.Respond(challengeResponse(exchange.Request, session.authNotes))
		return
	}

	for index, plugin := range o.requestPlugins {
		result, err := callBeforeRequest(ctx, plugin, session)
		if err != nil {
			o.logger.Error("request plugin failed",
				"plugin", plugin.Name(),
				"session", session.ID,
				"method", exchange.Request.Method,
				"url", exchange.Request.URL.String(),
				"error", err,
			)
			exchange.Respond(mitm.NewResponse(exchange.Request, http.StatusBadGateway, nil,
				fmt.Sprintf("plugin %s failed: %v\n", plugin.Name(), err)))
			break
		}
		session.lastPlugin = index
		if result == RequestStop || exchange.Responded() {
			break
		}
	}

	// The engine does not call Response for a locally answered request.
	if exchange.Responded() {
		o.responsePhase(ctx, session)
	}
}

// Response runs the response phase of the plugin chain.
func (o *Orchestrator) Response(ctx context.Context, exchange *mitm.Exchange) {
	session := o.session(exchange.Flow)
	session.bindExchange(exchange)
	o.responsePhase(ctx, session)
}

// responsePhase walks the chain backward from the last plugin whose
// request phase ran. A plugin failure ends the walk; the response goes
// out as it stood when the plugin failed.
func (o *Orchestrator) responsePhase(ctx context.Context, session *Session) {
	if !session.IsAuthenticated() {
		return
	}
	if response := session.Response(); response != nil {
		addAuthNotes(response.Header, session.authNotes)
	}

	for index := session.lastPlugin; index >= 0; index-- {
		plugin := o.requestPlugins[index]
		result, err := callBeforeResponse(ctx, plugin, session)
		if err != nil {
			request := session.Request()
			o.logger.Error("response plugin failed",
				"plugin", plugin.Name(),
				"session", session.ID,
				"method", request.Method,
				"url", request.URL.String(),
				"error", err,
			)
			return
		}
		switch result {
		case ResponseStop:
			return
		case ResponseRetry:
			session.Resubmit()
			return
		}
	}
}

func (o *Orchestrator) isHostRelevant(host string) bool {
	for _, plugin := range o.requestPlugins {
		if plugin.IsHostRelevant(host) {
			return true
		}
	}
	return false
}

func callBeforeRequest(ctx context.Context, plugin RequestPlugin, session *Session) (result RequestResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return plugin.BeforeRequest(ctx, session)
}

func callBeforeResponse(ctx context.Context, plugin RequestPlugin, session *Session) (result ResponseResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return plugin.BeforeResponse(ctx, session)
}
