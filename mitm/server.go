// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mitm

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bureau-foundation/devproxy/lib/netutil"
)

const (
	// idleTimeout bounds the wait for the next request on a client
	// connection.
	idleTimeout = 2 * time.Minute

	// handshakeTimeout bounds the client TLS handshake in a decrypted
	// tunnel.
	handshakeTimeout = 15 * time.Second

	dialTimeout = 30 * time.Second
)

// Config configures a Server.
type Config struct {
	// Hooks receives every session event. Required.
	Hooks Hooks

	// Authority issues certificates for decrypted tunnels. Required.
	Authority *Authority

	// UpstreamHTTPProxy and UpstreamHTTPSProxy, when set, receive
	// outbound plain and TLS traffic respectively.
	UpstreamHTTPProxy  *url.URL
	UpstreamHTTPSProxy *url.URL

	// UpstreamTLS configures TLS to origin servers. Nil uses the
	// system roots.
	UpstreamTLS *tls.Config

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the proxy engine.
type Server struct {
	hooks      Hooks
	authority  *Authority
	httpsProxy *url.URL
	transport  *http.Transport
	logger     *slog.Logger

	activeConnections sync.WaitGroup
}

// NewServer creates an engine. Call Serve for each listener.
func NewServer(config Config) (*Server, error) {
	if config.Hooks == nil {
		return nil, errors.New("proxy engine requires hooks")
	}
	if config.Authority == nil {
		return nil, errors.New("proxy engine requires a certificate authority")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	httpProxy, httpsProxy := config.UpstreamHTTPProxy, config.UpstreamHTTPSProxy
	transport := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			if req.URL.Scheme == "https" {
				return httpsProxy, nil
			}
			return httpProxy, nil
		},
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSClientConfig:       config.UpstreamTLS,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   handshakeTimeout,
		ExpectContinueTimeout: time.Second,
		// Bodies pass through byte for byte.
		DisableCompression: true,
	}

	return &Server{
		hooks:      config.Hooks,
		authority:  config.Authority,
		httpsProxy: httpsProxy,
		transport:  transport,
		logger:     config.Logger,
	}, nil
}

// Serve accepts client connections on listener until ctx is cancelled,
// then closes the listener and waits for active connections to end.
// Cancelling ctx also closes the active connections.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("proxy listening", "address", listener.Addr().String())

	var acceptErr error
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Warn("accept failed", "error", err)
				continue
			}
			acceptErr = fmt.Errorf("accepting on %s: %w", listener.Addr(), err)
			break
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	s.transport.CloseIdleConnections()
	return acceptErr
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		req, err := http.ReadRequest(reader)
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				s.logger.Debug("reading client request", "client", conn.RemoteAddr().String(), "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Time{})

		if req.Method == http.MethodConnect {
			s.handleConnect(ctx, conn, reader, req)
			return
		}

		req = req.WithContext(ctx)
		if req.URL.Host == "" {
			resp := NewResponse(req, http.StatusBadRequest, http.Header{"Connection": {"close"}},
				"request target must be an absolute URL\n")
			s.writeResponse(conn, resp)
			return
		}
		req.RemoteAddr = conn.RemoteAddr().String()

		resp := s.exchange(ctx, newFlow(conn), req, false)
		// A streamed body may be partly unread, so the connection
		// cannot be trusted for another request.
		if !s.writeResponse(conn, resp) || req.Close || resp.Close || req.GetBody == nil {
			return
		}
	}
}

// writeResponse sends resp to the client and reports whether the
// connection can carry another request.
func (s *Server) writeResponse(conn net.Conn, resp *http.Response) bool {
	defer resp.Body.Close()

	resp.Proto, resp.ProtoMajor, resp.ProtoMinor = "HTTP/1.1", 1, 1
	// Response.Write ends an unknown-length identity body by closing
	// the connection.
	reusable := !resp.Close && (resp.ContentLength >= 0 || len(resp.TransferEncoding) > 0)

	if err := resp.Write(conn); err != nil {
		if !netutil.IsExpectedCloseError(err) {
			s.logger.Debug("writing response to client", "client", conn.RemoteAddr().String(), "error", err)
		}
		return false
	}
	return reusable
}
