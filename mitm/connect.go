// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mitm

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/bureau-foundation/devproxy/lib/netutil"
)

// bufferedConn reads through a bufio.Reader that may already hold
// bytes received after the CONNECT request.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

func (s *Server) handleConnect(ctx context.Context, conn net.Conn, reader *bufio.Reader, req *http.Request) {
	flow := newFlow(conn)
	req = req.WithContext(ctx)
	req.RemoteAddr = conn.RemoteAddr().String()
	tunnel := &Tunnel{Flow: flow, Request: req, Decrypt: true, Header: make(http.Header)}

	s.hooks.TunnelConnectRequest(ctx, tunnel)
	if tunnel.denial != nil {
		tunnel.denial.Close = true
		s.writeResponse(conn, tunnel.denial)
		return
	}

	if !tunnel.Decrypt {
		s.passThrough(ctx, conn, reader, tunnel)
		return
	}

	s.hooks.TunnelConnectResponse(ctx, tunnel)
	if err := writeEstablished(conn, tunnel.Header); err != nil {
		return
	}

	connectHost := tunnel.Host()
	tlsConn := tls.Server(&bufferedConn{Conn: conn, reader: reader}, &tls.Config{
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = connectHost
			}
			return s.authority.Leaf(name)
		},
		NextProtos: []string{"http/1.1"},
	})
	defer tlsConn.Close()

	handshakeContext, cancel := context.WithTimeout(ctx, handshakeTimeout)
	err := tlsConn.HandshakeContext(handshakeContext)
	cancel()
	if err != nil {
		s.logger.Debug("client TLS handshake failed",
			"flow", flow.ID,
			"host", connectHost,
			"error", err,
		)
		return
	}

	s.serveTunnel(ctx, tlsConn, flow, req.Host)
}

// serveTunnel forwards the HTTP/1.1 requests a client sends inside a
// decrypted tunnel. They share the tunnel's flow.
func (s *Server) serveTunnel(ctx context.Context, conn *tls.Conn, flow *Flow, connectHost string) {
	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		req, err := http.ReadRequest(reader)
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				s.logger.Debug("reading tunneled request", "flow", flow.ID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Time{})

		req = req.WithContext(ctx)
		req.RemoteAddr = conn.RemoteAddr().String()
		req.URL.Scheme = "https"
		req.URL.Host = tunneledHost(req.Host, connectHost)

		resp := s.exchange(ctx, flow, req, true)
		if !s.writeResponse(conn, resp) || req.Close || resp.Close || req.GetBody == nil {
			return
		}
	}
}

// tunneledHost picks the origin for a request inside a tunnel: the Host
// header, unless it omits a non-default port given in the CONNECT.
func tunneledHost(requestHost, connectHost string) string {
	if requestHost == "" {
		return connectHost
	}
	if _, _, err := net.SplitHostPort(requestHost); err == nil {
		return requestHost
	}
	if _, port, err := net.SplitHostPort(connectHost); err == nil && port != "443" {
		return net.JoinHostPort(requestHost, port)
	}
	return requestHost
}

// passThrough connects the client to the CONNECT target and relays
// bytes without inspecting them.
func (s *Server) passThrough(ctx context.Context, conn net.Conn, reader *bufio.Reader, tunnel *Tunnel) {
	s.hooks.TunnelConnectResponse(ctx, tunnel)

	upstream, err := s.dialTunnel(ctx, tunnel.Request.Host)
	if err != nil {
		s.logger.Debug("tunnel dial failed", "flow", tunnel.Flow.ID, "target", tunnel.Request.Host, "error", err)
		resp := NewResponse(tunnel.Request, http.StatusBadGateway, http.Header{"Connection": {"close"}},
			fmt.Sprintf("connecting to %s: %v\n", tunnel.Request.Host, err))
		s.writeResponse(conn, resp)
		return
	}
	if err := writeEstablished(conn, tunnel.Header); err != nil {
		upstream.Close()
		return
	}

	stats, err := netutil.Relay(conn, reader, upstream)
	if err != nil {
		s.logger.Debug("tunnel relay ended", "flow", tunnel.Flow.ID, "error", err)
	}
	s.logger.Debug("tunnel closed",
		"flow", tunnel.Flow.ID,
		"target", tunnel.Request.Host,
		"sent", stats.ClientToUpstream,
		"received", stats.UpstreamToClient,
	)
}

// dialTunnel opens a raw connection to target, through the upstream
// HTTPS proxy when one is configured.
func (s *Server) dialTunnel(ctx context.Context, target string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	if s.httpsProxy == nil {
		return dialer.DialContext(ctx, "tcp", target)
	}

	conn, err := dialer.DialContext(ctx, "tcp", s.httpsProxy.Host)
	if err != nil {
		return nil, fmt.Errorf("dialing upstream proxy %s: %w", s.httpsProxy.Host, err)
	}
	connect := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	if user := s.httpsProxy.User; user != nil {
		password, _ := user.Password()
		connect.SetBasicAuth(user.Username(), password)
		connect.Header.Set("Proxy-Authorization", connect.Header.Get("Authorization"))
		connect.Header.Del("Authorization")
	}
	conn.SetDeadline(time.Now().Add(dialTimeout))
	if err := connect.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending CONNECT to upstream proxy: %w", err)
	}
	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, connect)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading upstream proxy CONNECT response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("upstream proxy refused CONNECT: %s", resp.Status)
	}
	conn.SetDeadline(time.Time{})
	return &bufferedConn{Conn: conn, reader: reader}, nil
}

// writeEstablished accepts a tunnel. No body framing follows; the
// tunnel's bytes do.
func writeEstablished(w io.Writer, header http.Header) error {
	if _, err := io.WriteString(w, "HTTP/1.1 200 Connection established\r\n"); err != nil {
		return err
	}
	if err := header.Write(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}
