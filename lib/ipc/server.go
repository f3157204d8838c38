// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// HandlerFunc answers one request. A returned error is sent to the
// client as the response text.
type HandlerFunc func(ctx context.Context, message Message) (string, error)

// idleTimeout is how long a connection may sit between requests.
const idleTimeout = 30 * time.Second

// writeTimeout bounds writing one response.
const writeTimeout = 10 * time.Second

// Server serves the control channel.
type Server struct {
	handler HandlerFunc
	logger  *slog.Logger

	// activeConnections lets Serve wait for in-flight handlers.
	activeConnections sync.WaitGroup
}

// NewServer creates a server dispatching every request to handler.
// A nil logger means slog.Default().
func NewServer(handler HandlerFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{handler: handler, logger: logger}
}

// Listen creates the Unix socket at socketPath, replacing a stale
// socket file, and restricts it to the current user.
func Listen(socketPath string) (net.Listener, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restricting socket %s: %w", socketPath, err)
	}
	return listener, nil
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener and waits for active connections to finish their current
// request.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("ipc server listening", "address", listener.Addr().String())

	var acceptErr error
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			acceptErr = fmt.Errorf("accepting ipc connection: %w", err)
			break
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return acceptErr
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	// Idle connections must not hold up shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := checkPeer(conn); err != nil {
		s.logger.Warn("rejected ipc peer", "error", err)
		return
	}

	for ctx.Err() == nil {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		payload, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("closing ipc connection", "error", err)
			}
			return
		}

		reply := s.dispatch(ctx, payload)

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := WriteFrame(conn, reply); err != nil {
			s.logger.Debug("writing ipc response", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, payload string) string {
	message, err := decodeMessage(payload)
	if err != nil {
		return fmt.Sprintf("invalid request: %v", err)
	}
	reply, err := s.handler(ctx, message)
	if err != nil {
		s.logger.Debug("ipc command failed", "command", message.Command, "error", err)
		return err.Error()
	}
	return reply
}
