// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/devproxy/lib/clock"
	"github.com/bureau-foundation/devproxy/lib/ipc"
	"github.com/bureau-foundation/devproxy/lib/password"
	"github.com/bureau-foundation/devproxy/lib/proctrack"
	"github.com/bureau-foundation/devproxy/lib/sockowner"
	"github.com/bureau-foundation/devproxy/mitm"
)

// IPC commands served on the control socket.
const (
	CommandAddAuthRoot = "add_auth_root"
	CommandGetToken    = "get_token"
	CommandGetProxy    = "get_proxy"
	CommandGetWSLProxy = "get_wsl_proxy"
)

// NotListeningForWSL is the get_wsl_proxy reply when no secondary
// address is bound.
const NotListeningForWSL = "DEVPROXY_IS_NOT_LISTENING_FOR_WSL2"

const (
	authRootTimeout       = 10 * time.Second
	authRootRetryInterval = 100 * time.Millisecond
)

// ServerConfig holds configuration for creating a new Server.
type ServerConfig struct {
	// Config is the validated DevProxy configuration. Required. A Port
	// of 0 binds a free port.
	Config *Config

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// ProcRoot is the procfs mount point. Defaults to /proc.
	ProcRoot string

	// Watcher and Correlator replace the procfs implementations.
	Watcher    proctrack.Watcher
	Correlator sockowner.Correlator

	// UpstreamTLS configures TLS to origin servers. Nil uses the system
	// roots.
	UpstreamTLS *tls.Config
}

// Server runs the proxy listeners, the process tracker and the control
// socket.
type Server struct {
	config *Config
	clock  clock.Clock
	logger *slog.Logger

	passwords      password.Provider
	closePasswords func() error
	authority      *mitm.Authority
	tracker        *proctrack.Tracker
	engine         *mitm.Server
	control        *ipc.Server

	listener          net.Listener
	secondaryListener net.Listener
	controlListener   net.Listener
}

// NewServer creates a new DevProxy server. Call Start to bind its
// sockets, then Run.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Config == nil {
		return nil, errors.New("server requires a configuration")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	settings := config.Config

	authority, err := mitm.LoadOrCreateAuthority(settings.CertificateDirectory)
	if err != nil {
		return nil, err
	}

	passwords, closePasswords, err := settings.NewPasswordProvider(config.Clock)
	if err != nil {
		return nil, err
	}
	// Until Run takes ownership, failures below must stop the rotation.
	cleanup := closePasswords
	defer func() {
		if cleanup != nil {
			cleanup()
		}
	}()

	watcher := config.Watcher
	if watcher == nil {
		watcher, err = proctrack.NewProcfsWatcher(proctrack.ProcfsWatcherConfig{
			ProcRoot: config.ProcRoot,
			Interval: settings.ProcessPollInterval,
			Clock:    config.Clock,
			Logger:   config.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating process watcher: %w", err)
		}
	}
	tracker, err := proctrack.NewTracker(proctrack.TrackerConfig{
		Watcher: watcher,
		Clock:   config.Clock,
		Logger:  config.Logger,
	})
	if err != nil {
		return nil, err
	}

	correlator := config.Correlator
	if correlator == nil {
		correlator = sockowner.NewProcfsCorrelator(config.ProcRoot, config.Logger)
	}

	authPlugins, requestPlugins, err := BuildPlugins(settings.PluginList(), PluginDeps{
		Passwords:  passwords,
		Correlator: correlator,
		Roots:      tracker,
		Logger:     config.Logger,
	})
	if err != nil {
		return nil, err
	}

	upstreamHTTP, upstreamHTTPS, err := settings.UpstreamProxies()
	if err != nil {
		return nil, err
	}
	engine, err := mitm.NewServer(mitm.Config{
		Hooks: NewOrchestrator(OrchestratorConfig{
			AuthPlugins:    authPlugins,
			RequestPlugins: requestPlugins,
			Logger:         config.Logger,
		}),
		Authority:          authority,
		UpstreamHTTPProxy:  upstreamHTTP,
		UpstreamHTTPSProxy: upstreamHTTPS,
		UpstreamTLS:        config.UpstreamTLS,
		Logger:             config.Logger,
	})
	if err != nil {
		return nil, err
	}

	server := &Server{
		config:         settings,
		clock:          config.Clock,
		logger:         config.Logger,
		passwords:      passwords,
		closePasswords: closePasswords,
		authority:      authority,
		tracker:        tracker,
		engine:         engine,
	}
	server.control = ipc.NewServer(server.handleCommand, config.Logger)

	var authNames, requestNames []string
	for _, plugin := range authPlugins {
		authNames = append(authNames, plugin.Name())
	}
	for _, plugin := range requestPlugins {
		requestNames = append(requestNames, plugin.Name())
	}
	config.Logger.Info("plugins configured", "auth", authNames, "request", requestNames)

	cleanup = nil
	return server, nil
}

// Start binds the proxy listeners and the control socket.
func (s *Server) Start() error {
	port := strconv.Itoa(s.config.Port)
	listener, err := net.Listen("tcp", net.JoinHostPort(s.config.ListenAddress, port))
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", net.JoinHostPort(s.config.ListenAddress, port), err)
	}
	s.listener = listener

	if s.config.SecondaryListenAddress != "" {
		// The secondary listener shares the primary's port.
		port = strconv.Itoa(s.Port())
		secondary, err := net.Listen("tcp", net.JoinHostPort(s.config.SecondaryListenAddress, port))
		if err != nil {
			s.logger.Warn("secondary listen address unavailable",
				"address", s.config.SecondaryListenAddress,
				"error", err,
			)
		} else {
			s.secondaryListener = secondary
		}
	}

	controlListener, err := ipc.Listen(s.config.IPCSocketPath)
	if err != nil {
		s.closeListeners()
		return err
	}
	s.controlListener = controlListener

	// Notify systemd that we're ready (no-op if not running under systemd)
	notifySystemd("READY=1")
	return nil
}

// notifySystemd sends a notification to systemd's sd_notify socket.
// Does nothing if NOTIFY_SOCKET is not set.
func notifySystemd(state string) {
	socketPath := os.Getenv("NOTIFY_SOCKET")
	if socketPath == "" {
		return
	}

	conn, err := net.Dial("unixgram", socketPath)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.Write([]byte(state))
}

// Run serves until ctx is cancelled or a component fails, then shuts
// everything down. Start must have succeeded.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil || s.controlListener == nil {
		return errors.New("server not started")
	}
	defer s.closePasswords()
	defer os.Remove(s.config.IPCSocketPath)

	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.tracker.Run(groupContext)
	})
	group.Go(func() error {
		return s.engine.Serve(groupContext, s.listener)
	})
	if s.secondaryListener != nil {
		group.Go(func() error {
			return s.engine.Serve(groupContext, s.secondaryListener)
		})
	}
	group.Go(func() error {
		return s.control.Serve(groupContext, s.controlListener)
	})

	err := group.Wait()
	s.logger.Info("devproxy stopped", "error", err)
	return err
}

func (s *Server) closeListeners() {
	for _, listener := range []net.Listener{s.listener, s.secondaryListener, s.controlListener} {
		if listener != nil {
			listener.Close()
		}
	}
}

// Port returns the bound proxy port.
func (s *Server) Port() int {
	if s.listener == nil {
		return s.config.Port
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns the primary proxy listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// CertificatePath is the root certificate clients must trust.
func (s *Server) CertificatePath() string {
	return s.authority.CertificatePath()
}

// Ready is closed once the process table holds every running process.
func (s *Server) Ready() <-chan struct{} {
	return s.tracker.Ready()
}

// Passwords returns the proxy password provider.
func (s *Server) Passwords() password.Provider {
	return s.passwords
}

func (s *Server) handleCommand(ctx context.Context, message ipc.Message) (string, error) {
	switch message.Command {
	case CommandAddAuthRoot:
		pid, err := strconv.Atoi(message.Arg("process_id"))
		if err != nil || pid <= 0 {
			return "", fmt.Errorf("invalid process_id %q", message.Arg("process_id"))
		}
		return s.addAuthRoot(ctx, pid), nil
	case CommandGetToken:
		return s.passwords.Current(), nil
	case CommandGetProxy:
		return proxyURL(s.passwords.Current(), "localhost", s.Port()), nil
	case CommandGetWSLProxy:
		if s.secondaryListener == nil {
			return NotListeningForWSL, nil
		}
		return proxyURL(s.passwords.Current(), s.config.SecondaryListenAddress, s.Port()), nil
	default:
		return "", fmt.Errorf("Unknown command: `%s`", message.Command)
	}
}

// addAuthRoot marks pid as an auth root. A freshly started process may
// not be in the table yet, so registration is retried for a while.
func (s *Server) addAuthRoot(ctx context.Context, pid int) string {
	deadline := s.clock.Now().Add(authRootTimeout)
	for {
		if s.tracker.TrySetAuthRoot(pid) {
			return "OK"
		}
		if !s.clock.Now().Before(deadline) {
			s.logger.Warn("auth root registration failed", "pid", pid)
			return "Process not found."
		}
		select {
		case <-ctx.Done():
			return "Process not found."
		case <-s.clock.After(authRootRetryInterval):
		}
	}
}

func proxyURL(token, host string, port int) string {
	return "http://user:" + token + "@" + net.JoinHostPort(host, strconv.Itoa(port))
}
