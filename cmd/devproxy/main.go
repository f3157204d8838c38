// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Devproxy is a local TLS-intercepting forward proxy. It authenticates
// local clients by proxy password or by process ancestry and runs the
// configured request plugins on the traffic it forwards.
//
// Without a mode flag it runs the proxy. The query modes talk to a
// running proxy over its control socket:
//
//	devproxy --get_token
//	devproxy --get_proxy
//	devproxy --run -- make test
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/devproxy/lib/ipc"
	"github.com/bureau-foundation/devproxy/lib/process"
	"github.com/bureau-foundation/devproxy/lib/version"
	"github.com/bureau-foundation/devproxy/proxy"
)

// options holds the parsed command line.
type options struct {
	configPath         string
	port               int
	upstreamHTTPProxy  string
	upstreamHTTPSProxy string
	password           string
	logRequests        bool
	logLevel           string

	showVersion bool
	getToken    bool
	getProxy    bool
	getWSLProxy bool
	run         bool

	// command is the program and arguments for --run.
	command []string

	flagSet *pflag.FlagSet
}

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	opts, err := parseArgs(os.Args[1:])
	if err == pflag.ErrHelp {
		printHelp(os.Stderr, opts.flagSet)
		return nil
	}
	if err != nil {
		return err
	}

	if opts.showVersion {
		fmt.Printf("devproxy %s\n", version.Full())
		return nil
	}

	config, err := opts.loadConfig(os.Getenv)
	if err != nil {
		return err
	}

	level, err := proxy.ParseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case opts.getToken:
		return query(ctx, config.IPCSocketPath, proxy.CommandGetToken)
	case opts.getProxy:
		return query(ctx, config.IPCSocketPath, proxy.CommandGetProxy)
	case opts.getWSLProxy:
		return query(ctx, config.IPCSocketPath, proxy.CommandGetWSLProxy)
	case opts.run:
		// Interrupts reach the child through the process group. ctx
		// keeps them from killing us first.
		os.Exit(runChild(context.Background(), config.IPCSocketPath, opts.command))
	}

	return serve(ctx, config, logger)
}

// parseArgs parses the command line. On pflag.ErrHelp the returned
// options still carry the flag set for printing help.
func parseArgs(args []string) (*options, error) {
	opts := &options{}
	flagSet := pflag.NewFlagSet("devproxy", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.SetInterspersed(false)
	opts.flagSet = flagSet

	flagSet.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flagSet.IntVar(&opts.port, "port", 0, "proxy port (default 8888)")
	flagSet.StringVar(&opts.upstreamHTTPProxy, "upstream_http_proxy", "", "forward plain HTTP through this proxy (default $http_proxy)")
	flagSet.StringVar(&opts.upstreamHTTPSProxy, "upstream_https_proxy", "", "forward HTTPS through this proxy (default $https_proxy)")
	flagSet.StringVar(&opts.password, "password", "", "use this fixed password instead of a rotating one")
	flagSet.BoolVar(&opts.logRequests, "log_requests", false, "log every proxied request")
	flagSet.StringVar(&opts.logLevel, "log_level", "", "log level: debug, info, warn, error")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	flagSet.BoolVar(&opts.getToken, "get_token", false, "print the current proxy password of a running proxy")
	flagSet.BoolVar(&opts.getProxy, "get_proxy", false, "print the proxy URL of a running proxy")
	flagSet.BoolVar(&opts.getWSLProxy, "get_wsl_proxy", false, "print the proxy URL for the WSL2 address")
	flagSet.BoolVar(&opts.run, "run", false, "register this process as trusted, then run the remaining arguments")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if help, _ := flagSet.GetBool("help"); help {
		return opts, pflag.ErrHelp
	}
	opts.command = flagSet.Args()

	modes := 0
	for _, set := range []bool{opts.getToken, opts.getProxy, opts.getWSLProxy, opts.run} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return opts, errors.New("--get_token, --get_proxy, --get_wsl_proxy and --run are mutually exclusive")
	}
	if opts.run && len(opts.command) == 0 {
		return opts, errors.New("--run requires a program to run")
	}
	if !opts.run && len(opts.command) > 0 {
		return opts, fmt.Errorf("unexpected argument %q", opts.command[0])
	}
	return opts, nil
}

// loadConfig reads the config file, if any, then applies the flags
// that override it.
func (o *options) loadConfig(getenv func(string) string) (*proxy.Config, error) {
	var config *proxy.Config
	if o.configPath != "" {
		loaded, err := proxy.LoadConfig(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		config = loaded
	} else {
		config = proxy.DefaultConfig()
		config.ApplyEnvironment(getenv)
	}

	if o.flagSet.Changed("port") {
		config.Port = o.port
	}
	if o.upstreamHTTPProxy != "" {
		config.UpstreamHTTPProxy = o.upstreamHTTPProxy
	}
	if o.upstreamHTTPSProxy != "" {
		config.UpstreamHTTPSProxy = o.upstreamHTTPSProxy
	}
	if o.password != "" {
		config.Password.Type = proxy.PasswordFixed
		config.Password.Fixed = o.password
	}
	if o.logRequests {
		config.LogRequests = true
	}
	if o.logLevel != "" {
		config.LogLevel = o.logLevel
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func query(ctx context.Context, socketPath, command string) error {
	reply, err := ipc.Call(ctx, socketPath, ipc.Message{Command: command})
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

// runChild registers this process as an auth root so that the child
// and its descendants are trusted, then runs the child with our stdio.
// Returns the exit status to use.
func runChild(ctx context.Context, socketPath string, command []string) int {
	reply, err := ipc.Call(ctx, socketPath, ipc.Message{
		Command: proxy.CommandAddAuthRoot,
		Args:    map[string]string{"process_id": strconv.Itoa(os.Getpid())},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if reply != "OK" {
		fmt.Fprintf(os.Stderr, "error: registering with devproxy: %s\n", reply)
		return 1
	}

	child := exec.CommandContext(ctx, command[0], command[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	err = child.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return process.ExitCode(err)
}

func serve(ctx context.Context, config *proxy.Config, logger *slog.Logger) error {
	logger.Info("starting devproxy", "version", version.Info())

	server, err := proxy.NewServer(proxy.ServerConfig{
		Config: config,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		printBanner(os.Stdout, server)
	}

	return server.Run(ctx)
}

// printBanner tells an interactive user how to point clients at the
// proxy.
func printBanner(w io.Writer, server *proxy.Server) {
	fmt.Fprintf(w, "DevProxy is listening on %s\n\n", server.Addr())
	fmt.Fprintf(w, "Point clients at it with:\n\n")
	fmt.Fprintf(w, "  export http_proxy=$(devproxy --get_proxy)\n")
	fmt.Fprintf(w, "  export https_proxy=$http_proxy\n\n")
	fmt.Fprintf(w, "or run a trusted command without a password:\n\n")
	fmt.Fprintf(w, "  devproxy --run -- <program> [args...]\n\n")
	fmt.Fprintf(w, "HTTPS clients must trust the root certificate at:\n\n")
	fmt.Fprintf(w, "  %s\n\n", server.CertificatePath())
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `devproxy - local TLS-intercepting development proxy

Usage:
  devproxy [flags]                    run the proxy
  devproxy --get_token                print the current password
  devproxy --get_proxy                print the proxy URL
  devproxy --run -- <program> [args]  run a program trusted by the proxy

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
