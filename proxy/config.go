// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/devproxy/lib/clock"
	"github.com/bureau-foundation/devproxy/lib/ipc"
	"github.com/bureau-foundation/devproxy/lib/password"
)

// Password types.
const (
	PasswordRotating = "rotating"
	PasswordFixed    = "fixed"
)

// DefaultPort is used when the configuration does not name a port.
const DefaultPort = 8888

// SecretFile holds the generated rotating password secret inside the
// certificate directory.
const SecretFile = "devproxy-secret"

// Config is the top-level configuration for DevProxy.
type Config struct {
	// ListenAddress is the loopback address the proxy binds.
	// Defaults to 127.0.0.1.
	ListenAddress string `yaml:"listen_address"`

	// Port is the proxy port on every listen address. Defaults to 8888
	// when absent; an explicit 0 binds a free port.
	Port int `yaml:"port"`

	// SecondaryListenAddress is an optional second address, typically
	// the host side of a WSL2 virtual network. Failing to bind it is
	// logged, not fatal.
	SecondaryListenAddress string `yaml:"secondary_listen_address"`

	// IPCSocketPath is the control socket used by --get_token, --run
	// and friends. Defaults to $XDG_RUNTIME_DIR/devproxy.sock.
	IPCSocketPath string `yaml:"ipc_socket_path"`

	// UpstreamHTTPProxy and UpstreamHTTPSProxy forward outbound traffic
	// through another proxy. They default to the http_proxy and
	// https_proxy environment variables.
	UpstreamHTTPProxy  string `yaml:"upstream_http_proxy"`
	UpstreamHTTPSProxy string `yaml:"upstream_https_proxy"`

	// Password configures the proxy password.
	Password PasswordConfig `yaml:"password"`

	// CertificateDirectory holds the root certificate and key, and the
	// generated password secret. Defaults to <user config dir>/devproxy.
	CertificateDirectory string `yaml:"certificate_directory"`

	// LogRequests appends a RequestLog plugin that logs every request.
	LogRequests bool `yaml:"log_requests"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	// ProcessPollInterval is how often the process table is refreshed.
	// Defaults to 200ms.
	ProcessPollInterval time.Duration `yaml:"process_poll_interval"`

	// Plugins is the ordered plugin list. Entries are either a plugin
	// name or a mapping with name and options:
	//   - ProxyAuthorizationHeader
	//   - {name: HostRules, options: {rules: [...]}}
	// Defaults to ProxyAuthorizationHeader followed by ProcessTree.
	Plugins []PluginConfig `yaml:"plugins"`
}

// PasswordConfig selects and configures the password provider.
type PasswordConfig struct {
	// Type is "rotating" (default) or "fixed".
	Type string `yaml:"type"`

	// Fixed is the password for the fixed type.
	Fixed string `yaml:"fixed"`

	Rotating RotatingPasswordConfig `yaml:"rotating"`
}

// RotatingPasswordConfig configures the rotating password.
type RotatingPasswordConfig struct {
	// BaseSecret seeds every token. When empty a random secret is
	// generated once and kept in the certificate directory, so tokens
	// survive restarts.
	BaseSecret string `yaml:"base_secret"`

	// Lifetime defaults to 24h.
	Lifetime time.Duration `yaml:"lifetime"`

	// RotationInterval defaults to 1h.
	RotationInterval time.Duration `yaml:"rotation_interval"`
}

// PluginConfig names a plugin and carries its options, which the plugin
// decodes itself.
type PluginConfig struct {
	Name    string     `yaml:"name"`
	Options yaml.Node `yaml:"options"`
}

// UnmarshalYAML implements custom unmarshaling to support both string and struct forms.
// Simple form:   - ProcessTree
// Extended form: - {name: HostRules, options: {...}}
func (p *PluginConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.Name = value.Value
		p.Options = yaml.Node{}
		return nil
	}

	type rawPluginConfig PluginConfig
	var raw rawPluginConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = PluginConfig(raw)
	return nil
}

// DefaultConfig returns a configuration with every default applied and
// no environment consulted.
func DefaultConfig() *Config {
	config := &Config{Port: DefaultPort}
	config.applyDefaults(func(string) string { return "" })
	return config
}

// LoadConfig loads a configuration from a YAML file and applies
// defaults, taking upstream proxies from the environment when the file
// names none.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Fields absent from the file keep their preset value.
	config := Config{Port: DefaultPort}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults(os.Getenv)
	return &config, nil
}

// ApplyEnvironment fills the upstream proxies from http_proxy and
// https_proxy when they are unset.
func (c *Config) ApplyEnvironment(getenv func(string) string) {
	if c.UpstreamHTTPProxy == "" {
		c.UpstreamHTTPProxy = firstNonEmpty(getenv("http_proxy"), getenv("HTTP_PROXY"))
	}
	if c.UpstreamHTTPSProxy == "" {
		c.UpstreamHTTPSProxy = firstNonEmpty(getenv("https_proxy"), getenv("HTTPS_PROXY"))
	}
}

func (c *Config) applyDefaults(getenv func(string) string) {
	if c.ListenAddress == "" {
		c.ListenAddress = "127.0.0.1"
	}
	if c.IPCSocketPath == "" {
		c.IPCSocketPath = ipc.DefaultSocketPath()
	}
	if c.Password.Type == "" {
		c.Password.Type = PasswordRotating
	}
	if c.Password.Rotating.Lifetime == 0 {
		c.Password.Rotating.Lifetime = 24 * time.Hour
	}
	if c.Password.Rotating.RotationInterval == 0 {
		c.Password.Rotating.RotationInterval = time.Hour
	}
	if c.CertificateDirectory == "" {
		c.CertificateDirectory = defaultCertificateDirectory()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ProcessPollInterval == 0 {
		c.ProcessPollInterval = 200 * time.Millisecond
	}
	if c.Plugins == nil {
		c.Plugins = []PluginConfig{{Name: "ProxyAuthorizationHeader"}, {Name: "ProcessTree"}}
	}
	c.ApplyEnvironment(getenv)
}

func defaultCertificateDirectory() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "devproxy")
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen_address is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if c.IPCSocketPath == "" {
		return fmt.Errorf("ipc_socket_path is required")
	}
	if c.CertificateDirectory == "" {
		return fmt.Errorf("certificate_directory is required")
	}

	switch c.Password.Type {
	case PasswordFixed:
		if c.Password.Fixed == "" {
			return fmt.Errorf("password.fixed is required for the fixed password type")
		}
	case PasswordRotating:
		rotating := c.Password.Rotating
		if rotating.RotationInterval <= 0 {
			return fmt.Errorf("password.rotating.rotation_interval must be positive")
		}
		if rotating.Lifetime < rotating.RotationInterval {
			return fmt.Errorf("password.rotating.lifetime (%s) must be at least the rotation interval (%s)",
				rotating.Lifetime, rotating.RotationInterval)
		}
	default:
		return fmt.Errorf("password.type must be %q or %q, got %q", PasswordRotating, PasswordFixed, c.Password.Type)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ProcessPollInterval <= 0 {
		return fmt.Errorf("process_poll_interval must be positive")
	}
	if _, _, err := c.UpstreamProxies(); err != nil {
		return err
	}

	for index, plugin := range c.Plugins {
		if _, ok := builtinPlugins[plugin.Name]; !ok {
			return fmt.Errorf("plugins[%d]: unknown plugin %q (available: %s)",
				index, plugin.Name, strings.Join(PluginNames(), ", "))
		}
	}
	return nil
}

// PluginList returns the configured plugins, with the request logger
// appended when LogRequests is set.
func (c *Config) PluginList() []PluginConfig {
	plugins := append([]PluginConfig(nil), c.Plugins...)
	if c.LogRequests {
		var options yaml.Node
		// One rule with an empty filter matches every request.
		if err := options.Encode(RequestLogOptions{Rules: []RequestLogRule{{}}}); err == nil {
			plugins = append(plugins, PluginConfig{Name: "RequestLog", Options: options})
		}
	}
	return plugins
}

// UpstreamProxies parses the upstream proxy URLs. Unset ones are nil.
func (c *Config) UpstreamProxies() (httpProxy, httpsProxy *url.URL, err error) {
	httpProxy, err = parseProxyURL("upstream_http_proxy", c.UpstreamHTTPProxy)
	if err != nil {
		return nil, nil, err
	}
	httpsProxy, err = parseProxyURL("upstream_https_proxy", c.UpstreamHTTPSProxy)
	if err != nil {
		return nil, nil, err
	}
	return httpProxy, httpsProxy, nil
}

func parseProxyURL(field, value string) (*url.URL, error) {
	if value == "" {
		return nil, nil
	}
	if !strings.Contains(value, "://") {
		value = "http://" + value
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%s: %q has no host", field, value)
	}
	return parsed, nil
}

// ParseLogLevel parses a log_level value.
func ParseLogLevel(level string) (slog.Level, error) {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return parsed, nil
}

// NewPasswordProvider builds the configured provider. The returned
// close function stops password rotation.
func (c *Config) NewPasswordProvider(clk clock.Clock) (password.Provider, func() error, error) {
	if c.Password.Type == PasswordFixed {
		return password.Fixed(c.Password.Fixed), func() error { return nil }, nil
	}

	secret := c.Password.Rotating.BaseSecret
	if secret == "" {
		var err error
		secret, err = loadOrCreateSecret(c.CertificateDirectory)
		if err != nil {
			return nil, nil, err
		}
	}
	rotating, err := password.NewRotating(password.RotatingConfig{
		BaseSecret:       secret,
		Lifetime:         c.Password.Rotating.Lifetime,
		RotationInterval: c.Password.Rotating.RotationInterval,
		Clock:            clk,
	})
	if err != nil {
		return nil, nil, err
	}
	return rotating, rotating.Close, nil
}

func loadOrCreateSecret(directory string) (string, error) {
	path := filepath.Join(directory, SecretFile)
	data, err := os.ReadFile(path)
	if err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read password secret: %w", err)
	}

	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("failed to generate password secret: %w", err)
	}
	secret := hex.EncodeToString(random)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return "", fmt.Errorf("failed to create certificate directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write password secret: %w", err)
	}
	return secret, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
