// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/devproxy/lib/password"
	"github.com/bureau-foundation/devproxy/lib/sockowner"
)

// PluginDeps are the collaborators plugin factories draw on.
type PluginDeps struct {
	Passwords  password.Provider
	Correlator sockowner.Correlator
	Roots      AuthRootFinder
	Logger     *slog.Logger
}

// pluginFactory builds one plugin from its options. The result
// implements AuthPlugin, RequestPlugin or both.
type pluginFactory func(options *yaml.Node, deps PluginDeps) (any, error)

var builtinPlugins = map[string]pluginFactory{
	"ProxyAuthorizationHeader": func(_ *yaml.Node, deps PluginDeps) (any, error) {
		if deps.Passwords == nil {
			return nil, errors.New("requires a password provider")
		}
		return NewProxyAuthorizationPlugin(deps.Passwords), nil
	},
	"AuthorizationHeader": func(_ *yaml.Node, deps PluginDeps) (any, error) {
		if deps.Passwords == nil {
			return nil, errors.New("requires a password provider")
		}
		return NewAuthorizationPlugin(deps.Passwords), nil
	},
	"ProcessTree": func(_ *yaml.Node, deps PluginDeps) (any, error) {
		if deps.Correlator == nil || deps.Roots == nil {
			return nil, errors.New("requires a connection correlator and a process tracker")
		}
		return NewProcessTreePlugin(deps.Correlator, deps.Roots), nil
	},
	"HostRules": func(options *yaml.Node, _ PluginDeps) (any, error) {
		var decoded HostRulesOptions
		if err := decodeOptions(options, &decoded); err != nil {
			return nil, err
		}
		return NewHostRulesPlugin(decoded)
	},
	"RequestLog": func(options *yaml.Node, deps PluginDeps) (any, error) {
		var decoded RequestLogOptions
		if err := decodeOptions(options, &decoded); err != nil {
			return nil, err
		}
		return NewRequestLogPlugin(decoded, deps.Logger)
	},
}

// PluginNames lists the plugins a configuration may name.
func PluginNames() []string {
	names := make([]string, 0, len(builtinPlugins))
	for name := range builtinPlugins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// BuildPlugins instantiates configs in order and sorts the results into
// the auth chain and the request chain. A plugin implementing both
// joins both chains. TunnelPlugin always leads the auth chain.
func BuildPlugins(configs []PluginConfig, deps PluginDeps) ([]AuthPlugin, []RequestPlugin, error) {
	authPlugins := []AuthPlugin{TunnelPlugin{}}
	var requestPlugins []RequestPlugin

	for _, config := range configs {
		factory, ok := builtinPlugins[config.Name]
		if !ok {
			return nil, nil, fmt.Errorf("unknown plugin %q (available: %s)", config.Name, strings.Join(PluginNames(), ", "))
		}
		plugin, err := factory(&config.Options, deps)
		if err != nil {
			return nil, nil, fmt.Errorf("plugin %s: %w", config.Name, err)
		}
		if authPlugin, ok := plugin.(AuthPlugin); ok {
			authPlugins = append(authPlugins, authPlugin)
		}
		if requestPlugin, ok := plugin.(RequestPlugin); ok {
			requestPlugins = append(requestPlugins, requestPlugin)
		}
	}
	return authPlugins, requestPlugins, nil
}

func decodeOptions(options *yaml.Node, target any) error {
	if options.Kind == 0 {
		return nil
	}
	if err := options.Decode(target); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
