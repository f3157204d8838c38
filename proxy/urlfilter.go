// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// URLFilterConfig is the YAML form of a URLFilter.
type URLFilterConfig struct {
	// HostRegex is matched against the host name without port. Empty
	// matches every host.
	HostRegex string `yaml:"host_regex"`

	// PathRegex is matched against the path and query. Empty or ".*"
	// matches every path.
	PathRegex string `yaml:"path_regex"`
}

// URLFilter selects requests by host and path. Patterns are
// unanchored: "example" matches "api.example.com". Anchor with ^ and $
// where needed.
type URLFilter struct {
	host *regexp.Regexp
	path *regexp.Regexp
}

// NewURLFilter compiles config.
func NewURLFilter(config URLFilterConfig) (*URLFilter, error) {
	filter := &URLFilter{}
	if strings.TrimSpace(config.HostRegex) != "" {
		host, err := regexp.Compile(config.HostRegex)
		if err != nil {
			return nil, fmt.Errorf("invalid host_regex %q: %w", config.HostRegex, err)
		}
		filter.host = host
	}
	if strings.TrimSpace(config.PathRegex) != "" && config.PathRegex != ".*" {
		path, err := regexp.Compile(config.PathRegex)
		if err != nil {
			return nil, fmt.Errorf("invalid path_regex %q: %w", config.PathRegex, err)
		}
		filter.path = path
	}
	return filter, nil
}

// MatchHost reports whether host passes the host pattern.
func (f *URLFilter) MatchHost(host string) bool {
	return f.host == nil || f.host.MatchString(host)
}

// MatchPath reports whether pathAndQuery passes the path pattern.
func (f *URLFilter) MatchPath(pathAndQuery string) bool {
	return f.path == nil || f.path.MatchString(pathAndQuery)
}

// MatchURL reports whether both patterns match u.
func (f *URLFilter) MatchURL(u *url.URL) bool {
	return f.MatchHost(u.Hostname()) && f.MatchPath(u.RequestURI())
}

// AnyPath reports whether the filter ignores the path.
func (f *URLFilter) AnyPath() bool {
	return f.path == nil
}

func (f *URLFilter) String() string {
	return patternString(f.host) + patternString(f.path)
}

func patternString(pattern *regexp.Regexp) string {
	if pattern == nil {
		return ".*"
	}
	return pattern.String()
}
