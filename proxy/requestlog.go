// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// RequestLogOptions are the options of the RequestLog plugin.
type RequestLogOptions struct {
	Rules []RequestLogRule `yaml:"rules"`
}

// RequestLogRule selects requests to log.
type RequestLogRule struct {
	Filter URLFilterConfig `yaml:"filter"`
}

// RequestLogPlugin logs a START line before matching requests are
// forwarded and an END line with the status once the response is
// known. The END line carries the response's DevProxy headers, which
// explain what the proxy did to the request.
type RequestLogPlugin struct {
	filters []*URLFilter
	logger  *slog.Logger
}

// NewRequestLogPlugin compiles options. No rules means no request is
// logged.
func NewRequestLogPlugin(options RequestLogOptions, logger *slog.Logger) (*RequestLogPlugin, error) {
	if logger == nil {
		logger = slog.Default()
	}
	plugin := &RequestLogPlugin{logger: logger}
	for index, rule := range options.Rules {
		filter, err := NewURLFilter(rule.Filter)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", index, err)
		}
		plugin.filters = append(plugin.filters, filter)
	}
	return plugin, nil
}

func (p *RequestLogPlugin) Name() string { return "RequestLog" }

func (p *RequestLogPlugin) IsHostRelevant(host string) bool {
	for _, filter := range p.filters {
		if filter.MatchHost(host) {
			return true
		}
	}
	return false
}

func (p *RequestLogPlugin) BeforeRequest(ctx context.Context, session *Session) (RequestResult, error) {
	request := session.Request()
	matched := p.matches(request.URL)
	SetSessionData(session, p.Name(), matched)
	if matched {
		p.logger.InfoContext(ctx, "START",
			"session", session.ID,
			"method", request.Method,
			"url", withoutQuery(request.URL),
		)
	}
	return RequestContinue, nil
}

func (p *RequestLogPlugin) BeforeResponse(ctx context.Context, session *Session) (ResponseResult, error) {
	if matched, _ := SessionData[bool](session, p.Name()); !matched {
		return ResponseContinue, nil
	}
	request := session.Request()
	attributes := []any{
		"session", session.ID,
		"method", request.Method,
		"url", withoutQuery(request.URL),
	}
	if response := session.Response(); response != nil {
		attributes = append(attributes, "status", response.StatusCode)
		if headers := devProxyHeaders(response.Header); len(headers) > 0 {
			attributes = append(attributes, "headers", headers)
		}
	}
	p.logger.InfoContext(ctx, "END", attributes...)
	return ResponseContinue, nil
}

func (p *RequestLogPlugin) matches(u *url.URL) bool {
	for _, filter := range p.filters {
		if filter.MatchURL(u) {
			return true
		}
	}
	return false
}

func withoutQuery(u *url.URL) string {
	stripped := *u
	stripped.RawQuery = ""
	stripped.ForceQuery = false
	stripped.Fragment = ""
	return stripped.String()
}

// devProxyHeaders returns the response headers the proxy itself added.
func devProxyHeaders(header http.Header) map[string]string {
	headers := make(map[string]string)
	for name, values := range header {
		if strings.Contains(strings.ToLower(name), "devproxy") {
			headers[name] = strings.Join(values, ", ")
		}
	}
	return headers
}
