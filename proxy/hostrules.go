// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bureau-foundation/devproxy/mitm"
)

// HostRuleHeader names the response header that reports which host
// rule decided a request.
const HostRuleHeader = "X-DevProxy-HostRules-Rule"

// RuleAction is what a host rule does with the requests it matches.
type RuleAction string

const (
	RuleAllow RuleAction = "allow"
	RuleBlock RuleAction = "block"
)

// HostRuleConfig is the YAML form of a HostRule.
type HostRuleConfig struct {
	Action    string `yaml:"action"`
	HostRegex string `yaml:"host_regex"`
	PathRegex string `yaml:"path_regex"`
}

// HostRulesOptions are the options of the HostRules plugin.
type HostRulesOptions struct {
	Rules []HostRuleConfig `yaml:"rules"`
}

// HostRule allows or blocks the requests its filter matches.
type HostRule struct {
	Action RuleAction
	Filter *URLFilter
}

func (r *HostRule) String() string {
	return string(r.Action) + " " + r.Filter.String()
}

// HostRulesPlugin limits which hosts and paths clients may reach. The
// first rule matching a request decides it; requests no rule matches
// are allowed.
//
// As an auth plugin it rejects sessions to hosts that are blocked as a
// whole, so clients never get a tunnel to them. As a request plugin it
// answers 451 to requests for blocked paths.
type HostRulesPlugin struct {
	rules []*HostRule
}

var (
	_ AuthPlugin    = (*HostRulesPlugin)(nil)
	_ RequestPlugin = (*HostRulesPlugin)(nil)
)

// NewHostRulesPlugin compiles options. At least one rule is required.
func NewHostRulesPlugin(options HostRulesOptions) (*HostRulesPlugin, error) {
	if len(options.Rules) == 0 {
		return nil, errors.New("host rules require at least one rule")
	}
	plugin := &HostRulesPlugin{}
	for index, config := range options.Rules {
		action := RuleAction(strings.ToLower(config.Action))
		if action != RuleAllow && action != RuleBlock {
			return nil, fmt.Errorf("rule %d: action must be %q or %q, got %q", index, RuleAllow, RuleBlock, config.Action)
		}
		if strings.TrimSpace(config.HostRegex) == "" {
			return nil, fmt.Errorf("rule %d: host_regex is required", index)
		}
		filter, err := NewURLFilter(URLFilterConfig{HostRegex: config.HostRegex, PathRegex: config.PathRegex})
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", index, err)
		}
		plugin.rules = append(plugin.rules, &HostRule{Action: action, Filter: filter})
	}
	return plugin, nil
}

func (p *HostRulesPlugin) Name() string { return "HostRules" }

// Authenticate rejects a host only when a whole-host block matches it
// and no allow rule does. Otherwise the decision depends on the path
// and is left to the request phase.
func (p *HostRulesPlugin) Authenticate(_ context.Context, session *Session) (AuthResult, string) {
	host := session.Host()

	var allows, blocks []*HostRule
	for _, rule := range p.rules {
		if !rule.Filter.MatchHost(host) {
			continue
		}
		if rule.Action == RuleAllow {
			allows = append(allows, rule)
		} else {
			blocks = append(blocks, rule)
		}
	}

	if len(allows) == 0 && len(blocks) == 0 {
		return NoOpinion, host + "_matches_no_host_rules."
	}
	if len(allows) == 0 {
		if rule := wholeHostRule(blocks); rule != nil {
			return Rejected, host + "_blocked_by_rule_" + patternString(rule.Filter.host) + "/*."
		}
	}
	if len(blocks) == 0 {
		if rule := wholeHostRule(allows); rule != nil {
			return NoOpinion, host + "_allowed_by_" + patternString(rule.Filter.host) + "/*."
		}
	}
	return NoOpinion, host + "_depends_on_path."
}

func wholeHostRule(rules []*HostRule) *HostRule {
	for _, rule := range rules {
		if rule.Filter.AnyPath() {
			return rule
		}
	}
	return nil
}

func (p *HostRulesPlugin) IsHostRelevant(host string) bool {
	for _, rule := range p.rules {
		if rule.Filter.MatchHost(host) {
			return true
		}
	}
	return false
}

func (p *HostRulesPlugin) BeforeRequest(_ context.Context, session *Session) (RequestResult, error) {
	request := session.Request()
	for _, rule := range p.rules {
		if !rule.Filter.MatchURL(request.URL) {
			continue
		}
		SetSessionData(session, p.Name(), rule)
		if rule.Action == RuleAllow {
			return RequestContinue, nil
		}
		header := make(http.Header)
		header.Set(HostRuleHeader, rule.String())
		session.Respond(mitm.NewResponse(request, http.StatusUnavailableForLegalReasons, header,
			fmt.Sprintf("Blocked by %s / %s\n", patternString(rule.Filter.host), patternString(rule.Filter.path))))
		return RequestStop, nil
	}
	SetSessionData(session, p.Name(), (*HostRule)(nil))
	return RequestContinue, nil
}

func (p *HostRulesPlugin) BeforeResponse(_ context.Context, session *Session) (ResponseResult, error) {
	response := session.Response()
	if response == nil || response.Header.Get(HostRuleHeader) != "" {
		return ResponseContinue, nil
	}
	value := "None"
	if rule, ok := SessionData[*HostRule](session, p.Name()); ok && rule != nil {
		value = rule.String()
	}
	response.Header.Set(HostRuleHeader, value)
	return ResponseContinue, nil
}
