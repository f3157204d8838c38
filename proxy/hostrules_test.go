// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/bureau-foundation/devproxy/mitm"
)

func testHostRules(t *testing.T) *HostRulesPlugin {
	t.Helper()
	plugin, err := NewHostRulesPlugin(HostRulesOptions{Rules: []HostRuleConfig{
		{Action: "allow", HostRegex: `.*dev\.azure\.com`, PathRegex: "/mseng/.*"},
		{Action: "block", HostRegex: `.*dev\.azure\.com`, PathRegex: ".*"},
		{Action: "block", HostRegex: `blockeddomain1\.com`, PathRegex: ".*"},
		{Action: "Block", HostRegex: `blockeddomain2\.com`},
		{Action: "allow", HostRegex: `^open\.example\.com$`},
	}})
	if err != nil {
		t.Fatalf("NewHostRulesPlugin: %v", err)
	}
	return plugin
}

func TestHostRulesAuthenticate(t *testing.T) {
	plugin := testHostRules(t)

	tests := []struct {
		target     string
		wantResult AuthResult
		wantNote   string
	}{
		{"http://elsewhere.org/", NoOpinion, "elsewhere.org_matches_no_host_rules."},
		{"http://blockeddomain1.com/", Rejected, `blockeddomain1.com_blocked_by_rule_blockeddomain1\.com/*.`},
		{"http://blockeddomain2.com/", Rejected, `blockeddomain2.com_blocked_by_rule_blockeddomain2\.com/*.`},
		{"http://open.example.com/", NoOpinion, `open.example.com_allowed_by_^open\.example\.com$/*.`},
		{"http://dev.azure.com/", NoOpinion, "dev.azure.com_depends_on_path."},
	}
	for _, test := range tests {
		result, note := plugin.Authenticate(context.Background(), sessionFor(http.MethodGet, test.target))
		if result != test.wantResult || note != test.wantNote {
			t.Errorf("Authenticate(%s) = %v, %q; want %v, %q", test.target, result, note, test.wantResult, test.wantNote)
		}
	}
}

func TestHostRulesRequestPhase(t *testing.T) {
	plugin := testHostRules(t)

	tests := []struct {
		name       string
		target     string
		wantResult RequestResult
		wantStatus int
		wantHeader string
	}{
		{
			name:       "allowed path",
			target:     "https://dev.azure.com/mseng/hello",
			wantResult: RequestContinue,
			wantHeader: `allow .*dev\.azure\.com/mseng/.*`,
		},
		{
			name:       "blocked path",
			target:     "https://dev.azure.com/other/hello",
			wantResult: RequestStop,
			wantStatus: http.StatusUnavailableForLegalReasons,
			wantHeader: `block .*dev\.azure\.com.*`,
		},
		{
			name:       "no rule matches",
			target:     "https://elsewhere.org/",
			wantResult: RequestContinue,
			wantHeader: "None",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			session := sessionFor(http.MethodGet, test.target)
			result, err := plugin.BeforeRequest(context.Background(), session)
			if err != nil {
				t.Fatalf("BeforeRequest: %v", err)
			}
			if result != test.wantResult {
				t.Fatalf("result = %v, want %v", result, test.wantResult)
			}
			if test.wantStatus != 0 {
				if !session.Responded() || session.Response().StatusCode != test.wantStatus {
					t.Fatalf("blocked request was not answered with %d", test.wantStatus)
				}
			} else {
				if session.Responded() {
					t.Fatal("allowed request was answered locally")
				}
				session.exchange.Response = mitm.NewResponse(session.Request(), http.StatusOK, nil, "")
			}

			if _, err := plugin.BeforeResponse(context.Background(), session); err != nil {
				t.Fatalf("BeforeResponse: %v", err)
			}
			if got := session.Response().Header.Get(HostRuleHeader); got != test.wantHeader {
				t.Fatalf("%s = %q, want %q", HostRuleHeader, got, test.wantHeader)
			}
		})
	}
}

func TestHostRulesBlockedResponseBody(t *testing.T) {
	plugin := testHostRules(t)
	session := sessionFor(http.MethodGet, "https://blockeddomain1.com/x")
	if _, err := plugin.BeforeRequest(context.Background(), session); err != nil {
		t.Fatalf("BeforeRequest: %v", err)
	}
	body := make([]byte, 128)
	n, _ := session.Response().Body.Read(body)
	if got := string(body[:n]); !strings.HasPrefix(got, `Blocked by blockeddomain1\.com / .*`) {
		t.Fatalf("body = %q", got)
	}
}

func TestHostRulesRelevance(t *testing.T) {
	plugin := testHostRules(t)
	if !plugin.IsHostRelevant("dev.azure.com") {
		t.Error("dev.azure.com should be relevant")
	}
	if plugin.IsHostRelevant("elsewhere.org") {
		t.Error("elsewhere.org should not be relevant")
	}
}

func TestHostRulesOptionErrors(t *testing.T) {
	tests := []struct {
		name    string
		options HostRulesOptions
		want    string
	}{
		{"no rules", HostRulesOptions{}, "at least one rule"},
		{"bad action", HostRulesOptions{Rules: []HostRuleConfig{{Action: "maybe", HostRegex: "x"}}}, "action must be"},
		{"missing host", HostRulesOptions{Rules: []HostRuleConfig{{Action: "allow"}}}, "host_regex is required"},
		{"bad regex", HostRulesOptions{Rules: []HostRuleConfig{{Action: "allow", HostRegex: "("}}}, "invalid host_regex"},
	}
	for _, test := range tests {
		_, err := NewHostRulesPlugin(test.options)
		if err == nil || !strings.Contains(err.Error(), test.want) {
			t.Errorf("%s: error = %v, want containing %q", test.name, err, test.want)
		}
	}
}
