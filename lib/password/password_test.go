// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package password

import (
	"testing"
	"time"

	"github.com/bureau-foundation/devproxy/lib/clock"
)

var epoch = time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)

func newTestRotating(t *testing.T, fake *clock.FakeClock) *Rotating {
	t.Helper()
	provider, err := NewRotating(RotatingConfig{
		BaseSecret:       "base-secret",
		Lifetime:         2 * time.Hour,
		RotationInterval: time.Hour,
		Clock:            fake,
	})
	if err != nil {
		t.Fatalf("NewRotating: %v", err)
	}
	t.Cleanup(func() { provider.Close() })
	return provider
}

func TestFixed(t *testing.T) {
	provider := Fixed("hunter2")
	if provider.Current() != "hunter2" {
		t.Fatalf("Current() = %q", provider.Current())
	}
	if !provider.Check("hunter2") {
		t.Fatal("Check rejected the configured password")
	}
	for _, candidate := range []string{"", "hunter", "hunter22", "HUNTER2"} {
		if provider.Check(candidate) {
			t.Fatalf("Check(%q) accepted", candidate)
		}
	}
}

func TestTokenIsDeterministicPerGeneration(t *testing.T) {
	first := Token("secret", epoch)
	if len(first) != tokenLength {
		t.Fatalf("len(Token) = %d, want %d", len(first), tokenLength)
	}
	if Token("secret", epoch) != first {
		t.Fatal("Token is not deterministic")
	}
	if Token("secret", epoch.Add(time.Hour)) == first {
		t.Fatal("Token did not change with the generation time")
	}
	if Token("other", epoch) == first {
		t.Fatal("Token did not change with the secret")
	}
}

func TestHashDoesNotRevealValue(t *testing.T) {
	hashed := Hash("hunter2")
	if hashed == "hunter2" || len(hashed) != tokenLength {
		t.Fatalf("Hash(hunter2) = %q", hashed)
	}
	if Hash("hunter2") != hashed {
		t.Fatal("Hash is not deterministic")
	}
}

func TestRotatingCurrentIsNewestGeneration(t *testing.T) {
	fake := clock.Fake(epoch)
	provider := newTestRotating(t, fake)

	hourStart := epoch.Truncate(time.Hour)
	if got, want := provider.Current(), Token("base-secret", hourStart); got != want {
		t.Fatalf("Current() = %q, want %q", got, want)
	}

	fake.Advance(30 * time.Minute)
	if got, want := provider.Current(), Token("base-secret", hourStart.Add(time.Hour)); got != want {
		t.Fatalf("after rotation Current() = %q, want %q", got, want)
	}
	if fake.PendingCount() != 1 {
		t.Fatalf("PendingCount() = %d, want the next rotation armed", fake.PendingCount())
	}
}

func TestRotatingBackfillAcceptsEarlierGenerations(t *testing.T) {
	fake := clock.Fake(epoch)
	provider := newTestRotating(t, fake)

	for _, start := range []time.Time{
		time.Date(2026, 2, 28, 22, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	} {
		if !provider.Check(Token("base-secret", start)) {
			t.Fatalf("backfilled generation %v rejected", start)
		}
	}
	if provider.Check(Token("base-secret", time.Date(2026, 2, 28, 21, 0, 0, 0, time.UTC))) {
		t.Fatal("generation older than the lifetime accepted")
	}
}

func TestRotatingTokenWindow(t *testing.T) {
	fake := clock.Fake(epoch)
	provider := newTestRotating(t, fake)
	issued := provider.Current()

	// Valid through issue time + lifetime.
	fake.Advance(2 * time.Hour)
	if !provider.Check(issued) {
		t.Fatal("token rejected within its lifetime")
	}
	if provider.Current() == issued {
		t.Fatal("token did not rotate")
	}

	// Rejected after lifetime plus one interval of drift.
	fake.Advance(time.Hour + time.Second)
	if provider.Check(issued) {
		t.Fatal("token accepted after lifetime plus one interval")
	}
}

func TestRotatingRestartAcceptsPredecessorTokens(t *testing.T) {
	first := newTestRotating(t, clock.Fake(epoch))
	issued := first.Current()

	second := newTestRotating(t, clock.Fake(epoch.Add(75*time.Minute)))
	if !second.Check(issued) {
		t.Fatal("restarted provider rejected a token issued by its predecessor")
	}
}

func TestRotatingKeepsRotatingWithoutTimer(t *testing.T) {
	fake := clock.Fake(epoch)
	provider := newTestRotating(t, fake)
	issued := provider.Current()

	provider.Close()
	if fake.PendingCount() != 0 {
		t.Fatalf("PendingCount() = %d after Close, want 0", fake.PendingCount())
	}

	fake.Advance(4 * time.Hour)
	if provider.Current() == issued {
		t.Fatal("Current() still returns an expired generation")
	}
	if provider.Check(issued) {
		t.Fatal("expired token accepted")
	}
}

func TestNewRotatingRequiresSecret(t *testing.T) {
	if _, err := NewRotating(RotatingConfig{}); err == nil {
		t.Fatal("NewRotating without a base secret succeeded")
	}
}
