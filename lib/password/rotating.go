// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package password

import (
	"errors"
	"sync"
	"time"

	"github.com/bureau-foundation/devproxy/lib/clock"
)

// RotatingConfig configures a Rotating provider.
type RotatingConfig struct {
	// BaseSecret is mixed into every token. Required.
	BaseSecret string

	// Lifetime is how long a token stays valid after a newer one has
	// been issued. Defaults to 24h.
	Lifetime time.Duration

	// RotationInterval is how often a new token is issued. Generations
	// start on multiples of the interval. Defaults to 1h.
	RotationInterval time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

type generation struct {
	start  time.Time
	value  string
	expiry time.Time
}

// Rotating is a Provider whose password changes every rotation
// interval. Safe for concurrent use.
type Rotating struct {
	secret   string
	lifetime time.Duration
	interval time.Duration
	clock    clock.Clock

	mu          sync.Mutex
	generations []generation // oldest first
	timer       *clock.Timer
	closed      bool
}

// NewRotating creates a Rotating provider, backfilling every generation
// that is still valid at the current time, and starts the rotation
// timer. Call Close to stop it.
func NewRotating(config RotatingConfig) (*Rotating, error) {
	if config.BaseSecret == "" {
		return nil, errors.New("rotating password requires a base secret")
	}
	if config.Lifetime == 0 {
		config.Lifetime = 24 * time.Hour
	}
	if config.RotationInterval == 0 {
		config.RotationInterval = time.Hour
	}
	if config.Lifetime < 0 || config.RotationInterval < 0 {
		return nil, errors.New("rotating password durations must be positive")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	r := &Rotating{
		secret:   config.BaseSecret,
		lifetime: config.Lifetime,
		interval: config.RotationInterval,
		clock:    config.Clock,
	}

	r.mu.Lock()
	now := r.clock.Now()
	for start := now.Add(-r.lifetime).Truncate(r.interval); !start.After(now); start = start.Add(r.interval) {
		r.appendLocked(start)
	}
	r.evictLocked(now)
	r.scheduleLocked(now)
	r.mu.Unlock()

	return r, nil
}

// Current returns the newest valid token.
func (r *Rotating) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catchUpLocked(r.clock.Now())
	return r.generations[len(r.generations)-1].value
}

// Check reports whether candidate matches any generation that has not
// expired.
func (r *Rotating) Check(candidate string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catchUpLocked(r.clock.Now())
	for i := len(r.generations) - 1; i >= 0; i-- {
		if equal(r.generations[i].value, candidate) {
			return true
		}
	}
	return false
}

// Close stops rotation. Tokens issued so far keep their expiry.
func (r *Rotating) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	return nil
}

func (r *Rotating) rotate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	now := r.clock.Now()
	r.catchUpLocked(now)
	r.scheduleLocked(now)
}

// catchUpLocked issues the generation for now's interval if the timer
// has not done so yet, and drops expired generations. Reads therefore
// stay correct even when the timer stops firing.
func (r *Rotating) catchUpLocked(now time.Time) {
	current := now.Truncate(r.interval)
	newest := r.generations[len(r.generations)-1].start
	if current.After(newest) {
		r.appendLocked(current)
	}
	r.evictLocked(now)
}

func (r *Rotating) appendLocked(start time.Time) {
	r.generations = append(r.generations, generation{
		start: start,
		value: Token(r.secret, start),
		// Current for one interval, then valid for Lifetime more.
		expiry: start.Add(r.interval + r.lifetime),
	})
}

// evictLocked removes expired generations from the front. The newest
// generation is never removed.
func (r *Rotating) evictLocked(now time.Time) {
	keep := 0
	for keep < len(r.generations)-1 && now.After(r.generations[keep].expiry) {
		keep++
	}
	r.generations = r.generations[keep:]
}

func (r *Rotating) scheduleLocked(now time.Time) {
	next := now.Truncate(r.interval).Add(r.interval)
	r.timer = r.clock.AfterFunc(next.Sub(now), r.rotate)
}
