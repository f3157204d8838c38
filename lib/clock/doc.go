// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for DevProxy components that wait,
// expire, or rotate on a schedule.
//
// Password rotation, auth-root registration retries, and the process
// ancestry walk all measure time through a [Clock]. Production wires
// [Real]; tests wire [Fake] and drive time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go tracker.TryGetAuthRoot(ctx, pid) // sleeps on fake
//	fake.WaitForTimers(1)
//	fake.Advance(100 * time.Millisecond)
//
// WaitForTimers closes the race between a goroutine registering a sleep
// and the test advancing past it.
package clock
