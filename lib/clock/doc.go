// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for every component that schedules
// work: sync-loop backoff, TURN credential polling, write-echo
// timeouts, and token expiry checks.
//
// Components take a Clock and default to Real() when none is given.
// Tests use Fake() and drive time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	poller := newPoller(fake)
//	go poller.run(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(30 * time.Minute)
//
// WaitForTimers closes the race between a goroutine arming a timer and
// the test advancing past its deadline.
package clock
