// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable wall clock for the draining
// side of capture: the flush ticker and the session start stamp.
//
// Production code uses Real(). Tests use Fake(), which advances only
// when Advance is called:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	p := profiler.New(profiler.Options{Clock: c})
//	go p.Serve(ctx, w, nil)
//	c.WaitForTimers(1)                  // Serve has created its ticker
//	c.Advance(profiler.DefaultFlushInterval) // one drain
package clock
