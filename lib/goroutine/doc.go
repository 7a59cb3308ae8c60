// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package goroutine identifies the execution context that produced an
// event. Go schedules goroutines rather than exposing OS threads, so
// the stable per-context identity is the runtime's goroutine id: it is
// assigned once at goroutine creation, never changes, and is never
// reused within a process.
//
// Current costs a few nanoseconds, so the capture layer resolves it
// once per instrumented call rather than caching it anywhere.
package goroutine
