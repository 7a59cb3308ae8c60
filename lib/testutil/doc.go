// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for tracecap packages.
//
// [RequireReceive] and [RequireClosed] bound every wait on a
// background goroutine with a timeout, so individual tests do not need
// their own timers. Capture
// sessions run on background goroutines, and a test that waits on one
// without a bound hangs the whole package run when the session wedges.
//
// [Logger] returns a slog.Logger that writes through t.Log, so session
// diagnostics appear next to the failing test instead of on stderr.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no tracecap-internal dependencies.
package testutil
