// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"log/slog"
	"strings"
	"testing"
)

// Logger returns a debug-level logger that writes each record through
// t.Log. Records emitted after the test finishes are discarded.
func Logger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&testWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testWriter struct {
	t testing.TB
}

func (writer *testWriter) Write(data []byte) (int, error) {
	if writer.t.Context().Err() == nil {
		writer.t.Log(strings.TrimSuffix(string(data), "\n"))
	}
	return len(data), nil
}
